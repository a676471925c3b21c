package supervisor

import (
	"fmt"
	"strings"

	"github.com/relaymesh/supervisor/agentrunner"
	"github.com/relaymesh/supervisor/domain"
)

// synthesize populates finalText/attribution from the last Execution round's
// results, per mode (spec §4.4). Delegated/Sequential/Handoff's final output
// literally IS one agent's text, so attribution is exact. Parallel/Discussion
// run a dedicated synthesis turn (spec §4.4's "lightweight synthesis step,
// same default agent"), so attribution there is a best-effort substring
// search: the synthesis agent may paraphrase rather than quote verbatim, in
// which case that contributor's span is simply omitted rather than guessed.
func (l *runLoop) synthesize() error {
	if len(l.lastResults) == 0 {
		return fmt.Errorf("supervisor: no execution results to synthesize")
	}
	switch l.decision.Mode {
	case domain.ModeDelegated:
		r := l.lastResults[0]
		l.finalText = r.Text
		l.attribution = map[string][]domain.Span{r.AgentID: {{Start: 0, End: len(r.Text)}}}
		return nil

	case domain.ModeSequential, domain.ModeHandoff:
		r := l.lastResults[len(l.lastResults)-1]
		l.finalText = r.Text
		l.attribution = map[string][]domain.Span{r.AgentID: {{Start: 0, End: len(r.Text)}}}
		return nil

	case domain.ModeParallel, domain.ModeDiscussion:
		return l.synthesizeParallel()

	default:
		return fmt.Errorf("supervisor: unknown mode %q for synthesis", l.decision.Mode)
	}
}

// synthesizeParallel combines every non-failed contribution, in agentOrder
// (never completion order, per spec §4.4's determinism invariant), into one
// final answer via the default/writer agent.
func (l *runLoop) synthesizeParallel() error {
	agent, err := l.s.defaultAgent()
	if err != nil {
		return err
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Combine the following agent contributions into one final answer for the task: %s\n\n", l.task.Text)

	var missing []string
	for _, name := range l.agentOrder {
		result := l.resultFor(name)
		if result == nil || result.Err != nil {
			missing = append(missing, name)
			continue
		}
		fmt.Fprintf(&prompt, "%s said:\n%s\n\n", name, result.Text)
	}
	if len(missing) > 0 {
		fmt.Fprintf(&prompt, "Note: the following agents produced no output and should be treated as missing: %s\n\n", strings.Join(missing, ", "))
	}
	prompt.WriteString("Write the single combined final answer now.")

	var accum string
	synth, err := l.s.runner.Run(l.ctx, agent, prompt.String(), "", l.events, &accum)
	if err != nil {
		return fmt.Errorf("synthesis agent turn: %w", err)
	}
	l.finalText = synth.Text

	l.attribution = make(map[string][]domain.Span)
	for _, name := range l.agentOrder {
		result := l.resultFor(name)
		if result == nil || result.Err != nil || result.Text == "" {
			continue
		}
		if idx := strings.Index(l.finalText, result.Text); idx >= 0 {
			l.attribution[name] = []domain.Span{{Start: idx, End: idx + len(result.Text)}}
		}
	}
	return nil
}

func (l *runLoop) resultFor(agentName string) *agentrunner.Result {
	for i := range l.lastResults {
		if l.lastResults[i].AgentID == agentName {
			return &l.lastResults[i]
		}
	}
	return nil
}
