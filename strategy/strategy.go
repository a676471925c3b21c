// Package strategy implements the Execution-phase strategies the Supervisor
// dispatches a RoutingDecision to (spec §4.1 phase 3, §4.4): Delegated,
// Sequential, Parallel, Handoff, and Discussion. Shaped after the teacher's
// runtime/agent/engine.Engine abstraction — specifically its
// ExecuteActivityAsync/Future pairing for concurrent activity execution —
// generalized from engine-scheduled Temporal activities to direct in-process
// agentrunner.Runner.Run calls, since SPEC_FULL.md replaces the Temporal
// engine with an in-process one (see DESIGN.md).
package strategy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/relaymesh/supervisor/agentrunner"
	"github.com/relaymesh/supervisor/domain"
	"github.com/relaymesh/supervisor/event"
)

// Strategy executes a routed set of agents against their assigned subtasks
// and returns one Result per agent, in the order agentOrder specifies.
type Strategy interface {
	Execute(ctx context.Context, run Input) ([]agentrunner.Result, error)
}

// Input bundles everything a Strategy needs to run a round of agents.
type Input struct {
	Agents             []domain.AgentDescriptor // same order as Decision.Assigned
	Subtasks           []string                 // aligned with Agents
	ConversationPrefix string                   // spec §4.8 history injection, first turn only
	Events             chan<- event.Event
	GlobalAccum        *string
	Runner             *agentrunner.Runner

	// TolerateFailures, when true, makes Parallel apply spec §4.4's partial
	// failure policy (synthesize the successes, record the failures) instead
	// of aborting the whole round on the first agent error. Discussion passes
	// it on to the two Parallel rounds it runs. Delegated, Sequential and
	// Handoff ignore it and always abort per spec §4.4's stated default.
	TolerateFailures bool
}

// AgentOrder returns the agent names in the deterministic order Synthesis
// must read results back in (spec §4.4): the order they were assigned in,
// never the order in which they happened to finish. Strategy.Execute
// results are always returned in this same order, so callers can zip
// AgentOrder(in) with the returned []agentrunner.Result directly.
func AgentOrder(in Input) []string {
	names := make([]string, len(in.Agents))
	for i, a := range in.Agents {
		names[i] = a.Name
	}
	return names
}

func subtaskFor(in Input, i int) string {
	if i < len(in.Subtasks) {
		return in.Subtasks[i]
	}
	return ""
}

// Delegated runs exactly one agent. It is an error to route to Delegated
// with more than one assigned agent; the Reasoner façade's normalizeRouting
// rewrites that case to Parallel before Execution ever sees it.
type Delegated struct{}

func (Delegated) Execute(ctx context.Context, in Input) ([]agentrunner.Result, error) {
	if len(in.Agents) != 1 {
		return nil, fmt.Errorf("strategy: delegated mode requires exactly one agent, got %d", len(in.Agents))
	}
	result, err := in.Runner.Run(ctx, in.Agents[0], subtaskFor(in, 0), in.ConversationPrefix, in.Events, in.GlobalAccum)
	if err != nil {
		return nil, err
	}
	return []agentrunner.Result{result}, nil
}

// Sequential runs agents one at a time, in assignment order. Only the first
// agent receives the injected conversation prefix; later agents see only
// their own subtask, matching spec §4.8 ("first message of the run"). Per
// spec §4.4, "each agent receives the concatenation of prior agents' outputs
// as additional context" — carried forward the same way Handoff threads its
// single predecessor's output, generalized here to the whole accumulated
// chain rather than just the immediately prior agent.
type Sequential struct{}

func (Sequential) Execute(ctx context.Context, in Input) ([]agentrunner.Result, error) {
	results := make([]agentrunner.Result, 0, len(in.Agents))
	var priorOutputs strings.Builder
	for i, agent := range in.Agents {
		prefix := ""
		if i == 0 {
			prefix = in.ConversationPrefix
		}
		subtask := subtaskFor(in, i)
		if priorOutputs.Len() > 0 {
			subtask = fmt.Sprintf("Prior agents' output:\n%s\n\nYour task: %s", priorOutputs.String(), subtask)
		}
		result, err := in.Runner.Run(ctx, agent, subtask, prefix, in.Events, in.GlobalAccum)
		if err != nil {
			return nil, fmt.Errorf("strategy: sequential agent %q: %w", agent.Name, err)
		}
		results = append(results, result)
		fmt.Fprintf(&priorOutputs, "%s: %s\n\n", agent.Name, result.Text)
	}
	return results, nil
}

// Parallel runs every assigned agent concurrently and collects results back
// in assignment order regardless of completion order (spec §4.4's
// deterministic-synthesis-by-agentOrder invariant). Only the first agent in
// agentOrder receives the conversation prefix.
type Parallel struct{}

func (Parallel) Execute(ctx context.Context, in Input) ([]agentrunner.Result, error) {
	n := len(in.Agents)
	results := make([]agentrunner.Result, n)
	errs := make([]error, n)

	var mu sync.Mutex // serializes writes to *in.GlobalAccum across goroutines
	guardedAccum := in.GlobalAccum

	var wg sync.WaitGroup
	wg.Add(n)
	for i, agent := range in.Agents {
		i, agent := i, agent
		go func() {
			defer wg.Done()
			prefix := ""
			if i == 0 {
				prefix = in.ConversationPrefix
			}
			var local string
			result, err := in.Runner.Run(ctx, agent, subtaskFor(in, i), prefix, in.Events, &local)
			if guardedAccum != nil {
				mu.Lock()
				*guardedAccum += local
				mu.Unlock()
			}
			results[i] = result
			errs[i] = err
		}()
	}
	wg.Wait()

	if !in.TolerateFailures {
		for i, err := range errs {
			if err != nil {
				return nil, fmt.Errorf("strategy: parallel agent %q: %w", in.Agents[i].Name, err)
			}
		}
		return results, nil
	}

	// Partial failure policy (spec §4.4): tolerate individual agent
	// failures, surfacing them on Result.Err for the caller's synthesis step
	// to turn into a "missing" note. Only abort if every agent failed.
	succeeded := 0
	for i, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		results[i].AgentID = in.Agents[i].Name
		results[i].Subtask = subtaskFor(in, i)
		results[i].Err = err
	}
	if succeeded == 0 {
		return nil, fmt.Errorf("strategy: parallel: all %d agents failed: %w", n, errs[0])
	}
	return results, nil
}

// handoffTrailer matches a trailing `{"handoff_to": "name"}` marker an
// agent's output may carry to nominate a successor (SPEC_FULL.md §3's
// Handoff contract: depth-1 successor nomination, not an open-ended chain).
var handoffTrailer = regexp.MustCompile(`\s*\{\s*"handoff_to"\s*:\s*"([^"]+)"\s*\}\s*$`)

// Handoff runs exactly one agent. If that agent's output nominates a
// successor via a trailing {"handoff_to": "name"} marker, and the name
// resolves to one of the routed agents, the strategy re-dispatches once,
// non-recursively (depth 1), to that successor with the first agent's
// (trailer-stripped) output as context, framed by its own
// AGENT_STARTED/AGENT_COMPLETED pair. An agent that does not nominate a
// successor — the common case — behaves exactly like Delegated.
type Handoff struct{}

func (Handoff) Execute(ctx context.Context, in Input) ([]agentrunner.Result, error) {
	if len(in.Agents) == 0 {
		return nil, fmt.Errorf("strategy: handoff mode requires at least one agent")
	}
	first := in.Agents[0]
	result, err := in.Runner.Run(ctx, first, subtaskFor(in, 0), in.ConversationPrefix, in.Events, in.GlobalAccum)
	if err != nil {
		return nil, fmt.Errorf("strategy: handoff agent %q: %w", first.Name, err)
	}

	text, nominee := stripHandoffTrailer(result.Text)
	result.Text = text
	results := []agentrunner.Result{result}

	if nominee == "" {
		return results, nil
	}
	successor, ok := findAgent(in.Agents, nominee)
	if !ok {
		// Unknown or unconfigured nominee: the trailer doesn't validate
		// against the routed agents, so it's ignored rather than failing the
		// run — the depth-1 handoff simply doesn't happen.
		return results, nil
	}

	successorTask := subtaskFor(in, 1)
	if successorTask == "" {
		successorTask = subtaskFor(in, 0)
	}
	subtask := fmt.Sprintf("Prior agent output:\n%s\n\nYour task: %s", text, successorTask)
	successorResult, err := in.Runner.Run(ctx, successor, subtask, "", in.Events, in.GlobalAccum)
	if err != nil {
		return nil, fmt.Errorf("strategy: handoff successor %q: %w", successor.Name, err)
	}
	return append(results, successorResult), nil
}

// stripHandoffTrailer splits off a trailing {"handoff_to": "name"} marker
// from an agent's output, returning the marker-free text and the nominated
// name (empty if no marker is present).
func stripHandoffTrailer(text string) (string, string) {
	loc := handoffTrailer.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, ""
	}
	return text[:loc[0]], text[loc[2]:loc[3]]
}

func findAgent(agents []domain.AgentDescriptor, name string) (domain.AgentDescriptor, bool) {
	for _, a := range agents {
		if a.Name == name {
			return a, true
		}
	}
	return domain.AgentDescriptor{}, false
}

// Discussion runs every agent once in parallel on the same task (mirroring
// Parallel's fan-out), then a second round where every agent sees every
// other agent's first-round output before producing a final answer — a
// lightweight multi-agent debate round.
type Discussion struct{}

func (Discussion) Execute(ctx context.Context, in Input) ([]agentrunner.Result, error) {
	firstRound, err := (Parallel{}).Execute(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("strategy: discussion first round: %w", err)
	}

	n := len(in.Agents)
	secondSubtasks := make([]string, n)
	for i := range in.Agents {
		var peers string
		for j, r := range firstRound {
			if j == i {
				continue
			}
			peers += fmt.Sprintf("%s said: %s\n\n", in.Agents[j].Name, r.Text)
		}
		secondSubtasks[i] = fmt.Sprintf("%s\n\nOther agents' initial takes:\n%s\nGiven the above, give your final answer.", subtaskFor(in, i), peers)
	}

	secondRoundInput := in
	secondRoundInput.Subtasks = secondSubtasks
	secondRoundInput.ConversationPrefix = "" // already injected in the first round
	return (Parallel{}).Execute(ctx, secondRoundInput)
}

// New resolves a domain.Mode to its Strategy implementation.
func New(mode domain.Mode) (Strategy, error) {
	switch mode {
	case domain.ModeDelegated:
		return Delegated{}, nil
	case domain.ModeSequential:
		return Sequential{}, nil
	case domain.ModeParallel:
		return Parallel{}, nil
	case domain.ModeHandoff:
		return Handoff{}, nil
	case domain.ModeDiscussion:
		return Discussion{}, nil
	default:
		return nil, fmt.Errorf("strategy: unknown mode %q", mode)
	}
}
