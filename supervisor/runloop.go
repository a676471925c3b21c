package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/supervisor/agentrunner"
	"github.com/relaymesh/supervisor/apierrors"
	"github.com/relaymesh/supervisor/checkpoint"
	"github.com/relaymesh/supervisor/convmemory"
	"github.com/relaymesh/supervisor/domain"
	"github.com/relaymesh/supervisor/event"
	"github.com/relaymesh/supervisor/routingcache"
	"github.com/relaymesh/supervisor/strategy"
)

// runLoop owns one run's mutable phase-loop state. It is created fresh per
// workflow execution and never shared across runs, matching the teacher's
// workflowLoop (runtime/agent/runtime/workflow_loop.go): an immutable handle
// to shared collaborators (s) plus run-scoped state mutated in place as the
// loop advances.
type runLoop struct {
	s      *Supervisor
	ctx    context.Context
	run    *domain.Run
	task   domain.Task
	opts   StartOptions
	events chan event.Event

	conversationPrefix string
	reasoningTrace     string

	round            int
	refinementRounds int

	analysis     domain.TaskAnalysis
	decision     domain.RoutingDecision
	routedAgents []domain.AgentDescriptor
	agentOrder   []string

	outputs     map[string]string
	lastResults []agentrunner.Result

	finalText   string
	attribution map[string][]domain.Span

	durations event.Durations
	started   time.Time

	resuming   bool
	resumePhase string
	pending    *checkpoint.PendingRequestSnapshot
}

// resumeFrom seeds a runLoop's state from a previously saved checkpoint
// (spec §5: "resume reconstructs the pending requests and re-enters the
// suspension point").
func (l *runLoop) resumeFrom(snap checkpoint.Snapshot) {
	l.resuming = true
	l.resumePhase = snap.Phase
	l.analysis = snap.Analysis
	l.decision = snap.Decision
	l.outputs = snap.Outputs
	l.round = snap.Round
	l.pending = snap.Pending
}

func (l *runLoop) run() (any, error) {
	l.started = time.Now()
	if l.outputs == nil {
		l.outputs = make(map[string]string)
	}
	defer func() { l.durations.Total = time.Since(l.started) }()

	prefix, priorAssistant, err := l.loadHistory()
	if err != nil {
		return nil, l.fail(apierrors.Wrap(apierrors.CodeInternal, "load conversation history", err), "")
	}
	l.conversationPrefix = prefix

	if l.checkCancelled() {
		return nil, l.terminalCancelled("")
	}

	phase := phaseAnalysis
	switch {
	case l.resuming:
		phase = l.resumePhase
		if phase == "" {
			phase = phaseExecution
		}
		if l.decision.Mode != "" {
			if err := l.setAgentOrder(); err != nil {
				return nil, l.fail(apierrors.Wrap(apierrors.CodeInternal, "resolve resumed routing", err), phase)
			}
		}
	case !priorAssistant && l.opts.CheckpointID == "" && IsTrivial(l.task.Text):
		return l.runFastPath()
	}

	maxRounds := l.s.cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 15
	}
	maxRefine := l.s.cfg.MaxRefinementRounds
	if maxRefine <= 0 {
		maxRefine = 1
	}

	rounds := 0
	for rounds < maxRounds {
		if l.checkCancelled() {
			return nil, l.terminalCancelled(phase)
		}

		switch phase {
		case phaseAnalysis:
			rounds++
			if err := l.runAnalysis(); err != nil {
				return nil, l.fail(err, phaseAnalysis)
			}
			phase = phaseRouting

		case phaseRouting:
			if err := l.runRouting(); err != nil {
				return nil, l.fail(err, phaseRouting)
			}
			if err := l.maybeCheckpoint(phaseExecution); err != nil {
				l.s.logger.Warn(l.ctx, "checkpoint save failed", "error", err.Error())
			}
			phase = phaseExecution

		case phaseExecution:
			if err := l.resolveApprovals(); err != nil {
				if errors.Is(err, context.Canceled) || l.ctx.Err() != nil {
					return nil, l.terminalCancelled(phaseExecution)
				}
				return nil, l.fail(apierrors.Wrap(apierrors.CodeInternal, "hitl wait", err), phaseExecution)
			}
			if err := l.runExecution(); err != nil {
				if l.ctx.Err() != nil {
					return nil, l.terminalCancelled(phaseExecution)
				}
				return nil, l.fail(apierrors.Wrap(apierrors.CodeAgentFailure, "execution", err), phaseExecution)
			}
			phase = phaseProgress

		case phaseProgress:
			verdict, err := l.runProgress()
			if err != nil {
				return nil, l.fail(err, phaseProgress)
			}
			switch verdict.Status {
			case domain.ProgressRefine:
				if l.s.cfg.EnableRefinement && l.refinementRounds < maxRefine {
					l.refinementRounds++
					l.applyRefinement(verdict)
					phase = phaseExecution
					continue
				}
				phase = phaseQuality
			case domain.ProgressContinue:
				rounds++
				if rounds < maxRounds {
					phase = phaseRouting
					continue
				}
				phase = phaseQuality
			default:
				phase = phaseQuality
			}

		case phaseQuality:
			return l.runQuality()

		default:
			return nil, l.fail(fmt.Errorf("supervisor: unknown phase %q", phase), phase)
		}
	}
	return l.runQuality()
}

func (l *runLoop) checkCancelled() bool {
	select {
	case <-l.ctx.Done():
		return true
	default:
		return l.run.StatusSnapshot() == domain.RunCancelled
	}
}

func (l *runLoop) emit(e event.Event) {
	// Prefer delivery whenever the buffer has room, so the terminal event
	// after a cancellation is not dropped by select's random choice.
	select {
	case l.events <- e:
		return
	default:
	}
	select {
	case l.events <- e:
	case <-l.ctx.Done():
	}
}

func (l *runLoop) terminalCancelled(phase string) error {
	l.run.SetStatus(domain.RunCancelled)
	l.emit(event.Error{
		Envelope_: event.New(event.TypeError, event.CategoryTerminal, "error", time.Now()),
		Code:      string(apierrors.CodeCancelled),
		Message:   "run cancelled",
		Phase:     phase,
	})
	return fmt.Errorf("supervisor: %w", context.Canceled)
}

func (l *runLoop) fail(err error, phase string) error {
	code := apierrors.CodeOf(err)
	msg := err.Error()
	if apiErr, ok := apierrors.As(err); ok {
		msg = apiErr.Message
	}
	l.run.SetStatus(domain.RunFailed)
	l.emit(event.Error{
		Envelope_: event.New(event.TypeError, event.CategoryTerminal, "error", time.Now()),
		Code:      string(code),
		Message:   msg,
		Phase:     phase,
	})
	return err
}

func (l *runLoop) succeed(quality *event.QualityPayload) (any, error) {
	l.run.SetStatus(domain.RunSucceeded)
	result := &domain.FinalResult{Text: l.finalText, AgentAttribution: l.attribution}
	l.run.FinalResult = result
	l.emit(event.WorkflowOutput{
		Envelope_: event.New(event.TypeWorkflowOutput, event.CategoryTerminal, "workflow_output", time.Now()),
		Result:    l.finalText,
		Quality:   quality,
		RunID:     l.run.ID,
		Durations: l.durations,
	})
	return result, nil
}

func (l *runLoop) runFastPath() (any, error) {
	agent, err := l.s.defaultAgent()
	if err != nil {
		return nil, l.fail(apierrors.Wrap(apierrors.CodeInternal, "fast path", err), phaseExecution)
	}
	start := time.Now()
	var accum string
	result, err := l.s.runner.Run(l.ctx, agent, l.task.Text, l.conversationPrefix, l.events, &accum)
	l.durations.Execution += time.Since(start)
	if err != nil {
		if l.ctx.Err() != nil {
			return nil, l.terminalCancelled(phaseExecution)
		}
		return nil, l.fail(apierrors.Wrap(apierrors.CodeAgentFailure, "fast path agent turn", err), phaseExecution)
	}
	l.finalText = result.Text
	l.attribution = map[string][]domain.Span{agent.Name: {{Start: 0, End: len(result.Text)}}}
	l.persistTurn()
	return l.succeed(nil)
}

func (l *runLoop) runAnalysis() error {
	start := time.Now()
	l.emit(event.OrchestratorMessage{
		Envelope_: event.New(event.TypeOrchestratorMessage, event.CategoryNarration, "analysis", time.Now()),
		Kind:      event.KindAnalysis,
		Status:    event.StatusStarted,
	})
	analysis, usedFallback := l.s.reasoner.AnalyzeTask(l.ctx, l.task)
	l.analysis = analysis
	status := event.StatusCompleted
	if usedFallback {
		status = event.StatusFallback
	}
	l.emit(event.OrchestratorMessage{
		Envelope_: event.New(event.TypeOrchestratorMessage, event.CategoryNarration, "analysis", time.Now()),
		Kind:      event.KindAnalysis,
		Status:    status,
		Data:      analysis,
	})
	l.durations.Analysis += time.Since(start)
	return nil
}

func (l *runLoop) runRouting() error {
	start := time.Now()
	fp := routingcache.Fingerprint(l.task.Text, l.s.toolUniverse(), l.s.reasoner.Version(), l.s.routingConfigVersion)

	if decision, ok, err := l.s.cache.Get(l.ctx, fp); err == nil && ok {
		l.decision = decision
		l.emit(event.OrchestratorMessage{
			Envelope_: event.New(event.TypeOrchestratorMessage, event.CategoryNarration, "routing", time.Now()),
			Kind:      event.KindRouting,
			Status:    event.StatusCached,
			Data:      decision,
		})
		l.durations.Routing += time.Since(start)
		return l.setAgentOrder()
	}

	l.emit(event.OrchestratorMessage{
		Envelope_: event.New(event.TypeOrchestratorMessage, event.CategoryNarration, "routing", time.Now()),
		Kind:      event.KindRouting,
		Status:    event.StatusStarted,
	})
	decision, usedFallback := l.s.reasoner.RouteTask(l.ctx, l.task, l.analysis, l.s.agents)
	if !usedFallback {
		ttl := l.s.cfg.RoutingCacheTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		if err := l.s.cache.Put(l.ctx, fp, decision, ttl); err != nil {
			l.s.logger.Warn(l.ctx, "routing cache put failed", "error", err.Error())
		}
	}
	l.decision = decision
	status := event.StatusCompleted
	if usedFallback {
		status = event.StatusFallback
	}
	l.emit(event.OrchestratorMessage{
		Envelope_: event.New(event.TypeOrchestratorMessage, event.CategoryNarration, "routing", time.Now()),
		Kind:      event.KindRouting,
		Status:    status,
		Data:      decision,
	})
	l.durations.Routing += time.Since(start)
	return l.setAgentOrder()
}

func (l *runLoop) setAgentOrder() error {
	agents, err := l.s.agentsFor(l.decision)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeInternal, "resolve routed agents", err)
	}
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name
	}
	l.routedAgents = agents
	l.agentOrder = names
	return nil
}

// resolveApprovals implements the HITL protocol (spec §5): if any assigned
// agent's required tools are tagged with the "requires_approval" capability,
// the loop emits a REQUEST, checkpoints (if enabled), and blocks on the
// Session Manager's pending-request future until a client responds or the
// run is cancelled.
func (l *runLoop) resolveApprovals() error {
	if l.pending != nil {
		return l.awaitPending(l.pending.RequestID, l.pending.Kind, nil)
	}

	gated := l.gatedTools()
	if len(gated) == 0 {
		return nil
	}
	reqID := uuid.NewString()
	l.emit(event.OrchestratorMessage{
		Envelope_: event.New(event.TypeOrchestratorMessage, event.CategoryHITL, "request", time.Now()),
		Kind:      event.KindRequest,
		Status:    event.StatusStarted,
	})
	l.emit(event.Request{
		Envelope_: event.New(event.TypeRequest, event.CategoryHITL, "request", time.Now()),
		RequestID: reqID,
		Kind:      "tool_approval",
		Payload:   gated,
	})
	l.pending = &checkpoint.PendingRequestSnapshot{RequestID: reqID, Kind: "tool_approval"}
	if err := l.maybeCheckpoint(phaseExecution); err != nil {
		l.s.logger.Warn(l.ctx, "checkpoint save at hitl boundary failed", "error", err.Error())
	}
	return l.awaitPending(reqID, "tool_approval", gated)
}

func (l *runLoop) gatedTools() []string {
	var gated []string
	seen := make(map[string]bool)
	for _, name := range l.agentOrder {
		for _, tool := range l.decision.ToolRequirements[name] {
			d, ok := l.s.registry.Resolve(tool)
			if !ok || seen[d.Name] {
				continue
			}
			for _, c := range d.Capabilities {
				if c == "requires_approval" {
					gated = append(gated, d.Name)
					seen[d.Name] = true
				}
			}
		}
	}
	return gated
}

func (l *runLoop) awaitPending(requestID, kind string, payload any) error {
	pending := l.s.sessions.RegisterPending(l.run.ID, requestID, kind, payload)
	resp, err := pending.Wait(l.ctx)
	if err != nil {
		return err
	}
	l.pending = nil
	if resp.Cancelled {
		return context.Canceled
	}
	l.run.SetStatus(domain.RunRunning)
	return nil
}

func (l *runLoop) runExecution() error {
	start := time.Now()
	strat, err := l.s.strategyFor(l.decision.Mode)
	if err != nil {
		return err
	}

	prefix := l.conversationPrefix
	if l.round > 0 {
		prefix = "" // conversation history is injected only on a run's first agent turn (spec §4.8)
	}

	var accum string
	in := strategy.Input{
		Agents:             l.routedAgents,
		Subtasks:           l.decision.Subtasks,
		ConversationPrefix: prefix,
		Events:             l.events,
		GlobalAccum:        &accum,
		Runner:             l.s.runner,
		TolerateFailures:   l.decision.Mode == domain.ModeParallel || l.decision.Mode == domain.ModeDiscussion,
	}
	l.round++

	results, err := strat.Execute(l.ctx, in)
	if err != nil {
		return err
	}
	l.lastResults = results
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		l.outputs[r.AgentID] = r.Text
	}
	l.durations.Execution += time.Since(start)
	return nil
}

func (l *runLoop) runProgress() (domain.ProgressVerdict, error) {
	start := time.Now()
	verdict, usedFallback := l.s.reasoner.EvaluateProgress(l.ctx, l.task, l.outputs)
	status := event.StatusCompleted
	if usedFallback {
		status = event.StatusFallback
	}
	l.emit(event.OrchestratorMessage{
		Envelope_: event.New(event.TypeOrchestratorMessage, event.CategoryNarration, "progress", time.Now()),
		Kind:      event.KindProgress,
		Status:    status,
		Data:      verdict,
	})
	l.durations.Progress += time.Since(start)
	return verdict, nil
}

func (l *runLoop) applyRefinement(verdict domain.ProgressVerdict) {
	focus := verdict.NextFocus
	if focus == "" && len(verdict.Missing) > 0 {
		focus = "address the following gaps: " + strings.Join(verdict.Missing, "; ")
	}
	if focus == "" {
		return
	}
	refined := make([]string, len(l.routedAgents))
	for i := range l.routedAgents {
		refined[i] = l.decision.SubtaskFor(i, l.task.Text) + "\n\nRefinement focus: " + focus
	}
	l.decision.Subtasks = refined
}

func (l *runLoop) runQuality() (any, error) {
	if err := l.synthesize(); err != nil {
		return nil, l.fail(apierrors.Wrap(apierrors.CodeInternal, "synthesis", err), phaseQuality)
	}

	start := time.Now()
	l.emit(event.OrchestratorMessage{
		Envelope_: event.New(event.TypeOrchestratorMessage, event.CategoryNarration, "quality", time.Now()),
		Kind:      event.KindQuality,
		Status:    event.StatusStarted,
	})
	verdict, usedFallback := l.s.reasoner.AssessQuality(l.ctx, l.task, l.finalText)
	status := event.StatusCompleted
	if usedFallback {
		status = event.StatusFallback
	}
	payload := event.QualityPayload{Score: verdict.Score, Missing: verdict.Missing, Feedback: verdict.Feedback, Dimensions: verdict.Dimensions}
	l.emit(event.OrchestratorMessage{
		Envelope_: event.New(event.TypeOrchestratorMessage, event.CategoryNarration, "quality", time.Now()),
		Kind:      event.KindQuality,
		Status:    status,
		Data:      verdict,
	})
	l.emit(event.Quality{
		Envelope_:      event.New(event.TypeQuality, event.CategoryLifecycle, "quality", time.Now()),
		QualityPayload: payload,
	})
	l.durations.Quality += time.Since(start)

	if l.reasoningTrace != "" {
		l.emit(event.ReasoningCompleted{
			Envelope_: event.New(event.TypeReasoningCompleted, event.CategoryNarration, "reasoning_completed", time.Now()),
			Reasoning: l.reasoningTrace,
		})
	}

	l.persistTurn()
	return l.succeed(&payload)
}

func (l *runLoop) loadHistory() (string, bool, error) {
	if l.s.convStore == nil || l.task.ConversationID == "" {
		return "", false, nil
	}
	limit := l.s.cfg.ConversationHistoryLimit
	if limit <= 0 {
		limit = convmemory.DefaultHistoryLimit
	}
	messages, err := l.s.convStore.RecentMessages(l.ctx, l.task.ConversationID, limit)
	if err != nil {
		return "", false, fmt.Errorf("supervisor: load conversation history: %w", err)
	}
	return convmemory.BuildHistoryPrefix(messages), convmemory.HasPriorAssistantMessage(messages), nil
}

// persistTurn records the user side of this turn via RecordTurn and the
// assistant side via HistorySink.RecordAssistantMessage — two separate
// calls, each appending exactly one message, even when convStore and
// history are the same backing store (the common wiring, see
// cmd/supervisord/serve.go). RecordTurn deliberately does not also append
// the assistant message; doing both here would persist the assistant turn
// twice and corrupt the next turn's history prefix (spec §4.7/§9 scenario 2).
func (l *runLoop) persistTurn() {
	if l.task.ConversationID == "" {
		return
	}
	now := time.Now()
	if l.s.convStore != nil {
		if err := convmemory.RecordTurn(l.ctx, l.s.convStore, l.task.ConversationID, l.task.Text, now); err != nil {
			l.s.logger.Warn(l.ctx, "persist conversation turn failed", "error", err.Error())
		}
	}
	if l.s.history != nil {
		assistant := domain.Message{Role: domain.RoleAssistant, Content: l.finalText, Reasoning: l.reasoningTrace, CreatedAt: now}
		if err := l.s.history.RecordAssistantMessage(l.ctx, l.task.ConversationID, assistant); err != nil {
			l.s.logger.Warn(l.ctx, "record assistant message failed", "error", err.Error())
		}
	}
}

func (l *runLoop) maybeCheckpoint(phase string) error {
	if !l.opts.EnableCheckpointing || l.s.checkpoints == nil {
		return nil
	}
	snap := checkpoint.Snapshot{
		RunID:          l.run.ID,
		Task:           l.task,
		ConversationID: l.task.ConversationID,
		Phase:          phase,
		Analysis:       l.analysis,
		Decision:       l.decision,
		Outputs:        l.outputs,
		Round:          l.round,
		Pending:        l.pending,
		CreatedAt:      time.Now(),
	}
	ref, err := l.s.checkpoints.Save(l.ctx, snap)
	if err != nil {
		return err
	}
	return l.s.sessions.BindCheckpoint(l.run.ID, ref)
}
