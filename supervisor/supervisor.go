package supervisor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/relaymesh/supervisor/agentrunner"
	"github.com/relaymesh/supervisor/apierrors"
	"github.com/relaymesh/supervisor/checkpoint"
	"github.com/relaymesh/supervisor/config"
	"github.com/relaymesh/supervisor/convmemory"
	"github.com/relaymesh/supervisor/domain"
	"github.com/relaymesh/supervisor/engine"
	"github.com/relaymesh/supervisor/event"
	"github.com/relaymesh/supervisor/reasoner"
	"github.com/relaymesh/supervisor/routingcache"
	"github.com/relaymesh/supervisor/session"
	"github.com/relaymesh/supervisor/strategy"
	"github.com/relaymesh/supervisor/telemetry"
	"github.com/relaymesh/supervisor/toolreg"
)

// workflowName is the single workflow the Supervisor registers with the
// engine; one execution per run.
const workflowName = "supervisor_run"

// Supervisor drives the five-phase state machine for every run. A single
// Supervisor instance is shared across all runs in a process, mirroring the
// teacher's Runtime type (runtime/agent/runtime/*.go), which is likewise
// stateless across runs and holds only shared, read-mostly collaborators.
type Supervisor struct {
	agents      []domain.AgentDescriptor
	agentByName map[string]domain.AgentDescriptor

	reasoner    *reasoner.Facade
	registry    *toolreg.Registry
	cache       routingcache.Cache
	runner      *agentrunner.Runner
	convStore   convmemory.ConversationStore
	history     convmemory.HistorySink
	sessions    *session.Manager
	checkpoints checkpoint.Store
	eng         engine.Engine
	cfg         config.Config
	logger      telemetry.Logger
	metrics     telemetry.Metrics

	// routingConfigVersion is folded into the Routing Cache fingerprint (spec
	// §4.6) alongside the reasoner's own Version(), so changing either
	// invalidates stale cache entries without an explicit flush.
	routingConfigVersion string
}

// New constructs a Supervisor and registers its workflow handler with eng.
// checkpoints may be nil to disable checkpointing; convStore and history may
// be nil to disable conversation memory; a nil logger or metrics falls back
// to a no-op implementation. Every other argument is required.
func New(
	agents []domain.AgentDescriptor,
	r *reasoner.Facade,
	registry *toolreg.Registry,
	cache routingcache.Cache,
	runner *agentrunner.Runner,
	convStore convmemory.ConversationStore,
	history convmemory.HistorySink,
	sessions *session.Manager,
	checkpoints checkpoint.Store,
	eng engine.Engine,
	cfg config.Config,
	logger telemetry.Logger,
	metrics telemetry.Metrics,
	routingConfigVersion string,
) (*Supervisor, error) {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	byName := make(map[string]domain.AgentDescriptor, len(agents))
	for _, a := range agents {
		byName[a.Name] = a
	}
	s := &Supervisor{
		agents:      agents,
		agentByName: byName,
		reasoner:    r,
		registry:    registry,
		cache:       cache,
		runner:      runner,
		convStore:   convStore,
		history:     history,
		sessions:    sessions,
		checkpoints: checkpoints,
		eng:         eng,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,

		routingConfigVersion: routingConfigVersion,
	}
	if err := eng.RegisterWorkflow(context.Background(), engine.WorkflowDefinition{Name: workflowName, Handler: s.workflow}); err != nil {
		return nil, fmt.Errorf("supervisor: register workflow: %w", err)
	}
	return s, nil
}

// StartOptions carries the per-run knobs a client's start frame supplies
// (spec §6.1).
type StartOptions struct {
	ConversationID      string
	ReasoningEffort     string
	EnableCheckpointing bool

	// CheckpointID resumes a previously-saved run instead of starting fresh.
	// Mutually exclusive with a non-empty task text (spec §4.2).
	CheckpointID string
}

// runInput is what the registered workflow handler receives.
type runInput struct {
	run    *domain.Run
	task   domain.Task
	opts   StartOptions
	events chan event.Event
}

// Run starts a new run (or resumes one from a checkpoint when
// opts.CheckpointID is set) and returns its Run record plus a channel of
// StreamEvents ending in exactly one terminal event (spec §4.1's contract).
// The caller ranges over the channel until it closes.
func (s *Supervisor) Run(ctx context.Context, taskText string, opts StartOptions) (*domain.Run, <-chan event.Event, error) {
	if opts.CheckpointID != "" && strings.TrimSpace(taskText) != "" {
		return nil, nil, apierrors.Invalid("a start frame must not carry both message and checkpointId")
	}

	now := time.Now()

	if opts.CheckpointID != "" {
		return s.resume(ctx, opts, now)
	}

	task, err := domain.NewTask(taskText, s.cfg.MaxTaskLength, now)
	if err != nil {
		return nil, nil, apierrors.Invalid("%s", err.Error())
	}
	task.ConversationID = opts.ConversationID
	task.ReasoningEffort = opts.ReasoningEffort

	run, runCtx, _ := domain.NewRun(newRunID(), task, opts.ConversationID, now)
	return s.launch(ctx, runCtx, run, task, opts)
}

// resume reconstructs a Run from a previously saved checkpoint.Snapshot and
// re-enters the suspension point it was saved at (spec §5's HITL protocol:
// "resume reconstructs the pending requests and re-enters the suspension
// point").
func (s *Supervisor) resume(ctx context.Context, opts StartOptions, now time.Time) (*domain.Run, <-chan event.Event, error) {
	if s.checkpoints == nil {
		return nil, nil, apierrors.Invalid("checkpointing is not configured")
	}
	snap, err := s.checkpoints.Load(ctx, opts.CheckpointID)
	if err != nil {
		return nil, nil, apierrors.Wrap(apierrors.CodeInvalidInput, "unknown checkpoint", err)
	}

	run, runCtx, _ := domain.NewRun(snap.RunID, snap.Task, snap.ConversationID, now)
	run.CheckpointRef = opts.CheckpointID
	s.sessions.Create(ctx, run)
	run.SetStatus(domain.RunRunning)

	events := make(chan event.Event, 64)
	input := runInput{run: run, task: snap.Task, opts: opts, events: events}

	handle, err := s.eng.StartWorkflow(runCtx, engine.WorkflowStartRequest{ID: snap.RunID, Workflow: workflowName, Input: resumeInput{runInput: input, snapshot: snap}})
	if err != nil {
		close(events)
		return nil, nil, err
	}
	s.await(handle, events, run.ID)
	return run, events, nil
}

type resumeInput struct {
	runInput
	snapshot checkpoint.Snapshot
}

func (s *Supervisor) launch(ctx context.Context, runCtx context.Context, run *domain.Run, task domain.Task, opts StartOptions) (*domain.Run, <-chan event.Event, error) {
	s.sessions.Create(ctx, run)
	run.SetStatus(domain.RunRunning)

	events := make(chan event.Event, 64)
	input := runInput{run: run, task: task, opts: opts, events: events}

	handle, err := s.eng.StartWorkflow(runCtx, engine.WorkflowStartRequest{ID: run.ID, Workflow: workflowName, Input: input})
	if err != nil {
		close(events)
		return nil, nil, err
	}
	s.await(handle, events, run.ID)
	return run, events, nil
}

// await waits for the workflow to finish (on its own goroutine, spawned by
// the engine) and then closes events and forgets the run's session
// bookkeeping, so a caller that abandons the returned channel never leaks a
// Manager entry.
func (s *Supervisor) await(handle engine.WorkflowHandle, events chan event.Event, runID string) {
	go func() {
		defer close(events)
		defer s.sessions.Forget(runID)
		_, _ = handle.Wait(context.Background())
	}()
}

// newRunID returns a ULID-shaped run id: "run-", the current Unix time in
// milliseconds as 13 hex digits (so ids sort by creation time), then 20 hex
// digits of crypto/rand suffix.
func newRunID() string {
	var suffix [10]byte
	_, _ = rand.Read(suffix[:])
	return fmt.Sprintf("run-%013x%s", time.Now().UnixMilli(), hex.EncodeToString(suffix[:]))
}

// phase names, used both for OrchestratorMessage.Kind-adjacent logging and
// checkpoint.Snapshot.Phase.
const (
	phaseAnalysis  = "analysis"
	phaseRouting   = "routing"
	phaseExecution = "execution"
	phaseProgress  = "progress"
	phaseQuality   = "quality"
)

// workflow is the registered engine.WorkflowFunc: the five-phase run loop
// (spec §4.1), grounded on the teacher's workflowLoop.run() shape (a bounded
// for{} loop with a suspension-point check at the top of every iteration),
// narrowed here from Temporal's durable replay model to a single live
// goroutine with no replay.
func (s *Supervisor) workflow(wctx engine.WorkflowContext, raw any) (any, error) {
	ctx := wctx.Context()

	var in runInput
	var resumeFrom *checkpoint.Snapshot
	switch v := raw.(type) {
	case runInput:
		in = v
	case resumeInput:
		in = v.runInput
		resumeFrom = &v.snapshot
	default:
		return nil, fmt.Errorf("supervisor: unexpected workflow input type %T", raw)
	}

	l := &runLoop{
		s:     s,
		ctx:   ctx,
		run:   in.run,
		task:  in.task,
		opts:  in.opts,
		events: in.events,
	}
	if resumeFrom != nil {
		l.resumeFrom(*resumeFrom)
	}
	return l.run()
}

// agentsFor resolves decision.Assigned against the configured agent set, in
// assignment order, so strategy.Input.Agents lines up 1:1 with
// decision.Subtasks.
func (s *Supervisor) agentsFor(decision domain.RoutingDecision) ([]domain.AgentDescriptor, error) {
	out := make([]domain.AgentDescriptor, 0, len(decision.Assigned))
	for _, name := range decision.Assigned {
		a, ok := s.agentByName[name]
		if !ok {
			return nil, fmt.Errorf("supervisor: routing assigned unknown agent %q", name)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Supervisor) defaultAgent() (domain.AgentDescriptor, error) {
	name := s.cfg.DefaultAgent
	if name == "" {
		name = "writer"
	}
	a, ok := s.agentByName[name]
	if !ok {
		return domain.AgentDescriptor{}, fmt.Errorf("supervisor: default agent %q is not configured", name)
	}
	return a, nil
}

func (s *Supervisor) toolUniverse() []string {
	return s.registry.Names()
}

func (s *Supervisor) strategyFor(mode domain.Mode) (strategy.Strategy, error) {
	return strategy.New(mode)
}
