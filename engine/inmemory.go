package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaymesh/supervisor/telemetry"
)

// InMemoryEngine runs every workflow as its own goroutine and every activity
// as a direct function call (synchronous) or its own goroutine (async, via
// ExecuteActivityAsync), with no durability: a process restart loses all
// in-flight workflow state, which is why the Supervisor binds checkpoints
// through session.Manager/checkpoint independently of this engine.
type InMemoryEngine struct {
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	mu         sync.Mutex
	workflows  map[string]WorkflowFunc
	activities map[string]ActivityFunc
}

// NewInMemoryEngine constructs an Engine with no registered workflows or
// activities.
func NewInMemoryEngine(logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) *InMemoryEngine {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &InMemoryEngine{
		logger:     logger,
		metrics:    metrics,
		tracer:     tracer,
		workflows:  make(map[string]WorkflowFunc),
		activities: make(map[string]ActivityFunc),
	}
}

func (e *InMemoryEngine) RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[def.Name]; exists {
		return fmt.Errorf("engine: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def.Handler
	return nil
}

func (e *InMemoryEngine) RegisterActivity(ctx context.Context, def ActivityDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.activities[def.Name]; exists {
		return fmt.Errorf("engine: activity %q already registered", def.Name)
	}
	e.activities[def.Name] = def.Handler
	return nil
}

func (e *InMemoryEngine) StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error) {
	e.mu.Lock()
	handler, ok := e.workflows[req.Workflow]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("engine: workflow %q not registered", req.Workflow)
	}

	runCtx, cancel := context.WithCancel(ctx)
	wctx := &workflowContext{
		ctx:       runCtx,
		id:        req.ID,
		runID:     req.ID,
		engine:    e,
		logger:    e.logger,
		metrics:   e.metrics,
		tracer:    e.tracer,
		signals:   make(map[string]*signalChannel),
	}

	h := &inMemoryHandle{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(h.done)
		result, err := handler(wctx, req.Input)
		h.mu.Lock()
		h.result, h.err = result, err
		h.mu.Unlock()
	}()
	return h, nil
}

func (e *InMemoryEngine) invoke(ctx context.Context, name string, input any) (any, error) {
	e.mu.Lock()
	handler, ok := e.activities[name]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("engine: activity %q not registered", name)
	}
	return handler(ctx, input)
}

type inMemoryHandle struct {
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	result any
	err    error
}

func (h *inMemoryHandle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *inMemoryHandle) Signal(ctx context.Context, name string, payload any) error {
	// Signals are delivered through WorkflowContext.SignalChannel, which the
	// workflow goroutine owns; a handle-level Signal has no channel to route
	// through in this in-process adapter since there's no separate signal
	// dispatch layer between StartWorkflow and the running goroutine.
	return fmt.Errorf("engine: signal delivery via WorkflowHandle is unsupported; deliver through the originating session.Manager instead")
}

func (h *inMemoryHandle) Cancel(ctx context.Context) error {
	h.cancel()
	return nil
}

type workflowContext struct {
	ctx     context.Context
	id      string
	runID   string
	engine  *InMemoryEngine
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	mu      sync.Mutex
	signals map[string]*signalChannel
}

func (w *workflowContext) Context() context.Context  { return w.ctx }
func (w *workflowContext) WorkflowID() string        { return w.id }
func (w *workflowContext) RunID() string             { return w.runID }
func (w *workflowContext) Logger() telemetry.Logger  { return w.logger }
func (w *workflowContext) Metrics() telemetry.Metrics { return w.metrics }
func (w *workflowContext) Tracer() telemetry.Tracer  { return w.tracer }
func (w *workflowContext) Now() time.Time            { return time.Now() }

func (w *workflowContext) ExecuteActivity(ctx context.Context, req ActivityRequest, result *any) error {
	out, err := w.engine.invoke(ctx, req.Name, req.Input)
	if err != nil {
		return err
	}
	if result != nil {
		*result = out
	}
	return nil
}

func (w *workflowContext) ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error) {
	f := &future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		result, err := w.engine.invoke(ctx, req.Name, req.Input)
		f.mu.Lock()
		f.result, f.err = result, err
		f.mu.Unlock()
	}()
	return f, nil
}

func (w *workflowContext) SignalChannel(name string) SignalChannel {
	w.mu.Lock()
	defer w.mu.Unlock()
	sc, ok := w.signals[name]
	if !ok {
		sc = &signalChannel{ch: make(chan any, 16)}
		w.signals[name] = sc
	}
	return sc
}

// Deliver pushes a signal payload into the named channel, for use by
// callers (e.g. session.Manager) that need to wake a blocked workflow
// goroutine. Not part of the Engine interface since delivery is a
// supervisor-internal concern, not something workflow code itself calls.
func (w *workflowContext) Deliver(name string, payload any) {
	sc := w.SignalChannel(name).(*signalChannel)
	select {
	case sc.ch <- payload:
	default:
	}
}

type signalChannel struct {
	ch chan any
}

func (s *signalChannel) Receive(ctx context.Context) (any, error) {
	select {
	case v := <-s.ch:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *signalChannel) ReceiveAsync() (any, bool) {
	select {
	case v := <-s.ch:
		return v, true
	default:
		return nil, false
	}
}

type future struct {
	done chan struct{}

	mu     sync.Mutex
	result any
	err    error
}

func (f *future) Get(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *future) IsReady() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
