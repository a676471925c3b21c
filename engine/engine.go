// Package engine defines the workflow-engine abstraction the Supervisor's
// phase loop runs on top of, and ships a single in-process implementation.
// Strategies and agent turns are called directly from inside that workflow,
// not as engine activities. It is a direct
// generalization of the teacher's runtime/agent/engine package: the same
// Engine/WorkflowContext/Future/SignalChannel interface shapes, with the
// Temporal-backed adapter the teacher ships alongside it dropped (see
// DESIGN.md) in favor of one goroutine-and-channel-driven InMemoryEngine,
// since SPEC_FULL.md runs everything in a single process with no durable
// workflow history to replay.
package engine

import (
	"context"
	"time"

	"github.com/relaymesh/supervisor/telemetry"
)

type (
	// Engine abstracts workflow registration and execution. The Supervisor
	// registers exactly one workflow definition (the five-phase run loop)
	// and no activities, then starts one workflow execution per run.
	Engine interface {
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error
		RegisterActivity(ctx context.Context, def ActivityDefinition) error
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name.
	WorkflowDefinition struct {
		Name    string
		Handler WorkflowFunc
	}

	// WorkflowFunc is the run loop entry point. It receives a WorkflowContext
	// and arbitrary input, returning a result or error.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to a running workflow.
	// Unlike the teacher's Temporal-backed variant, implementations here
	// need not preserve deterministic-replay semantics — there is no replay,
	// only a single live goroutine per run — but the interface shape is kept
	// identical so a durable backend could be substituted without touching
	// the Supervisor.
	WorkflowContext interface {
		Context() context.Context
		WorkflowID() string
		RunID() string
		ExecuteActivity(ctx context.Context, req ActivityRequest, result *any) error
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)
		SignalChannel(name string) SignalChannel
		Logger() telemetry.Logger
		Metrics() telemetry.Metrics
		Tracer() telemetry.Tracer
		Now() time.Time
	}

	// Future represents a pending activity result. Get may be called more
	// than once and always returns the same result/error.
	Future interface {
		Get(ctx context.Context) (any, error)
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
	}

	// ActivityFunc performs a side-effecting step (an LLM call, a tool
	// invocation) and returns its result.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// WorkflowStartRequest describes how to launch one workflow execution.
	WorkflowStartRequest struct {
		ID       string
		Workflow string
		Input    any
	}

	// ActivityRequest names a registered activity and its input.
	ActivityRequest struct {
		Name  string
		Input any
	}

	// WorkflowHandle lets callers interact with a running workflow.
	WorkflowHandle interface {
		Wait(ctx context.Context) (any, error)
		Signal(ctx context.Context, name string, payload any) error
		Cancel(ctx context.Context) error
	}

	// SignalChannel exposes signal delivery to workflow code in an
	// engine-agnostic way, wrapping an in-process Go channel here.
	SignalChannel interface {
		Receive(ctx context.Context) (any, error)
		ReceiveAsync() (any, bool)
	}
)

// Common signal names, mirroring the teacher's interrupt.Controller
// constants (spec §4.2's pause/resume/HITL vocabulary).
const (
	SignalPause    = "pause"
	SignalResume   = "resume"
	SignalRespond  = "respond"
	SignalCancel   = "cancel"
)
