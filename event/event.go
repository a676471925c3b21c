// Package event defines the closed set of stream events the Supervisor
// emits (spec §6.2). Every event shares {Type, Timestamp, Category, UIHint}
// plus type-specific fields. The set is closed: transports and the Event
// Mapper switch exhaustively over Type and must never encounter an unknown
// value, matching the teacher's hooks.Event sealed-interface style
// (runtime/agent/hooks/events.go).
package event

import "time"

// Type enumerates the closed set of stream event kinds.
type Type string

const (
	TypeWorkflowStatus       Type = "WORKFLOW_STATUS"
	TypeOrchestratorMessage  Type = "ORCHESTRATOR_MESSAGE"
	TypeReasoningCompleted   Type = "REASONING_COMPLETED"
	TypeAgentStarted         Type = "AGENT_STARTED"
	TypeAgentCompleted       Type = "AGENT_COMPLETED"
	TypeAgentDelta           Type = "AGENT_DELTA"
	TypeToolCall             Type = "TOOL_CALL"
	TypeQuality              Type = "QUALITY"
	TypeRequest              Type = "REQUEST"
	TypeWorkflowOutput       Type = "WORKFLOW_OUTPUT"
	TypeError                Type = "ERROR"
)

// Category buckets events for UI routing hints (narration vs. data vs.
// terminal), independent of Type.
type Category string

const (
	CategoryLifecycle  Category = "lifecycle"
	CategoryNarration  Category = "narration"
	CategoryAgentTurn  Category = "agent_turn"
	CategoryToolUse    Category = "tool_use"
	CategoryTerminal   Category = "terminal"
	CategoryHITL       Category = "hitl"
)

// Envelope carries the fields every event shares. Concrete event structs
// embed it.
type Envelope struct {
	Type      Type
	Timestamp time.Time
	Category  Category
	UIHint    string
}

// Event is the sealed interface implemented by every concrete event struct
// below. sealed is unexported so no package outside event can add new
// variants — the union really is closed, matching spec §6.2.
type Event interface {
	sealed()
	Envelope() Envelope
}

func (e WorkflowStatus) sealed()      {}
func (e OrchestratorMessage) sealed() {}
func (e ReasoningCompleted) sealed()  {}
func (e AgentStarted) sealed()        {}
func (e AgentCompleted) sealed()      {}
func (e AgentDelta) sealed()          {}
func (e ToolCall) sealed()            {}
func (e Quality) sealed()             {}
func (e Request) sealed()             {}
func (e WorkflowOutput) sealed()      {}
func (e Error) sealed()               {}

func (e WorkflowStatus) Envelope() Envelope      { return e.Envelope_ }
func (e OrchestratorMessage) Envelope() Envelope { return e.Envelope_ }
func (e ReasoningCompleted) Envelope() Envelope  { return e.Envelope_ }
func (e AgentStarted) Envelope() Envelope        { return e.Envelope_ }
func (e AgentCompleted) Envelope() Envelope      { return e.Envelope_ }
func (e AgentDelta) Envelope() Envelope          { return e.Envelope_ }
func (e ToolCall) Envelope() Envelope            { return e.Envelope_ }
func (e Quality) Envelope() Envelope             { return e.Envelope_ }
func (e Request) Envelope() Envelope             { return e.Envelope_ }
func (e WorkflowOutput) Envelope() Envelope      { return e.Envelope_ }
func (e Error) Envelope() Envelope               { return e.Envelope_ }

// WorkflowState enumerates WorkflowStatus.State values.
type WorkflowState string

const (
	WorkflowInProgress WorkflowState = "IN_PROGRESS"
	WorkflowFailed     WorkflowState = "FAILED"
)

// WorkflowStatus reports lifecycle milestones not tied to a specific phase.
type WorkflowStatus struct {
	Envelope_  Envelope
	State      WorkflowState
	WorkflowID string
	Message    string
}

// OrchestratorKind enumerates OrchestratorMessage.Kind values.
type OrchestratorKind string

const (
	KindAnalysis OrchestratorKind = "analysis"
	KindRouting  OrchestratorKind = "routing"
	KindProgress OrchestratorKind = "progress"
	KindQuality  OrchestratorKind = "quality"
	KindRequest  OrchestratorKind = "request"
)

// PhaseStatus enumerates OrchestratorMessage.Status values.
type PhaseStatus string

const (
	StatusStarted   PhaseStatus = "started"
	StatusCompleted PhaseStatus = "completed"
	StatusFallback  PhaseStatus = "fallback"
	StatusCached    PhaseStatus = "cached"
)

// OrchestratorMessage narrates a phase transition.
type OrchestratorMessage struct {
	Envelope_ Envelope
	Kind      OrchestratorKind
	Status    PhaseStatus
	Data      any
}

// ReasoningCompleted carries the final reasoning trace for a run, emitted at
// most once.
type ReasoningCompleted struct {
	Envelope_ Envelope
	Reasoning string
	AgentID   string
}

// AgentStarted frames the beginning of one agent turn.
type AgentStarted struct {
	Envelope_ Envelope
	AgentID   string
	Subtask   string
}

// AgentCompleted frames the end of one agent turn.
type AgentCompleted struct {
	Envelope_ Envelope
	AgentID   string
	Subtask   string
	Duration  time.Duration
}

// AgentDelta streams one text chunk for an agent turn.
type AgentDelta struct {
	Envelope_       Envelope
	AgentID         string
	Delta           string
	Accumulated     string // global across all agents in the run
	AgentAccumulated string // per-agent
}

// ToolCall reports one completed tool invocation.
type ToolCall struct {
	Envelope_     Envelope
	AgentID       string
	ToolName      string
	Input         any
	OutputSummary string
	DurationMs    int64
}

// QualityPayload is the QualityVerdict rendered as an event payload.
type QualityPayload struct {
	Score      float64
	Missing    []string
	Feedback   string
	Dimensions map[string]float64
}

// Quality carries the Quality phase's verdict.
type Quality struct {
	Envelope_ Envelope
	QualityPayload
}

// Request is a HITL request awaiting a client response.
type Request struct {
	Envelope_ Envelope
	RequestID string
	Kind      string
	Payload   any
}

// Durations breaks down wall-clock time spent per phase plus the total.
type Durations struct {
	Analysis  time.Duration
	Routing   time.Duration
	Execution time.Duration
	Progress  time.Duration
	Quality   time.Duration
	Total     time.Duration
}

// WorkflowOutput is the terminal success event.
type WorkflowOutput struct {
	Envelope_ Envelope
	Result    string
	Quality   *QualityPayload
	RunID     string
	Durations Durations
}

// Error is the terminal failure event (including cancellation, which uses
// Code="cancelled").
type Error struct {
	Envelope_ Envelope
	Code      string
	Message   string
	Phase     string
}

// New builds the shared Envelope for a new event of the given type/category,
// stamping Timestamp with now (callers pass time.Now() explicitly so event
// construction stays pure/testable).
func New(typ Type, category Category, uiHint string, now time.Time) Envelope {
	return Envelope{Type: typ, Timestamp: now, Category: category, UIHint: uiHint}
}
