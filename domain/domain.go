// Package domain holds the shared data model types from spec §3: Task,
// Message, Conversation, AgentDescriptor, the Reasoner's typed verdicts, and
// Run. These types are depended on by nearly every other package (reasoner,
// routingcache, strategy, supervisor, session, convmemory) so they live
// independently instead of being owned by any single consumer, the way the
// teacher's planner and model packages hold shared message/tool types
// depended on by runtime, policy, and hooks alike.
package domain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MaxTaskLength is the default length bound for Task.Text (spec §3); callers
// should prefer config.Config.MaxTaskLength, this is only the zero-value
// fallback used by NewTask when no explicit limit is supplied.
const MaxTaskLength = 10000

// Task is immutable per run.
type Task struct {
	Text            string
	SubmittedAt     time.Time
	ConversationID  string
	ReasoningEffort string
	Metadata        map[string]any
}

// NewTask validates and constructs a Task. Text is trimmed; empty or
// oversized (after trimming) text fails with an *apierrors.Error-compatible
// message (callers wrap with apierrors.Invalid).
func NewTask(text string, maxLen int, now time.Time) (Task, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Task{}, fmt.Errorf("task text must not be empty")
	}
	if maxLen <= 0 {
		maxLen = MaxTaskLength
	}
	if len(trimmed) > maxLen {
		return Task{}, fmt.Errorf("task text exceeds maximum length of %d characters", maxLen)
	}
	return Task{Text: trimmed, SubmittedAt: now}, nil
}

// Role enumerates Message.Role values.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn in a Conversation, ordered by CreatedAt.
type Message struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time
	AgentID   string
	Reasoning string // optional; persisted alongside the assistant message when non-empty
}

// Conversation groups an ordered sequence of Messages. Per spec §3/§4.7,
// Conversation and Message are persisted separately: listing conversations
// never requires loading their messages, and an empty conversation (zero
// messages) is retrievable immediately after creation.
type Conversation struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []Message
}

// AgentDescriptor is loaded once per process from configuration and is
// immutable during a run.
type AgentDescriptor struct {
	Name            string
	Model           string
	Temperature     float64
	SystemPrompt    string
	Tools           []string
	TimeoutMs       int64
	MaxTokens       int
	ReasoningEffort string

	capabilities []string // derived, set by WithCapabilities
}

// WithCapabilities returns a copy of d carrying the union of capability tags
// its declared tools provide, as reported by the given lookup function. The
// Reasoner façade's routing normalization reads this derived accessor to find
// a web_search-capable agent for time-sensitive tasks.
func (d AgentDescriptor) WithCapabilities(capsFor func(tool string) []string) AgentDescriptor {
	seen := make(map[string]bool)
	var caps []string
	for _, tool := range d.Tools {
		for _, c := range capsFor(tool) {
			if !seen[c] {
				seen[c] = true
				caps = append(caps, c)
			}
		}
	}
	d.capabilities = caps
	return d
}

// Capabilities returns the derived capability union computed by
// WithCapabilities (empty if it was never called).
func (d AgentDescriptor) Capabilities() []string { return d.capabilities }

// Complexity enumerates TaskAnalysis.Complexity values.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// TaskAnalysis is the Reasoner's analyze_task output (spec §3).
type TaskAnalysis struct {
	Complexity           Complexity
	RequiredCapabilities []string
	RecommendedTools     []string
	NeedsWebSearch       bool
	SearchQuery          string
	Notes                string
}

// Mode enumerates RoutingDecision.Mode values.
type Mode string

const (
	ModeDelegated  Mode = "delegated"
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
	ModeHandoff    Mode = "handoff"
	ModeDiscussion Mode = "discussion"
)

// RoutingDecision is the Reasoner's route_task output (spec §3).
type RoutingDecision struct {
	Mode            Mode
	Assigned        []string            // ordered agent names
	Subtasks        []string            // aligned with Assigned
	ToolRequirements map[string][]string // agent -> required tool names
	Confidence      float64
}

// SubtaskFor returns the subtask aligned with agent at index i, or the full
// task text if no subtask was provided for that position (spec §4.4
// Delegated strategy fallback).
func (d RoutingDecision) SubtaskFor(i int, fallback string) string {
	if i >= 0 && i < len(d.Subtasks) && d.Subtasks[i] != "" {
		return d.Subtasks[i]
	}
	return fallback
}

// ProgressStatus enumerates ProgressVerdict.Status values.
type ProgressStatus string

const (
	ProgressComplete ProgressStatus = "complete"
	ProgressRefine   ProgressStatus = "refine"
	ProgressContinue ProgressStatus = "continue"
)

// ProgressVerdict is the Reasoner's evaluate_progress output (spec §3).
type ProgressVerdict struct {
	Status    ProgressStatus
	Missing   []string
	NextFocus string
}

// QualityVerdict is the Reasoner's assess_quality output (spec §3).
type QualityVerdict struct {
	Score      float64 // [0,10]
	Missing    []string
	Feedback   string
	Dimensions map[string]float64
}

// RunStatus enumerates Run.Status values.
type RunStatus string

const (
	RunPending        RunStatus = "pending"
	RunRunning        RunStatus = "running"
	RunNeedsResponse  RunStatus = "needs_response"
	RunCancelled      RunStatus = "cancelled"
	RunSucceeded      RunStatus = "succeeded"
	RunFailed         RunStatus = "failed"
)

// IsTerminal reports whether s is one of the run's terminal states
// (cancelled|succeeded|failed); terminal state is latched once reached.
func (s RunStatus) IsTerminal() bool {
	return s == RunCancelled || s == RunSucceeded || s == RunFailed
}

// FinalResult carries the synthesized assistant text plus per-agent
// attribution spans, so the conversation store can attribute synthesized
// text back to contributing agents without re-parsing it (SPEC_FULL data
// model addition).
type FinalResult struct {
	Text              string
	AgentAttribution map[string][]Span
}

// Span identifies a [Start,End) byte range of FinalResult.Text attributed to
// one agent.
type Span struct {
	Start int
	End   int
}

// Run is the per-run record owned exclusively by the Session Manager (spec
// §3). Its unexported cancellation state (cancel, cancelled) is guarded by
// mu.
type Run struct {
	mu sync.Mutex

	ID             string
	Task           Task
	ConversationID string
	StartedAt      time.Time
	Status         RunStatus
	CheckpointRef  string
	FinalResult    *FinalResult

	cancel    context.CancelFunc
	cancelled bool
}

// NewRun constructs a Run bound to ctx's cancellation. Cancel() derives its
// own cancel func so callers don't need to thread one through manually.
func NewRun(id string, task Task, conversationID string, now time.Time) (*Run, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Run{
		ID:             id,
		Task:           task,
		ConversationID: conversationID,
		StartedAt:      now,
		Status:         RunPending,
		cancel:         cancel,
	}
	return r, ctx, cancel
}

// Cancel trips the run's cancel signal. Idempotent (spec §4.2).
func (r *Run) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return
	}
	r.cancelled = true
	r.cancel()
}

// SetStatus transitions Status. Once IsTerminal() is true, further
// transitions are ignored — terminal state is latched (spec §3).
func (r *Run) SetStatus(s RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Status.IsTerminal() {
		return
	}
	r.Status = s
}

// StatusSnapshot returns the current status under lock.
func (r *Run) StatusSnapshot() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Status
}
