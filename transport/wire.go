// Package transport converts the internal event.Event stream into the
// wire-level frames the two client transports (WebSocket, SSE) serialize,
// and hosts the transports themselves (ws.go, sse.go). The JSON shapes here
// are deliberately flat and camelCased for client consumption, separate
// from the internal Go-idiomatic event structs (spec §6.2), matching the
// teacher's own split between internal hooks.Event and its wire DTOs in
// runtime/agent/api.
package transport

import (
	"time"

	"github.com/relaymesh/supervisor/event"
)

// Frame is the wire-level envelope every outbound message serializes to.
// Type selects which of the optional fields below are populated; transports
// marshal it directly to JSON (WebSocket text frames) or as an SSE "data:"
// payload with Type mirrored into the SSE "event:" line.
type Frame struct {
	Type      event.Type     `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Category  event.Category `json:"category"`
	UIHint    string         `json:"uiHint,omitempty"`

	// WORKFLOW_STATUS
	State      string `json:"state,omitempty"`
	WorkflowID string `json:"workflowId,omitempty"`
	Message    string `json:"message,omitempty"`

	// ORCHESTRATOR_MESSAGE
	Kind   string `json:"kind,omitempty"`
	Status string `json:"status,omitempty"`
	Data   any    `json:"data,omitempty"`

	// REASONING_COMPLETED
	Reasoning string `json:"reasoning,omitempty"`

	// AGENT_STARTED / AGENT_COMPLETED / AGENT_DELTA / TOOL_CALL share AgentID
	AgentID string `json:"agentId,omitempty"`
	Subtask string `json:"subtask,omitempty"`
	// duration is expressed in milliseconds on the wire
	DurationMs *int64 `json:"duration,omitempty"`

	// AGENT_DELTA
	Delta            string `json:"delta,omitempty"`
	Accumulated      string `json:"accumulated,omitempty"`
	AgentAccumulated string `json:"agentAccumulated,omitempty"`

	// TOOL_CALL
	ToolName      string `json:"toolName,omitempty"`
	Input         any    `json:"input,omitempty"`
	OutputSummary string `json:"outputSummary,omitempty"`

	// QUALITY
	Score      *float64           `json:"score,omitempty"`
	Missing    []string           `json:"missing,omitempty"`
	Feedback   string             `json:"feedback,omitempty"`
	Dimensions map[string]float64 `json:"dimensions,omitempty"`

	// REQUEST
	RequestID string `json:"requestId,omitempty"`
	Payload   any    `json:"payload,omitempty"`

	// WORKFLOW_OUTPUT
	Result    string          `json:"result,omitempty"`
	Quality   *QualityPayload `json:"quality,omitempty"`
	RunID     string          `json:"runId,omitempty"`
	Durations *DurationsMs    `json:"durations,omitempty"`

	// ERROR
	Code  string `json:"code,omitempty"`
	Phase string `json:"phase,omitempty"`
}

// QualityPayload mirrors event.QualityPayload with wire field names.
type QualityPayload struct {
	Score      float64            `json:"score"`
	Missing    []string           `json:"missing"`
	Feedback   string             `json:"feedback"`
	Dimensions map[string]float64 `json:"dimensions"`
}

// DurationsMs renders event.Durations' time.Duration fields as whole
// milliseconds, the unit every wire knob in spec §6.4 uses.
type DurationsMs struct {
	AnalysisMs  int64 `json:"analysisMs"`
	RoutingMs   int64 `json:"routingMs"`
	ExecutionMs int64 `json:"executionMs"`
	ProgressMs  int64 `json:"progressMs"`
	QualityMs   int64 `json:"qualityMs"`
	TotalMs     int64 `json:"totalMs"`
}

func durationsMs(d event.Durations) *DurationsMs {
	return &DurationsMs{
		AnalysisMs:  d.Analysis.Milliseconds(),
		RoutingMs:   d.Routing.Milliseconds(),
		ExecutionMs: d.Execution.Milliseconds(),
		ProgressMs:  d.Progress.Milliseconds(),
		QualityMs:   d.Quality.Milliseconds(),
		TotalMs:     d.Total.Milliseconds(),
	}
}

func qualityPayload(q event.QualityPayload) *QualityPayload {
	return &QualityPayload{Score: q.Score, Missing: q.Missing, Feedback: q.Feedback, Dimensions: q.Dimensions}
}

func ms(d time.Duration) *int64 {
	v := d.Milliseconds()
	return &v
}
