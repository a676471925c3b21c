package transport

import "encoding/json"

// InFrameType enumerates the closed set of inbound WebSocket frame types
// (spec §6.1).
type InFrameType string

const (
	InTask     InFrameType = "task"
	InResponse InFrameType = "response"
	InResume   InFrameType = "resume"
	InPing     InFrameType = "ping"
	InCancel   InFrameType = "cancel"
)

// InFrame is the union of every inbound client frame shape. Only the fields
// relevant to Type are populated; callers should switch on Type before
// reading the rest, matching the way the outbound Frame groups
// type-specific fields behind a discriminant.
type InFrame struct {
	Type InFrameType `json:"type"`

	// "task"
	Message             string `json:"message"`
	ConversationID      string `json:"conversationId"`
	ReasoningEffort     string `json:"reasoningEffort"`
	EnableCheckpointing bool   `json:"enableCheckpointing"`

	// "response"
	RequestID string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload"`

	// "resume"
	CheckpointID string `json:"checkpointId"`
}

// ParseInFrame decodes a raw client frame. Malformed JSON is the caller's
// responsibility to report back as an InvalidInput error.
func ParseInFrame(raw []byte) (InFrame, error) {
	var f InFrame
	err := json.Unmarshal(raw, &f)
	return f, err
}
