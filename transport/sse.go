// SSE transport (spec §6.1): server-to-client only. A client submits a task
// via a normal POST request that stays open and streams the run's event
// sequence as "event: TYPE\ndata: {...}\n\n" frames, the same event/data
// framing the teacher's SSE client (runtime/mcp/ssecaller.go) parses on the
// other end of an MCP call — this file is the server-side producer.
// HITL on SSE has no inbound channel of its own; clients respond through the
// side-channel endpoint RespondHandler exposes, keyed by requestId.
package transport

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/relaymesh/supervisor/apierrors"
	"github.com/relaymesh/supervisor/session"
	"github.com/relaymesh/supervisor/supervisor"
	"github.com/relaymesh/supervisor/telemetry"
)

// SSEHandler serves the SSE transport's two endpoints: StartHandler opens
// the event stream for a new (or resumed) run, RespondHandler resolves a
// pending HITL request out of band.
type SSEHandler struct {
	sup    *supervisor.Supervisor
	sess   *session.Manager
	logger telemetry.Logger
}

// NewSSEHandler constructs an SSEHandler.
func NewSSEHandler(sup *supervisor.Supervisor, sess *session.Manager, logger telemetry.Logger) *SSEHandler {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &SSEHandler{sup: sup, sess: sess, logger: logger}
}

// sseTaskRequest is the JSON body StartHandler accepts.
type sseTaskRequest struct {
	Message             string `json:"message"`
	ConversationID      string `json:"conversationId"`
	ReasoningEffort     string `json:"reasoningEffort"`
	EnableCheckpointing bool   `json:"enableCheckpointing"`
	CheckpointID        string `json:"checkpointId"`
}

// StartHandler starts a run and streams its event sequence until the
// terminal event, then closes the response body.
func (h *SSEHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	var req sseTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	_, events, err := h.sup.Run(r.Context(), req.Message, supervisor.StartOptions{
		ConversationID:      req.ConversationID,
		ReasoningEffort:     req.ReasoningEffort,
		EnableCheckpointing: req.EnableCheckpointing,
		CheckpointID:        req.CheckpointID,
	})
	if err != nil {
		apiErr, ok := apierrors.As(err)
		if !ok {
			apiErr = apierrors.New(apierrors.CodeInternal, err.Error())
		}
		http.Error(w, apiErr.Message, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for ev := range events {
		frame := ToFrame(ev)
		if err := writeSSEFrame(w, frame); err != nil {
			h.logger.Warn(r.Context(), "transport: sse write failed", "err", err)
			return
		}
		flusher.Flush()
		if IsTerminal(frame.Type) {
			return
		}
	}
}

// respondRequest is the JSON body RespondHandler accepts.
type respondRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// RespondHandler resolves a pending HITL request identified by the
// {requestId} path value the caller's router extracts into r's context or
// query string; callers wire this at a path like
// "/sse/respond/{requestId}" and pass the extracted id in via requestID.
func (h *SSEHandler) RespondHandler(requestID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req respondRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}
		var payload any
		if len(req.Payload) > 0 {
			_ = json.Unmarshal(req.Payload, &payload)
		}
		if err := h.sess.SubmitResponse(requestID, payload); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeSSEFrame(w http.ResponseWriter, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Type, data)
	return err
}
