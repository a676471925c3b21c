// WebSocket transport (spec §6.1), grounded on the teacher's own use of
// github.com/coder/websocket as seen in the pack's vanducng-goclaw client
// (internal/channels/zalo/personal/protocol/ws_client.go) — this file is the
// server-side counterpart the teacher pack doesn't otherwise ship.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/relaymesh/supervisor/apierrors"
	"github.com/relaymesh/supervisor/config"
	"github.com/relaymesh/supervisor/event"
	"github.com/relaymesh/supervisor/session"
	"github.com/relaymesh/supervisor/supervisor"
	"github.com/relaymesh/supervisor/telemetry"
)

// WSHandler serves the bidirectional WebSocket transport. One handler
// instance is shared across all connections in a process.
type WSHandler struct {
	sup    *supervisor.Supervisor
	sess   *session.Manager
	cfg    config.Config
	logger telemetry.Logger
}

// NewWSHandler constructs a WSHandler.
func NewWSHandler(sup *supervisor.Supervisor, sess *session.Manager, cfg config.Config, logger telemetry.Logger) *WSHandler {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &WSHandler{sup: sup, sess: sess, cfg: cfg, logger: logger}
}

// ServeHTTP upgrades the connection and drives one session's worth of
// inbound/outbound frames until the client disconnects. At most one run is
// active per connection at a time, matching spec §6.1's single
// current-run-per-socket model: a new task or resume frame cancels the run
// started before it.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	allowed := origin == "" || h.cfg.IsAllowedOrigin(origin)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin enforcement happens ourselves below (spec §6.1's refusal
		// semantics are a policy-violation close, not an HTTP-level reject),
		// so the library's own origin check is disabled here.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn(r.Context(), "transport: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	if !allowed {
		conn.Close(websocket.StatusPolicyViolation, "origin not allowed")
		return
	}

	ctx := r.Context()
	h.sendFrame(ctx, conn, Frame{Type: "connected", Timestamp: time.Now()})

	var cancelCurrent func()
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			if cancelCurrent != nil {
				cancelCurrent()
			}
			return
		}
		in, err := ParseInFrame(raw)
		if err != nil {
			h.sendFrame(ctx, conn, errorFrame(apierrors.Invalid("malformed frame: %v", err)))
			continue
		}

		switch in.Type {
		case InPing:
			h.sendFrame(ctx, conn, Frame{Type: "pong", Timestamp: time.Now()})

		case InCancel:
			if cancelCurrent != nil {
				cancelCurrent()
			}

		case InResponse:
			var payload any
			if len(in.Payload) > 0 {
				_ = json.Unmarshal(in.Payload, &payload)
			}
			if err := h.sess.SubmitResponse(in.RequestID, payload); err != nil {
				h.sendFrame(ctx, conn, errorFrame(err))
			}

		case InTask:
			// CheckpointID is threaded through even on a "task" frame so
			// Supervisor.Run's message/checkpointId mutual-exclusion guard
			// (spec §6.1/§4.2) can reject a frame that carries both, instead
			// of silently discarding the checkpointId.
			if cancelCurrent != nil {
				cancelCurrent()
			}
			cancelCurrent = h.runAndStream(ctx, conn, in.Message, supervisor.StartOptions{
				ConversationID:      in.ConversationID,
				ReasoningEffort:     in.ReasoningEffort,
				EnableCheckpointing: in.EnableCheckpointing,
				CheckpointID:        in.CheckpointID,
			})

		case InResume:
			if cancelCurrent != nil {
				cancelCurrent()
			}
			cancelCurrent = h.runAndStream(ctx, conn, "", supervisor.StartOptions{CheckpointID: in.CheckpointID})

		default:
			h.sendFrame(ctx, conn, errorFrame(apierrors.Invalid("unknown frame type %q", in.Type)))
		}
	}
}

// runAndStream starts a run and pumps its event channel to the socket until
// the terminal event, returning a cancel func the caller can invoke on a
// "cancel" inbound frame or on disconnect.
func (h *WSHandler) runAndStream(ctx context.Context, conn *websocket.Conn, task string, opts supervisor.StartOptions) func() {
	runCtx, cancel := context.WithCancel(ctx)
	run, events, err := h.sup.Run(runCtx, task, opts)
	if err != nil {
		cancel()
		h.sendFrame(ctx, conn, errorFrame(err))
		return func() {}
	}

	go func() {
		for ev := range events {
			h.sendFrame(ctx, conn, ToFrame(ev))
		}
	}()
	_ = run
	return cancel
}

func (h *WSHandler) sendFrame(ctx context.Context, conn *websocket.Conn, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Error(ctx, "transport: marshal frame failed", "err", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Warn(ctx, "transport: write frame failed", "err", err)
	}
}

func errorFrame(err error) Frame {
	apiErr, ok := apierrors.As(err)
	if !ok {
		apiErr = apierrors.New(apierrors.CodeInternal, err.Error())
	}
	return Frame{
		Type:      event.TypeError,
		Timestamp: time.Now(),
		Category:  event.CategoryTerminal,
		Code:      string(apiErr.Code),
		Message:   apiErr.Message,
		Phase:     apiErr.Phase,
	}
}
