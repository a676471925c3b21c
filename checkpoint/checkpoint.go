// Package checkpoint implements the content-addressed checkpoint store spec
// §5/§6.3 describes: a Snapshot captures enough Supervisor run state to
// resume at the next HITL boundary, addressed by a hash of its own
// contents. Grounded on the teacher's runtime/agent/runlog package (a
// durable, append-only store of run events) adapted from an append-only
// event log to single content-addressed blobs, since SPEC_FULL.md's
// resume model captures one point-in-time snapshot per boundary rather than
// replaying an event history.
package checkpoint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/relaymesh/supervisor/domain"
)

// PendingRequestSnapshot captures the HITL request a run was suspended on,
// sufficient for Resume to re-enter the same suspension point (spec §5's
// "resume reconstructs the pending requests and re-enters the suspension
// point").
type PendingRequestSnapshot struct {
	RequestID string
	Kind      string
	Payload   json.RawMessage
}

// Snapshot is the content-addressed blob a checkpoint captures (spec §6.3).
// It is deliberately flat JSON so marshalCanonical below is stable and so a
// non-Go reader could inspect a checkpoint file directly.
type Snapshot struct {
	RunID          string
	Task           domain.Task
	ConversationID string

	// Phase names where Resume re-enters: "analysis", "routing", "execution",
	// "progress", "quality". Captured at every REQUEST boundary (spec §5).
	Phase string

	Analysis domain.TaskAnalysis
	Decision domain.RoutingDecision

	// Outputs accumulates each agent's text produced so far this round, so a
	// resumed run doesn't re-run agents that already finished before the
	// HITL boundary.
	Outputs map[string]string
	Round   int

	Pending *PendingRequestSnapshot

	CreatedAt time.Time
}

// Store persists and retrieves Snapshots by content-addressed reference.
type Store interface {
	// Save computes a stable reference for snap and persists it, returning
	// the reference for session.Manager.BindCheckpoint.
	Save(ctx context.Context, snap Snapshot) (ref string, err error)
	// Load retrieves the Snapshot previously saved under ref.
	Load(ctx context.Context, ref string) (Snapshot, error)
}

// ErrNotFound is returned by Store.Load for an unknown reference.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "checkpoint: not found" }

// marshalCanonical renders snap as JSON with its top-level Go struct field
// order, which encoding/json already preserves deterministically — no extra
// canonicalization step is needed since Snapshot is written by this package
// only (never round-tripped through a map[string]any that could reorder
// keys).
func marshalCanonical(snap Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}
