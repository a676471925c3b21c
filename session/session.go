// Package session implements the Session Manager (spec §4.2): it owns every
// in-flight Run, exposes create/cancel/submitResponse operations and a
// per-run checkpoint ref, and
// tracks pending HITL requests awaiting a client response. Shaped after the
// teacher's session.Store (lifecycle state machine: active session ->
// per-run metadata) combined with interrupt.Controller's pause/resume signal
// contract, collapsed from Temporal signal channels to in-process Go
// channels since this spec has no workflow engine underneath it.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaymesh/supervisor/apierrors"
	"github.com/relaymesh/supervisor/domain"
)

// PendingRequest is one outstanding HITL request awaiting a client response
// (spec §4.2). response is written to exactly once, by whichever of
// SubmitResponse or Cancel occurs first; the phase goroutine blocked on
// Wait() unblocks either way.
type PendingRequest struct {
	ID        string
	Kind      string
	Payload   any
	CreatedAt time.Time

	response chan Response
	once     sync.Once
}

// Response is what SubmitResponse delivers to a PendingRequest's waiter.
type Response struct {
	Payload   any
	Cancelled bool
}

// Wait blocks until a response is submitted or ctx is cancelled.
func (p *PendingRequest) Wait(ctx context.Context) (Response, error) {
	select {
	case resp := <-p.response:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (p *PendingRequest) deliver(resp Response) {
	p.once.Do(func() {
		p.response <- resp
	})
}

// Manager owns every in-flight Run and its pending HITL requests. A single
// Manager instance is shared across all runs in a process.
type Manager struct {
	mu       sync.Mutex
	runs     map[string]*domain.Run
	pending  map[string]*PendingRequest // requestID -> request, scoped across all runs
	runByReq map[string]string         // requestID -> runID, for validation
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{
		runs:     make(map[string]*domain.Run),
		pending:  make(map[string]*PendingRequest),
		runByReq: make(map[string]string),
	}
}

// Create registers a new Run with the Manager.
func (m *Manager) Create(ctx context.Context, run *domain.Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
}

// Lookup returns the Run for id, or (nil, false) if it is unknown (never
// created or already forgotten).
func (m *Manager) Lookup(id string) (*domain.Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	return r, ok
}

// Cancel trips the run's cancellation signal and resolves any pending HITL
// request for it with Cancelled=true, so the blocked phase goroutine
// unblocks instead of hanging until a response that will never come.
func (m *Manager) Cancel(runID string) error {
	m.mu.Lock()
	run, ok := m.runs[runID]
	if !ok {
		m.mu.Unlock()
		return apierrors.Invalid("session: unknown run id %q", runID)
	}
	var toCancel []*PendingRequest
	for reqID, owner := range m.runByReq {
		if owner == runID {
			if p, ok := m.pending[reqID]; ok {
				toCancel = append(toCancel, p)
			}
		}
	}
	m.mu.Unlock()

	run.Cancel()
	run.SetStatus(domain.RunCancelled)
	for _, p := range toCancel {
		p.deliver(Response{Cancelled: true})
	}
	return nil
}

// RegisterPending records a new outstanding HITL request for runID and
// transitions the run to needs_response (spec §4.2).
func (m *Manager) RegisterPending(runID, requestID, kind string, payload any) *PendingRequest {
	p := &PendingRequest{ID: requestID, Kind: kind, Payload: payload, CreatedAt: time.Now(), response: make(chan Response, 1)}

	m.mu.Lock()
	m.pending[requestID] = p
	m.runByReq[requestID] = runID
	run := m.runs[runID]
	m.mu.Unlock()

	if run != nil {
		run.SetStatus(domain.RunNeedsResponse)
	}
	return p
}

// SubmitResponse delivers a client response to the waiting PendingRequest
// and clears it from the pending set. Returns an error if requestID is
// unknown (spec §4.2's "unknown request id" edge case).
func (m *Manager) SubmitResponse(requestID string, payload any) error {
	m.mu.Lock()
	p, ok := m.pending[requestID]
	if ok {
		delete(m.pending, requestID)
		delete(m.runByReq, requestID)
	}
	m.mu.Unlock()

	if !ok {
		return apierrors.Invalid("session: unknown request id %q", requestID)
	}
	p.deliver(Response{Payload: payload})
	return nil
}

// BindCheckpoint records the checkpoint ref a run last persisted to, so that
// CheckpointRef can report it.
func (m *Manager) BindCheckpoint(runID, checkpointRef string) error {
	m.mu.Lock()
	run, ok := m.runs[runID]
	m.mu.Unlock()
	if !ok {
		return apierrors.Invalid("session: unknown run id %q", runID)
	}
	run.CheckpointRef = checkpointRef
	return nil
}

// Forget removes a run's bookkeeping once it has reached a terminal state
// and its final result has been delivered to every transport. Safe to call
// on an already-forgotten or unknown run.
func (m *Manager) Forget(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, runID)
	for reqID, owner := range m.runByReq {
		if owner == runID {
			delete(m.pending, reqID)
			delete(m.runByReq, reqID)
		}
	}
}

// ErrNoCheckpoint is returned by CheckpointRef when the run has no bound
// checkpoint to resume from.
var ErrNoCheckpoint = fmt.Errorf("session: run has no checkpoint to resume from")

// CheckpointRef returns the run's last bound checkpoint, or ErrNoCheckpoint.
func (m *Manager) CheckpointRef(runID string) (string, error) {
	run, ok := m.Lookup(runID)
	if !ok {
		return "", apierrors.Invalid("session: unknown run id %q", runID)
	}
	if run.CheckpointRef == "" {
		return "", ErrNoCheckpoint
	}
	return run.CheckpointRef, nil
}
