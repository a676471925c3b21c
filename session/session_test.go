package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/supervisor/domain"
)

func newRun(id string) *domain.Run {
	run, _, _ := domain.NewRun(id, domain.Task{}, "conv-1", time.Now())
	run.SetStatus(domain.RunRunning)
	return run
}

func TestManager_CreateAndLookup(t *testing.T) {
	m := New()
	run := newRun("run-1")
	m.Create(context.Background(), run)

	got, ok := m.Lookup("run-1")
	require.True(t, ok)
	assert.Same(t, run, got)

	_, ok = m.Lookup("nope")
	assert.False(t, ok)
}

func TestManager_Cancel_UnknownRun(t *testing.T) {
	m := New()
	err := m.Cancel("nope")
	assert.Error(t, err)
}

func TestManager_Cancel_SetsRunCancelledAndUnblocksPending(t *testing.T) {
	m := New()
	run := newRun("run-1")
	m.Create(context.Background(), run)

	p := m.RegisterPending("run-1", "req-1", "clarification", "which option?")
	assert.Equal(t, domain.RunNeedsResponse, run.StatusSnapshot())

	done := make(chan Response, 1)
	go func() {
		resp, err := p.Wait(context.Background())
		require.NoError(t, err)
		done <- resp
	}()

	require.NoError(t, m.Cancel("run-1"))
	assert.Equal(t, domain.RunCancelled, run.StatusSnapshot())

	select {
	case resp := <-done:
		assert.True(t, resp.Cancelled)
	case <-time.After(time.Second):
		t.Fatal("pending request was not unblocked by Cancel")
	}
}

func TestManager_SubmitResponse_DeliversPayload(t *testing.T) {
	m := New()
	run := newRun("run-1")
	m.Create(context.Background(), run)

	p := m.RegisterPending("run-1", "req-1", "tool_results", nil)

	done := make(chan Response, 1)
	go func() {
		resp, err := p.Wait(context.Background())
		require.NoError(t, err)
		done <- resp
	}()

	require.NoError(t, m.SubmitResponse("req-1", "the answer"))

	select {
	case resp := <-done:
		assert.Equal(t, "the answer", resp.Payload)
		assert.False(t, resp.Cancelled)
	case <-time.After(time.Second):
		t.Fatal("pending request was not delivered by SubmitResponse")
	}
}

func TestManager_SubmitResponse_UnknownRequestID(t *testing.T) {
	m := New()
	err := m.SubmitResponse("ghost", "x")
	assert.Error(t, err)
}

func TestManager_SubmitResponse_ClearsPendingState(t *testing.T) {
	m := New()
	run := newRun("run-1")
	m.Create(context.Background(), run)
	m.RegisterPending("run-1", "req-1", "clarification", nil)

	require.NoError(t, m.SubmitResponse("req-1", "ok"))

	// Submitting again for the same id must fail: it was already consumed.
	err := m.SubmitResponse("req-1", "again")
	assert.Error(t, err)
}

func TestManager_BindAndReadCheckpoint(t *testing.T) {
	m := New()
	run := newRun("run-1")
	m.Create(context.Background(), run)

	_, err := m.CheckpointRef("run-1")
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	require.NoError(t, m.BindCheckpoint("run-1", "blob-abc123"))
	ref, err := m.CheckpointRef("run-1")
	require.NoError(t, err)
	assert.Equal(t, "blob-abc123", ref)
}

func TestManager_BindCheckpoint_UnknownRun(t *testing.T) {
	m := New()
	err := m.BindCheckpoint("nope", "blob-1")
	assert.Error(t, err)
}

func TestManager_Forget_RemovesRunAndItsPendingRequests(t *testing.T) {
	m := New()
	run := newRun("run-1")
	m.Create(context.Background(), run)
	m.RegisterPending("run-1", "req-1", "clarification", nil)

	m.Forget("run-1")

	_, ok := m.Lookup("run-1")
	assert.False(t, ok)

	err := m.SubmitResponse("req-1", "too late")
	assert.Error(t, err)
}

func TestManager_Cancel_OnlyUnblocksRequestsOwnedByThatRun(t *testing.T) {
	m := New()
	runA := newRun("run-a")
	runB := newRun("run-b")
	m.Create(context.Background(), runA)
	m.Create(context.Background(), runB)

	m.RegisterPending("run-a", "req-a", "clarification", nil)
	pB := m.RegisterPending("run-b", "req-b", "clarification", nil)

	require.NoError(t, m.Cancel("run-a"))

	// run-b's pending request must still be live.
	require.NoError(t, m.SubmitResponse("req-b", "fine"))
	resp, err := pB.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fine", resp.Payload)
}
