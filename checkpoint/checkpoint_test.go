package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/supervisor/domain"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		RunID:          "run-1",
		Task:           domain.Task{Text: "do the thing"},
		ConversationID: "conv-1",
		Phase:          "execution",
		Outputs:        map[string]string{"writer": "partial text"},
		Round:          1,
		Pending:        &PendingRequestSnapshot{RequestID: "req-1", Kind: "approval"},
	}
}

func TestMemStore_SaveLoadRoundTrips(t *testing.T) {
	store := NewMemStore()
	snap := sampleSnapshot()

	ref, err := store.Save(context.Background(), snap)
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	loaded, err := store.Load(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, snap.RunID, loaded.RunID)
	assert.Equal(t, snap.Outputs, loaded.Outputs)
	assert.Equal(t, snap.Pending.RequestID, loaded.Pending.RequestID)
}

func TestMemStore_LoadUnknownRef(t *testing.T) {
	store := NewMemStore()
	_, err := store.Load(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStore_ContentAddressedDedup(t *testing.T) {
	store := NewMemStore()
	snap := sampleSnapshot()

	ref1, err := store.Save(context.Background(), snap)
	require.NoError(t, err)
	ref2, err := store.Save(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)
}

func TestFileStore_SaveLoadRoundTrips(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	snap := sampleSnapshot()
	ref, err := store.Save(context.Background(), snap)
	require.NoError(t, err)

	loaded, err := store.Load(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, snap.ConversationID, loaded.ConversationID)
	assert.Equal(t, snap.Phase, loaded.Phase)
}

func TestFileStore_LoadUnknownRef(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = store.Load(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_SaveIsIdempotentOnDuplicateContent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	snap := sampleSnapshot()
	ref1, err := store.Save(context.Background(), snap)
	require.NoError(t, err)
	ref2, err := store.Save(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)
}
