package routingcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/supervisor/domain"
)

func TestMemoryCache_PutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)
	decision := domain.RoutingDecision{Mode: domain.ModeDelegated, Assigned: []string{"writer"}}

	require.NoError(t, c.Put(ctx, "fp1", decision, time.Hour))

	got, ok, err := c.Get(ctx, "fp1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, decision, got)
}

func TestMemoryCache_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)
	decision := domain.RoutingDecision{Mode: domain.ModeDelegated, Assigned: []string{"writer"}}

	require.NoError(t, c.Put(ctx, "fp1", decision, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := c.Get(ctx, "fp1")
	require.NoError(t, err)
	assert.False(t, ok, "expired entries must never be returned")
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2)
	d := domain.RoutingDecision{Mode: domain.ModeDelegated, Assigned: []string{"writer"}}

	require.NoError(t, c.Put(ctx, "a", d, time.Hour))
	require.NoError(t, c.Put(ctx, "b", d, time.Hour))

	// Touch "a" so "b" becomes least-recently-used.
	_, _, _ = c.Get(ctx, "a")

	require.NoError(t, c.Put(ctx, "c", d, time.Hour))

	_, aOK, _ := c.Get(ctx, "a")
	_, bOK, _ := c.Get(ctx, "b")
	_, cOK, _ := c.Get(ctx, "c")

	assert.True(t, aOK, "recently used entry should survive eviction")
	assert.False(t, bOK, "least-recently-used entry should be evicted")
	assert.True(t, cOK)
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)
	d := domain.RoutingDecision{Mode: domain.ModeDelegated, Assigned: []string{"writer"}}
	require.NoError(t, c.Put(ctx, "a", d, time.Hour))

	require.NoError(t, c.Invalidate(ctx))

	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestFingerprint_StableAcrossWhitespaceAndCase(t *testing.T) {
	f1 := Fingerprint("  Latest   news on  AI  ", []string{"b", "a"}, "r1", "c1")
	f2 := Fingerprint("latest news on ai", []string{"a", "b"}, "r1", "c1")
	assert.Equal(t, f1, f2, "fingerprint must be stable across whitespace/case and tool-order changes")
}

func TestFingerprint_ChangesWithVersions(t *testing.T) {
	f1 := Fingerprint("same task", []string{"a"}, "r1", "c1")
	f2 := Fingerprint("same task", []string{"a"}, "r2", "c1")
	f3 := Fingerprint("same task", []string{"a"}, "r1", "c2")
	assert.NotEqual(t, f1, f2, "reasoner version change must invalidate the fingerprint")
	assert.NotEqual(t, f1, f3, "routing-config version change must invalidate the fingerprint")
}

func TestFingerprint_ChangesWithIntent(t *testing.T) {
	f1 := Fingerprint("book a flight to paris", []string{"a"}, "r1", "c1")
	f2 := Fingerprint("book a flight to london", []string{"a"}, "r1", "c1")
	assert.NotEqual(t, f1, f2)
}
