package indexer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURI = "at://did:plc:abc234/app.bsky.feed.post/3k2a"

func TestMemoryIndex_ApplyIsIdempotent(t *testing.T) {
	clk := clock.NewMock()
	idx := NewMemoryIndex(WithClock(clk))
	ctx := context.Background()

	require.NoError(t, idx.ApplyRecord(ctx, testURI, "bafyv1", json.RawMessage(`{"text":"a"}`)))
	first, ok, err := idx.Lookup(ctx, testURI)
	require.NoError(t, err)
	require.True(t, ok)

	clk.Add(time.Minute)
	require.NoError(t, idx.ApplyRecord(ctx, testURI, "bafyv1", json.RawMessage(`{"text":"a"}`)))
	again, _, _ := idx.Lookup(ctx, testURI)

	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, first.IndexedAt, again.IndexedAt, "same version keeps its index time")
	require.NotNil(t, again.LastSyncedAt)
	assert.Equal(t, clk.Now(), *again.LastSyncedAt)
}

func TestMemoryIndex_NewVersionReplaces(t *testing.T) {
	clk := clock.NewMock()
	idx := NewMemoryIndex(WithClock(clk))
	ctx := context.Background()

	require.NoError(t, idx.ApplyRecord(ctx, testURI, "bafyv1", nil))
	clk.Add(time.Minute)
	require.NoError(t, idx.ApplyRecord(ctx, testURI, "bafyv2", nil))

	rec, ok, err := idx.Lookup(ctx, testURI)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bafyv2", rec.CID)
	assert.Equal(t, clk.Now(), rec.IndexedAt)
}

func TestMemoryIndex_RemoveAndLookupMany(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, idx.ApplyRecord(ctx, testURI, "bafyv1", nil))
	require.NoError(t, idx.ApplyRecord(ctx, testURI+"b", "bafyv2", nil))

	found, err := idx.LookupMany(ctx, []string{testURI, testURI + "b", testURI + "c"})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	require.NoError(t, idx.RemoveRecord(ctx, testURI))
	require.NoError(t, idx.RemoveRecord(ctx, testURI), "removing twice is fine")
	_, ok, err := idx.Lookup(ctx, testURI)
	require.NoError(t, err)
	assert.False(t, ok)
}
