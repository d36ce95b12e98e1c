package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/store"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	reg := recipe.NewRegistry()
	s, err := store.New(":memory:", reg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestAppendChainsHeads(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	h1, err := log.Append(ctx, "T1", "", store.Hash{1}, 100)
	require.NoError(t, err)
	h2, err := log.Append(ctx, "T1", "", store.Hash{2}, 200)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	entries, err := log.Iter(ctx, "T1", "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, h2, entries[0].Hash, "head-first order")
	assert.Equal(t, h1, entries[0].PreviousEntry)
}

func TestMultiIterMergesChannelsByTimeDescending(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	_, err := log.Append(ctx, "G", "p1", store.Hash{1}, 100)
	require.NoError(t, err)
	_, err = log.Append(ctx, "G", "p2", store.Hash{2}, 200)
	require.NoError(t, err)

	entries, err := log.MultiIter(ctx, "G")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(200), entries[0].CreationTime)
	assert.Equal(t, int64(100), entries[1].CreationTime)

	_, err = log.Append(ctx, "G", "p3", store.Hash{3}, 300)
	require.NoError(t, err)
	entries, err = log.MultiIter(ctx, "G")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(300), entries[0].CreationTime)
	assert.Equal(t, int64(200), entries[1].CreationTime)
	assert.Equal(t, int64(100), entries[2].CreationTime)
}
