// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package overlay_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gridvault/gridvault/internal/testrand"
	"github.com/gridvault/gridvault/pkg/grid"
	"github.com/gridvault/gridvault/pkg/overlay"
	"github.com/gridvault/gridvault/storage/teststore"
)

func newCache(t *testing.T) *overlay.Cache {
	return overlay.NewCache(zaptest.NewLogger(t), teststore.New())
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	cache := newCache(t)
	defer func() { require.NoError(t, cache.Close()) }()

	id := testrand.PeerID()
	_, err := cache.Get(ctx, id)
	require.True(t, overlay.ErrPeerNotFound.Has(err))

	record := grid.PeerRecord{ID: id, Address: "127.0.0.1:7777"}
	require.NoError(t, cache.Update(ctx, record))

	got, err := cache.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, record.Address, got.Address)
	assert.False(t, got.FirstSeen.IsZero())

	peers, err := cache.ListPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, id, peers[0].ID)

	require.Error(t, cache.Update(ctx, grid.PeerRecord{}))
}

func TestCacheObservations(t *testing.T) {
	ctx := context.Background()
	cache := newCache(t)
	defer func() { require.NoError(t, cache.Close()) }()

	id := testrand.PeerID()
	require.NoError(t, cache.Update(ctx, grid.PeerRecord{ID: id}))

	require.NoError(t, cache.RecordSuccess(ctx, id))
	require.NoError(t, cache.RecordSuccess(ctx, id))
	require.NoError(t, cache.RecordFailure(ctx, id))

	got, err := cache.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Probes)
	assert.Equal(t, int64(1), got.Failures)
	assert.False(t, got.LastSeen.IsZero())

	err = cache.RecordFailure(ctx, testrand.PeerID())
	require.True(t, overlay.ErrPeerNotFound.Has(err))
}

func TestPickPeers(t *testing.T) {
	ctx := context.Background()
	cache := newCache(t)
	defer func() { require.NoError(t, cache.Close()) }()

	var first grid.PeerID
	for i := 0; i < 10; i++ {
		id := testrand.PeerID()
		if i == 0 {
			first = id
		}
		require.NoError(t, cache.Update(ctx, grid.PeerRecord{
			ID:        id,
			FirstSeen: time.Now().Add(-time.Hour),
		}))
	}

	picked, err := overlay.PickPeers(ctx, cache, 6, nil)
	require.NoError(t, err)
	require.Len(t, picked, 6)
	seen := make(map[grid.PeerID]bool)
	for _, peer := range picked {
		assert.False(t, seen[peer.ID], "peer picked twice")
		seen[peer.ID] = true
	}

	exclude := map[grid.PeerID]bool{first: true}
	picked, err = overlay.PickPeers(ctx, cache, 9, exclude)
	require.NoError(t, err)
	for _, peer := range picked {
		assert.NotEqual(t, first, peer.ID)
	}

	_, err = overlay.PickPeers(ctx, cache, 10, exclude)
	require.Error(t, err)
}
