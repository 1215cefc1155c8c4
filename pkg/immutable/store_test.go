// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package immutable_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gridvault/gridvault/internal/memory"
	"github.com/gridvault/gridvault/internal/testgrid"
	"github.com/gridvault/gridvault/internal/testrand"
	"github.com/gridvault/gridvault/pkg/caps"
	"github.com/gridvault/gridvault/pkg/catalog"
	"github.com/gridvault/gridvault/pkg/erasure"
	"github.com/gridvault/gridvault/pkg/grid"
	"github.com/gridvault/gridvault/pkg/immutable"
)

func testScheme() grid.RedundancyScheme {
	return grid.RedundancyScheme{RequiredShares: 3, TotalShares: 6, HappyShares: 5}
}

func TestUploadDownload(t *testing.T) {
	ctx := context.Background()
	g := testgrid.New(t, 8, testScheme())

	for _, size := range []int{0, 1, 1000, 64 * memory.KiB.Int()} {
		data := testrand.Bytes(size)

		capability, err := g.Immutable.Upload(ctx, data)
		require.NoError(t, err)
		require.Equal(t, caps.KindImmutable, capability.Kind)
		require.Equal(t, caps.TierRead, capability.Tier)

		got, err := g.Immutable.Download(ctx, capability)
		require.NoError(t, err)
		require.Equal(t, data, got)
	}
}

func TestUploadIdempotent(t *testing.T) {
	ctx := context.Background()
	g := testgrid.New(t, 8, testScheme())

	data := testrand.Bytes(4 * memory.KiB.Int())

	first, err := g.Immutable.Upload(ctx, data)
	require.NoError(t, err)
	second, err := g.Immutable.Upload(ctx, data)
	require.NoError(t, err)

	// identical content is content-addressed: same capability, one entry
	assert.Equal(t, first.String(), second.String())

	count := 0
	require.NoError(t, g.Catalog.Iterate(ctx, func(catalog.FileRecord) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count)

	got, err := g.Immutable.Download(ctx, first)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestDownloadSurvivesPeerLoss(t *testing.T) {
	ctx := context.Background()
	scheme := testScheme()
	g := testgrid.New(t, 8, scheme)

	data := testrand.Bytes(16 * memory.KiB.Int())
	capability, err := g.Immutable.Upload(ctx, data)
	require.NoError(t, err)

	record, err := g.Catalog.Get(ctx, capability.Index)
	require.NoError(t, err)
	require.Len(t, record.Holders, scheme.TotalShares)

	// take holders offline down to exactly the required share count
	var downed []grid.PeerID
	for _, id := range record.Holders {
		if len(downed) == scheme.TotalShares-scheme.RequiredShares {
			break
		}
		g.SetOffline(id, true)
		downed = append(downed, id)
	}

	got, err := g.Immutable.Download(ctx, capability)
	require.NoError(t, err)
	require.Equal(t, data, got)

	// one more loss leaves fewer than the required shares
	more := 0
	for _, id := range record.Holders {
		alreadyDown := false
		for _, down := range downed {
			if down == id {
				alreadyDown = true
			}
		}
		if !alreadyDown && more == 0 {
			g.SetOffline(id, true)
			more++
		}
	}
	require.Equal(t, 1, more)

	_, err = g.Immutable.Download(ctx, capability)
	require.Error(t, err)
	assert.True(t, erasure.ErrInsufficientShares.Has(err))
}

func TestUploadIncomplete(t *testing.T) {
	ctx := context.Background()
	scheme := testScheme()
	g := testgrid.New(t, 8, scheme)

	// with half the grid down, fewer peers can acknowledge than the
	// success threshold demands
	for i := 0; i < 4; i++ {
		g.SetOffline(g.Peers[i].Record.ID, true)
	}

	capability, err := g.Immutable.Upload(ctx, testrand.Bytes(4*memory.KiB.Int()))
	require.Error(t, err)
	assert.True(t, immutable.ErrUploadIncomplete.Has(err))
	assert.Nil(t, capability)

	// nothing was committed on behalf of the failed upload
	count := 0
	require.NoError(t, g.Catalog.Iterate(ctx, func(record catalog.FileRecord) error {
		count++
		return nil
	}))
	assert.Zero(t, count)
}

func TestUploadTooLarge(t *testing.T) {
	ctx := context.Background()
	g := testgrid.New(t, 8, testScheme())

	store, err := immutable.NewStore(zaptest.NewLogger(t), g.EC, g.Dir, g.Catalog, testScheme(), immutable.Config{
		MaxObjectSize: memory.KiB,
	})
	require.NoError(t, err)

	_, err = store.Upload(ctx, testrand.Bytes(2*memory.KiB.Int()))
	require.Error(t, err)
	assert.True(t, immutable.ErrObjectTooLarge.Has(err))
}

func TestDownloadDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	scheme := testScheme()
	g := testgrid.New(t, 8, scheme)

	data := testrand.Bytes(8 * memory.KiB.Int())
	capability, err := g.Immutable.Upload(ctx, data)
	require.NoError(t, err)

	record, err := g.Catalog.Get(ctx, capability.Index)
	require.NoError(t, err)

	// flip one stored share and take the rest down to the minimum, so
	// the download has no clean replacement for the corrupted share
	kept := 0
	for num, id := range record.Holders {
		peer := g.Peer(id)
		require.NotNil(t, peer)
		if kept < scheme.RequiredShares {
			if kept == 0 {
				stored, err := peer.DB.GetShare(ctx, capability.Index, num)
				require.NoError(t, err)
				stored[len(stored)-1] ^= 0xff
				require.NoError(t, peer.DB.DeleteShare(ctx, capability.Index, num))
				require.NoError(t, peer.DB.PutShare(ctx, capability.Index, num, stored))
			}
			kept++
			continue
		}
		g.SetOffline(id, true)
	}

	_, err = g.Immutable.Download(ctx, capability)
	require.Error(t, err)
	assert.True(t, caps.ErrIntegrityFailure.Has(err))
}

func TestCheckWithVerifyCapability(t *testing.T) {
	ctx := context.Background()
	scheme := testScheme()
	g := testgrid.New(t, 8, scheme)

	capability, err := g.Immutable.Upload(ctx, testrand.Bytes(4*memory.KiB.Int()))
	require.NoError(t, err)

	verifyCap, err := capability.Verify()
	require.NoError(t, err)
	require.Nil(t, verifyCap.ReadKey)

	healthy, err := g.Immutable.Check(ctx, verifyCap)
	require.NoError(t, err)
	assert.Equal(t, scheme.TotalShares, healthy)
}
