// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package repair_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gridvault/gridvault/internal/memory"
	"github.com/gridvault/gridvault/internal/testgrid"
	"github.com/gridvault/gridvault/internal/testrand"
	"github.com/gridvault/gridvault/pkg/grid"
	"github.com/gridvault/gridvault/pkg/repair"
	"github.com/gridvault/gridvault/storage/teststore"
)

func testScheme() grid.RedundancyScheme {
	return grid.RedundancyScheme{RequiredShares: 3, TotalShares: 6, HappyShares: 5}
}

func newChecker(t *testing.T, g *testgrid.Grid, queue *repair.Queue) *repair.Checker {
	return repair.NewChecker(zaptest.NewLogger(t), g.Catalog, g.Immutable, g.Mutable, queue, time.Hour)
}

func newService(t *testing.T, g *testgrid.Grid, queue *repair.Queue) *repair.Service {
	return repair.NewService(zaptest.NewLogger(t), queue, g.Catalog, g.Immutable, g.Mutable, repair.Config{
		Interval:  time.Hour,
		MaxRepair: 2,
	})
}

func TestCheckerFindsInjuredFiles(t *testing.T) {
	ctx := context.Background()
	scheme := testScheme()
	g := testgrid.New(t, 10, scheme)

	capability, err := g.Immutable.Upload(ctx, testrand.Bytes(4*memory.KiB.Int()))
	require.NoError(t, err)

	queue := repair.NewQueue(teststore.New())
	checker := newChecker(t, g, queue)

	// a fully healthy file is not enqueued
	require.NoError(t, checker.IdentifyInjured(ctx))
	_, err = queue.Dequeue(ctx)
	require.Error(t, err)
	assert.True(t, repair.ErrEmptyQueue.Has(err))

	record, err := g.Catalog.Get(ctx, capability.Index)
	require.NoError(t, err)
	downed := 0
	for _, id := range record.Holders {
		if downed == 2 {
			break
		}
		g.SetOffline(id, true)
		downed++
	}

	require.NoError(t, checker.IdentifyInjured(ctx))

	injured, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, capability.Index, injured.Index)
	assert.False(t, injured.Mutable)
	assert.Equal(t, scheme.TotalShares-2, injured.Healthy)
	assert.Len(t, injured.Missing, 2)

	_, err = queue.Dequeue(ctx)
	require.Error(t, err)
	assert.True(t, repair.ErrEmptyQueue.Has(err))
}

func TestRepairRestoresRedundancy(t *testing.T) {
	ctx := context.Background()
	scheme := testScheme()
	g := testgrid.New(t, 10, scheme)

	data := testrand.Bytes(16 * memory.KiB.Int())
	capability, err := g.Immutable.Upload(ctx, data)
	require.NoError(t, err)

	record, err := g.Catalog.Get(ctx, capability.Index)
	require.NoError(t, err)
	downed := 0
	for _, id := range record.Holders {
		if downed == 2 {
			break
		}
		g.SetOffline(id, true)
		downed++
	}

	queue := repair.NewQueue(teststore.New())
	service := newService(t, g, queue)
	require.NoError(t, service.Repair(ctx, capability.Index))

	// full redundancy again, even with the lost holders still offline
	repaired, err := g.Catalog.Get(ctx, capability.Index)
	require.NoError(t, err)
	healthy, err := g.Immutable.Health(ctx, repaired)
	require.NoError(t, err)
	assert.Len(t, healthy, scheme.TotalShares)

	// the capability still resolves the same content
	got, err := g.Immutable.Download(ctx, capability)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// re-running repair on the repaired file is a no-op
	before := repaired.Holders
	require.NoError(t, service.Repair(ctx, capability.Index))
	after, err := g.Catalog.Get(ctx, capability.Index)
	require.NoError(t, err)
	assert.Equal(t, before, after.Holders)
}

func TestRepairReportsFileLost(t *testing.T) {
	ctx := context.Background()
	scheme := testScheme()
	g := testgrid.New(t, 10, scheme)

	capability, err := g.Immutable.Upload(ctx, testrand.Bytes(4*memory.KiB.Int()))
	require.NoError(t, err)

	// fewer than the required shares survive
	record, err := g.Catalog.Get(ctx, capability.Index)
	require.NoError(t, err)
	downed := 0
	for _, id := range record.Holders {
		if downed == scheme.TotalShares-scheme.RequiredShares+1 {
			break
		}
		g.SetOffline(id, true)
		downed++
	}

	queue := repair.NewQueue(teststore.New())
	service := newService(t, g, queue)
	err = service.Repair(ctx, capability.Index)
	require.Error(t, err)
	assert.True(t, grid.ErrFileLost.Has(err))
}

func TestServiceRunDrainsQueue(t *testing.T) {
	ctx := context.Background()
	scheme := testScheme()
	g := testgrid.New(t, 10, scheme)

	data := testrand.Bytes(4 * memory.KiB.Int())
	capability, err := g.Immutable.Upload(ctx, data)
	require.NoError(t, err)

	record, err := g.Catalog.Get(ctx, capability.Index)
	require.NoError(t, err)
	for _, id := range record.Holders {
		g.SetOffline(id, true)
		break
	}

	queue := repair.NewQueue(teststore.New())
	require.NoError(t, newChecker(t, g, queue).IdentifyInjured(ctx))

	service := newService(t, g, queue)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- service.Run(runCtx) }()

	deadline := time.Now().Add(10 * time.Second)
	for {
		current, err := g.Catalog.Get(ctx, capability.Index)
		require.NoError(t, err)
		healthy, err := g.Immutable.Health(ctx, current)
		if err == nil && len(healthy) == scheme.TotalShares {
			break
		}
		require.True(t, time.Now().Before(deadline), "repair did not complete in time")
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	require.NoError(t, <-done)

	got, err := g.Immutable.Download(ctx, capability)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRepairMutableSlot(t *testing.T) {
	ctx := context.Background()
	scheme := testScheme()
	g := testgrid.New(t, 10, scheme)

	capability, err := g.Mutable.Create(ctx, []byte("first"))
	require.NoError(t, err)

	record, err := g.Catalog.Get(ctx, capability.Index)
	require.NoError(t, err)
	downed := 0
	for _, id := range record.Holders {
		if downed == 2 {
			break
		}
		g.SetOffline(id, true)
		downed++
	}

	// the slot moves on while two holders are down
	content := testrand.Bytes(4 * memory.KiB.Int())
	require.NoError(t, g.Mutable.Update(ctx, capability, func(current []byte) ([]byte, error) {
		return content, nil
	}))

	queue := repair.NewQueue(teststore.New())
	checker := newChecker(t, g, queue)
	require.NoError(t, checker.IdentifyInjured(ctx))

	injured, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, capability.Index, injured.Index)
	assert.True(t, injured.Mutable)

	service := newService(t, g, queue)
	require.NoError(t, service.Repair(ctx, capability.Index))

	// every share of the current version is held again
	repaired, err := g.Catalog.Get(ctx, capability.Index)
	require.NoError(t, err)
	healthy, err := g.Mutable.Health(ctx, repaired)
	require.NoError(t, err)
	assert.Len(t, healthy, scheme.TotalShares)

	version, err := g.Mutable.Version(ctx, capability)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)

	got, err := g.Mutable.Read(ctx, capability)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}
