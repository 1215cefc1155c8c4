// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package testgrid wires a whole grid in process: peers with in-memory
// share stores, an overlay directory, a catalog, and the client-side
// stores, with controllable peer outages.
package testgrid

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gridvault/gridvault/internal/memory"
	"github.com/gridvault/gridvault/internal/testrand"
	"github.com/gridvault/gridvault/pkg/catalog"
	"github.com/gridvault/gridvault/pkg/ec"
	"github.com/gridvault/gridvault/pkg/grid"
	"github.com/gridvault/gridvault/pkg/immutable"
	"github.com/gridvault/gridvault/pkg/mutable"
	"github.com/gridvault/gridvault/pkg/overlay"
	"github.com/gridvault/gridvault/pkg/sharestore"
	"github.com/gridvault/gridvault/pkg/sharestore/ssclient"
	"github.com/gridvault/gridvault/storage/teststore"
)

// Peer is one in-process storage peer.
type Peer struct {
	Record grid.PeerRecord
	DB     *sharestore.DB
}

// Grid is an in-process grid for tests.
type Grid struct {
	Scheme    grid.RedundancyScheme
	Peers     []*Peer
	Dir       *overlay.Cache
	Catalog   *catalog.DB
	EC        *ec.Client
	Immutable *immutable.Store
	Mutable   *mutable.Store

	mu      sync.Mutex
	offline map[grid.PeerID]bool
}

// New creates a grid with the given number of peers.
func New(t *testing.T, peerCount int, scheme grid.RedundancyScheme) *Grid {
	log := zaptest.NewLogger(t)
	ctx := context.Background()

	g := &Grid{
		Scheme:  scheme,
		Dir:     overlay.NewCache(log.Named("overlay"), teststore.New()),
		Catalog: catalog.New(log.Named("catalog"), teststore.New()),
		offline: make(map[grid.PeerID]bool),
	}

	now := time.Now()
	for i := 0; i < peerCount; i++ {
		db, err := sharestore.New(log.Named(fmt.Sprintf("peer%d", i)), teststore.New(), teststore.New(), sharestore.Config{})
		require.NoError(t, err)

		peer := &Peer{
			Record: grid.PeerRecord{
				ID:        testrand.PeerID(),
				Address:   fmt.Sprintf("peer%d.test:7777", i),
				FirstSeen: now.Add(-30 * 24 * time.Hour),
				LastSeen:  now,
				Probes:    100,
			},
			DB: db,
		}
		require.NoError(t, g.Dir.Update(ctx, peer.Record))
		g.Peers = append(g.Peers, peer)
	}

	g.EC = ec.NewClient(log.Named("ec"), g.Dial, g.Dir)

	var err error
	g.Immutable, err = immutable.NewStore(log.Named("immutable"), g.EC, g.Dir, g.Catalog, scheme, immutable.Config{
		MaxObjectSize: 64 * memory.MiB,
	})
	require.NoError(t, err)

	g.Mutable, err = mutable.NewStore(log.Named("mutable"), g.Dial, g.Dir, g.Catalog, scheme)
	require.NoError(t, err)

	return g
}

// Dial is an ssclient.Dialer that connects to the in-process peer, or
// fails with a transport error when the peer is marked offline.
func (g *Grid) Dial(ctx context.Context, record grid.PeerRecord) (ssclient.Client, error) {
	g.mu.Lock()
	offline := g.offline[record.ID]
	g.mu.Unlock()
	if offline {
		return nil, ssclient.ErrTransport.New("peer %s is offline", record.ID)
	}
	peer := g.Peer(record.ID)
	if peer == nil {
		return nil, ssclient.ErrTransport.New("no such peer %s", record.ID)
	}
	return localClient{db: peer.DB}, nil
}

// Peer returns the peer with the given id, or nil.
func (g *Grid) Peer(id grid.PeerID) *Peer {
	for _, peer := range g.Peers {
		if peer.Record.ID == id {
			return peer
		}
	}
	return nil
}

// SetOffline marks a peer unreachable, or reachable again.
func (g *Grid) SetOffline(id grid.PeerID, offline bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.offline[id] = offline
}

// OfflineCount returns how many peers are currently marked offline.
func (g *Grid) OfflineCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	count := 0
	for _, offline := range g.offline {
		if offline {
			count++
		}
	}
	return count
}

// localClient adapts one peer's share store to the client interface,
// bypassing the wire.
type localClient struct {
	db *sharestore.DB
}

func (client localClient) PutShare(ctx context.Context, index grid.StorageIndex, num int, data []byte) error {
	return client.db.PutShare(ctx, index, num, data)
}

func (client localClient) GetShare(ctx context.Context, index grid.StorageIndex, num int) ([]byte, error) {
	return client.db.GetShare(ctx, index, num)
}

func (client localClient) HasShare(ctx context.Context, index grid.StorageIndex, num int) (bool, error) {
	return client.db.HasShare(ctx, index, num)
}

func (client localClient) DeleteShare(ctx context.Context, index grid.StorageIndex, num int) error {
	return client.db.DeleteShare(ctx, index, num)
}

func (client localClient) GetSlot(ctx context.Context, index grid.StorageIndex) (uint64, []byte, error) {
	slot, err := client.db.GetSlot(ctx, index)
	if err != nil {
		return 0, nil, err
	}
	return slot.Version, slot.Payload, nil
}

func (client localClient) PutSlot(ctx context.Context, index grid.StorageIndex, expectedVersion, newVersion uint64, enabler, payload []byte) (uint64, error) {
	return client.db.PutSlot(ctx, index, expectedVersion, sharestore.Slot{
		Version: newVersion,
		Enabler: enabler,
		Payload: payload,
	})
}

func (client localClient) Close() error { return nil }
