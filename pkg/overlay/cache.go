// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package overlay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/gridvault/gridvault/pkg/grid"
	"github.com/gridvault/gridvault/storage"
)

var mon = monkit.Package()

// Cache is a Directory over a key/value store.
type Cache struct {
	log *zap.Logger
	db  storage.KeyValueStore

	// serializes read-modify-write of uptime counters
	mu sync.Mutex
}

// NewCache creates a peer directory cache over db.
func NewCache(log *zap.Logger, db storage.KeyValueStore) *Cache {
	return &Cache{log: log, db: db}
}

// Close closes resources.
func (cache *Cache) Close() error { return cache.db.Close() }

func peerKey(id grid.PeerID) storage.Key { return storage.Key(id.String()) }

// ListPeers returns all known peers.
func (cache *Cache) ListPeers(ctx context.Context) (_ []grid.PeerRecord, err error) {
	defer mon.Task()(&ctx)(&err)

	var peers []grid.PeerRecord
	err = cache.db.Iterate(nil, func(item storage.ListItem) error {
		var record grid.PeerRecord
		if err := json.Unmarshal(item.Value, &record); err != nil {
			return Error.Wrap(err)
		}
		peers = append(peers, record)
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return peers, nil
}

// Get looks up the provided peer id from the directory.
func (cache *Cache) Get(ctx context.Context, id grid.PeerID) (_ grid.PeerRecord, err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := cache.db.Get(peerKey(id))
	if storage.ErrKeyNotFound.Has(err) {
		return grid.PeerRecord{}, ErrPeerNotFound.New("%s", id)
	}
	if err != nil {
		return grid.PeerRecord{}, Error.Wrap(err)
	}
	var record grid.PeerRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return grid.PeerRecord{}, Error.Wrap(err)
	}
	return record, nil
}

// Update inserts or replaces a peer record.
func (cache *Cache) Update(ctx context.Context, record grid.PeerRecord) (err error) {
	defer mon.Task()(&ctx)(&err)

	if record.ID.IsZero() {
		return Error.New("empty peer id")
	}
	if record.FirstSeen.IsZero() {
		record.FirstSeen = time.Now()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(cache.db.Put(peerKey(record.ID), data))
}

// RecordSuccess notes that an operation against the peer succeeded.
func (cache *Cache) RecordSuccess(ctx context.Context, id grid.PeerID) error {
	return cache.observe(ctx, id, true)
}

// RecordFailure notes that an operation against the peer failed.
func (cache *Cache) RecordFailure(ctx context.Context, id grid.PeerID) error {
	return cache.observe(ctx, id, false)
}

func (cache *Cache) observe(ctx context.Context, id grid.PeerID, success bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	cache.mu.Lock()
	defer cache.mu.Unlock()

	record, err := cache.Get(ctx, id)
	if err != nil {
		return err
	}
	record.Probes++
	if success {
		record.LastSeen = time.Now()
	} else {
		record.Failures++
	}
	return cache.Update(ctx, record)
}
