// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package sharestore

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/gridvault/gridvault/internal/memory"
	"github.com/gridvault/gridvault/pkg/grid"
	"github.com/gridvault/gridvault/storage"
)

var mon = monkit.Package()

// Config contains configurable values for the peer share store.
type Config struct {
	Capacity memory.Size `help:"total bytes of shares and slots the peer will hold, 0 means unlimited" default:"0"`
}

// Slot is the stored state of a mutable slot.
type Slot struct {
	// Version is the slot's current version number.
	Version uint64 `json:"version"`
	// Enabler is the write enabler presented on the first write; later
	// writes must present the same value.
	Enabler []byte `json:"enabler"`
	// Payload is the opaque slot payload (header, signature and share).
	Payload []byte `json:"payload"`
}

// DB holds the shares and mutable slots stored on one peer.
//
// Conditional slot writes are applied one at a time, so writes against the
// same slot are linearizable from this peer's point of view.
type DB struct {
	log *zap.Logger

	shares storage.KeyValueStore
	slots  storage.KeyValueStore

	mu       sync.Mutex
	capacity int64
	used     int64
}

// New creates a share store DB over the given key/value stores.
func New(log *zap.Logger, shares, slots storage.KeyValueStore, config Config) (*DB, error) {
	db := &DB{
		log:      log,
		shares:   shares,
		slots:    slots,
		capacity: config.Capacity.Int64(),
	}
	if err := db.recountUsage(); err != nil {
		return nil, err
	}
	return db, nil
}

// recountUsage recomputes the stored byte count after a restart.
func (db *DB) recountUsage() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.used = 0
	err := db.shares.Iterate(nil, func(item storage.ListItem) error {
		db.used += int64(len(item.Value))
		return nil
	})
	if err != nil {
		return Error.Wrap(err)
	}
	err = db.slots.Iterate(nil, func(item storage.ListItem) error {
		db.used += int64(len(item.Value))
		return nil
	})
	return Error.Wrap(err)
}

// reserve accounts for delta bytes, failing when capacity would be
// exceeded.
func (db *DB) reserve(delta int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.capacity > 0 && db.used+delta > db.capacity {
		return ErrOutOfSpace.New("used %d of %d bytes", db.used, db.capacity)
	}
	db.used += delta
	return nil
}

func shareKey(index grid.StorageIndex, num int) storage.Key {
	return storage.Key(fmt.Sprintf("%s/%03d", index, num))
}

func slotKey(index grid.StorageIndex) storage.Key {
	return storage.Key(index.String())
}

// PutShare stores a share payload. Storing the same payload again is a
// no-op, so retried uploads are idempotent.
func (db *DB) PutShare(ctx context.Context, index grid.StorageIndex, num int, data []byte) (err error) {
	defer mon.Task()(&ctx)(&err)

	existing, err := db.shares.Get(shareKey(index, num))
	if err == nil {
		// content addressed: an existing share for this key is the
		// same bytes unless the peer's disk is corrupt
		if len(existing) == len(data) {
			return nil
		}
		if err := db.reserve(int64(len(data) - len(existing))); err != nil {
			return err
		}
		return Error.Wrap(db.shares.Put(shareKey(index, num), data))
	}
	if !storage.ErrKeyNotFound.Has(err) {
		return Error.Wrap(err)
	}

	if err := db.reserve(int64(len(data))); err != nil {
		return err
	}
	if err := db.shares.Put(shareKey(index, num), data); err != nil {
		db.release(int64(len(data)))
		return Error.Wrap(err)
	}
	return nil
}

func (db *DB) release(delta int64) {
	db.mu.Lock()
	db.used -= delta
	if db.used < 0 {
		db.used = 0
	}
	db.mu.Unlock()
}

// GetShare returns a stored share payload.
func (db *DB) GetShare(ctx context.Context, index grid.StorageIndex, num int) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := db.shares.Get(shareKey(index, num))
	if storage.ErrKeyNotFound.Has(err) {
		return nil, ErrNotFound.New("share %s/%d", index, num)
	}
	return data, Error.Wrap(err)
}

// HasShare reports whether a share is held by this peer.
func (db *DB) HasShare(ctx context.Context, index grid.StorageIndex, num int) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.shares.Get(shareKey(index, num))
	if storage.ErrKeyNotFound.Has(err) {
		return false, nil
	}
	if err != nil {
		return false, Error.Wrap(err)
	}
	return true, nil
}

// DeleteShare evicts a share from this peer.
func (db *DB) DeleteShare(ctx context.Context, index grid.StorageIndex, num int) (err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := db.shares.Get(shareKey(index, num))
	if storage.ErrKeyNotFound.Has(err) {
		return ErrNotFound.New("share %s/%d", index, num)
	}
	if err != nil {
		return Error.Wrap(err)
	}
	if err := db.shares.Delete(shareKey(index, num)); err != nil {
		return Error.Wrap(err)
	}
	db.release(int64(len(data)))
	return nil
}

// GetSlot returns the current state of a mutable slot.
func (db *DB) GetSlot(ctx context.Context, index grid.StorageIndex) (_ Slot, err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := db.slots.Get(slotKey(index))
	if storage.ErrKeyNotFound.Has(err) {
		return Slot{}, ErrNotFound.New("slot %s", index)
	}
	if err != nil {
		return Slot{}, Error.Wrap(err)
	}
	var slot Slot
	if err := json.Unmarshal(data, &slot); err != nil {
		return Slot{}, Error.Wrap(err)
	}
	return slot, nil
}

// PutSlot applies a conditional write to a mutable slot. The write is
// accepted only when the stored version matches expectedVersion (zero for
// a slot that does not exist yet), the new version is higher than the
// expected one, and the write enabler matches the one stored on first
// write. On a version mismatch the current version is returned with
// ErrVersionConflict.
func (db *DB) PutSlot(ctx context.Context, index grid.StorageIndex, expectedVersion uint64, slot Slot) (currentVersion uint64, err error) {
	defer mon.Task()(&ctx)(&err)

	// conditional writes to a slot apply one at a time
	db.mu.Lock()
	defer db.mu.Unlock()

	if slot.Version <= expectedVersion {
		return 0, Error.New("new version %d not above expected %d", slot.Version, expectedVersion)
	}

	var existingSize int64
	existing, err := db.slots.Get(slotKey(index))
	switch {
	case storage.ErrKeyNotFound.Has(err):
		if expectedVersion != 0 {
			return 0, ErrVersionConflict.New("slot %s does not exist, expected version %d", index, expectedVersion)
		}
	case err != nil:
		return 0, Error.Wrap(err)
	default:
		var stored Slot
		if err := json.Unmarshal(existing, &stored); err != nil {
			return 0, Error.Wrap(err)
		}
		if !hmac.Equal(stored.Enabler, slot.Enabler) {
			return stored.Version, ErrUnauthorized.New("write enabler mismatch for slot %s", index)
		}
		if stored.Version != expectedVersion {
			return stored.Version, ErrVersionConflict.New("slot %s at version %d, expected %d", index, stored.Version, expectedVersion)
		}
		existingSize = int64(len(existing))
	}

	data, err := json.Marshal(slot)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	delta := int64(len(data)) - existingSize
	if db.capacity > 0 && db.used+delta > db.capacity {
		return expectedVersion, ErrOutOfSpace.New("used %d of %d bytes", db.used, db.capacity)
	}
	if err := db.slots.Put(slotKey(index), data); err != nil {
		return 0, Error.Wrap(err)
	}
	db.used += delta
	return slot.Version, nil
}
