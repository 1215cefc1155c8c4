// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package repair

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/gridvault/gridvault/pkg/grid"
	"github.com/gridvault/gridvault/storage"
)

// InjuredFile names a file the checker found below full redundancy.
type InjuredFile struct {
	Index   grid.StorageIndex `json:"index"`
	Mutable bool              `json:"mutable"`
	// Healthy is the number of shares still held when the file was
	// enqueued. The repairer re-audits before acting on it.
	Healthy int `json:"healthy"`
	// Missing lists the share numbers no holder could produce.
	Missing []int `json:"missing"`
}

// Queue is a durable FIFO of injured files awaiting repair, ordered by
// enqueue time.
type Queue struct {
	mu sync.Mutex
	db storage.KeyValueStore
}

// NewQueue creates a repair queue over a key/value store.
func NewQueue(db storage.KeyValueStore) *Queue {
	return &Queue{db: db}
}

// Close closes the underlying store.
func (queue *Queue) Close() error { return queue.db.Close() }

// Enqueue adds an injured file to the queue.
func (queue *Queue) Enqueue(ctx context.Context, file InjuredFile) (err error) {
	defer mon.Task()(&ctx)(&err)

	queue.mu.Lock()
	defer queue.mu.Unlock()

	// keys order by enqueue time; the random suffix keeps concurrent
	// enqueues within one clock tick from colliding
	key := make([]byte, 8, 12)
	binary.BigEndian.PutUint64(key, uint64(time.Now().UnixNano()))
	var token [4]byte
	if _, err := rand.Read(token[:]); err != nil {
		return Error.Wrap(err)
	}
	key = append(key, token[:]...)

	value, err := json.Marshal(file)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(queue.db.Put(key, value))
}

// Dequeue removes and returns the oldest injured file, or ErrEmptyQueue.
func (queue *Queue) Dequeue(ctx context.Context) (_ InjuredFile, err error) {
	defer mon.Task()(&ctx)(&err)

	queue.mu.Lock()
	defer queue.mu.Unlock()

	keys, err := queue.db.List(nil, 1)
	if err != nil {
		return InjuredFile{}, Error.Wrap(err)
	}
	if len(keys) == 0 {
		return InjuredFile{}, ErrEmptyQueue.New("")
	}

	value, err := queue.db.Get(keys[0])
	if err != nil {
		return InjuredFile{}, Error.Wrap(err)
	}
	if err := queue.db.Delete(keys[0]); err != nil {
		return InjuredFile{}, Error.Wrap(err)
	}

	var file InjuredFile
	if err := json.Unmarshal(value, &file); err != nil {
		return InjuredFile{}, Error.Wrap(err)
	}
	return file, nil
}
