// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package catalog implements the grid-side registry of stored files: which
// storage index lives on which peers under which redundancy scheme. The
// repair checker walks it to audit share health.
package catalog

import (
	"context"
	"encoding/json"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/gridvault/gridvault/pkg/grid"
	"github.com/gridvault/gridvault/storage"
)

var (
	// Error is the default catalog errs class.
	Error = errs.Class("catalog error")

	// ErrFileNotFound is returned when a storage index is not registered.
	ErrFileNotFound = errs.Class("file not found")

	mon = monkit.Package()
)

// FileRecord registers one stored file.
type FileRecord struct {
	Index   grid.StorageIndex     `json:"index"`
	Mutable bool                  `json:"mutable"`
	Scheme  grid.RedundancyScheme `json:"scheme"`

	// Holders maps share number to the peer expected to hold it.
	Holders map[int]grid.PeerID `json:"holders"`

	// Root is the manifest root digest for immutable files.
	Root []byte `json:"root,omitempty"`
	// Fingerprint is the verification key digest for mutable files.
	Fingerprint []byte `json:"fingerprint,omitempty"`
	// WriteKey retains the write secret for mutable files this client
	// created, so background repair can re-place shares on its behalf.
	// The catalog therefore holds write authority and is as sensitive as
	// the capabilities themselves.
	WriteKey []byte `json:"write_key,omitempty"`
}

// DB stores file records over a key/value store.
type DB struct {
	log *zap.Logger
	db  storage.KeyValueStore
}

// New creates a catalog over db.
func New(log *zap.Logger, db storage.KeyValueStore) *DB {
	return &DB{log: log, db: db}
}

// Close closes resources.
func (catalog *DB) Close() error { return catalog.db.Close() }

func fileKey(index grid.StorageIndex) storage.Key {
	return storage.Key(index.String())
}

// Put inserts or replaces a file record.
func (catalog *DB) Put(ctx context.Context, record FileRecord) (err error) {
	defer mon.Task()(&ctx)(&err)

	if record.Index.IsZero() {
		return Error.New("empty storage index")
	}
	if err := record.Scheme.Validate(); err != nil {
		return Error.Wrap(err)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(catalog.db.Put(fileKey(record.Index), data))
}

// Get looks up a file record.
func (catalog *DB) Get(ctx context.Context, index grid.StorageIndex) (_ FileRecord, err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := catalog.db.Get(fileKey(index))
	if storage.ErrKeyNotFound.Has(err) {
		return FileRecord{}, ErrFileNotFound.New("%s", index)
	}
	if err != nil {
		return FileRecord{}, Error.Wrap(err)
	}
	var record FileRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return FileRecord{}, Error.Wrap(err)
	}
	return record, nil
}

// Delete removes a file record.
func (catalog *DB) Delete(ctx context.Context, index grid.StorageIndex) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = catalog.db.Delete(fileKey(index))
	if storage.ErrKeyNotFound.Has(err) {
		return ErrFileNotFound.New("%s", index)
	}
	return Error.Wrap(err)
}

// Iterate walks all registered files.
func (catalog *DB) Iterate(ctx context.Context, fn func(FileRecord) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	return catalog.db.Iterate(nil, func(item storage.ListItem) error {
		var record FileRecord
		if err := json.Unmarshal(item.Value, &record); err != nil {
			return Error.Wrap(err)
		}
		return fn(record)
	})
}
