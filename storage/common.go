// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package storage defines the key/value store interface used by the
// peer-side share store, the overlay cache, the file catalog and the
// repair queue.
package storage

import (
	"bytes"

	"github.com/zeebo/errs"
)

var (
	// ErrKeyNotFound is returned when a key is not found in the store.
	ErrKeyNotFound = errs.Class("key not found")
	// ErrEmptyKey is returned when an empty key is used.
	ErrEmptyKey = errs.Class("empty key")
)

// Key is the type for the keys in a KeyValueStore.
type Key []byte

// Value is the type for the values in a KeyValueStore.
type Value []byte

// Keys is the type for a slice of keys in a KeyValueStore.
type Keys []Key

// ListItem is a single key/value pair.
type ListItem struct {
	Key   Key
	Value Value
}

// KeyValueStore describes a key/value store like boltdb or the in-memory
// test store.
type KeyValueStore interface {
	// Put adds a value to the provided key, replacing any existing value.
	Put(Key, Value) error
	// Get returns the value for a key, or ErrKeyNotFound.
	Get(Key) (Value, error)
	// Delete removes a key, or returns ErrKeyNotFound.
	Delete(Key) error
	// List returns up to limit keys, in order, starting at first.
	List(first Key, limit int) (Keys, error)
	// Iterate walks all items with the given prefix in key order.
	// Returning an error from fn stops the iteration.
	Iterate(prefix Key, fn func(ListItem) error) error
	// Close closes the store.
	Close() error
}

// IsZero returns true if the key is its zero value.
func (k Key) IsZero() bool { return len(k) == 0 }

// String implements the Stringer interface.
func (k Key) String() string { return string(k) }

// Less returns whether key is smaller than b.
func (k Key) Less(b Key) bool { return bytes.Compare(k, b) < 0 }

// Equal returns whether key is equal to b.
func (k Key) Equal(b Key) bool { return bytes.Equal(k, b) }

// CloneKey creates a copy of key.
func CloneKey(key Key) Key { return append(Key{}, key...) }

// CloneValue creates a copy of value.
func CloneValue(value Value) Value { return append(Value{}, value...) }
