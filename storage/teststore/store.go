// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package teststore

import (
	"sort"
	"sync"

	"github.com/gridvault/gridvault/storage"
)

// Client implements an in-memory key value store.
type Client struct {
	mu    sync.Mutex
	Items []storage.ListItem

	CallCount struct {
		Get     int
		Put     int
		List    int
		Delete  int
		Iterate int
		Close   int
	}
}

// New creates a new in-memory key-value store.
func New() *Client { return &Client{} }

// indexOf finds index of key or where it could be inserted.
func (store *Client) indexOf(key storage.Key) (int, bool) {
	i := sort.Search(len(store.Items), func(k int) bool {
		return !store.Items[k].Key.Less(key)
	})

	if i >= len(store.Items) {
		return i, false
	}
	return i, store.Items[i].Key.Equal(key)
}

// Put adds a value to the store.
func (store *Client) Put(key storage.Key, value storage.Value) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Put++
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	keyIndex, found := store.indexOf(key)
	if found {
		kv := &store.Items[keyIndex]
		kv.Value = storage.CloneValue(value)
		return nil
	}

	store.Items = append(store.Items, storage.ListItem{})
	copy(store.Items[keyIndex+1:], store.Items[keyIndex:])
	store.Items[keyIndex] = storage.ListItem{
		Key:   storage.CloneKey(key),
		Value: storage.CloneValue(value),
	}
	return nil
}

// Get gets a value from the store.
func (store *Client) Get(key storage.Key) (storage.Value, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Get++

	keyIndex, found := store.indexOf(key)
	if !found {
		return nil, storage.ErrKeyNotFound.New("%q", key)
	}
	return storage.CloneValue(store.Items[keyIndex].Value), nil
}

// Delete deletes a key from the store.
func (store *Client) Delete(key storage.Key) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Delete++

	keyIndex, found := store.indexOf(key)
	if !found {
		return storage.ErrKeyNotFound.New("%q", key)
	}

	copy(store.Items[keyIndex:], store.Items[keyIndex+1:])
	store.Items = store.Items[:len(store.Items)-1]
	return nil
}

// List returns up to limit keys starting at first.
func (store *Client) List(first storage.Key, limit int) (storage.Keys, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.List++

	start, _ := store.indexOf(first)
	var keys storage.Keys
	for i := start; i < len(store.Items); i++ {
		if limit > 0 && len(keys) >= limit {
			break
		}
		keys = append(keys, storage.CloneKey(store.Items[i].Key))
	}
	return keys, nil
}

// Iterate walks all items with the given prefix in key order.
func (store *Client) Iterate(prefix storage.Key, fn func(storage.ListItem) error) error {
	store.mu.Lock()
	items := make([]storage.ListItem, 0, len(store.Items))
	for _, item := range store.Items {
		if !hasPrefix(item.Key, prefix) {
			continue
		}
		items = append(items, storage.ListItem{
			Key:   storage.CloneKey(item.Key),
			Value: storage.CloneValue(item.Value),
		})
	}
	store.CallCount.Iterate++
	store.mu.Unlock()

	for _, item := range items {
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the store.
func (store *Client) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Close++
	return nil
}

func hasPrefix(key, prefix storage.Key) bool {
	if len(prefix) == 0 {
		return true
	}
	if len(key) < len(prefix) {
		return false
	}
	return key[:len(prefix)].Equal(prefix)
}
