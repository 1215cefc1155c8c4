// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package testsuite runs a common battery of tests against any
// KeyValueStore implementation.
package testsuite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridvault/gridvault/storage"
)

// RunTests exercises the full KeyValueStore contract against store.
func RunTests(t *testing.T, store storage.KeyValueStore) {
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, store) })
	t.Run("List", func(t *testing.T) { testList(t, store) })
	t.Run("Iterate", func(t *testing.T) { testIterate(t, store) })
	t.Run("EmptyKey", func(t *testing.T) { testEmptyKey(t, store) })
}

func testCRUD(t *testing.T, store storage.KeyValueStore) {
	key := storage.Key("crud/key")

	_, err := store.Get(key)
	require.True(t, storage.ErrKeyNotFound.Has(err))
	err = store.Delete(key)
	require.True(t, storage.ErrKeyNotFound.Has(err))

	require.NoError(t, store.Put(key, storage.Value("one")))
	value, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, storage.Value("one"), value)

	require.NoError(t, store.Put(key, storage.Value("two")))
	value, err = store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, storage.Value("two"), value)

	require.NoError(t, store.Delete(key))
	_, err = store.Get(key)
	require.True(t, storage.ErrKeyNotFound.Has(err))
}

func testList(t *testing.T, store storage.KeyValueStore) {
	for _, key := range []string{"list/a", "list/b", "list/c", "list/d"} {
		require.NoError(t, store.Put(storage.Key(key), storage.Value(key)))
	}
	defer func() {
		for _, key := range []string{"list/a", "list/b", "list/c", "list/d"} {
			require.NoError(t, store.Delete(storage.Key(key)))
		}
	}()

	keys, err := store.List(storage.Key("list/b"), 2)
	require.NoError(t, err)
	require.Equal(t, storage.Keys{
		storage.Key("list/b"),
		storage.Key("list/c"),
	}, keys)

	keys, err = store.List(storage.Key("list/"), 0)
	require.NoError(t, err)
	require.Len(t, keys, 4)
}

func testIterate(t *testing.T, store storage.KeyValueStore) {
	for _, key := range []string{"iter/a", "iter/b", "other/c"} {
		require.NoError(t, store.Put(storage.Key(key), storage.Value(key)))
	}
	defer func() {
		for _, key := range []string{"iter/a", "iter/b", "other/c"} {
			require.NoError(t, store.Delete(storage.Key(key)))
		}
	}()

	var seen []string
	err := store.Iterate(storage.Key("iter/"), func(item storage.ListItem) error {
		seen = append(seen, item.Key.String())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"iter/a", "iter/b"}, seen)
}

func testEmptyKey(t *testing.T, store storage.KeyValueStore) {
	err := store.Put(storage.Key(""), storage.Value("empty"))
	require.True(t, storage.ErrEmptyKey.Has(err))
}
