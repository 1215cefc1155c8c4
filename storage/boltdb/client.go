// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package boltdb

import (
	"bytes"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/errs"

	"github.com/gridvault/gridvault/storage"
)

// Error is the default boltdb errs class.
var Error = errs.Class("boltdb error")

var defaultTimeout = 1 * time.Second

// fileMode sets permissions so owner can read and write.
const fileMode = 0600

// Client is the storage interface for the Bolt database.
type Client struct {
	db     *bolt.DB
	Path   string
	Bucket []byte
}

// New instantiates a new BoltDB client given a file path and a bucket name.
func New(path, bucket string) (*Client, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, Error.Wrap(errs.Combine(err, db.Close()))
	}

	return &Client{
		db:     db,
		Path:   path,
		Bucket: []byte(bucket),
	}, nil
}

func (client *Client) update(fn func(*bolt.Bucket) error) error {
	return Error.Wrap(client.db.Update(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(client.Bucket))
	}))
}

func (client *Client) view(fn func(*bolt.Bucket) error) error {
	return Error.Wrap(client.db.View(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(client.Bucket))
	}))
}

// Put adds a key/value to the bucket.
func (client *Client) Put(key storage.Key, value storage.Value) error {
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}
	return client.update(func(bucket *bolt.Bucket) error {
		return bucket.Put(key, value)
	})
}

// Get looks up the provided key from the bucket returning either an error
// or the result.
func (client *Client) Get(key storage.Key) (storage.Value, error) {
	var value storage.Value
	err := client.view(func(bucket *bolt.Bucket) error {
		data := bucket.Get(key)
		if data == nil {
			return storage.ErrKeyNotFound.New("%q", key)
		}
		value = storage.CloneValue(storage.Value(data))
		return nil
	})
	if storage.ErrKeyNotFound.Has(err) {
		return nil, storage.ErrKeyNotFound.New("%q", key)
	}
	return value, err
}

// Delete deletes a key/value pair from the bucket.
func (client *Client) Delete(key storage.Key) error {
	err := client.view(func(bucket *bolt.Bucket) error {
		if bucket.Get(key) == nil {
			return storage.ErrKeyNotFound.New("%q", key)
		}
		return nil
	})
	if err != nil {
		if storage.ErrKeyNotFound.Has(err) {
			return storage.ErrKeyNotFound.New("%q", key)
		}
		return err
	}
	return client.update(func(bucket *bolt.Bucket) error {
		return bucket.Delete(key)
	})
}

// List returns up to limit keys, in order, starting at first.
func (client *Client) List(first storage.Key, limit int) (storage.Keys, error) {
	var keys storage.Keys
	err := client.view(func(bucket *bolt.Bucket) error {
		cursor := bucket.Cursor()
		var k []byte
		if first.IsZero() {
			k, _ = cursor.First()
		} else {
			k, _ = cursor.Seek(first)
		}
		for ; k != nil; k, _ = cursor.Next() {
			if limit > 0 && len(keys) >= limit {
				break
			}
			keys = append(keys, storage.CloneKey(storage.Key(k)))
		}
		return nil
	})
	return keys, err
}

// Iterate walks all items with the given prefix in key order.
func (client *Client) Iterate(prefix storage.Key, fn func(storage.ListItem) error) error {
	return client.view(func(bucket *bolt.Bucket) error {
		cursor := bucket.Cursor()
		var k, v []byte
		if prefix.IsZero() {
			k, v = cursor.First()
		} else {
			k, v = cursor.Seek(prefix)
		}
		for ; k != nil; k, v = cursor.Next() {
			if !prefix.IsZero() && !bytes.HasPrefix(k, prefix) {
				break
			}
			err := fn(storage.ListItem{
				Key:   storage.CloneKey(storage.Key(k)),
				Value: storage.CloneValue(storage.Value(v)),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes a BoltDB client.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}
