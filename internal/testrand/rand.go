// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package testrand implements generating random base types for testing.
package testrand

import (
	"math/rand"

	"github.com/gridvault/gridvault/pkg/grid"
)

// Intn returns, as an int, a non-negative pseudo-random number in [0,n)
// from the default Source.
func Intn(n int) int { return rand.Intn(n) }

// Read reads pseudo-random data into data.
func Read(data []byte) {
	const newSourceThreshold = 64
	if len(data) < newSourceThreshold {
		_, _ = rand.Read(data)
		return
	}

	src := rand.NewSource(rand.Int63())
	r := rand.New(src)
	_, _ = r.Read(data)
}

// Bytes generates size amount of random data.
func Bytes(size int) []byte {
	data := make([]byte, size)
	Read(data)
	return data
}

// PeerID creates a random peer id.
func PeerID() grid.PeerID {
	var id grid.PeerID
	Read(id[:])
	return id
}

// StorageIndex creates a random storage index.
func StorageIndex() grid.StorageIndex {
	var index grid.StorageIndex
	Read(index[:])
	return index
}
