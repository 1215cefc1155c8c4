// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package grid contains the domain types shared across the storage grid:
// peer identities, storage indexes, redundancy schemes and peer records.
package grid
