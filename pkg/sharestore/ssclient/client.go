// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package ssclient implements the client side of the peer wire protocol.
package ssclient

import (
	"context"
	"time"

	"github.com/zeebo/errs"

	"github.com/gridvault/gridvault/pkg/grid"
)

var (
	// Error is the default ssclient errs class.
	Error = errs.Class("sharestore client error")

	// ErrTransport is returned for timeouts, resets and other transport
	// level failures. For quorum purposes it means "peer unavailable".
	ErrTransport = errs.Class("peer unavailable")
)

// Config contains configurable values for peer clients.
type Config struct {
	RequestTimeout time.Duration `help:"per-operation timeout against a single peer" default:"10s"`
	MaxRetries     int           `help:"transport-level retry attempts per operation" default:"2"`
	RetryBackoff   time.Duration `help:"delay between transport-level retries" default:"100ms"`
}

// Client talks the wire protocol to a single storage peer.
//
// All operations are idempotent from the caller's perspective except
// PutSlot, which is a compare-and-swap on the slot version.
type Client interface {
	// PutShare stores a share on the peer.
	PutShare(ctx context.Context, index grid.StorageIndex, num int, data []byte) error
	// GetShare fetches a share, or sharestore.ErrNotFound.
	GetShare(ctx context.Context, index grid.StorageIndex, num int) ([]byte, error)
	// HasShare reports whether the peer holds a share.
	HasShare(ctx context.Context, index grid.StorageIndex, num int) (bool, error)
	// DeleteShare evicts a share from the peer.
	DeleteShare(ctx context.Context, index grid.StorageIndex, num int) error

	// GetSlot fetches a mutable slot's version and payload.
	GetSlot(ctx context.Context, index grid.StorageIndex) (version uint64, payload []byte, err error)
	// PutSlot issues a conditional slot write. On a version conflict the
	// peer's current version is returned alongside
	// sharestore.ErrVersionConflict.
	PutSlot(ctx context.Context, index grid.StorageIndex, expectedVersion, newVersion uint64, enabler, payload []byte) (currentVersion uint64, err error)

	// Close releases the client.
	Close() error
}

// Dialer opens a client for the given peer.
type Dialer func(ctx context.Context, peer grid.PeerRecord) (Client, error)
