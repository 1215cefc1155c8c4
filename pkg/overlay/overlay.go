// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package overlay implements the peer directory: the injected collaborator
// that knows which storage peers exist and what their observed uptime
// history is.
package overlay

import (
	"context"

	"github.com/zeebo/errs"

	"github.com/gridvault/gridvault/pkg/grid"
)

var (
	// Error is the default overlay errs class.
	Error = errs.Class("overlay error")

	// ErrPeerNotFound is returned if a peer does not exist in the
	// directory.
	ErrPeerNotFound = errs.Class("peer not found")
)

// Directory is the peer directory consumed by the pipelines and the
// repair scheduler. Peer introduction mechanics live behind it.
type Directory interface {
	// ListPeers returns all known peers.
	ListPeers(ctx context.Context) ([]grid.PeerRecord, error)
	// Get looks up one peer.
	Get(ctx context.Context, id grid.PeerID) (grid.PeerRecord, error)
	// Update inserts or replaces a peer record.
	Update(ctx context.Context, record grid.PeerRecord) error
	// RecordSuccess notes that an operation against the peer succeeded.
	RecordSuccess(ctx context.Context, id grid.PeerID) error
	// RecordFailure notes that an operation against the peer failed at
	// the transport level.
	RecordFailure(ctx context.Context, id grid.PeerID) error
}
