// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package sharestore implements the peer-side store holding immutable
// shares and versioned mutable slots, and defines the error vocabulary of
// the peer wire protocol.
package sharestore

import (
	"github.com/zeebo/errs"
)

var (
	// Error is the default sharestore errs class.
	Error = errs.Class("sharestore error")

	// ErrNotFound is returned when a share or slot does not exist.
	ErrNotFound = errs.Class("not found")

	// ErrOutOfSpace is returned when the peer cannot accept more data.
	ErrOutOfSpace = errs.Class("out of space")

	// ErrVersionConflict is returned when a conditional slot write's
	// expected version does not match the stored version.
	ErrVersionConflict = errs.Class("version conflict")

	// ErrUnauthorized is returned when a slot write presents the wrong
	// write enabler.
	ErrUnauthorized = errs.Class("unauthorized")
)
