// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package mutable implements rewritable slots: versioned, signed payloads
// updated through a read-quorum, decide, write-quorum compare-and-swap
// round.
package mutable

import (
	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"
)

var (
	// Error is the default mutable errs class.
	Error = errs.Class("mutable error")

	// ErrUpdateFailed is returned when a write round could not reach the
	// write quorum. The update may or may not be visible to later readers.
	ErrUpdateFailed = errs.Class("update failed")

	mon = monkit.Package()
)
