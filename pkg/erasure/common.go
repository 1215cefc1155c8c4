// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package erasure implements the k-of-n Reed-Solomon codec used to split
// file ciphertext into redundantly distributed shares.
package erasure

import (
	"github.com/zeebo/errs"
)

var (
	// Error is the default erasure errs class.
	Error = errs.Class("erasure error")

	// ErrInsufficientShares is returned when fewer than the required
	// number of distinct shares are available for decoding.
	ErrInsufficientShares = errs.Class("insufficient shares")

	// ErrCorruptShare is returned when a share fails its digest check.
	ErrCorruptShare = errs.Class("corrupt share")
)
