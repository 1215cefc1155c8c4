// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package caps implements the capability system: derivation of write, read
// and verify capabilities, their self-describing string encoding, and the
// integrity material used to validate fetched objects locally.
package caps

import (
	"github.com/zeebo/errs"
)

var (
	// Error is the default caps errs class.
	Error = errs.Class("capability error")

	// ErrInvalidCapability is returned when a capability string or value
	// fails to parse or validate.
	ErrInvalidCapability = errs.Class("invalid capability")

	// ErrIntegrityFailure is returned when fetched content fails its
	// digest check at the whole-object level.
	ErrIntegrityFailure = errs.Class("integrity failure")
)
