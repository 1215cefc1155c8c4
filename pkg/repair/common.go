// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package repair keeps stored files at full redundancy: a checker
// periodically audits share health and feeds injured files to a repair
// service that regenerates exactly the missing shares.
package repair

import (
	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"
)

var (
	// Error is the default repair errs class.
	Error = errs.Class("repair error")

	// ErrEmptyQueue is returned when the repair queue has no items.
	ErrEmptyQueue = errs.Class("repair queue empty")

	mon = monkit.Package()
)
