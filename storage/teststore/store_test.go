// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package teststore

import (
	"testing"

	"github.com/gridvault/gridvault/storage/testsuite"
)

func TestSuite(t *testing.T) {
	testsuite.RunTests(t, New())
}
