// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package memory

import (
	"strconv"
	"strings"

	"github.com/zeebo/errs"
)

// Size implements a byte count that knows how to parse and print
// human readable values. It implements pflag.Value.
type Size int64

// base 2 size constants
const (
	B Size = 1 << (10 * iota)
	KiB
	MiB
	GiB
	TiB
)

// Int returns size as an int
func (size Size) Int() int { return int(size) }

// Int64 returns size as an int64
func (size Size) Int64() int64 { return int64(size) }

type unit struct {
	suffix string
	scale  Size
}

var units = []unit{
	{"T", TiB},
	{"G", GiB},
	{"M", MiB},
	{"K", KiB},
	{"B", B},
}

// String converts size to a string using base 2 suffixes
func (size Size) String() string {
	if size <= 0 {
		return "0"
	}

	v := float64(size)
	for _, unit := range units {
		if v >= float64(unit.scale) {
			r := strconv.FormatFloat(v/float64(unit.scale), 'f', 1, 64)
			r = strings.TrimSuffix(r, "0")
			r = strings.TrimSuffix(r, ".")
			return r + unit.suffix
		}
	}
	return strconv.FormatInt(int64(size), 10) + "B"
}

// Set parses a string as a size value
func (size *Size) Set(s string) error {
	if s == "" {
		return errs.New("empty size")
	}

	value, suffix := s[:len(s)-1], s[len(s)-1:]
	for _, unit := range units {
		if strings.EqualFold(suffix, unit.suffix) {
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return errs.New("invalid size %q: %v", s, err)
			}
			*size = Size(v * float64(unit.scale))
			return nil
		}
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return errs.New("invalid size %q: %v", s, err)
	}
	*size = Size(v)
	return nil
}

// Type implements pflag.Value
func (Size) Type() string { return "memory.Size" }
