// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package grid

// MaxTotalShares is the largest supported total share count.
const MaxTotalShares = 64

// RedundancyScheme specifies the erasure coding policy for a file.
type RedundancyScheme struct {
	// RequiredShares is the number of shares needed to reconstruct (k).
	RequiredShares int
	// TotalShares is the number of shares distributed to peers (n).
	TotalShares int
	// HappyShares is the minimum number of durably acknowledged shares
	// for an upload to be considered successful. It is clamped to at
	// least RequiredShares.
	HappyShares int
}

// Validate checks that the scheme is usable.
func (scheme RedundancyScheme) Validate() error {
	switch {
	case scheme.RequiredShares < 1:
		return Error.New("required shares %d below 1", scheme.RequiredShares)
	case scheme.TotalShares < scheme.RequiredShares:
		return Error.New("total shares %d below required %d", scheme.TotalShares, scheme.RequiredShares)
	case scheme.TotalShares > MaxTotalShares:
		return Error.New("total shares %d above maximum %d", scheme.TotalShares, MaxTotalShares)
	case scheme.HappyShares > scheme.TotalShares:
		return Error.New("happy shares %d above total %d", scheme.HappyShares, scheme.TotalShares)
	}
	return nil
}

// SuccessThreshold is the acknowledgment count an upload must reach before
// a capability may be released.
func (scheme RedundancyScheme) SuccessThreshold() int {
	if scheme.HappyShares > scheme.RequiredShares {
		return scheme.HappyShares
	}
	return scheme.RequiredShares
}

// WriteQuorum is the minimum number of accepted conditional writes for a
// mutable update to commit, strictly more than half of the total shares.
func (scheme RedundancyScheme) WriteQuorum() int {
	return scheme.TotalShares/2 + 1
}
