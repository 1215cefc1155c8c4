// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package reliability estimates the probability that an erasure-coded
// file becomes unreconstructable between repair passes, from per-peer
// failure history.
package reliability

import (
	"math"
	"time"

	"github.com/zeebo/errs"

	"github.com/gridvault/gridvault/pkg/grid"
)

// Error is the default reliability errs class.
var Error = errs.Class("reliability error")

// FailureProbability converts a peer's mean time between failures into
// the probability that it fails at least once within interval, assuming
// exponentially distributed failures. A peer with no usable history is
// treated as certain to fail.
func FailureProbability(mtbf, interval time.Duration) float64 {
	if interval <= 0 {
		return 0
	}
	if mtbf <= 0 {
		return 1
	}
	return 1 - math.Exp(-interval.Seconds()/mtbf.Seconds())
}

// LossProbability computes the probability that fewer than required of
// the shares survive, given each holder's independent failure
// probability. This is the tail of a Poisson binomial distribution:
// the file is lost when more than len(probs)-required holders fail.
func LossProbability(required int, probs []float64) float64 {
	total := len(probs)
	if required < 1 || required > total {
		return 1
	}

	// dist[f] is the probability that exactly f holders have failed
	// among those considered so far
	dist := make([]float64, total+1)
	dist[0] = 1
	for _, p := range probs {
		for f := len(dist) - 1; f > 0; f-- {
			dist[f] = dist[f]*(1-p) + dist[f-1]*p
		}
		dist[0] *= 1 - p
	}

	loss := 0.0
	for f := total - required + 1; f <= total; f++ {
		loss += dist[f]
	}
	if loss > 1 {
		loss = 1
	}
	return loss
}

// EstimateLossProbability is the probability that a file encoded with a
// required-of-total scheme across the given holders becomes
// unreconstructable at some point within horizon, when every share lost
// during one repair interval is restored at the interval's end.
//
// Loss probability falls as the repair interval shrinks, as required
// shrinks for a fixed total, and as holder reliability rises.
func EstimateLossProbability(required, total int, mtbfs []time.Duration, horizon, repairInterval time.Duration) (float64, error) {
	switch {
	case required < 1 || total < required:
		return 0, Error.New("invalid scheme %d of %d", required, total)
	case len(mtbfs) != total:
		return 0, Error.New("have %d holder histories, scheme needs %d", len(mtbfs), total)
	case repairInterval <= 0:
		return 0, Error.New("repair interval must be positive")
	case horizon <= 0:
		return 0, Error.New("horizon must be positive")
	}

	probs := make([]float64, 0, total)
	for _, mtbf := range mtbfs {
		probs = append(probs, FailureProbability(mtbf, repairInterval))
	}
	perInterval := LossProbability(required, probs)

	// the horizon spans a real-valued number of repair intervals;
	// rounding would break monotonicity in the interval
	cycles := horizon.Seconds() / repairInterval.Seconds()
	return 1 - math.Pow(1-perInterval, cycles), nil
}

// Policy is the caller-facing reliability target: the redundancy scheme,
// the repair cadence, and the acceptable probability of loss over a
// planning horizon.
type Policy struct {
	RequiredShares int
	TotalShares    int
	RepairInterval time.Duration
	Horizon        time.Duration
	LossCeiling    float64
}

// Validate checks that the policy is usable.
func (policy Policy) Validate() error {
	switch {
	case policy.RequiredShares < 1 || policy.TotalShares < policy.RequiredShares:
		return Error.New("invalid scheme %d of %d", policy.RequiredShares, policy.TotalShares)
	case policy.RepairInterval <= 0:
		return Error.New("repair interval must be positive")
	case policy.Horizon <= 0:
		return Error.New("horizon must be positive")
	case policy.LossCeiling <= 0 || policy.LossCeiling >= 1:
		return Error.New("loss ceiling %v out of (0, 1)", policy.LossCeiling)
	}
	return nil
}

// Evaluate returns the expected loss probability over the policy horizon
// for a file held by the given peers.
func (policy Policy) Evaluate(holders []grid.PeerRecord) (float64, error) {
	if err := policy.Validate(); err != nil {
		return 0, err
	}
	mtbfs := make([]time.Duration, 0, len(holders))
	for _, holder := range holders {
		mtbfs = append(mtbfs, holder.MTBF())
	}
	return EstimateLossProbability(policy.RequiredShares, policy.TotalShares, mtbfs, policy.Horizon, policy.RepairInterval)
}

// Meets reports whether the policy's loss ceiling holds for the given
// holders.
func (policy Policy) Meets(holders []grid.PeerRecord) (bool, error) {
	loss, err := policy.Evaluate(holders)
	if err != nil {
		return false, err
	}
	return loss <= policy.LossCeiling, nil
}

// ChooseInterval finds the longest repair interval, no longer than the
// policy's configured one, that keeps the expected loss under the
// ceiling for the given holders. Monotonicity makes halving sound: once
// an interval passes, every shorter one does too.
func (policy Policy) ChooseInterval(holders []grid.PeerRecord) (time.Duration, error) {
	if err := policy.Validate(); err != nil {
		return 0, err
	}

	mtbfs := make([]time.Duration, 0, len(holders))
	for _, holder := range holders {
		mtbfs = append(mtbfs, holder.MTBF())
	}

	interval := policy.RepairInterval
	for interval >= time.Minute {
		loss, err := EstimateLossProbability(policy.RequiredShares, policy.TotalShares, mtbfs, policy.Horizon, interval)
		if err != nil {
			return 0, err
		}
		if loss <= policy.LossCeiling {
			return interval, nil
		}
		interval /= 2
	}
	return 0, Error.New("no repair interval of a minute or more meets loss ceiling %v", policy.LossCeiling)
}
