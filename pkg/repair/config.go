// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package repair

import (
	"context"
	"sort"
	"time"

	"github.com/gridvault/gridvault/pkg/overlay"
	"github.com/gridvault/gridvault/pkg/reliability"
)

// Config contains configurable values for the repair subsystem.
type Config struct {
	Interval  time.Duration `help:"how often files are audited and repaired, 0 derives it from the reliability policy" default:"1h"`
	MaxRepair int           `help:"maximum files repaired concurrently" default:"5"`
}

// RepairInterval returns the configured audit interval. When unset, one
// is derived from the reliability policy against the least reliable
// peers a file could land on, so the derived cadence is pessimistic.
func (config Config) RepairInterval(ctx context.Context, dir overlay.Directory, policy reliability.Policy) (time.Duration, error) {
	if config.Interval > 0 {
		return config.Interval, nil
	}

	peers, err := dir.ListPeers(ctx)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	if len(peers) < policy.TotalShares {
		return 0, Error.New("not enough peers to evaluate policy: have %d, scheme total is %d", len(peers), policy.TotalShares)
	}
	sort.Slice(peers, func(i, k int) bool {
		return peers[i].MTBF() < peers[k].MTBF()
	})
	interval, err := policy.ChooseInterval(peers[:policy.TotalShares])
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return interval, nil
}
