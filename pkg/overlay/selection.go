// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package overlay

import (
	"context"
	"math/rand"

	"github.com/gridvault/gridvault/pkg/grid"
)

// PickPeers selects count distinct peers from the directory, excluding the
// given ids. Selection is uniformly random among known peers.
func PickPeers(ctx context.Context, dir Directory, count int, exclude map[grid.PeerID]bool) ([]grid.PeerRecord, error) {
	peers, err := dir.ListPeers(ctx)
	if err != nil {
		return nil, err
	}

	candidates := peers[:0]
	for _, peer := range peers {
		if exclude[peer.ID] {
			continue
		}
		candidates = append(candidates, peer)
	}
	if len(candidates) < count {
		return nil, Error.New("not enough peers: have %d, need %d", len(candidates), count)
	}

	rand.Shuffle(len(candidates), func(i, k int) {
		candidates[i], candidates[k] = candidates[k], candidates[i]
	})
	return candidates[:count], nil
}
