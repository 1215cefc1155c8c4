// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package grid

import "time"

// PeerRecord describes a storage peer known to the grid, including the
// uptime observations the reliability estimator consumes.
type PeerRecord struct {
	ID      PeerID `json:"id"`
	Address string `json:"address"`

	// FirstSeen is when the peer was first observed.
	FirstSeen time.Time `json:"first_seen"`
	// LastSeen is when the peer last responded to an operation or probe.
	LastSeen time.Time `json:"last_seen"`
	// Probes counts operations attempted against the peer.
	Probes int64 `json:"probes"`
	// Failures counts operations that ended in a transport failure.
	Failures int64 `json:"failures"`
}

// Observed returns the observation window for the peer.
func (peer PeerRecord) Observed() time.Duration {
	if peer.LastSeen.Before(peer.FirstSeen) {
		return 0
	}
	return peer.LastSeen.Sub(peer.FirstSeen)
}

// MTBF estimates the peer's mean time between failures from its history.
// Peers with no observed failures get the full observation window.
func (peer PeerRecord) MTBF() time.Duration {
	observed := peer.Observed()
	if observed <= 0 || peer.Failures <= 0 {
		return observed
	}
	return observed / time.Duration(peer.Failures)
}
