// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package ec implements the concurrent fan-out primitive for storing,
// fetching and probing erasure coded shares across many peers.
package ec

import (
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/gridvault/gridvault/pkg/grid"
	"github.com/gridvault/gridvault/pkg/overlay"
	"github.com/gridvault/gridvault/pkg/sharestore"
	"github.com/gridvault/gridvault/pkg/sharestore/ssclient"
)

var (
	// Error is the default ec errs class.
	Error = errs.Class("ec client error")

	mon = monkit.Package()
)

// Placement pairs a share number and payload with the peer that should
// hold it.
type Placement struct {
	Peer grid.PeerRecord
	Num  int
	Data []byte
}

// Target names a share number on a peer, without payload.
type Target struct {
	Peer grid.PeerRecord
	Num  int
}

// Client fans share operations out to many peers concurrently.
type Client struct {
	log  *zap.Logger
	dial ssclient.Dialer
	dir  overlay.Directory
}

// NewClient creates a fan-out client. dir may be nil; when set, transport
// outcomes are recorded as peer uptime observations.
func NewClient(log *zap.Logger, dial ssclient.Dialer, dir overlay.Directory) *Client {
	return &Client{log: log, dial: dial, dir: dir}
}

func (client *Client) observe(ctx context.Context, peer grid.PeerID, err error) {
	if client.dir == nil {
		return
	}
	if ssclient.ErrTransport.Has(err) {
		_ = client.dir.RecordFailure(ctx, peer)
		return
	}
	_ = client.dir.RecordSuccess(ctx, peer)
}

// PutShares uploads each placement to its peer concurrently. It returns
// once the aggregate outcome is decided: the remaining in-flight uploads
// are abandoned as soon as successThreshold placements have been durably
// acknowledged. An error is returned when fewer than successThreshold
// peers acknowledge.
func (client *Client) PutShares(ctx context.Context, index grid.StorageIndex, placements []Placement, successThreshold int) (successful []Placement, err error) {
	defer mon.Task()(&ctx)(&err)

	if successThreshold < 1 || successThreshold > len(placements) {
		return nil, Error.New("success threshold %d out of range for %d placements", successThreshold, len(placements))
	}
	if !uniqueTargets(placements) {
		return nil, Error.New("duplicated peers are not allowed")
	}

	type info struct {
		i   int
		err error
	}
	infos := make(chan info, len(placements))

	putCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, placement := range placements {
		go func(i int, placement Placement) {
			err := client.putShare(putCtx, index, placement)
			infos <- info{i: i, err: err}
		}(i, placement)
	}

	oked := make([]bool, len(placements))
	successCount := 0
	for range placements {
		info := <-infos
		client.observe(ctx, placements[info.i].Peer.ID, info.err)
		if info.err != nil {
			client.log.Debug("share upload failed",
				zap.String("peer", placements[info.i].Peer.ID.String()),
				zap.Int("num", placements[info.i].Num),
				zap.Error(info.err))
			continue
		}
		oked[info.i] = true
		successCount++
		if successCount >= successThreshold {
			// the outcome is decided, abandon the long tail
			cancel()
			break
		}
	}

	for i, placement := range placements {
		if oked[i] {
			successful = append(successful, placement)
		}
	}
	if successCount < successThreshold {
		return successful, Error.New("successful puts (%d) less than success threshold (%d)", successCount, successThreshold)
	}
	return successful, nil
}

func (client *Client) putShare(ctx context.Context, index grid.StorageIndex, placement Placement) (err error) {
	peer, err := client.dial(ctx, placement.Peer)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, peer.Close()) }()
	return peer.PutShare(ctx, index, placement.Num, placement.Data)
}

// FetchStats describes how a GetShares fan-out went, so callers can pick
// the right failure class.
type FetchStats struct {
	Valid     int
	Corrupt   int
	NotFound  int
	Transport int
}

// GetShares fetches shares from the given targets concurrently until
// `need` verified payloads are collected, then abandons the stragglers.
// Each payload is validated with verify before it counts.
func (client *Client) GetShares(ctx context.Context, index grid.StorageIndex, targets []Target, need int, verify func(num int, data []byte) error) (_ map[int][]byte, _ FetchStats, err error) {
	defer mon.Task()(&ctx)(&err)

	type info struct {
		i    int
		data []byte
		err  error
	}
	infos := make(chan info, len(targets))

	getCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, target := range targets {
		go func(i int, target Target) {
			data, err := client.getShare(getCtx, index, target)
			infos <- info{i: i, data: data, err: err}
		}(i, target)
	}

	shares := make(map[int][]byte, need)
	var stats FetchStats
	for range targets {
		info := <-infos
		target := targets[info.i]
		client.observe(ctx, target.Peer.ID, info.err)
		switch {
		case sharestore.ErrNotFound.Has(info.err):
			stats.NotFound++
			continue
		case info.err != nil:
			stats.Transport++
			client.log.Debug("share fetch failed",
				zap.String("peer", target.Peer.ID.String()),
				zap.Int("num", target.Num),
				zap.Error(info.err))
			continue
		}

		if _, ok := shares[target.Num]; ok {
			continue
		}
		if err := verify(target.Num, info.data); err != nil {
			stats.Corrupt++
			client.log.Warn("share failed verification",
				zap.String("peer", target.Peer.ID.String()),
				zap.Int("num", target.Num),
				zap.Error(err))
			continue
		}

		shares[target.Num] = info.data
		stats.Valid++
		if len(shares) >= need {
			cancel()
			break
		}
	}
	return shares, stats, nil
}

func (client *Client) getShare(ctx context.Context, index grid.StorageIndex, target Target) (_ []byte, err error) {
	peer, err := client.dial(ctx, target.Peer)
	if err != nil {
		return nil, err
	}
	defer func() { err = errs.Combine(err, peer.Close()) }()
	return peer.GetShare(ctx, index, target.Num)
}

// HasShares probes the given targets concurrently and returns the share
// numbers confirmed healthy.
func (client *Client) HasShares(ctx context.Context, index grid.StorageIndex, targets []Target) (healthy []int, err error) {
	defer mon.Task()(&ctx)(&err)

	type info struct {
		i   int
		has bool
		err error
	}
	infos := make(chan info, len(targets))

	for i, target := range targets {
		go func(i int, target Target) {
			has, err := client.hasShare(ctx, index, target)
			infos <- info{i: i, has: has, err: err}
		}(i, target)
	}

	for range targets {
		info := <-infos
		target := targets[info.i]
		client.observe(ctx, target.Peer.ID, info.err)
		if info.err != nil {
			client.log.Debug("share probe failed",
				zap.String("peer", target.Peer.ID.String()),
				zap.Int("num", target.Num),
				zap.Error(info.err))
			continue
		}
		if info.has {
			healthy = append(healthy, target.Num)
		}
	}
	return healthy, nil
}

func (client *Client) hasShare(ctx context.Context, index grid.StorageIndex, target Target) (_ bool, err error) {
	peer, err := client.dial(ctx, target.Peer)
	if err != nil {
		return false, err
	}
	defer func() { err = errs.Combine(err, peer.Close()) }()
	return peer.HasShare(ctx, index, target.Num)
}

// DeleteShares removes the given targets, best effort. It is used to clean
// up after abandoned uploads.
func (client *Client) DeleteShares(ctx context.Context, index grid.StorageIndex, targets []Target) (err error) {
	defer mon.Task()(&ctx)(&err)

	errch := make(chan error, len(targets))
	for _, target := range targets {
		go func(target Target) {
			peer, err := client.dial(ctx, target.Peer)
			if err != nil {
				errch <- err
				return
			}
			err = peer.DeleteShare(ctx, index, target.Num)
			if sharestore.ErrNotFound.Has(err) {
				err = nil
			}
			errch <- errs.Combine(err, peer.Close())
		}(target)
	}

	var group []error
	for range targets {
		if err := <-errch; err != nil {
			group = append(group, err)
		}
	}
	return errs.Combine(group...)
}

func uniqueTargets(placements []Placement) bool {
	seen := make(map[grid.PeerID]bool, len(placements))
	for _, placement := range placements {
		if seen[placement.Peer.ID] {
			return false
		}
		seen[placement.Peer.ID] = true
	}
	return true
}
