// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package repair

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gridvault/gridvault/internal/sync2"
	"github.com/gridvault/gridvault/pkg/catalog"
	"github.com/gridvault/gridvault/pkg/immutable"
	"github.com/gridvault/gridvault/pkg/mutable"
)

// Checker audits the health of every cataloged file on an interval and
// enqueues files found below full redundancy.
type Checker struct {
	log       *zap.Logger
	catalog   *catalog.DB
	immutable *immutable.Store
	mutable   *mutable.Store
	queue     *Queue
	Loop      sync2.Cycle
}

// NewChecker creates a health checker.
func NewChecker(log *zap.Logger, files *catalog.DB, immutableStore *immutable.Store, mutableStore *mutable.Store, queue *Queue, interval time.Duration) *Checker {
	return &Checker{
		log:       log,
		catalog:   files,
		immutable: immutableStore,
		mutable:   mutableStore,
		queue:     queue,
		Loop:      *sync2.NewCycle(interval),
	}
}

// Run audits on every cycle tick until the context is canceled.
func (checker *Checker) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return checker.Loop.Run(ctx, func(ctx context.Context) error {
		if err := checker.IdentifyInjured(ctx); err != nil {
			checker.log.Error("audit pass failed", zap.Error(Error.Wrap(err)))
		}
		return nil
	})
}

// IdentifyInjured walks the catalog once, probing every file's holders
// and enqueueing files with missing shares.
func (checker *Checker) IdentifyInjured(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	var checked, injured int
	err = checker.catalog.Iterate(ctx, func(record catalog.FileRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		checked++

		var healthy []int
		var healthErr error
		if record.Mutable {
			healthy, healthErr = checker.mutable.Health(ctx, record)
		} else {
			healthy, healthErr = checker.immutable.Health(ctx, record)
		}
		if healthErr != nil {
			checker.log.Warn("health probe failed",
				zap.Stringer("index", record.Index),
				zap.Error(healthErr))
			return nil
		}

		held := make(map[int]bool, len(healthy))
		for _, num := range healthy {
			held[num] = true
		}
		var missing []int
		for num := 0; num < record.Scheme.TotalShares; num++ {
			if !held[num] {
				missing = append(missing, num)
			}
		}
		if len(missing) == 0 {
			return nil
		}

		injured++
		mon.IntVal("injured_missing_shares").Observe(int64(len(missing)))
		return checker.queue.Enqueue(ctx, InjuredFile{
			Index:   record.Index,
			Mutable: record.Mutable,
			Healthy: len(healthy),
			Missing: missing,
		})
	})
	if err != nil {
		return Error.Wrap(err)
	}

	checker.log.Info("audit pass complete",
		zap.Int("checked", checked),
		zap.Int("injured", injured))
	return nil
}
