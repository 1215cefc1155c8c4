// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package repair

import (
	"context"

	"go.uber.org/zap"

	"github.com/gridvault/gridvault/internal/sync2"
	"github.com/gridvault/gridvault/pkg/catalog"
	"github.com/gridvault/gridvault/pkg/grid"
	"github.com/gridvault/gridvault/pkg/immutable"
	"github.com/gridvault/gridvault/pkg/mutable"
)

// Service drains the repair queue on an interval, restoring injured
// files to full redundancy with a bounded number of concurrent workers.
type Service struct {
	log       *zap.Logger
	queue     *Queue
	catalog   *catalog.DB
	immutable *immutable.Store
	mutable   *mutable.Store
	Limiter   *sync2.Limiter
	Loop      sync2.Cycle
}

// NewService creates the repair service.
func NewService(log *zap.Logger, queue *Queue, files *catalog.DB, immutableStore *immutable.Store, mutableStore *mutable.Store, config Config) *Service {
	return &Service{
		log:       log,
		queue:     queue,
		catalog:   files,
		immutable: immutableStore,
		mutable:   mutableStore,
		Limiter:   sync2.NewLimiter(config.MaxRepair),
		Loop:      *sync2.NewCycle(config.Interval),
	}
}

// Run drains the queue on every cycle tick until the context is
// canceled.
func (service *Service) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	// wait for in-flight repairs before returning
	defer service.Limiter.Wait()

	return service.Loop.Run(ctx, func(ctx context.Context) error {
		if err := service.process(ctx); err != nil {
			service.log.Error("queue drain failed", zap.Error(Error.Wrap(err)))
		}
		return nil
	})
}

// process drains the queue, handing each injured file to a worker.
func (service *Service) process(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	for {
		injured, err := service.queue.Dequeue(ctx)
		if err != nil {
			if ErrEmptyQueue.Has(err) {
				return nil
			}
			return err
		}

		started := service.Limiter.Go(ctx, func() {
			if err := service.Repair(ctx, injured.Index); err != nil {
				service.log.Error("repair failed",
					zap.Stringer("index", injured.Index),
					zap.Error(err))
			}
		})
		if !started {
			return ctx.Err()
		}
	}
}

// Repair re-audits one file and restores any missing shares. A file
// that was already repaired, or was enqueued twice, passes through as a
// no-op. Files with fewer surviving shares than their scheme requires
// are reported as lost, not repaired.
func (service *Service) Repair(ctx context.Context, index grid.StorageIndex) (err error) {
	defer mon.Task()(&ctx)(&err)

	// the queue entry may be stale; act on the current record
	record, err := service.catalog.Get(ctx, index)
	if catalog.ErrFileNotFound.Has(err) {
		// deleted since it was enqueued
		return nil
	}
	if err != nil {
		return Error.Wrap(err)
	}

	if record.Mutable {
		err = service.mutable.Repair(ctx, record)
	} else {
		err = service.immutable.Repair(ctx, record)
	}
	if grid.ErrFileLost.Has(err) {
		mon.Counter("files_lost").Inc(1)
		return err
	}
	if err != nil {
		return err
	}

	mon.Counter("files_repaired").Inc(1)
	return nil
}
