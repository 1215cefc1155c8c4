// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package sync2

import (
	"context"
	"sync"
	"time"
)

// Cycle implements a controllable recurring event.
//
// The configured function runs once immediately and then on every tick of
// the interval until the context is canceled or the function returns an
// error. Trigger can be used to force an extra run between ticks.
type Cycle struct {
	interval time.Duration

	ticker  *time.Ticker
	control chan cycleTrigger
	quit    chan struct{}

	init sync.Once
}

type cycleTrigger struct {
	done chan struct{}
}

// NewCycle creates a new cycle with the specified interval.
func NewCycle(interval time.Duration) *Cycle {
	cycle := &Cycle{}
	cycle.SetInterval(interval)
	return cycle
}

// SetInterval allows to change the interval before starting.
func (cycle *Cycle) SetInterval(interval time.Duration) {
	cycle.interval = interval
}

// Init initializes the control channel so that TriggerWait can be called
// before Run has started.
func (cycle *Cycle) Init() {
	cycle.init.Do(func() {
		cycle.control = make(chan cycleTrigger)
	})
}

// Run runs the specified function.
func (cycle *Cycle) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	cycle.Init()
	cycle.quit = make(chan struct{})
	defer close(cycle.quit)

	cycle.ticker = time.NewTicker(cycle.interval)
	defer cycle.ticker.Stop()

	if err := fn(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-cycle.ticker.C:
			if err := fn(ctx); err != nil {
				return err
			}
		case trigger := <-cycle.control:
			err := fn(ctx)
			if trigger.done != nil {
				close(trigger.done)
			}
			if err != nil {
				return err
			}
		}
	}
}

// TriggerWait forces a run of the cycle function and waits for it to
// complete.
func (cycle *Cycle) TriggerWait() {
	cycle.Init()
	done := make(chan struct{})
	select {
	case cycle.control <- cycleTrigger{done: done}:
		<-done
	case <-cycle.quit:
	}
}
