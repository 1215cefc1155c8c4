// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package sync2

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
)

func TestCycleRunsImmediatelyAndOnTrigger(t *testing.T) {
	cycle := NewCycle(time.Hour)
	cycle.Init()

	var count int64
	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		done <- cycle.Run(ctx, func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		})
	}()

	cycle.TriggerWait()
	// one immediate run plus the triggered one
	require.True(t, atomic.LoadInt64(&count) >= 2)

	cancel()
	require.NoError(t, <-done)
}

func TestCycleStopsOnError(t *testing.T) {
	cycle := NewCycle(time.Millisecond)

	expected := errs.New("boom")
	var count int64
	err := cycle.Run(context.Background(), func(ctx context.Context) error {
		if atomic.AddInt64(&count, 1) >= 3 {
			return expected
		}
		return nil
	})
	assert.Equal(t, expected, err)
	assert.Equal(t, int64(3), atomic.LoadInt64(&count))
}
