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
)

func TestLimiterLimiting(t *testing.T) {
	const n, limit = 1000, 10
	ctx := context.Background()
	limiter := NewLimiter(limit)

	var current, peak int64
	for i := 0; i < n; i++ {
		started := limiter.Go(ctx, func() {
			running := atomic.AddInt64(&current, 1)
			for {
				known := atomic.LoadInt64(&peak)
				if running <= known || atomic.CompareAndSwapInt64(&peak, known, running) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&current, -1)
		})
		require.True(t, started)
	}
	limiter.Wait()

	assert.True(t, peak <= limit, "peak concurrency %d over limit %d", peak, limit)
}

func TestLimiterCanceledContext(t *testing.T) {
	limiter := NewLimiter(1)

	block := make(chan struct{})
	started := limiter.Go(context.Background(), func() { <-block })
	require.True(t, started)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	started = limiter.Go(ctx, func() { t.Error("should not run") })
	assert.False(t, started)

	close(block)
	limiter.Wait()
}
