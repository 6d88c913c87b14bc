package main

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

func TestSerializedLoopsNeverOverlap(t *testing.T) {
	var mu sync.Mutex
	var running, maxRunning, calls atomic.Int32

	work := func(ctx context.Context) {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		calls.Add(1)
		running.Add(-1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 3; i++ {
		g.Go(func() error {
			return every(gctx, time.Millisecond, serialized(&mu, work))
		})
	}
	assert.NoError(t, g.Wait())

	assert.GreaterOrEqual(t, calls.Load(), int32(3))
	assert.Equal(t, int32(1), maxRunning.Load(), "a sweep and a quality pass ran at the same time")
}

func TestEveryDisabledForZeroInterval(t *testing.T) {
	called := false
	err := every(context.Background(), 0, func(context.Context) { called = true })
	assert.NoError(t, err)
	assert.False(t, called)
}
