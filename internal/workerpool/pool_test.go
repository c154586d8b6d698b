package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fogfish/opts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func startPool(t *testing.T, options ...opts.Option[Pool]) (*Pool, context.CancelFunc, <-chan error) {
	t.Helper()
	p := New(options...)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()
	return p, cancel, errc
}

func TestPool_RunsSubmittedTasks(t *testing.T) {
	p, cancel, errc := startPool(t, WithWorkers(4), WithQueueSize(16))
	defer func() {
		cancel()
		<-errc
	}()

	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			defer wg.Done()
			count.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(50), count.Load())
	assert.Equal(t, 4, p.Workers())
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p, cancel, errc := startPool(t, WithWorkers(2), WithQueueSize(16))
	defer func() {
		cancel()
		<-errc
	}()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		}))
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_TrySubmitQueueFull(t *testing.T) {
	// not running: nothing drains the queue
	p := New(WithWorkers(1), WithQueueSize(1))

	require.NoError(t, p.TrySubmit(func(context.Context) {}))
	assert.ErrorIs(t, p.TrySubmit(func(context.Context) {}), ErrQueueFull)
}

func TestPool_SubmitHonoursContext(t *testing.T) {
	p := New(WithWorkers(1), WithQueueSize(0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Submit(ctx, func(context.Context) {}), context.DeadlineExceeded)
}

func TestPool_DoWaitsForCompletion(t *testing.T) {
	p, cancel, errc := startPool(t)
	defer func() {
		cancel()
		<-errc
	}()

	var order []int
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Do(context.Background(), func(context.Context) {
			order = append(order, i)
		}))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPool_RecoversPanics(t *testing.T) {
	p, cancel, errc := startPool(t, WithWorkers(1), WithQueueSize(1))
	defer func() {
		cancel()
		<-errc
	}()

	require.NoError(t, p.Do(context.Background(), func(context.Context) { panic("boom") }))

	ran := false
	require.NoError(t, p.Do(context.Background(), func(context.Context) { ran = true }))
	assert.True(t, ran)
}

func TestPool_Stop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p, cancel, errc := startPool(t, WithWorkers(3), WithQueueSize(3))
	cancel()
	require.NoError(t, <-errc)

	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) {}), ErrStopped)
	assert.ErrorIs(t, p.TrySubmit(func(context.Context) {}), ErrStopped)
	assert.ErrorIs(t, p.Do(context.Background(), func(context.Context) {}), ErrStopped)
}
