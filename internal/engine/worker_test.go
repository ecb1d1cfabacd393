package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_BasicExecution(t *testing.T) {
	pool := NewWorkerPool(2)

	var ran int64
	err := pool.Submit(context.Background(), func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		return nil
	})
	require.NoError(t, err)

	pool.Shutdown()

	assert.Equal(t, int64(1), atomic.LoadInt64(&ran))
	assert.Equal(t, int64(1), pool.Metrics().Completed)
	assert.Equal(t, 2, pool.Size())
}

func TestWorkerPool_ConcurrencyLimit(t *testing.T) {
	pool := NewWorkerPool(ParallelWidth)

	var maxConcurrent, current int64
	var mu sync.Mutex

	for i := 0; i < 8; i++ {
		err := pool.Submit(context.Background(), func(ctx context.Context) error {
			c := atomic.AddInt64(&current, 1)
			mu.Lock()
			if c > maxConcurrent {
				maxConcurrent = c
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return nil
		})
		require.NoError(t, err)
	}

	pool.Shutdown()
	assert.LessOrEqual(t, maxConcurrent, int64(ParallelWidth))
	assert.Greater(t, maxConcurrent, int64(0))
}

func TestWorkerPool_PanicRecovery(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		panic("test panic")
	}))
	require.Eventually(t, func() bool {
		m := pool.Metrics()
		return m.Panics == 1 && m.Active == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), pool.Metrics().Failed)

	// Pool should still work after panic.
	errs := pool.Join(context.Background(), func(ctx context.Context) error { return nil })
	assert.NoError(t, errs[0])
	pool.Shutdown()
	assert.Equal(t, int64(1), pool.Metrics().Completed)
}

func TestWorkerPool_ContextCancellation(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	block := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- pool.Submit(ctx, func(ctx context.Context) error { return nil })
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("submit did not return after context cancellation")
	}

	close(block)
}

func TestWorkerPool_Shutdown(t *testing.T) {
	pool := NewWorkerPool(2)

	var completed int64
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&completed, 1)
			return nil
		}))
	}

	pool.Shutdown()
	pool.Shutdown() // idempotent
	assert.Equal(t, int64(5), atomic.LoadInt64(&completed))

	err := pool.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPool_JoinWaitsForAll(t *testing.T) {
	pool := NewWorkerPool(ParallelWidth)
	defer pool.Shutdown()

	boom := errors.New("reserve down")
	var slowDone atomic.Bool

	errs := pool.Join(context.Background(),
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error {
			time.Sleep(30 * time.Millisecond)
			slowDone.Store(true)
			return nil
		},
	)

	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], boom)
	assert.NoError(t, errs[1])
	assert.True(t, slowDone.Load(), "join returned before the slow task finished")
}

func TestWorkerPool_JoinRunsConcurrently(t *testing.T) {
	pool := NewWorkerPool(ParallelWidth)
	defer pool.Shutdown()

	// Each task waits for the other; this deadlocks unless both run at once.
	a, b := make(chan struct{}), make(chan struct{})
	done := make(chan []error, 1)
	go func() {
		done <- pool.Join(context.Background(),
			func(ctx context.Context) error { close(a); <-b; return nil },
			func(ctx context.Context) error { close(b); <-a; return nil },
		)
	}()

	select {
	case errs := <-done:
		assert.Equal(t, []error{nil, nil}, errs)
	case <-time.After(time.Second):
		t.Fatal("tasks did not run concurrently")
	}
}

func TestWorkerPool_JoinPanic(t *testing.T) {
	pool := NewWorkerPool(ParallelWidth)
	defer pool.Shutdown()

	errs := pool.Join(context.Background(),
		func(ctx context.Context) error { panic("kaboom") },
		func(ctx context.Context) error { return nil },
	)
	require.Error(t, errs[0])
	assert.Contains(t, errs[0].Error(), "kaboom")
	assert.NoError(t, errs[1])
}

func TestWorkerPool_JoinAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(ParallelWidth)
	pool.Shutdown()

	errs := pool.Join(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, errs[0], ErrPoolShutdown)
}
