package worker

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

func TestEnqueue_RunsJob(t *testing.T) {
	d := New(Options{})
	done := make(chan struct{})
	require.True(t, d.Enqueue("acme/widgets", func(context.Context) error {
		close(done)
		return nil
	}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestEnqueue_BoundsConcurrency(t *testing.T) {
	d := New(Options{Concurrency: 2})
	release := make(chan struct{})
	var current, peak atomic.Int64

	for i := range 6 {
		key := string(rune('a' + i))
		require.True(t, d.Enqueue(key, func(context.Context) error {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			current.Add(-1)
			return nil
		}))
	}

	require.Eventually(t, func() bool { return d.Running() == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 4, d.Queued())

	close(release)
	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, int64(2), peak.Load())
	assert.Zero(t, d.Running())
}

func TestEnqueue_ThrottlesPerKey(t *testing.T) {
	d := New(Options{MinInterval: time.Hour})
	noop := func(context.Context) error { return nil }

	assert.True(t, d.Enqueue("acme/widgets", noop))
	assert.False(t, d.Enqueue("acme/widgets", noop), "second trigger inside the interval is dropped")
	assert.True(t, d.Enqueue("acme/gadgets", noop), "other repositories are unaffected")
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestEnqueue_NoThrottle(t *testing.T) {
	d := New(Options{})
	noop := func(context.Context) error { return nil }
	assert.True(t, d.Enqueue("acme/widgets", noop))
	assert.True(t, d.Enqueue("acme/widgets", noop))
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestEnqueue_FailingAndPanickingJobs(t *testing.T) {
	d := New(Options{})
	var wg sync.WaitGroup
	wg.Add(2)
	d.Enqueue("a", func(context.Context) error {
		defer wg.Done()
		return errors.New("boom")
	})
	d.Enqueue("b", func(context.Context) error {
		defer wg.Done()
		panic("kaboom")
	})
	wg.Wait()
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestShutdown_RejectsNewJobs(t *testing.T) {
	d := New(Options{})
	require.NoError(t, d.Shutdown(context.Background()))
	assert.False(t, d.Enqueue("a", func(context.Context) error { return nil }))
}

func TestShutdown_TimeoutCancelsJobs(t *testing.T) {
	d := New(Options{Concurrency: 1})
	started := make(chan struct{})
	var cancelled atomic.Bool
	d.Enqueue("slow", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, cancelled.Load())
}
