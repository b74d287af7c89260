package utils

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWorkerPool_RunsJobs tests that every submitted job runs before Shutdown returns.
func TestWorkerPool_RunsJobs(t *testing.T) {
	pool := NewWorkerPool(3, zerolog.Nop())
	var count atomic.Int32

	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit("inc", func() { count.Add(1) }))
	}

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int32(20), count.Load())
}

// TestWorkerPool_SubmitAfterShutdown tests that a closed pool rejects jobs.
func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1, zerolog.Nop())
	require.NoError(t, pool.Shutdown(context.Background()))
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.ErrorIs(t, pool.Submit("late", func() {}), ErrPoolClosed)
}

// TestWorkerPool_Panic tests that a panicking job does not kill its worker.
func TestWorkerPool_Panic(t *testing.T) {
	pool := NewWorkerPool(1, zerolog.Nop())
	done := make(chan struct{})

	require.NoError(t, pool.Submit("boom", func() { panic("boom") }))
	require.NoError(t, pool.Submit("after", func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job after panic did not run")
	}
	require.NoError(t, pool.Shutdown(context.Background()))
}

// TestWorkerPool_ShutdownTimeout tests that Shutdown gives up when ctx ends first.
func TestWorkerPool_ShutdownTimeout(t *testing.T) {
	pool := NewWorkerPool(1, zerolog.Nop())
	release := make(chan struct{})
	require.NoError(t, pool.Submit("block", func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, pool.Shutdown(ctx), context.DeadlineExceeded)
	close(release)
}

// TestWorkerPool_ShutdownReleasesBlockedSubmit tests that Shutdown does not wait on a
// Submit stuck behind a full queue.
func TestWorkerPool_ShutdownReleasesBlockedSubmit(t *testing.T) {
	pool := NewWorkerPool(1, zerolog.Nop())
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, pool.Submit("busy", func() {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, pool.Submit("queued", func() {}))

	submitErr := make(chan error, 1)
	go func() { submitErr <- pool.Submit("blocked", func() {}) }()
	time.Sleep(20 * time.Millisecond)

	shutdownErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownErr <- pool.Shutdown(ctx)
	}()

	select {
	case err := <-submitErr:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked submit was not released by shutdown")
	}
	assert.True(t, pool.Closed())

	close(release)
	select {
	case err := <-shutdownErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish")
	}
}
