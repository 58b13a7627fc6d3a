package robotz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRWLockSharedAllowsMultipleHolders(t *testing.T) {
	l := NewRWLock()
	done := make(chan error, 2)
	go func() { done <- l.AcquireShared(context.Background(), 0) }()
	go func() { done <- l.AcquireShared(context.Background(), 0) }()
	require.NoError(t, <-done)
	require.NoError(t, <-done)
}

func TestRWLockUpgradeSameGoroutine(t *testing.T) {
	l := NewRWLock()
	require.NoError(t, l.AcquireShared(context.Background(), 0))
	require.NoError(t, l.AcquireExclusive(context.Background(), 0))
	require.NoError(t, l.ReleaseExclusive())
	require.NoError(t, l.ReleaseShared())
}

func TestRWLockExclusiveBlocksOtherSharedUntilReleased(t *testing.T) {
	l := NewRWLock()
	acquiredB := make(chan struct{})
	releaseA := make(chan struct{})
	doneB := make(chan struct{})

	go func() {
		require.NoError(t, l.AcquireShared(context.Background(), 0))
		require.NoError(t, l.AcquireExclusive(context.Background(), 0))
		<-releaseA
		require.NoError(t, l.ReleaseExclusive())
		require.NoError(t, l.ReleaseShared())
	}()

	time.Sleep(20 * time.Millisecond)

	go func() {
		require.NoError(t, l.AcquireShared(context.Background(), Forever))
		close(acquiredB)
		require.NoError(t, l.ReleaseShared())
		close(doneB)
	}()

	select {
	case <-acquiredB:
		t.Fatal("thread B acquired shared while exclusive was held")
	case <-time.After(30 * time.Millisecond):
	}

	close(releaseA)
	select {
	case <-acquiredB:
	case <-time.After(time.Second):
		t.Fatal("thread B never acquired shared after release")
	}
	<-doneB
}

func TestRWLockReleaseWithoutAcquireIsInvalidState(t *testing.T) {
	l := NewRWLock()
	err := l.ReleaseShared()
	require.Error(t, err)
	err = l.ReleaseExclusive()
	require.Error(t, err)
}

func TestRWLockScopedHelpers(t *testing.T) {
	l := NewRWLock()
	release, err := l.Shared(context.Background(), 0)
	require.NoError(t, err)
	release()

	release, err = l.Exclusive(context.Background(), 0)
	require.NoError(t, err)
	release()
}

func TestRWLockPurgesOnCancelledContext(t *testing.T) {
	l := NewRWLock()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.AcquireExclusive(ctx, 0))
	cancel()
	time.Sleep(10 * time.Millisecond)

	// a fresh goroutine should now be able to acquire exclusive, since the
	// prior holder's context has been cancelled and purge() drops it.
	done := make(chan error, 1)
	go func() { done <- l.AcquireExclusive(context.Background(), time.Second) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("purge did not free the exclusive lock after context cancellation")
	}
}
