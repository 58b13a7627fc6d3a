package robotz

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSyncObjectReentrantLock(t *testing.T) {
	s := NewSyncObject("test")
	s.Lock()
	s.Lock()
	s.Unlock()
	s.Unlock()
	require.Panics(t, func() { s.Unlock() })
}

func TestSyncObjectLockExcludesOtherGoroutines(t *testing.T) {
	s := NewSyncObject("test")
	var mu sync.Mutex
	var order []string

	s.Lock()
	done := make(chan struct{})
	go func() {
		s.Lock()
		mu.Lock()
		order = append(order, "goroutine")
		mu.Unlock()
		s.Unlock()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	order = append(order, "main")
	mu.Unlock()
	s.Unlock()
	<-done

	require.Equal(t, []string{"main", "goroutine"}, order)
}

func TestSyncObjectSleepUntilTimesOut(t *testing.T) {
	s := NewSyncObject("test")
	s.Lock()
	defer s.Unlock()
	err := s.SleepUntil(func() bool { return false }, 10*time.Millisecond)
	require.Error(t, err)
	require.True(t, IsTimeout(err))
}

func TestSyncObjectSleepUntilZeroTimeoutNonBlocking(t *testing.T) {
	s := NewSyncObject("test")
	s.Lock()
	defer s.Unlock()
	start := time.Now()
	err := s.SleepUntil(func() bool { return false }, 0)
	require.Error(t, err)
	require.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestSyncObjectWakeupUnblocksSleepUntil(t *testing.T) {
	s := NewSyncObject("test")
	ready := false
	done := make(chan error, 1)
	go func() {
		s.Lock()
		defer s.Unlock()
		done <- s.SleepUntil(func() bool { return ready }, Forever)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Lock()
	ready = true
	s.WakeupAll()
	s.Unlock()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("SleepUntil never woke")
	}
}

func TestSyncObjectUnlockedRestoresDepth(t *testing.T) {
	s := NewSyncObject("test")
	s.Lock()
	s.Lock()
	restore := s.Unlocked()

	acquired := make(chan struct{})
	go func() {
		s.Lock()
		close(acquired)
		s.Unlock()
	}()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock was not released by Unlocked")
	}

	restore()
	// still holding both original levels
	s.Unlock()
	s.Unlock()
	require.Panics(t, func() { s.Unlock() })
}

func TestSyncObjectGateSemaphore(t *testing.T) {
	s := NewSyncObject("test", WithPermits(2))
	require.NoError(t, s.AcquireGate(0))
	require.NoError(t, s.AcquireGate(0))
	err := s.AcquireGate(0)
	require.Error(t, err)
	require.True(t, IsTimeout(err))
	s.ReleaseGate()
	require.NoError(t, s.AcquireGate(0))
}

func TestSyncObjectAlarmFiresAndCancels(t *testing.T) {
	s := NewSyncObject("test")
	fired := make(chan struct{})
	s.Alarm(10*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("alarm never fired")
	}

	fired2 := make(chan struct{})
	s.Alarm(10*time.Millisecond, func() { close(fired2) })
	s.CancelAlarm()
	select {
	case <-fired2:
		t.Fatal("cancelled alarm fired")
	case <-time.After(50 * time.Millisecond):
	}
}
