package robotz

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsJobOnce(t *testing.T) {
	s := NewScheduler(0, false, nil)
	defer s.Stop()

	job, err := s.Schedule(func() (Result, error) { return "ok", nil })
	require.NoError(t, err)

	result, err := job.Promise.Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, "ok", result)
}

func TestSchedulerStopDirectiveStopsAfterExactCount(t *testing.T) {
	s := NewScheduler(0, false, nil)
	defer s.Stop()

	var invocations int32
	job, err := s.Schedule(func() (Result, error) {
		n := atomic.AddInt32(&invocations, 1)
		if n == 3 {
			return StopDirective, nil
		}
		return nil, nil
	}, Every(5*time.Millisecond))
	require.NoError(t, err)

	result, err := job.Promise.Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, StopDirective, result)
	require.Equal(t, int32(3), atomic.LoadInt32(&invocations))

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerNumericDirectiveSetsNextRun(t *testing.T) {
	s := NewScheduler(0, false, nil)
	defer s.Stop()

	var invocations int32
	var firstAt, secondAt time.Time
	done := make(chan struct{})

	job, err := s.Schedule(func() (Result, error) {
		n := atomic.AddInt32(&invocations, 1)
		switch n {
		case 1:
			firstAt = time.Now()
			return 40 * time.Millisecond, nil
		case 2:
			secondAt = time.Now()
			close(done)
			return StopDirective, nil
		}
		return StopDirective, nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never reached its second invocation")
	}
	_, _ = job.Promise.Wait(time.Second)
	require.GreaterOrEqual(t, secondAt.Sub(firstAt), 30*time.Millisecond)
}

func TestSchedulerTimesCountTerminatesDespiteNumericDirective(t *testing.T) {
	s := NewScheduler(0, false, nil)
	defer s.Stop()

	var invocations int32
	job, err := s.Schedule(func() (Result, error) {
		atomic.AddInt32(&invocations, 1)
		// always asks to reschedule soon; Times(3) must still win.
		return 5 * time.Millisecond, nil
	}, Times(3))
	require.NoError(t, err)

	_, err = job.Promise.Wait(2 * time.Second)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(3), atomic.LoadInt32(&invocations))
}

func TestSchedulerIntervalWithJitterReschedules(t *testing.T) {
	s := NewScheduler(0, false, nil)
	defer s.Stop()

	var invocations int32
	job, err := s.Schedule(func() (Result, error) {
		atomic.AddInt32(&invocations, 1)
		return nil, nil
	}, Every(10*time.Millisecond), WithJitter(5*time.Millisecond), Times(4))
	require.NoError(t, err)

	_, err = job.Promise.Wait(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, int32(4), atomic.LoadInt32(&invocations))
}

func TestSchedulerMaxConcurrentEnforced(t *testing.T) {
	const maxConcurrent = 2
	s := NewScheduler(maxConcurrent, false, nil)
	defer s.Stop()

	var running int32
	var maxObserved int32
	release := make(chan struct{})

	for i := 0; i < 5; i++ {
		_, err := s.Schedule(func() (Result, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				cur := atomic.LoadInt32(&maxObserved)
				if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
			return StopDirective, nil
		})
		require.NoError(t, err)
	}

	time.Sleep(30 * time.Millisecond)
	require.LessOrEqual(t, int(atomic.LoadInt32(&maxObserved)), maxConcurrent)
	close(release)
}

func TestSchedulerStopWhenEmptyExitsLoop(t *testing.T) {
	s := NewScheduler(0, true, nil)
	job, err := s.Schedule(func() (Result, error) { return StopDirective, nil })
	require.NoError(t, err)

	_, err = job.Promise.Wait(time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s.Lock()
		defer s.Unlock()
		return s.stopped || len(s.jobs) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerCancelBeforeRunCancelsPromise(t *testing.T) {
	s := NewScheduler(0, false, nil)
	defer s.Stop()

	job, err := s.Schedule(func() (Result, error) { return "never", nil }, At(time.Hour))
	require.NoError(t, err)
	job.Cancel()

	result, err := job.Promise.Wait(0)
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, PromiseCancelled, job.Promise.State())
	require.Equal(t, 0, s.Len())
}

func TestSchedulerJobFailureDeliversException(t *testing.T) {
	s := NewScheduler(0, false, nil)
	defer s.Stop()

	boom := errors.New("boom")
	job, err := s.Schedule(func() (Result, error) { return nil, boom })
	require.NoError(t, err)

	_, err = job.Promise.Wait(time.Second)
	require.ErrorIs(t, err, boom)
}

type jobDelegate struct {
	ended int32
}

func (d *jobDelegate) JobEnded(s *Scheduler, job *Job, result Result) {
	atomic.AddInt32(&d.ended, 1)
}

func TestSchedulerDelegateJobEndedInvoked(t *testing.T) {
	delegate := &jobDelegate{}
	s := NewScheduler(0, false, delegate)
	defer s.Stop()

	job, err := s.Schedule(func() (Result, error) { return "done", nil })
	require.NoError(t, err)
	_, err = job.Promise.Wait(time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&delegate.ended) == 1
	}, time.Second, 5*time.Millisecond)
}
