package robotz

import (
	"time"

	"github.com/google/uuid"
)

// StopDirective, returned as a job's result, tells the Scheduler not to
// reschedule the job regardless of any configured interval.
const StopDirective = "stop"

// SchedulerDelegate is a duck-typed, best-effort lifecycle observer.
// Implement whichever of the following methods are of interest:
//
//	JobEnded(s *Scheduler, job *Job, result Result)
//	JobFailed(s *Scheduler, job *Job, err error)
//
// Panics and errors from delegate methods are recovered, logged, and
// otherwise ignored.
type SchedulerDelegate any

type jobEndedDelegate interface {
	JobEnded(s *Scheduler, job *Job, result Result)
}
type jobFailedDelegate interface {
	JobFailed(s *Scheduler, job *Job, err error)
}

// JobFunc is a scheduled unit of work. Its return value doubles as both the
// delivered result and the repeat directive: StopDirective stops the job
// outright, a time.Duration sets the next run time explicitly (relative or
// absolute, per ResolveTime), and anything else falls back to the job's
// configured interval, if any.
type JobFunc func() (Result, error)

// Job is one entry on a Scheduler's timeline.
type Job struct {
	*SyncObject
	ID string

	// Promise is bound to the job's lifetime: it delivers once the job
	// becomes terminal (no further reschedule, or cancelled), carrying the
	// final invocation's result or error.
	Promise *Promise

	fn JobFunc

	nextT       time.Time
	hasInterval bool
	interval    time.Duration
	jitter      time.Duration
	count       int

	running   bool
	cancelled bool

	scheduler *Scheduler
}

// NextRun reports the job's next scheduled invocation time.
func (j *Job) NextRun() time.Time {
	j.Lock()
	defer j.Unlock()
	return j.nextT
}

// Cancelled reports whether Cancel has been called.
func (j *Job) Cancelled() bool {
	j.Lock()
	defer j.Unlock()
	return j.cancelled
}

// Cancel removes the job from its scheduler. If it is currently executing,
// the in-flight invocation is allowed to finish but will not reschedule.
func (j *Job) Cancel() {
	j.Lock()
	j.cancelled = true
	running := j.running
	j.Unlock()

	j.Promise.Cancel(true)

	s := j.scheduler
	if s == nil {
		return
	}
	s.Lock()
	if !running {
		delete(s.jobs, j.ID)
	}
	s.WakeupAll()
	s.Unlock()
}

// ScheduleConfig carries Schedule's optional arguments.
type ScheduleConfig struct {
	At          time.Duration
	HasAt       bool
	Interval    time.Duration
	HasInterval bool
	Jitter      time.Duration
	Count       int
	HasCount    bool
}

// ScheduleOption configures a ScheduleConfig.
type ScheduleOption func(*ScheduleConfig)

// At sets the job's first run time (relative or absolute, per ResolveTime).
// Without it, the job's first run is as soon as the scheduler observes it.
func At(t time.Duration) ScheduleOption {
	return func(c *ScheduleConfig) { c.At, c.HasAt = t, true }
}

// Every marks the job as repeating every d, measured from the job's
// previous scheduled run time.
func Every(d time.Duration) ScheduleOption {
	return func(c *ScheduleConfig) { c.Interval, c.HasInterval = d, true }
}

// WithJitter adds up to d of uniform random jitter to each repeat interval.
func WithJitter(d time.Duration) ScheduleOption {
	return func(c *ScheduleConfig) { c.Jitter = d }
}

// Times bounds the number of invocations (use -1 for unbounded).
func Times(n int) ScheduleOption {
	return func(c *ScheduleConfig) { c.Count, c.HasCount = n, true }
}

// Scheduler runs JobFuncs on a timeline: each job carries its own next run
// time, optional repeat interval and jitter, and optional bounded count.
// A single goroutine walks the timeline, spawning one goroutine per ready
// job; MaxConcurrent, if positive, newly bounds how many jobs may execute
// at once (the original package never enforced this).
type Scheduler struct {
	*SyncObject
	jobs          map[string]*Job
	maxConcurrent int
	stopWhenEmpty bool
	running       int
	stopped       bool
	delegate      SchedulerDelegate
	logger        *Logger
}

// defaultTimelineHorizon bounds how long the scheduler's main loop sleeps
// when no job is due. Schedule, Stop, Job.Cancel and finishing jobs wake
// the loop explicitly.
const defaultTimelineHorizon = 100 * time.Second

// DefaultMaxConcurrentJobs is the construction default for NewScheduler's
// maxConcurrent, matching the original package's Scheduler(max_concurrent=100).
const DefaultMaxConcurrentJobs = 100

// NewScheduler constructs a Scheduler and starts its timeline goroutine.
// maxConcurrent <= 0 means unbounded; pass DefaultMaxConcurrentJobs for the
// original package's default. If stopWhenEmpty is set, the timeline
// goroutine exits once the job set becomes empty after holding at least
// one job, rather than idling forever; jobs scheduled after that exit are
// not run.
func NewScheduler(maxConcurrent int, stopWhenEmpty bool, delegate SchedulerDelegate, opts ...SyncOption) *Scheduler {
	o := resolveSyncOptions(opts)
	s := &Scheduler{
		SyncObject:    NewSyncObject("Scheduler", opts...),
		jobs:          make(map[string]*Job),
		maxConcurrent: maxConcurrent,
		stopWhenEmpty: stopWhenEmpty,
		delegate:      delegate,
		logger:        o.logger,
	}
	go s.loop()
	return s
}

// Schedule adds fn to the timeline and returns its Job handle.
func (s *Scheduler) Schedule(fn JobFunc, opts ...ScheduleOption) (*Job, error) {
	var cfg ScheduleConfig
	for _, o := range opts {
		o(&cfg)
	}

	now := time.Now()
	nextT := now
	if cfg.HasAt {
		nextT = ResolveTime(cfg.At, now)
	}
	// count == -1 means unbounded/ungated: without an explicit Times(N), a
	// job's termination is decided by its returned directive and interval
	// ("stop" stops it, a numeric directive reschedules it, any other result
	// reschedules it on its Every interval or stops it if it has none),
	// never by an invocation budget it was never given.
	count := -1
	if cfg.HasCount {
		count = cfg.Count
	}

	j := &Job{
		SyncObject:  NewSyncObject("Job"),
		ID:          uuid.NewString(),
		Promise:     NewPromise(nil),
		fn:          fn,
		nextT:       nextT,
		hasInterval: cfg.HasInterval,
		interval:    cfg.Interval,
		jitter:      cfg.Jitter,
		count:       count,
		scheduler:   s,
	}

	s.Lock()
	if s.stopped {
		s.Unlock()
		return nil, &QueueClosedError{Op: "Scheduler.Schedule"}
	}
	s.jobs[j.ID] = j
	s.WakeupAll()
	s.Unlock()
	return j, nil
}

// Unschedule cancels the job with the given ID, if still present.
func (s *Scheduler) Unschedule(id string) {
	s.Lock()
	j, ok := s.jobs[id]
	s.Unlock()
	if ok {
		j.Cancel()
	}
}

// Stop halts the timeline goroutine. Jobs currently executing are left to
// finish but will not reschedule.
func (s *Scheduler) Stop() {
	s.Lock()
	s.stopped = true
	s.WakeupAll()
	s.Unlock()
}

// Len returns the number of jobs currently on the timeline.
func (s *Scheduler) Len() int {
	s.Lock()
	defer s.Unlock()
	return len(s.jobs)
}

func (s *Scheduler) loop() {
	s.Lock()
	seenJob := false
	for {
		if len(s.jobs) > 0 {
			seenJob = true
		}
		if s.stopped || (s.stopWhenEmpty && seenJob && len(s.jobs) == 0) {
			s.Unlock()
			return
		}

		now := time.Now()
		var ready []*Job
		var earliest time.Time
		haveEarliest := false

		for _, j := range s.jobs {
			j.Lock()
			cancelled := j.cancelled
			running := j.running
			nextT := j.nextT
			j.Unlock()
			if cancelled || running {
				continue
			}
			if !nextT.After(now) {
				ready = append(ready, j)
				continue
			}
			if !haveEarliest || nextT.Before(earliest) {
				earliest, haveEarliest = nextT, true
			}
		}

		for _, j := range ready {
			if s.maxConcurrent > 0 && s.running >= s.maxConcurrent {
				// runJob wakes the loop when a running job finishes.
				break
			}
			j.Lock()
			j.running = true
			j.Unlock()
			s.running++
			go s.runJob(j)
		}

		wait := defaultTimelineHorizon
		if haveEarliest {
			if d := time.Until(earliest); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}
		s.Sleep(wait)
	}
}

func (s *Scheduler) safeRunJob(j *Job) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverToError(r)
		}
	}()
	return j.fn()
}

func (s *Scheduler) runJob(j *Job) {
	result, err := s.safeRunJob(j)

	s.Lock()
	s.running--
	s.Unlock()

	j.Lock()
	cancelled := j.cancelled
	if j.count > 0 {
		j.count--
	}
	count := j.count
	interval := j.interval
	hasInterval := j.hasInterval
	jitter := j.jitter
	prevNext := j.nextT
	j.running = false
	j.Unlock()

	if err != nil {
		s.invokeJobFailed(j, err)
	} else {
		s.invokeJobEnded(j, result)
	}

	if cancelled {
		s.Lock()
		delete(s.jobs, j.ID)
		s.WakeupAll()
		s.Unlock()
		return
	}

	if reschedule, next := s.nextRun(result, err, hasInterval, interval, jitter, prevNext, count); reschedule {
		j.Lock()
		j.nextT = next
		j.Unlock()
		s.Lock()
		s.WakeupAll()
		s.Unlock()
	} else {
		if err != nil {
			j.Promise.Exception(err)
		} else {
			j.Promise.Complete(result)
		}
		s.Lock()
		delete(s.jobs, j.ID)
		s.WakeupAll()
		s.Unlock()
	}
}

// nextRun decides whether a job reschedules and, if so, its next run time,
// per JobFunc's directive contract. A bounded count (count != -1, i.e. the
// job has a Times(N) budget) reaching zero is terminal regardless of what
// the job returned: the original's Job.run() decrements Count and checks
// it before ever inspecting the returned directive, so the same ordering
// applies here.
func (s *Scheduler) nextRun(result Result, err error, hasInterval bool, interval, jitter time.Duration, prevNext time.Time, count int) (bool, time.Time) {
	if count != -1 && count <= 0 {
		return false, time.Time{}
	}
	if err == nil {
		switch v := result.(type) {
		case string:
			if v == StopDirective {
				return false, time.Time{}
			}
		case time.Duration:
			return true, ResolveTime(v, time.Now())
		}
	}
	if hasInterval {
		return true, prevNext.Add(jitterDuration(interval, jitter))
	}
	return false, time.Time{}
}

func (s *Scheduler) invokeJobEnded(j *Job, result Result) {
	d, ok := s.delegate.(jobEndedDelegate)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logPanic(s.logger, "Scheduler.jobEnded", r)
		}
	}()
	d.JobEnded(s, j, result)
}

func (s *Scheduler) invokeJobFailed(j *Job, err error) {
	d, ok := s.delegate.(jobFailedDelegate)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logPanic(s.logger, "Scheduler.jobFailed", r)
		}
	}()
	d.JobFailed(s, j, err)
}

// DefaultScheduler is the process-wide scheduler, matching the original
// package's module-level default instance.
var DefaultScheduler = NewScheduler(DefaultMaxConcurrentJobs, false, nil)

// ScheduleJob schedules fn on DefaultScheduler.
func ScheduleJob(fn JobFunc, opts ...ScheduleOption) (*Job, error) {
	return DefaultScheduler.Schedule(fn, opts...)
}

// UnscheduleJob cancels the job with the given ID on DefaultScheduler.
func UnscheduleJob(id string) {
	DefaultScheduler.Unschedule(id)
}
