package robotz

import (
	"time"

	"golang.org/x/exp/slices"
)

// Runnable is anything a Task can invoke: a single synchronous unit of
// work returning a result or an error.
type Runnable interface {
	Run() (Result, error)
}

// RunnableFunc adapts a plain function to Runnable.
type RunnableFunc func() (Result, error)

func (f RunnableFunc) Run() (Result, error) { return f() }

// Repeatable is an optional interface a Runnable may implement to veto an
// otherwise-eligible repeat (task.should_repeat() in the design).
type Repeatable interface {
	ShouldRepeat() bool
}

// TaskQueueDelegate is a duck-typed, best-effort lifecycle observer.
// Implement whichever of the following methods are of interest:
//
//	TaskIsStarting(q *TaskQueue, t *Task)
//	TaskStarted(q *TaskQueue, t *Task)
//	TaskEnded(q *TaskQueue, t *Task, result Result)
//	TaskFailed(q *TaskQueue, t *Task, err error)
//	TaskWillRepeat(q *TaskQueue, t *Task, result Result, next time.Time, count int) bool
//	TaskCancelled(q *TaskQueue, t *Task)
//
// Panics and errors from delegate methods are recovered, logged, and
// otherwise ignored: they never alter task-queue state.
type TaskQueueDelegate any

type taskIsStartingDelegate interface {
	TaskIsStarting(q *TaskQueue, t *Task)
}
type taskStartedDelegate interface {
	TaskStarted(q *TaskQueue, t *Task)
}
type taskEndedDelegate interface {
	TaskEnded(q *TaskQueue, t *Task, result Result)
}
type taskFailedDelegate interface {
	TaskFailed(q *TaskQueue, t *Task, err error)
}
type taskWillRepeatDelegate interface {
	TaskWillRepeat(q *TaskQueue, t *Task, result Result, next time.Time, count int) bool
}
type taskCancelledDelegate interface {
	TaskCancelled(q *TaskQueue, t *Task)
}

// ResolveTime disambiguates a scalar time argument exactly as the design's
// time semantics specify: a value less than ten years is relative to now;
// otherwise it is an absolute Unix timestamp (expressed, like the
// original, as a duration-typed count of seconds since the epoch).
func ResolveTime(v time.Duration, now time.Time) time.Time {
	const tenYears = 10 * 365 * 24 * time.Hour
	if v < tenYears {
		return now.Add(v)
	}
	return time.Unix(int64(v/time.Second), 0)
}

// TaskConfig carries Append/Insert's optional arguments.
type TaskConfig struct {
	After       time.Duration
	HasAfter    bool
	Count       int
	HasCount    bool
	Interval    time.Duration
	HasInterval bool
	Timeout     time.Duration
	PromiseData Result
	Force       bool
}

// TaskOption configures a TaskConfig.
type TaskOption func(*TaskConfig)

// WithAfter sets the task's earliest start time (relative or absolute per
// ResolveTime).
func WithAfter(t time.Duration) TaskOption {
	return func(c *TaskConfig) { c.After, c.HasAfter = t, true }
}

// WithCount sets the bounded number of invocations (use -1 for unbounded
// together with WithInterval; without an interval, -1 runs the task once).
func WithCount(n int) TaskOption {
	return func(c *TaskConfig) { c.Count, c.HasCount = n, true }
}

// WithInterval marks the task as repeating every d after each invocation.
func WithInterval(d time.Duration) TaskOption {
	return func(c *TaskConfig) { c.Interval, c.HasInterval = d, true }
}

// WithEnqueueTimeout bounds how long Append/Insert may block on a full
// queue.
func WithEnqueueTimeout(d time.Duration) TaskOption {
	return func(c *TaskConfig) { c.Timeout = d }
}

// WithPromiseData attaches opaque data to the task's promise.
func WithPromiseData(v Result) TaskOption {
	return func(c *TaskConfig) { c.PromiseData = v }
}

// WithForce bypasses the capacity wait on enqueue.
func WithForce(force bool) TaskOption {
	return func(c *TaskConfig) { c.Force = force }
}

// Task is a unit of deferred work with scheduling metadata and an
// associated Promise delivered on terminal completion.
type Task struct {
	*SyncObject
	runnable Runnable

	// Promise is delivered once the task reaches a terminal state: on
	// success with its result, on failure with the error, or cancelled.
	Promise *Promise

	createdAt        time.Time
	queuedAt         time.Time
	startedAt        time.Time
	lastRunStartedAt time.Time
	endedAt          time.Time

	runCount       int
	hasInterval    bool
	repeatInterval time.Duration
	hasAfter       bool
	after          time.Time

	running   bool
	cancelled bool

	queue *TaskQueue
}

func (t *Task) isCancelled() bool {
	t.Lock()
	defer t.Unlock()
	return t.cancelled
}

func (t *Task) clearQueue() {
	t.Lock()
	t.queue = nil
	t.Unlock()
}

// Cancel marks the task cancelled and cancels its promise. If the task has
// not yet started, it is removed from its queue immediately; if it is
// currently running, the invocation is allowed to finish but will not
// repeat.
func (t *Task) Cancel() {
	t.Lock()
	if t.cancelled {
		t.Unlock()
		return
	}
	t.cancelled = true
	running := t.running
	q := t.queue
	t.Unlock()

	t.Promise.Cancel(true)

	if q == nil {
		return
	}
	if !running {
		q.removeFromBacklog(t)
		q.invokeTaskCancelled(t)
		t.clearQueue()
	}
	q.dispatch()
}

// CreatedAt, QueuedAt, StartedAt, and EndedAt report the task's lifecycle
// timestamps; StartedAt/EndedAt are zero until the task has run.
func (t *Task) CreatedAt() time.Time { t.Lock(); defer t.Unlock(); return t.createdAt }
func (t *Task) QueuedAt() time.Time { t.Lock(); defer t.Unlock(); return t.queuedAt }
func (t *Task) StartedAt() time.Time { t.Lock(); defer t.Unlock(); return t.startedAt }
func (t *Task) EndedAt() time.Time { t.Lock(); defer t.Unlock(); return t.endedAt }

// Cancelled reports whether Cancel has been called.
func (t *Task) Cancelled() bool { return t.isCancelled() }

// Running reports whether the task's invocation is currently executing.
func (t *Task) Running() bool { t.Lock(); defer t.Unlock(); return t.running }

// TaskQueue is a worker-pool of bounded concurrency with minimum spacing
// between starts ("stagger"), per-task earliest-start time, and optional
// repeat count/interval, backed by a Deque holding the waiting tasks.
type TaskQueue struct {
	*SyncObject
	name     string
	backlog  *Deque[*Task]
	nWorkers int
	stagger  time.Duration
	delegate TaskQueueDelegate
	logger   *Logger

	running      int
	held         bool
	stopped      bool
	hasLastStart bool
	lastStart    time.Time
}

// NewTaskQueue constructs a TaskQueue. nWorkers <= 0 means unbounded;
// capacity <= 0 means an unbounded backlog.
func NewTaskQueue(nWorkers, capacity int, stagger time.Duration, delegate TaskQueueDelegate, opts ...SyncOption) *TaskQueue {
	o := resolveSyncOptions(opts)
	return &TaskQueue{
		SyncObject: NewSyncObject("TaskQueue", opts...),
		backlog:    NewDeque[*Task](capacity, opts...),
		nWorkers:   nWorkers,
		stagger:    stagger,
		delegate:   delegate,
		logger:     o.logger,
	}
}

// Append enqueues task at the tail. task must implement Runnable, be a
// func() (Result, error), or be a plain func(). It returns the Task handle
// immediately; Task.Promise is delivered on terminal completion.
func (q *TaskQueue) Append(task any, opts ...TaskOption) (*Task, error) {
	return q.enqueue(task, opts, true)
}

// Insert is Append, but at the head of the backlog.
func (q *TaskQueue) Insert(task any, opts ...TaskOption) (*Task, error) {
	return q.enqueue(task, opts, false)
}

func (q *TaskQueue) enqueue(task any, opts []TaskOption, tail bool) (*Task, error) {
	var cfg TaskConfig
	for _, o := range opts {
		o(&cfg)
	}

	var runnable Runnable
	switch v := task.(type) {
	case Runnable:
		runnable = v
	case func() (Result, error):
		runnable = RunnableFunc(v)
	case func():
		runnable = RunnableFunc(func() (Result, error) { v(); return nil, nil })
	default:
		return nil, &InvalidStateError{Op: "TaskQueue.Append", Message: "task must implement Runnable or be a func"}
	}

	now := time.Now()
	t := &Task{
		SyncObject: NewSyncObject("Task"),
		runnable:   runnable,
		Promise:    NewPromise(cfg.PromiseData),
		createdAt:  now,
		queuedAt:   now,
		queue:      q,
		runCount:   1,
	}
	if cfg.HasAfter {
		t.hasAfter = true
		t.after = ResolveTime(cfg.After, now)
	}
	if cfg.HasInterval {
		t.hasInterval = true
		t.repeatInterval = cfg.Interval
	}
	if cfg.HasCount {
		t.runCount = cfg.Count
	} else if cfg.HasInterval {
		t.runCount = -1
	}

	q.Lock()
	stopped := q.stopped
	q.Unlock()
	if stopped {
		return nil, &QueueClosedError{Op: "TaskQueue.Append"}
	}

	var err error
	if tail {
		err = q.backlog.Append(t, cfg.Timeout, cfg.Force)
	} else {
		err = q.backlog.Insert(t, cfg.Timeout, cfg.Force)
	}
	if err != nil {
		return nil, err
	}
	q.dispatch()
	return t, nil
}

func (q *TaskQueue) removeFromBacklog(t *Task) {
	q.backlog.Lock()
	defer q.backlog.Unlock()
	if i := slices.Index(q.backlog.items, t); i >= 0 {
		q.backlog.items = slices.Delete(q.backlog.items, i, i+1)
	}
	q.backlog.WakeupAll()
}

// Hold prevents new tasks from starting even when capacity allows, until
// Release is called.
func (q *TaskQueue) Hold() {
	q.Lock()
	q.held = true
	q.Unlock()
}

// Release clears Hold and re-triggers dispatch.
func (q *TaskQueue) Release() {
	q.Lock()
	q.held = false
	q.Unlock()
	q.dispatch()
}

// Stop marks the queue stopped, closes its backlog (future Append/Insert
// fail with *QueueClosedError), and cancels any pending dispatch alarm.
// Already-running tasks are left to complete.
func (q *TaskQueue) Stop() {
	q.Lock()
	if q.stopped {
		q.Unlock()
		return
	}
	q.stopped = true
	q.Unlock()
	q.CancelAlarm()
	q.backlog.Close()
}

// Len returns the number of tasks currently waiting in the backlog.
func (q *TaskQueue) Len() int { return q.backlog.Len() }

// Running returns the number of tasks currently executing.
func (q *TaskQueue) Running() int {
	q.Lock()
	defer q.Unlock()
	return q.running
}

// dispatch implements the dispatch algorithm: drop cancelled tasks, honor
// stop/hold, honor stagger and the worker cap, then start the first
// eligible waiting task (by after <= now, in queue order), looping to fill
// any remaining capacity. If nothing is eligible but some task has a
// future after, an alarm is armed to retry at that time.
func (q *TaskQueue) dispatch() {
	for {
		q.Lock()
		if q.stopped || q.held {
			q.Unlock()
			return
		}
		now := time.Now()
		if q.hasLastStart && q.stagger > 0 {
			if elapsed := now.Sub(q.lastStart); elapsed < q.stagger {
				remaining := q.stagger - elapsed
				q.Unlock()
				q.Alarm(remaining, q.dispatch)
				return
			}
		}
		if q.nWorkers > 0 && q.running >= q.nWorkers {
			q.Unlock()
			return
		}
		q.Unlock()

		picked := q.pickNext()
		if picked == nil {
			return
		}

		q.Lock()
		q.running++
		q.lastStart = time.Now()
		q.hasLastStart = true
		q.Unlock()

		picked.Lock()
		picked.running = true
		picked.Unlock()

		q.invokeTaskIsStarting(picked)
		q.invokeTaskStarted(picked)
		go q.runTask(picked)
	}
}

// pickNext scans the backlog in order for the first non-cancelled task
// whose after has arrived, removing and returning it. If none is ready but
// one or more are waiting on a future after, it arms an alarm at the
// earliest of those and returns nil.
func (q *TaskQueue) pickNext() *Task {
	q.backlog.Lock()
	defer q.backlog.Unlock()

	q.backlog.items = slices.DeleteFunc(q.backlog.items, (*Task).isCancelled)

	now := time.Now()
	var earliest time.Time
	haveEarliest := false
	for i, t := range q.backlog.items {
		t.Lock()
		ready := !t.hasAfter || !t.after.After(now)
		after := t.after
		hasAfter := t.hasAfter
		t.Unlock()
		if ready {
			q.backlog.items = append(q.backlog.items[:i], q.backlog.items[i+1:]...)
			q.backlog.WakeupAll()
			return t
		}
		if hasAfter && (!haveEarliest || after.Before(earliest)) {
			earliest, haveEarliest = after, true
		}
	}
	q.backlog.WakeupAll()
	if haveEarliest {
		d := time.Until(earliest)
		if d < 0 {
			d = 0
		}
		q.Alarm(d, q.dispatch)
	}
	return nil
}

func (q *TaskQueue) safeRun(t *Task) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverToError(r)
		}
	}()
	return t.runnable.Run()
}

func (q *TaskQueue) runTask(t *Task) {
	t.Lock()
	if t.startedAt.IsZero() {
		t.startedAt = time.Now()
	}
	t.lastRunStartedAt = time.Now()
	if t.runCount > 0 {
		t.runCount--
	}
	t.Unlock()

	result, err := q.safeRun(t)

	t.Lock()
	t.endedAt = time.Now()
	cancelled := t.cancelled
	t.Unlock()

	q.Lock()
	q.running--
	q.Unlock()

	switch {
	case err != nil:
		t.Promise.Exception(err)
		q.invokeTaskFailed(t, err)
		t.clearQueue()

	case cancelled:
		t.Promise.Cancel(true)
		q.invokeTaskEnded(t, result)
		t.clearQueue()

	default:
		if repeat, next := q.shouldRepeat(t, result); repeat {
			t.Lock()
			t.after = next
			t.hasAfter = true
			t.running = false
			t.Unlock()
			q.backlog.Lock()
			q.backlog.items = append(q.backlog.items, t)
			q.backlog.WakeupAll()
			q.backlog.Unlock()
		} else {
			t.Promise.Complete(result)
			q.invokeTaskEnded(t, result)
			t.clearQueue()
		}
	}

	q.dispatch()
}

func (q *TaskQueue) shouldRepeat(t *Task, result Result) (bool, time.Time) {
	t.Lock()
	hasInterval := t.hasInterval
	interval := t.repeatInterval
	runCount := t.runCount
	hasAfter := t.hasAfter
	after := t.after
	lastStart := t.lastRunStartedAt
	t.Unlock()

	eligible := (hasInterval && runCount != 0) || (!hasInterval && runCount > 0)
	if !eligible {
		return false, time.Time{}
	}
	if r, ok := t.runnable.(Repeatable); ok && !r.ShouldRepeat() {
		return false, time.Time{}
	}

	base := lastStart
	if hasAfter {
		base = after
	}
	next := base.Add(interval)

	if q.delegate != nil {
		if d, ok := q.delegate.(taskWillRepeatDelegate); ok {
			if !q.invokeTaskWillRepeat(d, t, result, next, runCount) {
				return false, time.Time{}
			}
		}
	}
	return true, next
}

func (q *TaskQueue) invokeTaskIsStarting(t *Task) {
	d, ok := q.delegate.(taskIsStartingDelegate)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logPanic(q.logger, "TaskQueue.taskIsStarting", r)
		}
	}()
	d.TaskIsStarting(q, t)
}

func (q *TaskQueue) invokeTaskStarted(t *Task) {
	d, ok := q.delegate.(taskStartedDelegate)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logPanic(q.logger, "TaskQueue.taskStarted", r)
		}
	}()
	d.TaskStarted(q, t)
}

func (q *TaskQueue) invokeTaskEnded(t *Task, result Result) {
	d, ok := q.delegate.(taskEndedDelegate)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logPanic(q.logger, "TaskQueue.taskEnded", r)
		}
	}()
	d.TaskEnded(q, t, result)
}

func (q *TaskQueue) invokeTaskFailed(t *Task, err error) {
	d, ok := q.delegate.(taskFailedDelegate)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logPanic(q.logger, "TaskQueue.taskFailed", r)
		}
	}()
	d.TaskFailed(q, t, err)
}

func (q *TaskQueue) invokeTaskWillRepeat(d taskWillRepeatDelegate, t *Task, result Result, next time.Time, count int) (proceed bool) {
	proceed = true
	defer func() {
		if r := recover(); r != nil {
			logPanic(q.logger, "TaskQueue.taskWillRepeat", r)
			proceed = true
		}
	}()
	if !d.TaskWillRepeat(q, t, result, next, count) {
		proceed = false
	}
	return
}

func (q *TaskQueue) invokeTaskCancelled(t *Task) {
	d, ok := q.delegate.(taskCancelledDelegate)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logPanic(q.logger, "TaskQueue.taskCancelled", r)
		}
	}()
	d.TaskCancelled(q, t)
}

// DefaultQueue is the process-wide task queue, matching the original
// package's module-level default instance; Go and Run target it.
var DefaultQueue = NewTaskQueue(0, 0, 0, nil)

// Go enqueues fn on DefaultQueue, returning the resulting Task.
func Go(fn func() (Result, error), opts ...TaskOption) (*Task, error) {
	return DefaultQueue.Append(fn, opts...)
}

// Run enqueues fn on DefaultQueue and blocks for its result.
func Run(fn func() (Result, error), timeout time.Duration) (Result, error) {
	t, err := Go(fn)
	if err != nil {
		return nil, err
	}
	return t.Promise.Wait(timeout)
}
