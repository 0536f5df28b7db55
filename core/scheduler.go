package core

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"
)

// SchedulerState is the lifecycle state of a Scheduler.
type SchedulerState int32

const (
	SchedulerIdle SchedulerState = iota
	SchedulerRunningTask
	SchedulerDraining
	SchedulerStopped
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerIdle:
		return "Idle"
	case SchedulerRunningTask:
		return "RunningTask"
	case SchedulerDraining:
		return "Draining"
	case SchedulerStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// ErrSchedulerStarted is returned by Run when the scheduler already ran.
var ErrSchedulerStarted = errors.New("scheduler already started")

type cleanupJob struct {
	task *Task
	fn   func(*Scheduler, *Task)
}

// Scheduler multiplexes tasks onto the goroutine that calls Run, which is
// locked to its OS thread for the scheduler's lifetime.
//
// Work comes from two places: a private local queue, fed by I/O completions
// delivered on this scheduler's event loop, and the WorkQueue shared by every
// scheduler of a runtime. The local queue is drained first.
type Scheduler struct {
	id   int
	name string
	ctx  *execContext

	local    runQueue
	localLen atomic.Int64
	work     *WorkQueue
	sleepers *SleeperList
	inbox    *MessageQueue
	handle   *SchedHandle
	loop     EventLoop
	pool     *StackPool

	// Owned by the scheduler goroutine.
	active   *Task
	cleanup  cleanupJob
	sleeping atomic.Bool
	draining atomic.Bool

	state   atomic.Int32
	started atomic.Bool
	base    context.Context

	logger       Logger
	panicHandler PanicHandler
	metrics      Metrics
	stackSize    int
	history      executionHistory

	slices    atomic.Int64
	spawned   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	wakeups   atomic.Int64

	// idleHook runs between the first emptiness check and the sleeper push.
	idleHook func()
}

// NewScheduler creates a scheduler sharing work and sleepers with its
// siblings. A nil loop gets a BasicLoop; a nil config gets the defaults.
func NewScheduler(id int, loop EventLoop, work *WorkQueue, sleepers *SleeperList, cfg *SchedulerConfig) *Scheduler {
	if cfg == nil {
		cfg = DefaultSchedulerConfig()
	}
	if loop == nil {
		loop = NewBasicLoop()
	}
	if work == nil {
		work = NewWorkQueue()
	}
	if sleepers == nil {
		sleepers = NewSleeperList()
	}

	name := cfg.Name
	if name == "" {
		name = "sched-" + strconv.Itoa(id)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = packageLogger()
	}
	panicHandler := cfg.PanicHandler
	if panicHandler == nil {
		panicHandler = &LoggingPanicHandler{Logger: logger}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &NilMetrics{}
	}
	stackSize := cfg.StackSize
	if stackSize <= 0 {
		stackSize = DefaultStackSize
	}
	cacheLimit := cfg.StackCacheLimit
	if cacheLimit == 0 {
		cacheLimit = DefaultStackCacheLimit
	}

	s := &Scheduler{
		id:           id,
		name:         name,
		ctx:          newExecContext(name, false),
		work:         work,
		sleepers:     sleepers,
		inbox:        NewMessageQueue(),
		loop:         loop,
		pool:         NewStackPool(cacheLimit),
		base:         context.Background(),
		logger:       logger,
		panicHandler: panicHandler,
		metrics:      metrics,
		stackSize:    stackSize,
		history:      newExecutionHistory(cfg.HistoryCapacity),
	}
	s.pool.logger = logger
	s.pool.onAlloc = func(size int) { metrics.RecordStackAllocation(name, size) }
	s.handle = &SchedHandle{id: id, name: name, inbox: s.inbox, wake: loop.Wake, sleeping: &s.sleeping}
	loop.SetReadyHandler(s.resumeBlocked)
	return s
}

func (s *Scheduler) ID() int { return s.id }

func (s *Scheduler) Name() string { return s.name }

// Pool returns the scheduler's stack pool.
func (s *Scheduler) Pool() *StackPool { return s.pool }

// Loop returns the scheduler's event loop.
func (s *Scheduler) Loop() EventLoop { return s.loop }

// StackSize is the default stack size for tasks spawned on this scheduler.
func (s *Scheduler) StackSize() int { return s.stackSize }

// MakeHandle returns the handle other goroutines use to message this
// scheduler. Every call returns the same handle.
func (s *Scheduler) MakeHandle() *SchedHandle { return s.handle }

func (s *Scheduler) State() SchedulerState { return SchedulerState(s.state.Load()) }

func (s *Scheduler) setState(st SchedulerState) { s.state.Store(int32(st)) }

// EnqueueTask makes a Runnable task available to every scheduler sharing
// the work queue, then wakes one idle scheduler if there is one.
// It may be called from any goroutine.
func (s *Scheduler) EnqueueTask(t *Task) {
	if t.State() != TaskRunnable {
		fault("enqueue", "task is not runnable: "+t.name, nil)
	}
	s.work.Push(t)
	if h, ok := s.sleepers.Pop(); ok {
		h.Send(Wake)
	}
}

// EnqueueBlockedTask moves a Blocked task back to Runnable and enqueues it.
func (s *Scheduler) EnqueueBlockedTask(t *Task) {
	t.transition(TaskBlocked, TaskRunnable, "enqueue blocked task")
	s.EnqueueTask(t)
}

// EnqueueLocal puts a Runnable task on the private queue. It must be called
// from the scheduler goroutine, or before Run starts.
func (s *Scheduler) EnqueueLocal(t *Task) {
	if t.State() != TaskRunnable {
		fault("enqueue local", "task is not runnable: "+t.name, nil)
	}
	s.local.push(t)
	s.localLen.Add(1)
}

// resumeBlocked is the event loop's ready handler: the task's wait is over
// and it resumes on this scheduler.
func (s *Scheduler) resumeBlocked(t *Task, err error) {
	t.ioErr = err
	t.transition(TaskBlocked, TaskRunnable, "io completion")
	s.local.push(t)
	s.localLen.Add(1)
}

// Run drives the scheduler until it is told to shut down and has nothing
// left to run or wait for. Cancelling ctx is equivalent to sending Shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSchedulerStarted
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	unbind := bindGoroutine(SchedulerContext)
	defer unbind()

	s.ctx.claim()
	defer s.ctx.save()

	s.base = ctx
	stop := context.AfterFunc(ctx, func() { s.handle.Send(Shutdown) })
	defer stop()

	s.logger.Debug("scheduler started", F("scheduler", s.name))
	defer s.logger.Debug("scheduler stopped", F("scheduler", s.name))

	for {
		if s.runOnce() {
			continue
		}
		if s.draining.Load() && s.quiescent() {
			s.setState(SchedulerStopped)
			return nil
		}
		if err := s.idle(); err != nil {
			s.setState(SchedulerStopped)
			return err
		}
	}
}

// runOnce handles messages and completions and runs at most one task. It
// reports whether it made progress.
func (s *Scheduler) runOnce() bool {
	s.processMessages()
	delivered := s.loop.RunReady()

	t, ok := s.local.pop()
	if ok {
		s.localLen.Add(-1)
	} else {
		t, ok = s.work.Pop()
		if ok {
			s.metrics.RecordQueueDepth(s.name, s.work.Len())
		}
	}
	if !ok {
		return delivered > 0
	}

	s.resumeTask(t)
	return true
}

func (s *Scheduler) processMessages() {
	for {
		msg, ok := s.inbox.TryRecv()
		if !ok {
			return
		}
		switch msg {
		case Wake:
			s.sleeping.Store(false)
		case Shutdown:
			if !s.draining.Swap(true) {
				s.logger.Debug("scheduler draining", F("scheduler", s.name))
			}
		}
	}
}

func (s *Scheduler) quiescent() bool {
	return s.local.len() == 0 && s.work.IsEmpty() && s.loop.Pending() == 0
}

// idle parks the scheduler until its loop is woken. The scheduler publishes
// itself as a sleeper and re-checks the shared queue before waiting, so a
// producer that pushed before the publish is seen here and one that pushed
// after it pops the handle and sends Wake.
//
// The scheduler leaves the idle set whenever Wait returns, whatever woke it.
// A handle still listed from then on is skipped by SleeperList.Pop.
func (s *Scheduler) idle() error {
	if s.draining.Load() {
		s.setState(SchedulerDraining)
	} else {
		s.setState(SchedulerIdle)
	}

	if !s.work.IsEmpty() {
		return nil
	}
	if s.idleHook != nil {
		s.idleHook()
	}
	s.sleeping.Store(true)
	s.sleepers.Push(s.handle)
	if !s.work.IsEmpty() || s.inbox.Len() > 0 {
		s.sleeping.Store(false)
		return nil
	}

	err := s.loop.Wait()
	s.sleeping.Store(false)
	s.wakeups.Add(1)
	s.metrics.RecordWakeup(s.name)
	return err
}

// resumeTask switches into t and, once t switches back, runs whatever
// cleanup t left behind.
func (s *Scheduler) resumeTask(t *Task) {
	t.transition(TaskRunnable, TaskRunning, "resume")
	t.sched.Store(s)
	if t.ctx == nil {
		t.ctx = context.WithValue(s.base, taskKey{}, t)
	}
	if !s.draining.Load() {
		s.setState(SchedulerRunningTask)
	}

	s.active = t
	start := time.Now()
	swapContext(s.ctx, t.stack.ctx)
	s.active = nil

	s.slices.Add(1)
	s.metrics.RecordTaskSlice(s.name, time.Since(start))
	s.runCleanup()
}

// setCleanup is called by the running task just before it switches away.
func (s *Scheduler) setCleanup(t *Task, fn func(*Scheduler, *Task)) {
	if s.cleanup.fn != nil {
		fault("deschedule", "cleanup job already pending on "+s.name, nil)
	}
	s.cleanup = cleanupJob{task: t, fn: fn}
}

func (s *Scheduler) runCleanup() {
	job := s.cleanup
	s.cleanup = cleanupJob{}
	if job.fn == nil {
		fault("resume", "task switched back without a cleanup job", nil)
	}
	defer func() {
		if r := recover(); r != nil {
			if IsFault(r) {
				panic(r)
			}
			job.task.reportPanic(r, debug.Stack())
		}
	}()
	job.fn(s, job.task)
}

// terminateTask hands a dead task's stack back to the pool it came from,
// which may belong to another scheduler, and then fires the termination
// callback.
func (s *Scheduler) terminateTask(t *Task) {
	st := t.stack
	t.stack = nil
	st.Pool().Release(st)

	record := newExitRecord(t, s.name, time.Now())
	s.history.Add(record)
	s.completed.Add(1)
	if !t.success {
		s.failed.Add(1)
	}
	s.metrics.RecordTaskExit(s.name, t.success, record.Lifetime)

	t.finish(t.success)
}

// RecentTasks returns up to limit exit records, newest first.
func (s *Scheduler) RecentTasks(limit int) []TaskExecutionRecord {
	return s.history.Recent(limit)
}

// Stats returns a snapshot of the scheduler's counters.
func (s *Scheduler) Stats() SchedulerStats {
	stats := SchedulerStats{
		ID:           s.id,
		Name:         s.name,
		State:        s.State(),
		LocalQueued:  int(s.localLen.Load()),
		SharedQueued: s.work.Len(),
		PendingIO:    s.loop.Pending(),
		Sleeping:     s.sleeping.Load(),
		Draining:     s.draining.Load(),
		Slices:       s.slices.Load(),
		Spawned:      s.spawned.Load(),
		Completed:    s.completed.Load(),
		Failed:       s.failed.Load(),
		Wakeups:      s.wakeups.Load(),
		Stacks:       s.pool.Stats(),
	}
	if last, ok := s.history.Last(); ok {
		stats.LastTaskName = last.Name
		stats.LastTaskAt = last.FinishedAt
	}
	return stats
}

// runQueue is the scheduler's private FIFO. It is only touched by the
// scheduler goroutine.
type runQueue struct {
	items []*Task
	head  int
}

func (q *runQueue) push(t *Task) { q.items = append(q.items, t) }

func (q *runQueue) pop() (*Task, bool) {
	if q.head >= len(q.items) {
		return nil, false
	}
	t := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return t, true
}

func (q *runQueue) len() int { return len(q.items) - q.head }
