package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// TaskFunc is the body of a task. ctx carries the task and its runtime; pass
// it to Spawn, Yield, AwaitIO and the other task-facing operations.
type TaskFunc func(ctx context.Context)

// TaskID uniquely identifies a task within the process.
type TaskID uint64

var taskIDs atomic.Uint64

// TaskState is the scheduling state of a task.
type TaskState int32

const (
	TaskRunnable TaskState = iota
	TaskRunning
	TaskBlocked
	TaskDead
)

func (s TaskState) String() string {
	switch s {
	case TaskRunnable:
		return "Runnable"
	case TaskRunning:
		return "Running"
	case TaskBlocked:
		return "Blocked"
	case TaskDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Task is a green thread: a body, the stack it runs on and its scheduling
// state. The stack's saved context is valid only while the task is not
// Running.
type Task struct {
	id        TaskID
	name      string
	body      TaskFunc
	stack     *Stack
	state     atomic.Int32
	sched     atomic.Pointer[Scheduler]
	ctx       context.Context
	createdAt time.Time

	// success is written by the carrier before the final switch and read
	// by the scheduler after it.
	success bool
	ioErr   error

	death death
}

// TaskOption configures NewTask.
type TaskOption func(*taskOptions)

type taskOptions struct {
	name      string
	stackSize int
	parent    *Task
}

// WithName sets a task name used in logs and history records.
func WithName(name string) TaskOption {
	return func(o *taskOptions) { o.name = name }
}

// WithStackSize sets the minimum stack segment size.
func WithStackSize(size int) TaskOption {
	return func(o *taskOptions) { o.stackSize = size }
}

// WithParent links the new task into parent's death tree: parent's
// termination callback waits for it and observes its failure.
func WithParent(parent *Task) TaskOption {
	return func(o *taskOptions) { o.parent = parent }
}

// NewTask creates a Runnable task whose stack comes from pool. The stack
// begins by invoking body; when body returns or panics the task becomes Dead,
// its stack goes back to pool and the termination callback fires.
func NewTask(pool *StackPool, body TaskFunc, opts ...TaskOption) *Task {
	o := taskOptions{stackSize: DefaultStackSize}
	for _, opt := range opts {
		opt(&o)
	}

	t := &Task{
		id:        TaskID(taskIDs.Add(1)),
		name:      resolveTaskName(body, o.name),
		body:      body,
		createdAt: time.Now(),
	}
	t.state.Store(int32(TaskRunnable))
	t.death.parent = o.parent
	if o.parent != nil {
		o.parent.addChild()
	}

	t.stack = pool.Acquire(o.stackSize)
	t.stack.init(t.entry)
	return t
}

func (t *Task) ID() TaskID { return t.id }

func (t *Task) Name() string { return t.name }

func (t *Task) State() TaskState { return TaskState(t.state.Load()) }

// Parent returns the task this one was spawned under, if any.
func (t *Task) Parent() *Task { return t.death.parent }

// Scheduler returns the scheduler currently or most recently running the task.
func (t *Task) Scheduler() *Scheduler { return t.sched.Load() }

// Segment returns the task's stack memory. Only valid while the task is alive,
// and only from the task itself.
func (t *Task) Segment() []byte {
	if t.stack == nil {
		return nil
	}
	return t.stack.Segment()
}

// Stack returns the task's stack, or nil once the task is dead.
func (t *Task) Stack() *Stack { return t.stack }

// SetOnExit registers the termination callback. It is invoked exactly once,
// on a scheduler goroutine, after the task and all of its descendants have
// finished. A second call replaces the first (last writer wins).
//
// A panic in cb is reported to the scheduler's PanicHandler. It does not
// change the success flag seen by the parent.
func (t *Task) SetOnExit(cb func(success bool)) {
	t.death.mu.Lock()
	defer t.death.mu.Unlock()
	t.death.onExit = cb
}

// Reschedule makes a Blocked task Runnable again on the shared work queue.
// It may be called from any goroutine by whoever holds the blocked handle.
func (t *Task) Reschedule() {
	s := t.sched.Load()
	if s == nil {
		fault("reschedule", "task was never scheduled: "+t.name, nil)
	}
	s.EnqueueBlockedTask(t)
}

func (t *Task) transition(from, to TaskState, op string) {
	if !t.state.CompareAndSwap(int32(from), int32(to)) {
		fault(op, fmt.Sprintf("task %s: want %s -> %s, state is %s", t.name, from, to, t.State()), nil)
	}
}

// entry runs on the carrier goroutine the first time the task is switched to.
func (t *Task) entry() {
	normal := false
	defer func() {
		r := recover()
		if r != nil && IsFault(r) {
			panic(r)
		}
		t.success = normal
		if r != nil {
			t.reportPanic(r, debug.Stack())
		} else if !normal {
			// runtime.Goexit: this carrier goroutine ends with the task.
			t.stack.poisoned.Store(true)
		}
		t.exit()
	}()

	t.body(t.ctx)
	normal = true
}

// reportPanic hands a recovered panic to the panic handler of the scheduler
// most recently running the task.
func (t *Task) reportPanic(v any, stack []byte) {
	s := t.sched.Load()
	s.panicHandler.HandlePanic(t.ctx, s.name, t.id, v, stack)
}

// exit performs the task's final switch. The scheduler reclaims the stack
// and fires the termination callback from scheduler context.
func (t *Task) exit() {
	s := t.sched.Load()
	t.transition(TaskRunning, TaskDead, "task exit")
	s.setCleanup(t, (*Scheduler).terminateTask)
	jumpContext(t.stack.ctx, s.ctx)
}

// deschedule blocks the running task and runs then on the scheduler once the
// task's context is saved.
func (t *Task) deschedule(then func(*Scheduler, *Task)) {
	s := t.sched.Load()
	if s.active != t {
		fault("deschedule", "task is not active on its scheduler: "+t.name, nil)
	}
	t.transition(TaskRunning, TaskBlocked, "deschedule")
	s.setCleanup(t, then)
	swapContext(t.stack.ctx, s.ctx)
}
