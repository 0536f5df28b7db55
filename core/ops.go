package core

import (
	"context"
	"time"
)

type taskKey struct{}

// CurrentTask returns the task whose body received ctx, or nil.
func CurrentTask(ctx context.Context) *Task {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(taskKey{}).(*Task)
	return t
}

// CurrentScheduler returns the scheduler currently running the task that
// owns ctx, or nil outside a task.
func CurrentScheduler(ctx context.Context) *Scheduler {
	t := CurrentTask(ctx)
	if t == nil {
		return nil
	}
	return t.sched.Load()
}

// runningTask returns the task owning ctx, provided the caller is that task's
// carrier goroutine. Blocking operations must not run on goroutines a task
// body started itself.
func runningTask(ctx context.Context) (*Task, error) {
	t := CurrentTask(ctx)
	if t == nil || CurrentContext() != TaskContext {
		return nil, ErrNoTaskContext
	}
	return t, nil
}

// Spawn creates a child of the calling task on the calling scheduler's stack
// pool and publishes it on the shared work queue. The parent's termination
// callback waits for the child, and a failing child marks the parent's tree
// as failed.
func Spawn(ctx context.Context, body TaskFunc, opts ...TaskOption) (*Task, error) {
	parent := CurrentTask(ctx)
	if parent == nil {
		return nil, ErrNoTaskContext
	}
	s := parent.sched.Load()

	all := make([]TaskOption, 0, len(opts)+2)
	all = append(all, WithStackSize(s.stackSize), WithParent(parent))
	all = append(all, opts...)

	t := NewTask(s.pool, body, all...)
	s.spawned.Add(1)
	s.EnqueueTask(t)
	return t, nil
}

// Deschedule blocks the calling task. Once the task's context is saved, then
// runs on the scheduler goroutine with the blocked task; it must arrange for
// the task to become Runnable again, typically via Reschedule,
// EnqueueBlockedTask or an event loop registration.
//
// If then panics, the panic is reported to the scheduler's PanicHandler and
// the scheduler keeps running. The task stays blocked unless then arranged
// its wake-up before panicking.
//
// Deschedule returns when the task has been resumed.
func Deschedule(ctx context.Context, then func(s *Scheduler, t *Task)) error {
	t, err := runningTask(ctx)
	if err != nil {
		return err
	}
	t.deschedule(then)
	return nil
}

// Yield puts the calling task at the back of the shared work queue.
func Yield(ctx context.Context) error {
	return Deschedule(ctx, func(s *Scheduler, t *Task) {
		s.EnqueueBlockedTask(t)
	})
}

// AwaitIO blocks the calling task until ev completes and returns the
// event's error. The task resumes on the scheduler whose event loop
// delivered the completion.
func AwaitIO(ctx context.Context, ev Event) error {
	t, err := runningTask(ctx)
	if err != nil {
		return err
	}
	t.deschedule(func(s *Scheduler, t *Task) {
		if err := s.loop.RegisterWake(t, ev); err != nil {
			s.resumeBlocked(t, err)
		}
	})
	err = t.ioErr
	t.ioErr = nil
	return err
}

// Sleep blocks the calling task for at least d without occupying its
// scheduler.
func Sleep(ctx context.Context, d time.Duration) error {
	return AwaitIO(ctx, After(d))
}
