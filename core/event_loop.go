package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is one asynchronous completion source. Arm starts the operation and
// must arrange for complete to be called exactly once, from any goroutine.
// A non-nil error from Arm means nothing was started.
type Event interface {
	Arm(complete func(err error)) error
}

// EventFunc adapts a function to Event.
type EventFunc func(complete func(err error)) error

func (f EventFunc) Arm(complete func(err error)) error { return f(complete) }

// TimerEvent completes after Delay. Event loops with their own timer
// machinery recognise it; elsewhere it falls back to time.AfterFunc.
type TimerEvent struct {
	Delay time.Duration
}

// After returns an event that completes after d.
func After(d time.Duration) TimerEvent {
	return TimerEvent{Delay: d}
}

func (e TimerEvent) Arm(complete func(err error)) error {
	time.AfterFunc(e.Delay, func() { complete(nil) })
	return nil
}

// EventLoop is the I/O backend driven by one scheduler. Everything except
// RegisterWake's completions and Wake runs on the scheduler goroutine.
type EventLoop interface {
	// RegisterWake arms ev on behalf of the blocked task t. When ev
	// completes, the loop hands t and the result to the ready handler on
	// the scheduler goroutine, during RunReady.
	RegisterWake(t *Task, ev Event) error

	// SetReadyHandler installs the callback that re-enqueues completed tasks.
	SetReadyHandler(h func(t *Task, err error))

	// RunReady delivers completed registrations without blocking and
	// returns how many were delivered.
	RunReady() int

	// Wait blocks until Wake is called or a completion is ready. A Wake
	// issued before Wait is not lost.
	Wait() error

	// Wake interrupts Wait. Safe from any goroutine.
	Wake()

	// Pending returns registrations not yet delivered.
	Pending() int

	Close() error
}

type completion struct {
	task *Task
	err  error
}

// BasicLoop is a portable EventLoop that supports any Event through its Arm
// method. Completions are queued and the scheduler is woken through a
// one-slot channel.
type BasicLoop struct {
	mu      sync.Mutex
	ready   []completion
	wake    chan struct{}
	pending atomic.Int64
	handler func(*Task, error)
	closed  atomic.Bool
}

func NewBasicLoop() *BasicLoop {
	return &BasicLoop{wake: make(chan struct{}, 1)}
}

func (l *BasicLoop) SetReadyHandler(h func(t *Task, err error)) {
	l.handler = h
}

func (l *BasicLoop) RegisterWake(t *Task, ev Event) error {
	if l.closed.Load() {
		return ErrLoopClosed
	}
	l.pending.Add(1)
	var once sync.Once
	err := ev.Arm(func(err error) {
		once.Do(func() { l.deliver(t, err) })
	})
	if err != nil {
		l.pending.Add(-1)
		return err
	}
	return nil
}

func (l *BasicLoop) deliver(t *Task, err error) {
	l.mu.Lock()
	l.ready = append(l.ready, completion{task: t, err: err})
	l.mu.Unlock()
	l.Wake()
}

func (l *BasicLoop) RunReady() int {
	l.mu.Lock()
	batch := l.ready
	l.ready = nil
	l.mu.Unlock()

	for _, c := range batch {
		l.pending.Add(-1)
		l.handler(c.task, c.err)
	}
	return len(batch)
}

func (l *BasicLoop) Wait() error {
	l.mu.Lock()
	n := len(l.ready)
	l.mu.Unlock()
	if n > 0 {
		return nil
	}
	<-l.wake
	return nil
}

func (l *BasicLoop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *BasicLoop) Pending() int { return int(l.pending.Load()) }

func (l *BasicLoop) Close() error {
	l.closed.Store(true)
	l.Wake()
	return nil
}
