// Package eventloop provides the default I/O backend driven by each
// scheduler: timers, file descriptor readiness and blocking work offload,
// all delivered back to the scheduler goroutine that registered them.
package eventloop

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-greenrt/core"
	"github.com/Swind/go-greenrt/offload"
)

// Standard errors.
var (
	ErrFDOutOfRange        = errors.New("eventloop: fd out of range")
	ErrFDAlreadyRegistered = errors.New("eventloop: fd already registered")
	ErrPollerClosed        = errors.New("eventloop: poller closed")
)

// poller is the platform wait primitive.
type poller interface {
	// wait blocks until wake, an fd callback or the timeout; a negative
	// timeout waits indefinitely. Fd callbacks run inside wait.
	wait(timeout time.Duration) error
	wake() error
	add(fd int, events IOEvents, cb func(IOEvents)) error
	watched() int
	close() error
}

type completion struct {
	task *core.Task
	err  error
}

// Loop is the default core.EventLoop. RegisterWake, RunReady and Wait are
// called by the owning scheduler; completions and Wake may come from any
// goroutine.
type Loop struct {
	name string

	mu      sync.Mutex
	ready   []completion
	timers  timers
	handler func(*core.Task, error)

	pending     atomic.Int64
	wakePending atomic.Uint32 // wake-up deduplication
	closed      atomic.Bool

	poller poller
	pool   *offload.Pool
	logger core.Logger
}

var _ core.EventLoop = (*Loop)(nil)

// Option configures a Loop.
type Option func(*Loop)

// WithName names the loop in log output.
func WithName(name string) Option {
	return func(l *Loop) { l.name = name }
}

// WithLogger sets the loop's logger.
func WithLogger(logger core.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithOffloadPool sets the pool that runs Blocking events.
func WithOffloadPool(pool *offload.Pool) Option {
	return func(l *Loop) { l.pool = pool }
}

// New creates a loop with the platform poller.
func New(opts ...Option) (*Loop, error) {
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("eventloop: create poller: %w", err)
	}
	l := &Loop{
		name:    "loop",
		poller:  p,
		logger:  core.NewNoOpLogger(),
		handler: func(*core.Task, error) {},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Loop) SetReadyHandler(h func(t *core.Task, err error)) {
	l.handler = h
}

// RegisterWake arms ev for t. Timers are served by the loop itself and fd
// events by its poller; any other event is armed directly.
func (l *Loop) RegisterWake(t *core.Task, ev core.Event) error {
	if l.closed.Load() {
		return core.ErrLoopClosed
	}
	if be, ok := ev.(BlockingEvent); ok && be.Pool == nil && l.pool != nil {
		be.Pool = l.pool
		ev = be
	}

	l.pending.Add(1)
	switch e := ev.(type) {
	case core.TimerEvent:
		l.mu.Lock()
		first := l.timers.add(t, e.Delay)
		l.mu.Unlock()
		if first {
			l.Wake()
		}
		return nil

	case FDEvent:
		err := l.poller.add(e.FD, e.Events, func(IOEvents) { l.deliver(t, nil) })
		if err != nil {
			l.pending.Add(-1)
			return fmt.Errorf("eventloop: watch fd %d: %w", e.FD, err)
		}
		return nil

	default:
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
}

func (l *Loop) deliver(t *core.Task, err error) {
	l.mu.Lock()
	l.ready = append(l.ready, completion{task: t, err: err})
	l.mu.Unlock()
	l.Wake()
}

// RunReady collects expired timers and hands every completion to the ready
// handler.
func (l *Loop) RunReady() int {
	l.mu.Lock()
	for _, t := range l.timers.expired(time.Now()) {
		l.ready = append(l.ready, completion{task: t})
	}
	batch := l.ready
	l.ready = nil
	l.mu.Unlock()

	for _, c := range batch {
		l.pending.Add(-1)
		l.handler(c.task, c.err)
	}
	return len(batch)
}

// Wait blocks until woken, until an fd fires or until the earliest timer is
// due. It returns at once if completions are already waiting.
func (l *Loop) Wait() error {
	if l.closed.Load() {
		return core.ErrLoopClosed
	}

	l.mu.Lock()
	if len(l.ready) > 0 {
		l.mu.Unlock()
		return nil
	}
	timeout := l.timers.next(time.Now())
	l.mu.Unlock()
	if timeout == 0 {
		return nil
	}

	err := l.poller.wait(timeout)
	// Everything published before a deduplicated Wake is seen by the
	// caller's checks after Wait returns.
	l.wakePending.Store(0)
	if err != nil {
		l.logger.Error("event loop wait failed", core.F("loop", l.name), core.F("err", err))
	}
	return err
}

// Wake interrupts Wait. Repeated wakes before the loop next waits collapse
// into one.
func (l *Loop) Wake() {
	if !l.wakePending.CompareAndSwap(0, 1) {
		return
	}
	if err := l.poller.wake(); err != nil {
		l.wakePending.Store(0)
		if !l.closed.Load() {
			l.logger.Warn("event loop wake failed", core.F("loop", l.name), core.F("err", err))
		}
	}
}

// Pending returns registrations not yet handed to the ready handler.
func (l *Loop) Pending() int { return int(l.pending.Load()) }

// Timers returns the number of armed timers.
func (l *Loop) Timers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timers.len()
}

// Watched returns the number of armed fd registrations.
func (l *Loop) Watched() int { return l.poller.watched() }

// Close releases the poller. Pending registrations are abandoned.
func (l *Loop) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	l.mu.Lock()
	dropped := len(l.timers.clear())
	l.ready = nil
	l.mu.Unlock()
	if dropped > 0 {
		l.logger.Warn("event loop closed with armed timers", core.F("loop", l.name), core.F("timers", dropped))
	}
	return l.poller.close()
}
