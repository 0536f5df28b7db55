package core

import (
	"context"
	"sync"

	"github.com/Swind/go-greenrt/internal/fifo"
)

// Tube is an unbounded channel with a single receiving task. Recv suspends
// the receiver without occupying its scheduler; Send may be called from any
// goroutine, task or not.
type Tube[T any] struct {
	mu     sync.Mutex
	buf    *fifo.Queue[T]
	waiter *Task
}

func NewTube[T any]() *Tube[T] {
	return &Tube[T]{buf: fifo.New[T]()}
}

// Send buffers v and reschedules the receiver if it is blocked in Recv.
func (tb *Tube[T]) Send(v T) {
	tb.mu.Lock()
	tb.buf.Push(v)
	w := tb.waiter
	tb.waiter = nil
	tb.mu.Unlock()

	if w != nil {
		w.Reschedule()
	}
}

// Recv returns the oldest buffered value, blocking the calling task until
// one is available. Only one task may receive on a Tube.
func (tb *Tube[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	t, err := runningTask(ctx)
	if err != nil {
		return zero, err
	}

	for {
		tb.mu.Lock()
		if v, ok := tb.buf.Pop(); ok {
			tb.mu.Unlock()
			return v, nil
		}
		if tb.waiter != nil && tb.waiter != t {
			tb.mu.Unlock()
			fault("tube recv", "second receiver on tube: "+t.name, nil)
		}
		tb.mu.Unlock()

		t.deschedule(tb.park)
	}
}

// park runs on the scheduler once the receiver's context is saved. A value
// that arrived during the switch sends the receiver straight back.
func (tb *Tube[T]) park(s *Scheduler, t *Task) {
	tb.mu.Lock()
	if !tb.buf.IsEmpty() {
		tb.mu.Unlock()
		s.EnqueueBlockedTask(t)
		return
	}
	tb.waiter = t
	tb.mu.Unlock()
}

// Len returns the number of buffered values.
func (tb *Tube[T]) Len() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.buf.Len()
}
