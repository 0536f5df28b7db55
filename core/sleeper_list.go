package core

import (
	"sync/atomic"

	"github.com/Swind/go-greenrt/internal/fifo"
)

// SchedHandle is the remote side of a scheduler: other goroutines use it to
// post control messages, which also wakes the scheduler's event loop.
type SchedHandle struct {
	id    int
	name  string
	inbox *MessageQueue
	wake  func()

	// sleeping points at the scheduler's idle flag. A nil flag means the
	// handle is always considered asleep.
	sleeping *atomic.Bool
	// listed is set while the handle sits in a SleeperList.
	listed atomic.Bool
}

func (h *SchedHandle) ID() int { return h.id }

func (h *SchedHandle) Name() string { return h.name }

// Send enqueues msg and then wakes the scheduler. The message is published
// before the wake-up so a scheduler returning from its wait always sees it.
func (h *SchedHandle) Send(msg Message) {
	h.inbox.Send(msg)
	h.wake()
}

// claim takes the handle's scheduler out of the idle set. It fails when the
// scheduler already left it on its own.
func (h *SchedHandle) claim() bool {
	return h.sleeping == nil || h.sleeping.CompareAndSwap(true, false)
}

// SleeperList holds handles of idle schedulers. A handle is listed at most
// once. Order is FIFO.
type SleeperList struct {
	q *fifo.Queue[*SchedHandle]
}

func NewSleeperList() *SleeperList {
	return &SleeperList{q: fifo.New[*SchedHandle]()}
}

// Push marks a scheduler as idle and available to be woken. Pushing a handle
// that is already listed is a no-op.
func (sl *SleeperList) Push(h *SchedHandle) {
	if h.listed.Swap(true) {
		return
	}
	sl.q.Push(h)
}

// Pop removes one scheduler that is still idle and takes it out of the idle
// set. Handles whose scheduler woke up by itself are dropped on the way.
func (sl *SleeperList) Pop() (*SchedHandle, bool) {
	for {
		h, ok := sl.q.Pop()
		if !ok {
			return nil, false
		}
		h.listed.Store(false)
		if h.claim() {
			return h, true
		}
	}
}

func (sl *SleeperList) Len() int { return sl.q.Len() }
