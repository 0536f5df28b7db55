package core

import "github.com/Swind/go-greenrt/internal/fifo"

// WorkQueue is the pool of Runnable tasks shared by all schedulers.
// Push and Pop are safe from any goroutine and never block on emptiness.
// Ordering is FIFO for a single consumer, but no fairness is promised across
// schedulers.
type WorkQueue struct {
	q *fifo.Queue[*Task]
}

func NewWorkQueue() *WorkQueue {
	return &WorkQueue{q: fifo.New[*Task]()}
}

// Push makes a Runnable task visible to every scheduler.
func (wq *WorkQueue) Push(t *Task) {
	if t == nil {
		fault("work queue", "push of nil task", nil)
	}
	wq.q.Push(t)
}

// Pop removes an arbitrary Runnable task, or reports ok == false when empty.
func (wq *WorkQueue) Pop() (*Task, bool) {
	return wq.q.Pop()
}

func (wq *WorkQueue) Len() int { return wq.q.Len() }

func (wq *WorkQueue) IsEmpty() bool { return wq.q.IsEmpty() }

// Drain removes every queued task. A runtime drains the queue when its
// schedulers stop before the task tree completes.
func (wq *WorkQueue) Drain() []*Task {
	return wq.q.PopUpTo(wq.q.Len())
}
