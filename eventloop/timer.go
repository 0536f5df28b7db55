package eventloop

import (
	"container/heap"
	"time"

	"github.com/Swind/go-greenrt/core"
)

// timer is a task waiting for a deadline.
type timer struct {
	at    time.Time
	task  *core.Task
	index int // for heap interface
}

// timerHeap implements heap.Interface ordered by deadline.
type timerHeap []*timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	item := x.(*timer)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[:n-1]
	return item
}

func (h timerHeap) peek() *timer {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// timers is the loop's timer manager. It has no goroutine of its own: the
// loop sleeps until the earliest deadline and collects expired entries when
// it runs ready work. Callers hold the loop's mutex.
type timers struct {
	pq timerHeap
}

// add schedules t and reports whether it became the earliest deadline.
func (tm *timers) add(t *core.Task, d time.Duration) bool {
	item := &timer{at: time.Now().Add(d), task: t}
	heap.Push(&tm.pq, item)
	return item.index == 0
}

// next returns how long until the earliest deadline, or -1 with no timers.
// An expired deadline yields 0.
func (tm *timers) next(now time.Time) time.Duration {
	item := tm.pq.peek()
	if item == nil {
		return -1
	}
	if !item.at.After(now) {
		return 0
	}
	return item.at.Sub(now)
}

// expired pops every timer due at now, earliest first.
func (tm *timers) expired(now time.Time) []*core.Task {
	var due []*core.Task
	for tm.pq.Len() > 0 {
		item := tm.pq.peek()
		if item.at.After(now) {
			break
		}
		heap.Pop(&tm.pq)
		due = append(due, item.task)
	}
	return due
}

func (tm *timers) len() int { return tm.pq.Len() }

// clear drops every timer and returns the waiting tasks.
func (tm *timers) clear() []*core.Task {
	tasks := make([]*core.Task, 0, len(tm.pq))
	for _, item := range tm.pq {
		tasks = append(tasks, item.task)
	}
	tm.pq = nil
	return tasks
}
