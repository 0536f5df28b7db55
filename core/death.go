package core

import (
	"runtime/debug"
	"sync"
)

// death tracks a task's place in its spawn tree. A task completes when its
// body has finished and every child has completed; only then does its
// termination callback fire.
type death struct {
	mu       sync.Mutex
	parent   *Task
	children int
	bodyDone bool
	failed   bool
	fired    bool
	onExit   func(success bool)
}

func (t *Task) addChild() {
	t.death.mu.Lock()
	defer t.death.mu.Unlock()
	if t.death.fired {
		fault("spawn", "child spawned under a completed task: "+t.name, nil)
	}
	t.death.children++
}

// finish records the end of the task's body.
func (t *Task) finish(success bool) {
	d := &t.death
	d.mu.Lock()
	if d.bodyDone {
		d.mu.Unlock()
		fault("task finish", "body finished twice: "+t.name, nil)
	}
	d.bodyDone = true
	if !success {
		d.failed = true
	}
	t.maybeComplete()
}

func (t *Task) childDone(success bool) {
	d := &t.death
	d.mu.Lock()
	d.children--
	if !success {
		d.failed = true
	}
	t.maybeComplete()
}

// maybeComplete is called with death.mu held and releases it.
func (t *Task) maybeComplete() {
	d := &t.death
	if !d.bodyDone || d.children > 0 {
		d.mu.Unlock()
		return
	}
	if d.fired {
		d.mu.Unlock()
		fault("task exit", "termination callback fired twice: "+t.name, nil)
	}
	d.fired = true
	cb := d.onExit
	d.onExit = nil
	success := !d.failed
	parent := d.parent
	d.mu.Unlock()

	if cb != nil {
		t.runOnExit(cb, success)
	}
	if parent != nil {
		parent.childDone(success)
	}
}

func (t *Task) runOnExit(cb func(success bool), success bool) {
	defer func() {
		if r := recover(); r != nil {
			if IsFault(r) {
				panic(r)
			}
			t.reportPanic(r, debug.Stack())
		}
	}()
	cb(success)
}
