package core

import "sync/atomic"

// execContext is the saved execution state of one goroutine taking part in
// cooperative switching: a scheduler goroutine or a stack's carrier.
//
// A context is either running (its goroutine holds the baton) or saved (its
// goroutine is parked, or about to park, on resume). Only swapContext and
// jumpContext move a context between the two.
type execContext struct {
	resume  chan struct{}
	running atomic.Bool
	owner   string
}

func newExecContext(owner string, running bool) *execContext {
	c := &execContext{
		// One slot: a token can only be sent by the single party that
		// claimed the context, and is consumed before it is released again.
		resume: make(chan struct{}, 1),
		owner:  owner,
	}
	c.running.Store(running)
	return c
}

// claim marks a saved context as running. Claiming a context that is
// already running means two parties are about to execute the same stack.
func (c *execContext) claim() {
	if !c.running.CompareAndSwap(false, true) {
		fault("context switch", "resume of a running context: "+c.owner, nil)
	}
}

// save marks the caller's own context as saved.
func (c *execContext) save() {
	if !c.running.CompareAndSwap(true, false) {
		fault("context switch", "switch away from a context that is not running: "+c.owner, nil)
	}
}

// Running reports whether the context currently holds the baton.
func (c *execContext) Running() bool {
	return c.running.Load()
}

// swapContext saves the calling goroutine's state into from and transfers
// control to to. It returns only when another switch targets from again.
//
// to must be saved: either by an earlier switch or freshly initialised by the
// stack pool with an entry point.
func swapContext(from, to *execContext) {
	to.claim()
	from.save()
	to.resume <- struct{}{}
	<-from.resume
}

// jumpContext transfers control to to and abandons from. A dying task uses it
// for its last switch; its carrier then parks waiting for a new entry point.
func jumpContext(from, to *execContext) {
	to.claim()
	from.save()
	to.resume <- struct{}{}
}
