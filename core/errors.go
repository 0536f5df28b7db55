package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTaskContext is returned by task-facing operations called outside a task.
	ErrNoTaskContext = errors.New("greenrt: not running in a task context")

	// ErrUnsupported is returned by events the current event loop cannot arm.
	ErrUnsupported = errors.New("greenrt: event not supported by this event loop")

	// ErrLoopClosed is returned when registering with a closed event loop.
	ErrLoopClosed = errors.New("greenrt: event loop closed")
)

// Fault is a fatal runtime condition: stack allocation failure or a broken
// scheduling invariant. Faults are raised as panics and are never recovered
// by task panic recovery, so they terminate the process.
type Fault struct {
	Op  string
	Msg string
	Err error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("greenrt fault: %s: %s: %v", f.Op, f.Msg, f.Err)
	}
	return fmt.Sprintf("greenrt fault: %s: %s", f.Op, f.Msg)
}

func (f *Fault) Unwrap() error { return f.Err }

// fault logs and raises a Fault.
func fault(op, msg string, err error) {
	f := &Fault{Op: op, Msg: msg, Err: err}
	packageLogger().Error("runtime fault", F("op", op), F("msg", msg), F("err", err))
	panic(f)
}

// IsFault reports whether a recovered panic value is a runtime Fault.
func IsFault(v any) bool {
	var f *Fault
	switch x := v.(type) {
	case *Fault:
		return true
	case error:
		return errors.As(x, &f)
	}
	return false
}
