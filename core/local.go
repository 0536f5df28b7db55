package core

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// RuntimeContext describes which runtime services are reachable from the
// calling goroutine.
type RuntimeContext int

const (
	// NoRuntime: the caller is not a scheduler or task goroutine.
	NoRuntime RuntimeContext = iota
	// SchedulerContext: running on a scheduler goroutine between tasks,
	// e.g. inside a deschedule action or a termination callback.
	SchedulerContext
	// TaskContext: running inside a task body.
	TaskContext
)

func (c RuntimeContext) String() string {
	switch c {
	case NoRuntime:
		return "NoRuntime"
	case SchedulerContext:
		return "SchedulerContext"
	case TaskContext:
		return "TaskContext"
	default:
		return "Unknown"
	}
}

// bindings maps goroutine IDs of scheduler and carrier goroutines to the
// context they provide. It is the only ambient lookup in the runtime; all
// other operations receive their scheduler and task explicitly or through a
// context.Context.
var bindings sync.Map // map[uint64]RuntimeContext

func bindGoroutine(kind RuntimeContext) (unbind func()) {
	id := goroutineID()
	bindings.Store(id, kind)
	return func() { bindings.Delete(id) }
}

// CurrentContext reports the runtime context of the calling goroutine.
func CurrentContext() RuntimeContext {
	if v, ok := bindings.Load(goroutineID()); ok {
		return v.(RuntimeContext)
	}
	return NoRuntime
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the current goroutine's ID from its stack header.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
