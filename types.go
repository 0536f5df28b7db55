package greenrt

import (
	"github.com/Swind/go-greenrt/core"
	"github.com/Swind/go-greenrt/eventloop"
)

// Re-export commonly used types from the core package for convenience.
// Most programs only need to import greenrt.

// Task is a green thread: a body, a stack and a place in the death tree.
type Task = core.Task

// TaskFunc is a task body.
type TaskFunc = core.TaskFunc

// TaskOption configures a spawned task
type TaskOption = core.TaskOption

// Scheduler drives tasks on one OS thread
type Scheduler = core.Scheduler

// Event is something a task can block on with AwaitIO.
type Event = core.Event

// EventFunc adapts a function to Event.
type EventFunc = core.EventFunc

// Tube is an unbounded single-receiver channel between tasks.
type Tube[T any] = core.Tube[T]

// RuntimeContext reports what kind of goroutine the caller is on.
type RuntimeContext = core.RuntimeContext

const (
	NoRuntime        = core.NoRuntime
	SchedulerContext = core.SchedulerContext
	TaskContext      = core.TaskContext
)

// Task operations. All of them take the context passed to the task body.
var (
	Spawn          = core.Spawn
	Yield          = core.Yield
	Sleep          = core.Sleep
	AwaitIO        = core.AwaitIO
	Deschedule     = core.Deschedule
	CurrentTask    = core.CurrentTask
	CurrentContext = core.CurrentContext
	WithName       = core.WithName
	WithStackSize  = core.WithStackSize
	After          = core.After
)

// Event constructors for the default event loop.
var (
	Readable = eventloop.Readable
	Writable = eventloop.Writable
	Blocking = eventloop.Blocking
)

// NewTube creates an empty tube.
func NewTube[T any]() *Tube[T] {
	return core.NewTube[T]()
}
