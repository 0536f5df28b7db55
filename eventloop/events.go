package eventloop

import (
	"github.com/Swind/go-greenrt/core"
	"github.com/Swind/go-greenrt/offload"
)

// IOEvents is a set of file descriptor readiness conditions.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// FDEvent completes once FD is ready for any of Events. Only a Loop backed
// by a readiness poller can arm it.
type FDEvent struct {
	FD     int
	Events IOEvents
}

// Readable returns an event that completes when fd can be read.
func Readable(fd int) FDEvent { return FDEvent{FD: fd, Events: EventRead} }

// Writable returns an event that completes when fd can be written.
func Writable(fd int) FDEvent { return FDEvent{FD: fd, Events: EventWrite} }

func (e FDEvent) Arm(func(error)) error { return core.ErrUnsupported }

// BlockingEvent runs Fn on an offload pool and completes with its result.
type BlockingEvent struct {
	Fn   offload.Job
	Pool *offload.Pool
}

// Blocking returns an event that runs fn off the scheduler threads. A Loop
// uses its configured pool; elsewhere the default pool is used.
func Blocking(fn offload.Job) BlockingEvent { return BlockingEvent{Fn: fn} }

func (e BlockingEvent) Arm(complete func(error)) error {
	pool := e.Pool
	if pool == nil {
		pool = offload.Default()
	}
	return pool.Submit(e.Fn, complete)
}
