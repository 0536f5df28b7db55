package core

import (
	"context"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task body panics.
// The task is still transitioned to Dead and its termination callback still
// receives success == false; the handler only observes the failure.
//
// Implementations should be thread-safe as they may be called concurrently
// from different schedulers.
type PanicHandler interface {
	// HandlePanic is called after recovery. Panics in a task body are
	// reported on the task's carrier goroutine. Panics in a Deschedule action
	// or a termination callback are reported on the scheduler goroutine.
	//
	// Parameters:
	// - ctx: The context of the failed task
	// - schedName: The name of the scheduler running the task
	// - taskID: The ID of the failed task
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, schedName string, taskID TaskID, panicInfo any, stackTrace []byte)
}

// LoggingPanicHandler reports task panics through a Logger.
type LoggingPanicHandler struct {
	Logger Logger
}

// HandlePanic logs the panic at error level.
func (h *LoggingPanicHandler) HandlePanic(ctx context.Context, schedName string, taskID TaskID, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = packageLogger()
	}
	logger.Error("task panicked",
		F("scheduler", schedName),
		F("task", uint64(taskID)),
		F("panic", panicInfo),
		F("stack", string(stackTrace)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called on scheduler goroutines and must be non-blocking and fast.
type Metrics interface {
	// RecordTaskSlice records how long a task ran before it descheduled or died.
	RecordTaskSlice(schedName string, duration time.Duration)

	// RecordTaskExit records a task's death and whether its body completed normally.
	RecordTaskExit(schedName string, success bool, lifetime time.Duration)

	// RecordQueueDepth records the shared work queue depth as seen by a scheduler.
	RecordQueueDepth(schedName string, depth int)

	// RecordWakeup records that a scheduler returned from an idle wait.
	RecordWakeup(schedName string)

	// RecordStackAllocation records a new (uncached) stack segment allocation.
	RecordStackAllocation(schedName string, size int)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskSlice(schedName string, duration time.Duration)              {}
func (m *NilMetrics) RecordTaskExit(schedName string, success bool, lifetime time.Duration) {}
func (m *NilMetrics) RecordQueueDepth(schedName string, depth int)                          {}
func (m *NilMetrics) RecordWakeup(schedName string)                                         {}
func (m *NilMetrics) RecordStackAllocation(schedName string, size int)                      {}

// =============================================================================
// SchedulerConfig: Configuration for Scheduler
// =============================================================================

// SchedulerConfig holds configuration options for a Scheduler.
// All handlers are optional; if not provided, default implementations will be used.
type SchedulerConfig struct {
	// Name identifies the scheduler in logs and metrics. Defaults to "sched-<id>".
	Name string

	// Logger defaults to the package logger.
	Logger Logger

	// PanicHandler is called when a task panics. Defaults to LoggingPanicHandler.
	PanicHandler PanicHandler

	// Metrics defaults to NilMetrics.
	Metrics Metrics

	// StackSize is the minimum stack segment size for spawned tasks.
	StackSize int

	// StackCacheLimit bounds how many released stacks the pool keeps.
	StackCacheLimit int

	// HistoryCapacity bounds the per-scheduler task exit history.
	HistoryCapacity int
}

// DefaultSchedulerConfig returns a config with default handlers.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		PanicHandler:    &LoggingPanicHandler{},
		Metrics:         &NilMetrics{},
		StackSize:       DefaultStackSize,
		StackCacheLimit: DefaultStackCacheLimit,
		HistoryCapacity: defaultTaskHistoryCapacity,
	}
}
