package core

import "time"

// TaskExecutionRecord captures a task's death as seen by the scheduler that
// reclaimed it.
type TaskExecutionRecord struct {
	TaskID     TaskID
	Name       string
	Scheduler  string
	CreatedAt  time.Time
	FinishedAt time.Time
	Lifetime   time.Duration
	// Success is false when the body panicked or exited via runtime.Goexit.
	Success bool
}

// SchedulerStats represents runtime observability state for a scheduler.
type SchedulerStats struct {
	ID           int
	Name         string
	State        SchedulerState
	LocalQueued  int
	SharedQueued int
	PendingIO    int
	Sleeping     bool
	Draining     bool

	Slices    int64
	Spawned   int64
	Completed int64
	Failed    int64
	Wakeups   int64

	LastTaskName string
	LastTaskAt   time.Time

	Stacks StackPoolStats
}
