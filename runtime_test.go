package greenrt

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-greenrt/config"
	"github.com/Swind/go-greenrt/core"
)

const runTimeout = 10 * time.Second

func testConfig(threads int) *config.Config {
	cfg := config.Default()
	cfg.Threads = threads
	cfg.Offload.Workers = 2
	return cfg
}

func newTestRuntime(t *testing.T, threads int, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{WithLogger(core.NewNoOpLogger())}, opts...)
	r, err := New(testConfig(threads), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, r.Close()) })
	return r
}

// runWithTimeout fails the test if the tree does not complete in time.
func runWithTimeout(t *testing.T, r *Runtime, main TaskFunc) int {
	t.Helper()
	done := make(chan int, 1)
	go func() { done <- r.Run(context.Background(), main) }()
	select {
	case code := <-done:
		return code
	case <-time.After(runTimeout):
		t.Fatal("runtime did not finish")
		return -1
	}
}

// TestRuntime_ManyChildrenOneThread verifies a tree of spawned tasks completes
// on a single scheduler
// Given: a runtime with one thread
// When: the root spawns 100 children that each increment a counter
// Then: the run exits 0 and every child ran
func TestRuntime_ManyChildrenOneThread(t *testing.T) {
	r := newTestRuntime(t, 1)
	var ran atomic.Int32

	code := runWithTimeout(t, r, func(ctx context.Context) {
		for i := 0; i < 100; i++ {
			_, err := Spawn(ctx, func(ctx context.Context) { ran.Add(1) })
			assert.NoError(t, err)
		}
	})

	assert.Equal(t, 0, code)
	assert.EqualValues(t, 100, ran.Load())
}

// TestRuntime_IOAcrossThreads verifies blocked tasks do not hold schedulers
// Given: four schedulers and four tasks that each sleep and run blocking work
// When: the tree runs
// Then: it exits 0 well within the timeout and every task resumed
func TestRuntime_IOAcrossThreads(t *testing.T) {
	r := newTestRuntime(t, 4)
	var resumed atomic.Int32

	code := runWithTimeout(t, r, func(ctx context.Context) {
		for i := 0; i < 4; i++ {
			_, err := Spawn(ctx, func(ctx context.Context) {
				if !assert.NoError(t, Sleep(ctx, 20*time.Millisecond)) {
					return
				}
				err := AwaitIO(ctx, Blocking(func(context.Context) error {
					time.Sleep(10 * time.Millisecond)
					return nil
				}))
				if assert.NoError(t, err) {
					resumed.Add(1)
				}
			})
			assert.NoError(t, err)
		}
	})

	assert.Equal(t, 0, code)
	assert.EqualValues(t, 4, resumed.Load())
}

// TestRuntime_PanicExitsWithDefaultErrorCode verifies failure propagation
// Given: a root whose child panics
// When: the tree runs
// Then: the exit code is DefaultErrorCode
func TestRuntime_PanicExitsWithDefaultErrorCode(t *testing.T) {
	r := newTestRuntime(t, 2)

	code := runWithTimeout(t, r, func(ctx context.Context) {
		_, err := Spawn(ctx, func(ctx context.Context) { panic("boom") })
		assert.NoError(t, err)
	})

	assert.Equal(t, DefaultErrorCode, code)
}

// TestRuntime_ProgrammaticExitStatus verifies SetExitStatus on success
// Given: a root that sets exit status 7
// When: the tree succeeds
// Then: Run returns 7
func TestRuntime_ProgrammaticExitStatus(t *testing.T) {
	r := newTestRuntime(t, 1)

	code := runWithTimeout(t, r, func(ctx context.Context) {
		assert.NoError(t, SetExitStatus(ctx, 3))
		assert.NoError(t, SetExitStatus(ctx, 7))
	})

	assert.Equal(t, 7, code)
	status, ok := r.ExitStatus()
	assert.True(t, ok)
	assert.Equal(t, 7, status)
}

// TestRuntime_FailureOverridesExitStatus verifies a failed tree ignores the
// recorded status
// Given: a root that sets status 7 and then panics
// When: the tree runs
// Then: Run returns DefaultErrorCode
func TestRuntime_FailureOverridesExitStatus(t *testing.T) {
	r := newTestRuntime(t, 1)

	code := runWithTimeout(t, r, func(ctx context.Context) {
		_ = SetExitStatus(ctx, 7)
		panic("after status")
	})

	assert.Equal(t, DefaultErrorCode, code)
}

// TestRuntime_SetExitStatusOutsideRuntime verifies the error path
func TestRuntime_SetExitStatusOutsideRuntime(t *testing.T) {
	assert.ErrorIs(t, SetExitStatus(context.Background(), 1), ErrNoRuntime)
}

// TestRuntime_RunOnlyOnce verifies a runtime runs a single tree
// Given: a runtime that already ran
// When: Run is called again
// Then: it returns DefaultErrorCode without running main
func TestRuntime_RunOnlyOnce(t *testing.T) {
	r := newTestRuntime(t, 1)
	require.Equal(t, 0, runWithTimeout(t, r, func(context.Context) {}))

	var ran atomic.Bool
	code := r.Run(context.Background(), func(context.Context) { ran.Store(true) })

	assert.Equal(t, DefaultErrorCode, code)
	assert.False(t, ran.Load())
}

// TestRuntime_TaskSeesRuntime verifies the task context carries the runtime
// Given: a running tree
// When: the root inspects its context
// Then: it is in TaskContext, sees its own task and the runtime
func TestRuntime_TaskSeesRuntime(t *testing.T) {
	r := newTestRuntime(t, 2)
	var (
		kind  RuntimeContext
		got   *Runtime
		named string
	)

	code := runWithTimeout(t, r, func(ctx context.Context) {
		kind = CurrentContext()
		got, _ = FromContext(ctx)
		if task := CurrentTask(ctx); task != nil {
			named = task.Name()
		}
	})

	require.Equal(t, 0, code)
	assert.Equal(t, TaskContext, kind)
	assert.Same(t, r, got)
	assert.Equal(t, "main", named)
	assert.Equal(t, NoRuntime, CurrentContext())
}

// TestRuntime_TubeBetweenTasks verifies tasks can exchange values
// Given: a producer and a consumer task sharing a tube
// When: the producer yields between sends
// Then: the consumer receives every value in order
func TestRuntime_TubeBetweenTasks(t *testing.T) {
	r := newTestRuntime(t, 2)
	var got []int

	code := runWithTimeout(t, r, func(ctx context.Context) {
		tube := NewTube[int]()
		_, err := Spawn(ctx, func(ctx context.Context) {
			for i := 0; i < 5; i++ {
				tube.Send(i)
				_ = Yield(ctx)
			}
		})
		assert.NoError(t, err)
		for i := 0; i < 5; i++ {
			v, err := tube.Recv(ctx)
			if !assert.NoError(t, err) {
				return
			}
			got = append(got, v)
		}
	})

	assert.Equal(t, 0, code)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

// TestRuntime_BlockingErrorPropagates verifies offloaded errors reach the task
func TestRuntime_BlockingErrorPropagates(t *testing.T) {
	r := newTestRuntime(t, 1)
	errDisk := errors.New("disk on fire")
	var got error

	code := runWithTimeout(t, r, func(ctx context.Context) {
		got = AwaitIO(ctx, Blocking(func(context.Context) error { return errDisk }))
	})

	assert.Equal(t, 0, code)
	assert.ErrorIs(t, got, errDisk)
}

// TestRuntime_StatsAfterRun verifies per-scheduler snapshots
// Given: a two-thread runtime that ran ten children
// When: Stats is read after Run
// Then: every scheduler reports Stopped and the completions add up
func TestRuntime_StatsAfterRun(t *testing.T) {
	r := newTestRuntime(t, 2)

	code := runWithTimeout(t, r, func(ctx context.Context) {
		for i := 0; i < 10; i++ {
			_, _ = Spawn(ctx, func(ctx context.Context) { _ = Yield(ctx) })
		}
	})
	require.Equal(t, 0, code)

	stats := r.Stats()
	require.Len(t, stats, 2)
	var completed int64
	for _, s := range stats {
		assert.Equal(t, core.SchedulerStopped, s.State)
		completed += s.Completed
	}
	assert.EqualValues(t, 11, completed)
}

// TestNew_InvalidConfig verifies configuration errors are reported
func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.StackSize = 10
	_, err := New(cfg)
	assert.Error(t, err)
}

// TestRuntime_StoppedEarlyDiscardsQueuedTasks verifies leftovers of an abandoned tree are dropped
// Given: a root task blocked with nothing left to wake it and a cancelled run
// When: the schedulers stop and the blocked root is rescheduled afterwards
// Then: Run reports failure and abandoning the runtime empties the work queue and logs the task
func TestRuntime_StoppedEarlyDiscardsQueuedTasks(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRuntime(t, 1, WithLogger(core.NewLogger(&buf, "warn", "json")))

	blocked := make(chan *core.Task, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan int, 1)
	go func() {
		done <- r.Run(ctx, func(ctx context.Context) {
			_ = core.Deschedule(ctx, func(_ *core.Scheduler, t *core.Task) { blocked <- t })
		})
	}()

	var root *core.Task
	select {
	case root = <-blocked:
	case <-time.After(runTimeout):
		t.Fatal("root never blocked")
	}
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, DefaultErrorCode, code)
	case <-time.After(runTimeout):
		t.Fatal("runtime did not stop after cancellation")
	}
	assert.Contains(t, buf.String(), "schedulers stopped before the task tree completed")
	assert.Equal(t, 0, r.abandon())

	root.Reschedule()
	require.Equal(t, 1, r.work.Len())
	assert.Equal(t, 1, r.abandon())
	assert.True(t, r.work.IsEmpty())
	assert.Contains(t, buf.String(), "discarding tasks left on the work queue")
	assert.Contains(t, buf.String(), `"main"`)
}
