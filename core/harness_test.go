package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const treeTimeout = 10 * time.Second

func quietConfig() *SchedulerConfig {
	cfg := DefaultSchedulerConfig()
	cfg.Logger = NewNoOpLogger()
	cfg.PanicHandler = &LoggingPanicHandler{Logger: NewNoOpLogger()}
	return cfg
}

func newTestSchedulers(n int) []*Scheduler {
	work := NewWorkQueue()
	sleepers := NewSleeperList()
	scheds := make([]*Scheduler, n)
	for i := range scheds {
		scheds[i] = NewScheduler(i, nil, work, sleepers, quietConfig())
	}
	return scheds
}

// treeResult is what the root's termination callback observed.
type treeResult struct {
	success bool
	calls   int
}

// runTree runs body as the root task on n schedulers and blocks until every
// scheduler has stopped. onExit, if set, runs inside the root's termination
// callback before the schedulers are told to shut down.
func runTree(t *testing.T, n int, body TaskFunc, onExit func(root *Task, success bool)) (treeResult, []*Scheduler) {
	t.Helper()

	scheds := newTestSchedulers(n)
	root := NewTask(scheds[0].Pool(), body, WithName("root"))

	var mu sync.Mutex
	var res treeResult
	root.SetOnExit(func(success bool) {
		if onExit != nil {
			onExit(root, success)
		}
		mu.Lock()
		res.success = success
		res.calls++
		mu.Unlock()
		for _, s := range scheds {
			s.MakeHandle().Send(Shutdown)
		}
	})
	scheds[0].EnqueueLocal(root)

	errs := make(chan error, n)
	var wg sync.WaitGroup
	for _, s := range scheds {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			errs <- s.Run(context.Background())
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(treeTimeout):
		t.Fatal("schedulers did not stop")
	}

	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	return res, scheds
}
