package offload

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPool_RunsJobsAndReportsResults verifies job execution and completion
// Given: A started pool with 4 workers
// When: 100 jobs are submitted, every tenth failing
// Then: Every completion fires once with the job's result
func TestPool_RunsJobsAndReportsResults(t *testing.T) {
	p := NewPool("test", 4)
	p.Start(context.Background())
	defer p.Stop()

	errTenth := errors.New("tenth job")
	var ok, failed atomic.Int32
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		err := p.Submit(func(ctx context.Context) error {
			if i%10 == 0 {
				return errTenth
			}
			return nil
		}, func(err error) {
			defer wg.Done()
			if errors.Is(err, errTenth) {
				failed.Add(1)
			} else if err == nil {
				ok.Add(1)
			}
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.EqualValues(t, 90, ok.Load())
	assert.EqualValues(t, 10, failed.Load())
}

// TestPool_PanicBecomesError verifies panic recovery in workers
// Given: A started pool
// When: A job panics
// Then: Its completion receives ErrJobPanicked and the worker keeps serving jobs
func TestPool_PanicBecomesError(t *testing.T) {
	p := NewPool("test", 1)
	p.Start(context.Background())
	defer p.Stop()

	results := make(chan error, 2)
	require.NoError(t, p.Submit(func(context.Context) error { panic("disk on fire") }, func(err error) { results <- err }))
	require.NoError(t, p.Submit(func(context.Context) error { return nil }, func(err error) { results <- err }))

	first := <-results
	assert.ErrorIs(t, first, ErrJobPanicked)
	assert.Contains(t, first.Error(), "disk on fire")
	assert.NoError(t, <-results)
}

// TestPool_StopFailsQueuedJobs verifies no completion is stranded by Stop
// Given: A pool that was never started with two queued jobs
// When: Stop is called
// Then: Both completions receive ErrPoolClosed and later submits are rejected
func TestPool_StopFailsQueuedJobs(t *testing.T) {
	p := NewPool("test", 1)
	results := make(chan error, 2)
	for range 2 {
		require.NoError(t, p.Submit(func(context.Context) error { return nil }, func(err error) { results <- err }))
	}
	assert.Equal(t, 2, p.QueuedCount())

	p.Stop()

	assert.ErrorIs(t, <-results, ErrPoolClosed)
	assert.ErrorIs(t, <-results, ErrPoolClosed)
	assert.ErrorIs(t, p.Submit(func(context.Context) error { return nil }, nil), ErrPoolClosed)
	assert.Equal(t, 0, p.QueuedCount())
}

// TestPool_StopGracefulWaitsForActive verifies graceful shutdown
// Given: A pool running a 30ms job
// When: StopGraceful is called with a generous timeout
// Then: The job finishes successfully and the pool stops
func TestPool_StopGracefulWaitsForActive(t *testing.T) {
	p := NewPool("test", 2)
	p.Start(context.Background())

	result := make(chan error, 1)
	require.NoError(t, p.Submit(func(context.Context) error {
		time.Sleep(30 * time.Millisecond)
		return nil
	}, func(err error) { result <- err }))

	require.NoError(t, p.StopGraceful(time.Second))
	assert.NoError(t, <-result)
	assert.False(t, p.IsRunning())
}

// TestDefault_Singleton verifies the process-wide pool lifecycle
// Given: No default pool
// When: Default is called twice and then Shutdown
// Then: The same running pool is returned and a new one is created afterwards
func TestDefault_Singleton(t *testing.T) {
	a := Default()
	b := Default()
	assert.Same(t, a, b)
	assert.True(t, a.IsRunning())
	assert.Equal(t, "offload-default", a.Stats().ID)

	Shutdown()
	assert.False(t, a.IsRunning())
	c := Default()
	assert.NotSame(t, a, c)
	Shutdown()
}
