// Package offload runs blocking work on a fixed set of worker goroutines so
// that scheduler threads never block on it.
package offload

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-greenrt/core"
	"github.com/Swind/go-greenrt/internal/fifo"
)

var (
	// ErrPoolClosed is returned by Submit after Stop, and passed to the
	// completion of jobs that were still queued when the pool stopped.
	ErrPoolClosed = errors.New("offload: pool closed")

	// ErrJobPanicked wraps the panic value of a job that panicked.
	ErrJobPanicked = errors.New("offload: job panicked")
)

// Job is a unit of blocking work.
type Job func(ctx context.Context) error

type job struct {
	fn   Job
	done func(error)
}

// Stats represents runtime observability state for a pool.
type Stats struct {
	ID      string
	Workers int
	Queued  int
	Active  int
	Running bool
}

// Pool manages a set of worker goroutines pulling jobs from a FIFO queue.
type Pool struct {
	id      string
	workers int

	queue  *fifo.Queue[job]
	signal chan struct{}

	metricQueued atomic.Int32
	metricActive atomic.Int32
	shuttingDown atomic.Bool

	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex

	logger core.Logger
}

// NewPool creates a pool with the given number of workers. It must be
// started before jobs run.
func NewPool(id string, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		id:      id,
		workers: workers,
		queue:   fifo.New[job](),
		signal:  make(chan struct{}, workers*2),
		logger:  core.NewNoOpLogger(),
	}
}

// SetLogger sets the logger used for job failures.
func (p *Pool) SetLogger(l core.Logger) {
	if l != nil {
		p.logger = l
	}
}

// Start starts all worker goroutines
func (p *Pool) Start(ctx context.Context) {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()

	if p.running {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i, p.ctx)
	}
}

// Submit queues fn. done is called exactly once with fn's result, from a
// worker goroutine, or with ErrPoolClosed if the pool stops first.
func (p *Pool) Submit(fn Job, done func(error)) error {
	if p.shuttingDown.Load() {
		return ErrPoolClosed
	}
	if done == nil {
		done = func(error) {}
	}

	p.queue.Push(job{fn: fn, done: done})
	p.metricQueued.Add(1)

	select {
	case p.signal <- struct{}{}:
	default:
		// Signal channel full; the job is already queued.
	}
	return nil
}

func (p *Pool) getWork(stopCh <-chan struct{}) (job, bool) {
	for {
		if j, ok := p.queue.Pop(); ok {
			p.metricQueued.Add(-1)
			return j, true
		}

		select {
		case <-p.signal:
			continue
		case <-stopCh:
			return job{}, false
		}
	}
}

func (p *Pool) workerLoop(id int, ctx context.Context) {
	defer p.wg.Done()
	stopCh := ctx.Done()

	for {
		j, ok := p.getWork(stopCh)
		if !ok {
			return
		}

		p.metricActive.Add(1)
		err := p.run(id, ctx, j.fn)
		p.metricActive.Add(-1)
		j.done(err)
	}
}

func (p *Pool) run(worker int, ctx context.Context, fn Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
			p.logger.Error("offload job panicked",
				core.F("pool", p.id),
				core.F("worker", worker),
				core.F("panic", r),
			)
		}
	}()
	return fn(ctx)
}

// Stop rejects new jobs, fails queued ones with ErrPoolClosed and waits for
// running jobs to finish.
func (p *Pool) Stop() {
	p.shuttingDown.Store(true)
	p.failQueued()

	p.runningMu.Lock()
	if !p.running {
		p.runningMu.Unlock()
		return
	}
	p.runningMu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.failQueued()

	p.runningMu.Lock()
	p.running = false
	p.runningMu.Unlock()
}

// StopGraceful waits up to timeout for queued and running jobs before
// stopping.
func (p *Pool) StopGraceful(timeout time.Duration) error {
	p.shuttingDown.Store(true)

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for p.QueuedCount() > 0 || p.ActiveCount() > 0 {
		select {
		case <-deadline:
			p.Stop()
			return fmt.Errorf("offload: graceful stop timed out after %v", timeout)
		case <-ticker.C:
		}
	}
	p.Stop()
	return nil
}

func (p *Pool) failQueued() {
	for _, j := range p.queue.PopUpTo(p.queue.Len()) {
		p.metricQueued.Add(-1)
		j.done(ErrPoolClosed)
	}
}

func (p *Pool) ID() string { return p.id }

func (p *Pool) IsRunning() bool {
	p.runningMu.RLock()
	defer p.runningMu.RUnlock()
	return p.running
}

func (p *Pool) WorkerCount() int { return p.workers }

func (p *Pool) QueuedCount() int { return int(p.metricQueued.Load()) }

func (p *Pool) ActiveCount() int { return int(p.metricActive.Load()) }

func (p *Pool) Stats() Stats {
	return Stats{
		ID:      p.id,
		Workers: p.workers,
		Queued:  p.QueuedCount(),
		Active:  p.ActiveCount(),
		Running: p.IsRunning(),
	}
}

// =============================================================================
// Default pool (singleton)
// =============================================================================

var (
	defaultPool *Pool
	defaultMu   sync.Mutex
)

// Default returns the process-wide pool, starting it on first use with one
// worker per GOMAXPROCS.
func Default() *Pool {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultPool == nil {
		defaultPool = NewPool("offload-default", runtime.GOMAXPROCS(0))
		defaultPool.Start(context.Background())
	}
	return defaultPool
}

// Shutdown stops the process-wide pool. A later Default starts a new one.
func Shutdown() {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultPool != nil {
		defaultPool.Stop()
		defaultPool = nil
	}
}
