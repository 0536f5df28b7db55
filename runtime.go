package greenrt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/Swind/go-greenrt/config"
	"github.com/Swind/go-greenrt/core"
	"github.com/Swind/go-greenrt/eventloop"
	"github.com/Swind/go-greenrt/offload"
)

// DefaultErrorCode is the process exit code used when the task tree fails.
const DefaultErrorCode = 101

var (
	ErrAlreadyRan = errors.New("greenrt: runtime already ran")
	ErrNoRuntime  = errors.New("greenrt: no runtime in context")
)

type runtimeKey struct{}

// Runtime owns a set of schedulers, one per OS thread, that share a work
// queue and a sleeper list. A Runtime runs one task tree.
type Runtime struct {
	id  uuid.UUID
	cfg config.Config

	logger       core.Logger
	metrics      core.Metrics
	panicHandler core.PanicHandler

	work     *core.WorkQueue
	sleepers *core.SleeperList
	scheds   []*core.Scheduler
	loops    []core.EventLoop
	offload  *offload.Pool

	ran       atomic.Bool
	status    atomic.Int64
	statusSet atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger replaces the logger built from the log configuration.
func WithLogger(logger core.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink shared by every scheduler.
func WithMetrics(m core.Metrics) Option {
	return func(r *Runtime) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithPanicHandler sets the handler for task panics.
func WithPanicHandler(h core.PanicHandler) Option {
	return func(r *Runtime) {
		if h != nil {
			r.panicHandler = h
		}
	}
}

// New builds a runtime from cfg. A nil cfg means config.Default().
// Each scheduler gets its own event loop; if the platform loop cannot be
// created the scheduler falls back to core.BasicLoop.
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	c := *cfg
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("greenrt: invalid config: %w", err)
	}

	r := &Runtime{
		id:       uuid.New(),
		cfg:      c,
		metrics:  &core.NilMetrics{},
		work:     core.NewWorkQueue(),
		sleepers: core.NewSleeperList(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = core.NewLogger(os.Stderr, c.Log.Level, c.Log.Format).
			With(core.F("runtime", r.id.String()))
	}
	if r.panicHandler == nil {
		r.panicHandler = &core.LoggingPanicHandler{Logger: r.logger}
	}

	r.offload = offload.NewPool("offload-"+r.id.String()[:8], c.Offload.Workers)
	r.offload.SetLogger(r.logger)
	r.offload.Start(context.Background())

	for i := 0; i < c.Threads; i++ {
		name := fmt.Sprintf("sched-%d", i)
		var loop core.EventLoop
		el, err := eventloop.New(
			eventloop.WithName(name),
			eventloop.WithLogger(r.logger),
			eventloop.WithOffloadPool(r.offload),
		)
		if err != nil {
			r.logger.Warn("event loop unavailable, using basic loop",
				core.F("scheduler", name), core.F("error", err))
			loop = core.NewBasicLoop()
		} else {
			loop = el
		}
		r.loops = append(r.loops, loop)
		r.scheds = append(r.scheds, core.NewScheduler(i, loop, r.work, r.sleepers, &core.SchedulerConfig{
			Name:            name,
			Logger:          r.logger,
			PanicHandler:    r.panicHandler,
			Metrics:         r.metrics,
			StackSize:       int(c.StackSize),
			StackCacheLimit: c.StackCacheLimit,
			HistoryCapacity: c.HistoryCapacity,
		}))
	}

	r.logger.Debug("runtime created",
		core.F("threads", c.Threads),
		core.F("stack_size", c.StackSize.String()))
	return r, nil
}

// ID identifies the runtime in logs.
func (r *Runtime) ID() string { return r.id.String() }

// Config returns the normalized configuration.
func (r *Runtime) Config() config.Config { return r.cfg }

// Schedulers returns the runtime's schedulers, indexed by ID.
func (r *Runtime) Schedulers() []*core.Scheduler { return r.scheds }

// Offload returns the pool that runs blocking work.
func (r *Runtime) Offload() *offload.Pool { return r.offload }

// Run runs main as the root task on scheduler 0 and drives every scheduler
// on its own OS thread until the tree completes. When the root's exit
// callback fires, every scheduler is told to shut down; each drains its
// remaining work first.
//
// The exit code is 0 when the tree succeeded, the value passed to
// SetExitStatus if one was set and the tree succeeded, and
// DefaultErrorCode otherwise.
func (r *Runtime) Run(ctx context.Context, main core.TaskFunc) int {
	if !r.ran.CompareAndSwap(false, true) {
		r.logger.Error("run rejected", core.F("error", ErrAlreadyRan))
		return DefaultErrorCode
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		finished atomic.Bool
		success  atomic.Bool
	)
	root := core.NewTask(r.scheds[0].Pool(), main,
		core.WithName("main"),
		core.WithStackSize(int(r.cfg.StackSize)))
	root.SetOnExit(func(ok bool) {
		success.Store(ok)
		finished.Store(true)
		for _, s := range r.scheds {
			s.MakeHandle().Send(core.Shutdown)
		}
	})
	r.scheds[0].EnqueueLocal(root)

	g, gctx := errgroup.WithContext(context.WithValue(ctx, runtimeKey{}, r))
	for _, s := range r.scheds {
		g.Go(func() error {
			if err := s.Run(gctx); err != nil {
				return fmt.Errorf("%s: %w", s.Name(), err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.Error("scheduler failed", core.F("error", err))
		r.abandon()
		return DefaultErrorCode
	}
	if !finished.Load() {
		r.logger.Warn("schedulers stopped before the task tree completed")
		r.abandon()
		return DefaultErrorCode
	}
	return r.exitCode(success.Load())
}

// abandon discards the tasks still on the shared work queue after every
// scheduler has stopped and reports how many there were. Their stacks stay
// with their suspended carriers.
func (r *Runtime) abandon() int {
	left := r.work.Drain()
	if len(left) == 0 {
		return 0
	}
	names := make([]string, 0, len(left))
	for _, t := range left {
		names = append(names, t.Name())
	}
	r.logger.Warn("discarding tasks left on the work queue",
		core.F("count", len(left)),
		core.F("tasks", names))
	return len(left)
}

func (r *Runtime) exitCode(success bool) int {
	if !success {
		return DefaultErrorCode
	}
	if r.statusSet.Load() {
		return int(r.status.Load())
	}
	return 0
}

// ExitStatus returns the status recorded by SetExitStatus.
func (r *Runtime) ExitStatus() (int, bool) {
	return int(r.status.Load()), r.statusSet.Load()
}

// Stats returns a snapshot of every scheduler.
func (r *Runtime) Stats() []core.SchedulerStats {
	out := make([]core.SchedulerStats, 0, len(r.scheds))
	for _, s := range r.scheds {
		out = append(out, s.Stats())
	}
	return out
}

// Close releases the event loops, the cached stacks and the offload pool.
// It must not be called while Run is in progress.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		var result *multierror.Error
		for i, l := range r.loops {
			if err := l.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("close loop %d: %w", i, err))
			}
		}
		for _, s := range r.scheds {
			s.Pool().Close()
		}
		if r.offload != nil {
			r.offload.Stop()
		}
		r.closeErr = result.ErrorOrNil()
	})
	return r.closeErr
}

// FromContext returns the runtime running the task that owns ctx.
func FromContext(ctx context.Context) (*Runtime, bool) {
	if ctx == nil {
		return nil, false
	}
	r, ok := ctx.Value(runtimeKey{}).(*Runtime)
	return r, ok
}

// SetExitStatus records the exit code Run returns if the task tree
// succeeds. The last call wins.
func SetExitStatus(ctx context.Context, code int) error {
	r, ok := FromContext(ctx)
	if !ok {
		return ErrNoRuntime
	}
	r.status.Store(int64(code))
	r.statusSet.Store(true)
	return nil
}

// Run builds a runtime from the default configuration and the GREENRT_*
// environment variables, runs main and returns the exit code.
func Run(main core.TaskFunc) int {
	cfg := config.Default()
	if err := config.FromEnv(cfg); err != nil {
		core.NewDefaultLogger("error").Error("invalid environment", core.F("error", err))
		return DefaultErrorCode
	}
	r, err := New(cfg)
	if err != nil {
		core.NewDefaultLogger("error").Error("create runtime", core.F("error", err))
		return DefaultErrorCode
	}
	defer func() {
		if err := r.Close(); err != nil {
			r.logger.Warn("close runtime", core.F("error", err))
		}
	}()
	return r.Run(context.Background(), main)
}
