package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-greenrt/core"
	"github.com/Swind/go-greenrt/offload"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// PoolSnapshotProvider provides current offload pool stats snapshots.
type PoolSnapshotProvider interface {
	Stats() offload.Stats
}

// SnapshotPoller periodically exports scheduler/pool Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedsMu sync.RWMutex
	scheds   map[string]SchedulerSnapshotProvider

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	schedLocal    *prom.GaugeVec
	schedShared   *prom.GaugeVec
	schedIO       *prom.GaugeVec
	schedSleeping *prom.GaugeVec
	schedState    *prom.GaugeVec
	stacksCached  *prom.GaugeVec
	stacksInUse   *prom.GaugeVec

	poolQueued  *prom.GaugeVec
	poolActive  *prom.GaugeVec
	poolWorkers *prom.GaugeVec
	poolRunning *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = "greenrt"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	p := &SnapshotPoller{
		interval:      interval,
		scheds:        make(map[string]SchedulerSnapshotProvider),
		pools:         make(map[string]PoolSnapshotProvider),
		schedLocal:    gauge("scheduler_local_queued", "Tasks on a scheduler's private queue.", "scheduler"),
		schedShared:   gauge("scheduler_shared_queued", "Tasks on the shared work queue.", "scheduler"),
		schedIO:       gauge("scheduler_pending_io", "Tasks blocked on a scheduler's event loop.", "scheduler"),
		schedSleeping: gauge("scheduler_sleeping", "Scheduler published as a sleeper (1=sleeping, 0=awake).", "scheduler"),
		schedState:    gauge("scheduler_state", "Scheduler state, one series per state set to 1.", "scheduler", "state"),
		stacksCached:  gauge("stacks_cached", "Released stacks kept for reuse.", "scheduler"),
		stacksInUse:   gauge("stacks_in_use", "Stacks acquired and not yet released.", "scheduler"),
		poolQueued:    gauge("offload_queued", "Queued jobs per offload pool.", "pool"),
		poolActive:    gauge("offload_active", "Running jobs per offload pool.", "pool"),
		poolWorkers:   gauge("offload_workers", "Worker count per offload pool.", "pool"),
		poolRunning:   gauge("offload_running", "Pool running state (1=running, 0=stopped).", "pool"),
	}

	for _, g := range []**prom.GaugeVec{
		&p.schedLocal, &p.schedShared, &p.schedIO, &p.schedSleeping, &p.schedState,
		&p.stacksCached, &p.stacksInUse,
		&p.poolQueued, &p.poolActive, &p.poolWorkers, &p.poolRunning,
	} {
		registered, err := registerCollector(reg, *g)
		if err != nil {
			return nil, err
		}
		*g = registered
	}
	return p, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedsMu.Lock()
	p.scheds[name] = provider
	p.schedsMu.Unlock()
}

// AddPool adds or replaces an offload pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

var schedulerStates = []core.SchedulerState{
	core.SchedulerIdle,
	core.SchedulerRunningTask,
	core.SchedulerDraining,
	core.SchedulerStopped,
}

func (p *SnapshotPoller) collectOnce() {
	p.schedsMu.RLock()
	for name, provider := range p.scheds {
		stats := provider.Stats()
		p.schedLocal.WithLabelValues(name).Set(float64(stats.LocalQueued))
		p.schedShared.WithLabelValues(name).Set(float64(stats.SharedQueued))
		p.schedIO.WithLabelValues(name).Set(float64(stats.PendingIO))
		p.schedSleeping.WithLabelValues(name).Set(boolGauge(stats.Sleeping))
		for _, st := range schedulerStates {
			p.schedState.WithLabelValues(name, st.String()).Set(boolGauge(stats.State == st))
		}
		p.stacksCached.WithLabelValues(name).Set(float64(stats.Stacks.Cached))
		p.stacksInUse.WithLabelValues(name).Set(float64(stats.Stacks.InUse))
	}
	p.schedsMu.RUnlock()

	p.poolsMu.RLock()
	for name, provider := range p.pools {
		stats := provider.Stats()
		p.poolQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.poolActive.WithLabelValues(name).Set(float64(stats.Active))
		p.poolWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		p.poolRunning.WithLabelValues(name).Set(boolGauge(stats.Running))
	}
	p.poolsMu.RUnlock()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
