package prometheus

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Swind/go-greenrt/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	// SliceBuckets are histogram buckets for task slices, in seconds.
	SliceBuckets []float64
	// LifetimeBuckets are histogram buckets for task lifetimes, in seconds.
	LifetimeBuckets []float64
}

// defaultSliceBuckets span 1µs..~1s; cooperative slices are short.
var defaultSliceBuckets = prom.ExponentialBuckets(1e-6, 4, 11)

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskSliceSeconds    *prom.HistogramVec
	taskLifetimeSeconds *prom.HistogramVec
	taskExitTotal       *prom.CounterVec
	queueDepth          *prom.GaugeVec
	wakeupTotal         *prom.CounterVec
	stackAllocTotal     *prom.CounterVec
	stackAllocBytes     *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "greenrt"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	sliceBuckets := opts.SliceBuckets
	if len(sliceBuckets) == 0 {
		sliceBuckets = defaultSliceBuckets
	}
	lifetimeBuckets := opts.LifetimeBuckets
	if len(lifetimeBuckets) == 0 {
		lifetimeBuckets = prom.DefBuckets
	}

	sliceVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_slice_seconds",
		Help:      "Time a task ran before switching back to its scheduler.",
		Buckets:   sliceBuckets,
	}, []string{"scheduler"})
	lifetimeVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_lifetime_seconds",
		Help:      "Time from task creation to reclamation.",
		Buckets:   lifetimeBuckets,
	}, []string{"scheduler"})
	exitVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_exit_total",
		Help:      "Tasks reclaimed, by outcome.",
	}, []string{"scheduler", "success"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "work_queue_depth",
		Help:      "Shared work queue depth observed by a scheduler.",
	}, []string{"scheduler"})
	wakeupVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_wakeups_total",
		Help:      "Times a scheduler returned from waiting on its event loop.",
	}, []string{"scheduler"})
	stackAllocVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "stack_allocations_total",
		Help:      "Fresh stack segments allocated.",
	}, []string{"scheduler"})
	stackBytesVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "stack_allocated_bytes_total",
		Help:      "Bytes of fresh stack segments allocated.",
	}, []string{"scheduler"})

	var err error
	if sliceVec, err = registerCollector(reg, sliceVec); err != nil {
		return nil, err
	}
	if lifetimeVec, err = registerCollector(reg, lifetimeVec); err != nil {
		return nil, err
	}
	if exitVec, err = registerCollector(reg, exitVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if wakeupVec, err = registerCollector(reg, wakeupVec); err != nil {
		return nil, err
	}
	if stackAllocVec, err = registerCollector(reg, stackAllocVec); err != nil {
		return nil, err
	}
	if stackBytesVec, err = registerCollector(reg, stackBytesVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskSliceSeconds:    sliceVec,
		taskLifetimeSeconds: lifetimeVec,
		taskExitTotal:       exitVec,
		queueDepth:          queueDepthVec,
		wakeupTotal:         wakeupVec,
		stackAllocTotal:     stackAllocVec,
		stackAllocBytes:     stackBytesVec,
	}, nil
}

// RecordTaskSlice records how long a task ran in one slice.
func (m *MetricsExporter) RecordTaskSlice(schedName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskSliceSeconds.WithLabelValues(normalizeLabel(schedName, "unknown")).Observe(duration.Seconds())
}

// RecordTaskExit records a reclaimed task.
func (m *MetricsExporter) RecordTaskExit(schedName string, success bool, lifetime time.Duration) {
	if m == nil {
		return
	}
	name := normalizeLabel(schedName, "unknown")
	m.taskExitTotal.WithLabelValues(name, strconv.FormatBool(success)).Inc()
	m.taskLifetimeSeconds.WithLabelValues(name).Observe(lifetime.Seconds())
}

// RecordQueueDepth records the shared queue depth.
func (m *MetricsExporter) RecordQueueDepth(schedName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(schedName, "unknown")).Set(float64(depth))
}

func (m *MetricsExporter) RecordWakeup(schedName string) {
	if m == nil {
		return
	}
	m.wakeupTotal.WithLabelValues(normalizeLabel(schedName, "unknown")).Inc()
}

func (m *MetricsExporter) RecordStackAllocation(schedName string, size int) {
	if m == nil {
		return
	}
	name := normalizeLabel(schedName, "unknown")
	m.stackAllocTotal.WithLabelValues(name).Inc()
	m.stackAllocBytes.WithLabelValues(name).Add(float64(size))
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
