package scheduler

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes scheduler activity to Prometheus.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Flushes     prometheus.Counter
	Applied     prometheus.Counter
	Elided      prometheus.Counter
	Dropped     *prometheus.CounterVec
	Settles     prometheus.Counter
	Rechecks    prometheus.Counter
	ApplyErrors prometheus.Counter
	BatchSize   prometheus.Histogram
}

// NewMetrics creates the scheduler collectors and registers them with reg.
// Pass nil to create unregistered collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "propsync", Subsystem: "scheduler",
			Name: "flushes_total",
			Help: "Bulk apply calls made by the batcher.",
		}),
		Applied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "propsync", Subsystem: "scheduler",
			Name: "operations_applied_total",
			Help: "Pending operations applied to the presentation tree.",
		}),
		Elided: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "propsync", Subsystem: "scheduler",
			Name: "operations_unchanged_total",
			Help: "Applied operations that did not change native state.",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "propsync", Subsystem: "scheduler",
			Name: "operations_dropped_total",
			Help: "Pending operations skipped during a flush.",
		}, []string{"reason"}),
		Settles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "propsync", Subsystem: "scheduler",
			Name: "settles_total",
			Help: "Settle notifications emitted.",
		}),
		Rechecks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "propsync", Subsystem: "scheduler",
			Name: "rechecks_scheduled_total",
			Help: "Deferred settle rechecks scheduled.",
		}),
		ApplyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "propsync", Subsystem: "scheduler",
			Name: "apply_errors_total",
			Help: "Bulk apply calls that returned an error.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "propsync", Subsystem: "scheduler",
			Name:    "batch_size",
			Help:    "Operations per bulk apply call.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.Flushes, m.Applied, m.Elided, m.Dropped, m.Settles, m.Rechecks, m.ApplyErrors, m.BatchSize,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) flushed(applied, elided int) {
	if m == nil {
		return
	}
	m.Flushes.Inc()
	m.Applied.Add(float64(applied))
	m.Elided.Add(float64(elided))
	m.BatchSize.Observe(float64(applied))
}

func (m *Metrics) dropped(code DropCode) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(string(code)).Inc()
}

func (m *Metrics) settled() {
	if m == nil {
		return
	}
	m.Settles.Inc()
}

func (m *Metrics) recheck() {
	if m == nil {
		return
	}
	m.Rechecks.Inc()
}

func (m *Metrics) applyFailed() {
	if m == nil {
		return
	}
	m.ApplyErrors.Inc()
}

// Stats is a point-in-time snapshot of scheduler counters.
type Stats struct {
	Flushes    uint64
	Applied    uint64
	Elided     uint64
	Dropped    uint64
	Settles    uint64
	Rechecks   uint64
	Queued     int
	Registered int
}

// counters back Stats. Written by the presentation goroutine, read from any.
type counters struct {
	flushes  atomic.Uint64
	applied  atomic.Uint64
	elided   atomic.Uint64
	dropped  atomic.Uint64
	settles  atomic.Uint64
	rechecks atomic.Uint64
}
