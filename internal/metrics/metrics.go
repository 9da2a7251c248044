// Package metrics records projection, allocation, event and archival
// statistics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives the statistics each unit of work reports.
type Recorder interface {
	ProjectionOutcome(outcome string, n int)
	ProjectionDuration(d time.Duration)
	AllocationShortfall(kind string)
	Event(kind, outcome string)
	Archived(n int)
	PaymentDiamonds(status string, n int)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) ProjectionOutcome(string, int)    {}
func (NopRecorder) ProjectionDuration(time.Duration) {}
func (NopRecorder) AllocationShortfall(string)       {}
func (NopRecorder) Event(string, string)             {}
func (NopRecorder) Archived(int)                     {}
func (NopRecorder) PaymentDiamonds(string, int)      {}

// PromRecorder records statistics in Prometheus metrics.
type PromRecorder struct {
	instances  *prometheus.CounterVec
	duration   prometheus.Histogram
	shortfalls *prometheus.CounterVec
	events     *prometheus.CounterVec
	archived   prometheus.Counter
	diamonds   *prometheus.CounterVec
}

// NewPromRecorder registers the Loom's metrics on reg. If reg is nil, the
// default registerer is used. Collectors that are already registered are
// reused, so building a second recorder on the same registry is safe.
func NewPromRecorder(reg prometheus.Registerer) (*PromRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &PromRecorder{}
	var err error
	if r.instances, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_projection_instances_total",
		Help: "Instances handled by projection passes, by outcome",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if r.duration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "loom_projection_duration_seconds",
		Help:    "Wall time of a projection pass",
		Buckets: prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}
	if r.shortfalls, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_allocation_shortfalls_total",
		Help: "Allocations that could not be fully resourced, by kind",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if r.events, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_events_total",
		Help: "Dynamic events handled, by kind and outcome",
	}, []string{"kind", "outcome"})); err != nil {
		return nil, err
	}
	if r.archived, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loom_archived_instances_total",
		Help: "Instances moved into the history ledger",
	})); err != nil {
		return nil, err
	}
	if r.diamonds, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_payment_diamonds_total",
		Help: "Payment diamond transitions, by resulting status",
	}, []string{"status"})); err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (r *PromRecorder) ProjectionOutcome(outcome string, n int) {
	if n > 0 {
		r.instances.WithLabelValues(outcome).Add(float64(n))
	}
}

func (r *PromRecorder) ProjectionDuration(d time.Duration) {
	r.duration.Observe(d.Seconds())
}

func (r *PromRecorder) AllocationShortfall(kind string) {
	r.shortfalls.WithLabelValues(kind).Inc()
}

func (r *PromRecorder) Event(kind, outcome string) {
	r.events.WithLabelValues(kind, outcome).Inc()
}

func (r *PromRecorder) Archived(n int) {
	if n > 0 {
		r.archived.Add(float64(n))
	}
}

func (r *PromRecorder) PaymentDiamonds(status string, n int) {
	if n > 0 {
		r.diamonds.WithLabelValues(status).Add(float64(n))
	}
}
