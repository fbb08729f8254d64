// Package observability bundles the Prometheus metrics and OTel tracing
// bootstrap for the engine.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/u-space/utm-core/model"
)

// EngineCollector bundles Prometheus metrics for the deconfliction engine.
// It satisfies the recorder interfaces of the store, admission protocol,
// scheduler, and conformance monitor so each can drive its own series.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	OperationStates  *prometheus.GaugeVec
	AdmissionsTotal  *prometheus.CounterVec
	ConformanceTotal *prometheus.CounterVec
	SweepDuration    prometheus.Histogram
	SweepTransitions prometheus.Counter
}

// NewEngineCollector registers the engine metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	states, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "utm_operations",
		Help: "Current number of operations by lifecycle state.",
	}, []string{"state"}), "utm_operations")
	if err != nil {
		return nil, err
	}

	admissions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "utm_admissions_total",
		Help: "Total admission attempts by outcome.",
	}, []string{"outcome"}), "utm_admissions_total")
	if err != nil {
		return nil, err
	}

	conformance, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "utm_conformance_reports_total",
		Help: "Total handled position reports by conformance outcome.",
	}, []string{"outcome"}), "utm_conformance_reports_total")
	if err != nil {
		return nil, err
	}

	sweepDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "utm_sweep_duration_seconds",
		Help:    "Lifecycle scheduler sweep duration in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}), "utm_sweep_duration_seconds")
	if err != nil {
		return nil, err
	}

	sweepTransitions, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "utm_sweep_transitions_total",
		Help: "Total state transitions applied by scheduler sweeps.",
	}), "utm_sweep_transitions_total")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:         gatherer,
		OperationStates:  states,
		AdmissionsTotal:  admissions,
		ConformanceTotal: conformance,
		SweepDuration:    sweepDuration,
		SweepTransitions: sweepTransitions,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EngineCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetOperationStateCounts satisfies the store's StateCountsRecorder so
// mutators can drive the per-state gauges directly.
func (c *EngineCollector) SetOperationStateCounts(counts map[model.OperationState]int) {
	if c == nil || c.OperationStates == nil {
		return
	}
	for _, state := range []model.OperationState{
		model.StateProposed, model.StatePending, model.StateAccepted,
		model.StateActivated, model.StateNonconforming, model.StateRogue,
		model.StateClosed, model.StateNotAccepted,
	} {
		c.OperationStates.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

// RecordAdmission satisfies the admission protocol's Recorder.
func (c *EngineCollector) RecordAdmission(outcome string) {
	if c == nil || c.AdmissionsTotal == nil {
		return
	}
	c.AdmissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordConformance satisfies the conformance monitor's Recorder.
func (c *EngineCollector) RecordConformance(outcome string) {
	if c == nil || c.ConformanceTotal == nil {
		return
	}
	c.ConformanceTotal.WithLabelValues(outcome).Inc()
}

// RecordSweep satisfies the scheduler's Recorder.
func (c *EngineCollector) RecordSweep(duration time.Duration, transitions int) {
	if c == nil {
		return
	}
	if c.SweepDuration != nil {
		c.SweepDuration.Observe(duration.Seconds())
	}
	if c.SweepTransitions != nil && transitions > 0 {
		c.SweepTransitions.Add(float64(transitions))
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}
