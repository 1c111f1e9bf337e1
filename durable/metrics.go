package durable

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Step outcomes recorded in steps_total.
const (
	stepOutcomeMemoized       = "memoized"
	stepOutcomeCompleted      = "completed"
	stepOutcomeFailed         = "failed"
	stepOutcomeReplayedFailed = "replayed_failure"
	stepOutcomeInterrupted    = "interrupted"
	stepOutcomeRetried        = "retried"
)

// PrometheusMetrics collects step executor metrics.
//
// Metrics exposed (namespace "durable"):
//
//  1. steps_total (counter): step invocations by outcome.
//     Labels: label, outcome (memoized, completed, failed, replayed_failure,
//     interrupted, retried).
//  2. step_latency_ms (histogram): wall time of a step's work.
//     Labels: label, status (success, error).
//  3. zombie_steps_total (counter): RUNNING records found on resume and
//     re-run. Labels: label.
//  4. passes_total (counter): finished passes. Labels: outcome.
//  5. inflight_branches (gauge): Parallel branches currently running.
//
// A nil *PrometheusMetrics is valid and records nothing.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := durable.NewPrometheusMetrics(registry)
//	eng, _ := durable.New(st, durable.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	steps    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	zombies  *prometheus.CounterVec
	passes   *prometheus.CounterVec
	inflight prometheus.Gauge

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers the metrics with registry.
// A nil registry means prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		enabled: true,
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "durable",
			Name:      "steps_total",
			Help:      "Step invocations by outcome",
		}, []string{"label", "outcome"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "durable",
			Name:      "step_latency_ms",
			Help:      "Wall time of a step's work in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"label", "status"}),
		zombies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "durable",
			Name:      "zombie_steps_total",
			Help:      "RUNNING records found on resume whose work was run again",
		}, []string{"label"}),
		passes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "durable",
			Name:      "passes_total",
			Help:      "Finished execution passes by outcome",
		}, []string{"outcome"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "durable",
			Name:      "inflight_branches",
			Help:      "Parallel branches currently running",
		}),
	}
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// IncStep counts one step invocation with the given outcome.
func (pm *PrometheusMetrics) IncStep(label, outcome string) {
	if !pm.on() {
		return
	}
	pm.steps.WithLabelValues(label, outcome).Inc()
}

// RecordStepLatency observes how long a step's work took. status is
// "success" or "error".
func (pm *PrometheusMetrics) RecordStepLatency(label, status string, latency time.Duration) {
	if !pm.on() {
		return
	}
	pm.latency.WithLabelValues(label, status).Observe(float64(latency.Milliseconds()))
}

// IncZombie counts a RUNNING record that is being re-run.
func (pm *PrometheusMetrics) IncZombie(label string) {
	if !pm.on() {
		return
	}
	pm.zombies.WithLabelValues(label).Inc()
}

// IncPass counts a finished pass.
func (pm *PrometheusMetrics) IncPass(outcome Outcome) {
	if !pm.on() {
		return
	}
	pm.passes.WithLabelValues(outcome.String()).Inc()
}

// AddInflightBranches moves the inflight_branches gauge by delta.
func (pm *PrometheusMetrics) AddInflightBranches(delta int) {
	if !pm.on() {
		return
	}
	pm.inflight.Add(float64(delta))
}

// Disable stops recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
