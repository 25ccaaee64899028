// Package metrics exposes hub and reconciliation metrics through Prometheus.
//
// Every method is safe on a nil *Metrics so components take metrics as an optional
// dependency.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "patchwire"

// Prediction outcomes.
const (
	PredictionHit       = "hit"
	PredictionMiss      = "miss"
	PredictionStale     = "stale"
	PredictionMatched   = "matched"
	PredictionCorrected = "corrected"
)

// Metrics holds the collectors and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	ActiveConnections  prometheus.Gauge
	MountedComponents  prometheus.Gauge
	Invocations        *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	Predictions        *prometheus.CounterVec
	ReconcileDuration  prometheus.Histogram
	PatchesApplied     *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, with Go runtime and process metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "active_connections",
			Help:      "Open hub websocket sessions",
		}),

		MountedComponents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "mounted_components",
			Help:      "Component instances currently mounted",
		}),

		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "invocations_total",
			Help:      "Hub method invocations by target and status",
		}, []string{"target", "status"}),

		InvocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "invocation_duration_seconds",
			Help:      "Hub method invocation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"}),

		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "predict",
			Name:      "outcomes_total",
			Help:      "Prediction outcomes (hit, miss, stale, matched, corrected)",
		}, []string{"outcome"}),

		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Render plus diff time per reconciliation in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),

		PatchesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "patches_total",
			Help:      "Patches produced or applied, by source",
		}, []string{"source"}),
	}

	m.registry.MustRegister(
		m.ActiveConnections,
		m.MountedComponents,
		m.Invocations,
		m.InvocationDuration,
		m.Predictions,
		m.ReconcileDuration,
		m.PatchesApplied,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConnectionOpened records a new hub session.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionClosed records a hub session ending.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// ComponentMounted records a component instance being created.
func (m *Metrics) ComponentMounted() {
	if m == nil {
		return
	}
	m.MountedComponents.Inc()
}

// ComponentDisposed records count component instances going away.
func (m *Metrics) ComponentDisposed(count int) {
	if m == nil {
		return
	}
	m.MountedComponents.Sub(float64(count))
}

// ObserveInvocation records one completed invocation.
func (m *Metrics) ObserveInvocation(target string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	var deadline interface{ Timeout() bool }
	switch {
	case err == nil:
	case errors.As(err, &deadline) && deadline.Timeout():
		status = "timeout"
	default:
		status = "error"
	}
	m.Invocations.WithLabelValues(target, status).Inc()
	m.InvocationDuration.WithLabelValues(target).Observe(elapsed.Seconds())
}

// ObservePrediction records one prediction outcome.
func (m *Metrics) ObservePrediction(outcome string) {
	if m == nil {
		return
	}
	m.Predictions.WithLabelValues(outcome).Inc()
}

// ObserveReconcile records one render-and-diff pass.
func (m *Metrics) ObserveReconcile(elapsed time.Duration, patches int, source string) {
	if m == nil {
		return
	}
	m.ReconcileDuration.Observe(elapsed.Seconds())
	m.PatchesApplied.WithLabelValues(source).Add(float64(patches))
}
