// Package metrics exposes Prometheus metrics for Heron.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector provides application metrics collection.
// All methods are safe to call on a nil *Collector.
type Collector struct {
	registry *prometheus.Registry

	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Simulation Metrics
	SimulationsTotal    *prometheus.CounterVec
	SimulationFailures  *prometheus.CounterVec
	GuardrailOverrides  prometheus.Counter
	EstimateDuration    prometheus.Histogram
	FinalPredictionDays prometheus.Histogram

	// Dataset Metrics
	OrdersIngestedTotal prometheus.Counter
	ModelReloadsTotal   *prometheus.CounterVec
	KPICacheLookups     *prometheus.CounterVec
}

// NewCollector creates a collector on its own registry, so several
// collectors can coexist in one process.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by route, method, and status",
			},
			[]string{"route", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"route"},
		),

		SimulationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "simulations_total",
				Help:      "Completed simulations by outcome and route kind",
			},
			[]string{"outcome", "route_kind"},
		),

		SimulationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "simulation_failures_total",
				Help:      "Failed simulations by reason",
			},
			[]string{"reason"},
		),

		GuardrailOverrides: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guardrail_overrides_total",
				Help:      "Simulations where the physical floor replaced the model prediction",
			},
		),

		EstimateDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "estimate_duration_seconds",
				Help:      "Duration of one delay estimate in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
		),

		FinalPredictionDays: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "final_prediction_days",
				Help:      "Distribution of final predicted delay in days",
				Buckets:   []float64{-20, -10, -5, -2, 0, 2, 5, 10, 20},
			},
		),

		OrdersIngestedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_ingested_total",
				Help:      "Total number of dataset orders ingested",
			},
		),

		ModelReloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_reloads_total",
				Help:      "Model reload attempts by result",
			},
			[]string{"result"},
		),

		KPICacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kpi_cache_lookups_total",
				Help:      "KPI snapshot cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveRequest records one HTTP request.
func (c *Collector) ObserveRequest(route, method string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.APIRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.APIRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveSimulation records a completed simulation.
func (c *Collector) ObserveSimulation(outcome, routeKind string, overridden bool, finalDays float64, d time.Duration) {
	if c == nil {
		return
	}
	c.SimulationsTotal.WithLabelValues(outcome, routeKind).Inc()
	if overridden {
		c.GuardrailOverrides.Inc()
	}
	c.FinalPredictionDays.Observe(finalDays)
	c.EstimateDuration.Observe(d.Seconds())
}

// ObserveFailure records a failed simulation.
func (c *Collector) ObserveFailure(reason string) {
	if c == nil {
		return
	}
	c.SimulationFailures.WithLabelValues(reason).Inc()
}

// ObserveIngest records ingested orders.
func (c *Collector) ObserveIngest(n int) {
	if c == nil {
		return
	}
	c.OrdersIngestedTotal.Add(float64(n))
}

// ObserveModelReload records a reload attempt.
func (c *Collector) ObserveModelReload(err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	c.ModelReloadsTotal.WithLabelValues(result).Inc()
}

// ObserveKPICache records a KPI snapshot cache lookup.
func (c *Collector) ObserveKPICache(hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.KPICacheLookups.WithLabelValues("hit").Inc()
		return
	}
	c.KPICacheLookups.WithLabelValues("miss").Inc()
}
