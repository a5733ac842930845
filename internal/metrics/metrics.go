// Package metrics exposes the Prometheus instrumentation for the router
// and the elasticity controller.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the prometheus collectors for vela.
type Metrics struct {
	registry *prometheus.Registry

	// Router
	jobsRoutedTotal    *prometheus.CounterVec
	jobsAbandonedTotal *prometheus.CounterVec
	bulkFallbackTotal  prometheus.Counter
	routingDuration    *prometheus.HistogramVec
	jobScore           prometheus.Histogram

	// Controller
	queueDepth          *prometheus.GaugeVec
	desiredReplicas     *prometheus.GaugeVec
	scaleDecisionsTotal *prometheus.CounterVec

	// Bulk breaker
	breakerState prometheus.Gauge
}

// Default histogram buckets for routing duration (in milliseconds)
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

var global *Metrics

// Init initializes the metrics subsystem.
func Init(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		jobsRoutedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_routed_total",
				Help:      "Total jobs routed, by platform, tier and outcome",
			},
			[]string{"platform", "tier", "status"},
		),

		jobsAbandonedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_abandoned_total",
				Help:      "Total ingress messages abandoned, by reason",
			},
			[]string{"reason"},
		),

		bulkFallbackTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bulk_fallback_total",
				Help:      "Total bulk submissions that fell back to a local queue",
			},
		),

		routingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "routing_duration_ms",
				Help:      "Per-message routing duration in milliseconds",
				Buckets:   buckets,
			},
			[]string{"platform", "tier"},
		),

		jobScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_cost_score",
				Help:      "Distribution of computed job cost scores",
				Buckets:   []float64{0.1, 0.5, 1, 2, 4, 10, 20, 50, 100},
			},
		),

		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Last observed message count per queue",
			},
			[]string{"queue"},
		),

		desiredReplicas: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "desired_replicas",
				Help:      "Desired replica count per managed deployment",
			},
			[]string{"deployment"},
		),

		scaleDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scale_decisions_total",
				Help:      "Scaling decisions issued, by deployment and direction",
			},
			[]string{"deployment", "direction"},
		),

		breakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bulk_breaker_state",
				Help:      "Bulk circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
		),
	}

	registry.MustRegister(
		m.jobsRoutedTotal,
		m.jobsAbandonedTotal,
		m.bulkFallbackTotal,
		m.routingDuration,
		m.jobScore,
		m.queueDepth,
		m.desiredReplicas,
		m.scaleDecisionsTotal,
		m.breakerState,
	)

	global = m
}

// RecordRouted records a routed job outcome.
func RecordRouted(platform, tier, status string, durationMs int64, score float64) {
	if global == nil {
		return
	}
	global.jobsRoutedTotal.WithLabelValues(platform, tier, status).Inc()
	global.routingDuration.WithLabelValues(platform, tier).Observe(float64(durationMs))
	global.jobScore.Observe(score)
}

// RecordAbandoned records an abandoned ingress message.
func RecordAbandoned(reason string) {
	if global == nil {
		return
	}
	global.jobsAbandonedTotal.WithLabelValues(reason).Inc()
}

// RecordBulkFallback records a bulk→local fallback.
func RecordBulkFallback() {
	if global == nil {
		return
	}
	global.bulkFallbackTotal.Inc()
}

// SetQueueDepth records an observed queue depth.
func SetQueueDepth(queue string, depth int) {
	if global == nil {
		return
	}
	global.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// SetDesiredReplicas records the controller's target for a deployment.
func SetDesiredReplicas(deployment string, replicas int) {
	if global == nil {
		return
	}
	global.desiredReplicas.WithLabelValues(deployment).Set(float64(replicas))
}

// RecordScaleDecision records a scaling transition.
func RecordScaleDecision(deployment, direction string) {
	if global == nil {
		return
	}
	global.scaleDecisionsTotal.WithLabelValues(deployment, direction).Inc()
}

// SetBreakerState records the bulk breaker state.
func SetBreakerState(state int) {
	if global == nil {
		return
	}
	global.breakerState.Set(float64(state))
}

// Handler returns the /metrics HTTP handler, or nil when metrics are
// disabled.
func Handler() http.Handler {
	if global == nil {
		return nil
	}
	return promhttp.HandlerFor(global.registry, promhttp.HandlerOpts{})
}
