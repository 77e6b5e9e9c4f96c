// Package metrics exposes run, node and HTTP counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the engine's Prometheus instruments.
type Collector struct {
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runsInFlight    prometheus.Gauge
	nodeTransitions *prometheus.CounterVec
	tokensUsed      prometheus.Counter
	costTotal       prometheus.Counter
	scheduledRuns   *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector registers the instruments on reg under namespace.
// A nil reg uses the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Workflow runs by continuation policy and final status.",
		}, []string{"policy", "status"}),

		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of workflow runs.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),

		runsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Runs currently executing.",
		}),

		nodeTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_transitions_total",
			Help:      "Node state transitions by target status.",
		}, []string{"to"}),

		tokensUsed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by agent invocations.",
		}),

		costTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_total",
			Help:      "Estimated model cost in USD.",
		}),

		scheduledRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_runs_total",
			Help:      "Cron-triggered runs by outcome.",
		}, []string{"outcome"}),

		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "path", "status"}),

		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// RunStarted marks a run as in flight.
func (c *Collector) RunStarted() {
	c.runsInFlight.Inc()
}

// RunFinished records a completed run and its usage.
func (c *Collector) RunFinished(policy, status string, elapsed time.Duration, tokens int, cost float64) {
	c.runsInFlight.Dec()
	c.runsTotal.WithLabelValues(policy, status).Inc()
	c.runDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	if tokens > 0 {
		c.tokensUsed.Add(float64(tokens))
	}
	if cost > 0 {
		c.costTotal.Add(cost)
	}
}

// NodeTransition counts a node moving to status to.
func (c *Collector) NodeTransition(to string) {
	c.nodeTransitions.WithLabelValues(to).Inc()
}

// ScheduledRun counts a cron-triggered run; outcome is "ok", "skipped" or "error".
func (c *Collector) ScheduledRun(outcome string) {
	c.scheduledRuns.WithLabelValues(outcome).Inc()
}

// HTTPRequest records one served request.
func (c *Collector) HTTPRequest(method, path string, status int, elapsed time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
