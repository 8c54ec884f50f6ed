// Package metrics exposes Prometheus collectors for config generation and
// supervised actions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "gnbdash"

// Collector records automation metrics into its own registry.
type Collector struct {
	commissionRuns     *prometheus.CounterVec
	commissionDuration prometheus.Histogram
	commissionSteps    prometheus.Histogram

	actionRuns     *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	actionRejected *prometheus.CounterVec
	actionInFlight *prometheus.GaugeVec

	configReloads *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a collector with a fresh registry. Go runtime and process
// collectors are included.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.commissionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commission_runs_total",
			Help:      "Total number of configuration generation runs by result",
		},
		[]string{"result"},
	)
	c.commissionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commission_duration_seconds",
			Help:      "Duration of configuration generation runs",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)
	c.commissionSteps = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commission_steps",
			Help:      "Expect steps consumed per configuration generation run",
			Buckets:   []float64{5, 10, 20, 30, 40, 50},
		},
	)

	c.actionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_runs_total",
			Help:      "Total number of supervised action runs by outcome",
		},
		[]string{"action", "outcome"},
	)
	c.actionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Duration of supervised action runs",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 180},
		},
		[]string{"action"},
	)
	c.actionRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_rejected_total",
			Help:      "Total number of action requests rejected because one was already running",
		},
		[]string{"action"},
	)
	c.actionInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "action_in_flight",
			Help:      "Number of supervised actions currently running",
		},
		[]string{"class"},
	)

	c.configReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Total number of configuration reload attempts by result",
		},
		[]string{"result"},
	)

	c.registry.MustRegister(
		c.commissionRuns,
		c.commissionDuration,
		c.commissionSteps,
		c.actionRuns,
		c.actionDuration,
		c.actionRejected,
		c.actionInFlight,
		c.configReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// CommissionFinished records one configuration generation run.
func (c *Collector) CommissionFinished(result string, steps int, duration time.Duration) {
	c.commissionRuns.WithLabelValues(result).Inc()
	c.commissionDuration.Observe(duration.Seconds())
	c.commissionSteps.Observe(float64(steps))
}

// ActionStarted marks an action of the given class as running.
func (c *Collector) ActionStarted(action, class string) {
	c.actionInFlight.WithLabelValues(class).Inc()
}

// ActionFinished records the outcome of an action and clears its in-flight mark.
func (c *Collector) ActionFinished(action, class, outcome string, duration time.Duration) {
	c.actionInFlight.WithLabelValues(class).Dec()
	c.actionRuns.WithLabelValues(action, outcome).Inc()
	c.actionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// ActionRejected records a request turned away by the single-flight guard.
func (c *Collector) ActionRejected(action string) {
	c.actionRejected.WithLabelValues(action).Inc()
}

// ConfigReloaded records a configuration reload attempt.
func (c *Collector) ConfigReloaded(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.configReloads.WithLabelValues(result).Inc()
}
