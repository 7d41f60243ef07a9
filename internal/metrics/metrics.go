// Package metrics exports batch pipeline metrics to Prometheus.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the copydesk metric vectors.
type Collector struct {
	batchesDispatched *prometheus.CounterVec
	dispatchErrors    prometheus.Counter
	pollTicks         *prometheus.CounterVec
	batchItems        *prometheus.CounterVec
	batchDuration     *prometheus.HistogramVec
	housekeepingRuns  *prometheus.CounterVec
	housekeepingTime  *prometheus.HistogramVec
}

var (
	collectorOnce sync.Once
	collector     *Collector
)

// Default returns the process-wide collector, registering it on first use.
func Default() *Collector {
	collectorOnce.Do(func() {
		collector = newCollector()
		prometheus.MustRegister(collector.collectors()...)
	})
	return collector
}

// NewCollector returns a collector registered on reg. Used by tests that
// need isolated counters.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := newCollector()
	reg.MustRegister(c.collectors()...)
	return c
}

func newCollector() *Collector {
	return &Collector{
		batchesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copydesk_batches_dispatched_total",
			Help: "Batches accepted by the content backend",
		}, []string{"mode"}),

		dispatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copydesk_dispatch_errors_total",
			Help: "Batch submissions that failed before a task was created",
		}),

		pollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copydesk_poll_ticks_total",
			Help: "Status queries for async batches, by reported status",
		}, []string{"status"}),

		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copydesk_batch_items_total",
			Help: "Items of finished batches, by outcome",
		}, []string{"outcome"}),

		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "copydesk_batch_duration_seconds",
			Help:    "Time from dispatch to terminal state",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"mode", "state"}),

		housekeepingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copydesk_housekeeping_runs_total",
			Help: "Housekeeping job runs, by job and outcome (ok, error, panic, skipped)",
		}, []string{"job", "outcome"}),

		housekeepingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "copydesk_housekeeping_duration_seconds",
			Help:    "Wall time of housekeeping runs that were not skipped",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"job"}),
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.batchesDispatched,
		c.dispatchErrors,
		c.pollTicks,
		c.batchItems,
		c.batchDuration,
		c.housekeepingRuns,
		c.housekeepingTime,
	}
}

func (c *Collector) BatchDispatched(mode string) {
	c.batchesDispatched.WithLabelValues(mode).Inc()
}

func (c *Collector) DispatchFailed() {
	c.dispatchErrors.Inc()
}

// PollTick counts one status query. status is the backend status, or "error".
func (c *Collector) PollTick(status string) {
	c.pollTicks.WithLabelValues(status).Inc()
}

// BatchFinished records a terminal batch.
func (c *Collector) BatchFinished(mode, state string, succeeded, failed int, elapsed time.Duration) {
	c.batchItems.WithLabelValues("success").Add(float64(succeeded))
	c.batchItems.WithLabelValues("failure").Add(float64(failed))
	c.batchDuration.WithLabelValues(mode, state).Observe(elapsed.Seconds())
}

// HousekeepingRun records one scheduler run. Skipped runs did no work and
// stay out of the duration histogram.
func (c *Collector) HousekeepingRun(job, outcome string, elapsed time.Duration) {
	c.housekeepingRuns.WithLabelValues(job, outcome).Inc()
	if outcome != "skipped" {
		c.housekeepingTime.WithLabelValues(job).Observe(elapsed.Seconds())
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
