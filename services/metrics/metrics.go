// Package metrics exposes the geocoding pipeline's Prometheus metrics.
//
//	geocoder_submissions_total{path}            submit outcomes: cache, multiplexed, queued, direct
//	geocoder_broker_publish_failures_total      publishes that fell back to a direct lookup
//	geocoder_provider_requests_total{provider,outcome}
//	geocoder_worker_attempts_total{outcome}     one per pass through the provider chain
//	geocoder_jobs_completed_total{source}
//	geocoder_jobs_failed_total{source}
//	geocoder_job_latency_seconds                queued-at to terminal status
//	geocoder_inflight_markers                   live in-flight markers, sampled by cron
//	geocoder_dead_letter_depth                  messages waiting in geocoding.failed
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sahilchouksey/geocoder/model"
)

// Collector holds the pipeline metrics
type Collector struct {
	submissions     *prometheus.CounterVec
	publishFailures prometheus.Counter
	providerCalls   *prometheus.CounterVec
	workerAttempts  *prometheus.CounterVec
	jobsCompleted   *prometheus.CounterVec
	jobsFailed      *prometheus.CounterVec

	jobLatency prometheus.Histogram

	inflightMarkers prometheus.Gauge
	deadLetterDepth prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewCollector creates the metrics and registers them with reg.
// A nil reg uses a fresh registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geocoder_submissions_total",
			Help: "Total number of geocode submissions by resolution path",
		}, []string{"path"}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geocoder_broker_publish_failures_total",
			Help: "Total number of broker publishes that failed and fell back to a direct lookup",
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geocoder_provider_requests_total",
			Help: "Total number of upstream geocode provider requests",
		}, []string{"provider", "outcome"}),
		workerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geocoder_worker_attempts_total",
			Help: "Total number of worker resolution attempts",
		}, []string{"outcome"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geocoder_jobs_completed_total",
			Help: "Total number of geocode jobs completed",
		}, []string{"source"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geocoder_jobs_failed_total",
			Help: "Total number of geocode jobs failed",
		}, []string{"source"}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "geocoder_job_latency_seconds",
			Help:    "Time from queueing to terminal status in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		inflightMarkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geocoder_inflight_markers",
			Help: "Current number of live in-flight markers",
		}),
		deadLetterDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geocoder_dead_letter_depth",
			Help: "Messages waiting in the failed queue",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		c.submissions,
		c.publishFailures,
		c.providerCalls,
		c.workerAttempts,
		c.jobsCompleted,
		c.jobsFailed,
		c.jobLatency,
		c.inflightMarkers,
		c.deadLetterDepth,
	)
	return c
}

// RecordSubmission counts one submit by path
func (c *Collector) RecordSubmission(path string) {
	c.submissions.WithLabelValues(path).Inc()
}

// RecordPublishFailure counts a failed broker publish
func (c *Collector) RecordPublishFailure() {
	c.publishFailures.Inc()
}

// ObserveProviderRequest counts one upstream provider call
func (c *Collector) ObserveProviderRequest(provider, outcome string) {
	c.providerCalls.WithLabelValues(provider, outcome).Inc()
}

// RecordWorkerAttempt counts one worker pass through the provider chain
func (c *Collector) RecordWorkerAttempt(outcome string) {
	c.workerAttempts.WithLabelValues(outcome).Inc()
}

// RecordJobCompleted counts a completed job and observes its latency
func (c *Collector) RecordJobCompleted(source model.JobSource, latency time.Duration) {
	c.jobsCompleted.WithLabelValues(string(source)).Inc()
	c.jobLatency.Observe(latency.Seconds())
}

// RecordJobFailed counts a failed job and observes its latency
func (c *Collector) RecordJobFailed(source model.JobSource, latency time.Duration) {
	c.jobsFailed.WithLabelValues(string(source)).Inc()
	c.jobLatency.Observe(latency.Seconds())
}

// SetInflightMarkers sets the sampled marker count
func (c *Collector) SetInflightMarkers(n int) {
	c.inflightMarkers.Set(float64(n))
}

// SetDeadLetterDepth sets the sampled failed-queue depth
func (c *Collector) SetDeadLetterDepth(n int) {
	c.deadLetterDepth.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
