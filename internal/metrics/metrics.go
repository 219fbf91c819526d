// Package metrics collects and exposes the server's Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rating submission outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
)

// Recorder is the interface services and middleware record through.
type Recorder interface {
	RecordRequest(method, route string, status int, duration time.Duration)
	RecordRatingSubmission(outcome string)
	RecordConflictRetry()
	RecordBlobDeleteFailure()
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	ratings          *prometheus.CounterVec
	conflictRetries  prometheus.Counter
	blobDeleteFailed prometheus.Counter
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grimoire_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grimoire_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ratings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grimoire_rating_submissions_total",
			Help: "Rating submissions by outcome.",
		}, []string{"outcome"}),
		conflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grimoire_rating_conflict_retries_total",
			Help: "Optimistic store transactions retried after a write conflict.",
		}),
		blobDeleteFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grimoire_blob_delete_failures_total",
			Help: "Cover image deletions that failed and were ignored.",
		}),
	}

	reg.MustRegister(
		c.requests,
		c.requestDuration,
		c.ratings,
		c.conflictRetries,
		c.blobDeleteFailed,
	)
	return c
}

// RecordRequest records one served HTTP request.
func (c *Collector) RecordRequest(method, route string, status int, duration time.Duration) {
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordRatingSubmission counts a rating submission.
func (c *Collector) RecordRatingSubmission(outcome string) {
	c.ratings.WithLabelValues(outcome).Inc()
}

// RecordConflictRetry counts a store conflict retry.
func (c *Collector) RecordConflictRetry() {
	c.conflictRetries.Inc()
}

// RecordBlobDeleteFailure counts an ignored cover deletion failure.
func (c *Collector) RecordBlobDeleteFailure() {
	c.blobDeleteFailed.Inc()
}

// Noop discards every measurement.
type Noop struct{}

func (Noop) RecordRequest(string, string, int, time.Duration) {}
func (Noop) RecordRatingSubmission(string)                    {}
func (Noop) RecordConflictRetry()                             {}
func (Noop) RecordBlobDeleteFailure()                         {}

// Handler returns the HTTP handler Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
