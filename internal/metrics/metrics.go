// Package metrics exposes the sync agent's Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omerix/offline-sync/internal/opqueue"
	"github.com/omerix/offline-sync/internal/syncer"
)

const namespace = "omerix"

// StatsSource reports queue counts at scrape time.
type StatsSource interface {
	Stats(ctx context.Context) (opqueue.Stats, error)
}

// Collector holds all Prometheus metrics of the agent on its own registry.
type Collector struct {
	registry *prometheus.Registry

	enqueued       prometheus.Counter
	replayTotal    *prometheus.CounterVec
	replayDuration prometheus.Histogram
	flushTotal     *prometheus.CounterVec
	flushOps       *prometheus.CounterVec

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

// NewCollector creates the metrics on a fresh registry. A non-nil queue
// source adds the omerix_queue_operations gauge.
func NewCollector(queue StatsSource) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		enqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Total number of operations written to the offline queue",
		}),
		replayTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_total",
			Help:      "Replayed operations by outcome",
		}, []string{"outcome"}),
		replayDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "replay_duration_seconds",
			Help:      "Duration of replay requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		flushTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_total",
			Help:      "Flush passes by result",
		}, []string{"result"}),
		flushOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_operations_total",
			Help:      "Operations handled by flush passes, by result",
		}, []string{"result"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of local API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
		requestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of local API requests",
		}, []string{"method", "status"}),
	}

	if queue != nil {
		reg.MustRegister(newQueueCollector(queue))
	}
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveReplay implements syncer.Metrics.
func (c *Collector) ObserveReplay(outcome string, d time.Duration) {
	c.replayTotal.WithLabelValues(outcome).Inc()
	c.replayDuration.Observe(d.Seconds())
}

// ObserveFlush implements syncer.Metrics.
func (c *Collector) ObserveFlush(res syncer.Result, err error) {
	switch {
	case err == nil:
		c.flushTotal.WithLabelValues("completed").Inc()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.flushTotal.WithLabelValues("cancelled").Inc()
	default:
		c.flushTotal.WithLabelValues("error").Inc()
	}
	c.flushOps.WithLabelValues("ok").Add(float64(res.OK))
	c.flushOps.WithLabelValues("failed").Add(float64(res.Failed))
	c.flushOps.WithLabelValues("dead").Add(float64(res.Dead))
	c.flushOps.WithLabelValues("deferred").Add(float64(res.Deferred))
}

// TrackQueue counts enqueues of q until the returned function is called.
func (c *Collector) TrackQueue(q *opqueue.Queue) func() {
	return q.Subscribe(func(ev opqueue.Event) {
		if ev.Kind == opqueue.EventEnqueued {
			c.enqueued.Inc()
		}
	})
}

// Middleware records request counts and latency of the local API.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		status := strconv.Itoa(rw.status)
		c.requestDuration.WithLabelValues(r.Method, status).Observe(time.Since(start).Seconds())
		c.requestTotal.WithLabelValues(r.Method, status).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// the websocket upgrade needs.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

var _ syncer.Metrics = (*Collector)(nil)
