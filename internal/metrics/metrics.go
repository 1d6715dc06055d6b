package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes Prometheus metrics for inbound HTTP requests and the
// aggregation pipeline.
type Collector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	aggregationRuns *prometheus.CounterVec
	alertsEnqueued  *prometheus.CounterVec
}

// NewCollector constructs a collector with default histograms/counters.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "misskeytools",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for inbound HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "misskeytools",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of inbound HTTP requests.",
	}, []string{"method", "path", "status"})

	aggregationRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "misskeytools",
		Subsystem: "aggregation",
		Name:      "runs_total",
		Help:      "Total number of aggregation runs by outcome.",
	}, []string{"outcome"})

	alertsEnqueued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "misskeytools",
		Subsystem: "aggregation",
		Name:      "alerts_enqueued_total",
		Help:      "Total number of alert jobs enqueued by queue.",
	}, []string{"queue"})

	for _, c := range []prometheus.Collector{requestDuration, requestTotal, aggregationRuns, alertsEnqueued} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	collector := &Collector{
		registry:        registry,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		aggregationRuns: aggregationRuns,
		alertsEnqueued:  alertsEnqueued,
	}

	return collector, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordAggregationRun counts one aggregation run by outcome
// ("success", "permanent_failure", "transient_failure").
func (c *Collector) RecordAggregationRun(outcome string) {
	c.aggregationRuns.WithLabelValues(outcome).Inc()
}

// RecordAlertEnqueued counts one alert job landing on a named queue.
func (c *Collector) RecordAlertEnqueued(queue string) {
	c.alertsEnqueued.WithLabelValues(queue).Inc()
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
