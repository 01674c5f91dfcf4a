// Package metrics provides Prometheus metrics for the event pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventpipeline",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventpipeline",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventpipeline",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

var (
	// RouterEventsPublished counts events accepted into the live-routing queue
	RouterEventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eventpipeline",
			Subsystem: "router",
			Name:      "events_published_total",
			Help:      "Total number of events accepted into the routing queue",
		},
	)

	// RouterEventsDropped counts events rejected because the queue was full
	RouterEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eventpipeline",
			Subsystem: "router",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped because the routing queue was full",
		},
	)

	// RouterEventsDelivered counts successful deliveries to subscriber connections
	RouterEventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eventpipeline",
			Subsystem: "router",
			Name:      "events_delivered_total",
			Help:      "Total number of events delivered to subscriber connections",
		},
	)

	// RouterSubscribersActive tracks currently registered subscribers
	RouterSubscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventpipeline",
			Subsystem: "router",
			Name:      "subscribers_active",
			Help:      "Number of currently registered subscribers",
		},
	)

	// RouterSubscriberDisconnects counts subscribers removed after a failed delivery
	RouterSubscriberDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eventpipeline",
			Subsystem: "router",
			Name:      "subscriber_disconnects_total",
			Help:      "Total number of subscribers removed after a delivery failure",
		},
	)

	// RouterQueueDepth tracks the approximate routing queue depth
	RouterQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventpipeline",
			Subsystem: "router",
			Name:      "queue_depth",
			Help:      "Approximate number of events waiting in the routing queue",
		},
	)
)

var (
	// DBConnectionsOpen tracks open database connections
	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventpipeline",
			Subsystem: "db",
			Name:      "connections_open",
			Help:      "Number of open database connections",
		},
	)

	// DBConnectionsInUse tracks database connections currently in use
	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventpipeline",
			Subsystem: "db",
			Name:      "connections_in_use",
			Help:      "Number of database connections currently in use",
		},
	)

	// DBConnectionsIdle tracks idle database connections
	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventpipeline",
			Subsystem: "db",
			Name:      "connections_idle",
			Help:      "Number of idle database connections",
		},
	)

	// DBQueryDuration measures database query duration
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventpipeline",
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)
)

var (
	// WSConnectionsActive tracks active WebSocket connections by endpoint
	WSConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "eventpipeline",
			Subsystem: "ws",
			Name:      "connections_active",
			Help:      "Number of active WebSocket connections by endpoint",
		},
		[]string{"endpoint"},
	)

	// WSMessagesRejected counts rejected WebSocket messages by reason
	WSMessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventpipeline",
			Subsystem: "ws",
			Name:      "messages_rejected_total",
			Help:      "Total number of rejected WebSocket messages by reason",
		},
		[]string{"reason"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Middleware returns a chi middleware that records HTTP metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		path := getRoutePattern(r)

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// getRoutePattern returns the route pattern from chi context, falling back
// to the URL path so unmatched routes still get a stable label.
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
