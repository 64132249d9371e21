// Package metrics exposes Prometheus metrics for the relay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Upstream outcomes used as label values
const (
	OutcomeOK        = "ok"
	OutcomeStatus    = "status_error"
	OutcomeTransport = "transport_error"
	OutcomeCanceled  = "canceled"
)

// Collector records HTTP and relay metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	upstreamRequestsTotal *prometheus.CounterVec
	upstreamResponseTime  prometheus.Histogram

	audioBytes        prometheus.Counter
	audioChunks       prometheus.Counter
	activeStreams     prometheus.Gauge
	websocketSessions prometheus.Gauge

	logger *zap.Logger
}

// NewCollector registers all metrics under namespace with reg.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)

	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds, including the full audio stream",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"method", "path"},
	)

	c.upstreamRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of text-to-speech upstream calls by outcome",
		},
		[]string{"outcome"},
	)

	c.upstreamResponseTime = f.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_response_seconds",
			Help:      "Time until the upstream returned response headers",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	c.audioBytes = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_bytes_relayed_total",
		Help:      "Audio bytes forwarded to callers",
	})

	c.audioChunks = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_chunks_relayed_total",
		Help:      "Audio chunks forwarded to callers",
	})

	c.activeStreams = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_streams",
		Help:      "Audio streams currently being relayed",
	})

	c.websocketSessions = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_sessions",
		Help:      "Connected WebSocket sessions",
	})

	return c
}

// RecordHTTPRequest records one finished HTTP request
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordUpstream records one upstream call and how long the headers took
func (c *Collector) RecordUpstream(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.upstreamRequestsTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeTransport && outcome != OutcomeCanceled {
		c.upstreamResponseTime.Observe(duration.Seconds())
	}
}

// RecordChunk records one relayed audio chunk
func (c *Collector) RecordChunk(n int) {
	if c == nil {
		return
	}
	c.audioChunks.Inc()
	c.audioBytes.Add(float64(n))
}

// StreamStarted increments the active stream gauge; call the returned
// func when the stream ends.
func (c *Collector) StreamStarted() func() {
	if c == nil {
		return func() {}
	}
	c.activeStreams.Inc()
	return c.activeStreams.Dec
}

// SetWebSocketSessions sets the connected session gauge
func (c *Collector) SetWebSocketSessions(n int) {
	if c == nil {
		return
	}
	c.websocketSessions.Set(float64(n))
}

// Middleware records request count and duration per route pattern. The
// wrapped writer keeps http.Flusher so streamed responses still flush.
func (c *Collector) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				c.RecordHTTPRequest(r.Method, routePattern(r), status, time.Since(start))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// routePattern keeps label cardinality bounded by using the matched chi
// route instead of the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// Handler serves the metrics in g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
