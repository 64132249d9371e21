package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("relay", reg, zap.NewNop()), reg
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordHTTPRequest("POST", "/stream_audio", 200, time.Second)
		c.RecordUpstream(OutcomeOK, time.Second)
		c.RecordChunk(10)
		c.SetWebSocketSessions(3)
		c.StreamStarted()()
	})
}

func TestCollector_Relay(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordUpstream(OutcomeOK, 100*time.Millisecond)
	c.RecordUpstream(OutcomeStatus, 50*time.Millisecond)
	c.RecordChunk(4096)
	c.RecordChunk(100)

	done := c.StreamStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeStreams))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(c.activeStreams))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.upstreamRequestsTotal.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.upstreamRequestsTotal.WithLabelValues(OutcomeStatus)))
	assert.Equal(t, 4196.0, testutil.ToFloat64(c.audioBytes))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.audioChunks))
}

func TestCollector_MiddlewareUsesRoutePattern(t *testing.T) {
	c, reg := newTestCollector(t)

	r := chi.NewRouter()
	r.Use(c.Middleware())
	r.Post("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	for _, id := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/items/"+id, nil))
		assert.Equal(t, http.StatusCreated, w.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/items/{id}", "201")))

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "relay_http_requests_total"))
}
