package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"playai-relay-backend/config"
	"playai-relay-backend/handlers"
	"playai-relay-backend/metrics"
	"playai-relay-backend/playht"
	"playai-relay-backend/websocket"
)

func newTestServer(t *testing.T, upstream http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		upstream(w, r)
	}))
	t.Cleanup(up.Close)

	cfg, err := config.NewLoader().WithLookupEnv(func(key string) (string, bool) {
		switch key {
		case "PLAY_HT_API_KEY":
			return "key", true
		case "PLAY_HT_USER_ID":
			return "user", true
		case "PLAY_HT_ENDPOINT":
			return up.URL, true
		}
		return "", false
	}).Load()
	require.NoError(t, err)

	creds, err := cfg.Credentials()
	require.NoError(t, err)
	client, err := playht.NewClient(creds, playht.WithEndpoint(cfg.PlayHT.Endpoint))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", reg, zap.NewNop())
	hub := websocket.NewHub(client, zap.NewNop(), collector, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	r := newRouter(cfg, zap.NewNop(), collector, reg, handlers.NewStreamAudioHandler(client, zap.NewNop(), collector, 0), hub)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestRouter_StreamAudio(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "user", r.Header.Get("X-USER-ID"))
		w.Write([]byte("mp3 bytes"))
	})

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/stream_audio", strings.NewReader(`{"text":"hi"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://reader.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "mp3 bytes", string(body))
	assert.Equal(t, "https://reader.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRouter_Preflight(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/stream_audio", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, X-Custom")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.True(t, resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, int32(0), calls.Load())
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `test_http_requests_total{method="GET",path="/health",status="200"} 1`)
}

func TestRouter_UnknownMethod(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	resp, err := http.Get(srv.URL + "/stream_audio")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, int32(0), calls.Load())
}

func TestCORSOptions(t *testing.T) {
	opts := corsOptions(config.Default().CORS)
	assert.Nil(t, opts.AllowedOrigins)
	require.NotNil(t, opts.AllowOriginFunc)
	assert.True(t, opts.AllowOriginFunc(httptest.NewRequest(http.MethodGet, "/", nil), "https://any.example"))

	opts = corsOptions(config.CORSConfig{AllowedOrigins: []string{"https://reader.example.com"}, AllowCredentials: true})
	assert.Equal(t, []string{"https://reader.example.com"}, opts.AllowedOrigins)
	assert.Nil(t, opts.AllowOriginFunc)
}
