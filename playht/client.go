// Package playht is a minimal streaming client for the Play.ht
// text-to-speech API.
package playht

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"playai-relay-backend/auth"
	"playai-relay-backend/metrics"
	"playai-relay-backend/models"
)

const (
	DefaultEndpoint = "https://api.play.ai/api/v1/tts/stream"

	// maxErrorBody bounds how much of a failed response is kept for the
	// error message.
	maxErrorBody = 64 << 10
)

// StatusError is returned when the upstream answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status code %d: %s", e.StatusCode, e.Body)
}

// TransportError wraps a network-level failure talking to the upstream
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client streams synthesized audio from the upstream. It holds no per-call
// state and is safe for concurrent use.
type Client struct {
	endpoint   string
	creds      auth.Credentials
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// Option configures a Client
type Option func(*Client)

// WithEndpoint overrides the streaming synthesis URL
func WithEndpoint(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.endpoint = url
		}
	}
}

// WithHTTPClient sets the HTTP client used for upstream calls. It must not
// set an overall Timeout, which would cut long streams short.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithResponseHeaderTimeout bounds the wait for upstream response headers
// without limiting how long the audio body may stream.
func WithResponseHeaderTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			return
		}
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = d
		c.httpClient = &http.Client{Transport: t}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient returns a client authenticated with creds. Invalid credentials
// are rejected here so no unauthenticated call is ever made.
func NewClient(creds auth.Credentials, opts ...Option) (*Client, error) {
	if !creds.Valid() {
		return nil, errors.Join(auth.ErrMissingAPIKey, auth.ErrMissingUserID)
	}
	c := &Client{
		endpoint:   DefaultEndpoint,
		creds:      creds,
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "playht"))
	return c, nil
}

// Stream issues one synthesis request and returns the audio body unread.
// The caller must close it. Cancelling ctx aborts both the request and
// any read of the body.
func (c *Client) Stream(ctx context.Context, s models.Synthesis) (io.ReadCloser, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	c.creds.Apply(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.metrics.RecordUpstream(metrics.OutcomeCanceled, time.Since(start))
			return nil, fmt.Errorf("synthesis request: %w", ctxErr)
		}
		c.metrics.RecordUpstream(metrics.OutcomeTransport, time.Since(start))
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.metrics.RecordUpstream(metrics.OutcomeStatus, time.Since(start))
		serr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		c.logger.Warn("Upstream synthesis failed",
			zap.Int("status", resp.StatusCode),
			zap.String("body", serr.Body),
		)
		return nil, serr
	}

	c.metrics.RecordUpstream(metrics.OutcomeOK, time.Since(start))
	return resp.Body, nil
}
