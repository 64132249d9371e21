package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"playai-relay-backend/metrics"
	"playai-relay-backend/models"
)

// DefaultChunkSize is the largest chunk read from the upstream at once
const DefaultChunkSize = 4096

// Synthesizer starts an upstream synthesis and returns the audio body.
// *playht.Client implements it.
type Synthesizer interface {
	Stream(ctx context.Context, s models.Synthesis) (io.ReadCloser, error)
}

// Sink receives relayed audio chunks in order. WriteChunk must not keep
// p after it returns.
type Sink interface {
	WriteChunk(p []byte) error
}

// RelayStats describes what a relay forwarded
type RelayStats struct {
	Bytes  int64
	Chunks int
}

// SinkError marks a failure writing to the caller, as opposed to reading
// from the upstream.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("write audio chunk: %v", e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// Relay copies src to dst one chunk at a time. A chunk is read only after
// the previous one was written, so a slow caller slows the upstream read
// instead of growing a buffer. Empty reads are skipped.
func Relay(ctx context.Context, src io.Reader, dst Sink, chunkSize int, m *metrics.Collector) (RelayStats, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)

	var stats RelayStats
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if err := dst.WriteChunk(buf[:n]); err != nil {
				return stats, &SinkError{Err: err}
			}
			stats.Bytes += int64(n)
			stats.Chunks++
			m.RecordChunk(n)
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return stats, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stats, ctxErr
			}
			return stats, fmt.Errorf("read upstream audio: %w", readErr)
		}
	}
}

// httpSink writes chunks to a response and flushes each one so playback
// can start before synthesis ends.
type httpSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newHTTPSink(w http.ResponseWriter) *httpSink {
	f, _ := w.(http.Flusher)
	return &httpSink{w: w, flusher: f}
}

func (s *httpSink) WriteChunk(p []byte) error {
	if _, err := s.w.Write(p); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
