package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"playai-relay-backend/metrics"
	"playai-relay-backend/models"
)

// StreamAudioHandler serves POST /stream_audio: it validates the request,
// calls the upstream once and relays the MP3 stream back unbuffered.
type StreamAudioHandler struct {
	synth     Synthesizer
	logger    *zap.Logger
	metrics   *metrics.Collector
	chunkSize int
}

// NewStreamAudioHandler returns a handler relaying audio from synth.
// chunkSize <= 0 uses DefaultChunkSize; m may be nil.
func NewStreamAudioHandler(synth Synthesizer, logger *zap.Logger, m *metrics.Collector, chunkSize int) *StreamAudioHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &StreamAudioHandler{
		synth:     synth,
		logger:    logger.With(zap.String("component", "stream_audio")),
		metrics:   m,
		chunkSize: chunkSize,
	}
}

// LogSynthesis logs the effective options before the upstream call
func LogSynthesis(logger *zap.Logger, s models.Synthesis) {
	fields := []zap.Field{
		zap.String("model", s.Model),
		zap.String("voice", s.Voice),
		zap.Float64("speed", s.Speed),
		zap.String("output_format", s.OutputFormat),
		zap.Int("text_length", len(s.Text)),
	}
	if s.Temperature != nil {
		fields = append(fields, zap.Float64("temperature", *s.Temperature))
	}
	logger.Info("Generating audio", fields...)
}

func (h *StreamAudioHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := models.DecodeSynthesisRequest(r.Body)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	synthesis, err := req.Normalize()
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	logger := h.logger
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		logger = logger.With(zap.String("request_id", reqID))
	}
	LogSynthesis(logger, synthesis)

	// The inbound context ends when the caller disconnects, which also
	// aborts the upstream request and any pending body read.
	ctx := r.Context()
	body, err := h.synth.Stream(ctx, synthesis)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("Caller went away before upstream answered")
			return
		}
		WriteError(w, err, logger)
		return
	}
	defer body.Close()

	done := h.metrics.StreamStarted()
	defer done()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	stats, err := Relay(ctx, body, newHTTPSink(w), h.chunkSize, h.metrics)
	fields := []zap.Field{zap.Int64("bytes", stats.Bytes), zap.Int("chunks", stats.Chunks)}
	var sinkErr *SinkError
	switch {
	case err == nil:
		logger.Info("Audio stream complete", fields...)
	case errors.Is(err, context.Canceled), errors.As(err, &sinkErr):
		logger.Info("Caller disconnected mid-stream", append(fields, zap.Error(err))...)
	default:
		// Status 200 is already on the wire. Aborting makes the caller see
		// a truncated response instead of a clean end of stream.
		logger.Error("Upstream stream failed mid-relay", append(fields, zap.Error(err))...)
		panic(http.ErrAbortHandler)
	}
}
