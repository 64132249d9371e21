package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"playai-relay-backend/handlers"
	"playai-relay-backend/models"
)

// Message types
const (
	TypeSynthesize = "synthesize"
	TypeCancel     = "cancel"
	TypePing       = "ping"

	TypeConnected = "connected"
	TypeStarted   = "started"
	TypeDone      = "done"
	TypeError     = "error"
	TypePong      = "pong"
)

// statusCanceled is reported when the client cancels a running synthesis
const statusCanceled = 499

// IncomingMessage is a client control message. For "synthesize" it
// carries the same fields as the POST /stream_audio body.
type IncomingMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	models.SynthesisRequest
}

// ServerMessage is a JSON control message sent to the client. Audio
// itself travels in binary frames between "started" and "done".
type ServerMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Status    int    `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	Bytes     int64  `json:"bytes,omitempty"`
	Chunks    int    `json:"chunks,omitempty"`
}

type outbound struct {
	kind int
	data []byte
}

// Client is one WebSocket session. It runs at most one synthesis at a
// time.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan outbound
	logger *zap.Logger

	// ctx lives as long as the connection
	ctx  context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	cancel context.CancelFunc // current synthesis, nil when idle
}

func (c *Client) readPump() {
	defer func() {
		c.stop()
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Read error", zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			c.sendError("", http.StatusBadRequest, errors.New("expected a JSON text message"))
			continue
		}

		var msg IncomingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("", http.StatusBadRequest, &models.DecodeError{Err: err})
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
				c.logger.Debug("Write error", zap.Error(err))
				c.stop()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg IncomingMessage) {
	switch msg.Type {
	case TypeSynthesize:
		c.startSynthesis(msg)

	case TypeCancel:
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()

	case TypePing:
		c.sendJSON(ServerMessage{Type: TypePong})

	default:
		c.logger.Debug("Unknown message type", zap.String("type", msg.Type))
		c.sendError(msg.ID, http.StatusBadRequest, errors.New("unknown message type "+msg.Type))
	}
}

func (c *Client) startSynthesis(msg IncomingMessage) {
	synthesis, err := msg.SynthesisRequest.Normalize()
	if err != nil {
		c.sendError(msg.ID, handlers.StatusFor(err), err)
		return
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		c.sendError(msg.ID, http.StatusConflict, errors.New("a synthesis is already running on this connection"))
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		final := c.synthesize(ctx, msg.ID, synthesis)
		cancel()
		// Clear the slot before reporting so the client may start the
		// next synthesis as soon as it sees the final message.
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		c.sendJSON(final)
	}()
}

// synthesize runs one upstream call, streams it as binary frames and
// returns the message that ends the exchange.
func (c *Client) synthesize(ctx context.Context, id string, s models.Synthesis) ServerMessage {
	h := c.hub
	logger := c.logger.With(zap.String("id", id))
	handlers.LogSynthesis(logger, s)

	body, err := h.synth.Stream(ctx, s)
	if err != nil {
		if ctx.Err() != nil {
			return errorMessage(id, statusCanceled, errors.New("canceled"))
		}
		return errorMessage(id, handlers.StatusFor(err), err)
	}
	defer body.Close()

	done := h.metrics.StreamStarted()
	defer done()

	c.sendJSON(ServerMessage{Type: TypeStarted, ID: id})
	stats, err := handlers.Relay(ctx, body, &wsSink{client: c, ctx: ctx}, h.chunkSize, h.metrics)
	switch {
	case err == nil:
		return ServerMessage{Type: TypeDone, ID: id, Bytes: stats.Bytes, Chunks: stats.Chunks}
	case ctx.Err() != nil:
		logger.Info("Synthesis canceled", zap.Int64("bytes", stats.Bytes))
		return errorMessage(id, statusCanceled, errors.New("canceled"))
	default:
		logger.Error("Upstream stream failed mid-relay", zap.Int64("bytes", stats.Bytes), zap.Error(err))
		return errorMessage(id, http.StatusBadGateway, err)
	}
}

func errorMessage(id string, status int, err error) ServerMessage {
	return ServerMessage{Type: TypeError, ID: id, Status: status, Error: err.Error()}
}

func (c *Client) sendJSON(msg ServerMessage) {
	c.enqueue(c.ctx, outbound{kind: websocket.TextMessage, data: encode(msg)})
}

func (c *Client) sendError(id string, status int, err error) {
	c.sendJSON(errorMessage(id, status, err))
}

// enqueue blocks while the send buffer is full, which is what slows the
// upstream read down for slow clients.
func (c *Client) enqueue(ctx context.Context, msg outbound) error {
	select {
	case c.send <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wsSink sends each audio chunk as one binary frame
type wsSink struct {
	client *Client
	ctx    context.Context
}

func (s *wsSink) WriteChunk(p []byte) error {
	data := make([]byte, len(p))
	copy(data, p)
	return s.client.enqueue(s.ctx, outbound{kind: websocket.BinaryMessage, data: data})
}
