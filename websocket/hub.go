package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"playai-relay-backend/handlers"
	"playai-relay-backend/metrics"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound control messages, including the text
	// to synthesize.
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: handlers.DefaultChunkSize,
	CheckOrigin: func(r *http.Request) bool {
		return true // same policy as the CORS middleware: any origin
	},
}

// Hub tracks connected sessions and owns the synthesizer they share
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	synth     handlers.Synthesizer
	logger    *zap.Logger
	metrics   *metrics.Collector
	chunkSize int

	mu sync.RWMutex
}

// NewHub creates a Hub streaming audio from synth. m may be nil.
func NewHub(synth handlers.Synthesizer, logger *zap.Logger, m *metrics.Collector, chunkSize int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		synth:      synth,
		logger:     logger.With(zap.String("component", "websocket")),
		metrics:    m,
		chunkSize:  chunkSize,
	}
}

// Run processes registrations until ctx is done, then disconnects every
// remaining client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.stop()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.metrics.SetWebSocketSessions(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetWebSocketSessions(n)
			h.logger.Debug("Client connected", zap.String("session_id", client.id), zap.Int("total", n))

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client)
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetWebSocketSessions(n)
			h.logger.Debug("Client disconnected", zap.String("session_id", client.id), zap.Int("total", n))
		}
	}
}

// Count returns the number of connected sessions
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the connection and starts the session pumps
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, `{"error": "shutting down"}`, http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Upgrade failed", zap.Error(err))
		return
	}

	// Detached from r: the request context ends when this handler returns.
	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan outbound, sendBuffer),
		ctx:  ctx,
		stop: cancel,
	}
	client.logger = h.logger.With(zap.String("session_id", client.id))

	select {
	case h.register <- client:
	case <-h.done:
		cancel()
		conn.Close()
		return
	}

	client.sendJSON(ServerMessage{Type: TypeConnected, SessionID: client.id})

	go client.writePump()
	go client.readPump()
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Only ServerMessage is encoded here; it always marshals.
		panic(err)
	}
	return data
}
