// Package ws pushes queue activity to connected display clients.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spotiqueue/server/pkg/events"
)

const (
	sendBuffer = 16
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Message is what clients receive. Identity ids are not forwarded to displays.
type Message struct {
	Type      events.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
}

// Source delivers events published by any instance. *events.KafkaClient implements it.
type Source interface {
	ConsumeEvents(ctx context.Context, handler func(events.Event) error) error
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

var _ events.Publisher = (*Hub)(nil)

// NewHub accepts upgrades from the listed origins; an empty list accepts any origin.
func NewHub(allowedOrigins []string, log *zap.Logger) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
		log:     log,
		clients: make(map[string]*client),
	}
}

// Publish broadcasts locally. It is the publisher used when no broker is configured.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	h.Broadcast(ev)
	return nil
}

// Run relays every event from src until ctx is done.
func (h *Hub) Run(ctx context.Context, src Source) error {
	return src.ConsumeEvents(ctx, func(ev events.Event) error {
		h.Broadcast(ev)
		return nil
	})
}

func (h *Hub) Broadcast(ev events.Event) {
	data, err := json.Marshal(Message{Type: ev.Type, Timestamp: ev.Timestamp, Payload: ev.Payload})
	if err != nil {
		h.log.Error("failed to marshal broadcast", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("dropping message for slow client", zap.String("conn", id))
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	id := uuid.NewString()
	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.addConnection(id, cl)
	defer h.removeConnection(id)

	go h.writeLoop(cl)

	// Clients only listen; reading keeps pong handling and close detection alive.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket closed", zap.String("conn", id), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writeLoop(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) addConnection(id string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[id] = cl
}

func (h *Hub) removeConnection(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cl, ok := h.clients[id]; ok {
		close(cl.send)
		delete(h.clients, id)
	}
}
