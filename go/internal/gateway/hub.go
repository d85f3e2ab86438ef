package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classcast/go/internal/session"
	"github.com/mcdev12/classcast/go/internal/student"
)

// Hub fans UI events out to every connected websocket client. It implements
// student.Navigator.
type Hub struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan *UIEvent
}

var _ student.Navigator = (*Hub)(nil)

// Connection is one UI client.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	hub  *Hub

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// The UI is served from the device itself or a local dev server.
			return true
		},
	}
}

func NewHub(config ConnectionConfig) *Hub {
	return &Hub{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan *UIEvent, 256),
	}
}

// Start processes broadcasts until ctx is done.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("ui hub started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			log.Info().Msg("ui hub shutting down")
			return
		case ev := <-h.broadcastCh:
			h.handleBroadcast(ev)
		}
	}
}

// Navigate implements student.Navigator.
func (h *Hub) Navigate(screen session.Screen, snap student.Snapshot) {
	h.Broadcast(NavigateEvent(screen, snap))
}

// Notice implements student.Navigator.
func (h *Hub) Notice(text string, snap student.Snapshot) {
	h.Broadcast(NoticeEvent(text, snap))
}

// Broadcast queues ev for every client without blocking the caller.
func (h *Hub) Broadcast(ev *UIEvent) {
	select {
	case h.broadcastCh <- ev:
	default:
		log.Warn().Str("event_type", string(ev.Type)).Msg("broadcast channel full, dropping ui event")
	}
}

// Upgrade turns r into a websocket client and sends it initial first.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, initial *UIEvent) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 64),
		hub:         h,
		ConnectedAt: time.Now(),
	}
	if initial != nil {
		if data, err := json.Marshal(initial); err == nil {
			c.Send <- data
		}
	}
	h.register(c)

	go c.writePump()
	go c.readPump()

	log.Info().Str("connection_id", c.ID).Msg("ui client connected")
	return nil
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = true
}

func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[c]; ok {
		delete(h.connections, c)
		close(c.Send)
		log.Info().Str("connection_id", c.ID).Msg("ui client disconnected")
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	var all []*Connection
	for c := range h.connections {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.unregister(c)
	}
}

func (h *Hub) handleBroadcast(ev *UIEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal ui event")
		return
	}

	// Sends happen under the read lock so unregister cannot close a channel
	// mid-send; they never block.
	var slow []*Connection
	h.mu.RLock()
	delivered := len(h.connections)
	for c := range h.connections {
		select {
		case c.Send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Str("connection_id", c.ID).Msg("ui client send buffer full, closing connection")
		h.unregister(c)
		c.Conn.Close()
	}

	log.Debug().
		Str("event_type", string(ev.Type)).
		Int("connections", delivered-len(slow)).
		Msg("ui event broadcasted")
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write ui event")
				c.hub.unregister(c)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}
		}
	}
}

// readPump only keeps the connection alive; UI actions go through the HTTP API.
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}
