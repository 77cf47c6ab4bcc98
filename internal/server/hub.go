package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roach88/runwatch/internal/engine"
	"github.com/roach88/runwatch/internal/format"
)

const (
	sendBuffer      = 256
	broadcastBuffer = 1024
)

// Connection is one websocket subscriber.
type Connection struct {
	ID string

	// Repo restricts delivery to one repository. Empty means all.
	Repo string

	Conn *websocket.Conn
	Send chan []byte
	mu   sync.Mutex
}

// WriteMessage writes to the socket. Writes are serialized.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// Close closes the socket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

type broadcast struct {
	repo string
	data []byte
}

// Hub fans emitted events out to websocket subscribers. It implements
// engine.Sink so it can sit next to the terminal printer.
//
// Delivery is best effort: a full broadcast queue drops the event and a
// subscriber whose buffer fills is disconnected.
type Hub struct {
	connections map[string]*Connection

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan broadcast
	done       chan struct{}

	mu     sync.RWMutex
	logger *slog.Logger
}

var _ engine.Sink = (*Hub)(nil)

// NewHub creates a hub. Call Run before serving connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan broadcast, broadcastBuffer),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// closes every subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for id, conn := range h.connections {
			close(conn.Send)
			delete(h.connections, id)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			h.logger.Debug("subscriber connected", "conn", conn.ID, "repo", conn.Repo)

		case conn := <-h.unregister:
			h.remove(conn)

		case msg := <-h.broadcast:
			var slow []*Connection
			h.mu.RLock()
			for _, conn := range h.connections {
				if conn.Repo != "" && conn.Repo != msg.repo {
					continue
				}
				select {
				case conn.Send <- msg.data:
				default:
					slow = append(slow, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range slow {
				h.logger.Warn("subscriber buffer full, disconnecting", "conn", conn.ID)
				h.remove(conn)
			}
		}
	}
}

func (h *Hub) remove(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.ID]; ok {
		delete(h.connections, conn.ID)
		close(conn.Send)
		h.logger.Debug("subscriber disconnected", "conn", conn.ID)
	}
}

// NewConnection wraps ws. repo filters delivery; empty means all.
func (h *Hub) NewConnection(ws *websocket.Conn, repo string) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Repo: repo,
		Conn: ws,
		Send: make(chan []byte, sendBuffer),
	}
}

// Register adds conn. It returns false once the hub has stopped.
func (h *Hub) Register(conn *Connection) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes conn and closes its Send channel.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Emit queues e for every matching subscriber without blocking.
func (h *Hub) Emit(_ context.Context, e engine.Emitted) error {
	data, err := format.JSON(e)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- broadcast{repo: e.Repo.String(), data: data}:
	default:
		h.logger.Warn("broadcast queue full, dropping event",
			"repo", e.Repo.String(), "kind", string(e.Event.Kind()))
	}
	return nil
}

// ConnectionCount returns the number of live subscribers.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// readPump discards client messages and keeps the read deadline alive.
// It unregisters conn when the client goes away.
func (h *Hub) readPump(conn *Connection) {
	defer func() {
		h.Unregister(conn)
		conn.Close()
	}()

	conn.Conn.SetReadLimit(maxMessageSize)
	_ = conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read failed", "conn", conn.ID, "error", err)
			}
			return
		}
	}
}

// writePump delivers queued events and pings.
func (h *Hub) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("websocket write failed", "conn", conn.ID, "error", err)
				return
			}

		case <-ticker.C:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
