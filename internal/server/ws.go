package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same-origin policy is enforced upstream; the hub only pushes.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub broadcasts job status updates to connected websocket clients.
type Hub struct {
	logger     *slog.Logger
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	quit       chan struct{}

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	started bool
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		quit:       make(chan struct{}),
		clients:    make(map[*websocket.Conn]bool),
	}
}

// Start launches the broadcast loop. Idempotent.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	go func() {
		for {
			select {
			case <-h.quit:
				h.mu.Lock()
				for conn := range h.clients {
					conn.Close()
					delete(h.clients, conn)
				}
				h.mu.Unlock()
				return
			case conn := <-h.register:
				h.mu.Lock()
				h.clients[conn] = true
				n := len(h.clients)
				h.mu.Unlock()
				h.logger.Info("websocket client connected", "clients", n)
			case conn := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[conn]; ok {
					delete(h.clients, conn)
					conn.Close()
				}
				h.mu.Unlock()
			case msg := <-h.broadcast:
				h.mu.Lock()
				for conn := range h.clients {
					if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						h.logger.Warn("dropping websocket client", "error", err)
						conn.Close()
						delete(h.clients, conn)
					}
				}
				h.mu.Unlock()
			}
		}
	}()
}

// Stop closes the broadcast loop and every connected client. Idempotent.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	h.mu.Unlock()
	close(h.quit)
}

// Serve upgrades the request and keeps the connection registered until the
// client goes away. Clients are read-drained only to detect closure.
func (h *Hub) Serve(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	select {
	case h.register <- conn:
	case <-h.quit:
		conn.Close()
		return nil
	}
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.quit:
				conn.Close()
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}

// BroadcastJobUpdate pushes one job status change to all clients.
func (h *Hub) BroadcastJobUpdate(jobID, status, errMsg string) {
	update := map[string]any{
		"type":      "job_update",
		"job_id":    jobID,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}
	if errMsg != "" {
		update["error"] = errMsg
	}
	data, err := json.Marshal(update)
	if err != nil {
		h.logger.Warn("failed to marshal job update", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Slow consumers must not block job completion.
	}
}
