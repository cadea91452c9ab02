// Package events pushes sync lifecycle notifications to the inspector UI
// over WebSocket, so the checklist can show live drain progress and the
// pending/failed badge without polling.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/propcare/inspector/internal/logging"
	"github.com/propcare/inspector/internal/models"
	syncengine "github.com/propcare/inspector/internal/sync"
	"github.com/propcare/inspector/internal/sync/queue"
	"github.com/propcare/inspector/internal/uuid"
)

const (
	EventSyncStarted   = "sync.started"
	EventSyncProgress  = "sync.progress"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
	EventQueueChanged  = "queue.changed"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	clientSendSlot = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The daemon serves a device-local UI only.
		return true
	},
}

// envelope wraps every message pushed to clients.
type envelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans out events to every connected UI client. It satisfies the sync
// engine's Broadcaster.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*client
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewHub creates a Hub and starts its dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[string]*client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		stopCh:     make(chan struct{}),
	}
	go h.run()
	return h
}

// Close shuts the dispatch loop down and disconnects every client.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

func (h *Hub) run() {
	for {
		select {
		case <-h.stopCh:
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("UI client connected", map[string]interface{}{
				"client_id": c.id,
				"total":     total,
			})

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Drop clients that stopped draining their buffer.
					close(c.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish sends one event to every connected client.
func (h *Hub) Publish(eventType string, data map[string]interface{}) {
	bytes, err := json.Marshal(envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		logging.Error("Failed to marshal event", err, map[string]interface{}{
			"event": eventType,
		})
		return
	}

	select {
	case h.broadcast <- bytes:
	case <-h.stopCh:
	}
}

// SyncStarted implements the engine's Broadcaster.
func (h *Hub) SyncStarted(inspectionID models.UUID, pending int) {
	h.Publish(EventSyncStarted, map[string]interface{}{
		"inspection_id": inspectionID.String(),
		"pending":       pending,
	})
}

// SyncProgress implements the engine's Broadcaster.
func (h *Hub) SyncProgress(inspectionID models.UUID, done, total int, currentItem string) {
	percent := 0
	if total > 0 {
		percent = done * 100 / total
	}
	h.Publish(EventSyncProgress, map[string]interface{}{
		"inspection_id": inspectionID.String(),
		"done":          done,
		"total":         total,
		"percent":       percent,
		"current_item":  currentItem,
	})
}

// SyncCompleted implements the engine's Broadcaster.
func (h *Hub) SyncCompleted(inspectionID models.UUID, result *syncengine.SyncResult) {
	h.Publish(EventSyncCompleted, map[string]interface{}{
		"inspection_id":   inspectionID.String(),
		"findings_synced": result.FindingsSynced,
		"photos_uploaded": result.PhotosUploaded,
		"errors":          result.Errors,
		"duration_ms":     result.Duration.Milliseconds(),
	})
}

// SyncFailed implements the engine's Broadcaster.
func (h *Hub) SyncFailed(inspectionID models.UUID, err error) {
	h.Publish(EventSyncFailed, map[string]interface{}{
		"inspection_id": inspectionID.String(),
		"error":         err.Error(),
	})
}

// QueueChanged pushes fresh per-inspection queue counts after an enqueue
// or delete, for the pending/failed badge.
func (h *Hub) QueueChanged(inspectionID models.UUID, stats queue.Stats) {
	h.Publish(EventQueueChanged, map[string]interface{}{
		"inspection_id": inspectionID.String(),
		"pending":       stats.Pending,
		"syncing":       stats.Syncing,
		"failed":        stats.Failed,
		"synced":        stats.Synced,
	})
}

// Handler upgrades an HTTP request to a WebSocket subscription.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("WebSocket upgrade failed", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}

		c := &client{
			id:   uuid.New(),
			conn: conn,
			send: make(chan []byte, clientSendSlot),
			hub:  h,
		}
		h.register <- c

		go c.writePump()
		go c.readPump()
	}
}

// readPump discards client messages and keeps the read deadline fresh.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("WebSocket read ended", map[string]interface{}{
					"client_id": c.id,
					"error":     err.Error(),
				})
			}
			return
		}
	}
}

// writePump forwards hub messages and pings to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
