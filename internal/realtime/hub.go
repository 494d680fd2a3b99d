// Package realtime pushes newly stored in-app alert messages to the websocket
// connections of their recipients.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
)

type Event struct {
	Type    string        `json:"type"`
	Message model.Message `json:"message"`
	At      time.Time     `json:"at"`
}

type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	users map[string]map[*client]struct{}
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Authentication happens at the platform gateway.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		users: map[string]map[*client]struct{}{},
	}
}

// ServeHTTP upgrades a connection for the user named by ?user_id=.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{userID: userID, conn: conn, send: make(chan []byte, 16)}
	h.addClient(c)
	slog.Debug("message stream opened", "user_id", userID)

	go h.writePump(c)
	h.readPump(c)
}

// PublishMessages delivers each message to the connections of its user.
func (h *Hub) PublishMessages(msgs []model.Message) {
	now := time.Now().UTC()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range msgs {
		clients := h.users[m.UserID]
		if len(clients) == 0 {
			continue
		}
		b, err := json.Marshal(Event{Type: "message", Message: m, At: now})
		if err != nil {
			slog.Warn("encode message event failed", "message_id", m.ID, "error", err)
			continue
		}
		for c := range clients {
			select {
			case c.send <- b:
			default:
				slog.Warn("dropping slow message stream", "user_id", c.userID)
				h.dropLocked(c)
			}
		}
	}
}

// Clients reports the number of open connections for userID.
func (h *Hub) Clients(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.users[userID])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.users {
		for c := range clients {
			h.dropLocked(c)
		}
	}
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[c.userID] == nil {
		h.users[c.userID] = map[*client]struct{}{}
	}
	h.users[c.userID][c] = struct{}{}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	clients, ok := h.users[c.userID]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.users, c.userID)
	}
	close(c.send)
	_ = c.conn.Close()
}

func (h *Hub) readPump(c *client) {
	defer h.removeClient(c)
	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
