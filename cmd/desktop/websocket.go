// WebSocket fan-out of the diagnostics stream (desktop only).
package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/minaksy/photonest/internal/logging"
	"github.com/minaksy/photonest/internal/models"
	"github.com/minaksy/photonest/internal/uuid"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local UI shell only.
		host := r.Host
		return host == "localhost" || host == "127.0.0.1" ||
			strings.HasPrefix(host, "localhost:") || strings.HasPrefix(host, "127.0.0.1:")
	},
}

// wsEnvelope wraps every message pushed to the UI.
type wsEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// wsClient is one connected UI shell.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// wsHub maintains client connections and broadcasts diagnostics events.
type wsHub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[string]*wsClient)}
}

// BroadcastEvent pushes one diagnostics event to every client. Slow
// clients are dropped rather than blocking the stream.
func (h *wsHub) BroadcastEvent(event models.DiagnosticEvent) {
	envelope := wsEnvelope{
		Type:      "diagnostics." + string(event.Kind),
		Data:      event.Payload,
		Timestamp: event.Timestamp,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		logging.Warn("Failed to marshal websocket message",
			map[string]interface{}{"error": err.Error()})
		return
	}

	h.mu.Lock()
	for id, client := range h.clients {
		select {
		case client.send <- data:
		default:
			delete(h.clients, id)
			close(client.send)
		}
	}
	h.mu.Unlock()
}

// ServeWS upgrades GET /ws connections.
func (h *wsHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed",
			map[string]interface{}{"error": err.Error()})
		return
	}

	client := &wsClient{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 64),
	}

	h.mu.Lock()
	h.clients[client.id] = client
	total := len(h.clients)
	h.mu.Unlock()

	logging.Info("Diagnostics client connected",
		map[string]interface{}{"client_id": client.id, "total": total})

	go h.writePump(client)
	go h.readPump(client)
}

func (h *wsHub) writePump(client *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the socket is push-only. It exists
// to notice disconnects.
func (h *wsHub) readPump(client *wsClient) {
	defer h.remove(client)
	client.conn.SetReadLimit(512)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *wsHub) remove(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	client.conn.Close()

	logging.Info("Diagnostics client disconnected",
		map[string]interface{}{"client_id": client.id, "total": total})
}
