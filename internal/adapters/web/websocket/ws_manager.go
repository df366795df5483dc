package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lcalzada-xor/cvemap/internal/core/ports"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// Allow same-origin (no Origin header)
		if origin == "" {
			return true
		}

		allowedOrigins := []string{
			"http://localhost:8080",
			"http://127.0.0.1:8080",
			"http://[::1]:8080",
		}
		for _, allowed := range allowedOrigins {
			if origin == allowed {
				return true
			}
		}

		log.Printf("WebSocket: Rejected origin: %s", origin)
		return false
	},
}

// WSMessage is the envelope for every broadcast frame.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WSManager pushes discovery progress events to connected clients. It
// implements ports.ProgressNotifier so the orchestrator stays unaware of
// transport details.
type WSManager struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func NewWSManager() *WSManager {
	return &WSManager{clients: make(map[*websocket.Conn]bool)}
}

// HandleWebSocket upgrades the connection and registers the client.
func (m *WSManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	m.mu.Lock()
	m.clients[conn] = true
	m.mu.Unlock()

	// Clean up on disconnect
	go func() {
		defer conn.Close()
		defer func() {
			m.mu.Lock()
			delete(m.clients, conn)
			m.mu.Unlock()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// SourceStarted broadcasts the start of one source's discovery.
func (m *WSManager) SourceStarted(runID, source string) {
	m.broadcastMessage(WSMessage{
		Type: "discovery:source_started",
		Payload: map[string]string{
			"run_id": runID,
			"source": source,
		},
	})
}

// SourceFinished broadcasts the outcome of one source's discovery.
func (m *WSManager) SourceFinished(runID, source string, records int, err error) {
	payload := map[string]interface{}{
		"run_id":  runID,
		"source":  source,
		"records": records,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	m.broadcastMessage(WSMessage{Type: "discovery:source_finished", Payload: payload})
}

// BroadcastLog sends a log line to all connected clients.
func (m *WSManager) BroadcastLog(message string, level string) {
	m.broadcastMessage(WSMessage{
		Type: "log",
		Payload: map[string]string{
			"message": message,
			"level":   level,
		},
	})
}

func (m *WSManager) broadcastMessage(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Println("JSON marshal error:", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(m.clients, conn)
		}
	}
}

var _ ports.ProgressNotifier = (*WSManager)(nil)
