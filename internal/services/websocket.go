package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"coastal-alert-service/internal/logging"
	"coastal-alert-service/internal/models"
)

const writeWait = 5 * time.Second

// WebSocketManager fans newly created alerts out to connected dashboards.
type WebSocketManager struct {
	connections    map[*websocket.Conn]bool
	mutex          sync.Mutex
	maxConnections int
	logger         *logging.Logger
}

type feedEvent struct {
	Kind  string       `json:"kind"`
	Alert models.Alert `json:"alert"`
}

func NewWebSocketManager(maxConnections int, logger *logging.Logger) *WebSocketManager {
	return &WebSocketManager{
		connections:    make(map[*websocket.Conn]bool),
		maxConnections: maxConnections,
		logger:         logger,
	}
}

// AddConnection registers conn. It returns false when the connection limit is reached.
func (m *WebSocketManager) AddConnection(conn *websocket.Conn) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.maxConnections > 0 && len(m.connections) >= m.maxConnections {
		m.logger.Warnf("Max websocket connections reached (%d)", m.maxConnections)
		return false
	}
	m.connections[conn] = true
	m.logger.Infof("Added WebSocket connection (total: %d)", len(m.connections))
	return true
}

func (m *WebSocketManager) RemoveConnection(conn *websocket.Conn) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.connections[conn]; ok {
		delete(m.connections, conn)
		m.logger.Infof("Removed WebSocket connection (remaining: %d)", len(m.connections))
	}
}

func (m *WebSocketManager) Count() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.connections)
}

func (m *WebSocketManager) BroadcastAlert(alert models.Alert) {
	message, err := json.Marshal(feedEvent{Kind: "alert.created", Alert: alert})
	if err != nil {
		m.logger.Errorf("Failed to encode alert %d for websocket feed: %v", alert.ID, err)
		return
	}
	m.Broadcast(message)
}

// Broadcast writes message to every connection, dropping the ones that fail.
func (m *WebSocketManager) Broadcast(message []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for conn := range m.connections {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			m.logger.Errorf("Failed to send WebSocket message: %v", err)
			delete(m.connections, conn)
			_ = conn.Close()
		}
	}
}

// CloseAll sends a close frame to every client and forgets them.
func (m *WebSocketManager) CloseAll() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for conn := range m.connections {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		delete(m.connections, conn)
	}
}
