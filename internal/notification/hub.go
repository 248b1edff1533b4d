package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 32
)

// Event is the message pushed to WebSocket clients
type Event struct {
	Type       string          `json:"type"`
	Topic      string          `json:"topic"`
	ResourceID string          `json:"resourceId,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Conn abstracts a WebSocket connection for testability
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one connected WebSocket
type Client struct {
	ID     string
	UserID string
	Send   chan []byte
	conn   Conn
}

// Hub tracks connected clients per user and pushes alerts to them
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{} // user id -> clients
	upgrader websocket.Upgrader
	logger   *zap.Logger
	now      func() time.Time
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithAllowedOrigins limits which browser origins may open a socket.
// "*" allows any origin. An empty list keeps the same-host check.
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) {
		if len(origins) == 0 {
			return
		}
		h.upgrader.CheckOrigin = originChecker(origins)
	}
}

// NewHub creates a new Hub. Without options only same-host origins may connect.
func NewHub(logger *zap.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		clients: make(map[string]map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// non-browser clients do not send one
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}

// UserTopic is the topic a user's alerts are published on
func UserTopic(userID string) string {
	return "user:" + userID
}

// Register adds a client
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.UserID] == nil {
		h.clients[client.UserID] = make(map[*Client]struct{})
	}
	h.clients[client.UserID][client] = struct{}{}
}

// Unregister removes a client and closes its send channel
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subscribers, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	if _, ok := subscribers[client]; !ok {
		return
	}
	delete(subscribers, client)
	if len(subscribers) == 0 {
		delete(h.clients, client.UserID)
	}
	close(client.Send)
}

// ClientCount returns the number of connections for a user
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Send pushes the alert to every connection of userID. It delivers if at least one client accepted it.
func (h *Hub) Send(ctx context.Context, userID string, alert *model.Alert) (bool, error) {
	payload, err := json.Marshal(alert)
	if err != nil {
		return false, fmt.Errorf("failed to encode alert: %w", err)
	}
	data, err := json.Marshal(Event{
		Type:       "alert.created",
		Topic:      UserTopic(userID),
		ResourceID: alert.ID,
		Timestamp:  h.now(),
		Data:       payload,
	})
	if err != nil {
		return false, fmt.Errorf("failed to encode event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := false
	for client := range h.clients[userID] {
		select {
		case client.Send <- data:
			delivered = true
		default:
			h.logger.Warn("websocket client buffer full, skipping",
				zap.String("client_id", client.ID),
				zap.String("user_id", userID),
			)
		}
	}
	return delivered, nil
}

// ServeWS upgrades the request and streams userID's alerts until the client disconnects
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade websocket: %w", err)
	}

	ws.SetReadLimit(512)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	client := &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Send:   make(chan []byte, clientSendSize),
		conn:   ws,
	}
	h.Register(client)
	h.logger.Info("websocket client connected",
		zap.String("client_id", client.ID),
		zap.String("user_id", userID),
	)

	go h.writePump(client, ws)
	h.readPump(client)
	return nil
}

// readPump drains inbound frames so control messages are processed
func (h *Hub) readPump(client *Client) {
	defer func() {
		h.Unregister(client)
		client.conn.Close()
		h.logger.Info("websocket client disconnected",
			zap.String("client_id", client.ID),
			zap.String("user_id", client.UserID),
		)
	}()

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *Client, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
