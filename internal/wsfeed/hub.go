package wsfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mohamedkhairy/session-levels/internal/api"
	"github.com/mohamedkhairy/session-levels/internal/storage"
	"github.com/mohamedkhairy/session-levels/pkg/logger"
)

// HubConfig holds configuration for the WebSocket feed hub
type HubConfig struct {
	LiveChannel  string
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// DefaultHubConfig returns default hub configuration
func DefaultHubConfig(liveChannel string) HubConfig {
	return HubConfig{
		LiveChannel:  liveChannel,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}

// Hub subscribes to the live pub/sub channel and broadcasts snapshot and
// event updates to WebSocket clients
type Hub struct {
	config   HubConfig
	redis    storage.RedisClient
	auth     *api.AuthManager
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	connections map[string]*Connection
	running     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a new WebSocket feed hub
func NewHub(config HubConfig, redis storage.RedisClient, auth *api.AuthManager) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		config:      config,
		redis:       redis,
		auth:        auth,
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts consuming from the live channel
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	logger.Info("Starting WebSocket feed hub",
		logger.String("channel", h.config.LiveChannel),
	)

	h.wg.Add(1)
	go h.consumeLive()

	return nil
}

// Stop stops the hub and closes all connections
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	connections := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		connections = append(connections, conn)
	}
	h.mu.Unlock()

	logger.Info("Stopping WebSocket feed hub")
	h.cancel()
	for _, conn := range connections {
		conn.Close()
	}
	h.wg.Wait()
	logger.Info("WebSocket feed hub stopped")
}

// HandleWS upgrades an HTTP request to a WebSocket connection
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := "default"
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		token, err := h.auth.ExtractTokenFromHeader(authHeader)
		if err != nil {
			http.Error(w, "invalid authorization header", http.StatusUnauthorized)
			return
		}
		userID, err = h.auth.ValidateToken(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	} else if token := r.URL.Query().Get("token"); token != "" {
		// Browsers cannot set headers on WebSocket upgrades
		var err error
		userID, err = h.auth.ValidateToken(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Failed to upgrade connection", logger.ErrorField(err))
		return
	}

	conn := NewConnection(uuid.New().String(), userID, wsConn)
	h.register(conn)
}

func (h *Hub) register(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	count := len(h.connections)
	h.mu.Unlock()

	logger.Info("Connection registered",
		logger.String("connection_id", conn.ID),
		logger.String("user_id", conn.UserID),
		logger.Int("total_connections", count),
	)

	h.wg.Add(2)
	go h.writePump(conn)
	go h.readPump(conn)
}

func (h *Hub) unregister(conn *Connection) {
	h.mu.Lock()
	_, exists := h.connections[conn.ID]
	delete(h.connections, conn.ID)
	count := len(h.connections)
	h.mu.Unlock()

	if !exists {
		return
	}
	conn.Close()

	logger.Info("Connection unregistered",
		logger.String("connection_id", conn.ID),
		logger.Int("total_connections", count),
	)
}

// consumeLive subscribes to the live channel and broadcasts every message
func (h *Hub) consumeLive() {
	defer h.wg.Done()

	messageChan, err := h.redis.Subscribe(h.ctx, h.config.LiveChannel)
	if err != nil {
		logger.Error("Failed to subscribe to live channel",
			logger.ErrorField(err),
			logger.String("channel", h.config.LiveChannel),
		)
		return
	}

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg, ok := <-messageChan:
			if !ok {
				logger.Warn("Live channel closed")
				return
			}
			h.broadcast([]byte(msg.Message))
		}
	}
}

// broadcast sends a message to every connection subscribed to its symbol
func (h *Hub) broadcast(data []byte) {
	// Level updates carry the symbol at the top level
	var envelope struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		logger.Debug("Ignoring malformed live message", logger.ErrorField(err))
		return
	}

	h.mu.RLock()
	connections := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		connections = append(connections, conn)
	}
	h.mu.RUnlock()

	for _, conn := range connections {
		if conn.ShouldReceive(envelope.Symbol) {
			conn.SendMessage(data)
		}
	}
}

// writePump pumps queued messages out to the socket and keeps it alive
func (h *Hub) writePump(conn *Connection) {
	defer h.wg.Done()
	defer h.unregister(conn)

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-conn.ctx.Done():
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles subscribe/unsubscribe messages from the client
func (h *Hub) readPump(conn *Connection) {
	defer h.wg.Done()
	defer h.unregister(conn)

	conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.UpdateLastPong()
		conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket error",
					logger.ErrorField(err),
					logger.String("connection_id", conn.ID),
				)
			}
			break
		}

		var clientMsg ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			conn.SendError("invalid_message", "failed to parse message")
			continue
		}

		switch clientMsg.Action {
		case "subscribe":
			if clientMsg.Symbol != "" {
				conn.Subscribe(clientMsg.Symbol)
			}
		case "unsubscribe":
			if clientMsg.Symbol != "" {
				conn.Unsubscribe(clientMsg.Symbol)
			}
		default:
			conn.SendError("unknown_action", "action must be subscribe or unsubscribe")
		}
	}
}

// ConnectionCount returns the number of active connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
