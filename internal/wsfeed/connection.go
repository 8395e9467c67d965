package wsfeed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mohamedkhairy/session-levels/pkg/logger"
)

// ClientMessage is a message sent by the client over the socket
type ClientMessage struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	Symbol string `json:"symbol"`
}

// Connection represents a WebSocket connection with a client
type Connection struct {
	ID            string
	UserID        string
	Conn          *websocket.Conn
	Send          chan []byte
	subscriptions map[string]bool // symbol -> subscribed
	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	lastPong      time.Time
	closeOnce     sync.Once
}

// NewConnection creates a new WebSocket connection
func NewConnection(id string, userID string, conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:            id,
		UserID:        userID,
		Conn:          conn,
		Send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
		lastPong:      time.Now(),
	}
}

// Subscribe subscribes to level updates for a symbol
func (c *Connection) Subscribe(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[symbol] = true
}

// Unsubscribe unsubscribes from level updates for a symbol
func (c *Connection) Unsubscribe(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, symbol)
}

// ShouldReceive reports whether the connection wants updates for a symbol.
// Connections with no subscriptions receive everything.
func (c *Connection) ShouldReceive(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[symbol]
}

// UpdateLastPong updates the last pong time
func (c *Connection) UpdateLastPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPong = time.Now()
}

// GetLastPong returns the last pong time
func (c *Connection) GetLastPong() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPong
}

// Close closes the connection. The Send channel is never closed so a
// concurrent broadcast cannot panic on it; senders observe ctx instead.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.Conn.Close()
	})
}

// SendMessage queues a raw message, dropping it if the channel stays full
func (c *Connection) SendMessage(data []byte) error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}

	select {
	case c.Send <- data:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	case <-time.After(1 * time.Second):
		logger.Warn("Failed to send message, channel full",
			logger.String("connection_id", c.ID),
			logger.String("user_id", c.UserID),
		)
		return nil
	}
}

// SendError sends an error message to the connection
func (c *Connection) SendError(code string, message string) error {
	errorMsg := map[string]interface{}{
		"type":    "error",
		"code":    code,
		"message": message,
	}

	data, err := json.Marshal(errorMsg)
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		// Drop error message if channel is full
		return nil
	}
}
