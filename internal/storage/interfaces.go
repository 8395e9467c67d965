package storage

import (
	"context"
	"time"

	"github.com/mohamedkhairy/session-levels/internal/models"
)

// EventStorage defines the interface for acceptance event storage operations
type EventStorage interface {
	// WriteEvent writes a single acceptance event to storage
	WriteEvent(ctx context.Context, event *models.AcceptanceEvent) error

	// WriteEvents writes multiple acceptance events to storage (batch operation)
	WriteEvents(ctx context.Context, events []*models.AcceptanceEvent) error

	// GetEvents retrieves acceptance events with filtering options
	GetEvents(ctx context.Context, filter EventFilter) ([]*models.AcceptanceEvent, error)

	// Close closes the storage connection
	Close() error
}

// EventFilter defines filtering options for acceptance event queries
type EventFilter struct {
	Symbol    string
	Tracker   string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// RedisClient defines the interface for Redis operations
type RedisClient interface {
	// Stream operations
	PublishToStream(ctx context.Context, stream string, key string, value interface{}) error
	PublishBatchToStream(ctx context.Context, stream string, messages []map[string]interface{}) error
	ConsumeFromStream(ctx context.Context, stream string, group string, consumer string) (<-chan StreamMessage, error)
	AcknowledgeMessage(ctx context.Context, stream string, group string, id string) error

	// Key-value operations
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	GetJSON(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error

	// Pub/Sub operations
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan PubSubMessage, error)

	// Close closes the Redis connection
	Close() error
}

// StreamMessage represents a message from a Redis stream
type StreamMessage struct {
	ID     string
	Stream string
	Values map[string]interface{}
}

// PubSubMessage represents a message from Redis pub/sub
type PubSubMessage struct {
	Channel string
	Message string
}
