package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mohamedkhairy/session-levels/internal/models"
)

// MockEventStorage is a mock implementation of EventStorage for testing
type MockEventStorage struct {
	Events   []*models.AcceptanceEvent
	WriteErr error
	GetErr   error
}

func (m *MockEventStorage) WriteEvent(ctx context.Context, event *models.AcceptanceEvent) error {
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Events = append(m.Events, event)
	return nil
}

func (m *MockEventStorage) WriteEvents(ctx context.Context, events []*models.AcceptanceEvent) error {
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Events = append(m.Events, events...)
	return nil
}

func (m *MockEventStorage) GetEvents(ctx context.Context, filter EventFilter) ([]*models.AcceptanceEvent, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	var result []*models.AcceptanceEvent
	for _, event := range m.Events {
		if filter.Symbol != "" && event.Symbol != filter.Symbol {
			continue
		}
		if filter.Tracker != "" && event.Tracker != filter.Tracker {
			continue
		}
		if !filter.StartTime.IsZero() && event.Timestamp.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && event.Timestamp.After(filter.EndTime) {
			continue
		}
		result = append(result, event)
	}
	// Apply limit and offset
	start := filter.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + filter.Limit
	if end > len(result) {
		end = len(result)
	}
	if filter.Limit > 0 {
		return result[start:end], nil
	}
	return result[start:], nil
}

func (m *MockEventStorage) Close() error {
	return nil
}

// MockRedisClient is a mock implementation of RedisClient for testing
type MockRedisClient struct {
	Data         map[string]string
	StreamData   []StreamMessage
	PubSubData   []PubSubMessage
	Published    []PubSubMessage
	PublishErr   error
	GetErr       error
	SetErr       error
	SubscribeErr error
	ConsumeErr   error
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{
		Data: make(map[string]string),
	}
}

func (m *MockRedisClient) PublishToStream(ctx context.Context, stream string, key string, value interface{}) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.StreamData = append(m.StreamData, StreamMessage{
		Stream: stream,
		Values: map[string]interface{}{key: string(jsonData)},
	})
	return nil
}

func (m *MockRedisClient) PublishBatchToStream(ctx context.Context, stream string, messages []map[string]interface{}) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	for _, msg := range messages {
		m.StreamData = append(m.StreamData, StreamMessage{
			Stream: stream,
			Values: msg,
		})
	}
	return nil
}

func (m *MockRedisClient) ConsumeFromStream(ctx context.Context, stream string, group string, consumer string) (<-chan StreamMessage, error) {
	if m.ConsumeErr != nil {
		return nil, m.ConsumeErr
	}
	ch := make(chan StreamMessage, len(m.StreamData))
	for _, msg := range m.StreamData {
		ch <- msg
	}
	close(ch)
	return ch, nil
}

func (m *MockRedisClient) AcknowledgeMessage(ctx context.Context, stream string, group string, id string) error {
	return nil
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.SetErr != nil {
		return m.SetErr
	}
	// Marshal to JSON like the real implementation
	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.Data[key] = string(jsonData)
	return nil
}

func (m *MockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetErr != nil {
		return "", m.GetErr
	}
	return m.Data[key], nil
}

func (m *MockRedisClient) GetJSON(ctx context.Context, key string, dest interface{}) error {
	if m.GetErr != nil {
		return m.GetErr
	}
	value, exists := m.Data[key]
	if !exists {
		return nil // Return nil if key doesn't exist (like real implementation)
	}
	return json.Unmarshal([]byte(value), dest)
}

func (m *MockRedisClient) Delete(ctx context.Context, key string) error {
	delete(m.Data, key)
	return nil
}

func (m *MockRedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	jsonData, err := json.Marshal(message)
	if err != nil {
		return err
	}
	m.Published = append(m.Published, PubSubMessage{Channel: channel, Message: string(jsonData)})
	return nil
}

func (m *MockRedisClient) Subscribe(ctx context.Context, channels ...string) (<-chan PubSubMessage, error) {
	if m.SubscribeErr != nil {
		return nil, m.SubscribeErr
	}
	ch := make(chan PubSubMessage, len(m.PubSubData))
	for _, msg := range m.PubSubData {
		ch <- msg
	}
	close(ch)
	return ch, nil
}

func (m *MockRedisClient) Close() error {
	return nil
}
