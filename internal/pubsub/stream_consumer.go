package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohamedkhairy/session-levels/internal/storage"
	"github.com/mohamedkhairy/session-levels/pkg/logger"
)

// MessageHandler processes a single stream message. Returning an error leaves
// the message unacknowledged so the consumer group redelivers it.
type MessageHandler func(msg storage.StreamMessage) error

// StreamConsumerConfig holds configuration for the stream consumer
type StreamConsumerConfig struct {
	StreamName    string
	ConsumerGroup string
	ConsumerName  string
	BatchSize     int // Number of messages to process before acknowledging
	AckTimeout    time.Duration
}

// DefaultStreamConsumerConfig returns default configuration
func DefaultStreamConsumerConfig(streamName, consumerGroup, consumerName string) StreamConsumerConfig {
	return StreamConsumerConfig{
		StreamName:    streamName,
		ConsumerGroup: consumerGroup,
		ConsumerName:  consumerName,
		BatchSize:     100,
		AckTimeout:    10 * time.Second,
	}
}

// StreamConsumer consumes messages from a Redis stream and hands them to a handler
type StreamConsumer struct {
	config  StreamConsumerConfig
	redis   storage.RedisClient
	handler MessageHandler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	statsMu sync.RWMutex
	stats   ConsumerStats
}

// ConsumerStats holds statistics about the consumer
type ConsumerStats struct {
	MessagesProcessed int64
	MessagesAcked     int64
	MessagesFailed    int64
	LastMessageTime   time.Time
}

// NewStreamConsumer creates a new stream consumer
func NewStreamConsumer(redis storage.RedisClient, config StreamConsumerConfig) *StreamConsumer {
	ctx, cancel := context.WithCancel(context.Background())

	return &StreamConsumer{
		config: config,
		redis:  redis,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetHandler sets the message handler
func (c *StreamConsumer) SetHandler(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Start starts consuming from the stream
func (c *StreamConsumer) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer is already running")
	}
	if c.handler == nil {
		c.mu.Unlock()
		return fmt.Errorf("no handler set")
	}
	c.running = true
	c.mu.Unlock()

	logger.Info("Starting stream consumer",
		logger.String("stream", c.config.StreamName),
		logger.String("group", c.config.ConsumerGroup),
		logger.String("consumer", c.config.ConsumerName),
	)

	c.wg.Add(1)
	go c.consumeLoop()

	return nil
}

// Stop stops the consumer
func (c *StreamConsumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	logger.Info("Stopping stream consumer",
		logger.String("stream", c.config.StreamName),
	)
	c.cancel()
	c.wg.Wait()
}

func (c *StreamConsumer) consumeLoop() {
	defer c.wg.Done()

	messageChan, err := c.redis.ConsumeFromStream(c.ctx, c.config.StreamName, c.config.ConsumerGroup, c.config.ConsumerName)
	if err != nil {
		logger.Error("Failed to start consuming from stream",
			logger.ErrorField(err),
			logger.String("stream", c.config.StreamName),
		)
		return
	}

	batch := make([]storage.StreamMessage, 0, c.config.BatchSize)
	ticker := time.NewTicker(c.config.AckTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			if len(batch) > 0 {
				c.processBatch(batch)
			}
			return

		case msg, ok := <-messageChan:
			if !ok {
				logger.Warn("Message channel closed",
					logger.String("stream", c.config.StreamName),
				)
				return
			}

			batch = append(batch, msg)
			if len(batch) >= c.config.BatchSize {
				c.processBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				c.processBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

// processBatch hands each message to the handler and acknowledges successes
func (c *StreamConsumer) processBatch(messages []storage.StreamMessage) {
	if len(messages) == 0 {
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	processed := make([]string, 0, len(messages))
	failed := 0

	for _, msg := range messages {
		if err := handler(msg); err != nil {
			logger.Error("Failed to process message",
				logger.ErrorField(err),
				logger.String("stream", c.config.StreamName),
				logger.String("message_id", msg.ID),
			)
			failed++
			c.incrementFailed()
			continue
		}

		processed = append(processed, msg.ID)
		c.incrementProcessed()
	}

	if len(processed) > 0 {
		c.acknowledgeMessages(processed)
	}

	if failed > 0 {
		logger.Warn("Some messages failed to process",
			logger.Int("failed_count", failed),
			logger.String("stream", c.config.StreamName),
		)
	}
}

func (c *StreamConsumer) acknowledgeMessages(messageIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.AckTimeout)
	defer cancel()

	acked := int64(0)
	for _, id := range messageIDs {
		err := c.redis.AcknowledgeMessage(ctx, c.config.StreamName, c.config.ConsumerGroup, id)
		if err != nil {
			logger.Error("Failed to acknowledge message",
				logger.ErrorField(err),
				logger.String("stream", c.config.StreamName),
				logger.String("message_id", id),
			)
			continue
		}
		acked++
	}

	c.statsMu.Lock()
	c.stats.MessagesAcked += acked
	c.statsMu.Unlock()
}

func (c *StreamConsumer) incrementProcessed() {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.MessagesProcessed++
	c.stats.LastMessageTime = time.Now()
}

func (c *StreamConsumer) incrementFailed() {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.MessagesFailed++
}

// GetStats returns current consumer statistics
func (c *StreamConsumer) GetStats() ConsumerStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

// IsRunning returns whether the consumer is running
func (c *StreamConsumer) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}
