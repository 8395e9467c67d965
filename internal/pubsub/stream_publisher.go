package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/session-levels/internal/storage"
	"github.com/mohamedkhairy/session-levels/pkg/logger"
)

var (
	publishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_publish_total",
			Help: "Total number of messages published to streams",
		},
		[]string{"stream"},
	)

	publishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_publish_errors_total",
			Help: "Total number of publish errors",
		},
		[]string{"stream"},
	)

	publishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stream_publish_latency_seconds",
			Help:    "Publish latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"stream"},
	)
)

// StreamPublisherConfig holds configuration for the stream publisher
type StreamPublisherConfig struct {
	StreamName    string
	PayloadKey    string // field name the JSON payload is stored under
	BatchSize     int
	BatchTimeout  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultStreamPublisherConfig returns default configuration
func DefaultStreamPublisherConfig(streamName, payloadKey string) StreamPublisherConfig {
	return StreamPublisherConfig{
		StreamName:    streamName,
		PayloadKey:    payloadKey,
		BatchSize:     100,
		BatchTimeout:  100 * time.Millisecond,
		RetryAttempts: 3,
		RetryDelay:    100 * time.Millisecond,
	}
}

// StreamPublisher publishes JSON payloads to a Redis stream with batching.
// The same publisher serves bars, snapshots and events; only the stream name
// and payload key differ.
type StreamPublisher struct {
	config  StreamPublisherConfig
	redis   storage.RedisClient
	batch   []interface{}
	batchMu sync.Mutex
	ticker  *time.Ticker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewStreamPublisher creates a new stream publisher
func NewStreamPublisher(redis storage.RedisClient, config StreamPublisherConfig) *StreamPublisher {
	ctx, cancel := context.WithCancel(context.Background())

	return &StreamPublisher{
		config: config,
		redis:  redis,
		batch:  make([]interface{}, 0, config.BatchSize),
		ticker: time.NewTicker(config.BatchTimeout),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the batch publishing loop
func (p *StreamPublisher) Start() {
	p.wg.Add(1)
	go p.batchLoop()
}

// Publish adds a payload to the batch (non-blocking)
func (p *StreamPublisher) Publish(payload interface{}) error {
	if payload == nil {
		return fmt.Errorf("payload cannot be nil")
	}

	p.batchMu.Lock()
	p.batch = append(p.batch, payload)
	shouldFlush := len(p.batch) >= p.config.BatchSize
	p.batchMu.Unlock()

	if shouldFlush {
		return p.flush()
	}

	return nil
}

// batchLoop periodically flushes the batch
func (p *StreamPublisher) batchLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			// Flush remaining items on shutdown
			p.flush()
			return
		case <-p.ticker.C:
			p.flush()
		}
	}
}

// flush publishes the current batch to the Redis stream
func (p *StreamPublisher) flush() error {
	p.batchMu.Lock()
	if len(p.batch) == 0 {
		p.batchMu.Unlock()
		return nil
	}

	batch := make([]interface{}, len(p.batch))
	copy(batch, p.batch)
	p.batch = p.batch[:0]
	p.batchMu.Unlock()

	startTime := time.Now()

	messages := make([]map[string]interface{}, 0, len(batch))
	for _, payload := range batch {
		jsonData, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			logger.Error("Failed to marshal payload",
				logger.ErrorField(marshalErr),
				logger.String("stream", p.config.StreamName),
			)
			continue
		}
		messages = append(messages, map[string]interface{}{
			p.config.PayloadKey: string(jsonData),
		})
	}

	if len(messages) == 0 {
		return nil
	}

	var err error
	for attempt := 0; attempt < p.config.RetryAttempts; attempt++ {
		err = p.redis.PublishBatchToStream(p.ctx, p.config.StreamName, messages)
		if err == nil {
			break
		}

		if attempt < p.config.RetryAttempts-1 {
			logger.Warn("Failed to publish batch, retrying",
				logger.ErrorField(err),
				logger.String("stream", p.config.StreamName),
				logger.Int("attempt", attempt+1),
				logger.Int("count", len(messages)),
			)
			time.Sleep(p.config.RetryDelay * time.Duration(attempt+1))
		}
	}

	if err != nil {
		publishErrors.WithLabelValues(p.config.StreamName).Add(float64(len(messages)))
		logger.Error("Failed to publish batch after retries",
			logger.ErrorField(err),
			logger.String("stream", p.config.StreamName),
			logger.Int("count", len(messages)),
		)
		return err
	}

	publishTotal.WithLabelValues(p.config.StreamName).Add(float64(len(messages)))
	publishLatency.WithLabelValues(p.config.StreamName).Observe(time.Since(startTime).Seconds())

	logger.Debug("Published batch to stream",
		logger.String("stream", p.config.StreamName),
		logger.Int("count", len(messages)),
		logger.Duration("latency", time.Since(startTime)),
	)

	return nil
}

// Flush forces an immediate flush of the current batch
func (p *StreamPublisher) Flush() error {
	return p.flush()
}

// Close stops the publisher and flushes remaining items
func (p *StreamPublisher) Close() error {
	p.cancel()
	p.ticker.Stop()
	p.wg.Wait()
	return p.flush()
}

// GetBatchSize returns the current batch size (for monitoring)
func (p *StreamPublisher) GetBatchSize() int {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()
	return len(p.batch)
}
