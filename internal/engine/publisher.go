package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/mohamedkhairy/session-levels/internal/models"
	"github.com/mohamedkhairy/session-levels/internal/pubsub"
	"github.com/mohamedkhairy/session-levels/internal/storage"
	"github.com/mohamedkhairy/session-levels/pkg/logger"
)

// PublisherConfig holds the output wiring for the tracker engine
type PublisherConfig struct {
	SnapshotStream string
	EventStream    string
	LiveChannel    string
	LatestTTL      time.Duration
}

// Publisher fans tracker outputs out to the snapshot stream, the latest-value
// cache, the live pub/sub channel and the event stream
type Publisher struct {
	config PublisherConfig
	redis  storage.RedisClient

	snapshots *pubsub.StreamPublisher
	events    *pubsub.StreamPublisher
}

// NewPublisher creates a publisher for tracker outputs
func NewPublisher(redis storage.RedisClient, config PublisherConfig) *Publisher {
	snapshotCfg := pubsub.DefaultStreamPublisherConfig(config.SnapshotStream, "snapshot")
	eventCfg := pubsub.DefaultStreamPublisherConfig(config.EventStream, "event")
	// Events are rare; publish them without batching delay
	eventCfg.BatchSize = 1

	return &Publisher{
		config:    config,
		redis:     redis,
		snapshots: pubsub.NewStreamPublisher(redis, snapshotCfg),
		events:    pubsub.NewStreamPublisher(redis, eventCfg),
	}
}

// Start starts the underlying stream publishers
func (p *Publisher) Start() {
	p.snapshots.Start()
	p.events.Start()
}

// PublishSnapshots publishes snapshots to the stream, refreshes the
// latest-value cache and pushes to the live channel
func (p *Publisher) PublishSnapshots(snapshots []*models.LevelSnapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var firstErr error
	for _, snapshot := range snapshots {
		if err := p.snapshots.Publish(snapshot); err != nil && firstErr == nil {
			firstErr = err
		}

		key := LatestKey(snapshot.Symbol, snapshot.Tracker)
		if err := p.redis.Set(ctx, key, snapshot, p.config.LatestTTL); err != nil {
			logger.Warn("Failed to cache latest snapshot",
				logger.ErrorField(err),
				logger.String("key", key),
			)
		}

		if p.config.LiveChannel != "" {
			// Publish marshals the snapshot itself
			if err := p.redis.Publish(ctx, p.config.LiveChannel, snapshot); err != nil {
				logger.Warn("Failed to publish live snapshot",
					logger.ErrorField(err),
					logger.String("channel", p.config.LiveChannel),
				)
			}
		}
	}
	return firstErr
}

// PublishEvent publishes an acceptance event to the event stream and the live
// channel
func (p *Publisher) PublishEvent(event *models.AcceptanceEvent) error {
	if err := p.events.Publish(event); err != nil {
		return err
	}

	if p.config.LiveChannel != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := p.redis.Publish(ctx, p.config.LiveChannel, event); err != nil {
			logger.Warn("Failed to publish live event",
				logger.ErrorField(err),
				logger.String("channel", p.config.LiveChannel),
			)
		}
	}
	return nil
}

// Close flushes and stops the underlying publishers
func (p *Publisher) Close() error {
	snapErr := p.snapshots.Close()
	eventErr := p.events.Close()
	if snapErr != nil {
		return snapErr
	}
	return eventErr
}

// LatestKey returns the cache key holding the latest snapshot for a
// symbol/tracker pair
func LatestKey(symbol, tracker string) string {
	return fmt.Sprintf("levels:latest:%s:%s", symbol, tracker)
}
