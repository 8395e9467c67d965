package engine

import (
	"encoding/json"
	"fmt"

	"github.com/mohamedkhairy/session-levels/internal/models"
	"github.com/mohamedkhairy/session-levels/internal/pubsub"
	"github.com/mohamedkhairy/session-levels/internal/storage"
	"github.com/mohamedkhairy/session-levels/pkg/logger"
)

// EventSink receives acceptance events for persistence. Implemented by the
// Postgres event store's write queue.
type EventSink interface {
	Enqueue(event *models.AcceptanceEvent)
}

// BarHandler decodes finalized bars from stream messages, runs them through
// the engine and forwards the outputs to the publisher and event sink.
func BarHandler(engine *Engine, publisher *Publisher, sink EventSink) pubsub.MessageHandler {
	return func(msg storage.StreamMessage) error {
		barJSON, ok := msg.Values["bar"].(string)
		if !ok {
			return fmt.Errorf("no bar data found in message %s", msg.ID)
		}

		var bar models.Bar
		if err := json.Unmarshal([]byte(barJSON), &bar); err != nil {
			return fmt.Errorf("failed to unmarshal bar: %w", err)
		}

		snapshots, events, err := engine.ProcessBar(&bar)
		if err != nil {
			return fmt.Errorf("failed to process bar: %w", err)
		}

		if err := publisher.PublishSnapshots(snapshots); err != nil {
			logger.Error("Failed to publish snapshots",
				logger.ErrorField(err),
				logger.String("symbol", bar.Symbol),
			)
		}

		for _, event := range events {
			if err := publisher.PublishEvent(event); err != nil {
				logger.Error("Failed to publish event",
					logger.ErrorField(err),
					logger.String("symbol", event.Symbol),
					logger.String("tracker", event.Tracker),
				)
			}
			if sink != nil {
				sink.Enqueue(event)
			}
		}

		return nil
	}
}
