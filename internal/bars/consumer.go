package bars

import (
	"encoding/json"
	"fmt"

	"github.com/mohamedkhairy/session-levels/internal/models"
	"github.com/mohamedkhairy/session-levels/internal/storage"
)

// TickHandler decodes ticks from stream messages and feeds the aggregator.
// The tick publisher stores payloads under the "tick" field.
func TickHandler(aggregator *Aggregator) func(msg storage.StreamMessage) error {
	return func(msg storage.StreamMessage) error {
		tickJSON, ok := msg.Values["tick"].(string)
		if !ok {
			return fmt.Errorf("no tick data found in message %s", msg.ID)
		}

		var tick models.Tick
		if err := json.Unmarshal([]byte(tickJSON), &tick); err != nil {
			return fmt.Errorf("failed to unmarshal tick: %w", err)
		}

		return aggregator.ProcessTick(&tick)
	}
}
