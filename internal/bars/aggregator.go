package bars

import (
	"sync"
	"time"

	"github.com/mohamedkhairy/session-levels/internal/models"
	"github.com/mohamedkhairy/session-levels/pkg/logger"
)

// Aggregator aggregates ticks into 1-minute bars and marks the first bar of
// each exchange-local trading day
type Aggregator struct {
	mu         sync.RWMutex
	location   *time.Location
	liveBars   map[string]*models.LiveBar // symbol -> current live bar
	lastDay    map[string]string          // symbol -> last finalized calendar day
	onBarFinal func(*models.Bar)          // callback when a bar is finalized
}

// NewAggregator creates a new bar aggregator. location is the exchange time
// zone used for day boundaries; nil means UTC.
func NewAggregator(location *time.Location) *Aggregator {
	if location == nil {
		location = time.UTC
	}
	return &Aggregator{
		location: location,
		liveBars: make(map[string]*models.LiveBar),
		lastDay:  make(map[string]string),
	}
}

// SetOnBarFinal sets the callback function to be called when a bar is finalized
func (a *Aggregator) SetOnBarFinal(callback func(*models.Bar)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onBarFinal = callback
}

// ProcessTick processes a tick and updates the corresponding live bar
func (a *Aggregator) ProcessTick(tick *models.Tick) error {
	if tick == nil {
		return nil
	}

	if err := tick.Validate(); err != nil {
		logger.Warn("Invalid tick, skipping",
			logger.ErrorField(err),
			logger.String("symbol", tick.Symbol),
		)
		return err
	}

	// Truncate timestamp to minute boundary
	minuteStart := tick.Timestamp.Truncate(time.Minute)

	a.mu.Lock()
	defer a.mu.Unlock()

	liveBar, exists := a.liveBars[tick.Symbol]

	if exists && !liveBar.Timestamp.Equal(minuteStart) {
		// Minute boundary crossed - finalize the old bar
		a.finalizeLocked(liveBar)

		liveBar = &models.LiveBar{
			Symbol:    tick.Symbol,
			Timestamp: minuteStart,
		}
		a.liveBars[tick.Symbol] = liveBar
	} else if !exists {
		liveBar = &models.LiveBar{
			Symbol:    tick.Symbol,
			Timestamp: minuteStart,
		}
		a.liveBars[tick.Symbol] = liveBar
	}

	liveBar.Update(tick)
	return nil
}

// finalizeLocked converts the live bar, stamps SessionFirst on day changes
// and invokes the callback. Caller holds the lock.
func (a *Aggregator) finalizeLocked(liveBar *models.LiveBar) {
	bar := liveBar.ToBar()

	day := bar.Timestamp.In(a.location).Format("2006-01-02")
	if a.lastDay[bar.Symbol] != day {
		bar.SessionFirst = true
		a.lastDay[bar.Symbol] = day
	}

	if a.onBarFinal != nil {
		// Call callback outside of lock to avoid deadlock
		go a.onBarFinal(bar)
	}

	logger.Debug("Bar finalized",
		logger.String("symbol", bar.Symbol),
		logger.Time("timestamp", bar.Timestamp),
		logger.Float64("open", bar.Open),
		logger.Float64("close", bar.Close),
		logger.Int64("volume", bar.Volume),
		logger.Bool("session_first", bar.SessionFirst),
	)
}

// GetLiveBar returns a copy of the current live bar for a symbol
func (a *Aggregator) GetLiveBar(symbol string) *models.LiveBar {
	a.mu.RLock()
	defer a.mu.RUnlock()

	liveBar, exists := a.liveBars[symbol]
	if !exists {
		return nil
	}

	liveBarCopy := *liveBar
	return &liveBarCopy
}

// FlushAll finalizes all live bars (used at shutdown)
func (a *Aggregator) FlushAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for symbol, liveBar := range a.liveBars {
		a.finalizeLocked(liveBar)
		delete(a.liveBars, symbol)
	}
}

// SymbolCount returns the number of symbols with live bars
func (a *Aggregator) SymbolCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.liveBars)
}
