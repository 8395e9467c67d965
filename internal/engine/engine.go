package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/session-levels/internal/models"
	"github.com/mohamedkhairy/session-levels/pkg/levels"
	"github.com/mohamedkhairy/session-levels/pkg/logger"
)

var (
	barsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_bars_processed_total",
			Help: "Total number of bars processed by the tracker engine",
		},
		[]string{"symbol"},
	)

	barErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_bar_errors_total",
			Help: "Total number of bars rejected by trackers",
		},
		[]string{"symbol"},
	)

	acceptanceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_acceptance_transitions_total",
			Help: "Total number of acceptance state transitions",
		},
		[]string{"symbol", "tracker", "direction"},
	)

	processLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracker_process_latency_seconds",
			Help:    "Per-bar processing latency in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
	)
)

// Config holds the tracker set built for every symbol
type Config struct {
	Sources             []levels.LevelSource
	AcceptanceThreshold int
	ManualLevel         *float64
	AutoSide            bool
	AcceptAbove         bool

	RTHStart levels.ClockTime
	RTHEnd   levels.ClockTime
	ETHStart levels.ClockTime

	Location  *time.Location
	ATRPeriod int // 0 disables the ATR distance
}

// trackerState pairs a tracker with its last accepted flag so transitions can
// be detected
type trackerState struct {
	tracker      *levels.Tracker
	lastAccepted bool
}

// symbolState holds all trackers and the ATR for one symbol.
// Bars for one symbol are processed under the state lock; different symbols
// proceed concurrently.
type symbolState struct {
	mu       sync.Mutex
	trackers []*trackerState
	atr      *levels.ATR
}

// Engine fans finalized bars out to per-symbol tracker sets and turns
// accepted-flag transitions into acceptance events
type Engine struct {
	cfg Config

	mu      sync.RWMutex
	symbols map[string]*symbolState
}

// NewEngine creates an engine. Tracker sets are created lazily per symbol on
// the first bar.
func NewEngine(cfg Config) (*Engine, error) {
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("at least one level source is required")
	}
	// Validate tracker construction once up front so bad config fails fast
	for _, source := range cfg.Sources {
		if _, err := levels.NewTracker(cfg.trackerConfig(source)); err != nil {
			return nil, fmt.Errorf("invalid tracker config for %s: %w", source, err)
		}
	}
	if cfg.ATRPeriod < 0 {
		return nil, fmt.Errorf("ATR period cannot be negative")
	}

	return &Engine{
		cfg:     cfg,
		symbols: make(map[string]*symbolState),
	}, nil
}

func (c Config) trackerConfig(source levels.LevelSource) levels.Config {
	return levels.Config{
		RTHStart:            c.RTHStart,
		RTHEnd:              c.RTHEnd,
		ETHStart:            c.ETHStart,
		Location:            c.Location,
		AcceptanceThreshold: c.AcceptanceThreshold,
		Source:              source,
		ManualLevel:         c.ManualLevel,
		AutoSide:            c.AutoSide,
		AcceptAbove:         c.AcceptAbove,
	}
}

func (e *Engine) stateFor(symbol string) (*symbolState, error) {
	e.mu.RLock()
	state, ok := e.symbols[symbol]
	e.mu.RUnlock()
	if ok {
		return state, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if state, ok := e.symbols[symbol]; ok {
		return state, nil
	}

	state = &symbolState{}
	for _, source := range e.cfg.Sources {
		tracker, err := levels.NewTracker(e.cfg.trackerConfig(source))
		if err != nil {
			return nil, err
		}
		state.trackers = append(state.trackers, &trackerState{tracker: tracker})
	}
	if e.cfg.ATRPeriod > 0 {
		atr, err := levels.NewATR(e.cfg.ATRPeriod)
		if err != nil {
			return nil, err
		}
		state.atr = atr
	}
	e.symbols[symbol] = state

	logger.Info("Created tracker set",
		logger.String("symbol", symbol),
		logger.Int("trackers", len(state.trackers)),
	)
	return state, nil
}

// ProcessBar runs one finalized bar through every tracker for its symbol.
// It returns one snapshot per tracker and an acceptance event for each
// tracker whose accepted flag changed on this bar.
func (e *Engine) ProcessBar(bar *models.Bar) ([]*models.LevelSnapshot, []*models.AcceptanceEvent, error) {
	if bar == nil {
		return nil, nil, fmt.Errorf("bar cannot be nil")
	}
	if err := bar.Validate(); err != nil {
		return nil, nil, err
	}

	state, err := e.stateFor(bar.Symbol)
	if err != nil {
		return nil, nil, err
	}

	startTime := time.Now()

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.atr != nil {
		if _, err := state.atr.Update(bar); err != nil {
			logger.Warn("ATR update failed",
				logger.ErrorField(err),
				logger.String("symbol", bar.Symbol),
			)
		}
	}

	snapshots := make([]*models.LevelSnapshot, 0, len(state.trackers))
	events := make([]*models.AcceptanceEvent, 0)

	for _, ts := range state.trackers {
		snap, err := ts.tracker.Update(bar)
		if err != nil {
			barErrors.WithLabelValues(bar.Symbol).Inc()
			logger.Warn("Tracker rejected bar",
				logger.ErrorField(err),
				logger.String("symbol", bar.Symbol),
				logger.String("tracker", ts.tracker.Name()),
				logger.Time("timestamp", bar.Timestamp),
			)
			continue
		}

		out := &models.LevelSnapshot{
			Symbol:              bar.Symbol,
			Tracker:             ts.tracker.Name(),
			Timestamp:           snap.Timestamp,
			SelectedLevel:       snap.SelectedLevel,
			Accepted:            snap.Accepted,
			AcceptBars:          snap.AcceptBars,
			AcceptanceThreshold: snap.AcceptanceThreshold,
			AcceptAbove:         snap.AcceptAbove,
			PriorDayHigh:        snap.PriorDayHigh,
			PriorDayLow:         snap.PriorDayLow,
			OvernightHigh:       snap.OvernightHigh,
			OvernightLow:        snap.OvernightLow,
		}
		if state.atr != nil && snap.SelectedLevel != nil {
			out.ATRDistance = state.atr.Distance(bar.Close, *snap.SelectedLevel)
		}
		snapshots = append(snapshots, out)

		if snap.Accepted != ts.lastAccepted && snap.SelectedLevel != nil {
			event := &models.AcceptanceEvent{
				ID:          uuid.New().String(),
				Symbol:      bar.Symbol,
				Tracker:     ts.tracker.Name(),
				Timestamp:   bar.Timestamp,
				Level:       *snap.SelectedLevel,
				AcceptAbove: snap.AcceptAbove,
				Accepted:    snap.Accepted,
				AcceptBars:  snap.AcceptBars,
				Close:       bar.Close,
			}
			events = append(events, event)

			direction := "lost"
			if snap.Accepted {
				direction = "accepted"
			}
			acceptanceTransitions.WithLabelValues(bar.Symbol, ts.tracker.Name(), direction).Inc()

			logger.Info("Acceptance transition",
				logger.String("symbol", bar.Symbol),
				logger.String("tracker", ts.tracker.Name()),
				logger.String("direction", direction),
				logger.Float64("level", *snap.SelectedLevel),
				logger.Float64("close", bar.Close),
				logger.Int("accept_bars", snap.AcceptBars),
			)
		}
		ts.lastAccepted = snap.Accepted
	}

	barsProcessed.WithLabelValues(bar.Symbol).Inc()
	processLatency.Observe(time.Since(startTime).Seconds())

	return snapshots, events, nil
}

// Snapshots returns the current snapshots for a symbol without processing a
// bar. Returns nil if the symbol has no tracker set yet.
func (e *Engine) Snapshots(symbol string) []*models.LevelSnapshot {
	e.mu.RLock()
	state, ok := e.symbols[symbol]
	e.mu.RUnlock()
	if !ok {
		return nil
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	snapshots := make([]*models.LevelSnapshot, 0, len(state.trackers))
	for _, ts := range state.trackers {
		snap := ts.tracker.Snapshot()
		snapshots = append(snapshots, &models.LevelSnapshot{
			Symbol:              symbol,
			Tracker:             ts.tracker.Name(),
			Timestamp:           snap.Timestamp,
			SelectedLevel:       snap.SelectedLevel,
			Accepted:            snap.Accepted,
			AcceptBars:          snap.AcceptBars,
			AcceptanceThreshold: snap.AcceptanceThreshold,
			AcceptAbove:         snap.AcceptAbove,
			PriorDayHigh:        snap.PriorDayHigh,
			PriorDayLow:         snap.PriorDayLow,
			OvernightHigh:       snap.OvernightHigh,
			OvernightLow:        snap.OvernightLow,
		})
	}
	return snapshots
}

// SymbolCount returns the number of symbols with tracker sets
func (e *Engine) SymbolCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.symbols)
}
