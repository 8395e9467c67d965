package models

import (
	"time"
)

// Tick represents a single market data tick
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"` // "trade" or "quote"
}

// Validate validates a Tick
func (t *Tick) Validate() error {
	if t.Symbol == "" {
		return ErrInvalidSymbol
	}
	if t.Price <= 0 {
		return ErrInvalidPrice
	}
	if t.Timestamp.IsZero() {
		return ErrInvalidTimestamp
	}
	return nil
}

// Bar represents a finalized 1-minute bar
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	// SessionFirst marks the first bar of a trading day, set by the
	// aggregator. Trackers do not depend on it; downstream consumers use it
	// to reset per-day display state.
	SessionFirst bool `json:"session_first,omitempty"`
}

// Validate validates a Bar
func (b *Bar) Validate() error {
	if b.Symbol == "" {
		return ErrInvalidSymbol
	}
	if b.Timestamp.IsZero() {
		return ErrInvalidTimestamp
	}
	if b.High < b.Low {
		return ErrInvalidBar
	}
	if b.Volume < 0 {
		return ErrInvalidVolume
	}
	return nil
}

// LiveBar represents a bar that is currently being built (not yet finalized)
type LiveBar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"` // Start of the minute
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// ToBar converts a LiveBar to a finalized Bar
func (lb *LiveBar) ToBar() *Bar {
	return &Bar{
		Symbol:    lb.Symbol,
		Timestamp: lb.Timestamp,
		Open:      lb.Open,
		High:      lb.High,
		Low:       lb.Low,
		Close:     lb.Close,
		Volume:    lb.Volume,
	}
}

// Update updates the live bar with a new tick
func (lb *LiveBar) Update(tick *Tick) {
	if lb.Open == 0 {
		lb.Open = tick.Price
		lb.High = tick.Price
		lb.Low = tick.Price
	}
	if tick.Price > lb.High {
		lb.High = tick.Price
	}
	if tick.Price < lb.Low {
		lb.Low = tick.Price
	}
	lb.Close = tick.Price
	lb.Volume += tick.Size
}

// LevelSnapshot is the wire form of a tracker snapshot for one symbol
type LevelSnapshot struct {
	Symbol              string    `json:"symbol"`
	Tracker             string    `json:"tracker"`
	Timestamp           time.Time `json:"timestamp"`
	SelectedLevel       *float64  `json:"selected_level"`
	Accepted            bool      `json:"accepted"`
	AcceptBars          int       `json:"accept_bars"`
	AcceptanceThreshold int       `json:"acceptance_threshold"`
	AcceptAbove         bool      `json:"accept_above"`
	PriorDayHigh        *float64  `json:"prior_day_high,omitempty"`
	PriorDayLow         *float64  `json:"prior_day_low,omitempty"`
	OvernightHigh       *float64  `json:"overnight_high,omitempty"`
	OvernightLow        *float64  `json:"overnight_low,omitempty"`
	ATRDistance         *float64  `json:"atr_distance,omitempty"`
}

// Validate validates a LevelSnapshot
func (s *LevelSnapshot) Validate() error {
	if s.Symbol == "" {
		return ErrInvalidSymbol
	}
	if s.Tracker == "" {
		return ErrInvalidTracker
	}
	if s.Timestamp.IsZero() {
		return ErrInvalidTimestamp
	}
	return nil
}

// AcceptanceEvent is emitted when a tracker's accepted flag transitions
type AcceptanceEvent struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Tracker    string    `json:"tracker"`
	Timestamp  time.Time `json:"timestamp"`
	Level      float64   `json:"level"`
	AcceptAbove bool     `json:"accept_above"`
	Accepted   bool      `json:"accepted"` // true = level accepted, false = acceptance lost
	AcceptBars int       `json:"accept_bars"`
	Close      float64   `json:"close"`
	TraceID    string    `json:"trace_id,omitempty"`
}

// Validate validates an AcceptanceEvent
func (e *AcceptanceEvent) Validate() error {
	if e.ID == "" {
		return ErrInvalidEventID
	}
	if e.Symbol == "" {
		return ErrInvalidSymbol
	}
	if e.Tracker == "" {
		return ErrInvalidTracker
	}
	if e.Timestamp.IsZero() {
		return ErrInvalidTimestamp
	}
	return nil
}
