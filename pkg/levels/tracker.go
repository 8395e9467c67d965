package levels

import (
	"errors"
	"fmt"
	"time"

	"github.com/mohamedkhairy/session-levels/internal/models"
)

// LevelSource selects which reference level the tracker tests acceptance against
type LevelSource string

const (
	SourceManual        LevelSource = "manual"
	SourcePriorDayHigh  LevelSource = "prior_day_high"
	SourcePriorDayLow   LevelSource = "prior_day_low"
	SourceOvernightHigh LevelSource = "overnight_high"
	SourceOvernightLow  LevelSource = "overnight_low"
)

// Configuration validation errors
var (
	ErrInvalidThreshold = errors.New("acceptance threshold must be at least 1")
	ErrDegenerateWindow = errors.New("RTH window start and end must differ")
	ErrUnknownSource    = errors.New("unknown level source")
)

// Config holds tracker configuration, validated once at construction
type Config struct {
	RTHStart ClockTime // regular session open (default 09:30)
	RTHEnd   ClockTime // regular session close (default 16:00)
	ETHStart ClockTime // overnight window start (default 18:00)

	// Location is the exchange time zone used for day keys and window
	// classification. Nil means UTC.
	Location *time.Location

	// AcceptanceThreshold is the number of consecutive on-side closes
	// required before the level counts as accepted.
	AcceptanceThreshold int

	Source      LevelSource
	ManualLevel *float64 // fallback when a derived level is unavailable

	// AutoSide derives the accept side from the source: high levels accept
	// below (failed breakout), low levels and manual accept above (failed
	// breakdown). When false, AcceptAbove is used directly.
	AutoSide    bool
	AcceptAbove bool
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.AcceptanceThreshold < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidThreshold, c.AcceptanceThreshold)
	}
	if c.RTHStart == c.RTHEnd {
		return fmt.Errorf("%w: both %s", ErrDegenerateWindow, c.RTHStart)
	}
	switch c.Source {
	case SourceManual, SourcePriorDayHigh, SourcePriorDayLow, SourceOvernightHigh, SourceOvernightLow:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSource, c.Source)
	}
	return nil
}

// location returns the configured time zone, defaulting to UTC
func (c Config) location() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.UTC
}

// acceptAbove resolves the effective accept side for this configuration
func (c Config) acceptAbove() bool {
	if !c.AutoSide {
		return c.AcceptAbove
	}
	switch c.Source {
	case SourcePriorDayHigh, SourceOvernightHigh:
		return false
	default:
		// Low sources and manual accept above
		return true
	}
}

// Snapshot is the tracker output after processing one bar
type Snapshot struct {
	Timestamp time.Time

	// SelectedLevel is nil while the derived level has not been observed
	// and no manual fallback is configured ("insufficient data yet").
	SelectedLevel *float64

	Accepted            bool
	AcceptBars          int
	AcceptanceThreshold int
	AcceptAbove         bool

	PriorDayHigh  *float64
	PriorDayLow   *float64
	OvernightHigh *float64
	OvernightLow  *float64
}

// Tracker maintains rolling session extremes (RTH, overnight, prior day) and
// a consecutive-bar acceptance state machine against a selected level.
//
// A Tracker is single-owner state: Update must not be called concurrently.
// Callers that share one instance across goroutines need external
// synchronization (the engine wraps trackers in per-symbol state with a lock).
type Tracker struct {
	cfg  Config
	name string

	// Today's in-progress RTH extremes, nil until the first RTH bar of the day
	day     dayKey
	haveDay bool
	rthHigh *float64
	rthLow  *float64

	// Prior day's completed RTH extremes, overwritten only at day rollover
	priorDayHigh *float64
	priorDayLow  *float64

	// In-progress overnight extremes, keyed to the calendar day of the RTH
	// session they precede
	overnightKey  dayKey
	haveOvernight bool
	overnightHigh *float64
	overnightLow  *float64

	// Acceptance state machine memory
	acceptBars int
	accepted   bool

	lastLevel *float64 // cached for reporting only
	prevClose *float64

	lastTimestamp time.Time
	processed     int
}

// NewTracker creates a tracker from a validated configuration
func NewTracker(cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		cfg:  cfg,
		name: fmt.Sprintf("%s_x%d", cfg.Source, cfg.AcceptanceThreshold),
	}, nil
}

// Name returns the tracker name (e.g. "prior_day_low_x10")
func (t *Tracker) Name() string {
	return t.name
}

// Update processes one bar and returns the resulting snapshot.
//
// Bars must arrive in non-decreasing timestamp order; a bar older than the
// previously processed one is rejected with models.ErrOutOfOrderBar and does
// not mutate state. Equal timestamps are processed normally.
func (t *Tracker) Update(bar *models.Bar) (Snapshot, error) {
	if bar == nil {
		return Snapshot{}, fmt.Errorf("bar cannot be nil")
	}
	if t.processed > 0 && bar.Timestamp.Before(t.lastTimestamp) {
		return Snapshot{}, models.ErrOutOfOrderBar
	}

	loc := t.cfg.location()
	dk := dayKeyOf(bar.Timestamp, loc)
	tod := minutesOfDay(bar.Timestamp, loc)

	// Day rollover: snapshot the completed RTH extremes into the prior-day
	// slots, then open a fresh day. Days without a completed RTH window
	// leave the prior-day levels untouched (holiday handling).
	if !t.haveDay || dk != t.day {
		if t.haveDay && t.rthHigh != nil && t.rthLow != nil {
			t.priorDayHigh = cloneFloat(t.rthHigh)
			t.priorDayLow = cloneFloat(t.rthLow)
		}
		t.day = dk
		t.haveDay = true
		t.rthHigh = nil
		t.rthLow = nil
	}

	inRTH := inWindow(tod, t.cfg.RTHStart, t.cfg.RTHEnd)
	inOvernight := tod >= t.cfg.ETHStart.Minutes() || tod < t.cfg.RTHStart.Minutes()

	if inRTH {
		t.rthHigh = extendMax(t.rthHigh, bar.High)
		t.rthLow = extendMin(t.rthLow, bar.Low)
	}

	// Evening bars belong to the next day's overnight window
	overnightKey := dk
	if tod >= t.cfg.ETHStart.Minutes() {
		overnightKey = dk.next()
	}
	if !t.haveOvernight || overnightKey != t.overnightKey {
		t.overnightKey = overnightKey
		t.haveOvernight = true
		t.overnightHigh = nil
		t.overnightLow = nil
	}

	if inOvernight {
		t.overnightHigh = extendMax(t.overnightHigh, bar.High)
		t.overnightLow = extendMin(t.overnightLow, bar.Low)
	}

	level := t.selectLevel()
	acceptAbove := t.cfg.acceptAbove()

	if level == nil {
		// Not yet actionable: idle the state machine at zero
		t.acceptBars = 0
		t.accepted = false
	} else {
		onSide := closeOnSide(bar.Close, *level, acceptAbove)
		prevOnSide := t.prevClose != nil && closeOnSide(*t.prevClose, *level, acceptAbove)

		switch {
		case onSide && !prevOnSide:
			// Fresh reclaim: this bar is bar 1 of the new streak
			t.acceptBars = 1
			t.accepted = false
		case onSide:
			t.acceptBars++
			if t.acceptBars > t.cfg.AcceptanceThreshold {
				t.acceptBars = t.cfg.AcceptanceThreshold
			}
		default:
			t.acceptBars = 0
			t.accepted = false
		}
		if t.acceptBars >= t.cfg.AcceptanceThreshold {
			t.accepted = true
		}
	}

	t.lastLevel = cloneFloat(level)
	prevClose := bar.Close
	t.prevClose = &prevClose
	t.lastTimestamp = bar.Timestamp
	t.processed++

	return t.snapshot(bar.Timestamp), nil
}

// Snapshot returns the current state without processing a bar
func (t *Tracker) Snapshot() Snapshot {
	return t.snapshot(t.lastTimestamp)
}

func (t *Tracker) snapshot(ts time.Time) Snapshot {
	return Snapshot{
		Timestamp:           ts,
		SelectedLevel:       cloneFloat(t.lastLevel),
		Accepted:            t.accepted,
		AcceptBars:          t.acceptBars,
		AcceptanceThreshold: t.cfg.AcceptanceThreshold,
		AcceptAbove:         t.cfg.acceptAbove(),
		PriorDayHigh:        cloneFloat(t.priorDayHigh),
		PriorDayLow:         cloneFloat(t.priorDayLow),
		OvernightHigh:       cloneFloat(t.overnightHigh),
		OvernightLow:        cloneFloat(t.overnightLow),
	}
}

// selectLevel resolves the reference level, falling back to the manual level
// when the derived one has not been observed yet
func (t *Tracker) selectLevel() *float64 {
	switch t.cfg.Source {
	case SourceManual:
		return t.cfg.ManualLevel
	case SourcePriorDayHigh:
		return fallback(t.priorDayHigh, t.cfg.ManualLevel)
	case SourcePriorDayLow:
		return fallback(t.priorDayLow, t.cfg.ManualLevel)
	case SourceOvernightHigh:
		return fallback(t.overnightHigh, t.cfg.ManualLevel)
	case SourceOvernightLow:
		return fallback(t.overnightLow, t.cfg.ManualLevel)
	}
	return nil
}

// Reset clears all state (useful for rehydration or testing)
func (t *Tracker) Reset() {
	cfg, name := t.cfg, t.name
	*t = Tracker{cfg: cfg, name: name}
}

// BarsProcessed returns the number of bars processed so far
func (t *Tracker) BarsProcessed() int {
	return t.processed
}

// IsReady returns true once a level is resolvable
func (t *Tracker) IsReady() bool {
	return t.lastLevel != nil
}

func closeOnSide(close, level float64, acceptAbove bool) bool {
	if acceptAbove {
		return close >= level
	}
	return close <= level
}

func fallback(derived, manual *float64) *float64 {
	if derived != nil {
		return derived
	}
	return manual
}

func extendMax(cur *float64, v float64) *float64 {
	if cur == nil || v > *cur {
		return &v
	}
	return cur
}

func extendMin(cur *float64, v float64) *float64 {
	if cur == nil || v < *cur {
		return &v
	}
	return cur
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
