package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/session-levels/internal/models"
	"github.com/mohamedkhairy/session-levels/pkg/levels"
)

func testConfig(t *testing.T, sources ...levels.LevelSource) Config {
	t.Helper()

	rthStart, err := levels.ParseClockTime("09:30")
	require.NoError(t, err)
	rthEnd, err := levels.ParseClockTime("16:00")
	require.NoError(t, err)
	ethStart, err := levels.ParseClockTime("18:00")
	require.NoError(t, err)

	return Config{
		Sources:             sources,
		AcceptanceThreshold: 2,
		AutoSide:            true,
		RTHStart:            rthStart,
		RTHEnd:              rthEnd,
		ETHStart:            ethStart,
		Location:            time.UTC,
	}
}

func engineBar(day, hh, mm int, high, low, close float64) *models.Bar {
	return &models.Bar{
		Symbol:    "ESZ5",
		Timestamp: time.Date(2025, 3, day, hh, mm, 0, 0, time.UTC),
		Open:      close,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    100,
	}
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.Error(t, err)

	cfg := testConfig(t, levels.SourcePriorDayLow)
	cfg.AcceptanceThreshold = 0
	_, err = NewEngine(cfg)
	assert.ErrorIs(t, err, levels.ErrInvalidThreshold)

	cfg = testConfig(t, levels.LevelSource("bogus"))
	_, err = NewEngine(cfg)
	assert.ErrorIs(t, err, levels.ErrUnknownSource)
}

func TestEngine_LazySymbolCreation(t *testing.T) {
	eng, err := NewEngine(testConfig(t, levels.SourcePriorDayLow, levels.SourcePriorDayHigh))
	require.NoError(t, err)

	assert.Equal(t, 0, eng.SymbolCount())
	assert.Nil(t, eng.Snapshots("ESZ5"))

	snapshots, events, err := eng.ProcessBar(engineBar(10, 10, 0, 105, 100, 102))
	require.NoError(t, err)
	assert.Equal(t, 1, eng.SymbolCount())
	assert.Len(t, snapshots, 2)
	assert.Empty(t, events)
}

func TestEngine_SnapshotFields(t *testing.T) {
	eng, err := NewEngine(testConfig(t, levels.SourcePriorDayLow))
	require.NoError(t, err)

	// Day 1 establishes RTH extremes
	_, _, err = eng.ProcessBar(engineBar(10, 10, 0, 105, 100, 102))
	require.NoError(t, err)

	// Day 2: prior day levels become visible
	snapshots, _, err := eng.ProcessBar(engineBar(11, 10, 0, 103, 101, 101))
	require.NoError(t, err)
	require.Len(t, snapshots, 1)

	snap := snapshots[0]
	assert.Equal(t, "ESZ5", snap.Symbol)
	assert.Equal(t, "prior_day_low_x2", snap.Tracker)
	require.NotNil(t, snap.SelectedLevel)
	assert.Equal(t, 100.0, *snap.SelectedLevel)
	require.NotNil(t, snap.PriorDayHigh)
	assert.Equal(t, 105.0, *snap.PriorDayHigh)
	assert.True(t, snap.AcceptAbove)
	assert.Equal(t, 1, snap.AcceptBars)
	assert.False(t, snap.Accepted)
}

func TestEngine_AcceptanceEventTransitions(t *testing.T) {
	eng, err := NewEngine(testConfig(t, levels.SourcePriorDayLow))
	require.NoError(t, err)

	// Day 1: establish prior day low at 100
	_, _, err = eng.ProcessBar(engineBar(10, 10, 0, 105, 100, 102))
	require.NoError(t, err)

	// Day 2: two on-side closes reach the threshold
	_, events, err := eng.ProcessBar(engineBar(11, 10, 0, 103, 101, 101))
	require.NoError(t, err)
	assert.Empty(t, events)

	_, events, err = eng.ProcessBar(engineBar(11, 10, 1, 103, 101, 102))
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "ESZ5", event.Symbol)
	assert.Equal(t, "prior_day_low_x2", event.Tracker)
	assert.True(t, event.Accepted)
	assert.Equal(t, 100.0, event.Level)
	assert.Equal(t, 102.0, event.Close)
	assert.Equal(t, 2, event.AcceptBars)
	require.NoError(t, event.Validate())

	// Off-side close loses acceptance
	_, events, err = eng.ProcessBar(engineBar(11, 10, 2, 100, 98, 99))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Accepted)
	assert.Equal(t, 0, events[0].AcceptBars)

	// Staying off-side emits no further events
	_, events, err = eng.ProcessBar(engineBar(11, 10, 3, 100, 98, 99))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEngine_ATRDistance(t *testing.T) {
	cfg := testConfig(t, levels.SourcePriorDayLow)
	cfg.ATRPeriod = 2
	eng, err := NewEngine(cfg)
	require.NoError(t, err)

	// The ATR needs period+1 bars: the first one only seeds the range
	_, _, err = eng.ProcessBar(engineBar(10, 10, 0, 104, 102, 103))
	require.NoError(t, err)
	_, _, err = eng.ProcessBar(engineBar(10, 10, 1, 104, 102, 103))
	require.NoError(t, err)

	// Constant 2-point true ranges give an ATR of 2 once ready
	snapshots, _, err := eng.ProcessBar(engineBar(11, 10, 0, 105, 103, 104))
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	require.NotNil(t, snapshots[0].SelectedLevel)
	require.NotNil(t, snapshots[0].ATRDistance)
	// (104 - 102) / 2
	assert.InDelta(t, 1.0, *snapshots[0].ATRDistance, 0.1)
}

func TestEngine_InvalidBar(t *testing.T) {
	eng, err := NewEngine(testConfig(t, levels.SourcePriorDayLow))
	require.NoError(t, err)

	_, _, err = eng.ProcessBar(nil)
	assert.Error(t, err)

	_, _, err = eng.ProcessBar(&models.Bar{Symbol: "", Timestamp: time.Now()})
	assert.ErrorIs(t, err, models.ErrInvalidSymbol)
}

func TestEngine_OutOfOrderBarSkipsTracker(t *testing.T) {
	eng, err := NewEngine(testConfig(t, levels.SourcePriorDayLow))
	require.NoError(t, err)

	_, _, err = eng.ProcessBar(engineBar(10, 10, 1, 105, 100, 102))
	require.NoError(t, err)

	// Older bar is rejected per tracker; the engine reports no snapshots
	snapshots, events, err := eng.ProcessBar(engineBar(10, 10, 0, 105, 100, 102))
	require.NoError(t, err)
	assert.Empty(t, snapshots)
	assert.Empty(t, events)
}

func TestEngine_MultipleSymbolsIndependent(t *testing.T) {
	eng, err := NewEngine(testConfig(t, levels.SourcePriorDayLow))
	require.NoError(t, err)

	es := engineBar(10, 10, 0, 105, 100, 102)
	nq := engineBar(10, 10, 0, 205, 200, 202)
	nq.Symbol = "NQZ5"

	_, _, err = eng.ProcessBar(es)
	require.NoError(t, err)
	_, _, err = eng.ProcessBar(nq)
	require.NoError(t, err)

	assert.Equal(t, 2, eng.SymbolCount())

	es2 := engineBar(11, 10, 0, 103, 101, 101)
	snapshots, _, err := eng.ProcessBar(es2)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	require.NotNil(t, snapshots[0].SelectedLevel)
	assert.Equal(t, 100.0, *snapshots[0].SelectedLevel)

	nqSnaps := eng.Snapshots("NQZ5")
	require.Len(t, nqSnaps, 1)
	assert.Nil(t, nqSnaps[0].SelectedLevel)
}
