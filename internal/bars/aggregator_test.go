package bars

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/session-levels/internal/models"
)

func TestAggregator_ProcessTick(t *testing.T) {
	agg := NewAggregator(time.UTC)

	tick := &models.Tick{
		Symbol:    "ESZ5",
		Price:     150.0,
		Size:      100,
		Timestamp: time.Now(),
		Type:      "trade",
	}

	err := agg.ProcessTick(tick)
	require.NoError(t, err)

	liveBar := agg.GetLiveBar("ESZ5")
	require.NotNil(t, liveBar)
	assert.Equal(t, "ESZ5", liveBar.Symbol)
	assert.Equal(t, 150.0, liveBar.Open)
	assert.Equal(t, 150.0, liveBar.High)
	assert.Equal(t, 150.0, liveBar.Low)
	assert.Equal(t, 150.0, liveBar.Close)
	assert.Equal(t, int64(100), liveBar.Volume)
}

func TestAggregator_UpdateHighLow(t *testing.T) {
	agg := NewAggregator(time.UTC)
	now := time.Now().Truncate(time.Minute)

	ticks := []*models.Tick{
		{Symbol: "ESZ5", Price: 150.0, Size: 100, Timestamp: now, Type: "trade"},
		{Symbol: "ESZ5", Price: 151.0, Size: 200, Timestamp: now.Add(10 * time.Second), Type: "trade"},
		{Symbol: "ESZ5", Price: 149.0, Size: 50, Timestamp: now.Add(20 * time.Second), Type: "trade"},
		{Symbol: "ESZ5", Price: 150.5, Size: 75, Timestamp: now.Add(30 * time.Second), Type: "trade"},
	}

	for _, tick := range ticks {
		err := agg.ProcessTick(tick)
		require.NoError(t, err)
	}

	liveBar := agg.GetLiveBar("ESZ5")
	require.NotNil(t, liveBar)
	assert.Equal(t, 150.0, liveBar.Open)
	assert.Equal(t, 151.0, liveBar.High)
	assert.Equal(t, 149.0, liveBar.Low)
	assert.Equal(t, 150.5, liveBar.Close)
	assert.Equal(t, int64(425), liveBar.Volume)
}

func TestAggregator_MinuteBoundaryDetection(t *testing.T) {
	agg := NewAggregator(time.UTC)
	finalizedBars := make([]*models.Bar, 0)
	var finalizedMu sync.Mutex

	agg.SetOnBarFinal(func(bar *models.Bar) {
		finalizedMu.Lock()
		defer finalizedMu.Unlock()
		finalizedBars = append(finalizedBars, bar)
	})

	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

	err := agg.ProcessTick(&models.Tick{
		Symbol: "ESZ5", Price: 150.0, Size: 100, Timestamp: now, Type: "trade",
	})
	require.NoError(t, err)

	// Tick in the next minute finalizes the first bar
	err = agg.ProcessTick(&models.Tick{
		Symbol: "ESZ5", Price: 151.0, Size: 200, Timestamp: now.Add(time.Minute), Type: "trade",
	})
	require.NoError(t, err)

	// Wait for callback to complete
	time.Sleep(50 * time.Millisecond)

	finalizedMu.Lock()
	defer finalizedMu.Unlock()
	require.Len(t, finalizedBars, 1)
	assert.Equal(t, now, finalizedBars[0].Timestamp)
	assert.Equal(t, 150.0, finalizedBars[0].Close)
}

func TestAggregator_SessionFirstMarking(t *testing.T) {
	agg := NewAggregator(time.UTC)
	finalizedBars := make([]*models.Bar, 0)
	var finalizedMu sync.Mutex

	agg.SetOnBarFinal(func(bar *models.Bar) {
		finalizedMu.Lock()
		defer finalizedMu.Unlock()
		finalizedBars = append(finalizedBars, bar)
	})

	day1 := time.Date(2025, 3, 10, 15, 58, 0, 0, time.UTC)
	day2 := time.Date(2025, 3, 11, 9, 30, 0, 0, time.UTC)

	ticks := []*models.Tick{
		{Symbol: "ESZ5", Price: 100.0, Size: 10, Timestamp: day1, Type: "trade"},
		{Symbol: "ESZ5", Price: 100.5, Size: 10, Timestamp: day1.Add(time.Minute), Type: "trade"},
		{Symbol: "ESZ5", Price: 101.0, Size: 10, Timestamp: day2, Type: "trade"},
		{Symbol: "ESZ5", Price: 101.5, Size: 10, Timestamp: day2.Add(time.Minute), Type: "trade"},
	}
	for _, tick := range ticks {
		require.NoError(t, agg.ProcessTick(tick))
	}
	agg.FlushAll()

	time.Sleep(50 * time.Millisecond)

	finalizedMu.Lock()
	defer finalizedMu.Unlock()
	require.Len(t, finalizedBars, 4)

	byTimestamp := make(map[time.Time]*models.Bar)
	for _, bar := range finalizedBars {
		byTimestamp[bar.Timestamp] = bar
	}

	assert.True(t, byTimestamp[day1].SessionFirst)
	assert.False(t, byTimestamp[day1.Add(time.Minute)].SessionFirst)
	assert.True(t, byTimestamp[day2].SessionFirst)
	assert.False(t, byTimestamp[day2.Add(time.Minute)].SessionFirst)
}

func TestAggregator_InvalidTick(t *testing.T) {
	agg := NewAggregator(time.UTC)

	err := agg.ProcessTick(&models.Tick{
		Symbol: "", Price: 100.0, Size: 10, Timestamp: time.Now(), Type: "trade",
	})
	assert.ErrorIs(t, err, models.ErrInvalidSymbol)

	assert.NoError(t, agg.ProcessTick(nil))
	assert.Equal(t, 0, agg.SymbolCount())
}

func TestAggregator_MultipleSymbols(t *testing.T) {
	agg := NewAggregator(time.UTC)
	now := time.Now().Truncate(time.Minute)

	require.NoError(t, agg.ProcessTick(&models.Tick{
		Symbol: "ESZ5", Price: 100.0, Size: 10, Timestamp: now, Type: "trade",
	}))
	require.NoError(t, agg.ProcessTick(&models.Tick{
		Symbol: "NQZ5", Price: 200.0, Size: 10, Timestamp: now, Type: "trade",
	}))

	assert.Equal(t, 2, agg.SymbolCount())
	assert.Equal(t, 100.0, agg.GetLiveBar("ESZ5").Close)
	assert.Equal(t, 200.0, agg.GetLiveBar("NQZ5").Close)
}
