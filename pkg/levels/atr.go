package levels

import (
	"fmt"
	"time"

	"github.com/sdcoffey/big"
	"github.com/sdcoffey/techan"

	"github.com/mohamedkhairy/session-levels/internal/models"
)

// ATR wraps a techan Average True Range indicator so snapshot consumers can
// express the distance between close and level in volatility units
type ATR struct {
	period int
	series *techan.TimeSeries
	ind    techan.Indicator
	ready  bool
}

// NewATR creates an ATR calculator with the specified period
func NewATR(period int) (*ATR, error) {
	if period < 1 {
		return nil, fmt.Errorf("ATR period must be at least 1, got %d", period)
	}

	series := techan.NewTimeSeries()
	return &ATR{
		period: period,
		series: series,
		ind:    techan.NewAverageTrueRangeIndicator(series, period),
	}, nil
}

// Update processes a new bar and returns the current ATR value
func (a *ATR) Update(bar *models.Bar) (float64, error) {
	if bar == nil {
		return 0, fmt.Errorf("bar cannot be nil")
	}

	timePeriod := techan.NewTimePeriod(bar.Timestamp, time.Minute)
	candle := techan.NewCandle(timePeriod)
	candle.OpenPrice = big.NewDecimal(bar.Open)
	candle.MaxPrice = big.NewDecimal(bar.High)
	candle.MinPrice = big.NewDecimal(bar.Low)
	candle.ClosePrice = big.NewDecimal(bar.Close)
	candle.Volume = big.NewDecimal(float64(bar.Volume))

	a.series.AddCandle(candle)

	// techan's ATR window starts at index == period; the first bar only
	// seeds the previous close, so period+1 bars are needed
	lastIndex := a.series.LastIndex()
	if lastIndex < a.period {
		return 0, nil
	}

	value := a.ind.Calculate(lastIndex).Float()
	if value != value { // NaN guard
		return 0, nil
	}

	a.ready = true
	return value, nil
}

// Value returns the current ATR value
func (a *ATR) Value() (float64, error) {
	if !a.ready {
		return 0, fmt.Errorf("ATR not ready: need at least %d bars", a.period+1)
	}
	return a.ind.Calculate(a.series.LastIndex()).Float(), nil
}

// IsReady returns true once the ATR has enough bars
func (a *ATR) IsReady() bool {
	return a.ready
}

// Reset clears the ATR state
func (a *ATR) Reset() {
	a.series = techan.NewTimeSeries()
	a.ind = techan.NewAverageTrueRangeIndicator(a.series, a.period)
	a.ready = false
}

// Distance returns (close - level) expressed in ATR multiples.
// Returns nil while the ATR is not ready or is zero.
func (a *ATR) Distance(close, level float64) *float64 {
	if !a.ready {
		return nil
	}
	atr, err := a.Value()
	if err != nil || atr == 0 {
		return nil
	}
	d := (close - level) / atr
	return &d
}
