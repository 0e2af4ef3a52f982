package indicators

import (
	"context"
	"fmt"
	"math"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
)

// ATRConfig holds configuration for the Average True Range indicator
type ATRConfig struct {
	IndicatorConfig
}

// ATR implements the Average True Range indicator
type ATR struct {
	config ATRConfig
}

// NewATR creates a new Average True Range indicator instance
func NewATR(config ATRConfig) *ATR {
	return &ATR{config: config}
}

// Name returns the name of the indicator
func (a *ATR) Name() string {
	return "ATR"
}

// RequiredDataPoints returns the minimum number of bars needed for calculation
func (a *ATR) RequiredDataPoints() int {
	return a.config.Period + 1
}

// Calculate computes the Average True Range using Wilder's smoothing
func (a *ATR) Calculate(ctx context.Context, bars []domain.Bar) (float64, error) {
	period := a.config.Period
	if len(bars) < period+1 {
		return 0, fmt.Errorf("not enough data points for ATR calculation: need %d, got %d", period+1, len(bars))
	}

	trueRanges := trueRangeSeries(bars)

	// First ATR is the simple average of the first 'period' true ranges
	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	// Apply smoothing formula for remaining periods
	for i := period; i < len(bars); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}

	return atr, nil
}

// Median computes the median ATR over trailing windows of the given span,
// evaluating the ATR once per bar across the last span bars. Used to detect
// range contraction before a breakout.
func (a *ATR) Median(ctx context.Context, bars []domain.Bar, span int) (float64, error) {
	need := a.config.Period + span
	if len(bars) < need {
		return 0, fmt.Errorf("not enough data points for ATR median: need %d, got %d", need, len(bars))
	}
	values := make([]float64, 0, span)
	for i := len(bars) - span; i < len(bars); i++ {
		v, err := a.Calculate(ctx, bars[:i+1])
		if err != nil {
			return 0, err
		}
		values = append(values, v)
	}
	return median(values), nil
}

// trueRangeSeries computes the True Range for every bar. The first TR is
// just the high-low range.
func trueRangeSeries(bars []domain.Bar) []float64 {
	trueRanges := make([]float64, len(bars))
	trueRanges[0] = bars[0].High - bars[0].Low
	for i := 1; i < len(bars); i++ {
		high := bars[i].High
		low := bars[i].Low
		prevClose := bars[i-1].Close

		tr1 := high - low
		tr2 := math.Abs(high - prevClose)
		tr3 := math.Abs(low - prevClose)

		trueRanges[i] = math.Max(tr1, math.Max(tr2, tr3))
	}
	return trueRanges
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
