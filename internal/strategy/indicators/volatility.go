package indicators

import (
	"context"
	"fmt"
	"math"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
)

// VolatilityConfig holds configuration for the rolling volatility indicator
type VolatilityConfig struct {
	IndicatorConfig
}

// Volatility implements the standard deviation of simple returns over the
// configured period.
type Volatility struct {
	config VolatilityConfig
}

// NewVolatility creates a new volatility indicator instance
func NewVolatility(config VolatilityConfig) *Volatility {
	return &Volatility{config: config}
}

// Name returns the name of the indicator
func (v *Volatility) Name() string {
	return "Volatility"
}

// RequiredDataPoints returns the minimum number of bars needed; computing
// 'period' returns requires one extra close.
func (v *Volatility) RequiredDataPoints() int {
	return v.config.Period + 1
}

// Calculate computes the standard deviation of simple returns over the last
// 'period' bar-to-bar transitions.
func (v *Volatility) Calculate(ctx context.Context, bars []domain.Bar) (float64, error) {
	period := v.config.Period
	if len(bars) < period+1 {
		return 0, fmt.Errorf("not enough data (%d) to calculate volatility for period %d", len(bars), period)
	}

	returns := make([]float64, 0, period)
	for i := len(bars) - period; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev == 0 {
			return 0, fmt.Errorf("zero close price at index %d", i-1)
		}
		returns = append(returns, bars[i].Close/prev-1)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance), nil
}

// StdDevCloses computes the population standard deviation of the last
// 'period' closes. Shared by the Bollinger band calculation.
func StdDevCloses(bars []domain.Bar, period int) (float64, error) {
	if len(bars) < period {
		return 0, fmt.Errorf("not enough data (%d) for stddev of period %d", len(bars), period)
	}
	window := bars[len(bars)-period:]

	mean := 0.0
	for _, b := range window {
		mean += b.Close
	}
	mean /= float64(period)

	variance := 0.0
	for _, b := range window {
		d := b.Close - mean
		variance += d * d
	}
	variance /= float64(period)

	return math.Sqrt(variance), nil
}
