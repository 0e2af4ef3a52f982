package indicators

import (
	"context"
	"fmt"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
)

// BollingerConfig holds configuration for the Bollinger band indicator
type BollingerConfig struct {
	IndicatorConfig
	StdDevMultiplier float64 // k, typically 2.0
}

// BollingerBands holds the three band values.
type BollingerBands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger implements SMA(n) +/- k*stddev(n) bands over closes.
type Bollinger struct {
	config BollingerConfig
}

// NewBollinger creates a new Bollinger band indicator instance
func NewBollinger(config BollingerConfig) *Bollinger {
	return &Bollinger{config: config}
}

// Name returns the name of the indicator
func (b *Bollinger) Name() string {
	return "Bollinger"
}

// RequiredDataPoints returns the minimum number of bars needed for calculation
func (b *Bollinger) RequiredDataPoints() int {
	return b.config.Period
}

// Calculate computes the bands over the last 'period' closes.
func (b *Bollinger) Calculate(ctx context.Context, bars []domain.Bar) (BollingerBands, error) {
	period := b.config.Period
	if len(bars) < period {
		return BollingerBands{}, fmt.Errorf("not enough data (%d) to calculate Bollinger bands for period %d", len(bars), period)
	}

	window := bars[len(bars)-period:]
	middle := 0.0
	for _, bar := range window {
		middle += bar.Close
	}
	middle /= float64(period)

	sd, err := StdDevCloses(bars, period)
	if err != nil {
		return BollingerBands{}, err
	}

	offset := b.config.StdDevMultiplier * sd
	return BollingerBands{
		Upper:  middle + offset,
		Middle: middle,
		Lower:  middle - offset,
	}, nil
}
