package indicators

import (
	"context"
	"fmt"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
)

// MomentumConfig holds configuration for the rate-of-change indicator
type MomentumConfig struct {
	IndicatorConfig
}

// Momentum implements the rate of change: close_t / close_{t-n} - 1.
type Momentum struct {
	config MomentumConfig
}

// NewMomentum creates a new momentum indicator instance
func NewMomentum(config MomentumConfig) *Momentum {
	return &Momentum{config: config}
}

// Name returns the name of the indicator
func (m *Momentum) Name() string {
	return "ROC"
}

// RequiredDataPoints returns the minimum number of bars needed for calculation
func (m *Momentum) RequiredDataPoints() int {
	return m.config.Period + 1
}

// Calculate computes the rate of change over the configured period.
func (m *Momentum) Calculate(ctx context.Context, bars []domain.Bar) (float64, error) {
	period := m.config.Period
	if len(bars) < period+1 {
		return 0, fmt.Errorf("not enough data (%d) to calculate ROC for period %d", len(bars), period)
	}

	base := bars[len(bars)-1-period].Close
	if base == 0 {
		return 0, fmt.Errorf("zero base close for ROC calculation")
	}
	return bars[len(bars)-1].Close/base - 1, nil
}
