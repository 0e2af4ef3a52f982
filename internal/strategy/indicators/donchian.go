package indicators

import (
	"context"
	"fmt"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
)

// DonchianConfig holds configuration for the Donchian channel indicator
type DonchianConfig struct {
	IndicatorConfig
}

// DonchianChannel is the high-max and low-min over the last 'period' bars.
type DonchianChannel struct {
	Upper float64
	Lower float64
}

// Donchian implements the Donchian channel indicator
type Donchian struct {
	config DonchianConfig
}

// NewDonchian creates a new Donchian channel indicator instance
func NewDonchian(config DonchianConfig) *Donchian {
	return &Donchian{config: config}
}

// Name returns the name of the indicator
func (d *Donchian) Name() string {
	return "Donchian"
}

// RequiredDataPoints returns the minimum number of bars needed for calculation
func (d *Donchian) RequiredDataPoints() int {
	return d.config.Period
}

// Calculate computes the channel over the last 'period' bars.
func (d *Donchian) Calculate(ctx context.Context, bars []domain.Bar) (DonchianChannel, error) {
	period := d.config.Period
	if len(bars) < period {
		return DonchianChannel{}, fmt.Errorf("not enough data (%d) to calculate Donchian channel for period %d", len(bars), period)
	}

	window := bars[len(bars)-period:]
	ch := DonchianChannel{Upper: window[0].High, Lower: window[0].Low}
	for _, b := range window[1:] {
		if b.High > ch.Upper {
			ch.Upper = b.High
		}
		if b.Low < ch.Lower {
			ch.Lower = b.Low
		}
	}
	return ch, nil
}
