package ports

import (
	"context"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
)

// Strategy defines the interface for trading strategies. Each strategy is an
// independent value with a stable name; the regime suitability matrix is
// explicit data on the strategy itself.
type Strategy interface {
	// Name returns the stable strategy identifier.
	Name() string

	// WarmupBars returns the minimum number of bars needed before the
	// strategy can produce a non-HOLD signal.
	WarmupBars() int

	// GenerateSignal evaluates the bar window and returns a side. Windows
	// shorter than WarmupBars always produce HOLD.
	GenerateSignal(ctx context.Context, bars []domain.Bar) (domain.SignalSide, error)

	// Suitability returns the static fitness of the strategy for a regime,
	// in [0,1].
	Suitability(regime domain.Regime) float64
}
