package strategies

import (
	"context"
	"fmt"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
	"github.com/Noobiez16/Kiwi-AI/internal/ports"
	"github.com/Noobiez16/Kiwi-AI/internal/strategy/indicators"
)

// TrendFollowingName is the stable identifier used by the selector and the
// suppression keys.
const TrendFollowingName = "TrendFollowing"

// TrendFollowingConfig holds parameters for the moving average crossover rule.
type TrendFollowingConfig struct {
	FastPeriod int     // e.g., 20
	SlowPeriod int     // e.g., 50
	ATRPeriod  int     // e.g., 14
	ATRCap     float64 // entry filter: suppress entries when ATR/close exceeds this; 0 disables
}

// TrendFollowing signals on moving average crossovers: BUY when the fast MA
// crosses above the slow MA, SELL on the inverse cross, HOLD otherwise.
type TrendFollowing struct {
	cfg    TrendFollowingConfig
	logger ports.Logger
	atr    *indicators.ATR
}

// NewTrendFollowing creates the strategy with validated configuration.
func NewTrendFollowing(cfg TrendFollowingConfig, logger ports.Logger) (*TrendFollowing, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for trend following strategy")
	}
	if cfg.FastPeriod <= 0 {
		cfg.FastPeriod = 20
	}
	if cfg.SlowPeriod <= 0 {
		cfg.SlowPeriod = 50
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.FastPeriod >= cfg.SlowPeriod {
		return nil, fmt.Errorf("fast MA period (%d) must be less than slow MA period (%d)", cfg.FastPeriod, cfg.SlowPeriod)
	}
	return &TrendFollowing{
		cfg:    cfg,
		logger: logger,
		atr:    indicators.NewATR(indicators.ATRConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ATRPeriod}}),
	}, nil
}

// Name returns the stable strategy identifier.
func (s *TrendFollowing) Name() string { return TrendFollowingName }

// WarmupBars returns the minimum window: the slow MA plus the previous bar
// needed to detect a crossover.
func (s *TrendFollowing) WarmupBars() int { return s.cfg.SlowPeriod + 1 }

// Suitability returns the static regime fitness.
func (s *TrendFollowing) Suitability(regime domain.Regime) float64 {
	switch regime {
	case domain.RegimeTrend:
		return 0.9
	case domain.RegimeVolatile:
		return 0.6
	case domain.RegimeSideways:
		return 0.3
	default:
		return 0.5
	}
}

// GenerateSignal detects a crossover on the most recent bar. A crossover is
// fast[t] > slow[t] while fast[t-1] <= slow[t-1] (mirror for SELL).
func (s *TrendFollowing) GenerateSignal(ctx context.Context, bars []domain.Bar) (domain.SignalSide, error) {
	if len(bars) < s.WarmupBars() {
		return domain.Hold, nil
	}

	fast, err := indicators.SeriesSMA(bars, s.cfg.FastPeriod)
	if err != nil {
		return domain.Hold, err
	}
	slow, err := indicators.SeriesSMA(bars, s.cfg.SlowPeriod)
	if err != nil {
		return domain.Hold, err
	}

	// Align the two series on the last two indices.
	fNow, fPrev := fast[len(fast)-1], fast[len(fast)-2]
	sNow, sPrev := slow[len(slow)-1], slow[len(slow)-2]

	crossedUp := fNow > sNow && fPrev <= sPrev
	crossedDown := fNow < sNow && fPrev >= sPrev
	if !crossedUp && !crossedDown {
		return domain.Hold, nil
	}

	// Optional volatility filter on entries.
	if s.cfg.ATRCap > 0 {
		close := bars[len(bars)-1].Close
		if atr, err := s.atr.Calculate(ctx, bars); err == nil && close > 0 && atr/close > s.cfg.ATRCap {
			s.logger.Debug(ctx, "Crossover suppressed by volatility filter", map[string]interface{}{
				"symbol":   bars[len(bars)-1].Symbol,
				"atrRatio": atr / close,
				"cap":      s.cfg.ATRCap,
			})
			return domain.Hold, nil
		}
	}

	if crossedUp {
		return domain.Buy, nil
	}
	return domain.Sell, nil
}
