package strategies

import (
	"context"
	"fmt"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
	"github.com/Noobiez16/Kiwi-AI/internal/ports"
	"github.com/Noobiez16/Kiwi-AI/internal/strategy/indicators"
)

// VolatilityBreakoutName is the stable identifier used by the selector and
// the suppression keys.
const VolatilityBreakoutName = "VolatilityBreakout"

// VolatilityBreakoutConfig holds parameters for the Donchian breakout rule.
type VolatilityBreakoutConfig struct {
	ChannelPeriod   int // e.g., 20
	ATRPeriod       int // e.g., 14
	ContractionSpan int // bars for the ATR median baseline, e.g., 50
}

// VolatilityBreakout signals channel breaks that follow a volatility
// contraction: BUY when the close breaks above the prior Donchian upper
// band while ATR sits below its trailing median, SELL on a break below the
// lower band.
type VolatilityBreakout struct {
	cfg      VolatilityBreakoutConfig
	logger   ports.Logger
	donchian *indicators.Donchian
	atr      *indicators.ATR
}

// NewVolatilityBreakout creates the strategy with validated configuration.
func NewVolatilityBreakout(cfg VolatilityBreakoutConfig, logger ports.Logger) (*VolatilityBreakout, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for volatility breakout strategy")
	}
	if cfg.ChannelPeriod <= 0 {
		cfg.ChannelPeriod = 20
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.ContractionSpan <= 0 {
		cfg.ContractionSpan = 50
	}
	return &VolatilityBreakout{
		cfg:      cfg,
		logger:   logger,
		donchian: indicators.NewDonchian(indicators.DonchianConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ChannelPeriod}}),
		atr:      indicators.NewATR(indicators.ATRConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ATRPeriod}}),
	}, nil
}

// Name returns the stable strategy identifier.
func (s *VolatilityBreakout) Name() string { return VolatilityBreakoutName }

// WarmupBars returns the minimum window: the ATR median baseline dominates.
func (s *VolatilityBreakout) WarmupBars() int {
	warmup := s.cfg.ATRPeriod + s.cfg.ContractionSpan
	if chNeed := s.cfg.ChannelPeriod + 1; chNeed > warmup {
		warmup = chNeed
	}
	return warmup
}

// Suitability returns the static regime fitness.
func (s *VolatilityBreakout) Suitability(regime domain.Regime) float64 {
	switch regime {
	case domain.RegimeVolatile:
		return 0.9
	case domain.RegimeTrend:
		return 0.6
	case domain.RegimeSideways:
		return 0.4
	default:
		return 0.5
	}
}

// GenerateSignal checks the most recent close against the channel formed by
// the bars before it.
func (s *VolatilityBreakout) GenerateSignal(ctx context.Context, bars []domain.Bar) (domain.SignalSide, error) {
	if len(bars) < s.WarmupBars() {
		return domain.Hold, nil
	}

	// Channel excludes the breaking bar itself.
	channel, err := s.donchian.Calculate(ctx, bars[:len(bars)-1])
	if err != nil {
		return domain.Hold, err
	}
	close := bars[len(bars)-1].Close

	brokeUp := close > channel.Upper
	brokeDown := close < channel.Lower
	if !brokeUp && !brokeDown {
		return domain.Hold, nil
	}

	// Require a preceding contraction: current ATR below its trailing median.
	atr, err := s.atr.Calculate(ctx, bars)
	if err != nil {
		return domain.Hold, err
	}
	medianATR, err := s.atr.Median(ctx, bars, s.cfg.ContractionSpan)
	if err != nil {
		return domain.Hold, err
	}
	if atr >= medianATR {
		s.logger.Debug(ctx, "Breakout without contraction ignored", map[string]interface{}{
			"symbol": bars[len(bars)-1].Symbol,
			"atr":    atr,
			"median": medianATR,
		})
		return domain.Hold, nil
	}

	if brokeUp {
		return domain.Buy, nil
	}
	return domain.Sell, nil
}
