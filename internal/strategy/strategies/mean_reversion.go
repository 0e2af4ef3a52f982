package strategies

import (
	"context"
	"fmt"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
	"github.com/Noobiez16/Kiwi-AI/internal/ports"
	"github.com/Noobiez16/Kiwi-AI/internal/strategy/indicators"
)

// MeanReversionName is the stable identifier used by the selector and the
// suppression keys.
const MeanReversionName = "MeanReversion"

// MeanReversionConfig holds parameters for the RSI + Bollinger rule.
type MeanReversionConfig struct {
	RSIPeriod        int     // e.g., 14
	RSIOversold      float64 // e.g., 30
	RSIOverbought    float64 // e.g., 70
	BollingerPeriod  int     // e.g., 20
	BollingerStdDevs float64 // e.g., 2.0
}

// MeanReversion fades band extremes: BUY when RSI is oversold and the close
// is at or below the lower Bollinger band, SELL on the mirrored condition.
// Crossings of the middle band emit the closing side (an upward cross exits
// a long with SELL, a downward cross covers a short with BUY).
type MeanReversion struct {
	cfg    MeanReversionConfig
	logger ports.Logger
	rsi    *indicators.RSI
	boll   *indicators.Bollinger
}

// NewMeanReversion creates the strategy with validated configuration.
func NewMeanReversion(cfg MeanReversionConfig, logger ports.Logger) (*MeanReversion, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for mean reversion strategy")
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = 14
	}
	if cfg.RSIOversold <= 0 {
		cfg.RSIOversold = 30
	}
	if cfg.RSIOverbought <= 0 {
		cfg.RSIOverbought = 70
	}
	if cfg.BollingerPeriod <= 0 {
		cfg.BollingerPeriod = 20
	}
	if cfg.BollingerStdDevs <= 0 {
		cfg.BollingerStdDevs = 2.0
	}
	if cfg.RSIOverbought <= cfg.RSIOversold || cfg.RSIOverbought > 100 || cfg.RSIOversold < 0 {
		return nil, fmt.Errorf("invalid RSI thresholds (overbought %v must exceed oversold %v, within 0-100)", cfg.RSIOverbought, cfg.RSIOversold)
	}
	return &MeanReversion{
		cfg:    cfg,
		logger: logger,
		rsi: indicators.NewRSI(indicators.RSIConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod},
			Overbought:      cfg.RSIOverbought,
			Oversold:        cfg.RSIOversold,
		}),
		boll: indicators.NewBollinger(indicators.BollingerConfig{
			IndicatorConfig:  indicators.IndicatorConfig{Period: cfg.BollingerPeriod},
			StdDevMultiplier: cfg.BollingerStdDevs,
		}),
	}, nil
}

// Name returns the stable strategy identifier.
func (s *MeanReversion) Name() string { return MeanReversionName }

// WarmupBars returns the minimum window: the band period plus the extra bar
// the middle-band crossing check looks back on, with room for the RSI
// lookback.
func (s *MeanReversion) WarmupBars() int {
	warmup := s.cfg.BollingerPeriod + 1
	if rsiNeed := s.cfg.RSIPeriod + 1; rsiNeed > warmup {
		warmup = rsiNeed
	}
	return warmup
}

// Suitability returns the static regime fitness.
func (s *MeanReversion) Suitability(regime domain.Regime) float64 {
	switch regime {
	case domain.RegimeSideways:
		return 0.9
	case domain.RegimeVolatile:
		return 0.5
	case domain.RegimeTrend:
		return 0.3
	default:
		return 0.5
	}
}

// GenerateSignal evaluates the band-extreme and middle-band rules on the
// most recent bar.
func (s *MeanReversion) GenerateSignal(ctx context.Context, bars []domain.Bar) (domain.SignalSide, error) {
	if len(bars) < s.WarmupBars() {
		return domain.Hold, nil
	}

	rsiVal, err := s.rsi.Calculate(ctx, bars)
	if err != nil {
		return domain.Hold, err
	}
	bands, err := s.boll.Calculate(ctx, bars)
	if err != nil {
		return domain.Hold, err
	}

	close := bars[len(bars)-1].Close

	if s.rsi.IsOversold(rsiVal) && close <= bands.Lower {
		return domain.Buy, nil
	}
	if s.rsi.IsOverbought(rsiVal) && close >= bands.Upper {
		return domain.Sell, nil
	}

	// Middle-band re-touch: evaluate the previous bar against the bands of
	// its own window so partial-bar updates do not shift the reference.
	prevBands, err := s.boll.Calculate(ctx, bars[:len(bars)-1])
	if err != nil {
		return domain.Hold, nil
	}
	prevClose := bars[len(bars)-2].Close

	if prevClose < prevBands.Middle && close >= bands.Middle {
		return domain.Sell, nil // long exit on recovery to the mean
	}
	if prevClose > prevBands.Middle && close <= bands.Middle {
		return domain.Buy, nil // short cover on decline to the mean
	}

	return domain.Hold, nil
}
