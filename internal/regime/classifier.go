package regime

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
	"github.com/Noobiez16/Kiwi-AI/internal/strategy/indicators"
)

// Config holds the classifier weights and normalization scales. The six
// weights default to 1.0; the scales define how much raw evidence counts as
// "full" trend evidence so the three scores are comparable.
type Config struct {
	WeightMomentum       float64 // w1
	WeightTrendStrength  float64 // w2
	WeightRangeMomentum  float64 // w3
	WeightRangeQuiet     float64 // w4
	WeightVolZ           float64 // w5
	WeightRangeExpansion float64 // w6

	MomentumFullScale float64 // |ROC20| at which the momentum term saturates
	TrendFullScale    float64 // |SMA20-SMA50|/close at which trend strength saturates

	MinBars      int // windows shorter than this return an initializing reading
	BaselineBars int // lookback for the volatility / ATR baselines
}

// DefaultConfig returns the classifier defaults.
func DefaultConfig() Config {
	return Config{
		WeightMomentum:       1.0,
		WeightTrendStrength:  1.0,
		WeightRangeMomentum:  1.0,
		WeightRangeQuiet:     1.0,
		WeightVolZ:           1.0,
		WeightRangeExpansion: 1.0,
		MomentumFullScale:    0.05,
		TrendFullScale:       0.02,
		MinBars:              20,
		BaselineBars:         60,
	}
}

// Classifier converts a bar window into a regime reading. It is stateless
// across calls: identical windows produce identical readings.
type Classifier struct {
	cfg Config

	mom20 *indicators.Momentum
	sma20 *indicators.MovingAverage
	sma50 *indicators.MovingAverage
	vol20 *indicators.Volatility
	volNN *indicators.Volatility
	atr14 *indicators.ATR
}

// New creates a classifier. Non-positive full scales and MinBars, and a
// BaselineBars not above MinBars, are replaced by defaults; the weights are
// used as given and must be non-negative.
func New(cfg Config) (*Classifier, error) {
	def := DefaultConfig()
	if cfg.MomentumFullScale <= 0 {
		cfg.MomentumFullScale = def.MomentumFullScale
	}
	if cfg.TrendFullScale <= 0 {
		cfg.TrendFullScale = def.TrendFullScale
	}
	if cfg.MinBars <= 0 {
		cfg.MinBars = def.MinBars
	}
	if cfg.BaselineBars <= cfg.MinBars {
		cfg.BaselineBars = def.BaselineBars
	}
	if cfg.WeightMomentum < 0 || cfg.WeightTrendStrength < 0 || cfg.WeightRangeMomentum < 0 ||
		cfg.WeightRangeQuiet < 0 || cfg.WeightVolZ < 0 || cfg.WeightRangeExpansion < 0 {
		return nil, fmt.Errorf("classifier weights must be non-negative")
	}
	sma := func(n int) *indicators.MovingAverage {
		return indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: n},
			Type:            indicators.SimpleMovingAverage,
		})
	}
	return &Classifier{
		cfg:   cfg,
		mom20: indicators.NewMomentum(indicators.MomentumConfig{IndicatorConfig: indicators.IndicatorConfig{Period: 20}}),
		sma20: sma(20),
		sma50: sma(50),
		vol20: indicators.NewVolatility(indicators.VolatilityConfig{IndicatorConfig: indicators.IndicatorConfig{Period: 20}}),
		volNN: indicators.NewVolatility(indicators.VolatilityConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.BaselineBars}}),
		atr14: indicators.NewATR(indicators.ATRConfig{IndicatorConfig: indicators.IndicatorConfig{Period: 14}}),
	}, nil
}

// Classify scores the window for the three regimes. Windows shorter than
// MinBars yield an initializing TREND reading with equal confidences.
func (c *Classifier) Classify(ctx context.Context, bars []domain.Bar, now time.Time) domain.RegimeReading {
	if len(bars) < c.cfg.MinBars {
		return domain.RegimeReading{
			Regime:       domain.RegimeTrend,
			ConfTrend:    1.0 / 3.0,
			ConfSideways: 1.0 / 3.0,
			ConfVolatile: 1.0 / 3.0,
			ComputedAt:   now,
			Initializing: true,
		}
	}

	close := bars[len(bars)-1].Close

	mom, err := c.mom20.Calculate(ctx, bars)
	if err != nil {
		mom = 0
	}
	momN := clamp01(math.Abs(mom) / c.cfg.MomentumFullScale)

	trendStrength := 0.0
	if fast, err := c.sma20.Calculate(ctx, bars); err == nil && close > 0 {
		if slow, err := c.sma50.Calculate(ctx, bars); err == nil {
			trendStrength = clamp01(math.Abs(fast-slow) / close / c.cfg.TrendFullScale)
		}
	}

	// Volatility z against the longer baseline; neutral markets score 0.
	volZ := 0.0
	if v20, err := c.vol20.Calculate(ctx, bars); err == nil {
		if vBase, err := c.volNN.Calculate(ctx, bars); err == nil && vBase > 0 {
			volZ = clamp01(v20/vBase - 1)
		}
	}

	// Range expansion above the trailing ATR median; neutral markets score 0.
	rangeExpansion := 0.0
	if atr, err := c.atr14.Calculate(ctx, bars); err == nil {
		if base, err := c.atr14.Median(ctx, bars, c.cfg.BaselineBars-14); err == nil && base > 0 {
			rangeExpansion = clamp01(atr/base - 1)
		}
	}

	trendScore := c.cfg.WeightMomentum*momN + c.cfg.WeightTrendStrength*trendStrength
	rangeScore := c.cfg.WeightRangeMomentum*(1-momN) + c.cfg.WeightRangeQuiet*(1-volZ)
	volScore := c.cfg.WeightVolZ*volZ + c.cfg.WeightRangeExpansion*rangeExpansion

	scores := [3]float64{
		math.Max(0, trendScore),
		math.Max(0, rangeScore),
		math.Max(0, volScore),
	}

	// Argmax in declaration order breaks ties TREND > SIDEWAYS > VOLATILE.
	best := 0
	for i := 1; i < 3; i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}

	conf := softmax(scores)
	return domain.RegimeReading{
		Regime:       domain.Regimes[best],
		ConfTrend:    conf[0],
		ConfSideways: conf[1],
		ConfVolatile: conf[2],
		ComputedAt:   now,
	}
}

func softmax(scores [3]float64) [3]float64 {
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	var sum float64
	var out [3]float64
	for i, s := range scores {
		out[i] = math.Exp(s - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
