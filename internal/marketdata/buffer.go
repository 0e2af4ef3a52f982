package marketdata

import (
	"context"
	"fmt"
	"math"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
	"github.com/Noobiez16/Kiwi-AI/internal/ports"
	"github.com/Noobiez16/Kiwi-AI/internal/strategy/indicators"
)

// DefaultCapacity is the minimum sensible ring size: enough for SMA200 plus
// the longer baselines used by the regime classifier.
const DefaultCapacity = 250

// Value is an indicator scalar that may still be warming up.
type Value struct {
	V  float64
	OK bool
}

func value(v float64, err error) Value {
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}
	return Value{V: v, OK: true}
}

// IndicatorRow holds the derived scalars aligned with the most recent bar.
// Fields are unavailable (OK=false) until their warm-up length is reached.
type IndicatorRow struct {
	SMA20, SMA50, SMA200         Value
	EMA12, EMA26                 Value
	RSI14                        Value
	Volatility                   Value // stddev of simple returns over 20
	ATR14                        Value
	DonchianUpper, DonchianLower Value // 20
	BollUpper, BollMiddle        Value // 20, k=2
	BollLower                    Value
}

// Buffer is a fixed-capacity ring of recent bars for one symbol, with the
// derived indicator row recomputed on every committed append. It is
// exclusively owned by the engine's analysis loop; readers obtain copies
// through Snapshot.
type Buffer struct {
	symbol   string
	capacity int
	bars     []domain.Bar
	row      IndicatorRow

	sma20  *indicators.MovingAverage
	sma50  *indicators.MovingAverage
	sma200 *indicators.MovingAverage
	ema12  *indicators.MovingAverage
	ema26  *indicators.MovingAverage
	rsi14  *indicators.RSI
	vol20  *indicators.Volatility
	atr14  *indicators.ATR
	don20  *indicators.Donchian
	boll20 *indicators.Bollinger
}

// NewBuffer creates a buffer for one symbol. Capacity below DefaultCapacity
// is raised to it.
func NewBuffer(symbol string, capacity int) (*Buffer, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required for bar buffer")
	}
	if capacity < DefaultCapacity {
		capacity = DefaultCapacity
	}
	sma := func(n int) *indicators.MovingAverage {
		return indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: n},
			Type:            indicators.SimpleMovingAverage,
		})
	}
	ema := func(n int) *indicators.MovingAverage {
		return indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: n},
			Type:            indicators.ExponentialMovingAverage,
		})
	}
	return &Buffer{
		symbol:   symbol,
		capacity: capacity,
		bars:     make([]domain.Bar, 0, capacity),
		sma20:    sma(20),
		sma50:    sma(50),
		sma200:   sma(200),
		ema12:    ema(12),
		ema26:    ema(26),
		rsi14:    indicators.NewRSI(indicators.RSIConfig{IndicatorConfig: indicators.IndicatorConfig{Period: 14}}),
		vol20:    indicators.NewVolatility(indicators.VolatilityConfig{IndicatorConfig: indicators.IndicatorConfig{Period: 20}}),
		atr14:    indicators.NewATR(indicators.ATRConfig{IndicatorConfig: indicators.IndicatorConfig{Period: 14}}),
		don20:    indicators.NewDonchian(indicators.DonchianConfig{IndicatorConfig: indicators.IndicatorConfig{Period: 20}}),
		boll20:   indicators.NewBollinger(indicators.BollingerConfig{IndicatorConfig: indicators.IndicatorConfig{Period: 20}, StdDevMultiplier: 2.0}),
	}, nil
}

// Symbol returns the symbol this buffer tracks.
func (b *Buffer) Symbol() string { return b.symbol }

// Len returns the number of bars currently held.
func (b *Buffer) Len() int { return len(b.bars) }

// LatestPrice returns the close of the last bar; false when empty.
func (b *Buffer) LatestPrice() (float64, bool) {
	if len(b.bars) == 0 {
		return 0, false
	}
	return b.bars[len(b.bars)-1].Close, true
}

// AppendOrUpdate commits a bar. An open time equal to the current tail
// replaces that bar (live partial-bar updates); a strictly greater open time
// appends, evicting the oldest bar when full; a strictly lesser open time is
// rejected with ErrOutOfOrderBar. Non-finite prices are rejected with
// ErrBadPrice. The indicator row is recomputed from the tail window on every
// accepted commit.
func (b *Buffer) AppendOrUpdate(bar domain.Bar) error {
	if bar.Symbol != b.symbol {
		return fmt.Errorf("%w: bar symbol %q does not match buffer %q", ports.ErrInvalidRequest, bar.Symbol, b.symbol)
	}
	for _, p := range []float64{bar.Open, bar.High, bar.Low, bar.Close} {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("%w: %s at %s", ports.ErrBadPrice, b.symbol, bar.OpenTime)
		}
	}

	if n := len(b.bars); n > 0 {
		tail := b.bars[n-1].OpenTime
		switch {
		case bar.OpenTime.Equal(tail):
			b.bars[n-1] = bar
			b.recompute()
			return nil
		case bar.OpenTime.Before(tail):
			return fmt.Errorf("%w: %s at %s behind tail %s", ports.ErrOutOfOrderBar, b.symbol, bar.OpenTime, tail)
		}
	}

	if len(b.bars) == b.capacity {
		copy(b.bars, b.bars[1:])
		b.bars[len(b.bars)-1] = bar
	} else {
		b.bars = append(b.bars, bar)
	}
	b.recompute()
	return nil
}

// Snapshot returns a copy of up to n most-recent bars, oldest first.
func (b *Buffer) Snapshot(n int) []domain.Bar {
	if n <= 0 || n > len(b.bars) {
		n = len(b.bars)
	}
	out := make([]domain.Bar, n)
	copy(out, b.bars[len(b.bars)-n:])
	return out
}

// Indicators returns the derived row aligned with the most recent bar.
func (b *Buffer) Indicators() IndicatorRow { return b.row }

func (b *Buffer) recompute() {
	ctx := context.Background()
	bars := b.bars

	row := IndicatorRow{
		SMA20:      value(b.sma20.Calculate(ctx, bars)),
		SMA50:      value(b.sma50.Calculate(ctx, bars)),
		SMA200:     value(b.sma200.Calculate(ctx, bars)),
		EMA12:      value(b.ema12.Calculate(ctx, bars)),
		EMA26:      value(b.ema26.Calculate(ctx, bars)),
		RSI14:      value(b.rsi14.Calculate(ctx, bars)),
		Volatility: value(b.vol20.Calculate(ctx, bars)),
		ATR14:      value(b.atr14.Calculate(ctx, bars)),
	}
	if ch, err := b.don20.Calculate(ctx, bars); err == nil {
		row.DonchianUpper = Value{V: ch.Upper, OK: true}
		row.DonchianLower = Value{V: ch.Lower, OK: true}
	}
	if bb, err := b.boll20.Calculate(ctx, bars); err == nil {
		row.BollUpper = Value{V: bb.Upper, OK: true}
		row.BollMiddle = Value{V: bb.Middle, OK: true}
		row.BollLower = Value{V: bb.Lower, OK: true}
	}
	b.row = row
}
