package indicators

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
)

func barsFromCloses(closes []float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:   "ETHUSDT",
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     c,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
			Volume:   1000,
		}
	}
	return bars
}

func TestSMACalculation(t *testing.T) {
	ma := NewMovingAverage(MovingAverageConfig{
		IndicatorConfig: IndicatorConfig{Period: 3},
		Type:            SimpleMovingAverage,
	})

	bars := barsFromCloses([]float64{10, 20, 30, 40})
	got, err := ma.Calculate(context.Background(), bars)
	if err != nil {
		t.Fatalf("SMA failed: %v", err)
	}
	if got != 30 {
		t.Errorf("Expected SMA 30, got %v", got)
	}
}

func TestSMANotEnoughData(t *testing.T) {
	ma := NewMovingAverage(MovingAverageConfig{
		IndicatorConfig: IndicatorConfig{Period: 5},
		Type:            SimpleMovingAverage,
	})
	if _, err := ma.Calculate(context.Background(), barsFromCloses([]float64{1, 2})); err == nil {
		t.Error("Expected error for insufficient data")
	}
}

func TestEMASeedEqualsSMA(t *testing.T) {
	ma := NewMovingAverage(MovingAverageConfig{
		IndicatorConfig: IndicatorConfig{Period: 4},
		Type:            ExponentialMovingAverage,
	})
	// With exactly period bars the EMA is its SMA seed.
	got, err := ma.Calculate(context.Background(), barsFromCloses([]float64{10, 20, 30, 40}))
	if err != nil {
		t.Fatalf("EMA failed: %v", err)
	}
	if got != 25 {
		t.Errorf("Expected seeded EMA 25, got %v", got)
	}
}

func TestSeriesSMAAlignment(t *testing.T) {
	series, err := SeriesSMA(barsFromCloses([]float64{1, 2, 3, 4, 5}), 2)
	if err != nil {
		t.Fatalf("SeriesSMA failed: %v", err)
	}
	want := []float64{1.5, 2.5, 3.5, 4.5}
	if len(series) != len(want) {
		t.Fatalf("Expected %d values, got %d", len(want), len(series))
	}
	for i := range want {
		if series[i] != want[i] {
			t.Errorf("series[%d] = %v, want %v", i, series[i], want[i])
		}
	}
}

func TestRSIAllGains(t *testing.T) {
	rsi := NewRSI(RSIConfig{IndicatorConfig: IndicatorConfig{Period: 14}, Overbought: 70, Oversold: 30})
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	got, err := rsi.Calculate(context.Background(), barsFromCloses(closes))
	if err != nil {
		t.Fatalf("RSI failed: %v", err)
	}
	if got != 100 {
		t.Errorf("Expected RSI 100 for monotonic gains, got %v", got)
	}
	if !rsi.IsOverbought(got) {
		t.Error("RSI 100 should be overbought")
	}
}

func TestRSIFlatIsNeutral(t *testing.T) {
	rsi := NewRSI(RSIConfig{IndicatorConfig: IndicatorConfig{Period: 14}})
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	got, err := rsi.Calculate(context.Background(), barsFromCloses(closes))
	if err != nil {
		t.Fatalf("RSI failed: %v", err)
	}
	if got != 50 {
		t.Errorf("Expected neutral RSI 50 for flat closes, got %v", got)
	}
}

func TestATRFlatRange(t *testing.T) {
	atr := NewATR(ATRConfig{IndicatorConfig: IndicatorConfig{Period: 14}})
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	// High-low spread is constant 2, so ATR converges to 2.
	got, err := atr.Calculate(context.Background(), barsFromCloses(closes))
	if err != nil {
		t.Fatalf("ATR failed: %v", err)
	}
	if math.Abs(got-2) > 1e-9 {
		t.Errorf("Expected ATR 2 for constant range, got %v", got)
	}
}

func TestMomentum(t *testing.T) {
	mom := NewMomentum(MomentumConfig{IndicatorConfig: IndicatorConfig{Period: 10}})
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	got, err := mom.Calculate(context.Background(), barsFromCloses(closes))
	if err != nil {
		t.Fatalf("Momentum failed: %v", err)
	}
	want := 119.0/109.0 - 1
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Expected ROC %v, got %v", want, got)
	}
}

func TestVolatilityOfConstantReturns(t *testing.T) {
	vol := NewVolatility(VolatilityConfig{IndicatorConfig: IndicatorConfig{Period: 10}})
	closes := make([]float64, 20)
	closes[0] = 100
	for i := 1; i < len(closes); i++ {
		closes[i] = closes[i-1] * 1.01 // constant 1% returns
	}
	got, err := vol.Calculate(context.Background(), barsFromCloses(closes))
	if err != nil {
		t.Fatalf("Volatility failed: %v", err)
	}
	if got > 1e-12 {
		t.Errorf("Expected zero stddev for constant returns, got %v", got)
	}
}

func TestDonchianChannel(t *testing.T) {
	don := NewDonchian(DonchianConfig{IndicatorConfig: IndicatorConfig{Period: 3}})
	bars := barsFromCloses([]float64{10, 50, 20, 30})
	ch, err := don.Calculate(context.Background(), bars)
	if err != nil {
		t.Fatalf("Donchian failed: %v", err)
	}
	// Window covers closes 50, 20, 30 with +/-1 high/low bands.
	if ch.Upper != 51 {
		t.Errorf("Expected upper 51, got %v", ch.Upper)
	}
	if ch.Lower != 19 {
		t.Errorf("Expected lower 19, got %v", ch.Lower)
	}
}

func TestBollingerFlatCollapsesToMiddle(t *testing.T) {
	boll := NewBollinger(BollingerConfig{IndicatorConfig: IndicatorConfig{Period: 20}, StdDevMultiplier: 2})
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100
	}
	bands, err := boll.Calculate(context.Background(), barsFromCloses(closes))
	if err != nil {
		t.Fatalf("Bollinger failed: %v", err)
	}
	if bands.Upper != 100 || bands.Middle != 100 || bands.Lower != 100 {
		t.Errorf("Expected collapsed bands at 100, got %+v", bands)
	}
}

func TestBollingerSpread(t *testing.T) {
	boll := NewBollinger(BollingerConfig{IndicatorConfig: IndicatorConfig{Period: 4}, StdDevMultiplier: 2})
	bands, err := boll.Calculate(context.Background(), barsFromCloses([]float64{98, 102, 98, 102}))
	if err != nil {
		t.Fatalf("Bollinger failed: %v", err)
	}
	if bands.Middle != 100 {
		t.Errorf("Expected middle 100, got %v", bands.Middle)
	}
	if math.Abs(bands.Upper-104) > 1e-9 || math.Abs(bands.Lower-96) > 1e-9 {
		t.Errorf("Expected bands 96/104, got %v/%v", bands.Lower, bands.Upper)
	}
}
