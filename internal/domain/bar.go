package domain

import "time"

// Bar represents a single OHLCV candle at the configured timeframe.
// Bars are immutable and ordered per symbol by OpenTime (UTC).
type Bar struct {
	Symbol   string    // Trading symbol
	OpenTime time.Time // Start time of the interval
	Open     float64   // Opening price
	High     float64   // Highest price
	Low      float64   // Lowest price
	Close    float64   // Closing price
	Volume   float64   // Trading volume
}

// TradeTick is a single traded-price observation, used only for
// latest-price tracking between bar closes.
type TradeTick struct {
	Symbol string
	Time   time.Time
	Price  float64
	Size   float64
}

// RegimeReading is the classifier output for one bar window. Confidences
// are in [0,1] and sum to 1.
type RegimeReading struct {
	Regime       Regime
	ConfTrend    float64
	ConfSideways float64
	ConfVolatile float64
	ComputedAt   time.Time
	Initializing bool // true while the window is shorter than the classifier minimum
}

// Confidence returns the confidence of the winning regime.
func (r RegimeReading) Confidence() float64 {
	switch r.Regime {
	case RegimeTrend:
		return r.ConfTrend
	case RegimeSideways:
		return r.ConfSideways
	case RegimeVolatile:
		return r.ConfVolatile
	default:
		return 0
	}
}
