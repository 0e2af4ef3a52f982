package analytics

import (
	"math"
	"sync"
	"time"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
)

const (
	// minSamples is the smallest window the health classification will act
	// on; smaller windows report INSUFFICIENT_DATA.
	minSamples = 5

	// retainTrades bounds the in-memory trade history.
	retainTrades = 500

	// biasFullScale is the rolling Sharpe at which the selector bias
	// saturates at +/-1.
	biasFullScale = 2.0
)

// EquityPoint represents a point on the equity curve.
type EquityPoint struct {
	Time  time.Time
	Value float64
}

// PerformanceWindow holds the rolling risk-adjusted metrics over the most
// recent trades and equity samples.
type PerformanceWindow struct {
	Trades       []domain.Trade
	EquityCurve  []EquityPoint
	Sharpe       float64
	MaxDrawdown  float64
	WinRate      float64
	ProfitFactor float64
	TotalReturn  float64
	State        domain.PerformanceState
}

// Config holds the monitor's window and annualization knobs.
type Config struct {
	WindowTrades   int     // default 50
	WindowEquity   int     // default 60
	PeriodsPerYear float64 // 0 = derive from timestamps, falling back to 252
}

// Monitor records simulated and realized trade outcomes and reports rolling
// metrics. Writes come from a single goroutine (the execution loop); reads
// may come from anywhere, so state is guarded.
type Monitor struct {
	cfg Config

	mu     sync.RWMutex
	trades []domain.Trade
	equity []EquityPoint
	byKey  map[biasKey][]float64 // per (strategy, regime) trade returns
}

type biasKey struct {
	strategy string
	regime   domain.Regime
}

// NewMonitor creates a monitor with defaults applied.
func NewMonitor(cfg Config) *Monitor {
	if cfg.WindowTrades <= 0 {
		cfg.WindowTrades = 50
	}
	if cfg.WindowEquity <= 0 {
		cfg.WindowEquity = 60
	}
	return &Monitor{
		cfg:   cfg,
		byKey: make(map[biasKey][]float64),
	}
}

// RecordTrade appends a closed trade.
func (m *Monitor) RecordTrade(trade domain.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trades = append(m.trades, trade)
	if len(m.trades) > retainTrades {
		m.trades = m.trades[len(m.trades)-retainTrades:]
	}

	key := biasKey{strategy: trade.StrategyName, regime: trade.RegimeAtEntry}
	returns := append(m.byKey[key], trade.Return())
	if len(returns) > m.cfg.WindowTrades {
		returns = returns[len(returns)-m.cfg.WindowTrades:]
	}
	m.byKey[key] = returns
}

// RecordEquity appends a portfolio-value sample.
func (m *Monitor) RecordEquity(at time.Time, portfolioValue float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.equity = append(m.equity, EquityPoint{Time: at, Value: portfolioValue})
	if keep := m.cfg.WindowEquity * 4; len(m.equity) > keep {
		m.equity = m.equity[len(m.equity)-keep:]
	}
}

// Metrics computes the rolling window. A windowSize of 0 uses the
// configured default.
func (m *Monitor) Metrics(windowSize int) PerformanceWindow {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if windowSize <= 0 {
		windowSize = m.cfg.WindowTrades
	}

	trades := m.trades
	if len(trades) > windowSize {
		trades = trades[len(trades)-windowSize:]
	}
	equity := m.equity
	if len(equity) > m.cfg.WindowEquity {
		equity = equity[len(equity)-m.cfg.WindowEquity:]
	}

	win := PerformanceWindow{
		Trades:      append([]domain.Trade(nil), trades...),
		EquityCurve: append([]EquityPoint(nil), equity...),
	}

	returns := make([]float64, 0, len(trades))
	var wins int
	var grossProfit, grossLoss float64
	for _, t := range trades {
		r := t.Return()
		returns = append(returns, r)
		win.TotalReturn += r
		if t.RealizedPnL > 0 {
			wins++
			grossProfit += t.RealizedPnL
		} else {
			grossLoss -= t.RealizedPnL
		}
	}

	if len(trades) > 0 {
		win.WinRate = float64(wins) / float64(len(trades))
		switch {
		case grossLoss == 0 && grossProfit > 0:
			win.ProfitFactor = math.Inf(1)
		case grossLoss == 0:
			win.ProfitFactor = 0
		default:
			win.ProfitFactor = grossProfit / grossLoss
		}
	}

	win.Sharpe = annualizedSharpe(returns, m.periodsPerYear(trades))
	win.MaxDrawdown = maxDrawdown(equity)
	win.State = classify(win.Sharpe, win.MaxDrawdown, len(trades))
	return win
}

// State returns only the health classification for the window.
func (m *Monitor) State(windowSize int) domain.PerformanceState {
	return m.Metrics(windowSize).State
}

// StrategyBias returns a [-1,1] value derived from the rolling Sharpe of
// the strategy's most recent trades in the given regime; 0 without samples.
func (m *Monitor) StrategyBias(strategy string, regime domain.Regime) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	returns := m.byKey[biasKey{strategy: strategy, regime: regime}]
	if len(returns) < 2 {
		return 0
	}
	sharpe := annualizedSharpe(returns, 252)
	if sharpe > biasFullScale {
		return 1
	}
	if sharpe < -biasFullScale {
		return -1
	}
	return sharpe / biasFullScale
}

// periodsPerYear derives the annualization factor. Configured values win;
// otherwise it is estimated from the window's trade timestamps and falls
// back to daily trading.
func (m *Monitor) periodsPerYear(trades []domain.Trade) float64 {
	if m.cfg.PeriodsPerYear > 0 {
		return m.cfg.PeriodsPerYear
	}
	if len(trades) >= 2 {
		span := trades[len(trades)-1].ClosedAt.Sub(trades[0].ClosedAt)
		if span > 0 {
			perTrade := span / time.Duration(len(trades)-1)
			if perTrade < 24*time.Hour {
				return float64(365 * 24 * time.Hour / perTrade)
			}
		}
	}
	return 252
}

func annualizedSharpe(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	sd := math.Sqrt(variance)
	if sd == 0 {
		return 0
	}
	return mean / sd * math.Sqrt(periodsPerYear)
}

func maxDrawdown(equity []EquityPoint) float64 {
	var peak, maxDD float64
	for _, p := range equity {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			dd := (peak - p.Value) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// classify buckets the window health; ambiguous overlaps resolve to the
// worst matching bucket.
func classify(sharpe, maxDD float64, samples int) domain.PerformanceState {
	if samples < minSamples {
		return domain.PerfInsufficientData
	}
	switch {
	case sharpe < 0 || maxDD > 0.30:
		return domain.PerfPoor
	case sharpe < 1.0 || maxDD > 0.20:
		return domain.PerfDegrading
	case sharpe > 2.0 && maxDD < 0.10:
		return domain.PerfExcellent
	default:
		return domain.PerfGood
	}
}
