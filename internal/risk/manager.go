package risk

import (
	"context"
	"fmt"
	"math"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
	"github.com/Noobiez16/Kiwi-AI/internal/ports"
)

// StopMethod selects how the protective stop is derived.
type StopMethod string

const (
	StopPercent StopMethod = "PERCENT"
	StopATR     StopMethod = "ATR"
	StopFixed   StopMethod = "FIXED"
)

// Config holds configuration for risk management.
type Config struct {
	Capital             float64    // initial capital
	RiskPerTrade        float64    // fraction of capital risked per trade, (0, 0.1]
	MaxPositionFraction float64    // cap on position value / capital, (0, 1]
	MaxPortfolioRisk    float64    // portfolio drawdown limit
	RewardRisk          float64    // take-profit multiple of stop distance
	StopMethod          StopMethod // PERCENT, ATR or FIXED
	StopPercent         float64    // PERCENT method distance
	StopATRMultiple     float64    // ATR method multiple
	StopFixedOffset     float64    // FIXED method absolute offset
	CashFloor           float64    // fraction of capital kept uninvested
}

// Manager implements position sizing, trade validation and stop/target
// derivation.
type Manager struct {
	cfg    Config
	logger ports.Logger
}

// Assessment is the entry-risk evaluation attached to every recommendation.
type Assessment struct {
	Score   float64 // [0,100]
	Level   domain.RiskLevel
	Scaling float64 // size multiplier recommended for the level
}

// Summary is the portfolio-level risk view.
type Summary struct {
	AccountValue  float64
	TotalReturn   float64
	Drawdown      float64
	Concentration float64
	CashFraction  float64
	WithinLimits  bool
}

// Full-scale normalizations for the entry-risk score: a 5% stop distance or
// a 5% ATR/price ratio counts as maximum evidence.
const (
	stopDistanceFullScale = 0.05
	atrRatioFullScale     = 0.05
)

// NewManager creates a risk manager with validated configuration.
func NewManager(cfg Config, logger ports.Logger) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for risk manager")
	}
	if cfg.Capital <= 0 {
		return nil, fmt.Errorf("capital must be positive")
	}
	if cfg.RiskPerTrade <= 0 || cfg.RiskPerTrade > 0.1 {
		return nil, fmt.Errorf("risk per trade must be in (0, 0.1], got %v", cfg.RiskPerTrade)
	}
	if cfg.MaxPositionFraction <= 0 || cfg.MaxPositionFraction > 1 {
		return nil, fmt.Errorf("max position fraction must be in (0, 1], got %v", cfg.MaxPositionFraction)
	}
	if cfg.MaxPortfolioRisk <= 0 {
		cfg.MaxPortfolioRisk = 0.20
	}
	if cfg.RewardRisk <= 0 {
		cfg.RewardRisk = 2.0
	}
	if cfg.StopMethod == "" {
		cfg.StopMethod = StopATR
	}
	if cfg.StopPercent <= 0 {
		cfg.StopPercent = 0.02
	}
	if cfg.StopATRMultiple <= 0 {
		cfg.StopATRMultiple = 2.0
	}
	if cfg.CashFloor <= 0 {
		cfg.CashFloor = 0.05
	}
	return &Manager{cfg: cfg, logger: logger}, nil
}

// DeriveStopLoss computes the protective stop for an entry.
func (m *Manager) DeriveStopLoss(entry, atr float64, side domain.PositionSide) float64 {
	var distance float64
	switch m.cfg.StopMethod {
	case StopPercent:
		distance = entry * m.cfg.StopPercent
	case StopATR:
		if atr > 0 {
			distance = m.cfg.StopATRMultiple * atr
		} else {
			distance = entry * m.cfg.StopPercent
		}
	case StopFixed:
		distance = m.cfg.StopFixedOffset
	default:
		distance = entry * m.cfg.StopPercent
	}

	if side == domain.Short {
		return entry + distance
	}
	return math.Max(entry-distance, 0)
}

// DeriveTakeProfit mirrors the stop distance by the reward/risk multiple.
func (m *Manager) DeriveTakeProfit(entry, stop float64, side domain.PositionSide) float64 {
	risk := math.Abs(entry - stop)
	if side == domain.Short {
		return entry - m.cfg.RewardRisk*risk
	}
	return entry + m.cfg.RewardRisk*risk
}

// AssessEntry scores the proposed entry in [0,100] from the stop distance,
// the current ATR/price ratio and the regime-volatility context.
func (m *Manager) AssessEntry(entry, stop, atr float64, reading domain.RegimeReading) Assessment {
	var stopDist, atrRatio float64
	if entry > 0 {
		stopDist = clamp01(math.Abs(entry-stop) / entry / stopDistanceFullScale)
		atrRatio = clamp01(atr / entry / atrRatioFullScale)
	}
	volContext := clamp01(reading.ConfVolatile)

	score := 100 * (0.4*stopDist + 0.3*atrRatio + 0.3*volContext)

	var level domain.RiskLevel
	var scaling float64
	switch {
	case score <= 25:
		level, scaling = domain.RiskLow, 1.0
	case score <= 50:
		level, scaling = domain.RiskMedium, 0.75
	case score <= 75:
		level, scaling = domain.RiskHigh, 0.5
	default:
		level, scaling = domain.RiskCritical, 0.25
	}
	return Assessment{Score: score, Level: level, Scaling: scaling}
}

// SizeAndValidate converts a signal into a sized order plan, or rejects it
// with an error wrapping ports.ErrRiskRejected.
func (m *Manager) SizeAndValidate(ctx context.Context, sig domain.Signal, account *domain.AccountSnapshot,
	stop float64, assess Assessment) (*domain.OrderPlan, error) {

	entry := sig.ReferencePrice
	if entry <= 0 {
		return nil, fmt.Errorf("%w: non-positive reference price", ports.ErrRiskRejected)
	}
	riskPerUnit := math.Abs(entry - stop)
	if riskPerUnit == 0 {
		return nil, fmt.Errorf("%w: stop equals entry", ports.ErrRiskRejected)
	}

	capital := m.cfg.Capital
	if account != nil && account.PortfolioValue > 0 {
		capital = account.PortfolioValue
	}

	qty := math.Floor(capital * m.cfg.RiskPerTrade / riskPerUnit)

	// Clamp to the position-value cap and the available buying power.
	if maxByPosition := math.Floor(m.cfg.MaxPositionFraction * capital / entry); qty > maxByPosition {
		qty = maxByPosition
	}
	if account != nil {
		if maxByPower := math.Floor(account.BuyingPower / entry); qty > maxByPower {
			qty = maxByPower
		}
	}

	// Apply the level scaling on top of the sized quantity.
	qty = math.Floor(qty * assess.Scaling)

	if qty <= 0 {
		return nil, fmt.Errorf("%w: sized quantity is zero", ports.ErrRiskRejected)
	}
	if account != nil && qty*entry > account.BuyingPower {
		return nil, fmt.Errorf("%w: insufficient buying power (%.2f needed, %.2f available)",
			ports.ErrRiskRejected, qty*entry, account.BuyingPower)
	}

	if account != nil {
		invested := 0.0
		for _, pos := range account.OpenPositions {
			invested += pos.MarketValue(pos.AvgEntryPrice)
		}
		if account.PortfolioValue > 0 {
			concentration := (invested + qty*entry) / account.PortfolioValue
			if limit := 1 - m.cfg.CashFloor; concentration > limit {
				return nil, fmt.Errorf("%w: portfolio concentration %.1f%% exceeds %.1f%%",
					ports.ErrRiskRejected, concentration*100, limit*100)
			}
		}

		summary := m.PortfolioRisk(account, account.OpenPositions)
		if !summary.WithinLimits {
			return nil, fmt.Errorf("%w: portfolio drawdown %.1f%% exceeds %.1f%%",
				ports.ErrRiskRejected, summary.Drawdown*100, m.cfg.MaxPortfolioRisk*100)
		}
	}

	side := domain.Long
	if sig.Side == domain.Sell {
		side = domain.Short
	}

	plan := &domain.OrderPlan{
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Quantity:   qty,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: m.DeriveTakeProfit(entry, stop, side),
	}

	m.logger.Debug(ctx, "Order plan sized", map[string]interface{}{
		"symbol":    plan.Symbol,
		"side":      string(plan.Side),
		"qty":       plan.Quantity,
		"entry":     plan.EntryPrice,
		"stop":      plan.StopLoss,
		"target":    plan.TakeProfit,
		"riskLevel": string(assess.Level),
	})
	return plan, nil
}

// PortfolioRisk summarizes the account against the configured limits.
func (m *Manager) PortfolioRisk(account *domain.AccountSnapshot, positions []domain.Position) Summary {
	if account == nil {
		return Summary{WithinLimits: true}
	}

	invested := 0.0
	for _, pos := range positions {
		invested += pos.MarketValue(pos.AvgEntryPrice)
	}

	peak := math.Max(account.PortfolioValue, m.cfg.Capital)
	drawdown := 0.0
	if peak > 0 {
		drawdown = (peak - account.PortfolioValue) / peak
	}

	s := Summary{
		AccountValue: account.PortfolioValue,
		Drawdown:     drawdown,
		WithinLimits: drawdown <= m.cfg.MaxPortfolioRisk,
	}
	if m.cfg.Capital > 0 {
		s.TotalReturn = account.PortfolioValue/m.cfg.Capital - 1
	}
	if account.PortfolioValue > 0 {
		s.Concentration = invested / account.PortfolioValue
		s.CashFraction = account.Cash / account.PortfolioValue
	}
	return s
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
