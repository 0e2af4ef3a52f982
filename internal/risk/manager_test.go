package risk

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
	"github.com/Noobiez16/Kiwi-AI/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func testConfig() Config {
	return Config{
		Capital:             10000,
		RiskPerTrade:        0.02,
		MaxPositionFraction: 0.5,
		MaxPortfolioRisk:    0.20,
		RewardRisk:          2.0,
		StopMethod:          StopPercent,
		StopPercent:         0.02,
	}
}

func account(value, buyingPower float64, positions ...domain.Position) *domain.AccountSnapshot {
	return &domain.AccountSnapshot{
		PortfolioValue: value,
		Cash:           buyingPower,
		BuyingPower:    buyingPower,
		OpenPositions:  positions,
	}
}

func signal(side domain.SignalSide, price float64) domain.Signal {
	return domain.Signal{
		ID:             "sig-1",
		Side:           side,
		Symbol:         "ETHUSDT",
		ReferencePrice: price,
		StrategyName:   "TrendFollowing",
		Regime:         domain.RegimeTrend,
		GeneratedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func calmReading() domain.RegimeReading {
	return domain.RegimeReading{Regime: domain.RegimeTrend, ConfTrend: 0.8, ConfSideways: 0.15, ConfVolatile: 0.05}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(testConfig(), nil); err == nil {
		t.Error("Expected error for nil logger")
	}
	cfg := testConfig()
	cfg.RiskPerTrade = 0.5
	if _, err := NewManager(cfg, nopLogger{}); err == nil {
		t.Error("Expected error for risk per trade above 0.1")
	}
	cfg = testConfig()
	cfg.MaxPositionFraction = 1.5
	if _, err := NewManager(cfg, nopLogger{}); err == nil {
		t.Error("Expected error for position fraction above 1")
	}
}

func TestPositionSizingFormula(t *testing.T) {
	m, err := NewManager(testConfig(), nopLogger{})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	// capital 10000, risk 2%, entry 100, stop 99 -> floor(200/1) = 200,
	// clamped by max position 0.5*10000/100 = 50.
	assess := m.AssessEntry(100, 99, 0.2, calmReading())
	plan, err := m.SizeAndValidate(context.Background(), signal(domain.Buy, 100), account(10000, 10000), 99, assess)
	if err != nil {
		t.Fatalf("SizeAndValidate failed: %v", err)
	}
	if plan.Quantity != 50 {
		t.Errorf("Expected qty 50 after position clamp, got %v", plan.Quantity)
	}
}

func TestSizingSafetyInvariant(t *testing.T) {
	m, _ := NewManager(testConfig(), nopLogger{})

	entries := []struct{ entry, stop float64 }{
		{100, 99}, {100, 95}, {50, 49.5}, {250, 245}, {10, 9.9},
	}
	for _, tc := range entries {
		reading := calmReading()
		assess := m.AssessEntry(tc.entry, tc.stop, 0.5, reading)
		plan, err := m.SizeAndValidate(context.Background(), signal(domain.Buy, tc.entry), account(10000, 10000), tc.stop, assess)
		if errors.Is(err, ports.ErrRiskRejected) {
			continue
		}
		if err != nil {
			t.Fatalf("entry %v: %v", tc.entry, err)
		}
		if plan.Quantity*tc.entry > 0.5*10000+1e-9 {
			t.Errorf("position cap violated: qty %v entry %v", plan.Quantity, tc.entry)
		}
		if plan.Quantity*math.Abs(tc.entry-tc.stop) > 0.02*10000+1e-9 {
			t.Errorf("risk cap violated: qty %v risk/unit %v", plan.Quantity, math.Abs(tc.entry-tc.stop))
		}
	}
}

func TestRejectZeroQuantity(t *testing.T) {
	m, _ := NewManager(testConfig(), nopLogger{})
	// Tiny buying power makes the sized quantity zero.
	assess := m.AssessEntry(100, 99, 0.2, calmReading())
	_, err := m.SizeAndValidate(context.Background(), signal(domain.Buy, 100), account(10000, 50), 99, assess)
	if !errors.Is(err, ports.ErrRiskRejected) {
		t.Errorf("Expected risk reject for zero quantity, got %v", err)
	}
}

func TestRejectConcentration(t *testing.T) {
	m, _ := NewManager(testConfig(), nopLogger{})
	// Existing positions already invest 90% of the portfolio.
	existing := domain.Position{Symbol: "BTCUSDT", Side: domain.Long, Quantity: 90, AvgEntryPrice: 100}
	assess := m.AssessEntry(100, 99, 0.2, calmReading())
	_, err := m.SizeAndValidate(context.Background(), signal(domain.Buy, 100), account(10000, 10000, existing), 99, assess)
	if !errors.Is(err, ports.ErrRiskRejected) {
		t.Errorf("Expected concentration reject, got %v", err)
	}
}

func TestRejectPortfolioDrawdown(t *testing.T) {
	m, _ := NewManager(testConfig(), nopLogger{})
	// Portfolio value 7000 against capital 10000 is a 30% drawdown.
	assess := m.AssessEntry(100, 99, 0.2, calmReading())
	_, err := m.SizeAndValidate(context.Background(), signal(domain.Buy, 100), account(7000, 7000), 99, assess)
	if !errors.Is(err, ports.ErrRiskRejected) {
		t.Errorf("Expected drawdown reject, got %v", err)
	}
}

func TestDeriveStopLoss(t *testing.T) {
	m, _ := NewManager(testConfig(), nopLogger{})
	if stop := m.DeriveStopLoss(100, 0, domain.Long); stop != 98 {
		t.Errorf("Expected percent stop 98, got %v", stop)
	}
	if stop := m.DeriveStopLoss(100, 0, domain.Short); stop != 102 {
		t.Errorf("Expected short percent stop 102, got %v", stop)
	}

	cfg := testConfig()
	cfg.StopMethod = StopATR
	atrMgr, _ := NewManager(cfg, nopLogger{})
	if stop := atrMgr.DeriveStopLoss(100, 1.5, domain.Long); stop != 97 {
		t.Errorf("Expected ATR stop 97 with k=2, got %v", stop)
	}

	cfg = testConfig()
	cfg.StopMethod = StopFixed
	cfg.StopFixedOffset = 5
	fixedMgr, _ := NewManager(cfg, nopLogger{})
	if stop := fixedMgr.DeriveStopLoss(100, 0, domain.Long); stop != 95 {
		t.Errorf("Expected fixed stop 95, got %v", stop)
	}
}

func TestDeriveTakeProfit(t *testing.T) {
	m, _ := NewManager(testConfig(), nopLogger{})
	if tp := m.DeriveTakeProfit(100, 98, domain.Long); tp != 104 {
		t.Errorf("Expected take profit 104 at 2:1, got %v", tp)
	}
	if tp := m.DeriveTakeProfit(100, 102, domain.Short); tp != 96 {
		t.Errorf("Expected short take profit 96, got %v", tp)
	}
}

func TestRiskScoreBoundsAndMonotonicLevels(t *testing.T) {
	m, _ := NewManager(testConfig(), nopLogger{})

	levelRank := map[domain.RiskLevel]int{
		domain.RiskLow: 0, domain.RiskMedium: 1, domain.RiskHigh: 2, domain.RiskCritical: 3,
	}

	prevScore := -1.0
	prevRank := -1
	// Sweep increasing stop distance, ATR and volatile confidence together.
	for i := 0; i <= 10; i++ {
		f := float64(i) / 10
		reading := domain.RegimeReading{Regime: domain.RegimeVolatile, ConfVolatile: f, ConfTrend: 1 - f}
		a := m.AssessEntry(100, 100-6*f, 6*f, reading)
		if a.Score < 0 || a.Score > 100 {
			t.Fatalf("risk score out of bounds: %v", a.Score)
		}
		if a.Score < prevScore {
			t.Fatalf("score not monotonic in inputs: %v after %v", a.Score, prevScore)
		}
		if levelRank[a.Level] < prevRank {
			t.Fatalf("level not monotonic in score: %s after rank %d", a.Level, prevRank)
		}
		prevScore, prevRank = a.Score, levelRank[a.Level]
	}

	worst := m.AssessEntry(100, 90, 8, domain.RegimeReading{Regime: domain.RegimeVolatile, ConfVolatile: 1})
	if worst.Level != domain.RiskCritical || worst.Scaling != 0.25 {
		t.Errorf("Expected CRITICAL with 0.25 scaling, got %+v", worst)
	}
	best := m.AssessEntry(100, 99.8, 0.05, domain.RegimeReading{Regime: domain.RegimeTrend, ConfTrend: 1})
	if best.Level != domain.RiskLow || best.Scaling != 1.0 {
		t.Errorf("Expected LOW with 1.0 scaling, got %+v", best)
	}
}

func TestPortfolioRiskSummary(t *testing.T) {
	m, _ := NewManager(testConfig(), nopLogger{})
	pos := domain.Position{Symbol: "ETHUSDT", Side: domain.Long, Quantity: 20, AvgEntryPrice: 100}
	s := m.PortfolioRisk(account(9500, 7500, pos), []domain.Position{pos})

	if !s.WithinLimits {
		t.Error("5% drawdown should be within a 20% limit")
	}
	if math.Abs(s.Drawdown-0.05) > 1e-9 {
		t.Errorf("Expected drawdown 0.05, got %v", s.Drawdown)
	}
	if math.Abs(s.Concentration-2000.0/9500.0) > 1e-9 {
		t.Errorf("Expected concentration %v, got %v", 2000.0/9500.0, s.Concentration)
	}
}
