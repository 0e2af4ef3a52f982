package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noobiez16/Kiwi-AI/internal/adapters/clock"
	"github.com/Noobiez16/Kiwi-AI/internal/domain"
	"github.com/Noobiez16/Kiwi-AI/internal/ports"
	"github.com/Noobiez16/Kiwi-AI/internal/regime"
	"github.com/Noobiez16/Kiwi-AI/internal/risk"
	"github.com/Noobiez16/Kiwi-AI/internal/selector"
	"github.com/Noobiez16/Kiwi-AI/internal/strategy/analytics"
	"github.com/Noobiez16/Kiwi-AI/internal/strategy/strategies"
	"github.com/Noobiez16/Kiwi-AI/internal/suppressor"
)

// Mock implementations

type mockLogger struct{}

func (mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockStream struct {
	mu         sync.Mutex
	handler    func(ports.StreamEvent)
	errHandler func(error)
	doneCh     chan struct{}
	stopCh     chan struct{}
}

func (m *mockStream) Subscribe(ctx context.Context, symbols []string, timeframe string,
	handler func(ports.StreamEvent), errHandler func(error)) (chan struct{}, chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
	m.errHandler = errHandler
	m.doneCh = make(chan struct{})
	m.stopCh = make(chan struct{}, 1)
	return m.doneCh, m.stopCh, nil
}

func (m *mockStream) pushBarClose(bar domain.Bar) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	h(ports.StreamEvent{Type: ports.EventBarClose, Bar: bar})
}

func (m *mockStream) failWith(err error) {
	m.mu.Lock()
	h := m.errHandler
	m.mu.Unlock()
	h(err)
}

type mockBroker struct {
	mu       sync.Mutex
	account  domain.AccountSnapshot
	placeErr error
	placed   []ports.OrderRequest
}

func (m *mockBroker) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.placeErr != nil {
		return nil, m.placeErr
	}
	m.placed = append(m.placed, req)
	return &ports.OrderAck{
		OrderID:      fmt.Sprintf("ord-%d", len(m.placed)),
		AvgFillPrice: 100,
		FilledQty:    req.Quantity,
		Status:       "FILLED",
	}, nil
}

func (m *mockBroker) placedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.placed)
}

func (m *mockBroker) GetPositions(ctx context.Context) ([]domain.Position, error) { return nil, nil }

func (m *mockBroker) GetAccount(ctx context.Context) (*domain.AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := m.account
	return &acct, nil
}

func (m *mockBroker) ClosePosition(ctx context.Context, symbol string) error { return nil }

func (m *mockBroker) OrderStatus(ctx context.Context, orderID string) (*ports.OrderStatus, error) {
	return &ports.OrderStatus{OrderID: orderID, State: "FILLED"}, nil
}

// stubStrategy emits a fixed side with a one-bar warm-up so the pipeline can
// be driven deterministically.
type stubStrategy struct {
	side atomic.Value // domain.SignalSide
}

func newStubStrategy(side domain.SignalSide) *stubStrategy {
	s := &stubStrategy{}
	s.side.Store(side)
	return s
}

func (s *stubStrategy) Name() string    { return "StubStrategy" }
func (s *stubStrategy) WarmupBars() int { return 1 }
func (s *stubStrategy) GenerateSignal(ctx context.Context, bars []domain.Bar) (domain.SignalSide, error) {
	return s.side.Load().(domain.SignalSide), nil
}
func (s *stubStrategy) Suitability(regime domain.Regime) float64 { return 0.9 }

type fixture struct {
	engine  *Engine
	stream  *mockStream
	broker  *mockBroker
	clock   *clock.Manual
	monitor *analytics.Monitor
	stub    *stubStrategy
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithAccount(t, domain.AccountSnapshot{PortfolioValue: 10000, Cash: 10000, BuyingPower: 10000})
}

func newFixtureWithAccount(t *testing.T, account domain.AccountSnapshot) *fixture {
	t.Helper()
	logger := mockLogger{}
	manual := clock.NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	stub := newStubStrategy(domain.Buy)
	set, err := strategies.NewSet(stub)
	require.NoError(t, err)

	classifier, err := regime.New(regime.DefaultConfig())
	require.NoError(t, err)

	sel, err := selector.New(selector.DefaultConfig(), set, logger)
	require.NoError(t, err)

	monitor := analytics.NewMonitor(analytics.Config{})

	riskMgr, err := risk.NewManager(risk.Config{
		Capital:             10000,
		RiskPerTrade:        0.02,
		MaxPositionFraction: 0.1,
		MaxPortfolioRisk:    0.20,
		RewardRisk:          2.0,
		StopMethod:          risk.StopPercent,
		StopPercent:         0.02,
	}, logger)
	require.NoError(t, err)

	suppr, err := suppressor.New(15*time.Minute, manual, logger)
	require.NoError(t, err)

	stream := &mockStream{}
	broker := &mockBroker{account: account}

	engine, err := NewEngine(Config{
		Symbols:     []string{"ETHUSDT"},
		Timeframe:   "1m",
		MinimumBars: 20,
		TickPeriod:  3 * time.Second,
	}, Deps{
		Logger:     logger,
		Clock:      manual,
		Stream:     stream,
		Broker:     broker,
		Strategies: set,
		Classifier: classifier,
		Selector:   sel,
		Monitor:    monitor,
		Risk:       riskMgr,
		Suppressor: suppr,
	})
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(func() { _ = engine.Stop(2 * time.Second) })

	return &fixture{engine: engine, stream: stream, broker: broker, clock: manual, monitor: monitor, stub: stub}
}

func (f *fixture) pushBars(n int, startMinute int, price float64) {
	for i := 0; i < n; i++ {
		minute := startMinute + i
		f.stream.pushBarClose(domain.Bar{
			Symbol:   "ETHUSDT",
			OpenTime: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(minute) * time.Minute),
			Open:     price,
			High:     price + 0.2,
			Low:      price - 0.2,
			Close:    price,
			Volume:   1000,
		})
	}
}

// sync round-trips a snapshot through the control and analysis workers,
// guaranteeing every previously pushed event has been processed.
func (f *fixture) sync(t *testing.T) EngineSnapshot {
	t.Helper()
	snap, err := f.engine.Snapshot(2 * time.Second)
	require.NoError(t, err)
	return snap
}

func (f *fixture) nextRec(t *testing.T, timeout time.Duration) (domain.Recommendation, bool) {
	t.Helper()
	select {
	case rec := <-f.engine.Recommendations():
		return rec, true
	case <-time.After(timeout):
		return domain.Recommendation{}, false
	}
}

func (f *fixture) drainRecs() {
	for {
		select {
		case <-f.engine.Recommendations():
		default:
			return
		}
	}
}

func (f *fixture) waitStatus(t *testing.T, code domain.StatusCode, timeout time.Duration) domain.StatusEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-f.engine.Status():
			if ev.Code == code {
				return ev
			}
		case <-deadline:
			t.Fatalf("status %s not observed within %s", code, timeout)
		}
	}
}

func TestEngineInitializing(t *testing.T) {
	f := newFixture(t)

	f.pushBars(10, 0, 100)
	snap := f.sync(t)

	require.Len(t, snap.Symbols, 1)
	assert.Equal(t, 10, snap.Symbols[0].Bars)

	f.waitStatus(t, domain.StatusInitializing, 2*time.Second)
	if _, ok := f.nextRec(t, 100*time.Millisecond); ok {
		t.Fatal("No recommendation may be published while initializing")
	}
}

func TestEngineEmitsRecommendation(t *testing.T) {
	f := newFixture(t)

	f.pushBars(20, 0, 100)
	rec, ok := f.nextRec(t, 2*time.Second)
	require.True(t, ok, "expected a recommendation once minimum bars reached")

	assert.Equal(t, "ETHUSDT", rec.Symbol)
	assert.Equal(t, domain.Buy, rec.Side)
	assert.Equal(t, "StubStrategy", rec.StrategyName)
	assert.NotEmpty(t, rec.SignalID)
	assert.InDelta(t, 100, rec.ReferencePrice, 1e-9)
	assert.InDelta(t, 98, rec.StopLoss, 1e-9)
	assert.InDelta(t, 104, rec.TakeProfit, 1e-9)
	// floor(10000*0.02/2) = 100, clamped to 0.1*10000/100 = 10.
	assert.InDelta(t, 10, rec.SuggestedQty, 1e-9)
	assert.GreaterOrEqual(t, rec.RiskScore, 0.0)
	assert.LessOrEqual(t, rec.RiskScore, 100.0)
	assert.NotEmpty(t, rec.Rationale)

	snap := f.sync(t)
	assert.Equal(t, "StubStrategy", snap.ActiveStrategy)
}

func TestEngineSuppressionLifecycle(t *testing.T) {
	f := newFixture(t)

	f.pushBars(20, 0, 100)
	rec, ok := f.nextRec(t, 2*time.Second)
	require.True(t, ok)
	f.sync(t)
	f.drainRecs()

	// User skips: the (strategy, regime, side) context is gated.
	require.NoError(t, f.engine.Skip(rec.SignalID))
	f.sync(t)

	f.pushBars(3, 20, 100)
	f.sync(t)
	if _, ok := f.nextRec(t, 100*time.Millisecond); ok {
		t.Fatal("Expected suppression to gate matching signals")
	}
	snap := f.sync(t)
	assert.Greater(t, snap.Counters.Suppressed, int64(0))
	assert.Equal(t, 1, snap.ActiveSuppressions)

	// One instant past the TTL the next signal flows again.
	f.clock.Advance(15*time.Minute + time.Second)
	f.pushBars(1, 23, 100)
	if _, ok := f.nextRec(t, 2*time.Second); !ok {
		t.Fatal("Expected recommendation after suppression expiry")
	}
}

func TestEngineExecutesAcceptedPlan(t *testing.T) {
	f := newFixture(t)

	f.pushBars(20, 0, 100)
	rec, ok := f.nextRec(t, 2*time.Second)
	require.True(t, ok)
	f.drainRecs()

	require.NoError(t, f.engine.Accept(rec.SignalID))
	f.waitStatus(t, domain.StatusOrderAccepted, 2*time.Second)
	require.Equal(t, 1, f.broker.placedCount())

	// Flip the stub to SELL; the closing fill produces a recorded trade.
	f.stub.side.Store(domain.Sell)
	f.pushBars(1, 20, 100)
	sellRec, ok := f.nextRec(t, 2*time.Second)
	require.True(t, ok)
	require.Equal(t, domain.Sell, sellRec.Side)

	require.NoError(t, f.engine.Accept(sellRec.SignalID))
	f.waitStatus(t, domain.StatusOrderAccepted, 2*time.Second)
	require.Equal(t, 2, f.broker.placedCount())

	require.Eventually(t, func() bool {
		return len(f.monitor.Metrics(0).Trades) == 1
	}, 2*time.Second, 10*time.Millisecond, "closing fill must record exactly one trade")
}

func TestEngineBrokerReject(t *testing.T) {
	f := newFixture(t)
	f.broker.mu.Lock()
	f.broker.placeErr = fmt.Errorf("%w: insufficient buying power", ports.ErrOrderRejected)
	f.broker.mu.Unlock()

	f.pushBars(20, 0, 100)
	rec, ok := f.nextRec(t, 2*time.Second)
	require.True(t, ok)
	f.drainRecs()

	require.NoError(t, f.engine.Accept(rec.SignalID))
	f.waitStatus(t, domain.StatusOrderRejected, 2*time.Second)

	// The monitor records no trade on a broker reject.
	assert.Empty(t, f.monitor.Metrics(0).Trades)

	// The engine keeps publishing further recommendations.
	f.pushBars(1, 20, 100)
	if _, ok := f.nextRec(t, 2*time.Second); !ok {
		t.Fatal("Engine must continue after a broker reject")
	}
	snap := f.sync(t)
	assert.Greater(t, snap.Counters.BrokerRejects, int64(0))
}

func TestEngineRiskRejectIsInformational(t *testing.T) {
	// Starved buying power makes local sizing reject every plan.
	f := newFixtureWithAccount(t, domain.AccountSnapshot{PortfolioValue: 10000, Cash: 10, BuyingPower: 10})

	f.pushBars(20, 0, 100)
	f.waitStatus(t, domain.StatusRiskRejected, 2*time.Second)

	if _, ok := f.nextRec(t, 100*time.Millisecond); ok {
		t.Fatal("Risk-rejected signals must not publish recommendations")
	}
	snap := f.sync(t)
	assert.Greater(t, snap.Counters.RiskRejects, int64(0))
}

func TestEngineGracefulShutdown(t *testing.T) {
	f := newFixture(t)

	f.pushBars(25, 0, 100)
	f.sync(t)

	require.NoError(t, f.engine.Stop(2*time.Second))

	// After Stop returns no further recommendations are published.
	f.drainRecs()
	f.stream.pushBarClose(domain.Bar{
		Symbol:   "ETHUSDT",
		OpenTime: time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC),
		Open:     100, High: 100.2, Low: 99.8, Close: 100, Volume: 1000,
	})
	if _, ok := f.nextRec(t, 200*time.Millisecond); ok {
		t.Fatal("Recommendation published after Stop returned")
	}

	// The engine is single-use.
	require.Error(t, f.engine.Start(context.Background()))
}

func TestEngineStopsOnConnectionLimit(t *testing.T) {
	f := newFixture(t)

	f.stream.failWith(fmt.Errorf("%w: upstream refused subscription", ports.ErrConnectionLimit))

	require.Eventually(t, func() bool {
		_, err := f.engine.Snapshot(100 * time.Millisecond)
		return err != nil
	}, 3*time.Second, 20*time.Millisecond, "engine must transition to stopped on connection limit")
}

func TestEngineOutOfOrderBarsDropped(t *testing.T) {
	f := newFixture(t)

	f.pushBars(25, 0, 100)
	f.sync(t)
	f.drainRecs()

	// An out-of-order bar is dropped and counted, not applied.
	f.stream.pushBarClose(domain.Bar{
		Symbol:   "ETHUSDT",
		OpenTime: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), // behind the tail
		Open:     50, High: 50.2, Low: 49.8, Close: 50, Volume: 1000,
	})
	snap := f.sync(t)
	assert.Equal(t, 25, snap.Symbols[0].Bars)
	assert.Greater(t, snap.Counters.OutOfOrderBars, int64(0))
	assert.InDelta(t, 100, snap.Symbols[0].LastPrice, 1e-9)
}
