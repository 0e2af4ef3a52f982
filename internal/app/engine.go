package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
	"github.com/Noobiez16/Kiwi-AI/internal/marketdata"
	"github.com/Noobiez16/Kiwi-AI/internal/monitoring"
	"github.com/Noobiez16/Kiwi-AI/internal/ports"
	"github.com/Noobiez16/Kiwi-AI/internal/regime"
	"github.com/Noobiez16/Kiwi-AI/internal/risk"
	"github.com/Noobiez16/Kiwi-AI/internal/selector"
	"github.com/Noobiez16/Kiwi-AI/internal/strategy/analytics"
	"github.com/Noobiez16/Kiwi-AI/internal/strategy/strategies"
	"github.com/Noobiez16/Kiwi-AI/internal/suppressor"
)

const (
	inboxCapacity  = 256
	execCapacity   = 16
	recCapacity    = 32
	statusCapacity = 64

	// integrityLimit consecutive data errors within integrityWindow kill a
	// symbol's processing.
	integrityLimit  = 3
	integrityWindow = 60 * time.Second
)

// Config holds the engine runtime parameters.
type Config struct {
	Symbols        []string
	Timeframe      string
	MinimumBars    int           // decision threshold, default 20
	BufferCapacity int           // per-symbol ring size, default 250
	TickPeriod     time.Duration // advisory decision tick, default 3s
	PreloadBars    int           // historical warm-up when the stream supports it
	AutoExecute    bool          // submit plans without waiting for user accept
	CloseOnStop    bool          // flatten open positions during shutdown
}

// Deps bundles the collaborators the engine owns references to.
type Deps struct {
	Logger     ports.Logger
	Clock      ports.Clock
	Stream     ports.MarketDataStream
	Broker     ports.Broker
	Strategies *strategies.Set
	Classifier *regime.Classifier
	Selector   *selector.Selector
	Monitor    *analytics.Monitor
	Risk       *risk.Manager
	Suppressor *suppressor.Suppressor
	TradeRepo  ports.TradeRepository // optional journal; nil disables persistence
}

// priceMarker is implemented by brokers that need the latest traded price
// (the paper broker) to value fills.
type priceMarker interface {
	MarkPrice(symbol string, price float64)
}

type engineState int32

const (
	stateNew engineState = iota
	stateRunning
	stateStopped
)

// Counters are the typed tallies of handled stream, broker-reject,
// risk-reject, data-integrity, suppression and fatal events, visible via
// Snapshot. Failed signal generation, account queries, history preloads and
// trade-journal writes are logged but not counted.
type Counters struct {
	StreamTransient atomic.Int64
	ConnectionLimit atomic.Int64
	BrokerRejects   atomic.Int64
	RiskRejects     atomic.Int64
	DataIntegrity   atomic.Int64
	OutOfOrderBars  atomic.Int64
	Suppressed      atomic.Int64
	Fatal           atomic.Int64
}

// CounterValues is the snapshot form of Counters.
type CounterValues struct {
	StreamTransient int64
	ConnectionLimit int64
	BrokerRejects   int64
	RiskRejects     int64
	DataIntegrity   int64
	OutOfOrderBars  int64
	Suppressed      int64
	Fatal           int64
}

// Engine orchestrates the adaptive decision pipeline across four workers:
// stream intake, analysis, execution and control. A stopped engine is
// single-use; create a new instance to restart.
type Engine struct {
	cfg  Config
	deps Deps

	state    atomic.Int32
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	inbox    chan inboxMsg
	ctrlCh   chan controlMsg
	execCh   chan execRequest
	recCh    chan domain.Recommendation
	statusCh chan domain.StatusEvent
	switchCh chan domain.SwitchEvent

	wsDone chan struct{}
	wsStop chan struct{}

	counters    Counters
	lastAccount atomic.Pointer[domain.AccountSnapshot]

	// Analysis-worker-owned state; never touched elsewhere.
	buffers      map[string]*marketdata.Buffer
	lastReading  map[string]domain.RegimeReading
	lastFinal    map[string]time.Time
	lastDecision map[string]time.Time
	deadSymbols  map[string]bool
	integrity    map[string]*integrityTracker
	pending      map[string]pendingRec

	// Execution-worker-owned state.
	open map[string]*openPosition
}

type integrityTracker struct {
	count int
	first time.Time
}

type pendingRec struct {
	rec    domain.Recommendation
	plan   domain.OrderPlan
	signal domain.Signal
}

type openPosition struct {
	pos            domain.Position
	strategyName   string
	regimeAtEntry  domain.Regime
	capitalAtEntry float64
}

type msgKind int

const (
	msgStream msgKind = iota
	msgFeedback
	msgSnapshot
)

type inboxMsg struct {
	kind     msgKind
	event    ports.StreamEvent
	feedback feedbackCmd
	replyCh  chan EngineSnapshot
}

type feedbackCmd struct {
	signalID string
	accepted bool
}

type execRequest struct {
	rec    domain.Recommendation
	plan   domain.OrderPlan
	signal domain.Signal
}

// NewEngine creates an engine. All dependencies are required except the
// trade repository.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if deps.Logger == nil || deps.Clock == nil || deps.Stream == nil || deps.Broker == nil ||
		deps.Strategies == nil || deps.Classifier == nil || deps.Selector == nil ||
		deps.Monitor == nil || deps.Risk == nil || deps.Suppressor == nil {
		return nil, fmt.Errorf("missing required dependencies for trading engine")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}
	if cfg.Timeframe == "" {
		return nil, fmt.Errorf("timeframe is required")
	}
	if cfg.MinimumBars <= 0 {
		cfg.MinimumBars = 20
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = marketdata.DefaultCapacity
	}
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = 3 * time.Second
	}

	e := &Engine{
		cfg:          cfg,
		deps:         deps,
		inbox:        make(chan inboxMsg, inboxCapacity),
		ctrlCh:       make(chan controlMsg, 16),
		execCh:       make(chan execRequest, execCapacity),
		recCh:        make(chan domain.Recommendation, recCapacity),
		statusCh:     make(chan domain.StatusEvent, statusCapacity),
		switchCh:     make(chan domain.SwitchEvent, 16),
		buffers:      make(map[string]*marketdata.Buffer),
		lastReading:  make(map[string]domain.RegimeReading),
		lastFinal:    make(map[string]time.Time),
		lastDecision: make(map[string]time.Time),
		deadSymbols:  make(map[string]bool),
		integrity:    make(map[string]*integrityTracker),
		pending:      make(map[string]pendingRec),
		open:         make(map[string]*openPosition),
	}
	for _, symbol := range cfg.Symbols {
		buf, err := marketdata.NewBuffer(symbol, cfg.BufferCapacity)
		if err != nil {
			return nil, err
		}
		e.buffers[symbol] = buf
	}
	return e, nil
}

// Recommendations exposes the outbound recommendation stream.
func (e *Engine) Recommendations() <-chan domain.Recommendation { return e.recCh }

// Status exposes the outbound status event stream.
func (e *Engine) Status() <-chan domain.StatusEvent { return e.statusCh }

// Switches exposes the strategy switch event stream.
func (e *Engine) Switches() <-chan domain.SwitchEvent { return e.switchCh }

// Start subscribes to the market data stream and launches the workers.
func (e *Engine) Start(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(stateNew), int32(stateRunning)) {
		return fmt.Errorf("engine is single-use and has already been started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.runCtx = runCtx
	e.cancel = cancel

	// Prime the cached account snapshot so the analysis worker never has to
	// block on a broker call.
	if acct, err := e.deps.Broker.GetAccount(runCtx); err != nil {
		e.deps.Logger.Warn(runCtx, "Initial account query failed, risk checks start uncached", map[string]interface{}{"error": err.Error()})
	} else {
		e.lastAccount.Store(acct)
	}

	// Warm the buffers from history when the stream supports it.
	if hist, ok := e.deps.Stream.(ports.HistoricalData); ok && e.cfg.PreloadBars > 0 {
		for symbol, buf := range e.buffers {
			bars, err := hist.GetBars(runCtx, symbol, e.cfg.Timeframe, e.cfg.PreloadBars)
			if err != nil {
				e.deps.Logger.Warn(runCtx, "Historical preload failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
				continue
			}
			for _, bar := range bars {
				if err := buf.AppendOrUpdate(bar); err != nil {
					e.deps.Logger.Warn(runCtx, "Preload bar dropped", map[string]interface{}{"symbol": symbol, "error": err.Error()})
				}
			}
			e.deps.Logger.Info(runCtx, "Buffer preloaded", map[string]interface{}{"symbol": symbol, "bars": buf.Len()})
		}
	}

	wsDone, wsStop, err := e.deps.Stream.Subscribe(runCtx, e.cfg.Symbols, e.cfg.Timeframe,
		e.handleStreamEvent, e.handleStreamError)
	if err != nil {
		cancel()
		e.state.Store(int32(stateStopped))
		return fmt.Errorf("failed to subscribe to market data: %w", err)
	}
	e.wsDone = wsDone
	e.wsStop = wsStop

	e.wg.Add(4)
	go e.streamWorker(runCtx)
	go e.analysisWorker(runCtx)
	go e.executionWorker(runCtx)
	go e.controlWorker(runCtx)

	e.deps.Logger.Info(runCtx, "Trading engine started", map[string]interface{}{
		"symbols":   e.cfg.Symbols,
		"timeframe": e.cfg.Timeframe,
		"tick":      e.cfg.TickPeriod.String(),
	})
	return nil
}

// Stop shuts the engine down: the stream is closed, workers are signalled
// through the shared cancel and joined within the timeout. After Stop
// returns no further recommendations are published.
func (e *Engine) Stop(timeout time.Duration) error {
	if engineState(e.state.Load()) == stateNew {
		return fmt.Errorf("engine was never started")
	}
	var err error
	e.stopOnce.Do(func() {
		e.state.Store(int32(stateStopped))

		// Ask the stream to close first so no new events race the cancel.
		if e.wsStop != nil {
			select {
			case e.wsStop <- struct{}{}:
			default:
			}
		}

		if e.cfg.CloseOnStop {
			e.flattenPositions()
		}

		e.cancel()

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			err = fmt.Errorf("%w: workers did not join within %s", ports.ErrTimeout, timeout)
		}

		e.publishStatus(domain.StatusEvent{
			Code:    domain.StatusStopped,
			Message: "engine stopped",
			At:      e.deps.Clock.Now(),
		})
		e.deps.Logger.Info(context.Background(), "Trading engine stopped")
	})
	return err
}

func (e *Engine) flattenPositions() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	positions, err := e.deps.Broker.GetPositions(ctx)
	if err != nil {
		e.deps.Logger.Error(ctx, err, "Failed to list positions during shutdown")
		return
	}
	for _, pos := range positions {
		if err := e.deps.Broker.ClosePosition(ctx, pos.Symbol); err != nil {
			e.deps.Logger.Error(ctx, err, "Failed to close position during shutdown", map[string]interface{}{"symbol": pos.Symbol})
		}
	}
}

// --- StreamWorker ---

// handleStreamEvent runs on the stream adapter's goroutine; it only forwards
// into the engine inbox so the adapter read loop applies backpressure
// instead of losing events.
func (e *Engine) handleStreamEvent(ev ports.StreamEvent) {
	if engineState(e.state.Load()) != stateRunning {
		return
	}
	select {
	case e.inbox <- inboxMsg{kind: msgStream, event: ev}:
	case <-e.runCtx.Done():
	}
}

func (e *Engine) handleStreamError(err error) {
	ctx := context.Background()
	switch {
	case errors.Is(err, ports.ErrConnectionLimit):
		e.counters.ConnectionLimit.Add(1)
		monitoring.RecordError("connection_limit")
		e.deps.Logger.Error(ctx, err, "Upstream connection limit reached, stopping engine")
		go e.Stop(5 * time.Second)
	case errors.Is(err, ports.ErrReconnectExhausted):
		e.counters.Fatal.Add(1)
		monitoring.RecordError("reconnect_exhausted")
		e.deps.Logger.Error(ctx, err, "Stream reconnects exhausted, stopping engine")
		go e.Stop(5 * time.Second)
	default:
		e.counters.StreamTransient.Add(1)
		monitoring.RecordError("stream_transient")
		e.deps.Logger.Warn(ctx, "Transient stream error", map[string]interface{}{"error": err.Error()})
		e.publishStatus(domain.StatusEvent{
			Code:    domain.StatusStreamGap,
			Message: "stream interrupted, recovering with backoff",
			At:      e.deps.Clock.Now(),
		})
	}
}

// streamWorker watches the subscription lifetime.
func (e *Engine) streamWorker(ctx context.Context) {
	defer e.wg.Done()
	select {
	case <-ctx.Done():
	case <-e.wsDone:
		if engineState(e.state.Load()) == stateRunning {
			e.deps.Logger.Error(ctx, fmt.Errorf("market data stream closed"), "Stream terminated while engine running")
			go e.Stop(5 * time.Second)
		}
	}
}

// --- AnalysisWorker ---

// analysisWorker owns the bar buffers and the suppressor; every mutation of
// either happens on this goroutine.
func (e *Engine) analysisWorker(ctx context.Context) {
	defer e.wg.Done()

	tick := e.deps.Clock.After(e.cfg.TickPeriod)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-e.inbox:
			switch msg.kind {
			case msgStream:
				e.onStreamEvent(ctx, msg.event)
			case msgFeedback:
				e.onFeedback(ctx, msg.feedback)
			case msgSnapshot:
				msg.replyCh <- e.buildSnapshot()
			}
		case <-tick:
			tick = e.deps.Clock.After(e.cfg.TickPeriod)
			e.onTick(ctx)
		}
	}
}

func (e *Engine) onStreamEvent(ctx context.Context, ev ports.StreamEvent) {
	switch ev.Type {
	case ports.EventBarClose, ports.EventBarUpdate:
		e.onBar(ctx, ev.Bar, ev.Type == ports.EventBarClose)
	case ports.EventTradeTick:
		monitoring.SetPrice(ev.Tick.Symbol, ev.Tick.Price)
		if marker, ok := e.deps.Broker.(priceMarker); ok {
			marker.MarkPrice(ev.Tick.Symbol, ev.Tick.Price)
		}
	case ports.EventDisconnect:
		e.counters.StreamTransient.Add(1)
		e.publishStatus(domain.StatusEvent{
			Code:    domain.StatusStreamGap,
			Message: fmt.Sprintf("stream disconnect: %s", ev.Reason),
			At:      e.deps.Clock.Now(),
		})
	}
}

func (e *Engine) onBar(ctx context.Context, bar domain.Bar, final bool) {
	buf, ok := e.buffers[bar.Symbol]
	if !ok || e.deadSymbols[bar.Symbol] {
		return
	}

	if err := buf.AppendOrUpdate(bar); err != nil {
		e.recordIntegrityError(ctx, bar.Symbol, err)
		return
	}
	e.clearIntegrity(bar.Symbol)

	monitoring.SetPrice(bar.Symbol, bar.Close)
	if marker, ok := e.deps.Broker.(priceMarker); ok {
		marker.MarkPrice(bar.Symbol, bar.Close)
	}

	if final {
		e.lastFinal[bar.Symbol] = bar.OpenTime
		e.runDecision(ctx, bar.Symbol)
	}
}

func (e *Engine) recordIntegrityError(ctx context.Context, symbol string, err error) {
	if errors.Is(err, ports.ErrOutOfOrderBar) {
		e.counters.OutOfOrderBars.Add(1)
	}
	e.counters.DataIntegrity.Add(1)
	monitoring.RecordError("data_integrity")
	e.deps.Logger.Warn(ctx, "Market data event dropped", map[string]interface{}{"symbol": symbol, "error": err.Error()})

	now := e.deps.Clock.Now()
	tracker := e.integrity[symbol]
	if tracker == nil || now.Sub(tracker.first) > integrityWindow {
		tracker = &integrityTracker{first: now}
		e.integrity[symbol] = tracker
	}
	tracker.count++
	if tracker.count >= integrityLimit {
		e.counters.Fatal.Add(1)
		e.deadSymbols[symbol] = true
		e.deps.Logger.Error(ctx, fmt.Errorf("repeated data integrity failures"),
			"Symbol escalated to fatal, no longer processed", map[string]interface{}{"symbol": symbol})
	}
}

func (e *Engine) clearIntegrity(symbol string) {
	delete(e.integrity, symbol)
}

// onTick is the liveness fallback. It re-runs the pipeline only for symbols
// whose newest bar has not been analysed yet; it never fabricates signals.
func (e *Engine) onTick(ctx context.Context) {
	e.deps.Suppressor.Tick(e.deps.Clock.Now())
	for _, symbol := range e.cfg.Symbols {
		if e.deadSymbols[symbol] {
			continue
		}
		buf := e.buffers[symbol]
		if buf.Len() < e.cfg.MinimumBars {
			e.publishInitializing(symbol, buf.Len())
			continue
		}
		if e.lastFinal[symbol].After(e.lastDecision[symbol]) {
			e.runDecision(ctx, symbol)
		} else {
			e.publishStatus(domain.StatusEvent{
				Code:    domain.StatusScanning,
				Symbol:  symbol,
				Message: "scanning, no new bar since last decision",
				At:      e.deps.Clock.Now(),
			})
		}
	}
}

func (e *Engine) publishInitializing(symbol string, have int) {
	e.publishStatus(domain.StatusEvent{
		Code:    domain.StatusInitializing,
		Symbol:  symbol,
		Message: fmt.Sprintf("initializing: %d more bars needed", e.cfg.MinimumBars-have),
		At:      e.deps.Clock.Now(),
	})
}

// runDecision is one pass of the decision pipeline for one symbol. It never
// blocks on broker calls; the account view is the cached snapshot maintained
// by the execution worker.
func (e *Engine) runDecision(ctx context.Context, symbol string) {
	buf := e.buffers[symbol]
	now := e.deps.Clock.Now()

	if buf.Len() < e.cfg.MinimumBars {
		e.publishInitializing(symbol, buf.Len())
		return
	}

	window := buf.Snapshot(0)
	e.lastDecision[symbol] = window[len(window)-1].OpenTime

	reading := e.deps.Classifier.Classify(ctx, window, now)
	e.lastReading[symbol] = reading
	monitoring.SetRegimeConfidence(symbol, domain.RegimeTrend.String(), reading.ConfTrend)
	monitoring.SetRegimeConfidence(symbol, domain.RegimeSideways.String(), reading.ConfSideways)
	monitoring.SetRegimeConfidence(symbol, domain.RegimeVolatile.String(), reading.ConfVolatile)

	incumbentState := e.deps.Monitor.State(0)
	active, switchEv := e.deps.Selector.Select(ctx, reading, e.deps.Monitor.StrategyBias, incumbentState, now)
	if switchEv != nil {
		monitoring.RecordSwitch(switchEv.To, switchEv.Reason)
		select {
		case e.switchCh <- *switchEv:
		default:
		}
	}

	strat, ok := e.deps.Strategies.Get(active)
	if !ok {
		e.counters.Fatal.Add(1)
		e.deps.Logger.Error(ctx, fmt.Errorf("unknown strategy %q", active), "Selector returned unregistered strategy")
		return
	}

	side, err := strat.GenerateSignal(ctx, window)
	if err != nil {
		e.deps.Logger.Warn(ctx, "Signal generation failed", map[string]interface{}{"symbol": symbol, "strategy": active, "error": err.Error()})
		return
	}
	if side == domain.Hold {
		e.publishStatus(domain.StatusEvent{
			Code:    domain.StatusScanning,
			Symbol:  symbol,
			Message: fmt.Sprintf("%s holds in %s regime", active, reading.Regime),
			At:      now,
		})
		return
	}

	price, _ := buf.LatestPrice()
	signal := domain.Signal{
		ID:             uuid.NewString(),
		Side:           side,
		Symbol:         symbol,
		ReferencePrice: price,
		StrategyName:   active,
		Regime:         reading.Regime,
		GeneratedAt:    now,
	}

	if !e.deps.Suppressor.ShouldEmit(signal) {
		e.counters.Suppressed.Add(1)
		monitoring.RecordSuppression(symbol)
		e.publishStatus(domain.StatusEvent{
			Code:    domain.StatusSignalSuppressed,
			Symbol:  symbol,
			Message: fmt.Sprintf("%s %s signal suppressed after recent user rejection", active, side),
			At:      now,
		})
		return
	}

	row := buf.Indicators()
	atr := 0.0
	if row.ATR14.OK {
		atr = row.ATR14.V
	}
	posSide := domain.Long
	if side == domain.Sell {
		posSide = domain.Short
	}
	stop := e.deps.Risk.DeriveStopLoss(price, atr, posSide)
	assess := e.deps.Risk.AssessEntry(price, stop, atr, reading)

	plan, err := e.deps.Risk.SizeAndValidate(ctx, signal, e.lastAccount.Load(), stop, assess)
	if err != nil {
		e.counters.RiskRejects.Add(1)
		monitoring.RecordError("risk_reject")
		e.publishStatus(domain.StatusEvent{
			Code:    domain.StatusRiskRejected,
			Symbol:  symbol,
			Message: fmt.Sprintf("no trade: %v", err),
			At:      now,
		})
		return
	}

	rec := domain.Recommendation{
		SignalID:         signal.ID,
		Symbol:           symbol,
		Side:             side,
		ReferencePrice:   price,
		StrategyName:     active,
		Regime:           reading.Regime,
		RegimeConfidence: reading.Confidence(),
		RiskScore:        assess.Score,
		RiskLevel:        assess.Level,
		SuggestedQty:     plan.Quantity,
		StopLoss:         plan.StopLoss,
		TakeProfit:       plan.TakeProfit,
		GeneratedAt:      now,
		Rationale:        rationale(reading, active, side, assess),
	}

	e.pending[signal.ID] = pendingRec{rec: rec, plan: *plan, signal: signal}
	monitoring.RecordRecommendation(symbol, string(side))

	select {
	case e.recCh <- rec:
	default:
		e.deps.Logger.Warn(ctx, "Recommendation channel full, this recommendation is not delivered", map[string]interface{}{"signalID": rec.SignalID})
	}
	e.publishStatus(domain.StatusEvent{
		Code:    domain.StatusSignalEmitted,
		Symbol:  symbol,
		Message: fmt.Sprintf("%s %s at %.4f (risk %s)", active, side, price, assess.Level),
		At:      now,
	})

	if e.cfg.AutoExecute {
		e.dispatchExecution(ctx, signal.ID)
	}
}

func (e *Engine) onFeedback(ctx context.Context, fb feedbackCmd) {
	entry, ok := e.pending[fb.signalID]
	if !ok {
		e.deps.Logger.Warn(ctx, "Feedback for unknown or expired signal", map[string]interface{}{"signalID": fb.signalID})
		return
	}
	e.deps.Suppressor.RecordUserDecision(ctx, entry.signal, fb.accepted)
	if fb.accepted {
		e.dispatchExecution(ctx, fb.signalID)
		return
	}
	delete(e.pending, fb.signalID)
}

func (e *Engine) dispatchExecution(ctx context.Context, signalID string) {
	entry, ok := e.pending[signalID]
	if !ok {
		return
	}
	delete(e.pending, signalID)
	select {
	case e.execCh <- execRequest{rec: entry.rec, plan: entry.plan, signal: entry.signal}:
	case <-ctx.Done():
	}
}

func rationale(reading domain.RegimeReading, strategy string, side domain.SignalSide, assess risk.Assessment) string {
	return fmt.Sprintf("%s regime at %.0f%% confidence; %s proposes %s; entry risk %s (%.0f/100)",
		reading.Regime, reading.Confidence()*100, strategy, side, assess.Level, assess.Score)
}

// --- ExecutionWorker ---

// executionWorker consumes accepted plans one at a time, so submissions for
// the same symbol are naturally serialized. Plans that arrive while an
// earlier same-side plan for the same symbol waits are coalesced to the
// latest; opposing sides are never coalesced.
func (e *Engine) executionWorker(ctx context.Context) {
	defer e.wg.Done()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broker-submit",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	var queue []execRequest
	for {
		if len(queue) == 0 {
			select {
			case <-ctx.Done():
				return
			case req := <-e.execCh:
				queue = append(queue, req)
			}
		}

		// Drain whatever else arrived, coalescing same symbol and side.
		for drained := false; !drained; {
			select {
			case req := <-e.execCh:
				queue = coalesce(queue, req)
			default:
				drained = true
			}
		}

		req := queue[0]
		queue = queue[1:]
		e.submit(ctx, breaker, req)
	}
}

// coalesce replaces a queued same-symbol same-side request with the newer
// one; anything else is appended.
func coalesce(queue []execRequest, req execRequest) []execRequest {
	for i, q := range queue {
		if q.plan.Symbol == req.plan.Symbol && q.plan.Side == req.plan.Side {
			queue[i] = req
			return queue
		}
	}
	return append(queue, req)
}

func (e *Engine) submit(ctx context.Context, breaker *gobreaker.CircuitBreaker, req execRequest) {
	ack, err := breaker.Execute(func() (interface{}, error) {
		return e.deps.Broker.PlaceOrder(ctx, ports.OrderRequest{
			Symbol:   req.plan.Symbol,
			Side:     req.plan.Side,
			Quantity: req.plan.Quantity,
			Type:     ports.OrderMarket,
		})
	})
	now := e.deps.Clock.Now()
	if err != nil {
		e.counters.BrokerRejects.Add(1)
		monitoring.RecordError("broker_reject")
		req.rec.RejectedByBroker = true
		req.rec.RejectReason = err.Error()
		e.deps.Logger.Warn(ctx, "Order rejected by broker", map[string]interface{}{
			"symbol": req.plan.Symbol,
			"side":   string(req.plan.Side),
			"error":  err.Error(),
		})
		e.publishStatus(domain.StatusEvent{
			Code:    domain.StatusOrderRejected,
			Symbol:  req.plan.Symbol,
			Message: fmt.Sprintf("broker rejected %s: %v", req.plan.Side, err),
			At:      now,
		})
		return
	}

	orderAck := ack.(*ports.OrderAck)
	fillPrice := orderAck.AvgFillPrice
	if fillPrice == 0 {
		fillPrice = req.plan.EntryPrice
	}

	monitoring.RecordTrade(req.plan.Symbol, string(req.plan.Side))
	e.publishStatus(domain.StatusEvent{
		Code:    domain.StatusOrderAccepted,
		Symbol:  req.plan.Symbol,
		Message: fmt.Sprintf("%s %.4f %s filled at %.4f", req.plan.Side, req.plan.Quantity, req.plan.Symbol, fillPrice),
		At:      now,
	})

	e.applyFill(ctx, req, fillPrice, now)
	e.refreshAccount(ctx, now)
}

// applyFill maintains the execution worker's position book and writes closed
// trades to the monitor and the journal.
func (e *Engine) applyFill(ctx context.Context, req execRequest, fillPrice float64, now time.Time) {
	symbol := req.plan.Symbol
	current := e.open[symbol]

	closing := current != nil &&
		((current.pos.Side == domain.Long && req.plan.Side == domain.Sell) ||
			(current.pos.Side == domain.Short && req.plan.Side == domain.Buy))

	if closing {
		qty := current.pos.Quantity
		pnl := (fillPrice - current.pos.AvgEntryPrice) * qty
		if current.pos.Side == domain.Short {
			pnl = -pnl
		}
		trade := domain.Trade{
			Symbol:         symbol,
			Side:           current.pos.Side,
			Quantity:       qty,
			EntryPrice:     current.pos.AvgEntryPrice,
			ExitPrice:      fillPrice,
			OpenedAt:       current.pos.OpenedAt,
			ClosedAt:       now,
			RealizedPnL:    pnl,
			StrategyName:   current.strategyName,
			RegimeAtEntry:  current.regimeAtEntry,
			CapitalAtEntry: current.capitalAtEntry,
		}
		delete(e.open, symbol)

		e.deps.Monitor.RecordTrade(trade)
		if e.deps.TradeRepo != nil {
			if id, err := e.deps.TradeRepo.CreateTrade(ctx, &trade); err != nil {
				e.deps.Logger.Warn(ctx, "Failed to journal trade", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			} else {
				trade.ID = id
			}
		}
		return
	}

	if current != nil {
		// Same-side fill: average into the open position.
		total := current.pos.Quantity + req.plan.Quantity
		current.pos.AvgEntryPrice = (current.pos.AvgEntryPrice*current.pos.Quantity + fillPrice*req.plan.Quantity) / total
		current.pos.Quantity = total
		return
	}

	capital := 0.0
	if acct := e.lastAccount.Load(); acct != nil {
		capital = acct.PortfolioValue
	}
	posSide := domain.Long
	if req.plan.Side == domain.Sell {
		posSide = domain.Short
	}
	e.open[symbol] = &openPosition{
		pos: domain.Position{
			Symbol:        symbol,
			Side:          posSide,
			Quantity:      req.plan.Quantity,
			AvgEntryPrice: fillPrice,
			OpenedAt:      now,
		},
		strategyName:   req.signal.StrategyName,
		regimeAtEntry:  req.signal.Regime,
		capitalAtEntry: capital,
	}
}

// refreshAccount updates the cached snapshot and samples the equity curve.
func (e *Engine) refreshAccount(ctx context.Context, now time.Time) {
	acct, err := e.deps.Broker.GetAccount(ctx)
	if err != nil {
		e.deps.Logger.Warn(ctx, "Account refresh failed", map[string]interface{}{"error": err.Error()})
		return
	}
	e.lastAccount.Store(acct)
	e.deps.Monitor.RecordEquity(now, acct.PortfolioValue)
}

// --- shared ---

// publishStatus never blocks; stale status events are dropped when the
// consumer lags.
func (e *Engine) publishStatus(ev domain.StatusEvent) {
	select {
	case e.statusCh <- ev:
	default:
	}
}
