package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
	"github.com/Noobiez16/Kiwi-AI/internal/risk"
	"github.com/Noobiez16/Kiwi-AI/internal/strategy/analytics"
)

// controlMsg is one command on the control surface.
type controlMsg struct {
	feedback *feedbackCmd
	replyCh  chan EngineSnapshot
}

// SymbolStatus is the per-symbol slice of an engine snapshot.
type SymbolStatus struct {
	Symbol    string
	Bars      int
	LastPrice float64
	Regime    domain.RegimeReading
	Fatal     bool // symbol disabled after repeated integrity failures
}

// EngineSnapshot is a consistent view of the engine, served by the analysis
// worker so readers never observe torn state.
type EngineSnapshot struct {
	Running            bool
	ActiveStrategy     string
	Symbols            []SymbolStatus
	Performance        analytics.PerformanceWindow
	Risk               risk.Summary
	PendingSignals     int
	ActiveSuppressions int
	Counters           CounterValues
	At                 time.Time
}

// controlWorker consumes control commands and routes them into the analysis
// inbox, so feedback and snapshots serialize with decision ticks.
func (e *Engine) controlWorker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.ctrlCh:
			switch {
			case cmd.feedback != nil:
				select {
				case e.inbox <- inboxMsg{kind: msgFeedback, feedback: *cmd.feedback}:
				case <-ctx.Done():
					return
				}
			case cmd.replyCh != nil:
				select {
				case e.inbox <- inboxMsg{kind: msgSnapshot, replyCh: cmd.replyCh}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Accept applies a user acceptance: the pending plan is released to the
// execution worker and any matching suppression is cleared.
func (e *Engine) Accept(signalID string) error {
	return e.applyFeedback(signalID, true)
}

// Skip applies a user rejection: the signal context is suppressed for the
// configured TTL and the pending plan is discarded.
func (e *Engine) Skip(signalID string) error {
	return e.applyFeedback(signalID, false)
}

func (e *Engine) applyFeedback(signalID string, accepted bool) error {
	if engineState(e.state.Load()) != stateRunning {
		return fmt.Errorf("engine is not running")
	}
	select {
	case e.ctrlCh <- controlMsg{feedback: &feedbackCmd{signalID: signalID, accepted: accepted}}:
		return nil
	default:
		return fmt.Errorf("control channel full")
	}
}

// Snapshot requests a consistent engine view. It blocks until the analysis
// worker serves the request or the timeout elapses.
func (e *Engine) Snapshot(timeout time.Duration) (EngineSnapshot, error) {
	if engineState(e.state.Load()) != stateRunning {
		return EngineSnapshot{}, fmt.Errorf("engine is not running")
	}
	replyCh := make(chan EngineSnapshot, 1)
	select {
	case e.ctrlCh <- controlMsg{replyCh: replyCh}:
	case <-time.After(timeout):
		return EngineSnapshot{}, fmt.Errorf("control channel busy")
	}
	select {
	case snap := <-replyCh:
		return snap, nil
	case <-time.After(timeout):
		return EngineSnapshot{}, fmt.Errorf("snapshot request timed out")
	}
}

// buildSnapshot runs on the analysis worker.
func (e *Engine) buildSnapshot() EngineSnapshot {
	symbols := make([]SymbolStatus, 0, len(e.cfg.Symbols))
	for _, symbol := range e.cfg.Symbols {
		buf := e.buffers[symbol]
		price, _ := buf.LatestPrice()
		symbols = append(symbols, SymbolStatus{
			Symbol:    symbol,
			Bars:      buf.Len(),
			LastPrice: price,
			Regime:    e.lastReading[symbol],
			Fatal:     e.deadSymbols[symbol],
		})
	}

	var summary risk.Summary
	if acct := e.lastAccount.Load(); acct != nil {
		summary = e.deps.Risk.PortfolioRisk(acct, acct.OpenPositions)
	}

	return EngineSnapshot{
		Running:            engineState(e.state.Load()) == stateRunning,
		ActiveStrategy:     e.deps.Selector.Current(),
		Symbols:            symbols,
		Performance:        e.deps.Monitor.Metrics(0),
		Risk:               summary,
		PendingSignals:     len(e.pending),
		ActiveSuppressions: e.deps.Suppressor.Active(),
		Counters: CounterValues{
			StreamTransient: e.counters.StreamTransient.Load(),
			ConnectionLimit: e.counters.ConnectionLimit.Load(),
			BrokerRejects:   e.counters.BrokerRejects.Load(),
			RiskRejects:     e.counters.RiskRejects.Load(),
			DataIntegrity:   e.counters.DataIntegrity.Load(),
			OutOfOrderBars:  e.counters.OutOfOrderBars.Load(),
			Suppressed:      e.counters.Suppressed.Load(),
			Fatal:           e.counters.Fatal.Load(),
		},
		At: e.deps.Clock.Now(),
	}
}
