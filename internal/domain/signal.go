package domain

import "time"

// Signal is a discrete BUY / SELL / HOLD decision produced by a strategy
// at a specific time.
type Signal struct {
	ID             string
	Side           SignalSide
	Symbol         string
	ReferencePrice float64
	StrategyName   string
	Regime         Regime // regime at generation
	GeneratedAt    time.Time
}

// OrderPlan is a sized, risk-validated proposal derived from a signal.
type OrderPlan struct {
	Symbol     string
	Side       SignalSide
	Quantity   float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
}

// Recommendation is a signed, sized, risk-checked proposal published to the
// user or executor.
type Recommendation struct {
	SignalID         string
	Symbol           string
	Side             SignalSide
	ReferencePrice   float64
	StrategyName     string
	Regime           Regime
	RegimeConfidence float64
	RiskScore        float64
	RiskLevel        RiskLevel
	SuggestedQty     float64
	StopLoss         float64
	TakeProfit       float64
	GeneratedAt      time.Time
	Rationale        string

	// Set after a broker submission fails validation upstream.
	RejectedByBroker bool
	RejectReason     string
}

// SwitchEvent records an actual change of the active strategy.
type SwitchEvent struct {
	From   string
	To     string
	Reason string
	Regime Regime
	At     time.Time
}

// Switch reasons emitted by the selector.
const (
	SwitchReasonInitial      = "initial_selection"
	SwitchReasonScoreMargin  = "score_margin"
	SwitchReasonDegradation  = "performance_degradation"
	SwitchReasonRegimeChange = "regime_change"
)

// StatusCode is the machine-readable code on a status event.
type StatusCode string

const (
	StatusInitializing     StatusCode = "initializing"
	StatusScanning         StatusCode = "scanning"
	StatusSignalSuppressed StatusCode = "signal_suppressed"
	StatusSignalEmitted    StatusCode = "signal_emitted"
	StatusOrderAccepted    StatusCode = "order_accepted"
	StatusOrderRejected    StatusCode = "order_rejected"
	StatusRiskRejected     StatusCode = "risk_rejected"
	StatusStreamGap        StatusCode = "stream_gap"
	StatusStopped          StatusCode = "stopped"
)

// StatusEvent describes the engine state for outside consumers (UI).
type StatusEvent struct {
	Code    StatusCode
	Symbol  string
	Message string
	At      time.Time
}
