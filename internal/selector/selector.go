package selector

import (
	"context"
	"fmt"
	"time"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
	"github.com/Noobiez16/Kiwi-AI/internal/ports"
	"github.com/Noobiez16/Kiwi-AI/internal/strategy/strategies"
)

// Config holds the meta-policy knobs.
type Config struct {
	// Lambda weighs the performance bias against the suitability score.
	Lambda float64
	// Hysteresis is the score margin a challenger must clear to displace a
	// healthy incumbent.
	Hysteresis float64
	// SuitabilityFloor is the incumbent suitability below which a regime
	// change forces re-selection.
	SuitabilityFloor float64
	// DegradingWindows is how many consecutive degrading-or-worse windows
	// the incumbent survives before re-selection.
	DegradingWindows int
}

// DefaultConfig returns the selector defaults.
func DefaultConfig() Config {
	return Config{
		Lambda:           0.2,
		Hysteresis:       0.1,
		SuitabilityFloor: 0.5,
		DegradingWindows: 2,
	}
}

// BiasFunc reports the normalized [-1,1] performance bias for a strategy in
// a regime; 0 when there are no samples.
type BiasFunc func(strategy string, regime domain.Regime) float64

// Selector maps (regime, confidence, recent performance) to the active
// strategy. It is stateless between calls except for the one-slot current
// strategy and the counters the switch protocol needs.
type Selector struct {
	cfg    Config
	logger ports.Logger
	set    *strategies.Set

	current      string
	degradedRuns int
	lastRegime   domain.Regime
	regimeKnown  bool
}

// New creates a selector over the given strategy set.
func New(cfg Config, set *strategies.Set, logger ports.Logger) (*Selector, error) {
	if set == nil {
		return nil, fmt.Errorf("strategy set is required for selector")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for selector")
	}
	def := DefaultConfig()
	if cfg.Lambda <= 0 {
		cfg.Lambda = def.Lambda
	}
	if cfg.Hysteresis <= 0 {
		cfg.Hysteresis = def.Hysteresis
	}
	if cfg.SuitabilityFloor <= 0 {
		cfg.SuitabilityFloor = def.SuitabilityFloor
	}
	if cfg.DegradingWindows <= 0 {
		cfg.DegradingWindows = def.DegradingWindows
	}
	return &Selector{cfg: cfg, logger: logger, set: set}, nil
}

// Current returns the active strategy name ("" before the first Select).
func (s *Selector) Current() string { return s.current }

// Select picks the active strategy for this decision tick and reports a
// switch event when the active strategy actually changes.
func (s *Selector) Select(ctx context.Context, reading domain.RegimeReading, bias BiasFunc,
	incumbentState domain.PerformanceState, now time.Time) (string, *domain.SwitchEvent) {

	regime := reading.Regime
	confidence := reading.Confidence()

	candidate, candidateScore := s.best(regime, confidence, bias)

	// Track consecutive degrading-or-worse windows for the incumbent.
	switch incumbentState {
	case domain.PerfDegrading, domain.PerfPoor:
		s.degradedRuns++
	default:
		s.degradedRuns = 0
	}

	regimeChanged := s.regimeKnown && regime != s.lastRegime
	s.lastRegime = regime
	s.regimeKnown = true

	if s.current == "" {
		s.current = candidate
		ev := &domain.SwitchEvent{From: "", To: candidate, Reason: domain.SwitchReasonInitial, Regime: regime, At: now}
		s.logSwitch(ctx, ev, candidateScore)
		return s.current, ev
	}
	if candidate == s.current {
		return s.current, nil
	}

	currentScore := s.score(s.current, regime, confidence, bias)

	var reason string
	switch {
	case regimeChanged && s.suitability(s.current, regime) < s.cfg.SuitabilityFloor:
		reason = domain.SwitchReasonRegimeChange
	case s.degradedRuns >= s.cfg.DegradingWindows:
		reason = domain.SwitchReasonDegradation
	case candidateScore >= currentScore+s.cfg.Hysteresis:
		reason = domain.SwitchReasonScoreMargin
	default:
		return s.current, nil // hold the incumbent
	}

	ev := &domain.SwitchEvent{From: s.current, To: candidate, Reason: reason, Regime: regime, At: now}
	s.current = candidate
	s.degradedRuns = 0
	s.logSwitch(ctx, ev, candidateScore)
	return s.current, ev
}

// best scores every strategy and returns the argmax; the set iterates in
// name order so equal scores resolve reproducibly.
func (s *Selector) best(regime domain.Regime, confidence float64, bias BiasFunc) (string, float64) {
	bestName := ""
	bestScore := 0.0
	for _, strat := range s.set.All() {
		score := s.score(strat.Name(), regime, confidence, bias)
		if bestName == "" || score > bestScore {
			bestName, bestScore = strat.Name(), score
		}
	}
	return bestName, bestScore
}

func (s *Selector) score(name string, regime domain.Regime, confidence float64, bias BiasFunc) float64 {
	score := s.suitability(name, regime) * confidence
	if bias != nil {
		score += s.cfg.Lambda * bias(name, regime)
	}
	return score
}

func (s *Selector) suitability(name string, regime domain.Regime) float64 {
	if strat, ok := s.set.Get(name); ok {
		return strat.Suitability(regime)
	}
	return 0
}

func (s *Selector) logSwitch(ctx context.Context, ev *domain.SwitchEvent, score float64) {
	s.logger.Info(ctx, "Active strategy switched", map[string]interface{}{
		"from":   ev.From,
		"to":     ev.To,
		"reason": ev.Reason,
		"regime": ev.Regime.String(),
		"score":  score,
	})
}
