package suppressor

import (
	"context"
	"fmt"
	"time"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
	"github.com/Noobiez16/Kiwi-AI/internal/ports"
)

// DefaultTTL is how long a user rejection keeps gating matching signals.
const DefaultTTL = 15 * time.Minute

// Key identifies a signal context: repeated signals with the same key are
// gated after a user rejection.
type Key struct {
	Strategy string
	Regime   domain.Regime
	Side     domain.SignalSide
}

// Entry records one active suppression.
type Entry struct {
	Key   Key
	Until time.Time
	Count int
}

// Suppressor is the short-term memory of user rejections. It is owned by
// the engine's analysis loop and mutated only on decision ticks and
// user-feedback commands, so no locking is needed.
type Suppressor struct {
	ttl     time.Duration
	clock   ports.Clock
	logger  ports.Logger
	entries map[Key]*Entry
}

// New creates a suppressor. A non-positive TTL falls back to DefaultTTL.
func New(ttl time.Duration, clock ports.Clock, logger ports.Logger) (*Suppressor, error) {
	if clock == nil {
		return nil, fmt.Errorf("clock is required for suppressor")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for suppressor")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Suppressor{
		ttl:     ttl,
		clock:   clock,
		logger:  logger,
		entries: make(map[Key]*Entry),
	}, nil
}

func keyOf(sig domain.Signal) Key {
	return Key{Strategy: sig.StrategyName, Regime: sig.Regime, Side: sig.Side}
}

// ShouldEmit reports whether the signal's context is currently clear. A
// matching entry gates the signal up to and including its expiry instant;
// one instant after the TTL the signal flows again.
func (s *Suppressor) ShouldEmit(sig domain.Signal) bool {
	entry, ok := s.entries[keyOf(sig)]
	if !ok {
		return true
	}
	now := s.clock.Now()
	if now.After(entry.Until) {
		delete(s.entries, entry.Key)
		return true
	}
	return false
}

// RecordUserDecision applies user feedback. A rejection inserts or refreshes
// the matching key; an acceptance clears it immediately.
func (s *Suppressor) RecordUserDecision(ctx context.Context, sig domain.Signal, accepted bool) {
	key := keyOf(sig)
	if accepted {
		delete(s.entries, key)
		return
	}

	now := s.clock.Now()
	entry, ok := s.entries[key]
	if !ok {
		entry = &Entry{Key: key}
		s.entries[key] = entry
	}
	entry.Until = now.Add(s.ttl)
	entry.Count++
	s.logger.Info(ctx, "Signal context suppressed after user rejection", map[string]interface{}{
		"strategy": key.Strategy,
		"regime":   key.Regime.String(),
		"side":     string(key.Side),
		"until":    entry.Until,
		"count":    entry.Count,
	})
}

// Tick purges expired entries.
func (s *Suppressor) Tick(now time.Time) {
	for key, entry := range s.entries {
		if now.After(entry.Until) {
			delete(s.entries, key)
		}
	}
}

// Active returns the number of unexpired suppressions.
func (s *Suppressor) Active() int {
	return len(s.entries)
}
