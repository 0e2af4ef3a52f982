package ports

import (
	"context"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
)

// StreamEventType discriminates events delivered by a market data stream.
type StreamEventType int

const (
	// EventBarClose is a final bar for its interval.
	EventBarClose StreamEventType = iota
	// EventBarUpdate is a partial-bar tick for the open bar.
	EventBarUpdate
	// EventTradeTick is a single trade, used only for latest-price tracking.
	EventTradeTick
	// EventDisconnect reports a dropped upstream connection.
	EventDisconnect
)

// StreamEvent is one message from the market data subscription. Exactly one
// payload field is meaningful, selected by Type.
type StreamEvent struct {
	Type   StreamEventType
	Bar    domain.Bar       // EventBarClose, EventBarUpdate
	Tick   domain.TradeTick // EventTradeTick
	Reason string           // EventDisconnect
}

// MarketDataStream is the inbound stream of bars and trades for subscribed
// symbols. Events for each symbol are delivered in non-decreasing open-time
// order. The returned doneCh closes when the subscription terminates for any
// reason (including exhausted reconnects); sending on stopCh requests a
// graceful shutdown of the stream.
type MarketDataStream interface {
	Subscribe(ctx context.Context, symbols []string, timeframe string,
		handler func(StreamEvent), errHandler func(error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}

// HistoricalData is an optional capability of a market data source: engines
// use it to warm the bar buffers before the live stream takes over.
type HistoricalData interface {
	GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Bar, error)
}
