package ports

import (
	"context"
	"time"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
)

// OrderType distinguishes market and limit submissions.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// OrderRequest describes one order submission.
type OrderRequest struct {
	Symbol     string
	Side       domain.SignalSide // BUY or SELL
	Quantity   float64
	Type       OrderType
	LimitPrice float64 // only for OrderLimit
}

// OrderAck is returned on a successful submission.
type OrderAck struct {
	OrderID      string
	AvgFillPrice float64 // 0 until filled
	FilledQty    float64
	Status       string // NEW, FILLED, CANCELED...
	Timestamp    time.Time
}

// OrderStatus is the broker's view of a previously placed order.
type OrderStatus struct {
	OrderID      string
	State        string
	FilledQty    float64
	AvgFillPrice float64
}

// Broker is the outbound order interface. Submissions are expected to be
// idempotent on order id within a short retry window; implementations that
// cannot guarantee this must say so, and callers must not retry submits.
type Broker interface {
	// PlaceOrder submits an order. A broker-side validation failure is
	// returned as an error wrapping ErrOrderRejected with the reason.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)

	// GetPositions lists all open positions.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetAccount returns a point-in-time account snapshot.
	GetAccount(ctx context.Context) (*domain.AccountSnapshot, error)

	// ClosePosition flattens the position in the given symbol.
	ClosePosition(ctx context.Context, symbol string) error

	// OrderStatus reports the state of a previously placed order.
	OrderStatus(ctx context.Context, orderID string) (*OrderStatus, error)
}
