package paperbroker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
	"github.com/Noobiez16/Kiwi-AI/internal/ports"
)

// Broker is an in-memory ports.Broker with immediate simulated fills. It
// tracks cash and positions so risk checks in PAPER mode see a realistic
// account.
type Broker struct {
	logger ports.Logger
	clock  ports.Clock

	mu        sync.Mutex
	cash      float64
	positions map[string]*domain.Position
	lastPrice map[string]float64
	orders    map[string]*ports.OrderStatus
}

// Config holds the simulated account parameters.
type Config struct {
	InitialCash float64
	Logger      ports.Logger
	Clock       ports.Clock
}

// New creates a paper broker.
func New(cfg Config) (*Broker, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for paper broker")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock is required for paper broker")
	}
	if cfg.InitialCash <= 0 {
		return nil, fmt.Errorf("initial cash must be positive")
	}
	return &Broker{
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		cash:      cfg.InitialCash,
		positions: make(map[string]*domain.Position),
		lastPrice: make(map[string]float64),
		orders:    make(map[string]*ports.OrderStatus),
	}, nil
}

// MarkPrice records the latest traded price so account valuation and market
// fills track the stream.
func (b *Broker) MarkPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastPrice[symbol] = price
}

// PlaceOrder fills market orders immediately at the last marked price.
func (b *Broker) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderAck, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: non-positive quantity", ports.ErrOrderRejected)
	}
	if req.Side != domain.Buy && req.Side != domain.Sell {
		return nil, fmt.Errorf("%w: unsupported side %q", ports.ErrOrderRejected, req.Side)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	price, ok := b.lastPrice[req.Symbol]
	if !ok || price <= 0 {
		return nil, fmt.Errorf("%w: no price observed for %s", ports.ErrOrderRejected, req.Symbol)
	}
	if req.Type == ports.OrderLimit && req.LimitPrice > 0 {
		price = req.LimitPrice
	}

	cost := req.Quantity * price
	if req.Side == domain.Buy && cost > b.cash {
		return nil, fmt.Errorf("%w: insufficient buying power (%.2f needed, %.2f available)",
			ports.ErrOrderRejected, cost, b.cash)
	}

	b.applyFill(req, price)

	ack := &ports.OrderAck{
		OrderID:      uuid.NewString(),
		AvgFillPrice: price,
		FilledQty:    req.Quantity,
		Status:       "FILLED",
		Timestamp:    b.clock.Now(),
	}
	b.orders[ack.OrderID] = &ports.OrderStatus{
		OrderID:      ack.OrderID,
		State:        "FILLED",
		FilledQty:    req.Quantity,
		AvgFillPrice: price,
	}

	b.logger.Info(ctx, "Paper order filled", map[string]interface{}{
		"symbol":  req.Symbol,
		"side":    string(req.Side),
		"qty":     req.Quantity,
		"price":   price,
		"orderID": ack.OrderID,
	})
	return ack, nil
}

// applyFill mutates cash and positions; callers hold the lock.
func (b *Broker) applyFill(req ports.OrderRequest, price float64) {
	pos := b.positions[req.Symbol]
	qty := req.Quantity

	if req.Side == domain.Buy {
		b.cash -= qty * price
		switch {
		case pos == nil:
			b.positions[req.Symbol] = &domain.Position{
				Symbol:        req.Symbol,
				Side:          domain.Long,
				Quantity:      qty,
				AvgEntryPrice: price,
				OpenedAt:      b.clock.Now(),
			}
		case pos.Side == domain.Long:
			total := pos.Quantity + qty
			pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Quantity + price*qty) / total
			pos.Quantity = total
		default: // covering a short
			pos.Quantity -= qty
			if pos.Quantity <= 0 {
				delete(b.positions, req.Symbol)
			}
		}
		return
	}

	// SELL
	b.cash += qty * price
	switch {
	case pos == nil:
		b.positions[req.Symbol] = &domain.Position{
			Symbol:        req.Symbol,
			Side:          domain.Short,
			Quantity:      qty,
			AvgEntryPrice: price,
			OpenedAt:      b.clock.Now(),
		}
	case pos.Side == domain.Short:
		total := pos.Quantity + qty
		pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Quantity + price*qty) / total
		pos.Quantity = total
	default: // reducing a long
		pos.Quantity -= qty
		if pos.Quantity <= 0 {
			delete(b.positions, req.Symbol)
		}
	}
}

// GetPositions lists all open positions.
func (b *Broker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// GetAccount values the account at the last marked prices.
func (b *Broker) GetAccount(ctx context.Context) (*domain.AccountSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	value := b.cash
	positions := make([]domain.Position, 0, len(b.positions))
	for symbol, pos := range b.positions {
		price, ok := b.lastPrice[symbol]
		if !ok {
			price = pos.AvgEntryPrice
		}
		if pos.Side == domain.Long {
			value += pos.Quantity * price
		} else {
			// Short-sale proceeds are already in cash; subtract the cost to cover.
			value -= pos.Quantity * price
		}
		positions = append(positions, *pos)
	}

	return &domain.AccountSnapshot{
		PortfolioValue: value,
		Cash:           b.cash,
		BuyingPower:    b.cash,
		OpenPositions:  positions,
	}, nil
}

// ClosePosition flattens the position in the given symbol at the last price.
func (b *Broker) ClosePosition(ctx context.Context, symbol string) error {
	b.mu.Lock()
	pos, ok := b.positions[symbol]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrPositionNotFound, symbol)
	}

	side := domain.Sell
	if pos.Side == domain.Short {
		side = domain.Buy
	}
	_, err := b.PlaceOrder(ctx, ports.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Quantity: pos.Quantity,
		Type:     ports.OrderMarket,
	})
	return err
}

// OrderStatus reports the state of a previously placed order.
func (b *Broker) OrderStatus(ctx context.Context, orderID string) (*ports.OrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status, ok := b.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrOrderNotFound, orderID)
	}
	copied := *status
	return &copied, nil
}
