package ports

import (
	"context"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
)

// TradeRepository is the append-only journal of closed trades. Persistence
// is an operator convenience: the engine never reads it back for decisions,
// and correctness does not depend on it across restarts.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindBySymbol retrieves the most recent trades for a symbol, up to limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// TotalPnL sums realized PnL across all recorded trades.
	TotalPnL(ctx context.Context) (float64, error)
}
