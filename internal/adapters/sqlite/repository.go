package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
	"github.com/Noobiez16/Kiwi-AI/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.TradeRepository interface using SQLite.
// It is a write-mostly journal: the engine never reads it back for
// decisions.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/engine.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection (WAL mode for better concurrency)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Trade journal initialized", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP NOT NULL,
		realized_pnl REAL NOT NULL,
		strategy TEXT NOT NULL,
		regime_at_entry TEXT NOT NULL,
		capital_at_entry REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_closed_at ON trades (symbol, closed_at);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrQueryFailed, err)
	}
	return nil
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const insert = `
	INSERT INTO trades (symbol, side, quantity, entry_price, exit_price,
		opened_at, closed_at, realized_pnl, strategy, regime_at_entry, capital_at_entry)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, insert,
		trade.Symbol, string(trade.Side), trade.Quantity, trade.EntryPrice, trade.ExitPrice,
		trade.OpenedAt, trade.ClosedAt, trade.RealizedPnL, trade.StrategyName,
		trade.RegimeAtEntry.String(), trade.CapitalAtEntry)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade: %w: %w", ports.ErrQueryFailed, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted trade id: %w: %w", ports.ErrQueryFailed, err)
	}
	return id, nil
}

// FindBySymbol retrieves the most recent trades for a symbol, up to limit.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, symbol, side, quantity, entry_price, exit_price,
		opened_at, closed_at, realized_pnl, strategy, regime_at_entry, capital_at_entry
	FROM trades WHERE symbol = ? ORDER BY closed_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, regime string
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Quantity, &t.EntryPrice, &t.ExitPrice,
			&t.OpenedAt, &t.ClosedAt, &t.RealizedPnL, &t.StrategyName, &regime, &t.CapitalAtEntry); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w: %w", ports.ErrQueryFailed, err)
		}
		t.Side = domain.PositionSide(side)
		t.RegimeAtEntry = parseRegime(regime)
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trade row iteration failed: %w: %w", ports.ErrQueryFailed, err)
	}
	return trades, nil
}

// TotalPnL sums realized PnL across all recorded trades.
func (r *Repository) TotalPnL(ctx context.Context) (float64, error) {
	var total sql.NullFloat64
	if err := r.db.QueryRowContext(ctx, `SELECT SUM(realized_pnl) FROM trades`).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum trade pnl: %w: %w", ports.ErrQueryFailed, err)
	}
	return total.Float64, nil
}

func parseRegime(s string) domain.Regime {
	for _, r := range domain.Regimes {
		if r.String() == s {
			return r
		}
	}
	return domain.RegimeTrend
}
