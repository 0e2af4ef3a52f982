package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "engine.db"),
		Logger: nopLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func sampleTrade(day int, pnl float64) *domain.Trade {
	closed := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day)
	return &domain.Trade{
		Symbol:         "ETHUSDT",
		Side:           domain.Long,
		Quantity:       2,
		EntryPrice:     100,
		ExitPrice:      100 + pnl/2,
		OpenedAt:       closed.Add(-time.Hour),
		ClosedAt:       closed,
		RealizedPnL:    pnl,
		StrategyName:   "TrendFollowing",
		RegimeAtEntry:  domain.RegimeTrend,
		CapitalAtEntry: 10000,
	}
}

func TestCreateAndFindTrades(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	id, err := repo.CreateTrade(ctx, sampleTrade(0, 50))
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	_, err = repo.CreateTrade(ctx, sampleTrade(1, -20))
	require.NoError(t, err)

	trades, err := repo.FindBySymbol(ctx, "ETHUSDT", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	// Newest first.
	assert.Equal(t, -20.0, trades[0].RealizedPnL)
	assert.Equal(t, 50.0, trades[1].RealizedPnL)
	assert.Equal(t, domain.Long, trades[0].Side)
	assert.Equal(t, domain.RegimeTrend, trades[0].RegimeAtEntry)
	assert.Equal(t, "TrendFollowing", trades[0].StrategyName)
}

func TestFindBySymbolHonorsLimit(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := repo.CreateTrade(ctx, sampleTrade(i, float64(i)))
		require.NoError(t, err)
	}
	trades, err := repo.FindBySymbol(ctx, "ETHUSDT", 3)
	require.NoError(t, err)
	assert.Len(t, trades, 3)
}

func TestTotalPnL(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	total, err := repo.TotalPnL(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, total)

	_, err = repo.CreateTrade(ctx, sampleTrade(0, 75))
	require.NoError(t, err)
	_, err = repo.CreateTrade(ctx, sampleTrade(1, -25))
	require.NoError(t, err)

	total, err = repo.TotalPnL(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50.0, total)
}

func TestUnknownSymbolIsEmpty(t *testing.T) {
	repo := newRepo(t)
	trades, err := repo.FindBySymbol(context.Background(), "BTCUSDT", 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
}
