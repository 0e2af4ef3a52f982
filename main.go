package main

import (
	"context"
	"log" // standard log for fatal exits, before and after the app logger exists
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Noobiez16/Kiwi-AI/config"
	"github.com/Noobiez16/Kiwi-AI/internal/adapters/binanceclient"
	"github.com/Noobiez16/Kiwi-AI/internal/adapters/clock"
	"github.com/Noobiez16/Kiwi-AI/internal/adapters/logger"
	"github.com/Noobiez16/Kiwi-AI/internal/adapters/paperbroker"
	"github.com/Noobiez16/Kiwi-AI/internal/adapters/sqlite"
	"github.com/Noobiez16/Kiwi-AI/internal/app"
	"github.com/Noobiez16/Kiwi-AI/internal/domain"
	"github.com/Noobiez16/Kiwi-AI/internal/monitoring"
	"github.com/Noobiez16/Kiwi-AI/internal/ports"
	"github.com/Noobiez16/Kiwi-AI/internal/regime"
	"github.com/Noobiez16/Kiwi-AI/internal/risk"
	"github.com/Noobiez16/Kiwi-AI/internal/selector"
	"github.com/Noobiez16/Kiwi-AI/internal/strategy/analytics"
	"github.com/Noobiez16/Kiwi-AI/internal/strategy/strategies"
	"github.com/Noobiez16/Kiwi-AI/internal/suppressor"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger and Clock
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})
	appClock := clock.NewSystem()

	// 3. Initialize Trade Journal (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trade journal")
		log.Fatalf("FATAL: Failed to initialize trade journal: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing trade journal")
		}
	}()

	// 4. Initialize Market Data Stream and Broker per engine mode
	binanceCli, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectMinDelay:    cfg.ReconnectMinDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	var broker ports.Broker
	switch cfg.Mode {
	case domain.ModeLive:
		broker = binanceCli
		appLogger.Info(ctx, "LIVE mode: orders go to the exchange")
	default:
		paper, err := paperbroker.New(paperbroker.Config{
			InitialCash: cfg.InitialCapital,
			Logger:      appLogger,
			Clock:       appClock,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize paper broker")
			log.Fatalf("FATAL: Failed to initialize paper broker: %v", err)
		}
		broker = paper
		appLogger.Info(ctx, "PAPER mode: orders are simulated", map[string]interface{}{"cash": cfg.InitialCapital})
	}

	// 5. Initialize the decision pipeline components
	stratSet, err := strategies.DefaultSet(appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to build strategy set")
		log.Fatalf("FATAL: Failed to build strategy set: %v", err)
	}

	classifier, err := regime.New(regime.DefaultConfig())
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to build regime classifier")
		log.Fatalf("FATAL: Failed to build regime classifier: %v", err)
	}

	sel, err := selector.New(selector.DefaultConfig(), stratSet, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to build strategy selector")
		log.Fatalf("FATAL: Failed to build strategy selector: %v", err)
	}

	monitor := analytics.NewMonitor(analytics.Config{
		WindowTrades: cfg.PerfWindowTrades,
		WindowEquity: cfg.PerfWindowEquity,
	})

	riskMgr, err := risk.NewManager(risk.Config{
		Capital:             cfg.InitialCapital,
		RiskPerTrade:        cfg.RiskPerTrade,
		MaxPositionFraction: cfg.MaxPositionFraction,
		MaxPortfolioRisk:    cfg.MaxPortfolioRisk,
		RewardRisk:          cfg.RewardRisk,
		StopMethod:          risk.StopMethod(cfg.StopMethod),
		StopPercent:         cfg.StopPercent,
		StopATRMultiple:     cfg.StopATRMultiple,
		StopFixedOffset:     cfg.StopFixedOffset,
		CashFloor:           cfg.CashFloor,
	}, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to build risk manager")
		log.Fatalf("FATAL: Failed to build risk manager: %v", err)
	}

	suppr, err := suppressor.New(cfg.SuppressionTTL, appClock, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to build signal suppressor")
		log.Fatalf("FATAL: Failed to build signal suppressor: %v", err)
	}

	// 6. Initialize the engine
	engine, err := app.NewEngine(app.Config{
		Symbols:        cfg.Symbols,
		Timeframe:      cfg.Timeframe,
		MinimumBars:    cfg.MinimumBars,
		BufferCapacity: cfg.BufferCapacity,
		TickPeriod:     cfg.TickPeriod,
		PreloadBars:    cfg.PreloadBars,
		AutoExecute:    cfg.AutoExecute,
		CloseOnStop:    cfg.CloseOnStop,
	}, app.Deps{
		Logger:     appLogger,
		Clock:      appClock,
		Stream:     binanceCli,
		Broker:     broker,
		Strategies: stratSet,
		Classifier: classifier,
		Selector:   sel,
		Monitor:    monitor,
		Risk:       riskMgr,
		Suppressor: suppr,
		TradeRepo:  repo,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading engine")
		log.Fatalf("FATAL: Failed to initialize trading engine: %v", err)
	}

	// 7. Serve metrics
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", monitoring.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			appLogger.Error(ctx, err, "Metrics server stopped", map[string]interface{}{"addr": cfg.MetricsAddr})
		}
	}()

	// 8. Drain the outbound streams; the dashboard UI is an external
	// consumer, so the CLI just logs what it would receive.
	go func() {
		for rec := range engine.Recommendations() {
			appLogger.Info(ctx, "Recommendation", map[string]interface{}{
				"signalID": rec.SignalID,
				"symbol":   rec.Symbol,
				"side":     string(rec.Side),
				"strategy": rec.StrategyName,
				"regime":   rec.Regime.String(),
				"qty":      rec.SuggestedQty,
				"stop":     rec.StopLoss,
				"target":   rec.TakeProfit,
				"risk":     string(rec.RiskLevel),
				"why":      rec.Rationale,
			})
		}
	}()
	go func() {
		for ev := range engine.Status() {
			appLogger.Debug(ctx, "Status", map[string]interface{}{"code": string(ev.Code), "symbol": ev.Symbol, "msg": ev.Message})
		}
	}()
	go func() {
		for sw := range engine.Switches() {
			appLogger.Info(ctx, "Strategy switch", map[string]interface{}{"from": sw.From, "to": sw.To, "reason": sw.Reason})
		}
	}()

	// 9. Start and wait for a shutdown signal
	if err := engine.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to start trading engine")
		log.Fatalf("FATAL: Failed to start trading engine: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	appLogger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})

	if err := engine.Stop(cfg.StopTimeout); err != nil {
		appLogger.Error(ctx, err, "Engine shutdown reported an error")
	}
	appLogger.Info(ctx, "Application finished gracefully.")
}
