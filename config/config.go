package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Noobiez16/Kiwi-AI/internal/adapters/logger" // Import the logger package for LogLevel
	"github.com/Noobiez16/Kiwi-AI/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Engine mode and broker credentials
	Mode      domain.EngineMode
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Market
	Symbols   []string
	Timeframe string

	// Capital and risk parameters
	InitialCapital      float64
	RiskPerTrade        float64 // fraction of capital risked per trade
	MaxPositionFraction float64 // cap on position value / capital
	MaxPortfolioRisk    float64 // portfolio drawdown limit
	RewardRisk          float64 // take-profit multiple of stop distance
	StopMethod          string  // PERCENT, ATR or FIXED
	StopPercent         float64
	StopATRMultiple     float64
	StopFixedOffset     float64
	CashFloor           float64

	// Engine cadence
	MinimumBars    int
	BufferCapacity int
	PreloadBars    int
	TickPeriod     time.Duration
	SuppressionTTL time.Duration
	AutoExecute    bool
	CloseOnStop    bool
	StopTimeout    time.Duration

	// Performance window
	PerfWindowTrades int
	PerfWindowEquity int

	// Stream reconnect policy
	ReconnectMinDelay    time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int

	// Database
	DBPath string

	// Observability
	MetricsAddr string
	LogLevel    logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Engine mode
	mode := strings.ToUpper(getEnv("ENGINE_MODE", string(domain.ModePaper)))
	switch domain.EngineMode(mode) {
	case domain.ModePaper, domain.ModeLive, domain.ModeMock:
		cfg.Mode = domain.EngineMode(mode)
	default:
		errs = append(errs, fmt.Sprintf("invalid ENGINE_MODE %q (PAPER, LIVE or MOCK)", mode))
	}

	// Broker credentials; only required when trading live
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	if cfg.Mode == domain.ModeLive {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set in LIVE mode")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set in LIVE mode")
		}
	}

	// Market
	symbols := getEnv("SYMBOLS", "ETHUSDT")
	for _, s := range strings.Split(symbols, ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.Symbols = append(cfg.Symbols, strings.ToUpper(s))
		}
	}
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}
	cfg.Timeframe = getEnv("TIMEFRAME", "1m")
	if cfg.Timeframe == "" {
		errs = append(errs, "TIMEFRAME must be set")
	}

	// Capital and risk
	cfg.InitialCapital, err = getEnvAsFloatRequired("INITIAL_CAPITAL", 10000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_CAPITAL: %v", err))
	} else if cfg.InitialCapital <= 0 {
		errs = append(errs, "INITIAL_CAPITAL must be positive")
	}

	cfg.RiskPerTrade, err = getEnvAsFloatRequired("RISK_PER_TRADE", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RISK_PER_TRADE: %v", err))
	} else if cfg.RiskPerTrade <= 0 || cfg.RiskPerTrade > 0.1 {
		errs = append(errs, "RISK_PER_TRADE must be in (0, 0.1]")
	}

	cfg.MaxPositionFraction, err = getEnvAsFloatRequired("MAX_POSITION_FRACTION", 0.10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITION_FRACTION: %v", err))
	} else if cfg.MaxPositionFraction <= 0 || cfg.MaxPositionFraction > 1 {
		errs = append(errs, "MAX_POSITION_FRACTION must be in (0, 1]")
	}

	cfg.MaxPortfolioRisk = getEnvAsFloat("MAX_PORTFOLIO_RISK", 0.20)
	cfg.RewardRisk = getEnvAsFloat("REWARD_RISK", 2.0)
	cfg.StopMethod = strings.ToUpper(getEnv("STOP_METHOD", "ATR"))
	switch cfg.StopMethod {
	case "PERCENT", "ATR", "FIXED":
	default:
		errs = append(errs, fmt.Sprintf("invalid STOP_METHOD %q (PERCENT, ATR or FIXED)", cfg.StopMethod))
	}
	cfg.StopPercent = getEnvAsFloat("STOP_PERCENT", 0.02)
	cfg.StopATRMultiple = getEnvAsFloat("STOP_ATR_MULTIPLE", 2.0)
	cfg.StopFixedOffset = getEnvAsFloat("STOP_FIXED_OFFSET", 0)
	cfg.CashFloor = getEnvAsFloat("CASH_FLOOR", 0.05)

	// Engine cadence
	cfg.MinimumBars = getEnvAsInt("MINIMUM_BARS", 20)
	if cfg.MinimumBars <= 0 {
		errs = append(errs, "MINIMUM_BARS must be positive")
	}
	cfg.BufferCapacity = getEnvAsInt("BUFFER_CAPACITY", 250)
	cfg.PreloadBars = getEnvAsInt("PRELOAD_BARS", 250)

	tickSeconds := getEnvAsInt("TICK_PERIOD_SECONDS", 3)
	if tickSeconds <= 0 {
		errs = append(errs, "TICK_PERIOD_SECONDS must be positive")
	}
	cfg.TickPeriod = time.Duration(tickSeconds) * time.Second

	ttlMinutes := getEnvAsInt("SUPPRESSION_TTL_MINUTES", 15)
	if ttlMinutes <= 0 {
		errs = append(errs, "SUPPRESSION_TTL_MINUTES must be positive")
	}
	cfg.SuppressionTTL = time.Duration(ttlMinutes) * time.Minute

	cfg.AutoExecute = getEnvAsBool("AUTO_EXECUTE", false)
	cfg.CloseOnStop = getEnvAsBool("CLOSE_ON_STOP", false)
	cfg.StopTimeout = time.Duration(getEnvAsInt("STOP_TIMEOUT_SECONDS", 10)) * time.Second

	// Performance window
	cfg.PerfWindowTrades = getEnvAsInt("PERF_WINDOW_TRADES", 50)
	cfg.PerfWindowEquity = getEnvAsInt("PERF_WINDOW_EQUITY", 60)

	// Stream reconnect policy
	cfg.ReconnectMinDelay = time.Duration(getEnvAsInt("RECONNECT_MIN_SECONDS", 5)) * time.Second
	cfg.ReconnectMaxDelay = time.Duration(getEnvAsInt("RECONNECT_MAX_SECONDS", 60)) * time.Second
	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 3)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/engine.db")

	// Observability
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
