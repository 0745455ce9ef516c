// Package config loads engine configuration from environment variables
// (optionally via a .env file) and the YAML watchlist.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// Take-profit targets are clamped to this range regardless of what
	// the watchlist asks for.
	MinTakeProfitPct = 5.0
	MaxTakeProfitPct = 20.0
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// KIS credentials
	KISAppKey    string
	KISAppSecret string
	KISAccountNo string // "XXXXXXXX-XX"
	KISPaper     bool   // paper-trading account

	// Broker selection: "kis" or "paper" (in-process simulator)
	BrokerMode string

	// Capital limits, won
	TotalCapital int64
	PerSymbolCap int64
	MaxPositions int

	// Entry rules
	CrashThresholdPct  float64 // negative, e.g. -10
	MinConfidence      float64
	FirstStageFraction float64

	// Exit defaults, overridable per symbol in the watchlist
	TakeProfitPct  float64
	StopLossPct    float64
	RebuyDropPct   float64
	MaxHoldingDays int

	// Predictor: "onnx" or "remote"
	PredictorMode string
	ONNXModelPath string
	ONNXLibPath   string
	PredictorURL  string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	WatchlistPath string

	// Engine cadence
	ScanInterval time.Duration

	// RetrainCmd is run at the weekly retrain window when non-empty.
	RetrainCmd string

	// Alerts
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string

	// Admin
	AdminTOTPSecret string
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("[config] loaded .env")
	}

	cfg := &Config{
		KISAppKey:    getEnv("KIS_APP_KEY", ""),
		KISAppSecret: getEnv("KIS_APP_SECRET", ""),
		KISAccountNo: getEnv("KIS_ACCOUNT_NO", ""),
		KISPaper:     getEnvBool("KIS_PAPER", true),

		BrokerMode: getEnv("BROKER_MODE", "paper"),

		TotalCapital: getEnvInt64("TOTAL_CAPITAL", 300000),
		PerSymbolCap: getEnvInt64("PER_SYMBOL_CAP", 100000),
		MaxPositions: int(getEnvInt64("MAX_POSITIONS", 3)),

		CrashThresholdPct:  getEnvFloat("CRASH_THRESHOLD_PCT", -10.0),
		MinConfidence:      getEnvFloat("MIN_CONFIDENCE", 0.60),
		FirstStageFraction: getEnvFloat("FIRST_STAGE_FRACTION", 0.5),

		TakeProfitPct:  getEnvFloat("TAKE_PROFIT_PCT", 8.0),
		StopLossPct:    getEnvFloat("STOP_LOSS_PCT", 5.0),
		RebuyDropPct:   getEnvFloat("REBUY_DROP_PCT", 3.0),
		MaxHoldingDays: int(getEnvInt64("MAX_HOLDING_DAYS", 5)),

		PredictorMode: getEnv("PREDICTOR_MODE", "remote"),
		ONNXModelPath: getEnv("ONNX_MODEL_PATH", "data/rebound.onnx"),
		ONNXLibPath:   getEnv("ONNX_LIB_PATH", ""),
		PredictorURL:  getEnv("PREDICTOR_URL", "http://localhost:8500/predict"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/trades.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		WatchlistPath: getEnv("WATCHLIST_PATH", "config/watchlist.yaml"),

		ScanInterval: getEnvDuration("SCAN_INTERVAL", 30*time.Second),
		RetrainCmd:   getEnv("RETRAIN_CMD", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),

		AdminTOTPSecret: getEnv("ADMIN_TOTP_SECRET", ""),
	}

	cfg.TakeProfitPct = ClampTakeProfit(cfg.TakeProfitPct)

	if cfg.BrokerMode == "kis" {
		if cfg.KISAppKey == "" || cfg.KISAppSecret == "" || cfg.KISAccountNo == "" {
			log.Fatalf("[config] BROKER_MODE=kis requires KIS_APP_KEY, KIS_APP_SECRET and KIS_ACCOUNT_NO")
		}
	}
	return cfg
}

// ClampTakeProfit bounds a take-profit target to the allowed range.
func ClampTakeProfit(pct float64) float64 {
	if pct < MinTakeProfitPct {
		return MinTakeProfitPct
	}
	if pct > MaxTakeProfitPct {
		return MaxTakeProfitPct
	}
	return pct
}

// WatchItem is one watchlist entry. Zero-valued overrides fall back to the
// engine-wide defaults.
type WatchItem struct {
	Symbol        string  `yaml:"symbol"`
	Name          string  `yaml:"name"`
	TakeProfitPct float64 `yaml:"take_profit_pct,omitempty"`
	StopLossPct   float64 `yaml:"stop_loss_pct,omitempty"`
	RebuyDropPct  float64 `yaml:"rebuy_drop_pct,omitempty"`
}

// Watchlist is the YAML file contents.
type Watchlist struct {
	Symbols []WatchItem `yaml:"watchlist"`
}

// LoadWatchlist parses the watchlist YAML and applies the defaults and
// take-profit clamp to every entry.
func LoadWatchlist(path string, defaults *Config) (*Watchlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("watchlist read: %w", err)
	}

	var wl Watchlist
	if err := yaml.Unmarshal(data, &wl); err != nil {
		return nil, fmt.Errorf("watchlist parse: %w", err)
	}
	if len(wl.Symbols) == 0 {
		return nil, fmt.Errorf("watchlist %s has no symbols", path)
	}

	for i := range wl.Symbols {
		item := &wl.Symbols[i]
		if item.Symbol == "" {
			return nil, fmt.Errorf("watchlist entry %d has no symbol", i)
		}
		if item.TakeProfitPct == 0 {
			item.TakeProfitPct = defaults.TakeProfitPct
		}
		item.TakeProfitPct = ClampTakeProfit(item.TakeProfitPct)
		if item.StopLossPct == 0 {
			item.StopLossPct = defaults.StopLossPct
		}
		if item.RebuyDropPct == 0 {
			item.RebuyDropPct = defaults.RebuyDropPct
		}
	}

	log.Printf("[config] watchlist %s: %d symbols", path, len(wl.Symbols))
	return &wl, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
