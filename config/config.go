package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment
// variables, in the teacher's mustEnv/getEnv style.
type Config struct {
	// Coinbase credentials
	CoinbaseAPIKey    string
	CoinbaseAPISecret string
	CoinbaseTOTPSecret string
	CoinbaseProductID string

	// Infrastructure
	SQLitePath  string
	MetricsAddr string

	// Mode
	PaperMode           bool
	PaperStartingBalance float64
	PaperSlippageBps     float64

	// Risk limits (§4.7)
	MinAccountBalance float64

	// AI adapter (§4.8)
	LLMEndpoint string
	LLMAPIKey   string
	LLMModel    string
	LLMTimeout  time.Duration

	// Monitor (§4.10)
	MonitorInterval time.Duration
	TrailingMode    string // "breakeven" or "dynamic_lock"
	LockInFraction  float64

	// Notifications (§7) — all optional; unset means that backend is skipped
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
}

// Load reads configuration from environment variables with sensible
// defaults for every knob that isn't a live-trading credential.
func Load() *Config {
	return &Config{
		CoinbaseAPIKey:      mustEnv("COINBASE_API_KEY"),
		CoinbaseAPISecret:   mustEnv("COINBASE_API_SECRET"),
		CoinbaseTOTPSecret:  getEnv("COINBASE_TOTP_SECRET", ""),
		CoinbaseProductID:   getEnv("COINBASE_PRODUCT_ID", "BTC-USD"),

		SQLitePath:  getEnv("SQLITE_PATH", "data/trading.db"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		PaperMode:            getEnvBool("PAPER_MODE", true),
		PaperStartingBalance: getEnvFloat("PAPER_STARTING_BALANCE", 10000),
		PaperSlippageBps:     getEnvFloat("PAPER_SLIPPAGE_BPS", 2),

		MinAccountBalance: getEnvFloat("MIN_ACCOUNT_BALANCE", 500),

		LLMEndpoint: getEnv("LLM_ENDPOINT", ""),
		LLMAPIKey:   getEnv("LLM_API_KEY", ""),
		LLMModel:    getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:  getEnvDuration("LLM_TIMEOUT", 20*time.Second),

		MonitorInterval: getEnvDuration("MONITOR_INTERVAL", 30*time.Second),
		TrailingMode:    getEnv("TRAILING_MODE", "breakeven"),
		LockInFraction:  getEnvFloat("LOCK_IN_FRACTION", 0.5),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using default", key, v)
		return fallback
	}
	return b
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using default", key, v)
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using default", key, v)
		return fallback
	}
	return d
}
