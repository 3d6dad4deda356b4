package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading service.
type Config struct {
	Port     string
	Language string // "en" or "zh"

	// Database
	DBPath string

	// Sessions
	JWTSecret          string
	WalletDataKey      string // base64 AES key; seals wallet_data at rest when set
	SessionDurationMin int    // minutes a new session lives
	SessionRefreshMin  int    // refresh window: only extend when TTL <= this
	SessionSweepSec    int    // in-memory cache sweep interval

	// Market data
	PriceAPIURL         string
	FallbackPriceAPIURL string
	BirdeyeAPIKey       string
	PriceCacheTTLSec    int
	PriceMaxRetries     int
	PriceRetryDelayMs   int

	// Token discovery
	TokenListURL    string
	TokenMetaURL    string
	TokenConfigPath string

	// Execution
	AggregatorURL  string
	RelayURL       string
	WalletSecret   string // base64 ed25519 key for agent-owned wallets
	MaxSlippageBps int
	PollIntervalMs int
	PollMaxRetries int

	// Reconciliation
	ReconcileIntervalSec int
	ReconcileCutoffMin   int

	// Broadcast
	HeartbeatSec int
	DeadPeerSec  int
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		Language:             getEnv("LANGUAGE", "en"),
		DBPath:               getEnv("DB_PATH", "./data/trading.db"),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
		WalletDataKey:        getEnv("WALLET_DATA_KEY", ""),
		SessionDurationMin:   getEnvInt("SESSION_DURATION_MIN", 60),
		SessionRefreshMin:    getEnvInt("SESSION_REFRESH_WINDOW_MIN", 15),
		SessionSweepSec:      getEnvInt("SESSION_SWEEP_SEC", 60),
		PriceAPIURL:          getEnv("PRICE_API_URL", "https://price.jup.ag/v4"),
		FallbackPriceAPIURL:  getEnv("FALLBACK_PRICE_API_URL", ""),
		BirdeyeAPIKey:        getEnv("BIRDEYE_API_KEY", ""),
		PriceCacheTTLSec:     getEnvInt("PRICE_CACHE_TTL_SEC", 30),
		PriceMaxRetries:      getEnvInt("PRICE_MAX_RETRIES", 3),
		PriceRetryDelayMs:    getEnvInt("PRICE_RETRY_DELAY_MS", 250),
		TokenListURL:         getEnv("TOKEN_LIST_URL", "https://token.jup.ag/all"),
		TokenMetaURL:         getEnv("TOKEN_META_URL", ""),
		TokenConfigPath:      getEnv("TOKEN_CONFIG_PATH", "./configs/tokens.yaml"),
		AggregatorURL:        getEnv("AGGREGATOR_URL", "https://quote-api.jup.ag/v6"),
		RelayURL:             getEnv("RELAY_URL", ""),
		WalletSecret:         getEnv("WALLET_SECRET", ""),
		MaxSlippageBps:       getEnvInt("MAX_SLIPPAGE_BPS", 500),
		PollIntervalMs:       getEnvInt("POLL_INTERVAL_MS", 2000),
		PollMaxRetries:       getEnvInt("POLL_MAX_RETRIES", 10),
		ReconcileIntervalSec: getEnvInt("RECONCILE_INTERVAL_SEC", 300),
		ReconcileCutoffMin:   getEnvInt("RECONCILE_CUTOFF_MIN", 60),
		HeartbeatSec:         getEnvInt("HEARTBEAT_SEC", 30),
		DeadPeerSec:          getEnvInt("DEAD_PEER_SEC", 300),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
