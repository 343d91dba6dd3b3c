package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Storage
	DatabasePath string
	RedisURL     string

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Ledger node. An empty RPC URL runs the in-process development chain.
	LedgerRPCURL      string
	LedgerCredentials string
	LedgerAccount     string
	FactoryAddress    string
	TokenBaseURI      string

	// Watcher configuration
	WatcherEnabled    bool
	PollInterval      time.Duration
	WatcherStartBlock uint64
	SyncBatchSize     uint64

	// Access validation
	AccessAllowTransferred bool
	ScanRateLimit          int
	ScanRateWindow         time.Duration

	// Settlement worker
	WorkerConcurrency int

	// Monitoring
	EnableMetrics bool
}

// LoadConfig reads the environment once. A .env file in the working
// directory is applied first when present; real environment variables win.
func LoadConfig() *Config {
	_ = godotenv.Load(".env")

	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Storage
		DatabasePath: getEnv("DATABASE_PATH", "pb_data/ledger.db"),
		RedisURL:     getEnv("REDIS_URL", "localhost:6379"),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Ledger
		LedgerRPCURL:      getEnv("LEDGER_RPC_URL", ""),
		LedgerCredentials: getEnv("LEDGER_CREDENTIALS", ""),
		LedgerAccount:     getEnv("LEDGER_ACCOUNT", "0x00000000000000000000000000000000000000a1"),
		FactoryAddress:    getEnv("FACTORY_ADDRESS", ""),
		TokenBaseURI:      getEnv("TOKEN_BASE_URI", "https://tickets.localhost/meta"),

		// Watcher
		WatcherEnabled:    getEnvAsBool("WATCHER_ENABLED", true),
		PollInterval:      getEnvAsDuration("POLL_INTERVAL", "5s"),
		WatcherStartBlock: getEnvAsUint("WATCHER_START_BLOCK", 0),
		SyncBatchSize:     getEnvAsUint("SYNC_BATCH_SIZE", 500),

		// Access
		AccessAllowTransferred: getEnvAsBool("ACCESS_ALLOW_TRANSFERRED", true),
		ScanRateLimit:          getEnvAsInt("SCAN_RATE_LIMIT", 60),
		ScanRateWindow:         getEnvAsDuration("SCAN_RATE_WINDOW", "1m"),

		// Settlement
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 10),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
	}
}

// Devnet reports whether the service runs its own in-process ledger.
func (c *Config) Devnet() bool {
	return c.LedgerRPCURL == ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsUint(key string, defaultValue uint64) uint64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseUint(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
