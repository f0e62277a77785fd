// Package config provides configuration management functionality.
//
// Configuration is loaded from environment variables (with an optional
// .env file) in one pass; there is no settings-database override layer
// for this engine — bot-level parameters live in the bots table itself
// and are edited through the store, not through process configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-wide application configuration.
type Config struct {
	DataDir           string // Base directory for the SQLite database file, always absolute
	BrokerBaseURL     string
	BrokerAPIKey      string
	BrokerAPISecret   string
	AggregatorBaseURL string // public simple-price endpoint used as the fallback price provider
	LogLevel       string // debug, info, warn, error
	Port           int    // HTTP server port for the health/decision-log surface
	SimulateTrades bool   // when true, the Trade Executor logs decisions but never submits orders
	UseMockData    bool   // parsed from USE_MOCK_DATA; no engine component reads it, so it does not change behavior
}

// Load reads configuration from environment variables, loading a .env
// file first if one is present in the working directory.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("ENGINE_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:         absDataDir,
		BrokerBaseURL:   getEnv("BROKER_BASE_URL", "https://api.tradernet.com"),
		BrokerAPIKey:    getEnv("BROKER_API_KEY", ""),
		BrokerAPISecret: getEnv("BROKER_API_SECRET", ""),
		AggregatorBaseURL: getEnv("AGGREGATOR_BASE_URL", "https://api.coingecko.com/api/v3"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Port:            getEnvAsInt("ENGINE_PORT", 8080),
		SimulateTrades:  getEnvAsBool("SIMULATE_TRADES", false),
		UseMockData:     getEnvAsBool("USE_MOCK_DATA", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks process-wide configuration invariants. Broker
// credentials are optional here: a process with SimulateTrades set
// can run without them, and nothing checks them for live bots either:
// their broker requests are sent with the empty key instead of
// blocking startup for every bot.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid ENGINE_PORT: %d", c.Port)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
