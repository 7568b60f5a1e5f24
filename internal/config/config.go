// Package config provides configuration management functionality.
//
// Configuration is loaded from environment variables (optionally via a .env
// file) with sane defaults for local development against an Ollama instance
// and a pure-Go sqlite store.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir  string // Base directory for the sqlite store and schemas (always absolute)
	LogLevel string // zerolog level name (debug, info, warn, error)
	DevMode  bool   // Pretty-print logs instead of JSON

	LLMHost    string // Ollama OpenAI-compatible host, e.g. http://localhost:11434
	LLMModel   string // Chat model name, e.g. llama3.1:8b
	LLMNumCtx  int    // Context window setting; not read by the LLM client, which always sends options.num_ctx=8192
	LLMTimeout int    // Per-chat timeout in seconds

	RateLimitMaxConcurrent     int     // Concurrency gate capacity
	RateLimitRequestsPerSecond float64 // Token bucket refill rate
	RateLimitMaxRetries        int     // Retry attempts on RateLimitExceeded

	ScanDefaultTopN int    // Default number of ranked results returned by a scan
	ScanPreset      string // Universe preset a scheduled scan runs against
	ScanCron        string // Cron schedule for automatic scans; empty disables scheduling
}

// Load reads configuration from environment variables, applying defaults.
//
// dataDirOverride, when provided and non-empty, takes priority over the
// SCANNER_DATA_DIR environment variable.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("SCANNER_DATA_DIR", "")
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
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		LLMHost:    getEnv("LLM_HOST", "http://localhost:11434"),
		LLMModel:   getEnv("LLM_MODEL", "llama3.1:8b"),
		LLMNumCtx:  getEnvAsInt("LLM_NUM_CTX", 8192),
		LLMTimeout: getEnvAsInt("LLM_TIMEOUT_SECONDS", 120),

		RateLimitMaxConcurrent:     getEnvAsInt("RATE_LIMIT_MAX_CONCURRENT", 5),
		RateLimitRequestsPerSecond: getEnvAsFloat("RATE_LIMIT_REQUESTS_PER_SECOND", 50),
		RateLimitMaxRetries:        getEnvAsInt("RATE_LIMIT_MAX_RETRIES", 3),

		ScanDefaultTopN: getEnvAsInt("SCAN_DEFAULT_TOP_N", 10),
		ScanPreset:      getEnv("SCAN_PRESET", "full"),
		ScanCron:        getEnv("SCAN_CRON", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required configuration invariants.
func (c *Config) Validate() error {
	if c.RateLimitMaxConcurrent <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_CONCURRENT must be positive, got %d", c.RateLimitMaxConcurrent)
	}
	if c.ScanDefaultTopN <= 0 {
		return fmt.Errorf("SCAN_DEFAULT_TOP_N must be positive, got %d", c.ScanDefaultTopN)
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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
