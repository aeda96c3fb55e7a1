// Package config provides configuration management functionality.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Curve resolution
	CurveTTLDays          int               // Re-fetch external curves older than this
	ExternalCurvesEnabled bool              // Feature flag for external curve providers
	CurveAPIBaseURL       string            // Treasury/corporate curve API
	CurveAPIKey           string
	MarketDataBaseURL     string            // Generic market-data curve endpoint
	MarketDataAPIKey      string
	CurveNameMap          map[string]string // curve name -> provider endpoint

	// FX resolution
	FxProviderURL    string
	FxProviderFlavor string // "base_symbols" or "from_to"
	FxAPIKey         string

	// Valuation defaults
	ReportingCurrency string // Default reporting currency
	DefaultWorkers    int    // Worker pool size when the request does not set one
	MaxWorkers        int    // Hard upper bound on concurrency

	// S3 snapshot backups
	BackupEnabled bool
	BackupBucket  string
	BackupPrefix  string
	AWSRegion     string
}

// defaultCurveNameMap routes well-known curve names to provider endpoints.
// Unknown names fall through to the generic market-data provider.
func defaultCurveNameMap() map[string]string {
	return map[string]string{
		"US_Treasury":             "treasury",
		"US_Corporate_AAA":        "corporate",
		"US_Corporate_Spread_AAA": "corporate_spread:AAA",
		"US_Corporate_Spread_BAA": "corporate_spread:BAA",
	}
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FAIRVALUE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
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
		Port:     getEnvAsInt("PORT", 8002),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		CurveTTLDays:          getEnvAsInt("CURVE_TTL_DAYS", 1),
		ExternalCurvesEnabled: getEnvAsBool("EXTERNAL_CURVES_ENABLED", true),
		CurveAPIBaseURL:       getEnv("CURVE_API_BASE_URL", ""),
		CurveAPIKey:           getEnv("CURVE_API_KEY", ""),
		MarketDataBaseURL:     getEnv("MARKET_DATA_BASE_URL", ""),
		MarketDataAPIKey:      getEnv("MARKET_DATA_API_KEY", ""),
		CurveNameMap:          defaultCurveNameMap(),

		FxProviderURL:    getEnv("FX_PROVIDER_URL", ""),
		FxProviderFlavor: getEnv("FX_PROVIDER_FLAVOR", "base_symbols"),
		FxAPIKey:         getEnv("FX_API_KEY", ""),

		ReportingCurrency: getEnv("REPORTING_CURRENCY", "USD"),
		DefaultWorkers:    getEnvAsInt("DEFAULT_WORKERS", 4),
		MaxWorkers:        getEnvAsInt("MAX_WORKERS", 16),

		BackupEnabled: getEnvAsBool("BACKUP_ENABLED", false),
		BackupBucket:  getEnv("BACKUP_BUCKET", ""),
		BackupPrefix:  getEnv("BACKUP_PREFIX", "fairvalue"),
		AWSRegion:     getEnv("AWS_REGION", "us-east-1"),
	}

	// Optional override of the curve-name routing table
	if raw := getEnv("CURVE_NAME_MAP", ""); raw != "" {
		var m map[string]string
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("CURVE_NAME_MAP is not valid JSON: %w", err)
		}
		cfg.CurveNameMap = m
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.MaxWorkers < 1 || c.MaxWorkers > 16 {
		return fmt.Errorf("MAX_WORKERS must be within [1, 16], got %d", c.MaxWorkers)
	}
	if c.DefaultWorkers < 1 {
		c.DefaultWorkers = 1
	}
	if c.DefaultWorkers > c.MaxWorkers {
		c.DefaultWorkers = c.MaxWorkers
	}
	if c.BackupEnabled && c.BackupBucket == "" {
		return fmt.Errorf("BACKUP_BUCKET is required when BACKUP_ENABLED is set")
	}
	return nil
}

// Helper functions
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
