package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string

	// GeoIP database locations; either may be absent, lookups then fail
	// open to empty geo data.
	GeoIPCityPath string
	GeoIPASNPath  string

	// Background cadence. Scheduling can be disabled entirely for tests
	// and for deployments that drive the jobs externally.
	SchedulerEnabled       bool
	AlertEvaluationMinutes int

	// RetentionDays bounds how long raw request logs are kept before the
	// sweep archives them. Rollups are kept indefinitely.
	RetentionDays int
}

// Load reads env vars and falls back to defaults so the service can boot
// with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:            getEnv("WT_ENV", "development"),
		HTTPPort:               getEnv("WT_HTTP_PORT", "8080"),
		DatabasePath:           getEnv("WT_DB_PATH", filepath.Join("data", "watchtower.db")),
		GeoIPCityPath:          getEnv("WT_GEOIP_CITY_PATH", ""),
		GeoIPASNPath:           getEnv("WT_GEOIP_ASN_PATH", ""),
		SchedulerEnabled:       getEnvBool("WT_SCHEDULER_ENABLED", true),
		AlertEvaluationMinutes: getEnvInt("WT_ALERT_EVAL_MINUTES", 1),
		RetentionDays:          getEnvInt("WT_RETENTION_DAYS", 90),
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}

	return fallback
}
