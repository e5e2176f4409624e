// Package config loads process-level settings for the trading engine from
// environment variables (optionally backed by a .env file). Per-account and
// per-strategy settings live in JSON files under ConfigDir and are loaded by
// the pm and st packages directly; this package only covers ambient,
// process-wide knobs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-wide settings.
type Config struct {
	ConfigDir      string // directory holding pm_config.json and strategies/
	DataDir        string // directory holding the event store database
	LogLevel       string // debug, info, warn, error
	IntrospectPort int    // HTTP port for the read-only introspection server, 0 disables it
	EventStoreMax  int    // retained event-store row cap

	S3BackupBucket    string // optional: enables periodic event-store archival when set
	S3BackupRegion    string
	S3BackupEndpoint  string // optional: S3-compatible endpoint override (e.g. R2, MinIO)
	S3AccessKey       string
	S3SecretKey       string
	S3BackupRetention int // days; 0 keeps every backup
	S3BackupInterval  int // minutes between scheduled backups
}

// Load reads a .env file if present, then environment variables with
// sensible defaults. configDirOverride (e.g. from a CLI flag) takes
// precedence over the CONFIG_DIR environment variable.
func Load(configDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	configDir := ""
	if len(configDirOverride) > 0 && configDirOverride[0] != "" {
		configDir = configDirOverride[0]
	} else {
		configDir = getEnv("CONFIG_DIR", "./config")
	}

	absConfigDir, err := filepath.Abs(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}

	dataDir := getEnv("DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		ConfigDir:         absConfigDir,
		DataDir:           absDataDir,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		IntrospectPort:    getEnvAsInt("INTROSPECT_PORT", 8090),
		EventStoreMax:     getEnvAsInt("EVENTSTORE_MAX_EVENTS", 1000),
		S3BackupBucket:    getEnv("S3_BACKUP_BUCKET", ""),
		S3BackupRegion:    getEnv("S3_BACKUP_REGION", "auto"),
		S3BackupEndpoint:  getEnv("S3_BACKUP_ENDPOINT", ""),
		S3AccessKey:       getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("S3_SECRET_KEY", ""),
		S3BackupRetention: getEnvAsInt("S3_BACKUP_RETENTION_DAYS", 30),
		S3BackupInterval:  getEnvAsInt("S3_BACKUP_INTERVAL_MINUTES", 360),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// failures deep in module wiring.
func (c *Config) Validate() error {
	if c.EventStoreMax <= 0 {
		return fmt.Errorf("EVENTSTORE_MAX_EVENTS must be positive, got %d", c.EventStoreMax)
	}
	return nil
}

// AccountsConfigPath is the well-known location of the account registry.
func (c *Config) AccountsConfigPath() string {
	return filepath.Join(c.ConfigDir, "pm_config.json")
}

// StrategyConfigPath is the well-known location of one account's strategy.
func (c *Config) StrategyConfigPath(userID, strategyName string) string {
	return filepath.Join(c.ConfigDir, "strategies", userID, strategyName+".json")
}

// EventStorePath is the well-known location of the event log database.
func (c *Config) EventStorePath() string {
	return filepath.Join(c.DataDir, "events.db")
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
