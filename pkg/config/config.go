// Copyright 2025 Certen Protocol
//
// Configuration loading for the iSafe indexer: environment variables with
// safe defaults, plus an optional YAML overlay for operators who prefer a
// file over a sprawling environment.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the iSafe indexer service.
type Config struct {
	// Chain Configuration
	PackageAddress string // the iSafe package id events are filtered to
	NodeURL        string // full-node RPC endpoint
	CheckpointURL  string // checkpoint stream endpoint

	// Checkpoint Driver Configuration
	NumWorkers int

	// Server Configuration
	APIHost string
	APIPort int

	// Database Configuration
	DatabaseURL       string
	PoolSize          int
	ConnectionTimeout time.Duration
	EnableWAL         bool

	// Progress Store Configuration
	ProgressStoreDir  string
	ProgressStoreName string

	// Service Configuration
	LogLevel string

	// CORS
	CORSOrigins []string
}

// Load reads configuration from environment variables, then applies a YAML
// overlay from configPath if one was given (overlay wins on conflict for
// any field it sets explicitly).
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		PackageAddress: getEnv("ISAFE_PACKAGE_ADDRESS", ""),
		NodeURL:        getEnv("ISAFE_NODE_URL", ""),
		CheckpointURL:  getEnv("ISAFE_CHECKPOINT_URL", ""),

		NumWorkers: getEnvInt("ISAFE_NUM_WORKERS", 4),

		APIHost: getEnv("ISAFE_API_HOST", "0.0.0.0"),
		APIPort: getEnvInt("ISAFE_API_PORT", 8080),

		DatabaseURL:       getEnv("DATABASE_URL", ""),
		PoolSize:          getEnvInt("ISAFE_DB_POOL_SIZE", 10),
		ConnectionTimeout: getEnvDuration("ISAFE_DB_CONN_TIMEOUT", 30*time.Second),
		EnableWAL:         getEnvBool("ISAFE_DB_ENABLE_WAL", false),

		ProgressStoreDir:  getEnv("ISAFE_PROGRESS_STORE_DIR", "./data"),
		ProgressStoreName: getEnv("ISAFE_PROGRESS_STORE_NAME", "isafe-progress"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		CORSOrigins: splitAndTrim(getEnv("ISAFE_CORS_ORIGINS", "*")),
	}

	if configPath != "" {
		if err := applyYAMLOverlay(cfg, configPath); err != nil {
			return nil, fmt.Errorf("failed to apply config overlay %s: %w", configPath, err)
		}
	}

	return cfg, nil
}

// IsConfiguredPackage reports whether addr (already lowercase hex) matches
// the configured package address. The Codec owns the authoritative check;
// this is a cheap string-level early filter ahead of it where useful.
func (c *Config) IsConfiguredPackage(addr string) bool {
	return strings.EqualFold(addr, c.PackageAddress)
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	var problems []string

	if c.PackageAddress == "" {
		problems = append(problems, "ISAFE_PACKAGE_ADDRESS is required but not set")
	}
	if c.NodeURL == "" {
		problems = append(problems, "ISAFE_NODE_URL is required but not set")
	}
	if c.CheckpointURL == "" {
		problems = append(problems, "ISAFE_CHECKPOINT_URL is required but not set")
	}
	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required but not set")
	}
	if c.NumWorkers < 1 {
		problems = append(problems, "ISAFE_NUM_WORKERS must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// configOverlay is the YAML shape an operator may supply to override any
// subset of the environment-derived Config.
type configOverlay struct {
	PackageAddress string `yaml:"package_address"`
	NodeURL        string `yaml:"node_url"`
	CheckpointURL  string `yaml:"checkpoint_url"`
	NumWorkers     int    `yaml:"num_workers"`
	APIHost        string `yaml:"api_host"`
	APIPort        int    `yaml:"api_port"`
	DatabaseURL    string `yaml:"database_url"`
	PoolSize       int    `yaml:"pool_size"`
	LogLevel       string `yaml:"log_level"`
}

func applyYAMLOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var overlay configOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("invalid yaml: %w", err)
	}

	if overlay.PackageAddress != "" {
		cfg.PackageAddress = overlay.PackageAddress
	}
	if overlay.NodeURL != "" {
		cfg.NodeURL = overlay.NodeURL
	}
	if overlay.CheckpointURL != "" {
		cfg.CheckpointURL = overlay.CheckpointURL
	}
	if overlay.NumWorkers != 0 {
		cfg.NumWorkers = overlay.NumWorkers
	}
	if overlay.APIHost != "" {
		cfg.APIHost = overlay.APIHost
	}
	if overlay.APIPort != 0 {
		cfg.APIPort = overlay.APIPort
	}
	if overlay.DatabaseURL != "" {
		cfg.DatabaseURL = overlay.DatabaseURL
	}
	if overlay.PoolSize != 0 {
		cfg.PoolSize = overlay.PoolSize
	}
	if overlay.LogLevel != "" {
		cfg.LogLevel = overlay.LogLevel
	}

	return nil
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Helper functions for environment variable parsing.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
