// Package config loads broker configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the broker server.
type Config struct {
	Port     int
	LogLevel string

	// Database
	DBPath string // SQLite database file

	// Terminals
	MaxTerminals   int    // instance ceiling
	BufferMaxBytes int    // per-terminal output buffer cap
	Shell          string // default shell; empty falls back to $SHELL
	CastDir        string // asciinema recording directory; empty disables recording

	// WebSocket
	RateLimitPerMinute int
	PingInterval       time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: envOrDefault("BROKER_LOG_LEVEL", "info"),

		DBPath: envOrDefault("BROKER_DB_PATH", "./broker.db"),

		MaxTerminals:   envOrDefaultInt("BROKER_MAX_TERMINALS", 50),
		BufferMaxBytes: envOrDefaultInt("BROKER_BUFFER_MAX_BYTES", 256*1024),
		Shell:          os.Getenv("BROKER_SHELL"),
		CastDir:        os.Getenv("BROKER_CAST_DIR"),

		RateLimitPerMinute: envOrDefaultInt("BROKER_RATE_LIMIT_PER_MINUTE", 300),
		PingInterval:       time.Duration(envOrDefaultInt("BROKER_PING_INTERVAL_SEC", 30)) * time.Second,
	}

	if portStr := os.Getenv("BROKER_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid BROKER_PORT %q: %w", portStr, err)
		}
		cfg.Port = port
	}

	if cfg.MaxTerminals <= 0 {
		return nil, fmt.Errorf("BROKER_MAX_TERMINALS must be positive, got %d", cfg.MaxTerminals)
	}
	if cfg.BufferMaxBytes <= 0 {
		return nil, fmt.Errorf("BROKER_BUFFER_MAX_BYTES must be positive, got %d", cfg.BufferMaxBytes)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
