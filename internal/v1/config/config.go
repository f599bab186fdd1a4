package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	DatabaseURL    string
	AdminPublicKey string

	// Optional variables with defaults
	Port            string
	Env             string
	DevelopmentMode bool

	// Origins for CORS and the WebSocket upgrade (comma-separated in env)
	AllowedOrigins string

	// Redis bus (enabled when REDIS_ADDR is set)
	RedisAddr     string
	RedisPassword string

	// Rate limit in ulule format, shared by HTTP, upgrades, and socket frames
	RateLimit string

	// Per-connection idle kill switch; zero disables
	IdleTimeout time.Duration

	// Tracing (enabled when OTEL_COLLECTOR_ADDR is set)
	OTELCollectorAddr string
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: DATABASE_URL (Postgres DSN)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errors = append(errors, "DATABASE_URL is required")
	}

	// Required: ADMIN_PUBLIC_KEY (64 hex chars, x-only)
	cfg.AdminPublicKey = os.Getenv("ADMIN_PUBLIC_KEY")
	if cfg.AdminPublicKey == "" {
		errors = append(errors, "ADMIN_PUBLIC_KEY is required")
	} else if !isHexKey(cfg.AdminPublicKey) {
		errors = append(errors, fmt.Sprintf("ADMIN_PUBLIC_KEY must be 64 hex characters (got %d)", len(cfg.AdminPublicKey)))
	}

	// Optional: PORT (defaults to 8080)
	cfg.Port = getEnvOrDefault("PORT", "8080")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	// Optional: ENV (defaults to "production")
	cfg.Env = getEnvOrDefault("ENV", "production")
	cfg.DevelopmentMode = cfg.Env == "development"

	// Optional: ALLOWED_ORIGINS (empty means dev-open / same-host only)
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Optional: REDIS_ADDR enables the cross-instance bus
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr != "" && !isValidHostPort(cfg.RedisAddr) {
		errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	// Optional: RATE_LIMIT (ulule format, e.g. "300-M")
	cfg.RateLimit = getEnvOrDefault("RATE_LIMIT", "300-M")

	// Optional: IDLE_TIMEOUT_SECONDS (0 disables)
	idleStr := getEnvOrDefault("IDLE_TIMEOUT_SECONDS", "0")
	idleSecs, err := strconv.Atoi(idleStr)
	if err != nil || idleSecs < 0 {
		errors = append(errors, fmt.Sprintf("IDLE_TIMEOUT_SECONDS must be a non-negative integer (got '%s')", idleStr))
	} else {
		cfg.IdleTimeout = time.Duration(idleSecs) * time.Second
	}

	// Optional: OTEL_COLLECTOR_ADDR enables tracing
	cfg.OTELCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
	if cfg.OTELCollectorAddr != "" && !isValidHostPort(cfg.OTELCollectorAddr) {
		errors = append(errors, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.OTELCollectorAddr))
	}

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// Origins returns the configured allowed origins as a slice, empty when unset.
func (c *Config) Origins() []string {
	if c.AllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// isHexKey checks if a string is a 64-char hex public key
func isHexKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"database_url", redactSecret(cfg.DatabaseURL),
		"admin_public_key", redactSecret(cfg.AdminPublicKey),
		"port", cfg.Port,
		"env", cfg.Env,
		"allowed_origins", cfg.AllowedOrigins,
		"redis_addr", cfg.RedisAddr,
		"rate_limit", cfg.RateLimit,
		"idle_timeout", cfg.IdleTimeout.String(),
		"otel_collector_addr", cfg.OTELCollectorAddr,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
