// Package config validates the process environment at startup and produces
// a single immutable Config the rest of the server reads from. A bad or
// missing required variable fails fast here instead of surfacing as a
// confusing error once traffic arrives.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	JWTSecret string
	Port      string

	// Optional variables with defaults
	GoEnv          string
	LogLevel       string
	AllowedOrigins string
	RedisEnabled   bool
	RedisAddr      string
	RedisPassword  string

	// Per-event rate limits, one token-bucket format string per event
	// name ("<tokens>-<window>S") consumed by internal/v1/ratelimit.
	RateLimitGameAction       string
	RateLimitSendMessage      string
	RateLimitCreateRoom       string
	RateLimitJoinRoom         string
	RateLimitSubmitConfession string
	RateLimitRequestMatch     string
	RateLimitUpdateNickname   string

	// GamePoolDefault is the GAME_POOL_DEFAULT list, parsed and logged at
	// startup. Nothing else reads it: the room manager and matchmaker fall
	// back to protocol.KnownGameTypes for an empty pool.
	GamePoolDefault []string
}

// ValidateEnv validates all required environment variables and returns a
// Config. Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// Required: JWT_SECRET (minimum 32 characters, matches auth.TokenService)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errs = append(errs, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Per-event rate limits, one RATE_LIMIT_<EVENT> var per row of the
	// event rate-limit table.
	cfg.RateLimitGameAction = getEnvOrDefault("RATE_LIMIT_GAMEACTION", "30-1S")
	cfg.RateLimitSendMessage = getEnvOrDefault("RATE_LIMIT_SENDMESSAGE", "10-10S")
	cfg.RateLimitCreateRoom = getEnvOrDefault("RATE_LIMIT_CREATEROOM", "3-60S")
	cfg.RateLimitJoinRoom = getEnvOrDefault("RATE_LIMIT_JOINROOM", "10-60S")
	cfg.RateLimitSubmitConfession = getEnvOrDefault("RATE_LIMIT_SUBMITCONFESSION", "5-60S")
	cfg.RateLimitRequestMatch = getEnvOrDefault("RATE_LIMIT_REQUESTMATCH", "5-30S")
	cfg.RateLimitUpdateNickname = getEnvOrDefault("RATE_LIMIT_UPDATENICKNAME", "3-60S")

	cfg.GamePoolDefault = splitGamePool(getEnvOrDefault("GAME_POOL_DEFAULT", "rps,racer,drawguess"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	if parts[0] == "" {
		return false
	}

	return true
}

// splitGamePool parses a comma-separated game-type list, trimming
// whitespace and dropping empty entries.
func splitGamePool(raw string) []string {
	var pool []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			pool = append(pool, s)
		}
	}
	return pool
}

// logValidatedConfig logs the validated configuration with secrets redacted.
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated successfully")
	slog.Info("configuration",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"port", cfg.Port,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"game_pool_default", cfg.GamePoolDefault,
	)
}

// getEnvOrDefault returns the value of the environment variable or a
// default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
