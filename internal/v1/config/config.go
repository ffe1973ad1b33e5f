// Package config validates and loads process configuration for the dice server.
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

	// Redis (optional; single-instance mode when disabled)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Auth
	JWKSURL         string
	JWTIssuer       string
	JWTAudience     string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string

	// Ambient
	GoEnv    string
	LogLevel string

	// Rate limits (ulule/limiter formatted strings, e.g. "100-M")
	RateLimitAPIGlobal   string
	RateLimitAPIPublic   string
	RateLimitAPIRooms    string
	RateLimitAPIMessages string
	RateLimitWsIP        string
	RateLimitWsUser      string

	// Dice-game timing defaults (seconds unless noted)
	DefaultTurnTimeoutSeconds int
	ReconnectWindowMillis     int64
	AFKGraceSeconds           int
	PauseTimeoutSeconds       int
	SeatExpirationSweepSeconds int
	InviteExpirySeconds       int
	JoinRequestExpirySeconds  int
	AITurnWatchdogSeconds     int
	AITurnMaxRetries          int
	WarmSeatCountdownSeconds  int
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.JWKSURL = os.Getenv("JWKS_URL")
	if cfg.JWTSecret == "" && cfg.JWKSURL == "" {
		errs = append(errs, "one of JWT_SECRET or JWKS_URL is required")
	}
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 32 {
		errs = append(errs, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080"
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

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

	cfg.JWTIssuer = os.Getenv("JWT_ISSUER")
	cfg.JWTAudience = os.Getenv("JWT_AUDIENCE")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")
	cfg.RateLimitAPIMessages = getEnvOrDefault("RATE_LIMIT_API_MESSAGES", "500-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	cfg.DefaultTurnTimeoutSeconds = getEnvInt("DEFAULT_TURN_TIMEOUT_SECONDS", 60)
	cfg.ReconnectWindowMillis = getEnvInt64("RECONNECT_WINDOW_MS", 5*60*1000)
	cfg.AFKGraceSeconds = getEnvInt("AFK_GRACE_SECONDS", 90)
	cfg.PauseTimeoutSeconds = getEnvInt("PAUSE_TIMEOUT_SECONDS", 30*60)
	cfg.SeatExpirationSweepSeconds = getEnvInt("SEAT_EXPIRATION_SWEEP_SECONDS", 30)
	cfg.InviteExpirySeconds = getEnvInt("INVITE_EXPIRY_SECONDS", 5*60)
	cfg.JoinRequestExpirySeconds = getEnvInt("JOIN_REQUEST_EXPIRY_SECONDS", 2*60)
	cfg.AITurnWatchdogSeconds = getEnvInt("AI_TURN_WATCHDOG_SECONDS", 35)
	cfg.AITurnMaxRetries = getEnvInt("AI_TURN_MAX_RETRIES", 3)
	cfg.WarmSeatCountdownSeconds = getEnvInt("WARM_SEAT_COUNTDOWN_SECONDS", 10)

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"port", cfg.Port,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"rate_limit_api_global", cfg.RateLimitAPIGlobal,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
