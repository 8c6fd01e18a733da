// Package config loads and validates process configuration from the environment.
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
	// Required (Port is optional and defaults to 8080)
	DatabaseURL string
	RedisURL    string
	Port        string

	// Optional with defaults
	GoEnv             string
	LogLevel          string
	UseRedisSessions  bool
	AllowedOrigins    string
	GameRounds        int
	GameSecPerRound   int
	WordlistPath      string
	SessionTTLSeconds int

	RateLimitAPIPublic string
	RateLimitAPIRooms  string
	RateLimitWsIP      string
}

// ValidateEnv validates required environment variables and returns a Config.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		errs = append(errs, "REDIS_URL is required")
	}

	cfg.Port = getEnvOrDefault("PORT", "8080")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got %q)", cfg.Port))
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.UseRedisSessions = getEnvOrDefault("USE_REDIS_SESSIONS", "true") == "true"
	cfg.AllowedOrigins = getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	cfg.WordlistPath = getEnvOrDefault("WORDLIST_PATH", "internal/gameloop/words.txt")

	cfg.GameRounds = getEnvIntOrDefault("GAME_ROUNDS", 1, &errs, "GAME_ROUNDS")
	cfg.GameSecPerRound = getEnvIntOrDefault("GAME_SEC_PER_ROUND", 60, &errs, "GAME_SEC_PER_ROUND")
	cfg.SessionTTLSeconds = getEnvIntOrDefault("SESSION_TTL_SECONDS", 24*60*60, &errs, "SESSION_TTL_SECONDS")

	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "30-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "60-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int, errs *[]string, label string) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer (got %q)", label, raw))
		return defaultValue
	}
	return v
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"database_url", redactSecret(cfg.DatabaseURL),
		"redis_url", redactSecret(cfg.RedisURL),
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"use_redis_sessions", cfg.UseRedisSessions,
		"game_rounds", cfg.GameRounds,
		"game_sec_per_round", cfg.GameSecPerRound,
	)
}

// redactSecret masks all but a short prefix of a value that may carry credentials.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
