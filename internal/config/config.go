package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process configuration loaded from the environment.
type Config struct {
	AppPort int

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string

	RedisHost     string
	RedisPort     int
	RedisPassword string

	CacheTTL           time.Duration
	SessionLoadTimeout time.Duration
	EnableAuditLogging bool
}

// LoadConfig reads .env if present, then the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppPort:            intEnv("APP_PORT", 8080),
		PostgresHost:       strEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:       intEnv("POSTGRES_PORT", 5432),
		PostgresUser:       strEnv("POSTGRES_USER", "clinic_user"),
		PostgresPassword:   os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:         strEnv("POSTGRES_DB", "clinic_db"),
		RedisHost:          strEnv("REDIS_HOST", "localhost"),
		RedisPort:          intEnv("REDIS_PORT", 6379),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		CacheTTL:           durEnv("CACHE_TTL", 5*time.Minute),
		SessionLoadTimeout: durEnv("SESSION_LOAD_TIMEOUT", 10*time.Second),
		EnableAuditLogging: boolEnv("ENABLE_AUDIT_LOGGING", true),
	}

	if cfg.PostgresPassword == "" {
		return nil, fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	return cfg, nil
}

func strEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func durEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
