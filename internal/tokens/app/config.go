package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Issuer   string   // Issuer claim for access tokens
	Audience []string // Audience claim values validated on verification

	Algorithm            string        // Optional: JWT signing algorithm (EdDSA, HS256) (default: EdDSA)
	NumKeys              int           // Optional: number of signing keys to generate (default: 3, min: 1, max: 10)
	KeyStorageMode       string        // Optional: key storage mode (ephemeral, persistent) (default: ephemeral)
	KeyLifetime          time.Duration // Optional: hard lifetime of persistent keys before cleanup (default: 90 days)
	MasterKeyPath        string        // Optional: path to master encryption key file (for persistent keys)
	HMACSecret           string        // Required for HS256: shared signing secret (min 32 bytes)
	AccessTokenTTL       time.Duration // Access token lifetime (default: 15m)
	RefreshTokenTTL      time.Duration // Refresh token lifetime (default: 168h)
	DatabaseFile         string        // Optional: path to SQLite database file (default: ./tokend.db)
	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
	AuditBufferSize      int           // Audit dispatcher queue depth (default: 256)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:               getEnvOrDefault("TOKEND_ISSUER", "contribux"),
		Algorithm:            getEnvOrDefault("TOKEND_ALGORITHM", "EdDSA"),
		NumKeys:              getEnvIntOrDefault("TOKEND_NUM_KEYS", 0),
		KeyStorageMode:       getEnvOrDefault("TOKEND_KEY_STORAGE_MODE", "ephemeral"),
		KeyLifetime:          getEnvDurationOrDefault("TOKEND_KEY_LIFETIME", 90*24*time.Hour),
		MasterKeyPath:        os.Getenv("TOKEND_MASTER_KEY_PATH"),
		HMACSecret:           os.Getenv("TOKEND_HMAC_SECRET"),
		AccessTokenTTL:       getEnvDurationOrDefault("TOKEND_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:      getEnvDurationOrDefault("TOKEND_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		DatabaseFile:         getEnvOrDefault("TOKEND_DATABASE_FILE", "tokend.db"),
		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
		AuditBufferSize:      getEnvIntOrDefault("TOKEND_AUDIT_BUFFER_SIZE", 256),
	}

	// Comma-separated list; default to the API audience.
	aud := getEnvOrDefault("TOKEND_AUDIENCE", "contribux-api")
	for _, v := range strings.Split(aud, ",") {
		if v = strings.TrimSpace(v); v != "" {
			cfg.Audience = append(cfg.Audience, v)
		}
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
