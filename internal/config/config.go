package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration.
type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string

	// RedisURL, when set, moves rate-limit counters to a shared Redis
	// store so multiple instances enforce one quota.
	RedisURL string

	DeviceTokenTTL time.Duration
	AdminTokenTTL  time.Duration

	AuthorizeRateWindow time.Duration
	AuthorizeRateMax    int
	ScanRateWindow      time.Duration
	ScanRateMax         int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                "8080",
		DeviceTokenTTL:      8 * time.Hour,
		AdminTokenTTL:       24 * time.Hour,
		AuthorizeRateWindow: 60 * time.Second,
		AuthorizeRateMax:    10,
		ScanRateWindow:      60 * time.Second,
		ScanRateMax:         120,
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	cfg.RedisURL = os.Getenv("REDIS_URL")

	var err error
	if cfg.DeviceTokenTTL, err = durationEnv("DEVICE_TOKEN_TTL", cfg.DeviceTokenTTL); err != nil {
		return nil, err
	}
	if cfg.AdminTokenTTL, err = durationEnv("ADMIN_TOKEN_TTL", cfg.AdminTokenTTL); err != nil {
		return nil, err
	}
	if cfg.AuthorizeRateWindow, err = durationEnv("AUTHORIZE_RATE_WINDOW", cfg.AuthorizeRateWindow); err != nil {
		return nil, err
	}
	if cfg.AuthorizeRateMax, err = intEnv("AUTHORIZE_RATE_MAX", cfg.AuthorizeRateMax); err != nil {
		return nil, err
	}
	if cfg.ScanRateWindow, err = durationEnv("SCAN_RATE_WINDOW", cfg.ScanRateWindow); err != nil {
		return nil, err
	}
	if cfg.ScanRateMax, err = intEnv("SCAN_RATE_MAX", cfg.ScanRateMax); err != nil {
		return nil, err
	}

	return cfg, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return d, nil
}

func intEnv(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return n, nil
}
