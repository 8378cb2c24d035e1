package config

import (
	"fmt"
	"time"
)

// OutboxConfig configures the outbox dispatcher binary.
type OutboxConfig struct {
	DatabaseURL string
	APIBaseURL  string
	APIToken    string
	APITimeout  time.Duration

	Application string
	Interval    time.Duration
	IntervalMax time.Duration
	CountryCode string

	LogLevel  string
	LogFormat string
}

func LoadOutbox() (*OutboxConfig, error) {
	cfg := &OutboxConfig{
		DatabaseURL: getEnv("OUTBOX_DATABASE_URL", getEnv("APP_DATABASE_URL", "")),
		APIBaseURL:  getEnv("OUTBOX_API_BASEURL", "http://localhost:"+getEnv("PORT", "2121")),
		APIToken:    getEnv("OUTBOX_API_TOKEN", getEnv("API_TOKEN", "")),
		APITimeout:  getEnvAsDuration("OUTBOX_API_TIMEOUT", 60*time.Second),

		Application: getEnv("OUTBOX_APPLICATION", ""),
		Interval:    getEnvAsDuration("OUTBOX_INTERVAL", 5*time.Second),
		IntervalMax: getEnvAsDuration("OUTBOX_INTERVAL_MAX", 0),
		CountryCode: getEnv("OUTBOX_COUNTRY_CODE", "62"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config validation: neither OUTBOX_DATABASE_URL nor APP_DATABASE_URL is set")
	}
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("config validation: OUTBOX_API_TOKEN or API_TOKEN must be set")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("config validation: OUTBOX_INTERVAL must be positive, got %s", cfg.Interval)
	}
	if cfg.IntervalMax < cfg.Interval {
		cfg.IntervalMax = cfg.Interval
	}
	return cfg, nil
}
