package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	AppDatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Access token for the gateway API. APITokenHash holds a bcrypt hash and
	// takes the place of APIToken when the plain value should not live in env.
	APIToken     string
	APITokenHash string
	JWTSecret    string

	AuthSessionsDir string
	DeviceOSName    string

	QRTTL                time.Duration
	ReconnectDelay       time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int

	MediaMaxBytes     int64
	MediaFetchTimeout time.Duration
	WebhookTimeout    time.Duration

	CORSAllowOrigins []string
	RateLimit        int
	RateBurst        int
	RateWindow       time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment. Call godotenv.Load
// beforehand if a .env file should be honoured.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "2121"),
		AppDatabaseURL: getEnv("APP_DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		APIToken:     getEnv("API_TOKEN", ""),
		APITokenHash: getEnv("API_TOKEN_HASH", ""),
		JWTSecret:    getEnv("JWT_SECRET", ""),

		AuthSessionsDir: getEnv("AUTH_SESSIONS_DIR", "auth_sessions"),
		DeviceOSName:    getEnv("DEVICE_OS_NAME", "GOWA Sessions"),

		QRTTL:                getEnvAsDuration("QR_TTL", 60*time.Second),
		ReconnectDelay:       getEnvAsDuration("RECONNECT_DELAY", 3*time.Second),
		ReconnectMaxDelay:    getEnvAsDuration("RECONNECT_MAX_DELAY", 60*time.Second),
		ReconnectMaxAttempts: getEnvAsInt("RECONNECT_MAX_ATTEMPTS", 20),

		MediaMaxBytes:     int64(getEnvAsInt("MEDIA_MAX_BYTES", 16<<20)),
		MediaFetchTimeout: getEnvAsDuration("MEDIA_FETCH_TIMEOUT", 30*time.Second),
		WebhookTimeout:    getEnvAsDuration("WEBHOOK_TIMEOUT", 10*time.Second),

		CORSAllowOrigins: splitList(getEnv("CORS_ALLOW_ORIGINS", "*")),
		RateLimit:        getEnvAsInt("RATE_LIMIT_PER_SECOND", 10),
		RateBurst:        getEnvAsInt("RATE_LIMIT_BURST", 10),
		RateWindow:       time.Duration(getEnvAsInt("RATE_LIMIT_WINDOW_MINUTES", 3)) * time.Minute,

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AppDatabaseURL == "" {
		return fmt.Errorf("APP_DATABASE_URL is not set")
	}
	if c.APIToken == "" && c.APITokenHash == "" && c.JWTSecret == "" {
		return fmt.Errorf("one of API_TOKEN, API_TOKEN_HASH or JWT_SECRET must be set")
	}
	if c.QRTTL <= 0 {
		return fmt.Errorf("QR_TTL must be positive, got %s", c.QRTTL)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be positive, got %s", c.ReconnectDelay)
	}
	if c.ReconnectMaxDelay < c.ReconnectDelay {
		c.ReconnectMaxDelay = c.ReconnectDelay
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must not be negative, got %d", c.ReconnectMaxAttempts)
	}
	if c.MediaMaxBytes <= 0 {
		return fmt.Errorf("MEDIA_MAX_BYTES must be positive, got %d", c.MediaMaxBytes)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("3s") and bare seconds ("3").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
