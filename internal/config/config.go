package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	BotToken    string `envconfig:"BOT_TOKEN"`
	BotUsername string `envconfig:"BOT_USERNAME" default:"twin3bot"`
	Port        int    `envconfig:"PORT" default:"3000"`
	SupportURL  string `envconfig:"SUPPORT_URL" default:"https://t.me/twingate_support"`

	API       APIConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Database  DatabaseConfig
}

// APIConfig holds verification backend settings
type APIConfig struct {
	BaseURL       string        `envconfig:"API_BASE_URL"`
	Token         string        `envconfig:"API_TOKEN"`
	Timeout       time.Duration `envconfig:"API_TIMEOUT" default:"30s"`
	RatePerSecond float64       `envconfig:"API_RATE_PER_SECOND" default:"10"`
}

// SessionConfig holds session lifetime settings
type SessionConfig struct {
	IdleTimeout     time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"24h"`
	SweepInterval   time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"1h"`
	VerificationTTL time.Duration `envconfig:"VERIFICATION_TTL" default:"30m"`
}

// RateLimitConfig holds the per-user update budget
type RateLimitConfig struct {
	Window      time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	MaxRequests int           `envconfig:"RATE_LIMIT_MAX_REQUESTS" default:"30"`
}

// RedisConfig holds optional Redis settings; an empty Addr disables Redis
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"twingate"`
	User     string `envconfig:"DB_USER" default:"twingate"`
	Password string `envconfig:"DB_PASSWORD"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// UseRedis reports whether sessions and rate limits should live in Redis
func (c *Config) UseRedis() bool {
	return c.Redis.Addr != ""
}

// HTTPAddr is the listen address of the health server
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// DSN returns PostgreSQL connection string
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
	)
}
