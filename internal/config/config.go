package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the gate server. It is constructed
// once at process start and passed by reference; no component reads
// environment state directly.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Metering    MeteringConfig
	Idempotency IdempotencyConfig
	RateLimit   RateLimitConfig
	Tasks       TasksConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// AuthConfig carries the signing secrets for session tokens. Access and
// refresh tokens use separate secrets so one population can be rotated
// without invalidating the other.
type AuthConfig struct {
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

type MeteringConfig struct {
	SampleRate float64
}

type IdempotencyConfig struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

type RateLimitConfig struct {
	RequestsPerMin int
}

type TasksConfig struct {
	QueueSize int
	Workers   int
}

var validEnvs = map[string]bool{
	"development": true,
	"staging":     true,
	"production":  true,
}

// defaultSampleRate returns the metering sample rate for an environment:
// full capture in development, partial in staging, a small percentage in
// production.
func defaultSampleRate(env string) float64 {
	switch env {
	case "production":
		return 0.1
	case "staging":
		return 0.5
	default:
		return 1.0
	}
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	env := envString("GATE_ENV", "development")

	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("GATE_PORT", 8080),
			Env:  env,
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Auth: AuthConfig{
			AccessTokenSecret:  os.Getenv("SESSION_TOKEN_SECRET"),
			RefreshTokenSecret: os.Getenv("REFRESH_TOKEN_SECRET"),
			AccessTokenExpiry:  envDuration("SESSION_TOKEN_EXPIRY", 1*time.Hour),
			RefreshTokenExpiry: envDuration("REFRESH_TOKEN_EXPIRY", 720*time.Hour),
		},
		Metering: MeteringConfig{
			SampleRate: envFloat("USAGE_SAMPLE_RATE", defaultSampleRate(env)),
		},
		Idempotency: IdempotencyConfig{
			TTL:             envDuration("IDEMPOTENCY_TTL", 24*time.Hour),
			CleanupInterval: envDuration("IDEMPOTENCY_CLEANUP_INTERVAL", 1*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
		Tasks: TasksConfig{
			QueueSize: envInt("TASK_QUEUE_SIZE", 256),
			Workers:   envInt("TASK_WORKERS", 4),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validEnvs[c.Server.Env] {
		return fmt.Errorf("GATE_ENV must be one of development, staging, production; got %q", c.Server.Env)
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Auth.AccessTokenSecret == "" {
		return fmt.Errorf("SESSION_TOKEN_SECRET is required")
	}
	if c.Auth.RefreshTokenSecret == "" {
		return fmt.Errorf("REFRESH_TOKEN_SECRET is required")
	}
	if c.Auth.AccessTokenSecret == c.Auth.RefreshTokenSecret {
		return fmt.Errorf("SESSION_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}

	if c.Metering.SampleRate <= 0 || c.Metering.SampleRate > 1 {
		return fmt.Errorf("USAGE_SAMPLE_RATE must be in (0, 1]; got %v", c.Metering.SampleRate)
	}

	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive; got %v", c.Idempotency.TTL)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
