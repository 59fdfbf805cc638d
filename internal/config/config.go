// Package config loads service settings from the environment and optional
// .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds every setting the service reads at startup. Components
// receive the pieces they need explicitly instead of reading the process
// environment themselves.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	// GRPCAddr serves grpc.health.v1; empty disables the listener.
	GRPCAddr  string `env:"GRPC_ADDR" envDefault:":9090"`
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`
	AppURL    string `env:"APP_URL" envDefault:"http://localhost:3000"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	PGDSN     string `env:"PG_DSN"`
	RedisAddr string `env:"REDIS_ADDR"`

	AuthSecret string `env:"AUTH_SECRET"`
	CronSecret string `env:"CRON_SECRET"`

	Meta     MetaConfig
	LinkedIn LinkedInConfig

	HTTPClientTimeout time.Duration `env:"HTTP_CLIENT_TIMEOUT" envDefault:"15s"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"0s"`
	SweepBatchSize    int           `env:"SWEEP_BATCH_SIZE" envDefault:"50"`

	RateLimitBurst  int   `env:"RATE_LIMIT_BURST" envDefault:"20"`
	RateLimitPerSec int   `env:"RATE_LIMIT_PER_SEC" envDefault:"10"`
	MaxBodyBytes    int64 `env:"MAX_BODY_BYTES" envDefault:"1048576"`
}

// MetaConfig holds the Facebook/Instagram app credentials.
type MetaConfig struct {
	AppID     string `env:"META_APP_ID"`
	AppSecret string `env:"META_APP_SECRET"`
	GraphURL  string `env:"META_GRAPH_URL" envDefault:"https://graph.facebook.com/v21.0"`
}

// LinkedInConfig holds the LinkedIn app credentials.
type LinkedInConfig struct {
	ClientID     string `env:"LINKEDIN_CLIENT_ID"`
	ClientSecret string `env:"LINKEDIN_CLIENT_SECRET"`
	APIURL       string `env:"LINKEDIN_API_URL" envDefault:"https://api.linkedin.com/v2"`
	AuthURL      string `env:"LINKEDIN_AUTH_URL" envDefault:"https://www.linkedin.com/oauth/v2"`
}

// Load reads .env files when present and parses the environment.
func Load() (*Config, error) {
	for _, file := range []string{".env", ".env.local"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.SweepBatchSize <= 0 {
		return errors.New("SWEEP_BATCH_SIZE must be > 0")
	}
	if c.HTTPClientTimeout <= 0 {
		return errors.New("HTTP_CLIENT_TIMEOUT must be > 0")
	}
	if c.SweepInterval < 0 {
		return errors.New("SWEEP_INTERVAL must not be negative")
	}
	if strings.TrimSpace(c.AppURL) == "" {
		return errors.New("APP_URL is required")
	}
	return nil
}

// CallbackURL is the OAuth redirect URI registered with every platform.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/v1/social/callback"
}
