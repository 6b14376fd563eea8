// Package config loads and validates runtime configuration at startup.
// Values come from environment variables, optionally overlaid by a config
// file passed with --config. Fail-fast: if a required value is missing the
// process exits.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the applier service.
type Config struct {
	Port        string `mapstructure:"port"`
	DatabaseURL string `mapstructure:"database-url"`
	RedisURL    string `mapstructure:"redis-url"`

	// Cycle scheduling.
	CycleCron         string `mapstructure:"cycle-cron"`
	WorkerConcurrency int    `mapstructure:"worker-concurrency"`
	MaxPerCycle       int    `mapstructure:"max-per-cycle"`

	// Matching.
	MinScore float64 `mapstructure:"min-score"`

	// Submission gateway.
	GatewayURL    string        `mapstructure:"gateway-url"`
	SubmitTimeout time.Duration `mapstructure:"submit-timeout"`

	// Posting feed ingestion.
	FeedURLs          []string `mapstructure:"feed-urls"`
	FeedIntervalHours int      `mapstructure:"feed-interval-hours"`
	PostingTTLDays    int      `mapstructure:"posting-ttl-days"`
}

// envKeys maps config keys to the environment variables that set them.
var envKeys = map[string]string{
	"port":                "APPLIER_PORT",
	"database-url":        "DATABASE_URL",
	"redis-url":           "REDIS_URL",
	"cycle-cron":          "CYCLE_CRON",
	"worker-concurrency":  "WORKER_CONCURRENCY",
	"max-per-cycle":       "MAX_PER_CYCLE",
	"min-score":           "MIN_SCORE",
	"gateway-url":         "GATEWAY_URL",
	"submit-timeout":      "SUBMIT_TIMEOUT",
	"feed-urls":           "FEED_URLS",
	"feed-interval-hours": "FEED_INTERVAL_HOURS",
	"posting-ttl-days":    "POSTING_TTL_DAYS",
}

// Load reads configuration via viper and returns a validated Config.
func Load() (*Config, error) {
	v := viper.GetViper()

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	v.SetDefault("port", "8083")
	v.SetDefault("cycle-cron", "0 8,18 * * *")
	v.SetDefault("worker-concurrency", 10)
	v.SetDefault("max-per-cycle", 5)
	v.SetDefault("min-score", 0.35)
	v.SetDefault("submit-timeout", 30*time.Second)
	v.SetDefault("feed-interval-hours", 6)
	v.SetDefault("posting-ttl-days", 30)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// FEED_URLS arrives as a comma-separated string from the environment.
	if len(cfg.FeedURLs) == 1 && strings.Contains(cfg.FeedURLs[0], ",") {
		cfg.FeedURLs = splitAndTrim(cfg.FeedURLs[0])
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL is required")
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be a positive integer, got %d", c.WorkerConcurrency)
	}
	if c.MaxPerCycle < 1 {
		return fmt.Errorf("MAX_PER_CYCLE must be a positive integer, got %d", c.MaxPerCycle)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("MIN_SCORE must be within [0,1], got %g", c.MinScore)
	}
	if c.FeedIntervalHours < 1 {
		return fmt.Errorf("FEED_INTERVAL_HOURS must be a positive integer, got %d", c.FeedIntervalHours)
	}
	if c.PostingTTLDays < 1 {
		return fmt.Errorf("POSTING_TTL_DAYS must be a positive integer, got %d", c.PostingTTLDays)
	}
	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
