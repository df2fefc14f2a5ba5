package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration. Values come from an optional YAML
// file, overridden by environment variables, with defaults for the rest.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	DBPath   string `yaml:"db_path"`

	Sync struct {
		Interval     string `yaml:"interval"`
		FetchWorkers int    `yaml:"fetch_workers"`
	} `yaml:"sync"`

	Feed struct {
		DailyURL          string  `yaml:"daily_url"`
		NinetyDayURL      string  `yaml:"ninety_day_url"`
		HistoryURL        string  `yaml:"history_url"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		TimeoutSeconds    int     `yaml:"timeout_seconds"`
	} `yaml:"feed"`

	Calendar struct {
		// ClosingDays lists extra non-publication dates (YYYY-MM-DD) beyond
		// weekends and the standard TARGET closing days.
		ClosingDays []string `yaml:"closing_days"`
	} `yaml:"calendar"`
}

// Load reads config from a YAML file (missing file is fine), then applies
// environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.Sync.Interval = getEnv("SYNC_INTERVAL", cfg.Sync.Interval)
	cfg.Sync.FetchWorkers = getEnvInt("SYNC_FETCH_WORKERS", cfg.Sync.FetchWorkers)
	cfg.Feed.DailyURL = getEnv("FEED_DAILY_URL", cfg.Feed.DailyURL)
	cfg.Feed.NinetyDayURL = getEnv("FEED_NINETY_DAY_URL", cfg.Feed.NinetyDayURL)
	cfg.Feed.HistoryURL = getEnv("FEED_HISTORY_URL", cfg.Feed.HistoryURL)

	// Defaults
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "rates.db"
	}
	if cfg.Sync.Interval == "" {
		cfg.Sync.Interval = "1h"
	}
	if cfg.Sync.FetchWorkers == 0 {
		cfg.Sync.FetchWorkers = 5
	}
	if cfg.Feed.RequestsPerSecond == 0 {
		cfg.Feed.RequestsPerSecond = 2
	}
	if cfg.Feed.TimeoutSeconds == 0 {
		cfg.Feed.TimeoutSeconds = 30
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := c.SyncInterval(); err != nil {
		return fmt.Errorf("sync.interval: %w", err)
	}
	if _, err := c.ClosingDays(); err != nil {
		return err
	}
	return nil
}

// SyncInterval returns the parsed sync interval.
func (c *Config) SyncInterval() (time.Duration, error) {
	return time.ParseDuration(c.Sync.Interval)
}

// ClosingDays returns the parsed extra closing dates.
func (c *Config) ClosingDays() ([]time.Time, error) {
	days := make([]time.Time, 0, len(c.Calendar.ClosingDays))
	for _, s := range c.Calendar.ClosingDays {
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return nil, fmt.Errorf("calendar.closing_days: %q is not a YYYY-MM-DD date", s)
		}
		days = append(days, d)
	}
	return days, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
