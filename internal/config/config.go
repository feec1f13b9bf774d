// Package config loads cartsync configuration from YAML.
//
// Loading is layered: Default, then the YAML file, then environment
// overrides. The result is validated against an embedded CUE schema.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cartsync/internal/migration"
)

// Environment variables that override file values.
const (
	EnvAPIURL = "CARTSYNC_API_URL"
	EnvToken  = "CARTSYNC_TOKEN"
	EnvStore  = "CARTSYNC_STORE"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config is the full cartsync configuration.
type Config struct {
	API       APIConfig       `yaml:"api" json:"api"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Queue     QueueConfig     `yaml:"queue" json:"queue"`
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	Migration MigrationConfig `yaml:"migration" json:"migration"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// APIConfig configures the Cart API client.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	RateLimit float64       `yaml:"rate_limit" json:"rate_limit"`
	Burst     int           `yaml:"burst" json:"burst"`
	// Token is a bearer token for an authenticated session. Empty means guest.
	Token string `yaml:"token" json:"token"`
}

// StoreConfig selects the durable store.
type StoreConfig struct {
	Driver    string `yaml:"driver" json:"driver"`
	Path      string `yaml:"path" json:"path"`
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
	RedisDB   int    `yaml:"redis_db" json:"redis_db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// RedisURL is the go-redis URL for RedisAddr and RedisDB.
func (s StoreConfig) RedisURL() string {
	return fmt.Sprintf("redis://%s/%d", s.RedisAddr, s.RedisDB)
}

// QueueConfig configures the offline queue.
type QueueConfig struct {
	Capacity        int           `yaml:"capacity" json:"capacity"`
	MaxAttempts     int           `yaml:"max_attempts" json:"max_attempts"`
	ProcessInterval time.Duration `yaml:"process_interval" json:"process_interval"`
}

// RetryConfig tunes backoff.
type RetryConfig struct {
	Cap    time.Duration `yaml:"cap" json:"cap"`
	Jitter float64       `yaml:"jitter" json:"jitter"`
}

// MigrationConfig sets the login migration strategy.
type MigrationConfig struct {
	Strategy string `yaml:"strategy" json:"strategy"`
}

// LogConfig configures the CLI logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:   "http://127.0.0.1:8080",
			Timeout:   10 * time.Second,
			RateLimit: 10,
			Burst:     5,
		},
		Store: StoreConfig{
			Driver:    DriverSQLite,
			Path:      "cartsync.db",
			RedisAddr: "127.0.0.1:6379",
			KeyPrefix: "cartsync:",
		},
		Queue: QueueConfig{
			Capacity:        100,
			MaxAttempts:     5,
			ProcessInterval: 30 * time.Second,
		},
		Retry: RetryConfig{
			Cap:    30 * time.Second,
			Jitter: 0.1,
		},
		Migration: MigrationConfig{Strategy: string(migration.MergeQuantities)},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes data over the defaults and validates it. Environment
// overrides are not applied.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decode(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIURL); ok && v != "" {
		c.API.BaseURL = v
	}
	if v, ok := lookup(EnvToken); ok {
		c.API.Token = v
	}
	if v, ok := lookup(EnvStore); ok && v != "" {
		c.Store.Driver = v
	}
}

// MigrationStrategy returns the parsed migration strategy.
func (c Config) MigrationStrategy() migration.Strategy {
	s, err := migration.ParseStrategy(c.Migration.Strategy)
	if err != nil {
		return migration.MergeQuantities
	}
	return s
}
