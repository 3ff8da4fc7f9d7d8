package config

import (
	"strings"
	"time"
)

// Config is the process configuration loaded from yaml.
type Config struct {
	App       AppConfig       `toml:"app"`
	Santiment SantimentConfig `toml:"santiment"`
	Fetch     FetchConfig     `toml:"fetch"`
	Catalog   CatalogConfig   `toml:"catalog"`
}

type AppConfig struct {
	LogLevel    string `toml:"log_level"`
	LogPath     string `toml:"log_path"`
	HTTPAddr    string `toml:"http_addr"`
	HTTPEnabled bool   `toml:"http_enabled"`
}

type SantimentConfig struct {
	BaseURL           string          `toml:"base_url"`
	APIKey            string          `toml:"api_key"`
	TimeoutSeconds    int             `toml:"timeout_seconds"`
	MaxRowsPerRequest int             `toml:"max_rows_per_request"`
	RateLimit         RateLimitConfig `toml:"rate_limit"`
	Retry             RetryConfig     `toml:"retry"`
	Breaker           BreakerConfig   `toml:"breaker"`
}

func (s SantimentConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// RateLimitConfig caps attempts per rolling window, shared by every worker.
type RateLimitConfig struct {
	Requests      int `toml:"requests"`
	WindowSeconds int `toml:"window_seconds"`
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

type RetryConfig struct {
	MaxAttempts      int     `toml:"max_attempts"`
	InitialBackoffMS int     `toml:"initial_backoff_ms"`
	MaxBackoffMS     int     `toml:"max_backoff_ms"`
	Multiplier       float64 `toml:"multiplier"`
	Jitter           float64 `toml:"jitter"`
}

// BreakerConfig: Threshold 0 disables the breaker.
type BreakerConfig struct {
	Threshold       int `toml:"threshold"`
	CooldownSeconds int `toml:"cooldown_seconds"`
}

type FetchConfig struct {
	Workers         int  `toml:"workers"`
	Strict          bool `toml:"strict"`
	PartialOnCancel bool `toml:"partial_on_cancel"`
	CacheEnabled    bool `toml:"cache_enabled"`
}

type CatalogConfig struct {
	// SeedFile, when set, backs the catalog with a yaml snapshot instead of
	// the network.
	SeedFile string `toml:"seed_file"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
