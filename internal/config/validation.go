package config

import (
	"fmt"
	"net/url"
	"strings"

	"sanmetrics/internal/logger"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Santiment.validate(); err != nil {
		return err
	}
	return c.Fetch.validate()
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", a.LogLevel)
	}
	if a.HTTPEnabled && strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr is required when app.http_enabled is true")
	}
	return nil
}

func (s *SantimentConfig) validate() error {
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("santiment.base_url is not a valid URL: %q", s.BaseURL)
	}
	if s.TimeoutSeconds <= 0 {
		return fmt.Errorf("santiment.timeout_seconds must be > 0")
	}
	if s.MaxRowsPerRequest <= 0 {
		return fmt.Errorf("santiment.max_rows_per_request must be > 0")
	}
	if s.RateLimit.Requests <= 0 || s.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("santiment.rate_limit requires requests > 0 and window_seconds > 0")
	}
	r := s.Retry
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("santiment.retry.max_attempts must be > 0")
	}
	if r.InitialBackoffMS <= 0 || r.MaxBackoffMS < r.InitialBackoffMS {
		return fmt.Errorf("santiment.retry requires 0 < initial_backoff_ms <= max_backoff_ms")
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("santiment.retry.multiplier must be >= 1")
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		return fmt.Errorf("santiment.retry.jitter must be within [0,1]")
	}
	if s.Breaker.Threshold < 0 {
		return fmt.Errorf("santiment.breaker.threshold must be >= 0")
	}
	if s.APIKey == "" {
		logger.Warnf("santiment.api_key is empty (and %s unset); only free metrics will be served", APIKeyEnv)
	}
	return nil
}

func (f *FetchConfig) validate() error {
	if f.Workers <= 0 {
		return fmt.Errorf("fetch.workers must be > 0")
	}
	return nil
}
