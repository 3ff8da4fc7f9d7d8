package config

import (
	"os"
	"strings"
)

const (
	defaultLogLevel        = "info"
	defaultHTTPAddr        = ":9991"
	defaultBaseURL         = "https://api.santiment.net/graphql"
	defaultTimeoutSeconds  = 30
	defaultMaxRows         = 10000
	defaultRateRequests    = 60
	defaultRateWindow      = 60
	defaultRetryAttempts   = 5
	defaultRetryInitialMS  = 500
	defaultRetryMaxMS      = 30000
	defaultRetryMultiplier = 2
	defaultRetryJitter     = 0.2
	defaultBreakerCooldown = 30
	defaultWorkers         = 5

	// APIKeyEnv is consulted when santiment.api_key is empty.
	APIKeyEnv = "SANTIMENT_API_KEY"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Santiment.applyDefaults(keys)
	c.Fetch.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.log_level", &a.LogLevel, defaultLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultHTTPAddr),
	)
}

func (s *SantimentConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("santiment.base_url", &s.BaseURL, defaultBaseURL),
		intFieldDefault("santiment.timeout_seconds", &s.TimeoutSeconds, defaultTimeoutSeconds),
		intFieldDefault("santiment.max_rows_per_request", &s.MaxRowsPerRequest, defaultMaxRows),
		intFieldDefault("santiment.rate_limit.requests", &s.RateLimit.Requests, defaultRateRequests),
		intFieldDefault("santiment.rate_limit.window_seconds", &s.RateLimit.WindowSeconds, defaultRateWindow),
		intFieldDefault("santiment.retry.max_attempts", &s.Retry.MaxAttempts, defaultRetryAttempts),
		intFieldDefault("santiment.retry.initial_backoff_ms", &s.Retry.InitialBackoffMS, defaultRetryInitialMS),
		intFieldDefault("santiment.retry.max_backoff_ms", &s.Retry.MaxBackoffMS, defaultRetryMaxMS),
		fieldDefault{
			key:   "santiment.retry.multiplier",
			need:  func() bool { return s.Retry.Multiplier < 1 },
			apply: func() { s.Retry.Multiplier = defaultRetryMultiplier },
		},
		fieldDefault{
			key:   "santiment.retry.jitter",
			apply: func() { s.Retry.Jitter = defaultRetryJitter },
		},
		intFieldDefault("santiment.breaker.cooldown_seconds", &s.Breaker.CooldownSeconds, defaultBreakerCooldown),
	)
	s.APIKey = strings.TrimSpace(s.APIKey)
	if s.APIKey == "" {
		s.APIKey = strings.TrimSpace(os.Getenv(APIKeyEnv))
	}
}

func (f *FetchConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("fetch.workers", &f.Workers, defaultWorkers),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}
