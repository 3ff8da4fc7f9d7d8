package app

import (
	"fmt"
	"strings"

	brcfg "sanmetrics/internal/config"
	"sanmetrics/internal/gateway/santiment"
)

type StartupSummary struct {
	Gateway GatewaySummary
	Fetch   FetchSummary
	Catalog string
	HTTP    string
}

type GatewaySummary struct {
	BaseURL   string
	Budget    string
	MaxRows   int
	Timeout   string
	Retries   int
	Breaker   string
	APIKeySet bool
}

type FetchSummary struct {
	Workers         int
	Strict          bool
	PartialOnCancel bool
	Cache           bool
}

func newStartupSummary(cfg *brcfg.Config, gw *santiment.Client) *StartupSummary {
	s := &StartupSummary{
		Gateway: GatewaySummary{
			BaseURL:   cfg.Santiment.BaseURL,
			Budget:    santiment.NewBudget(cfg.Santiment.RateLimit.Requests, cfg.Santiment.RateLimit.Window()).String(),
			MaxRows:   cfg.Santiment.MaxRowsPerRequest,
			Timeout:   cfg.Santiment.Timeout().String(),
			Retries:   cfg.Santiment.Retry.MaxAttempts,
			Breaker:   "off",
			APIKeySet: strings.TrimSpace(cfg.Santiment.APIKey) != "",
		},
		Fetch: FetchSummary{
			Workers:         cfg.Fetch.Workers,
			Strict:          cfg.Fetch.Strict,
			PartialOnCancel: cfg.Fetch.PartialOnCancel,
			Cache:           cfg.Fetch.CacheEnabled,
		},
		Catalog: "remote",
		HTTP:    "disabled",
	}
	if gw != nil && gw.Breaker().Enabled() {
		s.Gateway.Breaker = fmt.Sprintf("open after %d failures, cooldown %ds",
			cfg.Santiment.Breaker.Threshold, cfg.Santiment.Breaker.CooldownSeconds)
	}
	if seed := strings.TrimSpace(cfg.Catalog.SeedFile); seed != "" {
		s.Catalog = "seed file " + seed
	}
	if cfg.App.HTTPEnabled {
		s.HTTP = cfg.App.HTTPAddr
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("STARTUP SUMMARY")/2, "STARTUP SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[SANTIMENT API]")
	fmt.Printf("  endpoint: %s\n", s.Gateway.BaseURL)
	fmt.Printf("  api key:  %s\n", onOff(s.Gateway.APIKeySet, "set", "missing (anonymous access)"))
	fmt.Printf("  budget:   %s\n", s.Gateway.Budget)
	fmt.Printf("  max rows: %d per request\n", s.Gateway.MaxRows)
	fmt.Printf("  timeout:  %s, %d attempts\n", s.Gateway.Timeout, s.Gateway.Retries)
	fmt.Printf("  breaker:  %s\n", s.Gateway.Breaker)
	fmt.Println()

	fmt.Println("[FETCH]")
	fmt.Printf("  workers:           %d\n", s.Fetch.Workers)
	fmt.Printf("  validation:        %s\n", onOff(s.Fetch.Strict, "strict", "lenient"))
	fmt.Printf("  partial on cancel: %t\n", s.Fetch.PartialOnCancel)
	fmt.Printf("  chunk cache:       %s\n", onOff(s.Fetch.Cache, "on", "off"))
	fmt.Println()

	fmt.Println("[SERVICE]")
	fmt.Printf("  catalog:  %s\n", s.Catalog)
	fmt.Printf("  http api: %s\n", s.HTTP)
	fmt.Println(strings.Repeat("=", 80))
}

func onOff(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}
