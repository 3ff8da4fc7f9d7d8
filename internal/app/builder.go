package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sanmetrics/internal/catalog"
	brcfg "sanmetrics/internal/config"
	"sanmetrics/internal/fetch"
	"sanmetrics/internal/gateway/santiment"
	"sanmetrics/internal/logger"
	"sanmetrics/internal/planner"
	"sanmetrics/internal/store"
	apihttp "sanmetrics/internal/transport/http/api"
)

type AppBuilder struct {
	cfg *brcfg.Config

	gatewayFn       func(brcfg.SantimentConfig, *santiment.Budget) *santiment.Client
	catalogSourceFn func(brcfg.CatalogConfig, *santiment.Client) (catalog.Source, error)
	cacheFn         func(brcfg.FetchConfig) (*store.ChunkCache, error)
	httpFn          func(brcfg.AppConfig, brcfg.SantimentConfig, apihttp.Service) (*apihttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithGatewayFactory replaces how the Santiment client is built, for tests.
func WithGatewayFactory(fn func(brcfg.SantimentConfig, *santiment.Budget) *santiment.Client) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.gatewayFn = fn
		}
	}
}

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:             cfg,
		gatewayFn:       buildGateway,
		catalogSourceFn: buildCatalogSource,
		cacheFn:         buildChunkCache,
		httpFn:          buildHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// BuildClient wires the library surface without any server around it.
func (b *AppBuilder) BuildClient() (*Client, *santiment.Client, error) {
	if b.cfg == nil {
		return nil, nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	budget := santiment.NewBudget(cfg.Santiment.RateLimit.Requests, cfg.Santiment.RateLimit.Window())
	gw := b.gatewayFn(cfg.Santiment, budget)

	src, err := b.catalogSourceFn(cfg.Catalog, gw)
	if err != nil {
		return nil, nil, err
	}
	cat := catalog.New(src)

	cache, err := b.cacheFn(cfg.Fetch)
	if err != nil {
		return nil, nil, err
	}
	ecfg := fetch.EngineConfig{
		Gateway:         gw,
		Planner:         planner.New(cfg.Santiment.MaxRowsPerRequest),
		Catalog:         cat,
		Workers:         cfg.Fetch.Workers,
		Strict:          cfg.Fetch.Strict,
		PartialOnCancel: cfg.Fetch.PartialOnCancel,
	}
	if cache != nil {
		ecfg.Cache = cache
	}
	engine, err := fetch.NewEngine(ecfg)
	if err != nil {
		if cache != nil {
			_ = cache.Close()
		}
		return nil, nil, err
	}
	return &Client{engine: engine, catalog: cat, cache: cache}, gw, nil
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	client, gw, err := b.BuildClient()
	if err != nil {
		return nil, err
	}
	var server *apihttp.Server
	if cfg.App.HTTPEnabled {
		server, err = b.httpFn(cfg.App, cfg.Santiment, client)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return &App{
		cfg:     cfg,
		client:  client,
		http:    server,
		Summary: newStartupSummary(cfg, gw),
	}, nil
}

func buildGateway(cfg brcfg.SantimentConfig, budget *santiment.Budget) *santiment.Client {
	return santiment.New(santiment.Config{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		HTTPTimeout: cfg.Timeout(),
		Retry: santiment.RetryConfig{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: time.Duration(cfg.Retry.InitialBackoffMS) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.Retry.MaxBackoffMS) * time.Millisecond,
			Multiplier:     cfg.Retry.Multiplier,
			Jitter:         cfg.Retry.Jitter,
		},
		BreakerThreshold: cfg.Breaker.Threshold,
		BreakerCooldown:  time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
	}, budget)
}

func buildCatalogSource(cfg brcfg.CatalogConfig, gw *santiment.Client) (catalog.Source, error) {
	if path := strings.TrimSpace(cfg.SeedFile); path != "" {
		src, err := catalog.LoadFileSource(path)
		if err != nil {
			return nil, err
		}
		logger.Infof("✓ catalog served from %s", path)
		return src, nil
	}
	return remoteCatalog{gw: gw}, nil
}

func buildChunkCache(cfg brcfg.FetchConfig) (*store.ChunkCache, error) {
	if !cfg.CacheEnabled {
		return nil, nil
	}
	cache, err := store.NewChunkCache()
	if err != nil {
		return nil, fmt.Errorf("init chunk cache: %w", err)
	}
	logger.Infof("✓ in-memory chunk cache enabled")
	return cache, nil
}

func buildHTTPServer(cfg brcfg.AppConfig, san brcfg.SantimentConfig, svc apihttp.Service) (*apihttp.Server, error) {
	server, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:    cfg.HTTPAddr,
		Service: svc,
		// Generous enough for a long multi-chunk fetch under the rate budget.
		RequestTimeout: 10 * san.Timeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("init HTTP API: %w", err)
	}
	logger.Infof("✓ HTTP API listening on %s", server.Addr())
	return server, nil
}

// remoteCatalog maps an unknown asset from the service onto the catalog's
// sentinel so that it is cached as an empty set.
type remoteCatalog struct {
	gw *santiment.Client
}

func (r remoteCatalog) AllMetrics(ctx context.Context) ([]string, error) {
	return r.gw.AllMetrics(ctx)
}

func (r remoteCatalog) MetricsForAsset(ctx context.Context, asset string) ([]string, error) {
	out, err := r.gw.MetricsForAsset(ctx, asset)
	if santiment.KindOf(err) == santiment.KindNotFound {
		return nil, errors.Join(catalog.ErrUnknownAsset, err)
	}
	return out, err
}
