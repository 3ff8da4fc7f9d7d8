package app

import (
	"context"
	"fmt"

	brcfg "sanmetrics/internal/config"
	"sanmetrics/internal/logger"
	apihttp "sanmetrics/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// App wires config to the fetch client and, when enabled, the HTTP API.
type App struct {
	cfg     *brcfg.Config
	client  *Client
	http    *apihttp.Server
	Summary *StartupSummary
}

// NewApp builds the application without starting it.
func NewApp(cfg *brcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return NewAppBuilder(cfg).Build(context.Background())
}

// Run serves the HTTP API until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}
	if a.http == nil {
		logger.Infof("HTTP API disabled, nothing to serve")
		return nil
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("api http server error: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Client exposes the library surface, for embedding and tests.
func (a *App) Client() *Client {
	if a == nil {
		return nil
	}
	return a.client
}

func (a *App) Close() error {
	if a == nil {
		return nil
	}
	return a.client.Close()
}
