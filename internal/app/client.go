package app

import (
	"context"
	"time"

	"sanmetrics/internal/catalog"
	"sanmetrics/internal/fetch"
	"sanmetrics/internal/series"
	"sanmetrics/internal/store"
)

// Client is the library surface. One Client owns the process-wide request
// budget and metric catalog; share it rather than building several.
type Client struct {
	engine  *fetch.Engine
	catalog *catalog.Catalog
	cache   *store.ChunkCache
}

// Get fetches metric for a single asset over [from, to).
func (c *Client) Get(ctx context.Context, metric, asset, interval string, from, to time.Time) (*fetch.Result, error) {
	q, err := series.NewQuery(metric, []string{asset}, interval, from, to)
	if err != nil {
		return nil, err
	}
	return c.engine.Get(ctx, q)
}

// GetMany fetches metric for every asset and aligns them into one table.
// Check Result.Partial: a nil error can still carry failed assets.
func (c *Client) GetMany(ctx context.Context, metric string, assets []string, interval string, from, to time.Time) (*fetch.Result, error) {
	q, err := series.NewQuery(metric, assets, interval, from, to)
	if err != nil {
		return nil, err
	}
	return c.engine.GetMany(ctx, q)
}

// GetMetrics fetches several metrics for one asset, a column per metric.
func (c *Client) GetMetrics(ctx context.Context, metrics []string, asset, interval string, from, to time.Time) (*fetch.Result, error) {
	return c.engine.GetMetrics(ctx, metrics, asset, interval, from, to)
}

func (c *Client) AvailableMetrics(ctx context.Context) ([]string, error) {
	return c.catalog.AllMetrics(ctx)
}

func (c *Client) AvailableMetricsFor(ctx context.Context, asset string) ([]string, error) {
	return c.catalog.MetricsFor(ctx, asset)
}

func (c *Client) InvalidateCatalog() {
	c.catalog.Invalidate()
}

func (c *Client) Close() error {
	if c == nil || c.cache == nil {
		return nil
	}
	return c.cache.Close()
}
