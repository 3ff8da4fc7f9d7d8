// Package catalog caches which metrics exist globally and per asset.
package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"

	"sanmetrics/internal/fetcherr"
	"sanmetrics/internal/logger"

	"golang.org/x/sync/singleflight"
)

// ErrUnknownAsset is returned by a Source when the asset does not exist.
// The catalog caches that answer as an empty metric set.
var ErrUnknownAsset = errors.New("unknown asset")

// Source is the remote side of the catalog.
type Source interface {
	AllMetrics(ctx context.Context) ([]string, error)
	MetricsForAsset(ctx context.Context, asset string) ([]string, error)
}

type set map[string]struct{}

func newSet(items []string) set {
	s := make(set, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

const allKey = "\x00all"

var log = logger.Component("catalog")

// Catalog is lazily populated and lives for the process. Concurrent first
// lookups of the same key share one Source call. Failures are not cached.
type Catalog struct {
	src   Source
	group singleflight.Group

	mu         sync.RWMutex
	all        set
	perAsset   map[string]set
	generation uint64
}

func New(src Source) *Catalog {
	return &Catalog{src: src, perAsset: make(map[string]set)}
}

// AllMetrics returns every metric name, sorted.
func (c *Catalog) AllMetrics(ctx context.Context) ([]string, error) {
	s, err := c.allSet(ctx)
	if err != nil {
		return nil, err
	}
	return s.sorted(), nil
}

// MetricsFor returns the metrics computed for asset, sorted.
func (c *Catalog) MetricsFor(ctx context.Context, asset string) ([]string, error) {
	s, err := c.assetSet(ctx, asset)
	if err != nil {
		return nil, err
	}
	return s.sorted(), nil
}

// IsAvailable looks metric up in asset's cached set, fetching it first if
// needed.
func (c *Catalog) IsAvailable(ctx context.Context, metric, asset string) (bool, error) {
	s, err := c.assetSet(ctx, asset)
	if err != nil {
		return false, err
	}
	_, ok := s[metric]
	return ok, nil
}

// Invalidate drops every cached entry. Lookups already in flight finish but
// do not repopulate the cache.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.all = nil
	c.perAsset = make(map[string]set)
	c.generation++
	c.mu.Unlock()
	log.Infof("cache invalidated")
}

func (c *Catalog) allSet(ctx context.Context) (set, error) {
	c.mu.RLock()
	cached := c.all
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}
	return c.load(ctx, allKey, func(ctx context.Context) (set, error) {
		items, err := c.src.AllMetrics(ctx)
		if err != nil {
			return nil, err
		}
		return newSet(items), nil
	}, func(s set) { c.all = s })
}

func (c *Catalog) assetSet(ctx context.Context, asset string) (set, error) {
	c.mu.RLock()
	cached, ok := c.perAsset[asset]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}
	return c.load(ctx, "asset:"+asset, func(ctx context.Context) (set, error) {
		items, err := c.src.MetricsForAsset(ctx, asset)
		if errors.Is(err, ErrUnknownAsset) {
			log.Warnf("asset %s is unknown to the service", asset)
			return set{}, nil
		}
		if err != nil {
			return nil, err
		}
		return newSet(items), nil
	}, func(s set) { c.perAsset[asset] = s })
}

// load coalesces concurrent fetches of key. The shared call is detached from
// any single caller's cancellation; each caller still stops waiting when its
// own ctx is done.
func (c *Catalog) load(ctx context.Context, key string, fetch func(context.Context) (set, error), store func(set)) (set, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		c.mu.RLock()
		gen := c.generation
		c.mu.RUnlock()

		s, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generation == gen {
			store(s)
		}
		c.mu.Unlock()
		return s, nil
	})
	select {
	case <-ctx.Done():
		return nil, fetcherr.New(fetcherr.Cancelled, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			log.Warnf("lookup %s failed: %v", key, res.Err)
			return nil, fetcherr.New(fetcherr.CatalogUnavailable, res.Err)
		}
		return res.Val.(set), nil
	}
}
