// Package fetch turns a metric query into an aligned wide table: it plans
// sub-requests, runs them on a bounded worker pool and merges the results.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sanmetrics/internal/fetcherr"
	"sanmetrics/internal/logger"
	"sanmetrics/internal/planner"
	"sanmetrics/internal/series"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const DefaultWorkers = 5

// Gateway performs one sub-request.
type Gateway interface {
	FetchSeries(ctx context.Context, metric string, iv series.Interval, chunk series.Chunk) (series.Series, error)
}

// Validator answers whether metric is computed for asset.
type Validator interface {
	IsAvailable(ctx context.Context, metric, asset string) (bool, error)
}

// Cache stores finished sub-request results.
type Cache interface {
	Lookup(ctx context.Context, metric string, iv series.Interval, chunk series.Chunk) (series.Series, bool, error)
	Save(ctx context.Context, metric string, iv series.Interval, chunk series.Chunk, s series.Series) error
}

type EngineConfig struct {
	Gateway Gateway
	Planner *planner.Planner
	// Catalog and Cache are optional.
	Catalog Validator
	Cache   Cache

	Workers int
	// Strict fails the whole call when any asset does not carry the metric.
	Strict bool
	// PartialOnCancel returns what was gathered instead of a Cancelled error.
	PartialOnCancel bool
}

type Engine struct {
	gw      Gateway
	planner *planner.Planner
	catalog Validator
	cache   Cache
	workers int
	strict  bool
	partial bool
	now     func() time.Time
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("fetch: gateway is required")
	}
	pl := cfg.Planner
	if pl == nil {
		pl = planner.New(planner.DefaultMaxRows)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Engine{
		gw:      cfg.Gateway,
		planner: pl,
		catalog: cfg.Catalog,
		cache:   cfg.Cache,
		workers: workers,
		strict:  cfg.Strict,
		partial: cfg.PartialOnCancel,
		now:     time.Now,
	}, nil
}

// Result is a complete or partial table. A partial result is a successful
// call: callers check Partial and FailedAssets.
//
// For GetMany the column, failed and skipped names are asset slugs; for
// GetMetrics they are metric names.
type Result struct {
	RunID         string
	Table         *series.Table
	FailedAssets  []string
	SkippedAssets []string
	// Errors holds the first error seen for each failed column.
	Errors map[string]error
}

func (r *Result) Partial() bool { return r != nil && len(r.FailedAssets) > 0 }

// column is one output column: a metric for an asset.
type column struct {
	name   string
	metric string
	asset  string
}

// Get fetches a query with exactly one asset.
func (e *Engine) Get(ctx context.Context, q series.Query) (*Result, error) {
	if q.AssetCount() != 1 {
		return nil, fmt.Errorf("%w: get expects exactly one asset, got %d", series.ErrInvalidQuery, q.AssetCount())
	}
	return e.GetMany(ctx, q)
}

// GetMany fetches one metric for every asset of q and aligns the columns on
// the union of their timestamps.
func (e *Engine) GetMany(ctx context.Context, q series.Query) (*Result, error) {
	if q.AssetCount() == 0 {
		return nil, fmt.Errorf("%w: no assets", series.ErrInvalidQuery)
	}
	cols := make([]column, 0, q.AssetCount())
	for _, a := range q.Assets() {
		cols = append(cols, column{name: a, metric: q.Metric(), asset: a})
	}
	return e.run(ctx, q, cols)
}

// GetMetrics fetches several metrics for one asset, one column per metric.
func (e *Engine) GetMetrics(ctx context.Context, metrics []string, asset, interval string, from, to time.Time) (*Result, error) {
	var cols []column
	seen := make(map[string]struct{}, len(metrics))
	for _, m := range metrics {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		cols = append(cols, column{name: m, metric: m, asset: strings.TrimSpace(asset)})
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: no metrics", series.ErrInvalidQuery)
	}
	q, err := series.NewQuery(cols[0].metric, []string{asset}, interval, from, to)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, q, cols)
}

// slot is written by exactly one worker and read after the pool drains.
type slot struct {
	s    series.Series
	err  error
	done bool
}

type columnPlan struct {
	col    column
	chunks []series.Chunk
	slots  []slot
}

func (e *Engine) run(ctx context.Context, q series.Query, cols []column) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), Errors: make(map[string]error)}
	log := logger.Component("fetch").With("run", res.RunID)
	iv := q.Interval()

	kept, err := e.validate(ctx, log, cols, res)
	if err != nil {
		return nil, err
	}

	plans := make([]*columnPlan, 0, len(kept))
	total := 0
	for _, c := range kept {
		chunks, err := e.planner.PlanAsset(c.asset, iv, q.From(), q.To())
		if err != nil {
			return nil, err
		}
		plans = append(plans, &columnPlan{col: c, chunks: chunks, slots: make([]slot, len(chunks))})
		total += len(chunks)
	}
	log.Infof("%s: %d columns, %d sub-requests, %d workers", q, len(plans), total, e.workers)

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(e.workers)
dispatch:
	for _, p := range plans {
		for i := range p.chunks {
			if ctx.Err() != nil {
				break dispatch
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				s, err := e.fetchChunk(ctx, p.col.metric, iv, p.chunks[i])
				p.slots[i] = slot{s: s, err: err, done: true}
				return nil
			})
		}
	}
	_ = g.Wait()

	cause := ctx.Err()
	if cause == nil && refusedForDeadline(plans) {
		// The deadline has not fired yet but is already too close to admit
		// the remaining sub-requests.
		cause = fetcherr.ErrDeadlineTooSoon
	}
	unresolved := abandoned(plans, cause)
	cancelled := cause != nil && unresolved > 0
	if cancelled {
		if !e.partial {
			log.Warnf("cancelled with %d of %d sub-requests unresolved", unresolved, total)
			return nil, fetcherr.New(fetcherr.Cancelled, cause)
		}
		log.Warnf("cancelled, returning partial result (%d of %d sub-requests unresolved)", unresolved, total)
	}

	data := make(map[string]series.Series, len(plans))
	order := make([]string, 0, len(plans))
	var firstErr error
	withData := 0
	for _, p := range plans {
		merged, ok, err := mergeColumn(p, iv.Duration, cause)
		if err != nil {
			res.FailedAssets = append(res.FailedAssets, p.col.name)
			res.Errors[p.col.name] = err
			if firstErr == nil {
				firstErr = err
			}
			log.Warnf("%s failed: %v", p.col.name, err)
		}
		if !ok {
			continue
		}
		withData++
		data[p.col.name] = series.FillGaps(merged.Within(q.From(), q.To()), iv.Duration)
		order = append(order, p.col.name)
	}

	if withData == 0 {
		if cancelled {
			return nil, fetcherr.New(fetcherr.Cancelled, cause)
		}
		return nil, fetcherr.New(fetcherr.AllFailed, firstErr, res.FailedAssets...)
	}
	res.Table = series.Align(order, data)
	log.Infof("%s: %d rows in %s (failed=%v skipped=%v)", q, res.Table.Len(), time.Since(start).Round(time.Millisecond), res.FailedAssets, res.SkippedAssets)
	return res, nil
}

// validate drops columns whose metric the catalog does not list for the
// asset. With no catalog every column is kept.
func (e *Engine) validate(ctx context.Context, log logger.Entry, cols []column, res *Result) ([]column, error) {
	if e.catalog == nil {
		return cols, nil
	}
	kept := make([]column, 0, len(cols))
	for _, c := range cols {
		ok, err := e.catalog.IsAvailable(ctx, c.metric, c.asset)
		if err != nil {
			if fetcherr.KindOf(err) == fetcherr.Cancelled || e.strict {
				return nil, err
			}
			log.Warnf("catalog unavailable, skipping validation: %v", err)
			res.SkippedAssets = nil
			return cols, nil
		}
		if !ok {
			res.SkippedAssets = append(res.SkippedAssets, c.name)
			continue
		}
		kept = append(kept, c)
	}
	if len(res.SkippedAssets) == 0 {
		return kept, nil
	}
	if e.strict || len(kept) == 0 {
		return nil, fmt.Errorf("%w: metric not available for %s", series.ErrInvalidQuery, strings.Join(res.SkippedAssets, ", "))
	}
	log.Warnf("metric not available for %s, skipped", strings.Join(res.SkippedAssets, ", "))
	return kept, nil
}

func (e *Engine) fetchChunk(ctx context.Context, metric string, iv series.Interval, chunk series.Chunk) (series.Series, error) {
	log := logger.Component("fetch")
	if e.cache != nil {
		s, ok, err := e.cache.Lookup(ctx, metric, iv, chunk)
		if err != nil {
			log.Warnf("cache lookup %s failed: %v", chunk, err)
		} else if ok {
			return s, nil
		}
	}
	s, err := e.gw.FetchSeries(ctx, metric, iv, chunk)
	if err != nil {
		return nil, err
	}
	// Only ranges that have fully elapsed are stable enough to reuse.
	if e.cache != nil && !chunk.To.After(e.now()) {
		if err := e.cache.Save(ctx, metric, iv, chunk, s); err != nil {
			log.Warnf("cache save %s failed: %v", chunk, err)
		}
	}
	return s, nil
}

// isAbandoned reports a sub-request that never ran or was cut short by the
// caller's cancellation or deadline. cause is the caller context's error.
func isAbandoned(sl slot, cause error) bool {
	if !sl.done || errors.Is(sl.err, fetcherr.ErrDeadlineTooSoon) {
		return true
	}
	return cause != nil && (errors.Is(sl.err, context.Canceled) || errors.Is(sl.err, context.DeadlineExceeded))
}

func refusedForDeadline(plans []*columnPlan) bool {
	for _, p := range plans {
		for _, sl := range p.slots {
			if sl.done && errors.Is(sl.err, fetcherr.ErrDeadlineTooSoon) {
				return true
			}
		}
	}
	return false
}

func abandoned(plans []*columnPlan, cause error) int {
	n := 0
	for _, p := range plans {
		for _, sl := range p.slots {
			if isAbandoned(sl, cause) {
				n++
			}
		}
	}
	return n
}

// mergeColumn concatenates the column's chunks in range order, each padded
// to its own range so that samples the service did not return show up as
// missing rows. ok reports whether any chunk succeeded; err is the first
// chunk failure.
func mergeColumn(p *columnPlan, step time.Duration, cause error) (merged series.Series, ok bool, err error) {
	parts := make([]series.Series, 0, len(p.slots))
	for i, sl := range p.slots {
		switch {
		case isAbandoned(sl, cause):
			if err == nil {
				err = fmt.Errorf("%s abandoned: %w", p.chunks[i], abandonCause(sl, cause))
			}
		case sl.err != nil:
			if err == nil {
				err = fmt.Errorf("%s: %w", p.chunks[i], sl.err)
			}
		default:
			ok = true
			parts = append(parts, series.PadRange(sl.s, step, p.chunks[i].From, p.chunks[i].To))
		}
	}
	return series.Concat(parts...), ok, err
}

func abandonCause(sl slot, cause error) error {
	if sl.err != nil {
		return sl.err
	}
	if cause != nil {
		return cause
	}
	return context.Canceled
}
