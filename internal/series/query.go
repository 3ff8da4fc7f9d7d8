package series

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidQuery marks input rejected before any network call.
var ErrInvalidQuery = errors.New("invalid query")

// Query is one logical request: a metric for a set of assets over [From, To).
// It is immutable; accessors return copies.
type Query struct {
	metric   string
	assets   []string
	interval Interval
	from     time.Time
	to       time.Time
}

// NewQuery validates and normalizes its input. Asset identifiers are trimmed
// and de-duplicated, keeping first-seen order.
func NewQuery(metric string, assets []string, interval string, from, to time.Time) (Query, error) {
	metric = strings.TrimSpace(metric)
	if metric == "" {
		return Query{}, fmt.Errorf("%w: metric is required", ErrInvalidQuery)
	}
	iv, err := ParseInterval(interval)
	if err != nil {
		return Query{}, err
	}
	if !from.Before(to) {
		return Query{}, fmt.Errorf("%w: from (%s) must be before to (%s)", ErrInvalidQuery,
			from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	}
	normalized := normalizeAssets(assets)
	if len(normalized) == 0 {
		return Query{}, fmt.Errorf("%w: at least one asset is required", ErrInvalidQuery)
	}
	return Query{
		metric:   metric,
		assets:   normalized,
		interval: iv,
		from:     from.UTC(),
		to:       to.UTC(),
	}, nil
}

func normalizeAssets(assets []string) []string {
	out := make([]string, 0, len(assets))
	seen := make(map[string]bool, len(assets))
	for _, a := range assets {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

func (q Query) Metric() string { return q.metric }
func (q Query) Interval() Interval { return q.interval }
func (q Query) From() time.Time { return q.from }
func (q Query) To() time.Time { return q.to }
func (q Query) AssetCount() int { return len(q.assets) }
func (q Query) Contains(t time.Time) bool {
	return !t.Before(q.from) && t.Before(q.to)
}

func (q Query) Assets() []string {
	out := make([]string, len(q.assets))
	copy(out, q.assets)
	return out
}

// WithAssets returns a copy of q restricted to assets. The result is
// validated again, so an empty set yields ErrInvalidQuery.
func (q Query) WithAssets(assets []string) (Query, error) {
	return NewQuery(q.metric, assets, q.interval.Key, q.from, q.to)
}

func (q Query) String() string {
	return fmt.Sprintf("%s %v @%s [%s, %s)", q.metric, q.assets, q.interval.Key,
		q.from.Format(time.RFC3339), q.to.Format(time.RFC3339))
}

// Chunk is a bounded sub-range of a query window for one asset.
type Chunk struct {
	Asset string
	From  time.Time
	To    time.Time
}

func (c Chunk) String() string {
	return fmt.Sprintf("%s[%s,%s)", c.Asset, c.From.Format(time.RFC3339), c.To.Format(time.RFC3339))
}
