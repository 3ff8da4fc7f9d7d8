// Package planner splits a metric query into sub-requests that respect the
// remote service's per-request row limit.
package planner

import (
	"fmt"
	"time"

	"sanmetrics/internal/series"
)

// DefaultMaxRows is used when no limit is configured.
const DefaultMaxRows = 10000

// Planner produces chunk plans for a fixed row limit.
type Planner struct {
	maxRows int64
}

func New(maxRows int) *Planner {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Planner{maxRows: int64(maxRows)}
}

func (p *Planner) MaxRows() int { return int(p.maxRows) }

// Plan returns the chunks for every asset of q, grouped per asset in query
// order and ordered by time within an asset.
func (p *Planner) Plan(q series.Query) ([]series.Chunk, error) {
	if q.AssetCount() == 0 {
		return nil, fmt.Errorf("%w: at least one asset is required", series.ErrInvalidQuery)
	}
	var out []series.Chunk
	for _, asset := range q.Assets() {
		chunks, err := p.PlanAsset(asset, q.Interval(), q.From(), q.To())
		if err != nil {
			return nil, err
		}
		out = append(out, chunks...)
	}
	return out, nil
}

// PlanAsset covers [from,to) for one asset with contiguous chunks of at most
// maxRows intervals each. Only the final chunk may be shorter.
func (p *Planner) PlanAsset(asset string, iv series.Interval, from, to time.Time) ([]series.Chunk, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", series.ErrInvalidQuery)
	}
	if iv.Duration <= 0 {
		return nil, fmt.Errorf("%w: interval %q has no duration", series.ErrInvalidQuery, iv.Key)
	}
	span := time.Duration(p.maxRows) * iv.Duration
	if span <= 0 || span/iv.Duration != time.Duration(p.maxRows) {
		// overflowed; the whole range fits in one request
		return []series.Chunk{{Asset: asset, From: from, To: to}}, nil
	}
	rows := iv.Rows(from, to)
	out := make([]series.Chunk, 0, (rows+p.maxRows-1)/p.maxRows)
	cursor := from
	for cursor.Before(to) {
		end := cursor.Add(span)
		if end.After(to) {
			end = to
		}
		out = append(out, series.Chunk{Asset: asset, From: cursor, To: end})
		cursor = end
	}
	return out, nil
}
