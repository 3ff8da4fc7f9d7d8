package series

import (
	"fmt"
	"time"

	"github.com/guregu/null/v6"
)

// Point is one sample. An invalid Value is the missing-marker.
type Point struct {
	Time  time.Time  `json:"t"`
	Value null.Float `json:"v"`
}

func At(t time.Time, v float64) Point {
	return Point{Time: t.UTC(), Value: null.FloatFrom(v)}
}

func MissingAt(t time.Time) Point {
	return Point{Time: t.UTC()}
}

// Series is ordered by strictly increasing Time.
type Series []Point

// Validate reports the first ordering violation.
func (s Series) Validate() error {
	for i := 1; i < len(s); i++ {
		if !s[i].Time.After(s[i-1].Time) {
			return fmt.Errorf("series not strictly increasing at %d: %s after %s",
				i, s[i].Time.Format(time.RFC3339), s[i-1].Time.Format(time.RFC3339))
		}
	}
	return nil
}

func (s Series) Values() []null.Float {
	out := make([]null.Float, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

// Present counts points carrying a value.
func (s Series) Present() int {
	n := 0
	for _, p := range s {
		if p.Value.Valid {
			n++
		}
	}
	return n
}

// Concat joins chunk results given in chunk order. A timestamp already seen
// keeps the value of the earlier chunk; out-of-order points are dropped.
func Concat(parts ...Series) Series {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make(Series, 0, total)
	for _, part := range parts {
		for _, pt := range part {
			if n := len(out); n > 0 && !pt.Time.After(out[n-1].Time) {
				continue
			}
			out = append(out, pt)
		}
	}
	return out
}

// FillGaps inserts missing-marker points wherever two consecutive samples
// are more than step apart, on the grid of the earlier sample.
func FillGaps(s Series, step time.Duration) Series {
	if len(s) < 2 || step <= 0 {
		return s
	}
	out := make(Series, 0, len(s))
	out = append(out, s[0])
	for i := 1; i < len(s); i++ {
		prev := s[i-1].Time
		for t := prev.Add(step); t.Before(s[i].Time); t = t.Add(step) {
			out = append(out, MissingAt(t))
		}
		out = append(out, s[i])
	}
	return out
}

// PadRange fills s out to [from, to): missing-marker points are added before
// the first sample and after the last one, on the grid of the first sample.
// An empty s is laid on the grid starting at from. Interior gaps are filled
// as by FillGaps; points outside the range are kept.
func PadRange(s Series, step time.Duration, from, to time.Time) Series {
	if step <= 0 || !to.After(from) {
		return s
	}
	if len(s) == 0 {
		var out Series
		for t := from; t.Before(to); t = t.Add(step) {
			out = append(out, MissingAt(t))
		}
		return out
	}
	first := s[0].Time
	if first.After(from) {
		first = first.Add(-(first.Sub(from) / step) * step)
	}
	out := make(Series, 0, len(s))
	for t := first; t.Before(s[0].Time); t = t.Add(step) {
		out = append(out, MissingAt(t))
	}
	out = append(out, FillGaps(s, step)...)
	for t := s[len(s)-1].Time.Add(step); t.Before(to); t = t.Add(step) {
		out = append(out, MissingAt(t))
	}
	return out
}

// Within returns the points in [from, to).
func (s Series) Within(from, to time.Time) Series {
	out := make(Series, 0, len(s))
	for _, p := range s {
		if !p.Time.Before(from) && p.Time.Before(to) {
			out = append(out, p)
		}
	}
	return out
}
