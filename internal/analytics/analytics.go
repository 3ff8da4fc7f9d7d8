// Package analytics holds pure transforms over an aligned table: log
// differencing and pairwise, windowed correlation. Nothing here touches the
// network.
package analytics

import (
	"errors"
	"fmt"
	"math"

	"sanmetrics/internal/series"

	"github.com/guregu/null/v6"
	"github.com/markcheno/go-talib"
)

var ErrInvalidWindow = errors.New("invalid window")

// LogDiff differences every column in log space. Columns named in
// priceColumns use ln(v); every other column uses ln(1+v) so that zero
// counts are tolerated. The first row has no predecessor and is dropped, as
// is every row where any column came out missing.
func LogDiff(t *series.Table, priceColumns ...string) (*series.Table, error) {
	cols := t.Columns()
	isPrice := make([]bool, len(cols))
	for _, name := range priceColumns {
		found := false
		for j, c := range cols {
			if c == name {
				isPrice[j] = true
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("analytics: unknown price column %q", name)
		}
	}
	if t.Len() < 2 {
		return series.NewTable(cols, nil, nil)
	}

	index := t.Index()
	rows := make([][]null.Float, 0, t.Len()-1)
	prev := t.Row(0)
	for i := 1; i < t.Len(); i++ {
		cur := t.Row(i)
		out := make([]null.Float, len(cols))
		for j := range cols {
			if !prev[j].Valid || !cur[j].Valid {
				continue
			}
			var d float64
			if isPrice[j] {
				d = math.Log(cur[j].Float64) - math.Log(prev[j].Float64)
			} else {
				d = math.Log1p(cur[j].Float64) - math.Log1p(prev[j].Float64)
			}
			out[j] = finite(d)
		}
		rows = append(rows, out)
		prev = cur
	}
	diffed, err := series.NewTable(cols, index[1:], rows)
	if err != nil {
		return nil, err
	}
	return diffed.DropMissing(), nil
}

// Matrix is a symmetric correlation matrix labelled by column name.
type Matrix struct {
	Columns []string       `json:"columns"`
	Values  [][]null.Float `json:"values"`
}

// At returns the entry for the named pair.
func (m Matrix) At(a, b string) (null.Float, bool) {
	i, j := -1, -1
	for k, c := range m.Columns {
		if c == a {
			i = k
		}
		if c == b {
			j = k
		}
	}
	if i < 0 || j < 0 {
		return null.Float{}, false
	}
	return m.Values[i][j], true
}

// CorrelationMatrix computes each off-diagonal entry on the rows where both
// columns are present. The diagonal is 1.
func CorrelationMatrix(t *series.Table) Matrix {
	cols := t.Columns()
	data := make([][]null.Float, len(cols))
	for j, c := range cols {
		data[j], _ = t.Column(c)
	}
	values := make([][]null.Float, len(cols))
	for i := range values {
		values[i] = make([]null.Float, len(cols))
		values[i][i] = null.FloatFrom(1)
	}
	for i := 0; i < len(cols); i++ {
		for j := i + 1; j < len(cols); j++ {
			r := Correlation(data[i], data[j])
			values[i][j] = r
			values[j][i] = r
		}
	}
	return Matrix{Columns: cols, Values: values}
}

// Correlation is the sample correlation of a and b over the indices where
// both are present. It is missing for fewer than two such pairs or when
// either side has no variance.
func Correlation(a, b []null.Float) null.Float {
	n := min(len(a), len(b))
	x := make([]float64, 0, n)
	y := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if a[i].Valid && b[i].Valid {
			x = append(x, a[i].Float64)
			y = append(y, b[i].Float64)
		}
	}
	return pearson(x, y)
}

// RollingCorrelation returns, for each index i >= window-1, the correlation
// of a and b over [i-window+1, i]. Earlier indices, and windows holding a
// missing value, are missing.
func RollingCorrelation(a, b []null.Float, window int) ([]null.Float, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("analytics: series lengths differ (%d vs %d)", len(a), len(b))
	}
	if window <= 1 || window > len(a) {
		return nil, fmt.Errorf("%w: %d for length %d", ErrInvalidWindow, window, len(a))
	}
	out := make([]null.Float, len(a))
	x := make([]float64, window)
	y := make([]float64, window)
	for i := window - 1; i < len(a); i++ {
		complete := true
		for k := 0; k < window; k++ {
			pa, pb := a[i-window+1+k], b[i-window+1+k]
			if !pa.Valid || !pb.Valid {
				complete = false
				break
			}
			x[k], y[k] = pa.Float64, pb.Float64
		}
		if complete {
			out[i] = pearson(x, y)
		}
	}
	return out, nil
}

// RollingColumns runs RollingCorrelation over two table columns and returns
// the result on the table's index.
func RollingColumns(t *series.Table, a, b string, window int) (series.Series, error) {
	ca, ok := t.Column(a)
	if !ok {
		return nil, fmt.Errorf("analytics: unknown column %q", a)
	}
	cb, ok := t.Column(b)
	if !ok {
		return nil, fmt.Errorf("analytics: unknown column %q", b)
	}
	r, err := RollingCorrelation(ca, cb, window)
	if err != nil {
		return nil, err
	}
	index := t.Index()
	out := make(series.Series, len(r))
	for i, v := range r {
		out[i] = series.Point{Time: index[i], Value: v}
	}
	return out, nil
}

// pearson guards the degenerate inputs itself; talib reports those as 0.
func pearson(x, y []float64) null.Float {
	n := len(x)
	if n < 2 || len(y) != n || constant(x) || constant(y) {
		return null.Float{}
	}
	r := talib.Correl(x, y, n)[n-1]
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return null.Float{}
	}
	return null.FloatFrom(math.Max(-1, math.Min(1, r)))
}

func constant(v []float64) bool {
	for _, x := range v[1:] {
		if x != v[0] {
			return false
		}
	}
	return true
}

func finite(v float64) null.Float {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return null.Float{}
	}
	return null.FloatFrom(v)
}
