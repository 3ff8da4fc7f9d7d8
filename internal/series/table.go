package series

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/guregu/null/v6"
)

// Table is a timestamp-indexed wide table, one column per asset (or metric).
// Every row holds exactly one entry per column; invalid entries are missing.
type Table struct {
	columns []string
	pos     map[string]int
	index   []time.Time
	rows    [][]null.Float
}

// NewTable builds a table from explicit rows. The index must be strictly
// ascending and every row must have one value per column.
func NewTable(columns []string, index []time.Time, rows [][]null.Float) (*Table, error) {
	if len(index) != len(rows) {
		return nil, fmt.Errorf("table: %d index entries for %d rows", len(index), len(rows))
	}
	pos, err := columnPositions(columns)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if len(rows[i]) != len(columns) {
			return nil, fmt.Errorf("table: row %d has %d values, want %d", i, len(rows[i]), len(columns))
		}
		if i > 0 && !index[i].After(index[i-1]) {
			return nil, fmt.Errorf("table: index not strictly ascending at row %d", i)
		}
	}
	t := &Table{
		columns: append([]string(nil), columns...),
		pos:     pos,
		index:   make([]time.Time, len(index)),
		rows:    make([][]null.Float, len(rows)),
	}
	for i := range rows {
		t.index[i] = index[i].UTC()
		t.rows[i] = append([]null.Float(nil), rows[i]...)
	}
	return t, nil
}

func columnPositions(columns []string) (map[string]int, error) {
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := pos[c]; dup {
			return nil, fmt.Errorf("table: duplicate column %q", c)
		}
		pos[c] = i
	}
	return pos, nil
}

// Align merges per-column series into one table. The index is the sorted
// union of every series' timestamps; a column with no sample at a row gets a
// missing-marker there. Columns absent from data are entirely missing.
func Align(columns []string, data map[string]Series) *Table {
	seen := make(map[int64]time.Time)
	for _, c := range columns {
		for _, p := range data[c] {
			seen[p.Time.UnixNano()] = p.Time.UTC()
		}
	}
	index := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		index = append(index, ts)
	}
	sort.Slice(index, func(i, j int) bool { return index[i].Before(index[j]) })
	rowOf := make(map[int64]int, len(index))
	for i, ts := range index {
		rowOf[ts.UnixNano()] = i
	}

	pos := make(map[string]int, len(columns))
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		if _, dup := pos[c]; dup {
			continue
		}
		pos[c] = len(cols)
		cols = append(cols, c)
	}
	rows := make([][]null.Float, len(index))
	for i := range rows {
		rows[i] = make([]null.Float, len(cols))
	}
	for _, c := range cols {
		j := pos[c]
		for _, p := range data[c] {
			rows[rowOf[p.Time.UnixNano()]][j] = p.Value
		}
	}
	return &Table{columns: cols, pos: pos, index: index, rows: rows}
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.index)
}

func (t *Table) Columns() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.columns...)
}

func (t *Table) Index() []time.Time {
	if t == nil {
		return nil
	}
	return append([]time.Time(nil), t.index...)
}

func (t *Table) HasColumn(name string) bool {
	if t == nil {
		return false
	}
	_, ok := t.pos[name]
	return ok
}

// At returns the entry for column name at row i.
func (t *Table) At(i int, name string) null.Float {
	j, ok := t.pos[name]
	if !ok || i < 0 || i >= len(t.rows) {
		return null.Float{}
	}
	return t.rows[i][j]
}

// Row returns a copy of row i in column order.
func (t *Table) Row(i int) []null.Float {
	return append([]null.Float(nil), t.rows[i]...)
}

func (t *Table) Column(name string) ([]null.Float, bool) {
	j, ok := t.pos[name]
	if !ok {
		return nil, false
	}
	out := make([]null.Float, len(t.rows))
	for i := range t.rows {
		out[i] = t.rows[i][j]
	}
	return out, true
}

// Series returns column name paired with the table index.
func (t *Table) Series(name string) (Series, bool) {
	vals, ok := t.Column(name)
	if !ok {
		return nil, false
	}
	out := make(Series, len(vals))
	for i, v := range vals {
		out[i] = Point{Time: t.index[i], Value: v}
	}
	return out, true
}

// DropMissing keeps only rows where every column has a value.
func (t *Table) DropMissing() *Table {
	out := &Table{
		columns: append([]string(nil), t.columns...),
		pos:     make(map[string]int, len(t.pos)),
	}
	for k, v := range t.pos {
		out.pos[k] = v
	}
	for i, row := range t.rows {
		if !rowComplete(row) {
			continue
		}
		out.index = append(out.index, t.index[i])
		out.rows = append(out.rows, append([]null.Float(nil), row...))
	}
	return out
}

func rowComplete(row []null.Float) bool {
	for _, v := range row {
		if !v.Valid {
			return false
		}
	}
	return true
}

// Rename changes a column label in place.
func (t *Table) Rename(from, to string) error {
	j, ok := t.pos[from]
	if !ok {
		return fmt.Errorf("table: unknown column %q", from)
	}
	if from == to {
		return nil
	}
	if _, taken := t.pos[to]; taken {
		return fmt.Errorf("table: column %q already exists", to)
	}
	delete(t.pos, from)
	t.pos[to] = j
	t.columns[j] = to
	return nil
}

type tableRowJSON struct {
	Time   time.Time    `json:"t"`
	Values []null.Float `json:"v"`
}

type tableJSON struct {
	Columns []string       `json:"columns"`
	Rows    []tableRowJSON `json:"rows"`
}

func (t *Table) MarshalJSON() ([]byte, error) {
	doc := tableJSON{Columns: t.Columns(), Rows: make([]tableRowJSON, 0, t.Len())}
	if t != nil {
		for i := range t.rows {
			doc.Rows = append(doc.Rows, tableRowJSON{Time: t.index[i], Values: t.rows[i]})
		}
	}
	return json.Marshal(doc)
}

func (t *Table) UnmarshalJSON(data []byte) error {
	var doc tableJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	index := make([]time.Time, len(doc.Rows))
	rows := make([][]null.Float, len(doc.Rows))
	for i, r := range doc.Rows {
		index[i] = r.Time
		rows[i] = r.Values
	}
	built, err := NewTable(doc.Columns, index, rows)
	if err != nil {
		return err
	}
	*t = *built
	return nil
}
