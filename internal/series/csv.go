package series

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// WriteCSV renders the table with a leading "datetime" column. Values are
// rounded to precision decimal places; missing entries are empty cells.
func (t *Table) WriteCSV(w io.Writer, precision int32) error {
	cw := csv.NewWriter(w)
	header := append([]string{"datetime"}, t.Columns()...)
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for i := 0; i < t.Len(); i++ {
		record[0] = t.index[i].Format(time.RFC3339)
		for j, v := range t.rows[i] {
			if !v.Valid {
				record[j+1] = ""
				continue
			}
			if math.IsNaN(v.Float64) || math.IsInf(v.Float64, 0) {
				record[j+1] = strconv.FormatFloat(v.Float64, 'f', -1, 64)
				continue
			}
			record[j+1] = decimal.NewFromFloat(v.Float64).Round(precision).String()
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
