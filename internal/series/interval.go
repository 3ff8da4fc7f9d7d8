package series

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Interval is a sampling granularity understood by the metrics service.
type Interval struct {
	Key      string
	Duration time.Duration
}

var supportedIntervals = map[string]Interval{
	"5m":  {Key: "5m", Duration: 5 * time.Minute},
	"15m": {Key: "15m", Duration: 15 * time.Minute},
	"30m": {Key: "30m", Duration: 30 * time.Minute},
	"1h":  {Key: "1h", Duration: time.Hour},
	"2h":  {Key: "2h", Duration: 2 * time.Hour},
	"4h":  {Key: "4h", Duration: 4 * time.Hour},
	"8h":  {Key: "8h", Duration: 8 * time.Hour},
	"12h": {Key: "12h", Duration: 12 * time.Hour},
	"1d":  {Key: "1d", Duration: 24 * time.Hour},
	"3d":  {Key: "3d", Duration: 72 * time.Hour},
	"7d":  {Key: "7d", Duration: 7 * 24 * time.Hour},
	"1w":  {Key: "7d", Duration: 7 * 24 * time.Hour},
}

// ParseInterval normalizes keys such as "1d" or " 1H ".
func ParseInterval(input string) (Interval, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	iv, ok := supportedIntervals[key]
	if !ok {
		return Interval{}, fmt.Errorf("%w: unsupported interval %q", ErrInvalidQuery, input)
	}
	return iv, nil
}

// SupportedIntervals returns every accepted key, sorted.
func SupportedIntervals() []string {
	keys := make([]string, 0, len(supportedIntervals))
	for k := range supportedIntervals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (iv Interval) String() string { return iv.Key }

// Rows is ceil((to-from)/interval), the number of samples expected in [from,to).
func (iv Interval) Rows(from, to time.Time) int64 {
	if !to.After(from) || iv.Duration <= 0 {
		return 0
	}
	span := to.Sub(from)
	n := int64(span / iv.Duration)
	if span%iv.Duration != 0 {
		n++
	}
	return n
}
