package santiment

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"sanmetrics/internal/series"

	"github.com/guregu/null/v6"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const envelopeSchema = `{
  "type": "object",
  "properties": {
    "data": {"type": ["object", "null"]},
    "errors": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["message"],
        "properties": {"message": {"type": "string"}}
      }
    }
  },
  "anyOf": [{"required": ["data"]}, {"required": ["errors"]}]
}`

var envelope = jsonschema.MustCompileString("santiment-envelope.json", envelopeSchema)

func gqlString(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

func timeseriesQuery(metric, interval string, chunk series.Chunk) string {
	return fmt.Sprintf(`{ getMetric(metric: %s) { timeseriesData(slug: %s, from: %s, to: %s, interval: %s) { datetime value } } }`,
		gqlString(metric), gqlString(chunk.Asset),
		gqlString(chunk.From.UTC().Format(time.RFC3339)), gqlString(chunk.To.UTC().Format(time.RFC3339)),
		gqlString(interval))
}

func allMetricsQuery() string {
	return `{ getAvailableMetrics }`
}

func assetMetricsQuery(asset string) string {
	return fmt.Sprintf(`{ projectBySlug(slug: %s) { availableMetrics } }`, gqlString(asset))
}

// decodeEnvelope validates the response shape and turns GraphQL errors into
// a typed *Error. It returns the parsed document on success.
func decodeEnvelope(body []byte) (gjson.Result, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return gjson.Result{}, &Error{Kind: KindServerError, Err: fmt.Errorf("decode response: %w", err)}
	}
	if err := envelope.Validate(doc); err != nil {
		return gjson.Result{}, &Error{Kind: KindServerError, Err: fmt.Errorf("unexpected response shape: %w", err)}
	}
	parsed := gjson.ParseBytes(body)
	if errs := parsed.Get("errors"); errs.IsArray() && len(errs.Array()) > 0 {
		return gjson.Result{}, errorFromGraphQL(errs.Array())
	}
	return parsed, nil
}

func errorFromGraphQL(errs []gjson.Result) *Error {
	msgs := make([]string, 0, len(errs))
	kind := Kind("")
	var retryAfter time.Duration
	for _, e := range errs {
		msg := e.Get("message").String()
		msgs = append(msgs, msg)
		k := classifyMessage(msg)
		if kind == "" || severity(k) > severity(kind) {
			kind = k
		}
		if d := retryAfterFromMessage(msg); d > retryAfter {
			retryAfter = d
		}
	}
	return &Error{Kind: kind, RetryAfter: retryAfter, Err: fmt.Errorf("%s", strings.Join(msgs, "; "))}
}

// severity orders kinds so that a non-transient reason wins when a response
// carries several errors.
func severity(k Kind) int {
	switch k {
	case KindAuthFailure:
		return 5
	case KindNotFound:
		return 4
	case KindBadRequest:
		return 3
	case KindRateLimited:
		return 2
	default:
		return 1
	}
}

// parseTimeseries extracts points inside [chunk.From, chunk.To). The remote
// treats "to" as inclusive, so the boundary sample is left to the next chunk.
func parseTimeseries(doc gjson.Result, chunk series.Chunk) (series.Series, error) {
	data := doc.Get("data.getMetric.timeseriesData")
	if !data.Exists() || data.Type == gjson.Null {
		return nil, &Error{Kind: KindNotFound, Err: fmt.Errorf("no timeseries for %s", chunk)}
	}
	if !data.IsArray() {
		return nil, &Error{Kind: KindServerError, Err: fmt.Errorf("timeseriesData is not an array")}
	}
	out := make(series.Series, 0, len(data.Array()))
	for _, row := range data.Array() {
		ts, err := time.Parse(time.RFC3339, row.Get("datetime").String())
		if err != nil {
			return nil, &Error{Kind: KindServerError, Err: fmt.Errorf("bad datetime %q: %w", row.Get("datetime").String(), err)}
		}
		ts = ts.UTC()
		if ts.Before(chunk.From) || !ts.Before(chunk.To) {
			continue
		}
		p := series.Point{Time: ts}
		if v := row.Get("value"); v.Type == gjson.Number {
			p.Value = null.FloatFrom(v.Float())
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return series.Concat(out), nil
}

func parseStringList(doc gjson.Result, path string) ([]string, error) {
	list := doc.Get(path)
	if !list.Exists() || list.Type == gjson.Null {
		return nil, &Error{Kind: KindNotFound, Err: fmt.Errorf("%s missing from response", path)}
	}
	if !list.IsArray() {
		return nil, &Error{Kind: KindServerError, Err: fmt.Errorf("%s is not an array", path)}
	}
	out := make([]string, 0, len(list.Array()))
	for _, item := range list.Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
