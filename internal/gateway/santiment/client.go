// Package santiment is the transport to the Santiment GraphQL API: one call
// per sub-request, retried with backoff under a shared request budget.
package santiment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"sanmetrics/internal/logger"
	"sanmetrics/internal/pkg/circuit"
	"sanmetrics/internal/series"

	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL = "https://api.santiment.net/graphql"
	maxBodyBytes   = 32 << 20
)

var log = logger.Component("santiment")

type Config struct {
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration
	Retry       RetryConfig

	// BreakerThreshold <= 0 disables the circuit breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.BaseURL = strings.TrimSpace(out.BaseURL)
	if out.BaseURL == "" {
		out.BaseURL = DefaultBaseURL
	}
	out.APIKey = strings.TrimSpace(out.APIKey)
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 30 * time.Second
	}
	out.Retry = out.Retry.withDefaults()
	return out
}

// Client is safe for concurrent use. The budget is shared, so one Client
// (or one Budget) should serve the whole process.
type Client struct {
	cfg     Config
	http    *http.Client
	budget  *Budget
	breaker *circuit.Breaker
	rand    func() float64
	now     func() time.Time
}

func New(cfg Config, budget *Budget) *Client {
	final := cfg.withDefaults()
	if budget == nil {
		budget = Unlimited()
	}
	return &Client{
		cfg:     final,
		http:    &http.Client{Timeout: final.HTTPTimeout},
		budget:  budget,
		breaker: circuit.New("santiment", final.BreakerThreshold, final.BreakerCooldown),
		rand:    defaultRand,
		now:     time.Now,
	}
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.http = client
	}
}

func (c *Client) Breaker() *circuit.Breaker { return c.breaker }

// FetchSeries performs one sub-request for chunk and returns its points
// inside [chunk.From, chunk.To).
func (c *Client) FetchSeries(ctx context.Context, metric string, interval series.Interval, chunk series.Chunk) (series.Series, error) {
	doc, err := c.query(ctx, timeseriesQuery(metric, interval.Key, chunk), chunk.String())
	if err != nil {
		return nil, err
	}
	return parseTimeseries(doc, chunk)
}

// AllMetrics lists every metric the service exposes.
func (c *Client) AllMetrics(ctx context.Context) ([]string, error) {
	doc, err := c.query(ctx, allMetricsQuery(), "getAvailableMetrics")
	if err != nil {
		return nil, err
	}
	return parseStringList(doc, "data.getAvailableMetrics")
}

// MetricsForAsset lists the metrics computed for one asset slug.
func (c *Client) MetricsForAsset(ctx context.Context, asset string) ([]string, error) {
	doc, err := c.query(ctx, assetMetricsQuery(asset), "availableMetrics:"+asset)
	if err != nil {
		return nil, err
	}
	return parseStringList(doc, "data.projectBySlug.availableMetrics")
}

// query runs the retry loop around single attempts. Every attempt that the
// breaker admits first takes one unit from the shared budget; short-circuited
// attempts cost nothing.
func (c *Client) query(ctx context.Context, gql, label string) (gjson.Result, error) {
	policy := c.cfg.Retry
	var last *Error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if !c.breaker.Allow() {
			last = &Error{Kind: KindServerError, Err: errors.New("circuit open")}
		} else {
			doc, err := c.try(ctx, gql, label)
			if err == nil {
				return doc, nil
			}
			var te *Error
			if !errors.As(err, &te) || !te.Transient() {
				return gjson.Result{}, err
			}
			last = te
		}
		if attempt == policy.MaxAttempts {
			break
		}
		delay := policy.backoff(attempt, last.RetryAfter, c.rand)
		log.Warnf("%s attempt %d/%d failed (%s), retrying in %s", label, attempt, policy.MaxAttempts, last.Kind, delay.Round(time.Millisecond))
		if err := sleep(ctx, delay); err != nil {
			return gjson.Result{}, err
		}
	}
	return gjson.Result{}, &Error{
		Kind:     KindExhausted,
		Last:     last.Kind,
		Status:   last.Status,
		Attempts: policy.MaxAttempts,
		Err:      last,
	}
}

// try performs one admitted attempt and reports its outcome to the breaker.
// Only transient failures count against the remote; any other answer proves
// it is up, and a caller that gave up releases the slot.
func (c *Client) try(ctx context.Context, gql, label string) (gjson.Result, error) {
	waited, err := c.budget.Acquire(ctx)
	if err != nil {
		c.breaker.Release()
		return gjson.Result{}, err
	}
	if waited > time.Second {
		log.Debugf("%s waited %s for rate budget", label, waited.Round(time.Millisecond))
	}
	doc, err := c.attempt(ctx, gql)
	if err == nil {
		c.breaker.RecordSuccess()
		return doc, nil
	}
	if ctx.Err() != nil {
		c.breaker.Release()
		return gjson.Result{}, ctx.Err()
	}
	var te *Error
	if !errors.As(err, &te) {
		te = &Error{Kind: KindServerError, Err: err}
	}
	if !te.Transient() {
		c.breaker.RecordSuccess()
		return gjson.Result{}, te
	}
	c.breaker.RecordFailure()
	return gjson.Result{}, te
}

func (c *Client) attempt(ctx context.Context, gql string) (gjson.Result, error) {
	payload, err := json.Marshal(map[string]string{"query": gql})
	if err != nil {
		return gjson.Result{}, &Error{Kind: KindBadRequest, Err: fmt.Errorf("encode request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, &Error{Kind: KindBadRequest, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Apikey "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, transportFailure(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return gjson.Result{}, transportFailure(err)
	}

	if kind := classifyStatus(resp.StatusCode); kind != "" {
		te := &Error{Kind: kind, Status: resp.StatusCode}
		if kind == KindRateLimited {
			te.RetryAfter = parseRetryAfter(append(resp.Header.Values("Retry-After"), resp.Header.Values("X-RateLimit-Reset")...), c.now())
		}
		// GraphQL errors in the body are more precise than a bare 4xx.
		if _, gerr := decodeEnvelope(body); gerr != nil {
			var ge *Error
			if errors.As(gerr, &ge) {
				if kind == KindBadRequest && ge.Kind != KindServerError {
					te.Kind = ge.Kind
				}
				if te.Kind == KindRateLimited && ge.RetryAfter > te.RetryAfter {
					te.RetryAfter = ge.RetryAfter
				}
			}
			te.Err = gerr
		} else {
			te.Err = errors.New(resp.Status)
		}
		return gjson.Result{}, te
	}

	doc, err := decodeEnvelope(body)
	if err != nil {
		var te *Error
		if errors.As(err, &te) {
			te.Status = resp.StatusCode
		}
		return gjson.Result{}, err
	}
	return doc, nil
}

func transportFailure(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindServerError, Err: err}
}
