package apihttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sanmetrics/internal/analytics"
	"sanmetrics/internal/fetch"
	"sanmetrics/internal/fetcherr"
	"sanmetrics/internal/gateway/santiment"
	"sanmetrics/internal/series"

	"github.com/gin-gonic/gin"
)

const defaultCSVPrecision = 8

type Router struct {
	svc     Service
	timeout time.Duration
}

func NewRouter(svc Service, timeout time.Duration) *Router {
	return &Router{svc: svc, timeout: timeout}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/metrics", r.handleMetrics)
	group.GET("/metrics/:asset", r.handleAssetMetrics)
	group.GET("/series", r.handleSeries)
	group.GET("/series/many", r.handleSeriesMany)
	group.GET("/series/metrics", r.handleSeriesMetrics)
	group.GET("/analytics/correlation", r.handleCorrelation)
	group.GET("/analytics/rolling", r.handleRolling)
	group.POST("/catalog/invalidate", r.handleInvalidate)
}

type seriesResponse struct {
	RunID         string        `json:"run_id"`
	Partial       bool          `json:"partial"`
	FailedAssets  []string      `json:"failed_assets,omitempty"`
	SkippedAssets []string      `json:"skipped_assets,omitempty"`
	Errors        []string      `json:"errors,omitempty"`
	Table         *series.Table `json:"table"`
}

type errorResponse struct {
	Error  string   `json:"error"`
	Kind   string   `json:"kind,omitempty"`
	Assets []string `json:"assets,omitempty"`
}

func (r *Router) context(c *gin.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(c.Request.Context(), r.timeout)
	}
	return context.WithCancel(c.Request.Context())
}

func (r *Router) handleMetrics(c *gin.Context) {
	ctx, cancel := r.context(c)
	defer cancel()
	metrics, err := r.svc.AvailableMetrics(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": metrics})
}

func (r *Router) handleAssetMetrics(c *gin.Context) {
	ctx, cancel := r.context(c)
	defer cancel()
	asset := strings.TrimSpace(c.Param("asset"))
	metrics, err := r.svc.AvailableMetricsFor(ctx, asset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": asset, "metrics": metrics})
}

func (r *Router) handleSeries(c *gin.Context) {
	p, err := parseRange(c)
	if err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := r.context(c)
	defer cancel()
	res, err := r.svc.Get(ctx, c.Query("metric"), c.Query("asset"), p.interval, p.from, p.to)
	r.writeResult(c, res, err)
}

func (r *Router) handleSeriesMany(c *gin.Context) {
	p, err := parseRange(c)
	if err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := r.context(c)
	defer cancel()
	res, err := r.svc.GetMany(ctx, c.Query("metric"), splitList(c.Query("assets")), p.interval, p.from, p.to)
	r.writeResult(c, res, err)
}

func (r *Router) handleSeriesMetrics(c *gin.Context) {
	p, err := parseRange(c)
	if err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := r.context(c)
	defer cancel()
	res, err := r.svc.GetMetrics(ctx, splitList(c.Query("metrics")), c.Query("asset"), p.interval, p.from, p.to)
	r.writeResult(c, res, err)
}

// fetchForAnalytics runs GetMany and optionally log-differences the result.
func (r *Router) fetchForAnalytics(c *gin.Context) (*fetch.Result, *series.Table, bool) {
	p, err := parseRange(c)
	if err != nil {
		writeError(c, err)
		return nil, nil, false
	}
	ctx, cancel := r.context(c)
	defer cancel()
	res, err := r.svc.GetMany(ctx, c.Query("metric"), splitList(c.Query("assets")), p.interval, p.from, p.to)
	if err != nil {
		writeError(c, err)
		return nil, nil, false
	}
	table := res.Table
	if on, _ := strconv.ParseBool(c.DefaultQuery("log_diff", "false")); on {
		table, err = analytics.LogDiff(table, splitList(c.Query("price"))...)
		if err != nil {
			writeError(c, fmt.Errorf("%w: %v", series.ErrInvalidQuery, err))
			return nil, nil, false
		}
	}
	return res, table, true
}

func (r *Router) handleCorrelation(c *gin.Context) {
	res, table, ok := r.fetchForAnalytics(c)
	if !ok {
		return
	}
	c.JSON(statusFor(res), gin.H{
		"run_id":        res.RunID,
		"partial":       res.Partial(),
		"failed_assets": res.FailedAssets,
		"rows":          table.Len(),
		"matrix":        analytics.CorrelationMatrix(table),
	})
}

func (r *Router) handleRolling(c *gin.Context) {
	window, err := strconv.Atoi(c.Query("window"))
	if err != nil {
		writeError(c, fmt.Errorf("%w: window must be an integer", series.ErrInvalidQuery))
		return
	}
	pair := splitList(c.Query("assets"))
	if len(pair) != 2 {
		writeError(c, fmt.Errorf("%w: rolling correlation needs exactly two assets", series.ErrInvalidQuery))
		return
	}
	res, table, ok := r.fetchForAnalytics(c)
	if !ok {
		return
	}
	if !table.HasColumn(pair[0]) || !table.HasColumn(pair[1]) {
		writeError(c, fetcherr.New(fetcherr.AllFailed, errors.New("an asset of the pair has no data"), res.FailedAssets...))
		return
	}
	rolled, err := analytics.RollingColumns(table, pair[0], pair[1], window)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(statusFor(res), gin.H{
		"run_id":        res.RunID,
		"partial":       res.Partial(),
		"failed_assets": res.FailedAssets,
		"window":        window,
		"series":        rolled,
	})
}

func (r *Router) handleInvalidate(c *gin.Context) {
	r.svc.InvalidateCatalog()
	c.Status(http.StatusNoContent)
}

func (r *Router) writeResult(c *gin.Context, res *fetch.Result, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	status := statusFor(res)
	if strings.EqualFold(c.Query("format"), "csv") {
		precision := int32(defaultCSVPrecision)
		if p, err := strconv.Atoi(c.Query("precision")); err == nil && p >= 0 {
			precision = int32(p)
		}
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("X-Run-ID", res.RunID)
		if res.Partial() {
			c.Header("X-Failed-Assets", strings.Join(res.FailedAssets, ","))
		}
		c.Status(status)
		if err := res.Table.WriteCSV(c.Writer, precision); err != nil {
			_ = c.Error(err)
		}
		return
	}
	out := seriesResponse{
		RunID:         res.RunID,
		Partial:       res.Partial(),
		FailedAssets:  res.FailedAssets,
		SkippedAssets: res.SkippedAssets,
		Table:         res.Table,
	}
	for _, name := range res.FailedAssets {
		if e := res.Errors[name]; e != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", name, e))
		}
	}
	c.JSON(status, out)
}

func statusFor(res *fetch.Result) int {
	if res.Partial() {
		return http.StatusPartialContent
	}
	return http.StatusOK
}

func writeError(c *gin.Context, err error) {
	body := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError
	var fe *fetcherr.Error
	switch {
	case errors.Is(err, series.ErrInvalidQuery), errors.Is(err, analytics.ErrInvalidWindow):
		status = http.StatusBadRequest
		body.Kind = "invalid_query"
	case errors.As(err, &fe):
		body.Kind = string(fe.Kind)
		body.Assets = fe.Assets
		switch fe.Kind {
		case fetcherr.Cancelled:
			status = http.StatusGatewayTimeout
		case fetcherr.CatalogUnavailable:
			status = http.StatusServiceUnavailable
		default:
			status = http.StatusBadGateway
		}
	case santiment.KindOf(err) != "":
		body.Kind = string(santiment.KindOf(err))
		status = http.StatusBadGateway
	}
	c.JSON(status, body)
}

type rangeParams struct {
	interval string
	from, to time.Time
}

func parseRange(c *gin.Context) (rangeParams, error) {
	from, err := parseTime(c.Query("from"))
	if err != nil {
		return rangeParams{}, fmt.Errorf("%w: from: %v", series.ErrInvalidQuery, err)
	}
	to, err := parseTime(c.Query("to"))
	if err != nil {
		return rangeParams{}, fmt.Errorf("%w: to: %v", series.ErrInvalidQuery, err)
	}
	return rangeParams{interval: c.DefaultQuery("interval", "1d"), from: from, to: to}, nil
}

// parseTime accepts RFC 3339 or a bare UTC date.
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339 or YYYY-MM-DD, got %q", raw)
	}
	return t, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
