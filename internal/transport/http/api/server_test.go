package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sanmetrics/internal/fetch"
	"sanmetrics/internal/fetcherr"
	"sanmetrics/internal/series"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Get(ctx context.Context, metric, asset, interval string, from, to time.Time) (*fetch.Result, error) {
	args := m.Called(ctx, metric, asset, interval, from, to)
	res, _ := args.Get(0).(*fetch.Result)
	return res, args.Error(1)
}

func (m *MockService) GetMany(ctx context.Context, metric string, assets []string, interval string, from, to time.Time) (*fetch.Result, error) {
	args := m.Called(ctx, metric, assets, interval, from, to)
	res, _ := args.Get(0).(*fetch.Result)
	return res, args.Error(1)
}

func (m *MockService) GetMetrics(ctx context.Context, metrics []string, asset, interval string, from, to time.Time) (*fetch.Result, error) {
	args := m.Called(ctx, metrics, asset, interval, from, to)
	res, _ := args.Get(0).(*fetch.Result)
	return res, args.Error(1)
}

func (m *MockService) AvailableMetrics(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	out, _ := args.Get(0).([]string)
	return out, args.Error(1)
}

func (m *MockService) AvailableMetricsFor(ctx context.Context, asset string) ([]string, error) {
	args := m.Called(ctx, asset)
	out, _ := args.Get(0).([]string)
	return out, args.Error(1)
}

func (m *MockService) InvalidateCatalog() { m.Called() }

var (
	from = time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)
	to   = time.Date(2023, 10, 4, 0, 0, 0, 0, time.UTC)
)

func twoAssetTable() *series.Table {
	return series.Align([]string{"bitcoin", "ethereum"}, map[string]series.Series{
		"bitcoin":  {series.At(from, 1), series.At(from.AddDate(0, 0, 1), 2), series.At(from.AddDate(0, 0, 2), 3)},
		"ethereum": {series.At(from, 3), series.At(from.AddDate(0, 0, 1), 2), series.At(from.AddDate(0, 0, 2), 1)},
	})
}

func serve(t *testing.T, svc Service, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	srv, err := NewServer(ServerConfig{Service: svc})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestMetricsEndpoints(t *testing.T) {
	svc := new(MockService)
	svc.On("AvailableMetrics", mock.Anything).Return([]string{"price_usd"}, nil)
	svc.On("AvailableMetricsFor", mock.Anything, "bitcoin").Return([]string{"price_usd", "dev_activity"}, nil)

	rec := serve(t, svc, http.MethodGet, "/api/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"metrics":["price_usd"]}`, rec.Body.String())

	rec = serve(t, svc, http.MethodGet, "/api/metrics/bitcoin")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"asset":"bitcoin","metrics":["price_usd","dev_activity"]}`, rec.Body.String())
}

func TestCatalogOutageMapsTo503(t *testing.T) {
	svc := new(MockService)
	svc.On("AvailableMetrics", mock.Anything).Return(nil, fetcherr.New(fetcherr.CatalogUnavailable, errors.New("down")))
	rec := serve(t, svc, http.MethodGet, "/api/metrics")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"catalog_unavailable"`)
}

func TestSeriesManyPartialIs206(t *testing.T) {
	svc := new(MockService)
	tbl := series.Align([]string{"bitcoin"}, map[string]series.Series{"bitcoin": {series.At(from, 1)}})
	svc.On("GetMany", mock.Anything, "price_usd", []string{"bitcoin", "ethereum"}, "1d", from, to).Return(&fetch.Result{
		RunID:        "run-1",
		Table:        tbl,
		FailedAssets: []string{"ethereum"},
		Errors:       map[string]error{"ethereum": errors.New("auth_failure")},
	}, nil)

	rec := serve(t, svc, http.MethodGet, "/api/series/many?metric=price_usd&assets=bitcoin,%20ethereum&from=2023-10-01&to=2023-10-04T00:00:00Z")
	require.Equal(t, http.StatusPartialContent, rec.Code)
	var body struct {
		RunID        string          `json:"run_id"`
		Partial      bool            `json:"partial"`
		FailedAssets []string        `json:"failed_assets"`
		Errors       []string        `json:"errors"`
		Table        json.RawMessage `json:"table"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Partial)
	assert.Equal(t, []string{"ethereum"}, body.FailedAssets)
	assert.Equal(t, []string{"ethereum: auth_failure"}, body.Errors)
	var decoded series.Table
	require.NoError(t, json.Unmarshal(body.Table, &decoded))
	assert.Equal(t, []string{"bitcoin"}, decoded.Columns())
	svc.AssertExpectations(t)
}

func TestSeriesCSV(t *testing.T) {
	svc := new(MockService)
	tbl := series.Align([]string{"bitcoin"}, map[string]series.Series{"bitcoin": {series.At(from, 1.23456)}})
	svc.On("Get", mock.Anything, "price_usd", "bitcoin", "1d", from, to).Return(&fetch.Result{RunID: "r", Table: tbl}, nil)

	rec := serve(t, svc, http.MethodGet, "/api/series?metric=price_usd&asset=bitcoin&from=2023-10-01&to=2023-10-04&format=csv&precision=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "datetime,bitcoin\n2023-10-01T00:00:00Z,1.23\n", rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
}

func TestSeriesErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"invalid", series.ErrInvalidQuery, http.StatusBadRequest},
		{"all failed", fetcherr.New(fetcherr.AllFailed, errors.New("x"), "bitcoin"), http.StatusBadGateway},
		{"cancelled", fetcherr.New(fetcherr.Cancelled, context.DeadlineExceeded), http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(MockService)
			svc.On("Get", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, tc.err)
			rec := serve(t, svc, http.MethodGet, "/api/series?metric=price_usd&asset=bitcoin&from=2023-10-01&to=2023-10-04")
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestBadTimeIsRejectedBeforeFetch(t *testing.T) {
	svc := new(MockService)
	rec := serve(t, svc, http.MethodGet, "/api/series?metric=price_usd&asset=bitcoin&from=yesterday&to=2023-10-04")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Get")
}

func TestCorrelationEndpoint(t *testing.T) {
	svc := new(MockService)
	svc.On("GetMany", mock.Anything, "price_usd", []string{"bitcoin", "ethereum"}, "1d", from, to).
		Return(&fetch.Result{RunID: "r", Table: twoAssetTable()}, nil)

	rec := serve(t, svc, http.MethodGet, "/api/analytics/correlation?metric=price_usd&assets=bitcoin,ethereum&from=2023-10-01&to=2023-10-04")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Matrix struct {
			Columns []string     `json:"columns"`
			Values  [][]*float64 `json:"values"`
		} `json:"matrix"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"bitcoin", "ethereum"}, body.Matrix.Columns)
	assert.InDelta(t, -1.0, *body.Matrix.Values[0][1], 1e-9)
}

func TestRollingEndpoint(t *testing.T) {
	svc := new(MockService)
	svc.On("GetMany", mock.Anything, "price_usd", []string{"bitcoin", "ethereum"}, "1d", from, to).
		Return(&fetch.Result{RunID: "r", Table: twoAssetTable()}, nil)

	rec := serve(t, svc, http.MethodGet, "/api/analytics/rolling?metric=price_usd&assets=bitcoin,ethereum&window=2&from=2023-10-01&to=2023-10-04")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"window":2`)

	rec = serve(t, svc, http.MethodGet, "/api/analytics/rolling?metric=price_usd&assets=bitcoin,ethereum&window=9&from=2023-10-01&to=2023-10-04")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "window longer than the table")

	rec = serve(t, svc, http.MethodGet, "/api/analytics/rolling?metric=price_usd&assets=bitcoin&window=2&from=2023-10-01&to=2023-10-04")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidateCatalog(t *testing.T) {
	svc := new(MockService)
	svc.On("InvalidateCatalog").Return()
	rec := serve(t, svc, http.MethodPost, "/api/catalog/invalidate")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	svc.AssertCalled(t, "InvalidateCatalog")
}
