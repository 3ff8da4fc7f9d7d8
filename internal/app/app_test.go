package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"sanmetrics/internal/catalog"
	brcfg "sanmetrics/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSantiment answers the three query shapes the client sends.
func fakeSantiment(t *testing.T, series *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		q := body.Query
		switch {
		case strings.Contains(q, "getAvailableMetrics"):
			fmt.Fprint(w, `{"data":{"getAvailableMetrics":["price_usd","dev_activity"]}}`)
		case strings.Contains(q, `projectBySlug(slug: "bitcoin")`):
			fmt.Fprint(w, `{"data":{"projectBySlug":{"availableMetrics":["price_usd"]}}}`)
		case strings.Contains(q, "projectBySlug"):
			fmt.Fprint(w, `{"data":{"projectBySlug":null}}`)
		case strings.Contains(q, "getMetric"):
			atomic.AddInt32(series, 1)
			fmt.Fprint(w, `{"data":{"getMetric":{"timeseriesData":[
				{"datetime":"2023-10-01T00:00:00Z","value":27000},
				{"datetime":"2023-10-02T00:00:00Z","value":27500},
				{"datetime":"2023-10-03T00:00:00Z","value":28000}
			]}}}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func loadConfig(t *testing.T, body string) *brcfg.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := brcfg.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestClientEndToEnd(t *testing.T) {
	var calls int32
	srv := fakeSantiment(t, &calls)
	cfg := loadConfig(t, fmt.Sprintf(`
santiment:
  base_url: %s
  api_key: test
fetch:
  workers: 2
  cache_enabled: true
`, srv.URL))

	client, gw, err := NewAppBuilder(cfg).BuildClient()
	require.NoError(t, err)
	require.NotNil(t, gw)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	from := time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 3)

	res, err := client.GetMany(ctx, "price_usd", []string{"bitcoin", "ghost"}, "1d", from, to)
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, res.SkippedAssets)
	assert.Empty(t, res.FailedAssets)
	assert.Equal(t, []string{"bitcoin"}, res.Table.Columns())
	assert.Equal(t, 3, res.Table.Len())

	_, err = client.Get(ctx, "price_usd", "bitcoin", "1d", from, to)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "elapsed chunk is served from the cache")

	all, err := client.AvailableMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev_activity", "price_usd"}, all)
}

func TestRemoteCatalogMapsUnknownAsset(t *testing.T) {
	var calls int32
	srv := fakeSantiment(t, &calls)
	cfg := loadConfig(t, fmt.Sprintf("santiment:\n  base_url: %s\n", srv.URL))

	_, gw, err := NewAppBuilder(cfg).BuildClient()
	require.NoError(t, err)
	_, err = remoteCatalog{gw: gw}.MetricsForAsset(context.Background(), "ghost")
	assert.ErrorIs(t, err, catalog.ErrUnknownAsset)
}

func TestBuildWithHTTP(t *testing.T) {
	var calls int32
	srv := fakeSantiment(t, &calls)
	cfg := loadConfig(t, fmt.Sprintf(`
app:
  http_enabled: true
  http_addr: 127.0.0.1:0
santiment:
  base_url: %s
`, srv.URL))

	a, err := NewAppBuilder(cfg).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NotNil(t, a.Client())
	assert.Equal(t, "127.0.0.1:0", a.Summary.HTTP)
	assert.Equal(t, "remote", a.Summary.Catalog)
}

func TestRunWithoutHTTPReturns(t *testing.T) {
	var calls int32
	srv := fakeSantiment(t, &calls)
	cfg := loadConfig(t, fmt.Sprintf("santiment:\n  base_url: %s\n", srv.URL))

	a, err := NewApp(cfg)
	require.NoError(t, err)
	assert.NoError(t, a.Run(context.Background()))
}
