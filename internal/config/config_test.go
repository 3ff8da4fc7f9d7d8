package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv(APIKeyEnv, "from-env")
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  log_level: debug\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, defaultHTTPAddr, cfg.App.HTTPAddr)
	assert.Equal(t, defaultBaseURL, cfg.Santiment.BaseURL)
	assert.Equal(t, "from-env", cfg.Santiment.APIKey)
	assert.Equal(t, 10000, cfg.Santiment.MaxRowsPerRequest)
	assert.Equal(t, 60, cfg.Santiment.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.Santiment.RateLimit.Window())
	assert.Equal(t, 5, cfg.Santiment.Retry.MaxAttempts)
	assert.Equal(t, 0.2, cfg.Santiment.Retry.Jitter)
	assert.Equal(t, 5, cfg.Fetch.Workers)
	assert.False(t, cfg.Fetch.Strict)
}

func TestExplicitZeroIsKept(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
santiment:
  api_key: " abc "
  retry:
    jitter: 0
  breaker:
    threshold: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Santiment.Retry.Jitter)
	assert.Equal(t, 0, cfg.Santiment.Breaker.Threshold)
	assert.Equal(t, "abc", cfg.Santiment.APIKey)
}

func TestIncludesMergeInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
santiment:
  max_rows_per_request: 500
fetch:
  workers: 2
`)
	path := writeFile(t, dir, "config.yaml", `
include:
  - base.yaml
fetch:
  workers: 8
  strict: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Santiment.MaxRowsPerRequest)
	assert.Equal(t, 8, cfg.Fetch.Workers, "including file wins")
	assert.True(t, cfg.Fetch.Strict)
}

func TestIncludeCycleIsRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	assert.ErrorContains(t, err, "cycle")
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"log level":   "app:\n  log_level: loud\n",
		"base url":    "santiment:\n  base_url: not-a-url\n",
		"rate window": "santiment:\n  rate_limit:\n    window_seconds: -1\n",
		"backoff":     "santiment:\n  retry:\n    initial_backoff_ms: 5000\n    max_backoff_ms: 10\n",
		"jitter":      "santiment:\n  retry:\n    jitter: 3\n",
		"workers":     "fetch:\n  workers: -2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(PathEnv, "")
	assert.Equal(t, DefaultPath, PathFromEnv())
	t.Setenv(PathEnv, "/etc/sanmetrics.yaml")
	assert.Equal(t, "/etc/sanmetrics.yaml", PathFromEnv())
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  log_level: info\n")

	got := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) { got <- c })
	require.NoError(t, err)
	defer w.Close()

	writeFile(t, dir, "config.yaml", "app:\n  log_level: warn\n")
	select {
	case cfg := <-got:
		assert.Equal(t, "warn", cfg.App.LogLevel)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestFilesListsIncludesInMergeOrder(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.yaml", "fetch:\n  workers: 3\n")
	main := writeFile(t, dir, "config.yaml", "include: base.yaml\nfetch:\n  strict: true\n")

	files, err := Files(main)
	require.NoError(t, err)
	assert.Equal(t, []string{base, main}, files)

	cfg, err := Load(main)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Fetch.Workers)
	assert.True(t, cfg.Fetch.Strict)
}
