package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sanmetrics/internal/fetcherr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) AllMetrics(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockSource) MetricsForAsset(ctx context.Context, asset string) ([]string, error) {
	args := m.Called(ctx, asset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func TestAllMetricsIsCached(t *testing.T) {
	src := new(MockSource)
	src.On("AllMetrics", mock.Anything).Return([]string{"price_usd", "dev_activity"}, nil).Once()
	c := New(src)

	first, err := c.AllMetrics(context.Background())
	require.NoError(t, err)
	second, err := c.AllMetrics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"dev_activity", "price_usd"}, first)
	assert.Equal(t, first, second)
	src.AssertNumberOfCalls(t, "AllMetrics", 1)
}

func TestIsAvailablePerAsset(t *testing.T) {
	src := new(MockSource)
	src.On("MetricsForAsset", mock.Anything, "bitcoin").Return([]string{"price_usd", "daily_active_addresses"}, nil).Once()
	c := New(src)

	ok, err := c.IsAvailable(context.Background(), "daily_active_addresses", "bitcoin")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.IsAvailable(context.Background(), "erc20_transfers", "bitcoin")
	require.NoError(t, err)
	assert.False(t, ok)
	src.AssertExpectations(t)
}

func TestFailuresAreNotCached(t *testing.T) {
	src := new(MockSource)
	src.On("AllMetrics", mock.Anything).Return(nil, errors.New("boom")).Once()
	src.On("AllMetrics", mock.Anything).Return([]string{"price_usd"}, nil).Once()
	c := New(src)

	_, err := c.AllMetrics(context.Background())
	require.Error(t, err)
	assert.Equal(t, fetcherr.CatalogUnavailable, fetcherr.KindOf(err))

	got, err := c.AllMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"price_usd"}, got)
}

func TestUnknownAssetCachedAsEmpty(t *testing.T) {
	src := new(MockSource)
	src.On("MetricsForAsset", mock.Anything, "nope").Return(nil, ErrUnknownAsset).Once()
	c := New(src)

	got, err := c.MetricsFor(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, got)
	ok, err := c.IsAvailable(context.Background(), "price_usd", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	src.AssertNumberOfCalls(t, "MetricsForAsset", 1)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	src := new(MockSource)
	src.On("MetricsForAsset", mock.Anything, "bitcoin").Return([]string{"price_usd"}, nil).Twice()
	c := New(src)

	_, err := c.MetricsFor(context.Background(), "bitcoin")
	require.NoError(t, err)
	c.Invalidate()
	_, err = c.MetricsFor(context.Background(), "bitcoin")
	require.NoError(t, err)
	src.AssertNumberOfCalls(t, "MetricsForAsset", 2)
}

type slowSource struct {
	calls   int32
	release chan struct{}
}

func (s *slowSource) AllMetrics(context.Context) ([]string, error) {
	atomic.AddInt32(&s.calls, 1)
	<-s.release
	return []string{"price_usd"}, nil
}

func (s *slowSource) MetricsForAsset(_ context.Context, asset string) ([]string, error) {
	atomic.AddInt32(&s.calls, 1)
	<-s.release
	return []string{"price_usd"}, nil
}

func TestConcurrentFirstAccessCoalesces(t *testing.T) {
	src := &slowSource{release: make(chan struct{})}
	c := New(src)

	var wg sync.WaitGroup
	results := make([][]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := c.MetricsFor(context.Background(), "bitcoin")
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))
	for _, r := range results {
		assert.Equal(t, []string{"price_usd"}, r)
	}
}

func TestCallerCancellationStopsWaiting(t *testing.T) {
	src := &slowSource{release: make(chan struct{})}
	defer close(src.release)
	c := New(src)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.AllMetrics(ctx)
	assert.Equal(t, fetcherr.Cancelled, fetcherr.KindOf(err))
}

func TestInvalidateDuringFlightDoesNotRepopulate(t *testing.T) {
	src := &slowSource{release: make(chan struct{})}
	c := New(src)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.AllMetrics(context.Background())
	}()
	time.Sleep(10 * time.Millisecond)
	c.Invalidate()
	close(src.release)
	<-done

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Nil(t, c.all)
}

func TestFileSource(t *testing.T) {
	fs, err := ParseFileSource([]byte(`
metrics:
  price_usd: [bitcoin, ethereum]
  dev_activity: [ethereum]
`))
	require.NoError(t, err)
	c := New(fs)

	all, err := c.AllMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"dev_activity", "price_usd"}, all)

	eth, err := c.MetricsFor(context.Background(), "ethereum")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev_activity", "price_usd"}, eth)

	ok, err := c.IsAvailable(context.Background(), "price_usd", "solana")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ParseFileSource([]byte("metricz: {}"))
	assert.Error(t, err)
}
