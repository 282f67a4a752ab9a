package marketdata

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/symphony/internal/domain"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingBars struct {
	inner domain.BarProvider
	calls atomic.Int32
}

func (c *countingBars) GetBars(ctx context.Context, symbol string, asOf time.Time, lookback int) ([]domain.Bar, error) {
	c.calls.Add(1)
	return c.inner.GetBars(ctx, symbol, asOf, lookback)
}

// Needs a reachable Redis; set REDIS_ADDR to run.
func TestRedisCache_ReadThrough(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	mem := NewMemoryProvider()
	mem.Set("SPY", makeBars("1", "2.5", "3"))
	backing := &countingBars{inner: mem}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_bar_cache_requests_total"}, []string{"result"})

	cache, err := NewRedisCache(CacheConfig{Addr: addr, TTL: time.Minute, Prefix: "test:" + uuid.NewString()}, backing, requests, zerolog.Nop())
	require.NoError(t, err)
	defer cache.Close()
	ctx := context.Background()

	first, err := cache.GetBars(ctx, "SPY", day(2), 2)
	require.NoError(t, err)
	second, err := cache.GetBars(ctx, "SPY", day(2), 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"2.5", "3"}, closesOf(second))
	assert.True(t, first[0].Date.Equal(second[0].Date))
	assert.EqualValues(t, 1, backing.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(requests.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(requests.WithLabelValues("hit")))

	require.NoError(t, cache.Invalidate(ctx, "SPY"))
	_, err = cache.GetBars(ctx, "SPY", day(2), 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, backing.calls.Load())
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	_, err := NewRedisCache(CacheConfig{Addr: "127.0.0.1:1"}, NewMemoryProvider(), nil, zerolog.Nop())
	assert.Error(t, err)
}
