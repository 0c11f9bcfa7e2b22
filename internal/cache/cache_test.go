package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caixa/backend/internal/domain"
)

func TestNoopReportCacheNeverHits(t *testing.T) {
	var c ReportCache = NoopReportCache{}
	ctx := context.Background()

	version, err := c.Version(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, version, "k", &domain.ReconciliationReport{SaleCount: 3}, time.Minute))
	got, ok, err := c.Get(ctx, version, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.NoError(t, c.Invalidate(ctx))
}

func newTestRedisCache(t *testing.T) (*RedisReportCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisReportCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(context.Background()))
	return c, mr
}

func sampleReport() *domain.ReconciliationReport {
	return &domain.ReconciliationReport{
		From:          time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC),
		To:            time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC),
		Revenue:       decimal.RequireFromString("79.25"),
		SaleCount:     3,
		AverageTicket: decimal.RequireFromString("79.25").Div(decimal.NewFromInt(3)),
		ByMethod: []domain.MethodTotal{
			{Method: domain.MethodCash, Total: decimal.RequireFromString("25.00"), Count: 1},
			{Method: domain.MethodPix, Total: decimal.RequireFromString("44.25"), Count: 2},
		},
	}
}

func TestRedisReportCacheRoundTripKeepsExactDecimals(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	version, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version, "missing counter starts at zero")

	_, hit, err := c.Get(ctx, version, "week")
	require.NoError(t, err)
	assert.False(t, hit)

	want := sampleReport()
	require.NoError(t, c.Set(ctx, version, "week", want, time.Minute))

	got, hit, err := c.Get(ctx, version, "week")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, want.SaleCount, got.SaleCount)
	assert.True(t, want.Revenue.Equal(got.Revenue))
	assert.True(t, want.AverageTicket.Equal(got.AverageTicket), "unrounded average survives: %s", got.AverageTicket)
	require.Len(t, got.ByMethod, 2)
	assert.Equal(t, "44.25", got.ByMethod[1].Total.String())
	assert.True(t, want.From.Equal(got.From))
}

func TestRedisReportCacheInvalidateBumpsVersion(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	before, err := c.Version(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, before, "week", sampleReport(), time.Minute))

	require.NoError(t, c.Invalidate(ctx))
	after, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	_, hit, err := c.Get(ctx, after, "week")
	require.NoError(t, err)
	assert.False(t, hit, "entries written before the bump are unreachable")
}

func TestRedisReportCacheWriteAfterInvalidateStaysUnreachable(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	readAt, err := c.Version(ctx)
	require.NoError(t, err)

	// a ledger write lands between the snapshot and the cache write
	require.NoError(t, c.Invalidate(ctx))
	require.NoError(t, c.Set(ctx, readAt, "week", sampleReport(), time.Minute))

	current, err := c.Version(ctx)
	require.NoError(t, err)
	_, hit, err := c.Get(ctx, current, "week")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisReportCacheEntriesExpire(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, 0, "week", sampleReport(), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, hit, err := c.Get(ctx, 0, "week")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisReportCacheSurfacesServerErrors(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()
	mr.Close()

	_, err := c.Version(ctx)
	assert.Error(t, err)
	assert.Error(t, c.Invalidate(ctx))
}
