package fx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRateStore struct {
	rates []Rate
	calls int
}

func (s *memoryRateStore) LatestRate(ctx context.Context, from, to string, on time.Time) (Rate, bool, error) {
	s.calls++
	var (
		best  Rate
		found bool
	)
	for _, r := range s.rates {
		if r.From != from || r.To != to || r.Date.After(on) {
			continue
		}
		if !found || r.Date.After(best.Date) {
			best = r
			found = true
		}
	}
	return best, found, nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newStore() *memoryRateStore {
	return &memoryRateStore{rates: []Rate{
		{From: "USD", To: "EUR", Date: day(2024, 1, 1), Rate: decimal.RequireFromString("0.90")},
		{From: "USD", To: "EUR", Date: day(2024, 6, 1), Rate: decimal.RequireFromString("0.92")},
		{From: "EUR", To: "XOF", Date: day(2024, 1, 1), Rate: decimal.RequireFromString("655.957")},
	}}
}

func TestConvertSameCurrency(t *testing.T) {
	svc := NewService(newStore(), nil)
	got, err := svc.Convert(context.Background(), decimal.NewFromInt(10), "usd", "USD", day(2024, 1, 1))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(got))
}

func TestConvertUsesLatestRateOnDate(t *testing.T) {
	svc := NewService(newStore(), nil)
	got, err := svc.Convert(context.Background(), decimal.NewFromInt(100), "USD", "EUR", day(2024, 5, 31))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("90").Equal(got), "got %s", got)

	got, err = svc.Convert(context.Background(), decimal.NewFromInt(100), "USD", "EUR", day(2024, 7, 1))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("92").Equal(got), "got %s", got)
}

func TestConvertFallsBackToInverse(t *testing.T) {
	svc := NewService(newStore(), nil)
	got, err := svc.Convert(context.Background(), decimal.RequireFromString("655.957"), "XOF", "EUR", day(2024, 2, 1))
	require.NoError(t, err)
	assert.True(t, got.Round(2).Equal(decimal.NewFromInt(1)), "got %s", got)
}

func TestConvertMissingRate(t *testing.T) {
	svc := NewService(newStore(), nil)
	_, err := svc.Convert(context.Background(), decimal.NewFromInt(1), "USD", "EUR", day(2023, 12, 31))
	var missing *MissingRateError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "USD", missing.From)
	assert.Equal(t, "EUR", missing.To)
}

func TestRateIsCachedInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newStore()
	svc := NewService(store, NewCache(client, time.Hour))
	ctx := context.Background()

	first, err := svc.Rate(ctx, "USD", "EUR", day(2024, 6, 15))
	require.NoError(t, err)
	calls := store.calls

	second, err := svc.Rate(ctx, "USD", "EUR", day(2024, 6, 15))
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
	assert.Equal(t, calls, store.calls)
	assert.True(t, mr.Exists("fx:rate:USD:EUR:2024-06-15"))
}

func TestCacheInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := NewCache(client, time.Hour)
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "USD", "EUR", day(2024, 1, 1), decimal.RequireFromString("0.9")))
	require.NoError(t, cache.Set(ctx, "USD", "EUR", day(2024, 1, 2), decimal.RequireFromString("0.91")))
	require.NoError(t, cache.Set(ctx, "EUR", "USD", day(2024, 1, 2), decimal.RequireFromString("1.1")))

	require.NoError(t, cache.Invalidate(ctx, "USD", "EUR"))
	_, ok, err := cache.Get(ctx, "USD", "EUR", day(2024, 1, 1))
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = cache.Get(ctx, "EUR", "USD", day(2024, 1, 2))
	require.NoError(t, err)
	assert.True(t, ok)
}
