package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/cache"
)

func newTestStore() (*SnapshotStore, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	s := NewSnapshotStore(cache.NewMemory(), "binance", 0)
	s.nowFn = func() time.Time { return now }
	return s, &now
}

func TestSnapshotMissingIsNotReady(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.Snapshot(context.Background(), "BTCUSDT", "1h", time.Minute)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSnapshotZeroATRIsNotReady(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	_, err := s.PutSnapshot(ctx, IndicatorSnapshot{Symbol: "BTCUSDT", Timeframe: "1h"})
	require.NoError(t, err)
	_, err = s.Snapshot(ctx, "BTCUSDT", "1h", time.Minute)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSnapshotVersionsAndStaleness(t *testing.T) {
	s, now := newTestStore()
	ctx := context.Background()

	first, err := s.PutSnapshot(ctx, IndicatorSnapshot{Symbol: "BTCUSDT", Timeframe: "1h", ATR: 10})
	require.NoError(t, err)
	second, err := s.PutSnapshot(ctx, IndicatorSnapshot{Symbol: "BTCUSDT", Timeframe: "1h", ATR: 12})
	require.NoError(t, err)
	assert.Equal(t, first.Version+1, second.Version)

	got, err := s.Snapshot(ctx, "BTCUSDT", "1h", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 12.0, got.ATR)
	assert.Equal(t, "binance", got.Exchange)

	*now = now.Add(2 * time.Minute)
	_, err = s.Snapshot(ctx, "BTCUSDT", "1h", time.Minute)
	assert.ErrorIs(t, err, ErrStale)

	_, err = s.Snapshot(ctx, "BTCUSDT", "1h", 0)
	assert.NoError(t, err, "maxAge 0 disables the staleness check")
}

func TestPriceMaxAge(t *testing.T) {
	s, now := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.PutPrice(ctx, "ETHUSDT", 3000.5))

	p, err := s.Price(ctx, "ETHUSDT", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3000.5, p)

	*now = now.Add(6 * time.Second)
	_, err = s.Price(ctx, "ETHUSDT", 5*time.Second)
	assert.ErrorIs(t, err, ErrStale)
}
