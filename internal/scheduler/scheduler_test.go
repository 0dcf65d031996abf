package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/market"
)

func TestParseIntervalDuration(t *testing.T) {
	d, ok := ParseIntervalDuration("15m")
	require.True(t, ok)
	assert.Equal(t, 15*time.Minute, d)
	d, ok = ParseIntervalDuration("1D")
	require.True(t, ok)
	assert.Equal(t, 24*time.Hour, d)
	_, ok = ParseIntervalDuration("0h")
	assert.False(t, ok)
	_, ok = ParseIntervalDuration("h")
	assert.False(t, ok)
}

func TestSplitLive(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	klines := []market.Candle{
		{OpenTime: start.UnixMilli()},
		{OpenTime: start.Add(time.Hour).UnixMilli()},
	}
	closed, live, ok := SplitLive(klines, time.Hour, start.Add(90*time.Minute))
	require.True(t, ok)
	assert.Len(t, closed, 1)
	assert.Equal(t, klines[1], live)

	closed, _, ok = SplitLive(klines, time.Hour, start.Add(2*time.Hour+time.Second))
	assert.False(t, ok)
	assert.Len(t, closed, 2)
}

func TestSplitLiveIgnoresEmptyAndUntimed(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	closed, _, ok := SplitLive(nil, time.Minute, now)
	assert.False(t, ok)
	assert.Empty(t, closed)

	closed, _, ok = SplitLive([]market.Candle{{Close: 1}}, time.Minute, now)
	assert.False(t, ok)
	assert.Len(t, closed, 1)
}

func TestSchedulerRunsUntilCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var n int32
	s := Every("test", 5*time.Millisecond)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context) error {
			if atomic.AddInt32(&n, 1) == 3 {
				cancel()
			}
			return errors.New("transient")
		})
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&n), int32(3))
}

func TestSchedulerStopsOnFatal(t *testing.T) {
	s := Every("fatal", time.Millisecond)
	boom := errors.New("repository unreachable")
	err := s.Run(context.Background(), func(context.Context) error { return Fatal(boom) })
	assert.ErrorIs(t, err, boom)
}

func TestSchedulerRecoversPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var n int32
	s := Every("panicky", time.Millisecond)
	err := s.Run(ctx, func(context.Context) error {
		if atomic.AddInt32(&n, 1) >= 2 {
			cancel()
			return nil
		}
		panic("bad symbol")
	})
	assert.NoError(t, err)
}

func TestAlignedNextWait(t *testing.T) {
	s := NewAlignedScheduler("aligned", time.Minute, 2*time.Second)
	now := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC)
	assert.Equal(t, 32*time.Second, s.nextWait(now))
}
