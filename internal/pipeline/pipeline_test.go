package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"perpbot/internal/cache"
	"perpbot/internal/gateway/notifier"
	"perpbot/internal/market"
	"perpbot/internal/store"
)

func flatCandles(n int, high, low, close float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{OpenTime: int64(i+1) * 60_000, Open: close, High: high, Low: low, Close: close}
	}
	return out
}

func TestBuildSnapshotATRFromBands(t *testing.T) {
	closed := flatCandles(20, 105, 95, 100)
	live := market.Candle{OpenTime: 21 * 60_000, Open: 100, High: 105, Low: 95, Close: 100}
	snap, err := BuildSnapshot(closed, live, Settings{Window: 20, Period: 20, MAType: talib.SMA, SlopeLag: 2})
	require.NoError(t, err)
	assert.InDelta(t, 105, snap.HighMA, 1e-9)
	assert.InDelta(t, 95, snap.LowMA, 1e-9)
	assert.InDelta(t, 10, snap.ATR, 1e-9)
	assert.True(t, snap.Ready())
	assert.Equal(t, live.OpenTime, snap.Bars[0].OpenTime, "live candle replaces the last closed one")
	assert.Equal(t, closed[18].OpenTime, snap.Bars[1].OpenTime)
}

func TestBuildSnapshotSlope(t *testing.T) {
	closed := flatCandles(5, 105, 95, 100)
	closed[2].Close = 100
	closed[3].Close = 101
	live := market.Candle{OpenTime: 6 * 60_000, Open: 101, High: 108, Low: 98, Close: 103}
	snap, err := BuildSnapshot(closed, live, Settings{Window: 5, Period: 1, MAType: talib.SMA, SlopeLag: 2})
	require.NoError(t, err)
	assert.InDelta(t, 10, snap.ATR, 1e-9)
	assert.InDelta(t, 0.3, snap.Slope.Close, 1e-9)
	assert.InDelta(t, 0.1, snap.PrevSlopeClose, 1e-9)
}

func TestBuildSnapshotRejectsBadInput(t *testing.T) {
	s := Settings{Window: 20, Period: 20, MAType: talib.SMA, SlopeLag: 2}
	live := market.Candle{Open: 100, High: 105, Low: 95, Close: 100}

	_, err := BuildSnapshot(flatCandles(19, 105, 95, 100), live, s)
	assert.ErrorIs(t, err, ErrWindowSize)

	_, err = BuildSnapshot(flatCandles(20, 105, 95, 100), market.Candle{}, s)
	assert.ErrorIs(t, err, ErrNoLiveCandle)
}

func TestOscStateTurns(t *testing.T) {
	up := oscState([]float64{-1, -2, -1.5})
	assert.True(t, up.TurnUp)
	assert.True(t, up.Rising)
	assert.False(t, up.PrevRising)
	assert.Equal(t, market.OscTurnUp, up.Tag)

	down := oscState([]float64{1, 2, 1.5})
	assert.True(t, down.TurnDown)
	assert.Equal(t, market.OscTurnDown, down.Tag)

	rising := oscState([]float64{1, 2, 3})
	assert.Equal(t, market.OscRising, rising.Tag)
	assert.False(t, rising.TurnUp)
}

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, Settings{Window: 60, Period: 20, SlopeLag: 2, MACDFast: 12, MACDSlow: 26, MACDSignal: 9}.Validate())
	assert.Error(t, Settings{Window: 20, Period: 20, SlopeLag: 2}.Validate())
	assert.Error(t, Settings{Window: 30, Period: 20, SlopeLag: 2, MACDFast: 12, MACDSlow: 26, MACDSignal: 9}.Validate())
}

type fakeWindow struct {
	closed []market.Candle
	live   market.Candle
	err    error
}

func (f *fakeWindow) Window(context.Context, string, string, int) ([]market.Candle, market.Candle, error) {
	return f.closed, f.live, f.err
}

type mockAlerter struct {
	mock.Mock
}

func (m *mockAlerter) Alert(ctx context.Context, source, title string, lines ...string) {
	m.Called(source, title)
}

func newPipeline(src WindowSource, alerter *mockAlerter, zeroCycles int) (*Pipeline, *market.SnapshotStore) {
	snaps := market.NewSnapshotStore(cache.NewMemory(), "binance", 0)
	var a notifier.Alerter
	if alerter != nil {
		a = alerter
	}
	p := New(Config{
		Symbols:       []string{"BTCUSDT"},
		Timeframes:    []string{"1h"},
		Settings:      Settings{Window: 20, Period: 20, MAType: talib.SMA, SlopeLag: 2},
		ZeroATRCycles: zeroCycles,
	}, src, snaps, a, nil)
	return p, snaps
}

func TestRunOnceSkipsWrongWindow(t *testing.T) {
	ctx := context.Background()
	src := &fakeWindow{closed: flatCandles(19, 105, 95, 100), live: market.Candle{Open: 100, High: 105, Low: 95, Close: 100}}
	p, snaps := newPipeline(src, nil, 0)

	require.NoError(t, p.RunOnce(ctx))
	require.NoError(t, p.RunOnce(ctx))
	_, err := snaps.Snapshot(ctx, "BTCUSDT", "1h", 0)
	assert.ErrorIs(t, err, market.ErrNotReady)
}

func TestRunOncePublishes(t *testing.T) {
	ctx := context.Background()
	src := &fakeWindow{closed: flatCandles(20, 105, 95, 100), live: market.Candle{OpenTime: 1, Open: 100, High: 105, Low: 95, Close: 100}}
	p, snaps := newPipeline(src, nil, 0)

	require.NoError(t, p.RunOnce(ctx))
	snap, err := snaps.Snapshot(ctx, "BTCUSDT", "1h", time.Minute)
	require.NoError(t, err)
	assert.InDelta(t, 10, snap.ATR, 1e-9)
	assert.Equal(t, "1h", snap.Timeframe)
	assert.Equal(t, int64(1), snap.Version)
}

func TestRunOnceSourceErrorIsSwallowed(t *testing.T) {
	p, _ := newPipeline(&fakeWindow{err: errors.New("store down")}, nil, 0)
	assert.NoError(t, p.RunOnce(context.Background()))
}

func TestZeroATRAlertsOncePerStreak(t *testing.T) {
	ctx := context.Background()
	src := &fakeWindow{closed: flatCandles(20, 100, 100, 100), live: market.Candle{Open: 100, High: 100, Low: 100, Close: 100}}
	alerter := &mockAlerter{}
	alerter.On("Alert", "pipeline", "ATR persistently zero").Return().Once()
	p, snaps := newPipeline(src, alerter, 2)

	for i := 0; i < 4; i++ {
		require.NoError(t, p.RunOnce(ctx))
	}
	alerter.AssertExpectations(t)

	_, err := snaps.Snapshot(ctx, "BTCUSDT", "1h", 0)
	assert.ErrorIs(t, err, market.ErrNotReady, "zero-ATR snapshots are not decision-ready")
}

type historySource struct {
	market.Source
	batch []market.Candle
	calls int
}

func (h *historySource) FetchHistory(context.Context, string, string, int) ([]market.Candle, error) {
	h.calls++
	return h.batch, nil
}

func TestKlineWindowBackfills(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)
	batch := make([]market.Candle, 6)
	for i := range batch {
		open := now.Truncate(time.Hour).Add(time.Duration(i-5) * time.Hour)
		batch[i] = market.Candle{OpenTime: open.UnixMilli(), Open: float64(100 + i)}
	}
	src := &historySource{batch: batch}
	klines := store.NewMemoryKlineStore()
	w := NewKlineWindow(klines, src, 100)
	w.nowFn = func() time.Time { return now }

	closed, live, err := w.Window(ctx, "BTCUSDT", "1h", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.Len(t, closed, 5)
	assert.Equal(t, 105.0, live.Open)

	cached, _ := klines.Get(ctx, "BTCUSDT", "1h")
	assert.Len(t, cached, 6)

	_, _, err = w.Window(ctx, "BTCUSDT", "1h", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "second read is served from the store")
}
