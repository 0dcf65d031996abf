package pipeline

import (
	"context"
	"fmt"
	"time"

	"perpbot/internal/logger"
	"perpbot/internal/market"
	"perpbot/internal/scheduler"
)

// WindowSource yields the last n closed candles and the live candle.
type WindowSource interface {
	Window(ctx context.Context, symbol, timeframe string, n int) ([]market.Candle, market.Candle, error)
}

// KlineWindow reads the streamed kline store and backfills over REST when
// the store holds fewer than n closed candles.
type KlineWindow struct {
	store  market.KlineStore
	source market.Source
	max    int
	nowFn  func() time.Time
}

func NewKlineWindow(store market.KlineStore, src market.Source, max int) *KlineWindow {
	return &KlineWindow{store: store, source: src, max: max, nowFn: time.Now}
}

func (w *KlineWindow) Window(ctx context.Context, symbol, timeframe string, n int) ([]market.Candle, market.Candle, error) {
	interval, ok := scheduler.ParseIntervalDuration(timeframe)
	if !ok {
		return nil, market.Candle{}, fmt.Errorf("invalid timeframe %q", timeframe)
	}
	klines, err := w.store.Get(ctx, symbol, timeframe)
	if err != nil {
		return nil, market.Candle{}, err
	}
	closed, live, _ := scheduler.SplitLive(klines, interval, w.nowFn())
	if len(closed) < n && w.source != nil {
		batch, err := w.source.FetchHistory(ctx, symbol, timeframe, n+1)
		if err != nil {
			return nil, market.Candle{}, fmt.Errorf("backfill %s %s: %w", symbol, timeframe, err)
		}
		if len(batch) > len(klines) {
			if err := w.store.Set(ctx, symbol, timeframe, batch); err != nil {
				logger.Warnf("[pipeline] backfill store %s %s failed: %v", symbol, timeframe, err)
			}
			klines = batch
		}
		closed, live, _ = scheduler.SplitLive(klines, interval, w.nowFn())
	}
	if len(closed) > n {
		closed = closed[len(closed)-n:]
	}
	return closed, live, nil
}
