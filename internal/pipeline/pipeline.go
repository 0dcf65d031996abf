package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"perpbot/internal/gateway/notifier"
	"perpbot/internal/logger"
	"perpbot/internal/market"
	"perpbot/internal/metrics"
)

const defaultConcurrency = 4

type Config struct {
	Symbols       []string
	Timeframes    []string
	Settings      Settings
	Concurrency   int
	ZeroATRCycles int
}

// Pipeline publishes one snapshot per (symbol, timeframe) per cycle. It never
// fails as a whole: bad keys are skipped and counted.
type Pipeline struct {
	cfg     Config
	source  WindowSource
	store   *market.SnapshotStore
	alerter notifier.Alerter
	metrics *metrics.Recorder
	nowFn   func() time.Time

	mu         sync.Mutex
	zeroStreak map[string]int
}

func New(cfg Config, src WindowSource, store *market.SnapshotStore, alerter notifier.Alerter, m *metrics.Recorder) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Pipeline{
		cfg:        cfg,
		source:     src,
		store:      store,
		alerter:    alerter,
		metrics:    m,
		nowFn:      time.Now,
		zeroStreak: make(map[string]int),
	}
}

type keyResult struct {
	key    string
	result string
	err    error
}

// RunOnce computes and publishes every key. The returned error is always nil;
// the signature fits scheduler.Task.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(p.cfg.Concurrency)
	results := make(chan keyResult, len(p.cfg.Symbols)*len(p.cfg.Timeframes))
	for _, sym := range p.cfg.Symbols {
		for _, tf := range p.cfg.Timeframes {
			sym, tf := sym, tf
			group.Go(func() error {
				results <- p.runKey(gctx, sym, tf)
				return nil
			})
		}
	}
	_ = group.Wait()
	close(results)

	counts := make(map[string]int)
	for r := range results {
		counts[r.result]++
		if r.err != nil {
			logger.Debugf("[pipeline] %s skipped (%s): %v", r.key, r.result, r.err)
		}
	}
	logger.Debugf("[pipeline] cycle done %v", counts)
	return nil
}

func (p *Pipeline) runKey(ctx context.Context, symbol, timeframe string) (res keyResult) {
	res.key = symbol + "@" + timeframe
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[pipeline] %s panic: %v\n%s", res.key, r, debug.Stack())
			res.result = "panic"
			res.err = fmt.Errorf("panic: %v", r)
		}
		p.metrics.Snapshot(timeframe, res.result)
	}()

	closed, live, err := p.source.Window(ctx, symbol, timeframe, p.cfg.Settings.Window)
	if err != nil {
		res.result, res.err = "source", err
		return res
	}
	snap, err := BuildSnapshot(closed, live, p.cfg.Settings)
	switch {
	case errors.Is(err, ErrWindowSize):
		res.result, res.err = "window", err
		return res
	case errors.Is(err, ErrNoLiveCandle):
		res.result, res.err = "no_live", err
		return res
	case err != nil:
		res.result, res.err = "error", err
		return res
	}
	snap.Symbol = symbol
	snap.Timeframe = timeframe
	snap.ComputedAt = p.nowFn()
	p.trackZeroATR(ctx, res.key, snap.ATR)

	if _, err := p.store.PutSnapshot(ctx, snap); err != nil {
		res.result, res.err = "publish", err
		logger.Warnf("[pipeline] %s publish failed: %v", res.key, err)
		return res
	}
	res.result = "published"
	return res
}

// trackZeroATR alerts once when a key reports zero ATR for ZeroATRCycles
// consecutive cycles; the streak resets on the first positive ATR.
func (p *Pipeline) trackZeroATR(ctx context.Context, key string, atr float64) {
	if p.cfg.ZeroATRCycles <= 0 {
		return
	}
	p.mu.Lock()
	if atr > 0 {
		delete(p.zeroStreak, key)
		p.mu.Unlock()
		return
	}
	p.zeroStreak[key]++
	streak := p.zeroStreak[key]
	p.mu.Unlock()

	if streak == p.cfg.ZeroATRCycles && p.alerter != nil {
		p.alerter.Alert(ctx, "pipeline", "ATR persistently zero",
			fmt.Sprintf("key=%s", key),
			fmt.Sprintf("cycles=%d", streak))
	}
}
