// Package engine runs one strategy variant on its own timer: read state,
// evaluate, hand the intent to the execution coordinator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	"perpbot/internal/execution"
	"perpbot/internal/gateway/notifier"
	"perpbot/internal/logger"
	"perpbot/internal/market"
	"perpbot/internal/metrics"
	"perpbot/internal/pkg/circuit"
	"perpbot/internal/scheduler"
	"perpbot/internal/store"
	"perpbot/internal/strategy"
	"perpbot/internal/types"
)

// MarketData is the read side of the snapshot store.
type MarketData interface {
	Snapshot(ctx context.Context, symbol, timeframe string, maxAge time.Duration) (market.IndicatorSnapshot, error)
	Price(ctx context.Context, symbol string, maxAge time.Duration) (float64, error)
	SymbolInfo(ctx context.Context, symbol string) (market.SymbolInfo, error)
}

type Submitter interface {
	Submit(ctx context.Context, botID string, it strategy.Intent) error
	Gaps(ctx context.Context, botID, symbol string) (map[types.OrderKind]int64, error)
}

// VariantSource lets a running engine pick up reloaded thresholds.
type VariantSource interface {
	Version() int64
	Variant(botID string) (strategy.Variant, bool)
}

type Config struct {
	SnapshotMaxAge   time.Duration
	PriceMaxAge      time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

type Engine struct {
	cfg      Config
	variant  strategy.Variant
	eval     strategy.Evaluator
	variants VariantSource
	version  int64

	data    MarketData
	repo    store.OrderRepository
	exec    Submitter
	alerter notifier.Alerter
	metrics *metrics.Recorder
	breaker *circuit.CircuitBreaker
	nowFn   func() time.Time
}

func New(cfg Config, v strategy.Variant, variants VariantSource, data MarketData, repo store.OrderRepository,
	exec Submitter, alerter notifier.Alerter, m *metrics.Recorder) (*Engine, error) {
	ev, err := strategy.New(v)
	if err != nil {
		return nil, err
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 3
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Minute
	}
	e := &Engine{
		cfg:      cfg,
		variant:  v,
		eval:     ev,
		variants: variants,
		data:     data,
		repo:     repo,
		exec:     exec,
		alerter:  alerter,
		metrics:  m,
		breaker:  circuit.NewCircuitBreaker("repository:"+v.BotID, cfg.BreakerThreshold, cfg.BreakerCooldown),
		nowFn:    time.Now,
	}
	if variants != nil {
		e.version = variants.Version()
	}
	return e, nil
}

func (e *Engine) BotID() string { return e.variant.BotID }

func (e *Engine) Interval() time.Duration {
	return time.Duration(e.variant.IntervalSeconds) * time.Second
}

// Run evaluates on the variant's interval until ctx is done or the
// repository stays unreachable.
func (e *Engine) Run(ctx context.Context) error {
	logger.Infof("[engine] %s started rule=%s symbols=%v every %s", e.BotID(), e.variant.RuleSet, e.variant.Symbols, e.Interval())
	return scheduler.Every("engine:"+e.BotID(), e.Interval()).Run(ctx, e.RunOnce)
}

// RunOnce re-reads the repository and evaluates every symbol once.
func (e *Engine) RunOnce(ctx context.Context) error {
	e.refreshVariant()
	orders, err := e.repo.OpenOrders(ctx, e.BotID())
	if err != nil {
		if e.breaker.RecordFailure() {
			e.alert(ctx, "order repository unreachable", "bot="+e.BotID(), "err="+err.Error())
			return scheduler.Fatal(fmt.Errorf("engine %s: repository: %w", e.BotID(), err))
		}
		return fmt.Errorf("engine %s: open orders: %w", e.BotID(), err)
	}
	e.breaker.RecordSuccess()
	for _, sym := range e.variant.Symbols {
		if ctx.Err() != nil {
			return nil
		}
		e.evaluateSymbol(ctx, sym, orders)
	}
	return nil
}

func (e *Engine) evaluateSymbol(ctx context.Context, sym string, orders []types.Order) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[engine] %s %s panic: %v\n%s", e.BotID(), sym, r, debug.Stack())
		}
	}()
	in, ok := e.input(ctx, sym, orders)
	if !ok {
		return
	}
	it := e.eval.Evaluate(in)
	if it.IsNone() {
		return
	}
	logger.Debugf("[engine] %s %s", e.BotID(), it)
	err := e.exec.Submit(ctx, e.BotID(), it)
	switch {
	case err == nil:
	case errors.Is(err, execution.ErrSlotBusy):
		logger.Debugf("[engine] %s %s slot busy, retry next cycle", e.BotID(), sym)
	case errors.Is(err, execution.ErrGuardRejected):
		logger.Infof("[engine] %s %s %v", e.BotID(), sym, err)
	default:
		logger.Warnf("[engine] %s %s submit %s: %v", e.BotID(), sym, it.Kind, err)
	}
}

// input gathers the evaluator's inputs. Missing or stale data skips the
// symbol for this cycle.
func (e *Engine) input(ctx context.Context, sym string, orders []types.Order) (strategy.Input, bool) {
	snaps := make(map[string]market.IndicatorSnapshot, 2)
	for _, tf := range e.variant.Timeframes() {
		snap, err := e.data.Snapshot(ctx, sym, tf, e.cfg.SnapshotMaxAge)
		if err != nil {
			logger.Debugf("[engine] %s %s/%s skipped: %v", e.BotID(), sym, tf, err)
			return strategy.Input{}, false
		}
		snaps[tf] = snap
	}
	mark, err := e.data.Price(ctx, sym, e.cfg.PriceMaxAge)
	if err != nil {
		logger.Debugf("[engine] %s %s price skipped: %v", e.BotID(), sym, err)
		return strategy.Input{}, false
	}
	info, err := e.data.SymbolInfo(ctx, sym)
	if err != nil {
		logger.Debugf("[engine] %s %s symbol info skipped: %v", e.BotID(), sym, err)
		return strategy.Input{}, false
	}
	gaps, err := e.exec.Gaps(ctx, e.BotID(), sym)
	if err != nil {
		logger.Warnf("[engine] %s %s gaps: %v", e.BotID(), sym, err)
		return strategy.Input{}, false
	}
	return strategy.Input{
		Symbol:     sym,
		Snapshots:  snaps,
		Info:       info,
		MarkPrice:  mark,
		OpenOrders: orders,
		Gaps:       gaps,
		Now:        e.nowFn(),
	}, true
}

// refreshVariant swaps in reloaded thresholds. Symbol and timeframe changes
// need a restart because the pipeline and stream keys are fixed.
func (e *Engine) refreshVariant() {
	if e.variants == nil {
		return
	}
	ver := e.variants.Version()
	if ver == e.version {
		return
	}
	e.version = ver
	v, ok := e.variants.Variant(e.BotID())
	if !ok {
		logger.Warnf("[engine] %s removed from strategies file; keeps running until restart", e.BotID())
		return
	}
	if !slices.Equal(v.Symbols, e.variant.Symbols) || !slices.Equal(v.Timeframes(), e.variant.Timeframes()) ||
		v.IntervalSeconds != e.variant.IntervalSeconds {
		logger.Warnf("[engine] %s symbol/timeframe/interval change ignored until restart", e.BotID())
		v.Symbols, v.Timeframe, v.TrendTimeframe, v.IntervalSeconds =
			e.variant.Symbols, e.variant.Timeframe, e.variant.TrendTimeframe, e.variant.IntervalSeconds
	}
	ev, err := strategy.New(v)
	if err != nil {
		logger.Errorf("[engine] %s reload rejected: %v", e.BotID(), err)
		return
	}
	e.variant, e.eval = v, ev
	logger.Infof("[engine] %s thresholds reloaded (version %d)", e.BotID(), ver)
}

func (e *Engine) alert(ctx context.Context, title string, lines ...string) {
	if e.alerter == nil {
		return
	}
	e.alerter.Alert(ctx, "engine", title, lines...)
}
