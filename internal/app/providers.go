package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/markcheno/go-talib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"perpbot/internal/cache"
	"perpbot/internal/config"
	"perpbot/internal/engine"
	"perpbot/internal/execution"
	"perpbot/internal/gateway"
	"perpbot/internal/gateway/binance"
	"perpbot/internal/gateway/notifier"
	"perpbot/internal/logger"
	"perpbot/internal/market"
	"perpbot/internal/metrics"
	"perpbot/internal/pipeline"
	"perpbot/internal/pkg/circuit"
	"perpbot/internal/store"
	"perpbot/internal/store/gormstore"
	"perpbot/internal/strategy"
	"perpbot/internal/transport/http/admin"
)

// Scope is the union of symbols and timeframes the configured variants read.
type Scope struct {
	Symbols    []string
	Timeframes []string
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) *metrics.Recorder {
	return metrics.New(reg)
}

func provideCache(cfg *config.Config) (cache.Store, func(), error) {
	c, err := cache.New(cache.Options{
		Driver:   cfg.Cache.Driver,
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		Prefix:   cfg.Cache.Prefix,
	})
	if err != nil {
		return nil, nil, err
	}
	return c, func() {
		if err := c.Close(); err != nil {
			logger.Warnf("[app] cache close: %v", err)
		}
	}, nil
}

func provideOrderStore(cfg *config.Config) (store.OrderRepository, func(), error) {
	repo, err := gormstore.NewGormStore(cfg.Store.OrderDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open order store: %w", err)
	}
	return repo, func() {
		if err := repo.Close(); err != nil {
			logger.Warnf("[app] order store close: %v", err)
		}
	}, nil
}

func provideSource(cfg *config.Config) (market.Source, func(), error) {
	src, err := gateway.NewSourceFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	return src, func() { _ = src.Close() }, nil
}

func provideGateway(cfg *config.Config) (*binance.Client, error) {
	return gateway.NewGatewayFromConfig(cfg)
}

func provideAlerter(cfg *config.Config, m *metrics.Recorder) notifier.Alerter {
	var text notifier.TextNotifier = notifier.LogNotifier{}
	if tg := cfg.Notify.Telegram; tg.Enabled {
		text = notifier.NewTelegram(tg.BotToken, tg.ChatID)
	}
	return notifier.NewAlertSink(text, m)
}

func provideVariants(cfg *config.Config) (*strategy.Registry, error) {
	reg, err := strategy.NewRegistry(cfg.StrategiesPath)
	if err != nil {
		return nil, fmt.Errorf("load strategies: %w", err)
	}
	if len(reg.Variants()) == 0 {
		return nil, fmt.Errorf("no strategy variants in %s", cfg.StrategiesPath)
	}
	return reg, nil
}

func provideScope(variants *strategy.Registry) Scope {
	symbols := make(map[string]struct{})
	timeframes := make(map[string]struct{})
	for _, v := range variants.Variants() {
		for _, s := range v.Symbols {
			symbols[s] = struct{}{}
		}
		for _, tf := range v.Timeframes() {
			if !config.IsValidInterval(tf) {
				logger.Warnf("[app] %s: skip unsupported timeframe %q", v.BotID, tf)
				continue
			}
			timeframes[tf] = struct{}{}
		}
	}
	return Scope{Symbols: sortedKeys(symbols), Timeframes: sortedKeys(timeframes)}
}

func provideKlineStore() market.KlineStore {
	return store.NewMemoryKlineStore()
}

func provideSnapshotStore(cfg *config.Config, c cache.Store) *market.SnapshotStore {
	return market.NewSnapshotStore(c, cfg.Exchange.Name, seconds(cfg.Market.SnapshotTTLSeconds))
}

func provideCoordinator(cfg *config.Config, repo store.OrderRepository, gw *binance.Client, c cache.Store,
	snapshots *market.SnapshotStore, alerter notifier.Alerter, m *metrics.Recorder) *execution.Coordinator {
	ex := cfg.Execution
	slot := execution.NewSlot(c, cfg.Exchange.Name, cfg.Exchange.Account, ex.SlotTTL(), ex.SlotStale(), alerter)
	ledger := execution.NewLedger(c, cfg.Exchange.Name, ex.BaseGapTicks, m)
	breaker := circuit.NewCircuitBreaker("gateway", ex.BreakerThreshold, ex.BreakerCooldown())
	breaker.SetStateChangeHandler(breakerAlert(alerter))
	return execution.NewCoordinator(execution.Config{
		Exchange:       cfg.Exchange.Name,
		HedgeMode:      cfg.Exchange.HedgeMode,
		GatewayTimeout: ex.GatewayTimeout(),
		TimeSecCancel:  ex.CancelAfter(),
		OrphanAfter:    ex.OrphanAfter(),
		CloseAllWait:   ex.CloseAllWait(),
		TakerFee:       ex.TakerFee,

		RepoBreakerThreshold: ex.BreakerThreshold,
		RepoBreakerCooldown:  ex.BreakerCooldown(),
	}, repo, gw, slot, ledger, snapshots, alerter, m, breaker)
}

func providePipeline(cfg *config.Config, scope Scope, klines market.KlineStore, src market.Source,
	snapshots *market.SnapshotStore, alerter notifier.Alerter, m *metrics.Recorder) (*pipeline.Pipeline, error) {
	ic := cfg.Indicator
	settings := pipeline.Settings{
		Window:     ic.Window,
		Period:     ic.Period,
		MAType:     talib.MaType(ic.MAType),
		SlopeLag:   ic.SlopeLag,
		MACDFast:   ic.MACDFast,
		MACDSlow:   ic.MACDSlow,
		MACDSignal: ic.MACDSignal,
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("indicator settings: %w", err)
	}
	window := pipeline.NewKlineWindow(klines, src, cfg.Market.KlineMaxCached)
	return pipeline.New(pipeline.Config{
		Symbols:       scope.Symbols,
		Timeframes:    scope.Timeframes,
		Settings:      settings,
		Concurrency:   ic.Concurrency,
		ZeroATRCycles: ic.ZeroATRAlertCycles,
	}, window, snapshots, alerter, m), nil
}

func provideEngines(cfg *config.Config, variants *strategy.Registry, snapshots *market.SnapshotStore,
	repo store.OrderRepository, coord *execution.Coordinator, alerter notifier.Alerter, m *metrics.Recorder) ([]*engine.Engine, error) {
	ex := cfg.Execution
	ecfg := engine.Config{
		SnapshotMaxAge:   ex.SnapshotMaxAge(),
		PriceMaxAge:      ex.PriceMaxAge(),
		BreakerThreshold: ex.BreakerThreshold,
		BreakerCooldown:  ex.BreakerCooldown(),
	}
	var out []*engine.Engine
	for _, v := range variants.Variants() {
		e, err := engine.New(ecfg, v, variants, snapshots, repo, coord, alerter, m)
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", v.BotID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func provideAdmin(cfg *config.Config, repo store.OrderRepository, coord *execution.Coordinator, reg *prometheus.Registry) (*admin.Server, error) {
	return admin.NewServer(admin.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Token:    cfg.App.AdminToken,
		Orders:   repo,
		Operator: coord,
		Gatherer: reg,
	})
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// startup runs the one-shot steps that must succeed or finish before the
// tasks start.
type startup struct {
	gw      *binance.Client
	preheat *market.Preheater
	window  int
}

func (s startup) run(ctx context.Context, scope Scope) error {
	if _, err := s.gw.SyncTime(ctx); err != nil {
		return err
	}
	s.preheat.Warmup(ctx, scope.Symbols, scope.Timeframes, s.window+1)
	return nil
}

func provideUpdater(cfg *config.Config, klines market.KlineStore, src market.Source, m *metrics.Recorder) *market.WSUpdater {
	return market.NewWSUpdater(klines, cfg.Market.KlineMaxCached, src,
		market.WithWSCallbacks(
			func() { logger.Infof("[app] kline stream connected") },
			func(err error) { logger.Warnf("[app] kline stream disconnected: %v", err) },
		),
		market.WithWSEventHandler(func(evt market.CandleEvent) { m.KlineEvent(evt.Interval) }),
	)
}

func provideQuotes(src market.Source, snapshots *market.SnapshotStore, scope Scope) *market.QuoteRefresher {
	return market.NewQuoteRefresher(src, snapshots, scope.Symbols)
}

func provideStartup(cfg *config.Config, gw *binance.Client, klines market.KlineStore, src market.Source) startup {
	return startup{
		gw:      gw,
		preheat: market.NewPreheater(klines, src, cfg.Market.KlineMaxCached),
		window:  cfg.Indicator.Window,
	}
}

// breakerAlert pages the operator when the gateway breaker opens and logs the
// other transitions.
func breakerAlert(alerter notifier.Alerter) func(name string, from, to circuit.State) {
	return func(name string, from, to circuit.State) {
		logger.Warnf("[breaker] %s %s -> %s", name, from, to)
		if to != circuit.StateOpen {
			return
		}
		alerter.Alert(context.Background(), "breaker", "gateway breaker open",
			fmt.Sprintf("breaker: %s", name),
			"orders are held until the cooldown probe succeeds")
	}
}
