package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"perpbot/internal/config"
	"perpbot/internal/engine"
	"perpbot/internal/execution"
	"perpbot/internal/logger"
	"perpbot/internal/market"
	"perpbot/internal/pipeline"
	"perpbot/internal/scheduler"
	"perpbot/internal/strategy"
	"perpbot/internal/transport/http/admin"
)

// App owns every long-running task of the trading core.
type App struct {
	cfg      *config.Config
	scope    Scope
	startup  startup
	variants *strategy.Registry
	updater  *market.WSUpdater
	quotes   *market.QuoteRefresher
	pipeline *pipeline.Pipeline
	engines  []*engine.Engine
	coord    *execution.Coordinator
	admin    *admin.Server
	Summary  *StartupSummary
}

func newApp(cfg *config.Config, scope Scope, st startup, variants *strategy.Registry, updater *market.WSUpdater,
	quotes *market.QuoteRefresher, pipe *pipeline.Pipeline, engines []*engine.Engine,
	coord *execution.Coordinator, adminSrv *admin.Server) *App {
	a := &App{
		cfg:      cfg,
		scope:    scope,
		startup:  st,
		variants: variants,
		updater:  updater,
		quotes:   quotes,
		pipeline: pipe,
		engines:  engines,
		coord:    coord,
		admin:    adminSrv,
	}
	a.Summary = newStartupSummary(cfg, scope, variants.Variants())
	variants.OnChange(a.onVariantsChanged)
	return a
}

// NewApp builds the application without starting it. The returned cleanup
// closes stores and the market source.
func NewApp(cfg *config.Config) (*App, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildApp(cfg)
}

// Run performs startup and then supervises every task until ctx is done. A
// task that stops on an invariant violation does not stop the others.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	if err := a.startup.run(ctx, a.scope); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)
	ex := a.cfg.Execution

	a.spawn(ctx, group, "admin", a.admin.Start)
	a.spawn(ctx, group, "kline-stream", func(ctx context.Context) error {
		return a.updater.Run(ctx, a.scope.Symbols, a.scope.Timeframes)
	})
	a.spawn(ctx, group, "quotes", func(ctx context.Context) error {
		return scheduler.Every("quotes", seconds(a.cfg.Market.QuoteIntervalSeconds)).Run(ctx, func(ctx context.Context) error {
			a.quotes.RunOnce(ctx)
			return nil
		})
	})
	a.spawn(ctx, group, "pipeline", func(ctx context.Context) error {
		sched := scheduler.NewAlignedScheduler("pipeline", seconds(a.cfg.Indicator.IntervalSeconds), 0)
		sched.RunImmediately = true
		return sched.Run(ctx, a.pipeline.RunOnce)
	})
	for _, e := range a.engines {
		a.spawn(ctx, group, "engine:"+e.BotID(), e.Run)
	}
	a.spawn(ctx, group, "dispatcher", a.coord.Dispatcher().Run)
	a.spawn(ctx, group, "timeout-sweep", func(ctx context.Context) error {
		return scheduler.Every("timeout-sweep", ex.TimeoutSweep()).Run(ctx, a.coord.TimeoutSweep)
	})
	a.spawn(ctx, group, "orphan-sweep", func(ctx context.Context) error {
		return scheduler.Every("orphan-sweep", ex.OrphanSweep()).Run(ctx, a.coord.OrphanSweep)
	})
	a.spawn(ctx, group, "slot-watch", func(ctx context.Context) error {
		return scheduler.Every("slot-watch", slotWatchInterval(ex.SlotStale())).Run(ctx, a.coord.Slot().CheckStale)
	})
	a.spawn(ctx, group, "strategy-watch", a.variants.Watch)

	return group.Wait()
}

// spawn runs task in the group. A fatal task error is logged and contained;
// any other error stops the whole process.
func (a *App) spawn(ctx context.Context, group *errgroup.Group, name string, task func(context.Context) error) {
	group.Go(func() error {
		err := task(ctx)
		var fatal *scheduler.FatalError
		switch {
		case err == nil:
			logger.Infof("[app] task %s exited", name)
			return nil
		case errors.As(err, &fatal):
			logger.Errorf("[app] task %s stopped: %v", name, err)
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("%s: %w", name, err)
		}
	})
}

func (a *App) onVariantsChanged(snap strategy.Snapshot) {
	running := make(map[string]bool, len(a.engines))
	for _, e := range a.engines {
		running[e.BotID()] = true
		if _, ok := snap.Variants[e.BotID()]; !ok {
			logger.Warnf("[app] variant %s removed from file; its engine keeps the last thresholds until restart", e.BotID())
		}
	}
	for id := range snap.Variants {
		if !running[id] {
			logger.Warnf("[app] variant %s added; restart to start its engine", id)
		}
	}
}

func slotWatchInterval(stale time.Duration) time.Duration {
	if d := stale / 2; d >= time.Second {
		return d
	}
	return time.Second
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
