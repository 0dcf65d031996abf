package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"perpbot/internal/config"
	"perpbot/internal/pkg/circuit"
	"perpbot/internal/scheduler"
	"perpbot/internal/strategy"
)

const testVariants = `
variants:
  - bot_id: trend-btc
    rule_set: trend_band
    symbols: [BTCUSDT, ETHUSDT]
    timeframe: 15m
    trend_timeframe: 4h
    params:
      stop_loss_atr: 1.5
      take_profit_atr: 2
      order_size_usd: 50
  - bot_id: osc-eth
    rule_set: oscillator_band
    symbols: [eth/usdt]
    timeframe: 5m
    params:
      stop_loss_atr: 1
      take_profit_atr: 2
      order_size_usd: 20
`

func newTestRegistry(t *testing.T) *strategy.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testVariants), 0o644))
	reg, err := strategy.NewRegistry(path)
	require.NoError(t, err)
	return reg
}

func TestProvideScopeUnionsVariants(t *testing.T) {
	scope := provideScope(newTestRegistry(t))
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, scope.Symbols)
	assert.Equal(t, []string{"15m", "4h", "5m"}, scope.Timeframes)
}

func TestSpawnContainsFatalTask(t *testing.T) {
	a := &App{}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	group, gctx := errgroup.WithContext(ctx)

	var ticks atomic.Int32
	a.spawn(gctx, group, "fatal", func(context.Context) error {
		return scheduler.Fatal(errors.New("invariant broken"))
	})
	a.spawn(gctx, group, "steady", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(10 * time.Millisecond):
				ticks.Add(1)
			}
		}
	})

	require.NoError(t, group.Wait())
	assert.Greater(t, ticks.Load(), int32(5), "the healthy task keeps running after the fatal one stops")
}

func TestSpawnPropagatesPlainError(t *testing.T) {
	a := &App{}
	group, gctx := errgroup.WithContext(context.Background())
	a.spawn(gctx, group, "admin", func(context.Context) error {
		return errors.New("listen: address in use")
	})
	a.spawn(gctx, group, "waiter", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	err := group.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin")
}

func TestSlotWatchInterval(t *testing.T) {
	assert.Equal(t, 10*time.Second, slotWatchInterval(20*time.Second))
	assert.Equal(t, time.Second, slotWatchInterval(time.Second))
}

func TestStartupSummaryListsVariants(t *testing.T) {
	reg := newTestRegistry(t)
	cfg := &config.Config{}
	cfg.Exchange.Name = "binance"
	cfg.Exchange.Account = "main"
	cfg.Cache.Driver = "memory"
	cfg.Execution.BaseGapTicks = 5

	out := newStartupSummary(cfg, provideScope(reg), reg.Variants()).String()
	assert.Contains(t, out, "binance/main")
	assert.Contains(t, out, "> trend-btc rule=trend_band dir=both tf=15m trend=4h")
	assert.Contains(t, out, "> osc-eth rule=oscillator_band dir=both tf=5m trend=-")
	assert.Contains(t, out, "base gap: 5 ticks")
}

type recordingAlerter struct {
	titles chan string
}

func (r *recordingAlerter) Alert(_ context.Context, _ string, title string, _ ...string) {
	r.titles <- title
}

func TestBreakerAlertOnlyOnOpen(t *testing.T) {
	rec := &recordingAlerter{titles: make(chan string, 2)}
	handler := breakerAlert(rec)

	handler("gateway", circuit.StateOpen, circuit.StateHalfOpen)
	handler("gateway", circuit.StateClosed, circuit.StateOpen)

	require.Len(t, rec.titles, 1)
	assert.Equal(t, "gateway breaker open", <-rec.titles)
}
