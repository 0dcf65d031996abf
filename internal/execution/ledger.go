package execution

import (
	"context"
	"fmt"
	"strings"

	"perpbot/internal/cache"
	"perpbot/internal/metrics"
	"perpbot/internal/types"
)

// gapStepTicks is how far each recorded failure widens the gap.
const gapStepTicks = 10

// Ledger counts price-drift failures per (bot, symbol, kind). Counters only
// grow until Reset.
type Ledger struct {
	cache    cache.Cache
	exchange string
	base     int64
	metrics  *metrics.Recorder
}

func NewLedger(c cache.Cache, exchange string, baseTicks int64, m *metrics.Recorder) *Ledger {
	if baseTicks < 0 {
		baseTicks = 0
	}
	return &Ledger{cache: c, exchange: strings.ToLower(exchange), base: baseTicks, metrics: m}
}

func (l *Ledger) key(botID, symbol string, kind types.OrderKind) string {
	return fmt.Sprintf("gap:%s:%s:%s:%s", l.exchange, botID, strings.ToLower(symbol), strings.ToLower(string(kind)))
}

// EffectiveGap is base + count × 10.
func EffectiveGap(base, count int64) int64 {
	if count < 0 {
		count = 0
	}
	return base + count*gapStepTicks
}

func (l *Ledger) Count(ctx context.Context, botID, symbol string, kind types.OrderKind) (int64, error) {
	return l.cache.Int(ctx, l.key(botID, symbol, kind))
}

func (l *Ledger) Gap(ctx context.Context, botID, symbol string, kind types.OrderKind) (int64, error) {
	n, err := l.Count(ctx, botID, symbol, kind)
	if err != nil {
		return 0, err
	}
	return EffectiveGap(l.base, n), nil
}

// Gaps returns the gap of every kind for one symbol.
func (l *Ledger) Gaps(ctx context.Context, botID, symbol string) (map[types.OrderKind]int64, error) {
	out := make(map[types.OrderKind]int64, len(types.AllKinds))
	for _, k := range types.AllKinds {
		g, err := l.Gap(ctx, botID, symbol, k)
		if err != nil {
			return nil, err
		}
		out[k] = g
	}
	return out, nil
}

// Increment records one price-drift failure and returns the new count.
func (l *Ledger) Increment(ctx context.Context, botID, symbol string, kind types.OrderKind) (int64, error) {
	n, err := l.cache.Incr(ctx, l.key(botID, symbol, kind))
	if err != nil {
		return 0, err
	}
	l.metrics.Gap(botID, symbol, string(kind), EffectiveGap(l.base, n))
	return n, nil
}

func (l *Ledger) Reset(ctx context.Context, botID, symbol string, kind types.OrderKind) error {
	if err := l.cache.Delete(ctx, l.key(botID, symbol, kind)); err != nil {
		return err
	}
	l.metrics.Gap(botID, symbol, string(kind), l.base)
	return nil
}
