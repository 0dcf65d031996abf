package market

import (
	"context"
	"time"

	"perpbot/internal/logger"
)

const maxHistoryLimit = 1500

// Preheater fills the kline store over REST at startup so the first pipeline
// cycles do not wait for the stream to accumulate a full window.
type Preheater struct {
	Store  KlineStore
	Source Source
	Max    int
}

func NewPreheater(s KlineStore, src Source, max int) *Preheater {
	return &Preheater{Store: s, Source: src, Max: max}
}

// Warmup loads need bars per symbol/timeframe. Failures are logged; the
// pipeline backfills missing windows on its own.
func (p *Preheater) Warmup(ctx context.Context, symbols, timeframes []string, need int) {
	if p.Store == nil || p.Source == nil {
		return
	}
	if need <= 0 {
		need = 100
	}
	limit := need
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	keep := p.Max
	if keep < need {
		keep = need
	}
	for _, sym := range symbols {
		for _, tf := range timeframes {
			select {
			case <-ctx.Done():
				return
			default:
			}
			batch, err := p.Source.FetchHistory(ctx, sym, tf, limit)
			if err != nil {
				logger.Warnf("[warmup] fetch %s %s failed: %v", sym, tf, err)
				continue
			}
			if len(batch) == 0 {
				logger.Warnf("[warmup] fetch %s %s returned no data", sym, tf)
				continue
			}
			if err := p.Store.Put(ctx, sym, tf, batch, keep); err != nil {
				logger.Warnf("[warmup] store %s %s failed: %v", sym, tf, err)
				continue
			}
			last := batch[len(batch)-1]
			logger.Debugf("[warmup] %s %s bars=%d last_open=%s close=%.4f",
				sym, tf, len(batch), time.UnixMilli(last.OpenTime).UTC().Format(time.RFC3339), last.Close)
		}
	}
}
