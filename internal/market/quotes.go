package market

import (
	"context"
	"errors"
	"time"

	"perpbot/internal/logger"
)

// QuoteRefresher publishes mark price, book ticker and derived precision for
// each symbol.
type QuoteRefresher struct {
	source  Source
	store   *SnapshotStore
	symbols []string
}

func NewQuoteRefresher(src Source, store *SnapshotStore, symbols []string) *QuoteRefresher {
	return &QuoteRefresher{source: src, store: store, symbols: symbols}
}

// RunOnce refreshes every symbol; a failing symbol is skipped this cycle.
func (q *QuoteRefresher) RunOnce(ctx context.Context) {
	for _, sym := range q.symbols {
		if ctx.Err() != nil {
			return
		}
		if err := q.refresh(ctx, sym); err != nil {
			logger.Warnf("[quotes] %s refresh failed: %v", sym, err)
		}
	}
}

func (q *QuoteRefresher) refresh(ctx context.Context, symbol string) error {
	mark, err := q.source.MarkPrice(ctx, symbol)
	if err != nil {
		return err
	}
	if err := q.store.PutPrice(ctx, symbol, mark); err != nil {
		return err
	}
	book, err := q.source.BookTicker(ctx, symbol)
	if err != nil {
		return err
	}
	if book.Symbol == "" {
		book.Symbol = symbol
	}
	if book.UpdatedAt.IsZero() {
		book.UpdatedAt = time.Now()
	}
	if err := q.store.PutBook(ctx, book); err != nil {
		return err
	}
	info := DeriveSymbolInfo(q.store.Exchange(), book)
	prev, err := q.store.SymbolInfo(ctx, symbol)
	switch {
	case err == nil:
		info = info.Merge(prev)
	case !errors.Is(err, ErrNotReady):
		return err
	}
	return q.store.PutSymbolInfo(ctx, info)
}
