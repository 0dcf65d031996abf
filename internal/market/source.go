package market

import (
	"context"
	"time"
)

type CandleEvent struct {
	Symbol   string
	Interval string
	Candle   Candle
}

// BookTicker keeps the exchange's decimal strings so precision can be derived
// from them.
type BookTicker struct {
	Symbol    string    `json:"symbol"`
	BidPrice  string    `json:"bid_price"`
	BidQty    string    `json:"bid_qty"`
	AskPrice  string    `json:"ask_price"`
	AskQty    string    `json:"ask_qty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SubscribeOptions struct {
	BatchSize    int
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

type SourceStats struct {
	Reconnects      int
	SubscribeErrors int
	LastError       string
}

type Source interface {
	// FetchHistory returns the most recent klines, oldest first. The last one
	// may still be open.
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	Subscribe(ctx context.Context, symbols, intervals []string, opts SubscribeOptions) (<-chan CandleEvent, error)

	BookTicker(ctx context.Context, symbol string) (BookTicker, error)

	MarkPrice(ctx context.Context, symbol string) (float64, error)

	Stats() SourceStats

	Close() error
}
