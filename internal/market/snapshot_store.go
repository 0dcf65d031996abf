package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"perpbot/internal/cache"
)

var (
	// ErrNotReady covers a missing value and a zero-ATR snapshot.
	ErrNotReady = errors.New("market: not ready")
	ErrStale    = errors.New("market: stale")
)

type envelope struct {
	Value    json.RawMessage `json:"v"`
	StoredAt int64           `json:"at"`
}

// SnapshotStore is the last-write-wins view of prices, book tickers, symbol
// precision and indicator snapshots for one exchange.
type SnapshotStore struct {
	cache    cache.Cache
	exchange string
	ttl      time.Duration
	nowFn    func() time.Time
}

// NewSnapshotStore stores entries with ttl as a hard expiry; maxAge on reads
// is the staleness bound. ttl <= 0 keeps entries until overwritten.
func NewSnapshotStore(c cache.Cache, exchange string, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{cache: c, exchange: exchange, ttl: ttl, nowFn: time.Now}
}

func (s *SnapshotStore) Exchange() string { return s.exchange }

func (s *SnapshotStore) put(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	env, err := json.Marshal(envelope{Value: raw, StoredAt: s.nowFn().UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.cache.Set(ctx, key, env, s.ttl)
}

func (s *SnapshotStore) get(ctx context.Context, key string, maxAge time.Duration, out any) error {
	raw, err := s.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrMiss) {
		return ErrNotReady
	}
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	if maxAge > 0 && s.nowFn().Sub(time.UnixMilli(env.StoredAt)) > maxAge {
		return ErrStale
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// PutSnapshot assigns the next version for the key and publishes snap.
func (s *SnapshotStore) PutSnapshot(ctx context.Context, snap IndicatorSnapshot) (IndicatorSnapshot, error) {
	key := Key(s.exchange, snap.Symbol, snap.Timeframe, PurposeIndicator)
	version, err := s.cache.Incr(ctx, key+":version")
	if err != nil {
		return snap, fmt.Errorf("version %s: %w", key, err)
	}
	snap.Exchange = s.exchange
	snap.Version = version
	return snap, s.put(ctx, key, snap)
}

func (s *SnapshotStore) Snapshot(ctx context.Context, symbol, timeframe string, maxAge time.Duration) (IndicatorSnapshot, error) {
	var snap IndicatorSnapshot
	if err := s.get(ctx, Key(s.exchange, symbol, timeframe, PurposeIndicator), maxAge, &snap); err != nil {
		return IndicatorSnapshot{}, err
	}
	if !snap.Ready() {
		return IndicatorSnapshot{}, ErrNotReady
	}
	return snap, nil
}

func (s *SnapshotStore) PutPrice(ctx context.Context, symbol string, price float64) error {
	return s.put(ctx, Key(s.exchange, symbol, "", PurposePrice), price)
}

func (s *SnapshotStore) Price(ctx context.Context, symbol string, maxAge time.Duration) (float64, error) {
	var price float64
	if err := s.get(ctx, Key(s.exchange, symbol, "", PurposePrice), maxAge, &price); err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, ErrNotReady
	}
	return price, nil
}

func (s *SnapshotStore) PutBook(ctx context.Context, book BookTicker) error {
	return s.put(ctx, Key(s.exchange, book.Symbol, "", PurposeBook), book)
}

func (s *SnapshotStore) Book(ctx context.Context, symbol string, maxAge time.Duration) (BookTicker, error) {
	var book BookTicker
	err := s.get(ctx, Key(s.exchange, symbol, "", PurposeBook), maxAge, &book)
	return book, err
}

func (s *SnapshotStore) PutSymbolInfo(ctx context.Context, info SymbolInfo) error {
	return s.put(ctx, Key(s.exchange, info.Symbol, "", PurposeSymbol), info)
}

func (s *SnapshotStore) SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	var info SymbolInfo
	err := s.get(ctx, Key(s.exchange, symbol, "", PurposeSymbol), 0, &info)
	return info, err
}
