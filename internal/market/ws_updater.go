package market

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"perpbot/internal/logger"
)

// WSUpdater streams kline events from a Source into the kline store.
type WSUpdater struct {
	Store  KlineStore
	Max    int
	Source Source

	OnConnected    func()
	OnDisconnected func(error)

	OnEvent func(CandleEvent)

	startOnce sync.Once
}

type WSUpdaterOption func(*WSUpdater)

func WithWSCallbacks(onConnect func(), onDisconnect func(error)) WSUpdaterOption {
	return func(u *WSUpdater) {
		u.OnConnected = onConnect
		u.OnDisconnected = onDisconnect
	}
}

func WithWSEventHandler(handler func(CandleEvent)) WSUpdaterOption {
	return func(u *WSUpdater) {
		u.OnEvent = handler
	}
}

func NewWSUpdater(s KlineStore, max int, src Source, opts ...WSUpdaterOption) *WSUpdater {
	u := &WSUpdater{Store: s, Max: max, Source: src}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u
}

func (u *WSUpdater) Update(ctx context.Context, symbol, interval string, k Candle) error {
	return u.Store.Put(ctx, symbol, interval, []Candle{k}, u.Max)
}

// Run subscribes and consumes events until ctx is done or the stream closes.
func (u *WSUpdater) Run(ctx context.Context, symbols []string, intervals []string) error {
	if u.Source == nil {
		return fmt.Errorf("ws updater missing source")
	}
	if len(symbols) == 0 || len(intervals) == 0 {
		return fmt.Errorf("ws updater requires symbols & intervals")
	}
	started := false
	u.startOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("ws updater already running")
	}
	opts := SubscribeOptions{
		OnConnect:    u.OnConnected,
		OnDisconnect: u.OnDisconnected,
	}
	events, err := u.Source.Subscribe(ctx, symbols, intervals, opts)
	if err != nil {
		return err
	}
	logger.Infof("[ws] subscribed symbols=%v intervals=%v", symbols, intervals)
	u.consume(ctx, events)
	return nil
}

func (u *WSUpdater) consume(ctx context.Context, events <-chan CandleEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := u.Update(ctx, strings.ToUpper(evt.Symbol), evt.Interval, evt.Candle); err != nil {
				logger.Warnf("[ws] store %s %s failed: %v", evt.Symbol, evt.Interval, err)
			}
			if u.OnEvent != nil {
				u.OnEvent(evt)
			}
		}
	}
}

func (u *WSUpdater) Stats() SourceStats {
	if u.Source == nil {
		return SourceStats{}
	}
	return u.Source.Stats()
}

func (u *WSUpdater) Close() {
	if u.Source != nil {
		if err := u.Source.Close(); err != nil {
			logger.Warnf("[ws] source close error: %v", err)
		}
	}
}
