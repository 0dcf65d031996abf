package scheduler

import (
	"time"

	"perpbot/internal/market"
)

// SplitLive separates the in-progress candle from the closed ones. ok is
// false when the last candle has already closed, i.e. no live candle exists.
//
// Candle times are milliseconds since epoch.
func SplitLive(klines []market.Candle, interval time.Duration, now time.Time) (closed []market.Candle, live market.Candle, ok bool) {
	if len(klines) == 0 || interval <= 0 {
		return klines, market.Candle{}, false
	}
	last := klines[len(klines)-1]
	if last.OpenTime <= 0 {
		return klines, market.Candle{}, false
	}
	if now.UnixMilli() < last.OpenTime+interval.Milliseconds() {
		return klines[:len(klines)-1], last, true
	}
	return klines, market.Candle{}, false
}
