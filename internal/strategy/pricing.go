package strategy

import (
	"github.com/shopspring/decimal"

	"perpbot/internal/market"
)

// gapDistance converts ledger ticks into a price distance.
func gapDistance(info market.SymbolInfo, ticks int64) decimal.Decimal {
	tick := decimal.New(1, -int32(info.PricePrecision))
	return tick.Mul(decimal.NewFromInt(ticks))
}

// entryPrice offsets from mark away from immediate fill: below for longs,
// above for shorts. extra is an additional ATR-derived distance.
func entryPrice(info market.SymbolInfo, mark float64, dir int, ticks int64, extra float64) float64 {
	dist := gapDistance(info, ticks).Add(decimal.NewFromFloat(extra))
	m := decimal.NewFromFloat(mark)
	var p decimal.Decimal
	if dir > 0 {
		p = m.Sub(dist)
	} else {
		p = m.Add(dist)
	}
	f, _ := p.Round(int32(info.PricePrecision)).Float64()
	return f
}

// bracketPrices returns trigger and limit for an exit order on a position of
// direction dir. Stop-losses trigger on the adverse side of mark, take-profits
// on the favorable side; the limit sits one more gap beyond the trigger in
// the exit direction.
func bracketPrices(info market.SymbolInfo, mark float64, dir int, ticks int64, takeProfit bool) (stop, limit float64) {
	gap := gapDistance(info, ticks)
	m := decimal.NewFromFloat(mark)
	var s, l decimal.Decimal
	adverse := !takeProfit
	switch {
	case dir > 0 && adverse:
		s = m.Sub(gap)
	case dir > 0:
		s = m.Add(gap)
	case adverse:
		s = m.Add(gap)
	default:
		s = m.Sub(gap)
	}
	if dir > 0 {
		l = s.Sub(gap)
	} else {
		l = s.Add(gap)
	}
	prec := int32(info.PricePrecision)
	stop, _ = s.Round(prec).Float64()
	limit, _ = l.Round(prec).Float64()
	return stop, limit
}

// orderQty sizes notional × leverage at price, floored to the step size.
func orderQty(info market.SymbolInfo, notional, leverage, price float64) float64 {
	if price <= 0 {
		return 0
	}
	q := decimal.NewFromFloat(notional).Mul(decimal.NewFromFloat(leverage)).Div(decimal.NewFromFloat(price))
	f, _ := q.Truncate(int32(info.QtyPrecision)).Float64()
	return f
}
