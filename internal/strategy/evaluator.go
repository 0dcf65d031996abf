package strategy

import (
	"fmt"
	"math"
	"sort"
	"time"

	"perpbot/internal/market"
	"perpbot/internal/types"
)

// Input is everything one evaluation may look at. Evaluators never touch the
// exchange, the cache or the store.
type Input struct {
	Symbol     string
	Snapshots  map[string]market.IndicatorSnapshot
	Info       market.SymbolInfo
	MarkPrice  float64
	OpenOrders []types.Order
	Gaps       map[types.OrderKind]int64
	Now        time.Time
}

// Evaluator turns one Input into at most one Intent.
type Evaluator interface {
	Variant() Variant
	Evaluate(in Input) Intent
}

// rule is what distinguishes the rule sets: how a turning point is detected
// and how far below/above mark an entry is offset.
type rule interface {
	turned(snap market.IndicatorSnapshot, dir int, p Params) bool
	entryOffset(siblings int, atr float64, p Params) float64
}

// New builds the evaluator for v.RuleSet.
func New(v Variant) (Evaluator, error) {
	var r rule
	switch v.RuleSet {
	case RuleTrendBand:
		r = trendBand{}
	case RuleOscillatorBand:
		r = oscillatorBand{}
	case RuleLadder:
		r = ladder{}
	default:
		return nil, fmt.Errorf("unknown rule set %q", v.RuleSet)
	}
	return &evaluator{v: v, rule: r}, nil
}

type evaluator struct {
	v    Variant
	rule rule
}

func (e *evaluator) Variant() Variant { return e.v }

// Evaluate checks exits for filled positions first, then cancels for resting
// entries, then a new entry.
func (e *evaluator) Evaluate(in Input) Intent {
	snap, ok := in.Snapshots[e.v.Timeframe]
	if !ok || !snap.Ready() || in.MarkPrice <= 0 {
		return None()
	}
	orders := e.ordersFor(in)
	if it := e.exits(in, snap, orders); !it.IsNone() {
		return it
	}
	if it := e.cancels(in, snap, orders); !it.IsNone() {
		return it
	}
	return e.entry(in, snap, orders)
}

func (e *evaluator) ordersFor(in Input) []types.Order {
	out := make([]types.Order, 0, len(in.OpenOrders))
	for _, o := range in.OpenOrders {
		if o.Symbol != in.Symbol || o.Closed() {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out
}

func (e *evaluator) exits(in Input, snap market.IndicatorSnapshot, orders []types.Order) Intent {
	p := e.v.Params
	for i := range orders {
		o := orders[i]
		if !o.IsOpening() || o.Status != types.OrderStatusFilled || o.OpenPrice <= 0 {
			continue
		}
		dir := o.Direction()
		adverse := float64(dir) * (o.OpenPrice - in.MarkPrice) / snap.ATR
		favorable := -adverse
		hasSL := hasLiveBracket(orders, o.ID, types.OrderTypeStopLoss)
		hasTP := hasLiveBracket(orders, o.ID, types.OrderTypeTakeProfit)

		if p.MaxLossATR > 0 && hasSL && adverse >= p.MaxLossATR {
			return Intent{
				Kind:         IntentCloseAtMarket,
				Symbol:       in.Symbol,
				Side:         o.Side.Opposite(),
				PositionSide: o.PositionSide,
				Price:        in.MarkPrice,
				Qty:          o.Qty,
				Order:        &o,
				ATR:          snap.ATR,
				Reason:       fmt.Sprintf("adverse %.2f ATR beyond max loss %.2f", adverse, p.MaxLossATR),
			}
		}
		against := slopeAgainst(snap, dir, p.ReversalSlope)
		if !hasSL && (adverse >= p.StopLossATR || against) {
			reason := fmt.Sprintf("adverse %.2f ATR", adverse)
			if against {
				reason = fmt.Sprintf("slope %.3f against position", snap.Slope.Close)
			}
			return e.bracket(in, snap, o, false, reason)
		}
		if hasTP {
			continue
		}
		capped := p.TakeProfitMaxATR > 0 && favorable >= p.TakeProfitMaxATR
		if capped || (favorable >= p.TakeProfitATR && (against || oscAgainst(snap, dir))) {
			reason := fmt.Sprintf("favorable %.2f ATR with reversal", favorable)
			if capped {
				reason = fmt.Sprintf("favorable %.2f ATR reached cap %.2f", favorable, p.TakeProfitMaxATR)
			}
			return e.bracket(in, snap, o, true, reason)
		}
	}
	return None()
}

func (e *evaluator) bracket(in Input, snap market.IndicatorSnapshot, o types.Order, takeProfit bool, reason string) Intent {
	kind, ledger := IntentPlaceStopLoss, types.KindStopLoss
	if takeProfit {
		kind, ledger = IntentPlaceTakeProfit, types.KindTakeProfit
	}
	stop, limit := bracketPrices(in.Info, in.MarkPrice, o.Direction(), in.Gaps[ledger], takeProfit)
	if stop <= 0 || limit <= 0 {
		return None()
	}
	return Intent{
		Kind:         kind,
		Symbol:       in.Symbol,
		Side:         o.Side.Opposite(),
		PositionSide: o.PositionSide,
		Price:        limit,
		StopPrice:    stop,
		Qty:          o.Qty,
		Order:        &o,
		ATR:          snap.ATR,
		Reason:       reason,
	}
}

func (e *evaluator) cancels(in Input, snap market.IndicatorSnapshot, orders []types.Order) Intent {
	p := e.v.Params
	for i := range orders {
		o := orders[i]
		if !o.IsOpening() || o.Status != types.OrderStatusNew {
			continue
		}
		reason := ""
		drift := math.Abs(in.MarkPrice-o.OpenPrice) / snap.ATR
		drifted := p.CancelATR > 0 && drift > p.CancelATR
		switch {
		case drifted:
			reason = fmt.Sprintf("mark drifted %.2f ATR from entry", drift)
		case slopeAgainst(snap, o.Direction(), p.ReversalSlope):
			reason = fmt.Sprintf("slope %.3f reversed against entry", snap.Slope.Close)
		default:
			continue
		}
		return Intent{
			Kind:         IntentCancelOrder,
			Symbol:       in.Symbol,
			Side:         o.Side,
			PositionSide: o.PositionSide,
			Price:        o.OpenPrice,
			Qty:          o.Qty,
			Order:        &o,
			ATR:          snap.ATR,
			PriceDrift:   drifted,
			Reason:       reason,
		}
	}
	return None()
}

func (e *evaluator) entry(in Input, snap market.IndicatorSnapshot, orders []types.Order) Intent {
	p := e.v.Params
	for _, dir := range []int{1, -1} {
		if !e.v.allows(dir) {
			continue
		}
		if !e.rule.turned(snap, dir, p) || !inBand(snap, dir, p.EntryBandATR) {
			continue
		}
		if !e.trendAgrees(in, dir) {
			continue
		}
		siblings := siblingsOf(orders, dir)
		if len(siblings) >= p.MaxPositions {
			continue
		}
		extra := e.rule.entryOffset(len(siblings), snap.ATR, p)
		price := entryPrice(in.Info, in.MarkPrice, dir, in.Gaps[types.KindOpen], extra)
		if price <= 0 || tooClose(siblings, price, snap.ATR*p.OrderGapATR) {
			continue
		}
		qty := orderQty(in.Info, p.OrderSizeUSD, p.Leverage, price)
		if qty <= 0 {
			continue
		}
		it := Intent{
			Kind:         IntentOpenLong,
			Symbol:       in.Symbol,
			Side:         types.SideBuy,
			PositionSide: types.PositionSideLong,
			Price:        price,
			Qty:          qty,
			ATR:          snap.ATR,
			MinGap:       snap.ATR * p.OrderGapATR,
			Reason:       fmt.Sprintf("%s turn near low band, %d siblings", e.v.RuleSet, len(siblings)),
		}
		if dir < 0 {
			it.Kind = IntentOpenShort
			it.Side = types.SideSell
			it.PositionSide = types.PositionSideShort
			it.Reason = fmt.Sprintf("%s turn near high band, %d siblings", e.v.RuleSet, len(siblings))
		}
		return it
	}
	return None()
}

func (e *evaluator) trendAgrees(in Input, dir int) bool {
	if e.v.TrendTimeframe == "" || e.v.TrendTimeframe == e.v.Timeframe {
		return true
	}
	trend, ok := in.Snapshots[e.v.TrendTimeframe]
	if !ok || !trend.Ready() {
		return false
	}
	return float64(dir)*trend.Slope.Close >= 0
}

// inBand is the location half of an entry: longs near or under the low
// average, shorts near or above the high average.
func inBand(snap market.IndicatorSnapshot, dir int, bandATR float64) bool {
	band := bandATR * snap.ATR
	if dir > 0 {
		return snap.Close() <= snap.LowMA+band
	}
	return snap.Close() >= snap.HighMA-band
}

func slopeAgainst(snap market.IndicatorSnapshot, dir int, threshold float64) bool {
	return float64(dir)*snap.Slope.Close < -threshold
}

func oscAgainst(snap market.IndicatorSnapshot, dir int) bool {
	if dir > 0 {
		return snap.Osc.TurnDown
	}
	return snap.Osc.TurnUp
}

func hasLiveBracket(orders []types.Order, openID string, typ types.OrderType) bool {
	for _, o := range orders {
		if o.OpenOrderID == openID && o.Type == typ && o.Status.Live() {
			return true
		}
	}
	return false
}

// siblingsOf returns active opening orders on the same side.
func siblingsOf(orders []types.Order, dir int) []types.Order {
	var out []types.Order
	for _, o := range orders {
		if o.IsOpening() && o.Active() && o.Direction() == dir {
			out = append(out, o)
		}
	}
	return out
}

func tooClose(siblings []types.Order, price, minGap float64) bool {
	for _, s := range siblings {
		if math.Abs(s.OpenPrice-price) < minGap {
			return true
		}
	}
	return false
}
