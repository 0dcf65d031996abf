package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/market"
	"perpbot/internal/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func baseVariant(rs RuleSet) Variant {
	v := Variant{
		BotID:     "bot-1",
		RuleSet:   rs,
		Symbols:   []string{"BTCUSDT"},
		Timeframe: "15m",
		Params: Params{
			EntryBandATR:  0.5,
			ReversalSlope: 0.1,
			OrderGapATR:   0.5,
			MaxPositions:  3,
			StopLossATR:   1.5,
			TakeProfitATR: 2,
			OrderSizeUSD:  100,
			Leverage:      2,
			LadderStepATR: 1,
		},
	}
	v.normalize()
	return v
}

// longSetup is a snapshot where a trend_band long entry fires.
func longSetup() market.IndicatorSnapshot {
	s := market.IndicatorSnapshot{
		Symbol:         "BTCUSDT",
		Timeframe:      "15m",
		HighMA:         120,
		LowMA:          100,
		CloseMA:        110,
		ATR:            10,
		Slope:          market.Slope{Close: 0.3},
		PrevSlopeClose: -0.1,
	}
	s.Bars[0].Close = 101
	return s
}

func input(snap market.IndicatorSnapshot, orders ...types.Order) Input {
	return Input{
		Symbol:     "BTCUSDT",
		Snapshots:  map[string]market.IndicatorSnapshot{snap.Timeframe: snap},
		Info:       market.SymbolInfo{Symbol: "BTCUSDT", PricePrecision: 2, QtyPrecision: 3},
		MarkPrice:  101,
		OpenOrders: orders,
		Gaps: map[types.OrderKind]int64{
			types.KindOpen:       5,
			types.KindStopLoss:   10,
			types.KindTakeProfit: 10,
		},
		Now: testNow,
	}
}

func mustEval(t *testing.T, v Variant) Evaluator {
	t.Helper()
	ev, err := New(v)
	require.NoError(t, err)
	return ev
}

func filledLong(id string, price float64) types.Order {
	return types.Order{
		ID: id, BotID: "bot-1", Symbol: "BTCUSDT",
		Side: types.SideBuy, PositionSide: types.PositionSideLong,
		Type: types.OrderTypeLimit, Status: types.OrderStatusFilled,
		Qty: 1, OpenPrice: price, OpenTime: testNow.Add(-time.Hour),
	}
}

func TestTrendBandOpensLongWithGapPricing(t *testing.T) {
	ev := mustEval(t, baseVariant(RuleTrendBand))
	it := ev.Evaluate(input(longSetup()))

	require.Equal(t, IntentOpenLong, it.Kind)
	assert.Equal(t, types.SideBuy, it.Side)
	assert.Equal(t, types.PositionSideLong, it.PositionSide)
	assert.InDelta(t, 100.95, it.Price, 1e-9)
	assert.InDelta(t, 1.981, it.Qty, 1e-9)
	assert.InDelta(t, 5, it.MinGap, 1e-9)
	assert.Equal(t, types.KindOpen, it.OrderKind())
}

func TestSlopeAloneDoesNotEnter(t *testing.T) {
	snap := longSetup()
	snap.Bars[0].Close = 115
	it := mustEval(t, baseVariant(RuleTrendBand)).Evaluate(input(snap))
	assert.True(t, it.IsNone())
}

func TestEntrySuppressedByNearbySibling(t *testing.T) {
	sib := filledLong("O1", 100.9)
	sib.Status = types.OrderStatusNew
	it := mustEval(t, baseVariant(RuleTrendBand)).Evaluate(input(longSetup(), sib))
	assert.True(t, it.IsNone(), "got %s", it)
}

func TestEntryBlockedAtMaxPositions(t *testing.T) {
	v := baseVariant(RuleTrendBand)
	v.Params.MaxPositions = 1
	in := input(longSetup(), types.Order{
		ID: "O1", Symbol: "BTCUSDT", Side: types.SideBuy, PositionSide: types.PositionSideLong,
		Type: types.OrderTypeLimit, Status: types.OrderStatusNew, Qty: 1, OpenPrice: 60,
	})
	it := mustEval(t, v).Evaluate(in)
	assert.True(t, it.IsNone(), "got %s", it)
}

func TestTrendTimeframeMustAgree(t *testing.T) {
	v := baseVariant(RuleTrendBand)
	v.TrendTimeframe = "4h"
	in := input(longSetup())
	trend := longSetup()
	trend.Timeframe = "4h"
	trend.Slope.Close = -0.4
	in.Snapshots["4h"] = trend
	assert.True(t, mustEval(t, v).Evaluate(in).IsNone())

	trend.Slope.Close = 0.2
	in.Snapshots["4h"] = trend
	assert.Equal(t, IntentOpenLong, mustEval(t, v).Evaluate(in).Kind)

	delete(in.Snapshots, "4h")
	assert.True(t, mustEval(t, v).Evaluate(in).IsNone())
}

func TestZeroATRSnapshotIsIgnored(t *testing.T) {
	snap := longSetup()
	snap.ATR = 0
	assert.True(t, mustEval(t, baseVariant(RuleTrendBand)).Evaluate(input(snap)).IsNone())
}

func TestStopLossOnAdverseMove(t *testing.T) {
	snap := longSetup()
	snap.PrevSlopeClose = 0.2
	it := mustEval(t, baseVariant(RuleTrendBand)).Evaluate(input(snap, filledLong("O1", 120)))

	require.Equal(t, IntentPlaceStopLoss, it.Kind)
	assert.Equal(t, types.SideSell, it.Side)
	assert.InDelta(t, 100.9, it.StopPrice, 1e-9)
	assert.InDelta(t, 100.8, it.Price, 1e-9)
	require.NotNil(t, it.Order)
	assert.Equal(t, "O1", it.Order.ID)
	assert.Equal(t, types.KindStopLoss, it.OrderKind())
}

func TestStopLossOnSlopeReversal(t *testing.T) {
	snap := longSetup()
	snap.Slope.Close = -0.3
	snap.PrevSlopeClose = 0.2
	it := mustEval(t, baseVariant(RuleTrendBand)).Evaluate(input(snap, filledLong("O1", 100)))
	assert.Equal(t, IntentPlaceStopLoss, it.Kind)
}

func TestCloseAtMarketNeedsExistingStop(t *testing.T) {
	v := baseVariant(RuleTrendBand)
	v.Params.MaxLossATR = 1.8
	snap := longSetup()
	snap.PrevSlopeClose = 0.2
	pos := filledLong("O1", 120)
	sl := types.Order{
		ID: "S1", Symbol: "BTCUSDT", Side: types.SideSell, PositionSide: types.PositionSideLong,
		Type: types.OrderTypeStopLoss, Status: types.OrderStatusNew, OpenOrderID: "O1", Qty: 1,
	}

	it := mustEval(t, v).Evaluate(input(snap, pos, sl))
	require.Equal(t, IntentCloseAtMarket, it.Kind)
	assert.Equal(t, types.SideSell, it.Side)
	assert.Equal(t, types.OrderTypeMarket, it.OrderType())

	// without the stop the stop comes first
	it = mustEval(t, v).Evaluate(input(snap, pos))
	assert.Equal(t, IntentPlaceStopLoss, it.Kind)
}

func TestTakeProfitNeedsReversalUnlessCapped(t *testing.T) {
	snap := longSetup()
	snap.PrevSlopeClose = 0.2
	pos := filledLong("O1", 80)
	sl := types.Order{
		ID: "S1", Symbol: "BTCUSDT", Type: types.OrderTypeStopLoss,
		Status: types.OrderStatusNew, OpenOrderID: "O1",
	}
	v := baseVariant(RuleTrendBand)

	assert.True(t, mustEval(t, v).Evaluate(input(snap, pos, sl)).IsNone())

	snap.Osc.TurnDown = true
	it := mustEval(t, v).Evaluate(input(snap, pos, sl))
	require.Equal(t, IntentPlaceTakeProfit, it.Kind)
	assert.InDelta(t, 101.1, it.StopPrice, 1e-9)
	assert.InDelta(t, 101.0, it.Price, 1e-9)

	snap.Osc.TurnDown = false
	v.Params.TakeProfitMaxATR = 2
	assert.Equal(t, IntentPlaceTakeProfit, mustEval(t, v).Evaluate(input(snap, pos, sl)).Kind)
}

func TestOneLiveBracketPerKind(t *testing.T) {
	snap := longSetup()
	snap.PrevSlopeClose = 0.2
	pos := filledLong("O1", 120)
	sl := types.Order{
		ID: "S1", Symbol: "BTCUSDT", Type: types.OrderTypeStopLoss,
		Status: types.OrderStatusPartiallyFilled, OpenOrderID: "O1",
	}
	assert.True(t, mustEval(t, baseVariant(RuleTrendBand)).Evaluate(input(snap, pos, sl)).IsNone())
}

func TestCancelOnDrift(t *testing.T) {
	v := baseVariant(RuleTrendBand)
	v.Params.CancelATR = 1
	snap := longSetup()
	snap.PrevSlopeClose = 0.2
	entry := types.Order{
		ID: "O1", Symbol: "BTCUSDT", Side: types.SideBuy, PositionSide: types.PositionSideLong,
		Type: types.OrderTypeLimit, Status: types.OrderStatusNew, Qty: 1, OpenPrice: 90,
	}
	it := mustEval(t, v).Evaluate(input(snap, entry))
	require.Equal(t, IntentCancelOrder, it.Kind)
	assert.Equal(t, "O1", it.Order.ID)
	assert.True(t, it.PriceDrift)
	assert.Empty(t, it.OrderKind())
}

func TestCancelOnReversalAgainstEntry(t *testing.T) {
	snap := longSetup()
	snap.Slope.Close = -0.5
	entry := types.Order{
		ID: "O1", Symbol: "BTCUSDT", Side: types.SideBuy, PositionSide: types.PositionSideLong,
		Type: types.OrderTypeLimit, Status: types.OrderStatusNew, Qty: 1, OpenPrice: 100.5,
	}
	it := mustEval(t, baseVariant(RuleTrendBand)).Evaluate(input(snap, entry))
	assert.Equal(t, IntentCancelOrder, it.Kind)
	assert.False(t, it.PriceDrift)
}

func TestLadderStepsAwayPerSibling(t *testing.T) {
	it := mustEval(t, baseVariant(RuleLadder)).Evaluate(input(longSetup(), filledLong("O1", 101)))
	require.Equal(t, IntentOpenLong, it.Kind)
	assert.InDelta(t, 90.95, it.Price, 1e-9)
}

func TestOscillatorBandOpensShort(t *testing.T) {
	snap := longSetup()
	snap.Bars[0].Close = 118
	snap.Osc.TurnDown = true
	in := input(snap)
	in.MarkPrice = 118
	it := mustEval(t, baseVariant(RuleOscillatorBand)).Evaluate(in)

	require.Equal(t, IntentOpenShort, it.Kind)
	assert.Equal(t, types.SideSell, it.Side)
	assert.Equal(t, types.PositionSideShort, it.PositionSide)
	assert.InDelta(t, 118.05, it.Price, 1e-9)
}

func TestDirectionFilter(t *testing.T) {
	v := baseVariant(RuleTrendBand)
	v.Direction = DirectionShort
	assert.True(t, mustEval(t, v).Evaluate(input(longSetup())).IsNone())
}

func TestOrdersOfOtherSymbolsIgnored(t *testing.T) {
	other := filledLong("X1", 10)
	other.Symbol = "ETHUSDT"
	it := mustEval(t, baseVariant(RuleTrendBand)).Evaluate(input(longSetup(), other))
	assert.Equal(t, IntentOpenLong, it.Kind)
}

func TestNewRejectsUnknownRuleSet(t *testing.T) {
	_, err := New(Variant{RuleSet: "martingale"})
	assert.Error(t, err)
}
