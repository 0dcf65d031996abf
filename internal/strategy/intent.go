package strategy

import (
	"fmt"

	"perpbot/internal/types"
)

type IntentKind string

const (
	IntentNone            IntentKind = "none"
	IntentOpenLong        IntentKind = "open_long"
	IntentOpenShort       IntentKind = "open_short"
	IntentPlaceStopLoss   IntentKind = "place_stop_loss"
	IntentPlaceTakeProfit IntentKind = "place_take_profit"
	IntentCancelOrder     IntentKind = "cancel_order"
	IntentCloseAtMarket   IntentKind = "close_at_market"
)

// Intent is the evaluator's only output. Order references the existing order
// a bracket, cancel or close acts on.
type Intent struct {
	Kind         IntentKind
	Symbol       string
	Side         types.Side
	PositionSide types.PositionSide
	Price        float64
	StopPrice    float64
	Qty          float64
	Order        *types.Order
	ATR          float64
	// MinGap is the minimum distance to a sibling entry the coordinator re-checks.
	MinGap float64
	// PriceDrift marks cancels caused by the market moving away from the order.
	PriceDrift bool
	Reason     string
}

func None() Intent { return Intent{Kind: IntentNone} }

func (i Intent) IsNone() bool { return i.Kind == "" || i.Kind == IntentNone }

// OrderKind maps the intent onto its backoff-ledger dimension. Cancels have none.
func (i Intent) OrderKind() types.OrderKind {
	switch i.Kind {
	case IntentOpenLong, IntentOpenShort:
		return types.KindOpen
	case IntentPlaceStopLoss:
		return types.KindStopLoss
	case IntentPlaceTakeProfit:
		return types.KindTakeProfit
	case IntentCloseAtMarket:
		return types.KindClose
	default:
		return ""
	}
}

func (i Intent) OrderType() types.OrderType {
	switch i.Kind {
	case IntentPlaceStopLoss:
		return types.OrderTypeStopLoss
	case IntentPlaceTakeProfit:
		return types.OrderTypeTakeProfit
	case IntentCloseAtMarket:
		return types.OrderTypeMarket
	default:
		return types.OrderTypeLimit
	}
}

func (i Intent) String() string {
	ref := ""
	if i.Order != nil {
		ref = " ref=" + i.Order.ID
	}
	return fmt.Sprintf("%s %s side=%s price=%.8g stop=%.8g qty=%.8g%s (%s)",
		i.Kind, i.Symbol, i.Side, i.Price, i.StopPrice, i.Qty, ref, i.Reason)
}
