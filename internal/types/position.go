package types

import "math"

// Position is the exchange's view of one symbol/side exposure. Read-only here.
type Position struct {
	Symbol           string       `json:"symbol"`
	PositionSide     PositionSide `json:"position_side"`
	PositionAmt      float64      `json:"position_amt"`
	EntryPrice       float64      `json:"entry_price"`
	MarkPrice        float64      `json:"mark_price"`
	UnrealizedProfit float64      `json:"unrealized_profit"`
}

// Held returns the side actually held. In one-way mode the sign of the
// amount decides.
func (p Position) Held() PositionSide {
	switch p.PositionSide {
	case PositionSideLong, PositionSideShort:
		return p.PositionSide
	}
	if p.PositionAmt < 0 {
		return PositionSideShort
	}
	return PositionSideLong
}

func (p Position) Size() float64 {
	return math.Abs(p.PositionAmt)
}
