package market

import "time"

type Bar struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
}

func BarOf(c Candle) Bar {
	return Bar{OpenTime: c.OpenTime, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close}
}

// Slope holds moving-average rates of change over the lag, in ATR units.
type Slope struct {
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

type OscTag string

const (
	OscFlat     OscTag = "flat"
	OscRising   OscTag = "rising"
	OscFalling  OscTag = "falling"
	OscTurnUp   OscTag = "turn_up"
	OscTurnDown OscTag = "turn_down"
)

// OscState describes the direction of the oscillator histogram, not its level.
// Rising compares the last two histogram values; PrevRising the two before.
type OscState struct {
	Hist       float64 `json:"hist"`
	PrevHist   float64 `json:"prev_hist"`
	Rising     bool    `json:"rising"`
	PrevRising bool    `json:"prev_rising"`
	TurnUp     bool    `json:"turn_up"`
	TurnDown   bool    `json:"turn_down"`
	Tag        OscTag  `json:"tag"`
}

// IndicatorSnapshot is published once per cycle per (symbol, timeframe) and
// never mutated afterwards.
type IndicatorSnapshot struct {
	Exchange  string `json:"exchange"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`

	// Bars[0] is the live candle, Bars[1] and Bars[2] the two before it.
	Bars [3]Bar `json:"bars"`

	HighMA  float64 `json:"high_ma"`
	LowMA   float64 `json:"low_ma"`
	CloseMA float64 `json:"close_ma"`
	ATR     float64 `json:"atr"`

	Slope          Slope    `json:"slope"`
	PrevSlopeClose float64  `json:"prev_slope_close"`
	Osc            OscState `json:"osc"`

	Version    int64     `json:"version"`
	ComputedAt time.Time `json:"computed_at"`
}

// Ready is false for a zero-ATR snapshot; consumers must not act on it.
func (s IndicatorSnapshot) Ready() bool {
	return s.ATR > 0
}

func (s IndicatorSnapshot) Close() float64 {
	return s.Bars[0].Close
}
