package strategy

import "perpbot/internal/market"

// trendBand enters when the close average's slope flips toward dir and
// clears the reversal threshold.
type trendBand struct{}

func (trendBand) turned(snap market.IndicatorSnapshot, dir int, p Params) bool {
	d := float64(dir)
	return d*snap.PrevSlopeClose <= 0 && d*snap.Slope.Close > p.ReversalSlope
}

func (trendBand) entryOffset(int, float64, Params) float64 { return 0 }

// oscillatorBand enters on a histogram turn toward dir.
type oscillatorBand struct{}

func (oscillatorBand) turned(snap market.IndicatorSnapshot, dir int, _ Params) bool {
	if dir > 0 {
		return snap.Osc.TurnUp
	}
	return snap.Osc.TurnDown
}

func (oscillatorBand) entryOffset(int, float64, Params) float64 { return 0 }

// ladder uses the trend turn but steps each additional entry further away
// from mark by ladder_step_atr.
type ladder struct{ trendBand }

func (ladder) entryOffset(siblings int, atr float64, p Params) float64 {
	return float64(siblings) * p.LadderStepATR * atr
}
