package pipeline

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"perpbot/internal/indicator"
	"perpbot/internal/market"
)

var (
	ErrWindowSize   = errors.New("pipeline: closed window size mismatch")
	ErrNoLiveCandle = errors.New("pipeline: live candle missing")
)

type Settings struct {
	Window     int
	Period     int
	MAType     talib.MaType
	SlopeLag   int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
}

func (s Settings) macdEnabled() bool {
	return s.MACDFast > 0 && s.MACDSlow > 0 && s.MACDSignal > 0
}

// Validate checks the window can carry the period, the slope lag plus one
// previous slope, and three histogram values.
func (s Settings) Validate() error {
	if s.Period <= 0 || s.SlopeLag <= 0 {
		return fmt.Errorf("period and slope_lag must be positive")
	}
	if s.Window < 3 {
		return fmt.Errorf("window must be at least 3, got %d", s.Window)
	}
	if need := s.Period + s.SlopeLag + 1; s.Window < need {
		return fmt.Errorf("window %d too short for period %d and slope_lag %d (need %d)", s.Window, s.Period, s.SlopeLag, need)
	}
	if s.macdEnabled() {
		if s.MACDFast >= s.MACDSlow {
			return fmt.Errorf("macd fast %d must be below slow %d", s.MACDFast, s.MACDSlow)
		}
		if need := s.MACDSlow + s.MACDSignal + 1; s.Window < need {
			return fmt.Errorf("window %d too short for macd (need %d)", s.Window, need)
		}
	}
	return nil
}

// BuildSnapshot turns exactly Window closed candles plus the live candle into
// a snapshot. The live candle takes the place of the last closed one.
func BuildSnapshot(closed []market.Candle, live market.Candle, s Settings) (market.IndicatorSnapshot, error) {
	if len(closed) != s.Window {
		return market.IndicatorSnapshot{}, fmt.Errorf("%w: have %d want %d", ErrWindowSize, len(closed), s.Window)
	}
	if live.Open == 0 {
		return market.IndicatorSnapshot{}, ErrNoLiveCandle
	}
	work := make([]market.Candle, len(closed))
	copy(work, closed)
	work[len(work)-1] = live

	highs := make([]float64, len(work))
	lows := make([]float64, len(work))
	closes := make([]float64, len(work))
	for i, c := range work {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}

	highMA, err := indicator.MA(highs, s.Period, s.MAType)
	if err != nil {
		return market.IndicatorSnapshot{}, err
	}
	lowMA, err := indicator.MA(lows, s.Period, s.MAType)
	if err != nil {
		return market.IndicatorSnapshot{}, err
	}
	closeMA, err := indicator.MA(closes, s.Period, s.MAType)
	if err != nil {
		return market.IndicatorSnapshot{}, err
	}

	hm, lm, cm := indicator.Last(highMA), indicator.Last(lowMA), indicator.Last(closeMA)
	atr := math.Max(hm-lm, 0)

	n := len(work)
	snap := market.IndicatorSnapshot{
		Bars:    [3]market.Bar{market.BarOf(work[n-1]), market.BarOf(work[n-2]), market.BarOf(work[n-3])},
		HighMA:  hm,
		LowMA:   lm,
		CloseMA: cm,
		ATR:     atr,
		Slope: market.Slope{
			High:  indicator.Slope(highMA, s.SlopeLag, 0, atr),
			Low:   indicator.Slope(lowMA, s.SlopeLag, 0, atr),
			Close: indicator.Slope(closeMA, s.SlopeLag, 0, atr),
		},
		PrevSlopeClose: indicator.Slope(closeMA, s.SlopeLag, 1, atr),
		Osc:            market.OscState{Tag: market.OscFlat},
	}
	if s.macdEnabled() {
		hist, err := indicator.MACDHist(closes, s.MACDFast, s.MACDSlow, s.MACDSignal)
		if err != nil {
			return market.IndicatorSnapshot{}, err
		}
		snap.Osc = oscState(hist)
	}
	return snap, nil
}

// oscState compares the signs of the last two histogram deltas.
func oscState(hist []float64) market.OscState {
	st := market.OscState{Tag: market.OscFlat}
	if len(hist) < 3 {
		return st
	}
	h0, h1, h2 := hist[len(hist)-1], hist[len(hist)-2], hist[len(hist)-3]
	d1 := sign(h0 - h1)
	d0 := sign(h1 - h2)
	st.Hist = h0
	st.PrevHist = h1
	st.Rising = d1 > 0
	st.PrevRising = d0 > 0
	st.TurnUp = d1 > 0 && d0 < 0
	st.TurnDown = d1 < 0 && d0 > 0
	switch {
	case st.TurnUp:
		st.Tag = market.OscTurnUp
	case st.TurnDown:
		st.Tag = market.OscTurnDown
	case d1 > 0:
		st.Tag = market.OscRising
	case d1 < 0:
		st.Tag = market.OscFalling
	}
	return st
}

func sign(v float64) int {
	const eps = 1e-12
	switch {
	case v > eps:
		return 1
	case v < -eps:
		return -1
	default:
		return 0
	}
}
