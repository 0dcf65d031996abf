// Package indicator wraps go-talib for the moving-average, oscillator and
// slope series the pipeline assembles into snapshots.
package indicator

import (
	"fmt"
	"math"
	"strings"

	"github.com/markcheno/go-talib"
)

// ParseMAType maps a config name onto a talib moving-average type.
func ParseMAType(name string) (talib.MaType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sma":
		return talib.SMA, nil
	case "ema":
		return talib.EMA, nil
	case "wma":
		return talib.WMA, nil
	case "dema":
		return talib.DEMA, nil
	case "tema":
		return talib.TEMA, nil
	case "trima":
		return talib.TRIMA, nil
	default:
		return 0, fmt.Errorf("unknown ma_type %q", name)
	}
}

// MA returns the moving average aligned with series; positions before the
// first full period are NaN.
func MA(series []float64, period int, maType talib.MaType) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("ma period must be positive, got %d", period)
	}
	if len(series) < period {
		return nil, fmt.Errorf("ma needs %d values, got %d", period, len(series))
	}
	out := talib.Ma(series, period, maType)
	for i := 0; i < period-1 && i < len(out); i++ {
		out[i] = math.NaN()
	}
	return out, nil
}

// MACDHist returns the valid tail of the MACD histogram.
func MACDHist(series []float64, fast, slow, signal int) ([]float64, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 || fast >= slow {
		return nil, fmt.Errorf("invalid macd params fast=%d slow=%d signal=%d", fast, slow, signal)
	}
	lookback := (slow - 1) + (signal - 1)
	if len(series) <= lookback {
		return nil, fmt.Errorf("macd needs more than %d values, got %d", lookback, len(series))
	}
	_, _, hist := talib.Macd(series, fast, slow, signal)
	return sanitizeSeries(hist[lookback:]), nil
}

// Slope is (ma[last-offset] - ma[last-offset-lag]) / atr. It is zero when
// atr is not positive or the series is too short.
func Slope(ma []float64, lag, offset int, atr float64) float64 {
	if atr <= 0 || lag <= 0 || offset < 0 {
		return 0
	}
	end := len(ma) - 1 - offset
	start := end - lag
	if start < 0 || end >= len(ma) {
		return 0
	}
	a, b := ma[start], ma[end]
	if !valid(a) || !valid(b) {
		return 0
	}
	return (b - a) / atr
}

// Last returns the last finite value of series, or 0.
func Last(series []float64) float64 {
	return lastValid(series)
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if !valid(v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if valid(series[i]) {
			return series[i]
		}
	}
	return 0
}
