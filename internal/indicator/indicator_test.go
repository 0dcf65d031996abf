package indicator

import (
	"math"
	"testing"

	"github.com/markcheno/go-talib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlopeOverLag(t *testing.T) {
	ma := []float64{100, 101, 103}
	assert.InDelta(t, 0.3, Slope(ma, 2, 0, 10), 1e-12)
	assert.InDelta(t, 0.1, Slope(ma, 1, 1, 10), 1e-12)
}

func TestSlopeDegenerate(t *testing.T) {
	ma := []float64{100, 101, 103}
	assert.Equal(t, 0.0, Slope(ma, 2, 0, 0))
	assert.Equal(t, 0.0, Slope(ma, 3, 0, 10))
	assert.Equal(t, 0.0, Slope([]float64{math.NaN(), 1, 2}, 2, 0, 1))
}

func TestMAMarksWarmup(t *testing.T) {
	out, err := MA([]float64{1, 2, 3, 4}, 3, talib.SMA)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-9)
	assert.InDelta(t, 3.0, out[3], 1e-9)

	_, err = MA([]float64{1, 2}, 3, talib.SMA)
	assert.Error(t, err)
}

func TestParseMAType(t *testing.T) {
	mt, err := ParseMAType("EMA")
	require.NoError(t, err)
	assert.Equal(t, talib.EMA, mt)
	_, err = ParseMAType("hull")
	assert.Error(t, err)
}

func TestMACDHistLength(t *testing.T) {
	series := make([]float64, 60)
	for i := range series {
		series[i] = 100 + math.Sin(float64(i)/3)*5
	}
	hist, err := MACDHist(series, 12, 26, 9)
	require.NoError(t, err)
	assert.Len(t, hist, 60-(25+8))

	_, err = MACDHist(series[:20], 12, 26, 9)
	assert.Error(t, err)
}
