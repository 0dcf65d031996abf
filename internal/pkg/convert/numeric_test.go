package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToFloat64(t *testing.T) {
	assert.Equal(t, 1.5, ToFloat64("1.5"))
	assert.Equal(t, 2.0, ToFloat64(int64(2)))
	assert.Equal(t, 3.25, ToFloat64(json.Number("3.25")))
	assert.Equal(t, 0.0, ToFloat64(struct{}{}))
}

func TestDecimalPlaces(t *testing.T) {
	cases := map[string]int{
		"0.0100":   2,
		"12":       0,
		"12.":      0,
		"0.000123": 6,
		"1e-4":     4,
		" 3.1400 ": 2,
	}
	for in, want := range cases {
		assert.Equal(t, want, DecimalPlaces(in), in)
	}
}
