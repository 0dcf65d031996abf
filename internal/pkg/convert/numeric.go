// Package convert provides lenient numeric parsing for exchange payloads.
package convert

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ToFloat64 converts various numeric types to float64.
// Returns 0 for unsupported types or parse failures.
func ToFloat64(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case uint64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	default:
		return 0
	}
}

// ParseFloat parses an exchange decimal string, reporting whether it was usable.
func ParseFloat(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// DecimalPlaces counts significant fractional digits in a decimal string,
// ignoring trailing zeros ("0.0100" -> 2, "12" -> 0).
func DecimalPlaces(raw string) int {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexAny(raw, "eE"); i >= 0 {
		f, ok := ParseFloat(raw)
		if !ok {
			return 0
		}
		raw = strconv.FormatFloat(f, 'f', -1, 64)
	}
	dot := strings.IndexByte(raw, '.')
	if dot < 0 {
		return 0
	}
	frac := strings.TrimRight(raw[dot+1:], "0")
	return len(frac)
}
