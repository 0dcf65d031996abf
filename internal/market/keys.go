package market

import "strings"

type Purpose string

const (
	PurposeIndicator Purpose = "indicator"
	PurposePrice     Purpose = "price"
	PurposeBook      Purpose = "book"
	PurposeSymbol    Purpose = "symbol"
)

// Key builds the deterministic snapshot-store key. Timeframe may be empty for
// purposes that are not per-timeframe.
func Key(exchange, symbol, timeframe string, purpose Purpose) string {
	tf := strings.TrimSpace(timeframe)
	if tf == "" {
		tf = "-"
	}
	parts := []string{
		strings.TrimSpace(exchange),
		strings.TrimSpace(symbol),
		tf,
		string(purpose),
	}
	return strings.ToLower(strings.Join(parts, ":"))
}
