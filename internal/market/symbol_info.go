package market

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"perpbot/internal/pkg/convert"
)

// SymbolInfo carries the precision used to format prices and quantities.
// Exchange metadata is not trusted; precision comes from observed quotes.
type SymbolInfo struct {
	Exchange       string    `json:"exchange"`
	Symbol         string    `json:"symbol"`
	PricePrecision int       `json:"price_precision"`
	QtyPrecision   int       `json:"qty_precision"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DeriveSymbolInfo takes the larger decimal count of the bid and ask sides.
func DeriveSymbolInfo(exchange string, book BookTicker) SymbolInfo {
	return SymbolInfo{
		Exchange:       exchange,
		Symbol:         book.Symbol,
		PricePrecision: max(convert.DecimalPlaces(book.BidPrice), convert.DecimalPlaces(book.AskPrice)),
		QtyPrecision:   max(convert.DecimalPlaces(book.BidQty), convert.DecimalPlaces(book.AskQty)),
		UpdatedAt:      book.UpdatedAt,
	}
}

// Merge keeps the wider precision of two observations. A quote like 100.10
// prints as 100.1 and must not shrink a precision already seen.
func (s SymbolInfo) Merge(prev SymbolInfo) SymbolInfo {
	s.PricePrecision = max(s.PricePrecision, prev.PricePrecision)
	s.QtyPrecision = max(s.QtyPrecision, prev.QtyPrecision)
	return s
}

func (s SymbolInfo) TickSize() float64 {
	return math.Pow10(-s.PricePrecision)
}

func (s SymbolInfo) StepSize() float64 {
	return math.Pow10(-s.QtyPrecision)
}

func (s SymbolInfo) RoundPrice(p float64) float64 {
	f, _ := decimal.NewFromFloat(p).Round(int32(s.PricePrecision)).Float64()
	return f
}

// FloorQty truncates so the order never exceeds the intended notional.
func (s SymbolInfo) FloorQty(q float64) float64 {
	f, _ := decimal.NewFromFloat(q).Truncate(int32(s.QtyPrecision)).Float64()
	return f
}

func (s SymbolInfo) FormatPrice(p float64) string {
	return decimal.NewFromFloat(p).StringFixed(int32(s.PricePrecision))
}

func (s SymbolInfo) FormatQty(q float64) string {
	return decimal.NewFromFloat(q).Truncate(int32(s.QtyPrecision)).StringFixed(int32(s.QtyPrecision))
}
