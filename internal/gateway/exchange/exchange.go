// Package exchange defines the order gateway contract shared by the
// execution coordinator and exchange adapters.
package exchange

import (
	"context"

	"perpbot/internal/types"
)

// Gateway is the authoritative exchange view. Every call is signed by the
// adapter; callers treat any error other than *RejectError or ErrOrderNotFound
// as an unknown outcome.
type Gateway interface {
	Name() string

	GetOrder(ctx context.Context, symbol, id, refID string) (types.OrderState, error)
	PlaceOrder(ctx context.Context, order types.Order, info OrderFormat) (types.OrderState, error)
	CancelOrder(ctx context.Context, symbol, id, refID string) (types.OrderState, error)
	// GetPositionRisk returns every position when symbol is empty.
	GetPositionRisk(ctx context.Context, symbol string) ([]types.Position, error)
}

// OrderFormat carries the decimal places the exchange accepts for a symbol.
type OrderFormat struct {
	PricePrecision int
	QtyPrecision   int
	ReduceOnly     bool
	HedgeMode      bool
}
