package store

import (
	"context"
	"errors"
	"time"

	"perpbot/internal/types"
)

var ErrNotFound = errors.New("store: not found")

// OrderEvent is one audit row for an order status transition.
type OrderEvent struct {
	OrderID string            `json:"order_id"`
	From    types.OrderStatus `json:"from"`
	To      types.OrderStatus `json:"to"`
	Reason  string            `json:"reason"`
	Detail  map[string]any    `json:"detail,omitempty"`
	At      time.Time         `json:"at"`
}

// OrderRepository is the source of record for order status. An empty botID
// matches every bot.
type OrderRepository interface {
	Upsert(ctx context.Context, order types.Order) error
	FindByID(ctx context.Context, id string) (types.Order, error)

	// OpenOrders returns unclosed orders that are live or filled.
	OpenOrders(ctx context.Context, botID string) ([]types.Order, error)
	// NewOrders returns orders still in NEW status.
	NewOrders(ctx context.Context, botID string) ([]types.Order, error)
	// FilledOrders returns filled, unclosed opening orders. An empty side
	// matches both.
	FilledOrders(ctx context.Context, exchange, botID string, side types.PositionSide) ([]types.Order, error)
	// NearestOrder returns the active opening order closest to price.
	NearestOrder(ctx context.Context, symbol, botID string, side types.PositionSide, price float64) (types.Order, error)
	// SiblingOrders returns active opening orders for the symbol and side.
	SiblingOrders(ctx context.Context, symbol, botID string, side types.PositionSide) ([]types.Order, error)
	// LinkedOrder returns the live bracket of the given type for an opening order.
	LinkedOrder(ctx context.Context, openOrderID string, typ types.OrderType) (types.Order, error)

	AppendEvent(ctx context.Context, evt OrderEvent) error
	Events(ctx context.Context, orderID string, limit int) ([]OrderEvent, error)

	Close() error
}
