package types

import (
	"strings"
	"time"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that flattens an exposure opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
	PositionSideBoth  PositionSide = "BOTH"
)

type OrderType string

const (
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether no further exchange-side transition is possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// Live reports whether the order is resting or partially executed on the book.
func (s OrderStatus) Live() bool {
	return s == OrderStatusNew || s == OrderStatusPartiallyFilled
}

// ParseOrderStatus maps exchange spellings onto OrderStatus; unknown values map to "".
func ParseOrderStatus(raw string) OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "NEW":
		return OrderStatusNew
	case "PARTIALLY_FILLED":
		return OrderStatusPartiallyFilled
	case "FILLED":
		return OrderStatusFilled
	case "CANCELED", "CANCELLED":
		return OrderStatusCanceled
	case "REJECTED":
		return OrderStatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return OrderStatusExpired
	default:
		return ""
	}
}

// OrderKind is the backoff-ledger dimension of an order.
type OrderKind string

const (
	KindOpen       OrderKind = "FO"
	KindStopLoss   OrderKind = "FSL"
	KindTakeProfit OrderKind = "FTP"
	KindClose      OrderKind = "FC"
)

var AllKinds = []OrderKind{KindOpen, KindStopLoss, KindTakeProfit, KindClose}

// Order is the local record of one exchange order.
type Order struct {
	ID           string       `json:"id"`
	RefID        string       `json:"ref_id,omitempty"`
	Exchange     string       `json:"exchange"`
	BotID        string       `json:"bot_id"`
	Symbol       string       `json:"symbol"`
	Side         Side         `json:"side"`
	PositionSide PositionSide `json:"position_side"`
	Type         OrderType    `json:"type"`
	Status       OrderStatus  `json:"status"`
	Qty          float64      `json:"qty"`
	OpenPrice    float64      `json:"open_price"`
	StopPrice    float64      `json:"stop_price,omitempty"`
	ClosePrice   float64      `json:"close_price,omitempty"`
	Commission   float64      `json:"commission,omitempty"`
	PL           float64      `json:"pl,omitempty"`
	OpenOrderID  string       `json:"open_order_id,omitempty"`
	OpenTime     time.Time    `json:"open_time"`
	CloseTime    time.Time    `json:"close_time,omitempty"`
	Note         string       `json:"note,omitempty"`
}

func (o Order) IsBracket() bool {
	return o.Type == OrderTypeStopLoss || o.Type == OrderTypeTakeProfit
}

// IsOpening reports whether the order opens exposure rather than reducing it.
func (o Order) IsOpening() bool {
	return o.OpenOrderID == "" && (o.Type == OrderTypeLimit || o.Type == OrderTypeMarket)
}

func (o Order) Closed() bool {
	return !o.CloseTime.IsZero()
}

// Active reports whether the order still matters for decisions: live on the
// book, or filled and not yet closed.
func (o Order) Active() bool {
	if o.Closed() {
		return false
	}
	return o.Status.Live() || o.Status == OrderStatusFilled
}

// Direction is +1 for exposure that gains when price rises, -1 otherwise.
func (o Order) Direction() int {
	switch o.PositionSide {
	case PositionSideLong:
		return 1
	case PositionSideShort:
		return -1
	}
	if o.Side == SideBuy {
		return 1
	}
	return -1
}

// HeldSide is the position side this opening order contributes to.
func (o Order) HeldSide() PositionSide {
	if o.Direction() > 0 {
		return PositionSideLong
	}
	return PositionSideShort
}

func (o Order) Kind() OrderKind {
	switch o.Type {
	case OrderTypeStopLoss:
		return KindStopLoss
	case OrderTypeTakeProfit:
		return KindTakeProfit
	}
	if o.OpenOrderID != "" {
		return KindClose
	}
	return KindOpen
}

func (o Order) Age(now time.Time) time.Duration {
	if o.OpenTime.IsZero() {
		return 0
	}
	return now.Sub(o.OpenTime)
}

// OrderState is the exchange's normalized view of an order.
type OrderState struct {
	RefID       string      `json:"ref_id"`
	Status      OrderStatus `json:"status"`
	AvgPrice    float64     `json:"avg_price"`
	ExecutedQty float64     `json:"executed_qty"`
	UpdateTime  time.Time   `json:"update_time"`
}
