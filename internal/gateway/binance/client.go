package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"perpbot/internal/gateway/exchange"
	"perpbot/internal/logger"
	symbolpkg "perpbot/internal/pkg/symbol"
	"perpbot/internal/types"
)

// Client is the signed order gateway. Client order ids are the local order
// ids, so an order can be found again after a lost response.
type Client struct {
	cfg    Config
	client *futures.Client
}

var _ exchange.Gateway = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	if final.APIKey == "" || final.SecretKey == "" {
		return nil, fmt.Errorf("binance: api key and secret are required")
	}
	fc, err := newFuturesClient(final)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: final, client: fc}, nil
}

func (c *Client) Name() string { return "binance" }

// SyncTime aligns request timestamps with the exchange clock.
func (c *Client) SyncTime(ctx context.Context) (time.Duration, error) {
	offset, err := c.client.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance: server time: %w", err)
	}
	d := time.Duration(offset) * time.Millisecond
	logger.Infof("[binance] server time offset %s", d)
	return d, nil
}

func (c *Client) GetOrder(ctx context.Context, symbol, id, refID string) (types.OrderState, error) {
	svc := c.client.NewGetOrderService().Symbol(symbolpkg.Normalize(symbol))
	if n, ok := exchangeID(refID); ok {
		svc = svc.OrderID(n)
	} else {
		svc = svc.OrigClientOrderID(id)
	}
	o, err := svc.Do(ctx)
	if err != nil {
		return types.OrderState{}, translateError(err)
	}
	return types.OrderState{
		RefID:       strconv.FormatInt(o.OrderID, 10),
		Status:      types.ParseOrderStatus(string(o.Status)),
		AvgPrice:    parseFloat(o.AvgPrice),
		ExecutedQty: parseFloat(o.ExecutedQuantity),
		UpdateTime:  time.UnixMilli(o.UpdateTime),
	}, nil
}

func (c *Client) PlaceOrder(ctx context.Context, o types.Order, f exchange.OrderFormat) (types.OrderState, error) {
	typ, err := orderType(o.Type)
	if err != nil {
		return types.OrderState{}, err
	}
	svc := c.client.NewCreateOrderService().
		Symbol(symbolpkg.Normalize(o.Symbol)).
		Side(futures.SideType(o.Side)).
		PositionSide(futures.PositionSideType(o.PositionSide)).
		Type(typ).
		Quantity(formatFixed(o.Qty, f.QtyPrecision, true)).
		NewClientOrderID(o.ID).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if typ != futures.OrderTypeMarket {
		svc = svc.TimeInForce(futures.TimeInForceTypeGTC).Price(formatFixed(o.OpenPrice, f.PricePrecision, false))
	}
	if o.StopPrice > 0 {
		svc = svc.StopPrice(formatFixed(o.StopPrice, f.PricePrecision, false)).WorkingType(futures.WorkingTypeMarkPrice)
	}
	// hedge mode infers reduction from positionSide and rejects the flag
	if f.ReduceOnly && !f.HedgeMode {
		svc = svc.ReduceOnly(true)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return types.OrderState{}, translateError(err)
	}
	return types.OrderState{
		RefID:       strconv.FormatInt(res.OrderID, 10),
		Status:      types.ParseOrderStatus(string(res.Status)),
		AvgPrice:    parseFloat(res.AvgPrice),
		ExecutedQty: parseFloat(res.ExecutedQuantity),
		UpdateTime:  time.UnixMilli(res.UpdateTime),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, id, refID string) (types.OrderState, error) {
	svc := c.client.NewCancelOrderService().Symbol(symbolpkg.Normalize(symbol))
	if n, ok := exchangeID(refID); ok {
		svc = svc.OrderID(n)
	} else {
		svc = svc.OrigClientOrderID(id)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return types.OrderState{}, translateError(err)
	}
	executed := parseFloat(res.ExecutedQuantity)
	avg := 0.0
	if executed > 0 {
		avg = parseFloat(res.CumQuote) / executed
	}
	return types.OrderState{
		RefID:       strconv.FormatInt(res.OrderID, 10),
		Status:      types.ParseOrderStatus(string(res.Status)),
		AvgPrice:    avg,
		ExecutedQty: executed,
		UpdateTime:  time.UnixMilli(res.UpdateTime),
	}, nil
}

func (c *Client) GetPositionRisk(ctx context.Context, symbol string) ([]types.Position, error) {
	svc := c.client.NewGetPositionRiskService()
	if sym := symbolpkg.Normalize(symbol); sym != "" {
		svc = svc.Symbol(sym)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]types.Position, 0, len(res))
	for _, p := range res {
		if p == nil {
			continue
		}
		out = append(out, types.Position{
			Symbol:           strings.ToUpper(p.Symbol),
			PositionSide:     types.PositionSide(strings.ToUpper(p.PositionSide)),
			PositionAmt:      parseFloat(p.PositionAmt),
			EntryPrice:       parseFloat(p.EntryPrice),
			MarkPrice:        parseFloat(p.MarkPrice),
			UnrealizedProfit: parseFloat(p.UnRealizedProfit),
		})
	}
	return out, nil
}

func orderType(t types.OrderType) (futures.OrderType, error) {
	switch t {
	case types.OrderTypeLimit:
		return futures.OrderTypeLimit, nil
	case types.OrderTypeMarket:
		return futures.OrderTypeMarket, nil
	case types.OrderTypeStopLoss:
		return futures.OrderTypeStop, nil
	case types.OrderTypeTakeProfit:
		return futures.OrderTypeTakeProfit, nil
	default:
		return "", fmt.Errorf("binance: unsupported order type %q", t)
	}
}

func exchangeID(refID string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(refID), 10, 64)
	return n, err == nil && n > 0
}

// formatFixed renders v with exactly places decimals; quantities are
// truncated, prices rounded.
func formatFixed(v float64, places int, truncate bool) string {
	d := decimal.NewFromFloat(v)
	if truncate {
		d = d.Truncate(int32(places))
	} else {
		d = d.Round(int32(places))
	}
	return d.StringFixed(int32(places))
}

// Error codes that mean the request was never processed.
var unknownCodes = map[int64]bool{
	-1000: true, // UNKNOWN
	-1001: true, // DISCONNECTED
	-1006: true, // UNEXPECTED_RESP
	-1007: true, // TIMEOUT
	-1008: true, // server overloaded
}

// PriceDrift reports codes caused by the market moving past the order price.
func PriceDrift(code int64) bool {
	switch code {
	case -2021, -5022, -4131, -1013:
		return true
	default:
		return false
	}
}

// translateError maps API errors onto the gateway taxonomy. Transport
// errors pass through and classify as unknown.
func translateError(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == -2011 || apiErr.Code == -2013:
		return fmt.Errorf("%w: code=%d %s", exchange.ErrOrderNotFound, apiErr.Code, apiErr.Message)
	case unknownCodes[apiErr.Code]:
		return err
	default:
		return &exchange.RejectError{Code: apiErr.Code, Message: apiErr.Message, PriceDrift: PriceDrift(apiErr.Code)}
	}
}
