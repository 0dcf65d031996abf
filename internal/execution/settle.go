package execution

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"perpbot/internal/logger"
	"perpbot/internal/types"
)

// settlement returns profit after fees and the fees themselves for closing
// parent at closePrice.
func settlement(parent types.Order, closePrice, takerFee float64) (pl, fee float64) {
	qty := decimal.NewFromFloat(parent.Qty)
	open := decimal.NewFromFloat(parent.OpenPrice)
	closeP := decimal.NewFromFloat(closePrice)
	f := open.Mul(qty).Add(closeP.Mul(qty)).Mul(decimal.NewFromFloat(takerFee))
	gross := closeP.Sub(open).Mul(qty).Mul(decimal.NewFromInt(int64(parent.Direction())))
	pl, _ = gross.Sub(f).Round(8).Float64()
	fee, _ = f.Round(8).Float64()
	return pl, fee
}

func (c *Coordinator) onFill(ctx context.Context, order types.Order) {
	if err := c.ledger.Reset(ctx, order.BotID, order.Symbol, order.Kind()); err != nil {
		logger.Warnf("[exec] ledger reset %s/%s failed: %v", order.Symbol, order.Kind(), err)
	}
	if order.IsOpening() || order.OpenOrderID == "" {
		return
	}
	if err := c.settle(ctx, order); err != nil {
		c.alert(ctx, "settlement", "parent order not settled", "child="+order.ID, "parent="+order.OpenOrderID, "err="+err.Error())
	}
}

// settle closes the opening order a filled exit refers to and cancels its
// other live brackets.
func (c *Coordinator) settle(ctx context.Context, child types.Order) error {
	parent, err := c.repo.FindByID(ctx, child.OpenOrderID)
	if err != nil {
		return err
	}
	if parent.Closed() {
		return nil
	}
	closePrice := child.ClosePrice
	if closePrice <= 0 {
		closePrice = child.OpenPrice
	}
	if closePrice <= 0 {
		if closePrice, err = c.info.Price(ctx, child.Symbol, 0); err != nil {
			return fmt.Errorf("no close price: %w", err)
		}
	}
	pl, fee := settlement(parent, closePrice, c.cfg.TakerFee)
	parent.ClosePrice = closePrice
	parent.CloseTime = c.nowFn()
	parent.Commission = fee
	parent.PL = pl
	parent.Note = note(parent.Note, fmt.Sprintf("closed by %s %s", child.Kind(), child.ID))
	if err := c.commit(ctx, types.OrderStatusFilled, parent, "settled", map[string]any{
		"child": child.ID, "close_price": closePrice, "pl": pl, "commission": fee,
	}); err != nil {
		return err
	}
	logger.Infof("[exec] %s %s settled by %s close=%.8g pl=%.4f", parent.BotID, parent.ID, child.Kind(), closePrice, pl)

	for _, typ := range []types.OrderType{types.OrderTypeStopLoss, types.OrderTypeTakeProfit} {
		if typ == child.Type {
			continue
		}
		linked, err := c.repo.LinkedOrder(ctx, parent.ID, typ)
		if err != nil {
			continue
		}
		if _, err := c.cancelOrder(ctx, linked, "parent closed", false); err != nil {
			logger.Warnf("[exec] cancel leftover %s for %s: %v", linked.ID, parent.ID, err)
		}
	}
	return nil
}
