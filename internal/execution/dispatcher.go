package execution

import (
	"context"
	"fmt"

	"perpbot/internal/gateway/exchange"
	"perpbot/internal/logger"
	"perpbot/internal/store"
	"perpbot/internal/types"
)

// Dispatcher places queued orders and resolves their outcome.
type Dispatcher struct {
	c *Coordinator
}

func (c *Coordinator) Dispatcher() *Dispatcher {
	return &Dispatcher{c: c}
}

// Run consumes submissions until ctx is done, then releases the marker of
// anything still queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.drain()
	for {
		select {
		case <-ctx.Done():
			return nil
		case sub := <-d.c.queue:
			d.c.dispatch(ctx, sub)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case sub := <-d.c.queue:
			logger.Warnf("[exec] shutdown dropped queued order %s", sub.order.ID)
			d.c.releaseSlot(sub.order.ID)
		default:
			return
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, sub submission) {
	order := sub.order
	defer c.releaseSlot(order.ID)

	pctx, cancel := c.gatewayCtx(ctx)
	start := c.nowFn()
	state, err := c.gw.PlaceOrder(pctx, order, sub.format)
	cancel()
	c.observe("place", start)

	order = c.resolvePlacement(ctx, order, state, err)
	if err := c.commit(ctx, "", order, "placed", map[string]any{"note": order.Note}); err != nil {
		logger.Errorf("[exec] persist %s failed: %v", order.ID, err)
	}
}

// resolvePlacement never guesses: an error that is not a definitive reject
// is followed by a re-query of the exchange.
func (c *Coordinator) resolvePlacement(ctx context.Context, order types.Order, state types.OrderState, err error) types.Order {
	kind := string(order.Kind())
	outcome, rej := exchange.Classify(err)
	switch {
	case err == nil:
		c.breaker.RecordSuccess()
		c.metrics.Order(kind, "ack")
		return adopt(order, state)
	case outcome == exchange.OutcomeRejected:
		c.breaker.RecordSuccess()
		c.metrics.Order(kind, "rejected")
		order.Status = types.OrderStatusRejected
		order.Note = note(order.Note, rej.Error())
		logger.Warnf("[exec] %s %s rejected: %v", order.Kind(), order.ID, rej)
		if rej.PriceDrift {
			c.recordDrift(ctx, order)
		}
		return order
	}

	c.gatewayFailed(ctx, "place", err)
	logger.Warnf("[exec] place %s outcome unknown, re-querying: %v", order.ID, err)
	qctx, cancel := c.gatewayCtx(context.WithoutCancel(ctx))
	state, qerr := c.gw.GetOrder(qctx, order.Symbol, order.ID, "")
	cancel()
	qout, _ := exchange.Classify(qerr)
	switch {
	case qerr == nil:
		c.metrics.Order(kind, "recovered")
		return adopt(order, state)
	case qout == exchange.OutcomeNotFound:
		c.metrics.Order(kind, "lost")
		order.Status = types.OrderStatusRejected
		order.Note = note(order.Note, "not on exchange after failed placement")
		return order
	default:
		// left NEW; the timeout sweep resolves it
		c.metrics.Order(kind, "unknown")
		order.Note = note(order.Note, "placement outcome unknown")
		return order
	}
}

// adopt takes the exchange's state as truth. A canceled opening order with
// executed quantity left a position behind and counts as filled.
func adopt(order types.Order, state types.OrderState) types.Order {
	if state.RefID != "" {
		order.RefID = state.RefID
	}
	status := state.Status
	if status == "" {
		status = order.Status
	}
	if (status == types.OrderStatusCanceled || status == types.OrderStatusExpired) && state.ExecutedQty > 0 && order.IsOpening() {
		order.Note = note(order.Note, fmt.Sprintf("partially filled %.8g before %s", state.ExecutedQty, status))
		status = types.OrderStatusFilled
	}
	order.Status = status
	if status == types.OrderStatusFilled {
		if state.ExecutedQty > 0 {
			order.Qty = state.ExecutedQty
		}
		if state.AvgPrice > 0 {
			if order.IsOpening() {
				order.OpenPrice = state.AvgPrice
			} else {
				order.ClosePrice = state.AvgPrice
			}
		}
	}
	return order
}

// commit persists the order and its audit event, then applies fill effects.
// It runs detached from ctx so a shutdown does not lose the write.
func (c *Coordinator) commit(ctx context.Context, from types.OrderStatus, order types.Order, reason string, detail map[string]any) error {
	bg := context.WithoutCancel(ctx)
	if err := c.repo.Upsert(bg, order); err != nil {
		c.alert(bg, "repository", "order state not persisted",
			"order="+order.ID, "status="+string(order.Status), "err="+err.Error())
		return err
	}
	{
		evt := store.OrderEvent{OrderID: order.ID, From: from, To: order.Status, Reason: reason, Detail: detail, At: c.nowFn()}
		if err := c.repo.AppendEvent(bg, evt); err != nil {
			logger.Warnf("[exec] event for %s not recorded: %v", order.ID, err)
		}
	}
	if order.Status == types.OrderStatusFilled && from != types.OrderStatusFilled {
		c.onFill(bg, order)
	}
	return nil
}

func (c *Coordinator) recordDrift(ctx context.Context, order types.Order) {
	n, err := c.ledger.Increment(context.WithoutCancel(ctx), order.BotID, order.Symbol, order.Kind())
	if err != nil {
		logger.Errorf("[exec] ledger increment %s/%s failed: %v", order.Symbol, order.Kind(), err)
		return
	}
	logger.Infof("[exec] %s %s %s failures=%d", order.BotID, order.Symbol, order.Kind(), n)
}
