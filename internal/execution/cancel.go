package execution

import (
	"context"
	"fmt"

	"perpbot/internal/gateway/exchange"
	"perpbot/internal/logger"
	"perpbot/internal/types"
)

// cancelOrder cancels o on the exchange and records whatever the exchange
// reports afterwards. drift marks cancels that count against the ledger.
func (c *Coordinator) cancelOrder(ctx context.Context, o types.Order, reason string, drift bool) (types.Order, error) {
	prev := o.Status
	kind := string(o.Kind())

	cctx, cancel := c.gatewayCtx(ctx)
	start := c.nowFn()
	state, err := c.gw.CancelOrder(cctx, o.Symbol, o.ID, o.RefID)
	cancel()
	c.observe("cancel", start)

	outcome, _ := exchange.Classify(err)
	switch {
	case err == nil:
		c.breaker.RecordSuccess()
		if state.Status == "" {
			state.Status = types.OrderStatusCanceled
		}
		o = adopt(o, state)
	case outcome == exchange.OutcomeNotFound:
		o.Status = types.OrderStatusCanceled
		o.Note = note(o.Note, "not found on exchange at cancel")
	default:
		if outcome == exchange.OutcomeUnknown {
			c.gatewayFailed(ctx, "cancel", err)
		}
		resolved, qerr := c.query(ctx, o)
		if qerr != nil {
			return o, fmt.Errorf("cancel %s unconfirmed: %w", o.ID, err)
		}
		o = resolved
	}
	if o.Status.Live() {
		return o, fmt.Errorf("cancel %s: exchange still shows %s", o.ID, o.Status)
	}
	o.Note = note(o.Note, reason)
	if o.Status == types.OrderStatusCanceled && drift {
		c.recordDrift(ctx, o)
	}
	if err := c.commit(ctx, prev, o, reason, nil); err != nil {
		return o, err
	}
	c.metrics.Order(kind, "canceled")
	if released, err := c.slot.Release(context.WithoutCancel(ctx), o.ID); err == nil && released {
		logger.Infof("[exec] released slot held by canceled %s", o.ID)
	}
	logger.Infof("[exec] %s %s %s -> %s (%s)", o.BotID, o.ID, prev, o.Status, reason)
	return o, nil
}

// query re-reads an order. "No such order" resolves to CANCELED.
func (c *Coordinator) query(ctx context.Context, o types.Order) (types.Order, error) {
	qctx, cancel := c.gatewayCtx(ctx)
	start := c.nowFn()
	state, err := c.gw.GetOrder(qctx, o.Symbol, o.ID, o.RefID)
	cancel()
	c.observe("get", start)
	outcome, _ := exchange.Classify(err)
	switch {
	case err == nil:
		c.breaker.RecordSuccess()
		return adopt(o, state), nil
	case outcome == exchange.OutcomeNotFound:
		o.Status = types.OrderStatusCanceled
		o.Note = note(o.Note, "not found on exchange")
		return o, nil
	default:
		if outcome == exchange.OutcomeUnknown {
			c.gatewayFailed(ctx, "get", err)
		}
		return o, err
	}
}
