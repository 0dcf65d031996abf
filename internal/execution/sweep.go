package execution

import (
	"context"
	"fmt"
	"math"
	"sort"

	"perpbot/internal/logger"
	"perpbot/internal/scheduler"
	"perpbot/internal/types"
)

const (
	sweepTimeout = "timeout"
	sweepOrphan  = "orphan"
)

// repoFailed feeds the sweep's repository breaker. Once it opens the sweep
// alerts and stops; the other tasks keep running.
func (c *Coordinator) repoFailed(ctx context.Context, sweep string, err error) error {
	if c.sweeps[sweep].RecordFailure() {
		c.alert(ctx, "repository", "order repository unreachable", "sweep="+sweep, "err="+err.Error())
		return scheduler.Fatal(fmt.Errorf("%s sweep: repository: %w", sweep, err))
	}
	return fmt.Errorf("%s sweep: %w", sweep, err)
}

// TimeoutSweep resolves resting orders older than the cancel timeout. The
// exchange state wins: terminal orders are adopted, live ones canceled.
func (c *Coordinator) TimeoutSweep(ctx context.Context) error {
	if c.cfg.TimeSecCancel <= 0 {
		return nil
	}
	orders, err := c.repo.OpenOrders(ctx, "")
	if err != nil {
		return c.repoFailed(ctx, sweepTimeout, err)
	}
	c.sweeps[sweepTimeout].RecordSuccess()
	now := c.nowFn()
	for _, o := range orders {
		if ctx.Err() != nil {
			return nil
		}
		if !o.Status.Live() || o.Age(now) <= c.cfg.TimeSecCancel {
			continue
		}
		c.sweepOne(ctx, o)
	}
	return nil
}

func (c *Coordinator) sweepOne(ctx context.Context, o types.Order) {
	prev := o.Status
	resolved, err := c.query(ctx, o)
	if err != nil {
		c.metrics.Sweep("timeout", "unknown")
		logger.Warnf("[sweep] %s state unknown, retry next sweep: %v", o.ID, err)
		return
	}
	if resolved.Status.Live() {
		if _, err := c.cancelOrder(ctx, o, "timeout", true); err != nil {
			c.metrics.Sweep("timeout", "cancel_failed")
			logger.Warnf("[sweep] cancel %s failed: %v", o.ID, err)
			return
		}
		c.metrics.Sweep("timeout", "canceled")
		return
	}
	if resolved.Status == types.OrderStatusCanceled && o.Status == types.OrderStatusNew {
		resolved.Note = note(resolved.Note, "canceled on exchange")
	}
	if err := c.commit(ctx, prev, resolved, "timeout sweep adopted exchange state", nil); err != nil {
		c.metrics.Sweep("timeout", "persist_failed")
		return
	}
	if _, err := c.slot.Release(context.WithoutCancel(ctx), o.ID); err != nil {
		logger.Warnf("[sweep] release slot for %s: %v", o.ID, err)
	}
	c.metrics.Sweep("timeout", "adopted")
	logger.Infof("[sweep] %s %s -> %s from exchange", o.ID, prev, resolved.Status)
}

type exposureKey struct {
	symbol string
	side   types.PositionSide
}

// OrphanSweep closes, locally, filled opening orders the exchange position
// no longer carries. Only position risk is read; no order is sent.
func (c *Coordinator) OrphanSweep(ctx context.Context) error {
	orders, err := c.repo.FilledOrders(ctx, c.cfg.Exchange, "", "")
	if err != nil {
		return c.repoFailed(ctx, sweepOrphan, err)
	}
	c.sweeps[sweepOrphan].RecordSuccess()
	now := c.nowFn()
	old := 0
	for _, o := range orders {
		if o.PositionSide != "" && o.Age(now) > c.cfg.OrphanAfter {
			old++
		}
	}
	if old == 0 {
		return nil
	}

	pctx, cancel := c.gatewayCtx(ctx)
	start := c.nowFn()
	positions, err := c.gw.GetPositionRisk(pctx, "")
	cancel()
	c.observe("position_risk", start)
	if err != nil {
		c.gatewayFailed(ctx, "position_risk", err)
		return fmt.Errorf("orphan sweep positions: %w", err)
	}
	c.breaker.RecordSuccess()

	held := make(map[exposureKey]float64)
	marks := make(map[string]float64)
	for _, p := range positions {
		held[exposureKey{p.Symbol, p.Held()}] += p.Size()
		if p.MarkPrice > 0 {
			marks[p.Symbol] = p.MarkPrice
		}
	}
	local := make(map[exposureKey][]types.Order)
	for _, o := range orders {
		if o.PositionSide == "" {
			continue
		}
		k := exposureKey{o.Symbol, o.HeldSide()}
		local[k] = append(local[k], o)
	}

	for k, group := range local {
		sort.SliceStable(group, func(i, j int) bool { return group[i].OpenTime.Before(group[j].OpenTime) })
		sum := 0.0
		for _, o := range group {
			sum += o.Qty
		}
		surplus := sum - held[k]
		for _, o := range group {
			if surplus < o.Qty-qtyEpsilon {
				break
			}
			if o.Age(now) <= c.cfg.OrphanAfter {
				continue
			}
			if err := c.closeOrphan(ctx, o, marks[o.Symbol], held[k]); err != nil {
				logger.Warnf("[orphan] %s: %v", o.ID, err)
				continue
			}
			surplus -= o.Qty
		}
	}
	return nil
}

const qtyEpsilon = 1e-9

func (c *Coordinator) closeOrphan(ctx context.Context, o types.Order, mark, positionAmt float64) error {
	if mark <= 0 {
		p, err := c.info.Price(ctx, o.Symbol, 0)
		if err != nil {
			return fmt.Errorf("no mark price: %w", err)
		}
		mark = p
	}
	pl, fee := settlement(o, mark, c.cfg.TakerFee)
	o.ClosePrice = mark
	o.CloseTime = c.nowFn()
	o.PL = pl
	o.Commission = fee
	o.Note = note(o.Note, fmt.Sprintf("orphan: position %s holds %.8g", o.HeldSide(), math.Abs(positionAmt)))
	if err := c.commit(ctx, types.OrderStatusFilled, o, "orphan reconciled", map[string]any{
		"position_amt": positionAmt, "mark_price": mark,
	}); err != nil {
		return err
	}
	c.metrics.Sweep("orphan", "closed")
	logger.Infof("[orphan] %s %s %s closed locally at %.8g", o.BotID, o.Symbol, o.ID, mark)
	return nil
}
