package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"perpbot/internal/logger"
	"perpbot/internal/strategy"
	"perpbot/internal/types"
)

// CloseAllReport summarizes an operator unwind.
type CloseAllReport struct {
	Canceled []string `json:"canceled"`
	Closed   []string `json:"closed"`
	Failed   []string `json:"failed"`
}

// CloseAll cancels resting orders and flattens every filled opening order of
// botID (all bots when empty) with reduce-only market orders. Each close
// waits for the slot like any other submission.
func (c *Coordinator) CloseAll(ctx context.Context, botID string) (CloseAllReport, error) {
	var rep CloseAllReport
	resting, err := c.repo.NewOrders(ctx, botID)
	if err != nil {
		return rep, fmt.Errorf("close-all new orders: %w", err)
	}
	for _, o := range resting {
		if _, err := c.cancelOrder(ctx, o, "close-all", false); err != nil {
			rep.Failed = append(rep.Failed, fmt.Sprintf("%s: %v", o.ID, err))
			continue
		}
		rep.Canceled = append(rep.Canceled, o.ID)
	}

	filled, err := c.repo.FilledOrders(ctx, c.cfg.Exchange, botID, "")
	if err != nil {
		return rep, fmt.Errorf("close-all filled orders: %w", err)
	}
	for _, o := range filled {
		o := o
		it := strategy.Intent{
			Kind:         strategy.IntentCloseAtMarket,
			Symbol:       o.Symbol,
			Side:         o.Side.Opposite(),
			PositionSide: o.PositionSide,
			Qty:          o.Qty,
			Order:        &o,
			Reason:       "close-all",
		}
		if err := c.submitWaiting(ctx, o.BotID, it); err != nil {
			rep.Failed = append(rep.Failed, fmt.Sprintf("%s: %v", o.ID, err))
			continue
		}
		rep.Closed = append(rep.Closed, o.ID)
	}
	logger.Infof("[exec] close-all bot=%q canceled=%d closing=%d failed=%d", botID, len(rep.Canceled), len(rep.Closed), len(rep.Failed))
	return rep, nil
}

func (c *Coordinator) submitWaiting(ctx context.Context, botID string, it strategy.Intent) error {
	deadline := c.nowFn().Add(c.cfg.CloseAllWait)
	for {
		err := c.Submit(ctx, botID, it)
		if !errors.Is(err, ErrSlotBusy) {
			return err
		}
		if !c.nowFn().Before(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// OpenOrders is a read-through for the admin surface.
func (c *Coordinator) OpenOrders(ctx context.Context, botID string) ([]types.Order, error) {
	return c.repo.OpenOrders(ctx, botID)
}
