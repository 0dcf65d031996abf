// Package execution turns intents into exchange orders one at a time and keeps
// the order repository reconciled with the exchange.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"perpbot/internal/gateway/exchange"
	"perpbot/internal/gateway/notifier"
	"perpbot/internal/logger"
	"perpbot/internal/market"
	"perpbot/internal/metrics"
	"perpbot/internal/pkg/circuit"
	"perpbot/internal/store"
	"perpbot/internal/strategy"
	"perpbot/internal/types"
)

var (
	// ErrSlotBusy means another submission is in flight; the intent is dropped.
	ErrSlotBusy = errors.New("execution: order slot busy")
	// ErrGuardRejected means the repository already holds a conflicting order.
	ErrGuardRejected = errors.New("execution: guard rejected intent")
	ErrBreakerOpen   = errors.New("execution: gateway breaker open")
)

type Config struct {
	Exchange       string
	HedgeMode      bool
	GatewayTimeout time.Duration
	TimeSecCancel  time.Duration
	OrphanAfter    time.Duration
	CloseAllWait   time.Duration
	TakerFee       float64

	// RepoBreakerThreshold consecutive repository failures stop a sweep.
	RepoBreakerThreshold int
	RepoBreakerCooldown  time.Duration
}

// InfoSource supplies the precision used to round outgoing orders and the
// fallback price for local closes.
type InfoSource interface {
	SymbolInfo(ctx context.Context, symbol string) (market.SymbolInfo, error)
	Price(ctx context.Context, symbol string, maxAge time.Duration) (float64, error)
}

type submission struct {
	order  types.Order
	format exchange.OrderFormat
}

type Coordinator struct {
	cfg     Config
	repo    store.OrderRepository
	gw      exchange.Gateway
	slot    *Slot
	ledger  *Ledger
	info    InfoSource
	alerter notifier.Alerter
	metrics *metrics.Recorder
	breaker *circuit.CircuitBreaker
	sweeps  map[string]*circuit.CircuitBreaker

	queue chan submission
	nowFn func() time.Time
	newID func() string
}

func NewCoordinator(cfg Config, repo store.OrderRepository, gw exchange.Gateway, slot *Slot, ledger *Ledger,
	info InfoSource, alerter notifier.Alerter, m *metrics.Recorder, breaker *circuit.CircuitBreaker) *Coordinator {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.CloseAllWait <= 0 {
		cfg.CloseAllWait = 30 * time.Second
	}
	if breaker == nil {
		breaker = circuit.NewCircuitBreaker("gateway", 5, time.Minute)
	}
	if cfg.RepoBreakerThreshold <= 0 {
		cfg.RepoBreakerThreshold = 3
	}
	if cfg.RepoBreakerCooldown <= 0 {
		cfg.RepoBreakerCooldown = time.Minute
	}
	sweeps := make(map[string]*circuit.CircuitBreaker, 2)
	for _, name := range []string{sweepTimeout, sweepOrphan} {
		sweeps[name] = circuit.NewCircuitBreaker("repository:"+name, cfg.RepoBreakerThreshold, cfg.RepoBreakerCooldown)
	}
	c := &Coordinator{
		cfg:     cfg,
		repo:    repo,
		gw:      gw,
		slot:    slot,
		ledger:  ledger,
		info:    info,
		alerter: alerter,
		metrics: m,
		breaker: breaker,
		sweeps:  sweeps,
		queue:   make(chan submission, 1),
		nowFn:   time.Now,
		newID:   uuid.NewString,
	}
	return c
}

func (c *Coordinator) Exchange() string { return c.cfg.Exchange }

func (c *Coordinator) Ledger() *Ledger { return c.ledger }

func (c *Coordinator) Slot() *Slot { return c.slot }

// Gaps returns the current ledger gaps for a bot's symbol.
func (c *Coordinator) Gaps(ctx context.Context, botID, symbol string) (map[types.OrderKind]int64, error) {
	return c.ledger.Gaps(ctx, botID, symbol)
}

// ResetGap clears the backoff counter for one ledger key on operator request.
func (c *Coordinator) ResetGap(ctx context.Context, botID, symbol string, kind types.OrderKind) error {
	logger.Infof("[exec] operator gap reset bot=%s %s %s", botID, symbol, kind)
	return c.ledger.Reset(ctx, botID, symbol, kind)
}

// Submit converts an intent into an order and hands it to the dispatcher.
// Cancels run inline and do not take the slot.
func (c *Coordinator) Submit(ctx context.Context, botID string, it strategy.Intent) error {
	if it.IsNone() {
		return nil
	}
	c.metrics.Intent(botID, string(it.Kind))
	if it.Kind == strategy.IntentCancelOrder {
		if it.Order == nil {
			return fmt.Errorf("%w: cancel without order", ErrGuardRejected)
		}
		_, err := c.cancelOrder(ctx, *it.Order, "strategy: "+it.Reason, it.PriceDrift)
		return err
	}
	if !c.breaker.Allow() {
		return ErrBreakerOpen
	}
	info, err := c.info.SymbolInfo(ctx, it.Symbol)
	if err != nil {
		return fmt.Errorf("symbol info %s: %w", it.Symbol, err)
	}
	order, err := c.buildOrder(botID, it, info)
	if err != nil {
		return err
	}
	ok, err := c.slot.Acquire(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("acquire slot: %w", err)
	}
	if !ok {
		c.metrics.SlotBusy(botID)
		return ErrSlotBusy
	}
	// the guard reads the repository only while the slot is held, so an order
	// that was in flight is already persisted when it looks
	if err := c.guard(ctx, botID, it); err != nil {
		c.releaseSlot(order.ID)
		return err
	}
	sub := submission{order: order, format: exchange.OrderFormat{
		PricePrecision: info.PricePrecision,
		QtyPrecision:   info.QtyPrecision,
		ReduceOnly:     order.OpenOrderID != "",
		HedgeMode:      c.cfg.HedgeMode,
	}}
	select {
	case c.queue <- sub:
		logger.Infof("[exec] %s queued %s %s %s qty=%s price=%s (%s)", botID, order.Kind(), order.Symbol, order.Side,
			info.FormatQty(order.Qty), info.FormatPrice(order.OpenPrice), it.Reason)
		return nil
	default:
		// the previous holder's TTL lapsed while the dispatcher is still busy
		c.releaseSlot(order.ID)
		c.metrics.SlotBusy(botID)
		return ErrSlotBusy
	}
}

// guard re-reads the repository so two racing evaluator cycles cannot both
// pass the evaluator's own checks. Callers hold the slot.
func (c *Coordinator) guard(ctx context.Context, botID string, it strategy.Intent) error {
	switch it.Kind {
	case strategy.IntentOpenLong, strategy.IntentOpenShort:
		if it.MinGap <= 0 {
			return nil
		}
		near, err := c.repo.NearestOrder(ctx, it.Symbol, botID, it.PositionSide, it.Price)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("nearest order: %w", err)
		}
		if math.Abs(near.OpenPrice-it.Price) < it.MinGap {
			return fmt.Errorf("%w: sibling %s at %.8g within %.8g", ErrGuardRejected, near.ID, near.OpenPrice, it.MinGap)
		}
		return nil
	case strategy.IntentPlaceStopLoss, strategy.IntentPlaceTakeProfit:
		if it.Order == nil {
			return fmt.Errorf("%w: bracket without parent", ErrGuardRejected)
		}
		linked, err := c.repo.LinkedOrder(ctx, it.Order.ID, it.OrderType())
		if errors.Is(err, store.ErrNotFound) {
			return c.parentOpen(ctx, it.Order.ID)
		}
		if err != nil {
			return fmt.Errorf("linked order: %w", err)
		}
		return fmt.Errorf("%w: %s already live for %s", ErrGuardRejected, linked.ID, it.Order.ID)
	case strategy.IntentCloseAtMarket:
		if it.Order == nil {
			return fmt.Errorf("%w: close without parent", ErrGuardRejected)
		}
		return c.parentOpen(ctx, it.Order.ID)
	default:
		return fmt.Errorf("%w: unsupported intent %s", ErrGuardRejected, it.Kind)
	}
}

func (c *Coordinator) parentOpen(ctx context.Context, id string) error {
	parent, err := c.repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("parent %s: %w", id, err)
	}
	if parent.Closed() || parent.Status != types.OrderStatusFilled {
		return fmt.Errorf("%w: parent %s is %s closed=%t", ErrGuardRejected, id, parent.Status, parent.Closed())
	}
	return nil
}

func (c *Coordinator) buildOrder(botID string, it strategy.Intent, info market.SymbolInfo) (types.Order, error) {
	o := types.Order{
		ID:           c.newID(),
		Exchange:     c.cfg.Exchange,
		BotID:        botID,
		Symbol:       it.Symbol,
		Side:         it.Side,
		PositionSide: it.PositionSide,
		Type:         it.OrderType(),
		Status:       types.OrderStatusNew,
		Qty:          info.FloorQty(it.Qty),
		OpenPrice:    info.RoundPrice(it.Price),
		OpenTime:     c.nowFn(),
		Note:         it.Reason,
	}
	if !c.cfg.HedgeMode {
		o.PositionSide = types.PositionSideBoth
	}
	if it.StopPrice > 0 {
		o.StopPrice = info.RoundPrice(it.StopPrice)
	}
	if it.Order != nil {
		o.OpenOrderID = it.Order.ID
	}
	if o.Qty <= 0 {
		return types.Order{}, fmt.Errorf("%w: qty %.8g rounds to zero", ErrGuardRejected, it.Qty)
	}
	if o.Type != types.OrderTypeMarket && o.OpenPrice <= 0 {
		return types.Order{}, fmt.Errorf("%w: price %.8g rounds to zero", ErrGuardRejected, it.Price)
	}
	return o, nil
}

// releaseSlot runs on a detached context so shutdown still clears the marker.
func (c *Coordinator) releaseSlot(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.slot.Release(ctx, token); err != nil {
		logger.Errorf("[slot] release %s failed: %v", token, err)
	}
}

func (c *Coordinator) alert(ctx context.Context, source, title string, lines ...string) {
	if c.alerter == nil {
		return
	}
	c.alerter.Alert(ctx, source, title, lines...)
}

func (c *Coordinator) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.GatewayTimeout)
}

// gatewayFailed feeds the breaker and alerts on the transition to open.
func (c *Coordinator) gatewayFailed(ctx context.Context, op string, err error) {
	if c.breaker.RecordFailure() {
		c.alert(ctx, "gateway", "exchange gateway breaker opened", "op="+op, "err="+err.Error())
	}
}

func (c *Coordinator) observe(op string, start time.Time) {
	c.metrics.GatewayLatency(op, c.nowFn().Sub(start).Seconds())
}

func note(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "; ")
}
