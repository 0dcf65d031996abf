package execution

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"perpbot/internal/cache"
	"perpbot/internal/gateway/exchange"
	"perpbot/internal/market"
	"perpbot/internal/store"
	"perpbot/internal/types"
)

type memRepo struct {
	mu      sync.Mutex
	orders  map[string]types.Order
	events  []store.OrderEvent
	upserts int
}

func newMemRepo(orders ...types.Order) *memRepo {
	r := &memRepo{orders: make(map[string]types.Order)}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *memRepo) Upsert(_ context.Context, o types.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = o
	r.upserts++
	return nil
}

func (r *memRepo) FindByID(_ context.Context, id string) (types.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return types.Order{}, store.ErrNotFound
	}
	return o, nil
}

func (r *memRepo) filter(fn func(types.Order) bool) []types.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Order
	for _, o := range r.orders {
		if fn(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out
}

func botMatch(want, got string) bool { return want == "" || want == got }

// storedSide matches on the persisted position_side column and, for one-way
// rows, the order side; the same filter gormstore applies.
func storedSide(o types.Order, side types.PositionSide) bool {
	if side != types.PositionSideLong && side != types.PositionSideShort {
		return true
	}
	if o.PositionSide == side {
		return true
	}
	if o.PositionSide != types.PositionSideBoth && o.PositionSide != "" {
		return false
	}
	if side == types.PositionSideLong {
		return o.Side == types.SideBuy
	}
	return o.Side == types.SideSell
}

func (r *memRepo) OpenOrders(_ context.Context, botID string) ([]types.Order, error) {
	return r.filter(func(o types.Order) bool { return botMatch(botID, o.BotID) && o.Active() }), nil
}

func (r *memRepo) NewOrders(_ context.Context, botID string) ([]types.Order, error) {
	return r.filter(func(o types.Order) bool { return botMatch(botID, o.BotID) && o.Status == types.OrderStatusNew }), nil
}

func (r *memRepo) FilledOrders(_ context.Context, exch, botID string, side types.PositionSide) ([]types.Order, error) {
	return r.filter(func(o types.Order) bool {
		return botMatch(botID, o.BotID) && (exch == "" || o.Exchange == exch) && o.IsOpening() &&
			o.Status == types.OrderStatusFilled && !o.Closed() && storedSide(o, side)
	}), nil
}

func (r *memRepo) NearestOrder(ctx context.Context, symbol, botID string, side types.PositionSide, price float64) (types.Order, error) {
	sibs, _ := r.SiblingOrders(ctx, symbol, botID, side)
	if len(sibs) == 0 {
		return types.Order{}, store.ErrNotFound
	}
	best := sibs[0]
	for _, o := range sibs[1:] {
		if math.Abs(o.OpenPrice-price) < math.Abs(best.OpenPrice-price) {
			best = o
		}
	}
	return best, nil
}

func (r *memRepo) SiblingOrders(_ context.Context, symbol, botID string, side types.PositionSide) ([]types.Order, error) {
	return r.filter(func(o types.Order) bool {
		return o.Symbol == symbol && botMatch(botID, o.BotID) && o.IsOpening() && o.Active() && storedSide(o, side)
	}), nil
}

func (r *memRepo) LinkedOrder(_ context.Context, openID string, typ types.OrderType) (types.Order, error) {
	out := r.filter(func(o types.Order) bool { return o.OpenOrderID == openID && o.Type == typ && o.Status.Live() })
	if len(out) == 0 {
		return types.Order{}, store.ErrNotFound
	}
	return out[0], nil
}

func (r *memRepo) AppendEvent(_ context.Context, evt store.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *memRepo) Events(_ context.Context, id string, _ int) ([]store.OrderEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.OrderEvent
	for _, e := range r.events {
		if e.OrderID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memRepo) Close() error { return nil }

func (r *memRepo) get(id string) types.Order {
	o, _ := r.FindByID(context.Background(), id)
	return o
}

type mockGateway struct{ mock.Mock }

func (m *mockGateway) Name() string { return "binance" }

func (m *mockGateway) GetOrder(ctx context.Context, symbol, id, refID string) (types.OrderState, error) {
	args := m.Called(ctx, symbol, id, refID)
	return args.Get(0).(types.OrderState), args.Error(1)
}

func (m *mockGateway) PlaceOrder(ctx context.Context, o types.Order, f exchange.OrderFormat) (types.OrderState, error) {
	args := m.Called(ctx, o, f)
	return args.Get(0).(types.OrderState), args.Error(1)
}

func (m *mockGateway) CancelOrder(ctx context.Context, symbol, id, refID string) (types.OrderState, error) {
	args := m.Called(ctx, symbol, id, refID)
	return args.Get(0).(types.OrderState), args.Error(1)
}

func (m *mockGateway) GetPositionRisk(ctx context.Context, symbol string) ([]types.Position, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).([]types.Position), args.Error(1)
}

type fixedInfo struct {
	info  market.SymbolInfo
	price float64
}

func (f fixedInfo) SymbolInfo(context.Context, string) (market.SymbolInfo, error) { return f.info, nil }

func (f fixedInfo) Price(context.Context, string, time.Duration) (float64, error) {
	if f.price <= 0 {
		return 0, market.ErrNotReady
	}
	return f.price, nil
}

type recordedAlert struct{ source, title string }

type alertLog struct {
	mu     sync.Mutex
	alerts []recordedAlert
}

func (a *alertLog) Alert(_ context.Context, source, title string, _ ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, recordedAlert{source, title})
}

func (a *alertLog) count(source string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, x := range a.alerts {
		if x.source == source {
			n++
		}
	}
	return n
}

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type harness struct {
	c      *Coordinator
	repo   *memRepo
	gw     *mockGateway
	cache  *cache.Memory
	alerts *alertLog
	now    time.Time
}

func newHarness(orders ...types.Order) *harness {
	h := &harness{
		repo:   newMemRepo(orders...),
		gw:     &mockGateway{},
		cache:  cache.NewMemory(),
		alerts: &alertLog{},
		now:    t0,
	}
	slot := NewSlot(h.cache, "binance", "main", time.Minute, 30*time.Second, h.alerts)
	slot.nowFn = func() time.Time { return h.now }
	ledger := NewLedger(h.cache, "binance", 5, nil)
	info := fixedInfo{info: market.SymbolInfo{Symbol: "BTCUSDT", PricePrecision: 2, QtyPrecision: 3}, price: 100}
	h.c = NewCoordinator(Config{
		Exchange:       "binance",
		HedgeMode:      true,
		GatewayTimeout: time.Second,
		TimeSecCancel:  60 * time.Second,
		OrphanAfter:    4 * time.Hour,
		CloseAllWait:   2 * time.Second,
		TakerFee:       0.0005,
	}, h.repo, h.gw, slot, ledger, info, h.alerts, nil, nil)
	h.c.nowFn = func() time.Time { return h.now }
	return h
}

// racingRepo runs a hook on the first NearestOrder call, standing in for a
// dispatch that completes while the guard is reading.
type racingRepo struct {
	*memRepo
	onNearest func()
	nearest   int
}

func (r *racingRepo) NearestOrder(ctx context.Context, symbol, botID string, side types.PositionSide, price float64) (types.Order, error) {
	r.nearest++
	if r.onNearest != nil {
		hook := r.onNearest
		r.onNearest = nil
		hook()
	}
	return r.memRepo.NearestOrder(ctx, symbol, botID, side, price)
}

// downRepo fails every read the sweeps make.
type downRepo struct {
	*memRepo
	err error
}

func (r *downRepo) OpenOrders(context.Context, string) ([]types.Order, error) { return nil, r.err }

func (r *downRepo) FilledOrders(context.Context, string, string, types.PositionSide) ([]types.Order, error) {
	return nil, r.err
}
