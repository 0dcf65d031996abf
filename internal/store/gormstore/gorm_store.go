package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"perpbot/internal/store"
	"perpbot/internal/types"
)

var liveStatuses = []string{
	string(types.OrderStatusNew),
	string(types.OrderStatusPartiallyFilled),
}

var activeStatuses = []string{
	string(types.OrderStatusNew),
	string(types.OrderStatusPartiallyFilled),
	string(types.OrderStatusFilled),
}

var openingTypes = []string{
	string(types.OrderTypeLimit),
	string(types.OrderTypeMarket),
}

// GormStore implements store.OrderRepository using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

var _ store.OrderRepository = (*GormStore)(nil)

// NewGormStore opens (and migrates) the order database at path.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: order db path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&orderModel{}, &orderEventModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for admin reads, low lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database answers; used at startup.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Upsert(ctx context.Context, order types.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return fmt.Errorf("gorm store: order id is required")
	}
	m := newOrderModel(order, time.Now())
	cols := []string{
		"ref_id", "exchange", "bot_id", "symbol", "side", "position_side", "type", "status",
		"qty", "open_price", "stop_price", "close_price", "commission", "pl", "open_order_id",
		"open_time", "close_time", "note", "updated_at",
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(cols),
		}).
		Create(&m).Error
}

func (s *GormStore) FindByID(ctx context.Context, id string) (types.Order, error) {
	var m orderModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Order{}, store.ErrNotFound
	}
	if err != nil {
		return types.Order{}, err
	}
	return m.toOrder(), nil
}

func (s *GormStore) OpenOrders(ctx context.Context, botID string) ([]types.Order, error) {
	q := s.scope(ctx, botID).
		Where("close_time = 0").
		Where("status IN ?", activeStatuses)
	return s.find(q.Order("open_time ASC"))
}

func (s *GormStore) NewOrders(ctx context.Context, botID string) ([]types.Order, error) {
	q := s.scope(ctx, botID).Where("status = ?", string(types.OrderStatusNew))
	return s.find(q.Order("open_time ASC"))
}

func (s *GormStore) FilledOrders(ctx context.Context, exchange, botID string, side types.PositionSide) ([]types.Order, error) {
	q := s.scope(ctx, botID).
		Where("status = ?", string(types.OrderStatusFilled)).
		Where("close_time = 0").
		Where("open_order_id = ''").
		Where("type IN ?", openingTypes)
	if exchange != "" {
		q = q.Where("exchange = ?", exchange)
	}
	return s.find(heldSide(q, side).Order("open_time ASC"))
}

func (s *GormStore) NearestOrder(ctx context.Context, symbol, botID string, side types.PositionSide, price float64) (types.Order, error) {
	q := s.activeOpening(ctx, symbol, botID, side).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "ABS(open_price - ?) ASC",
			Vars:               []any{price},
			WithoutParentheses: true,
		}})
	var m orderModel
	err := q.Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Order{}, store.ErrNotFound
	}
	if err != nil {
		return types.Order{}, err
	}
	return m.toOrder(), nil
}

func (s *GormStore) SiblingOrders(ctx context.Context, symbol, botID string, side types.PositionSide) ([]types.Order, error) {
	return s.find(s.activeOpening(ctx, symbol, botID, side).Order("open_time ASC"))
}

func (s *GormStore) LinkedOrder(ctx context.Context, openOrderID string, typ types.OrderType) (types.Order, error) {
	var m orderModel
	err := s.db.WithContext(ctx).
		Where("open_order_id = ?", openOrderID).
		Where("type = ?", string(typ)).
		Where("status IN ?", liveStatuses).
		Order("open_time DESC").
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Order{}, store.ErrNotFound
	}
	if err != nil {
		return types.Order{}, err
	}
	return m.toOrder(), nil
}

func (s *GormStore) AppendEvent(ctx context.Context, evt store.OrderEvent) error {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	m := orderEventModel{
		OrderID:  evt.OrderID,
		From:     string(evt.From),
		To:       string(evt.To),
		Reason:   evt.Reason,
		Detail:   mustJSON(evt.Detail),
		AtMillis: evt.At.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) Events(ctx context.Context, orderID string, limit int) ([]store.OrderEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []orderEventModel
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]store.OrderEvent, 0, len(rows))
	for _, r := range rows {
		evt := store.OrderEvent{
			OrderID: r.OrderID,
			From:    types.OrderStatus(r.From),
			To:      types.OrderStatus(r.To),
			Reason:  r.Reason,
			At:      millisToTime(r.AtMillis),
		}
		if len(r.Detail) > 0 {
			_ = json.Unmarshal(r.Detail, &evt.Detail)
		}
		out = append(out, evt)
	}
	return out, nil
}

func (s *GormStore) scope(ctx context.Context, botID string) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&orderModel{})
	if botID != "" {
		q = q.Where("bot_id = ?", botID)
	}
	return q
}

func (s *GormStore) activeOpening(ctx context.Context, symbol, botID string, side types.PositionSide) *gorm.DB {
	q := s.scope(ctx, botID).
		Where("symbol = ?", symbol).
		Where("close_time = 0").
		Where("open_order_id = ''").
		Where("type IN ?", openingTypes).
		Where("status IN ?", activeStatuses)
	return heldSide(q, side)
}

// heldSide filters by the exposure an order contributes to. Hedge-mode rows
// carry it in position_side; one-way rows store BOTH and the order side decides.
func heldSide(q *gorm.DB, side types.PositionSide) *gorm.DB {
	var opening types.Side
	switch side {
	case types.PositionSideLong:
		opening = types.SideBuy
	case types.PositionSideShort:
		opening = types.SideSell
	default:
		return q
	}
	return q.Where("(position_side = ? OR (position_side IN ? AND side = ?))",
		string(side), []string{string(types.PositionSideBoth), ""}, string(opening))
}

func (s *GormStore) find(q *gorm.DB) ([]types.Order, error) {
	var rows []orderModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toOrder())
	}
	return out, nil
}

// --------------------------- Model Helpers ------------------------------

type orderModel struct {
	ID            string  `gorm:"column:id;primaryKey"`
	RefID         string  `gorm:"column:ref_id;index"`
	Exchange      string  `gorm:"column:exchange"`
	BotID         string  `gorm:"column:bot_id;index:idx_orders_bot_symbol,priority:1"`
	Symbol        string  `gorm:"column:symbol;index:idx_orders_bot_symbol,priority:2"`
	Side          string  `gorm:"column:side"`
	PositionSide  string  `gorm:"column:position_side"`
	Type          string  `gorm:"column:type"`
	Status        string  `gorm:"column:status;index"`
	Qty           float64 `gorm:"column:qty"`
	OpenPrice     float64 `gorm:"column:open_price"`
	StopPrice     float64 `gorm:"column:stop_price"`
	ClosePrice    float64 `gorm:"column:close_price"`
	Commission    float64 `gorm:"column:commission"`
	PL            float64 `gorm:"column:pl"`
	OpenOrderID   string  `gorm:"column:open_order_id;index"`
	OpenTimeUnix  int64   `gorm:"column:open_time"`
	CloseTimeUnix int64   `gorm:"column:close_time"`
	Note          string  `gorm:"column:note"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (orderModel) TableName() string { return "orders" }

type orderEventModel struct {
	ID       int64          `gorm:"column:id;primaryKey"`
	OrderID  string         `gorm:"column:order_id;index"`
	From     string         `gorm:"column:from_status"`
	To       string         `gorm:"column:to_status"`
	Reason   string         `gorm:"column:reason"`
	Detail   datatypes.JSON `gorm:"column:detail;type:TEXT"`
	AtMillis int64          `gorm:"column:at"`
}

func (orderEventModel) TableName() string { return "order_events" }

func newOrderModel(o types.Order, now time.Time) orderModel {
	return orderModel{
		ID:            o.ID,
		RefID:         o.RefID,
		Exchange:      o.Exchange,
		BotID:         o.BotID,
		Symbol:        o.Symbol,
		Side:          string(o.Side),
		PositionSide:  string(o.PositionSide),
		Type:          string(o.Type),
		Status:        string(o.Status),
		Qty:           o.Qty,
		OpenPrice:     o.OpenPrice,
		StopPrice:     o.StopPrice,
		ClosePrice:    o.ClosePrice,
		Commission:    o.Commission,
		PL:            o.PL,
		OpenOrderID:   o.OpenOrderID,
		OpenTimeUnix:  timeToMillis(o.OpenTime),
		CloseTimeUnix: timeToMillis(o.CloseTime),
		Note:          o.Note,
		CreatedAtUnix: now.UnixMilli(),
		UpdatedAtUnix: now.UnixMilli(),
	}
}

func (m orderModel) toOrder() types.Order {
	return types.Order{
		ID:           m.ID,
		RefID:        m.RefID,
		Exchange:     m.Exchange,
		BotID:        m.BotID,
		Symbol:       m.Symbol,
		Side:         types.Side(m.Side),
		PositionSide: types.PositionSide(m.PositionSide),
		Type:         types.OrderType(m.Type),
		Status:       types.OrderStatus(m.Status),
		Qty:          m.Qty,
		OpenPrice:    m.OpenPrice,
		StopPrice:    m.StopPrice,
		ClosePrice:   m.ClosePrice,
		Commission:   m.Commission,
		PL:           m.PL,
		OpenOrderID:  m.OpenOrderID,
		OpenTime:     millisToTime(m.OpenTimeUnix),
		CloseTime:    millisToTime(m.CloseTimeUnix),
		Note:         m.Note,
	}
}

func ensureDir(path string) error {
	dir := filepathDir(path)
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func mustJSON(v map[string]any) datatypes.JSON {
	if len(v) == 0 {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func timeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

func filepathDir(path string) string {
	last := strings.LastIndex(path, "/")
	if last == -1 {
		last = strings.LastIndex(path, "\\")
	}
	if last == -1 {
		return ""
	}
	return path[:last]
}
