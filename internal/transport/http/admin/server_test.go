package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"perpbot/internal/execution"
	"perpbot/internal/store"
	"perpbot/internal/types"
)

type mockOrders struct{ mock.Mock }

func (m *mockOrders) OpenOrders(ctx context.Context, botID string) ([]types.Order, error) {
	args := m.Called(botID)
	return args.Get(0).([]types.Order), args.Error(1)
}

func (m *mockOrders) NewOrders(ctx context.Context, botID string) ([]types.Order, error) {
	args := m.Called(botID)
	return args.Get(0).([]types.Order), args.Error(1)
}

func (m *mockOrders) FindByID(ctx context.Context, id string) (types.Order, error) {
	args := m.Called(id)
	return args.Get(0).(types.Order), args.Error(1)
}

func (m *mockOrders) Events(ctx context.Context, orderID string, limit int) ([]store.OrderEvent, error) {
	args := m.Called(orderID, limit)
	return args.Get(0).([]store.OrderEvent), args.Error(1)
}

type mockOperator struct{ mock.Mock }

func (m *mockOperator) CloseAll(ctx context.Context, botID string) (execution.CloseAllReport, error) {
	args := m.Called(botID)
	return args.Get(0).(execution.CloseAllReport), args.Error(1)
}

func (m *mockOperator) ResetGap(ctx context.Context, botID, symbol string, kind types.OrderKind) error {
	return m.Called(botID, symbol, kind).Error(0)
}

func newTestServer(t *testing.T, token string) (*Server, *mockOrders, *mockOperator) {
	t.Helper()
	orders := &mockOrders{}
	op := &mockOperator{}
	srv, err := NewServer(ServerConfig{Token: token, Orders: orders, Operator: op, Gatherer: prometheus.NewRegistry()})
	require.NoError(t, err)
	return srv, orders, op
}

func do(srv *Server, method, target, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthzAndMetricsNeedNoToken(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")
	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/metrics", "", "").Code)
}

func TestAPIRequiresBearerToken(t *testing.T) {
	srv, orders, _ := newTestServer(t, "secret")
	orders.On("OpenOrders", "").Return([]types.Order{}, nil)

	assert.Equal(t, http.StatusUnauthorized, do(srv, http.MethodGet, "/api/orders", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(srv, http.MethodGet, "/api/orders", "", "wrong").Code)
	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/api/orders", "", "secret").Code)
}

func TestListOrdersByScope(t *testing.T) {
	srv, orders, _ := newTestServer(t, "")
	orders.On("NewOrders", "bot-1").Return([]types.Order{{ID: "a", BotID: "bot-1", Status: types.OrderStatusNew}}, nil)

	rec := do(srv, http.MethodGet, "/api/orders?bot_id=bot-1&scope=new", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Orders []types.Order `json:"orders"`
		Count  int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "a", body.Orders[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodGet, "/api/orders?scope=all", "", "").Code)
}

func TestOrderNotFound(t *testing.T) {
	srv, orders, _ := newTestServer(t, "")
	orders.On("FindByID", "missing").Return(types.Order{}, store.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodGet, "/api/orders/missing", "", "").Code)
}

func TestCloseAllReportsFailures(t *testing.T) {
	srv, _, op := newTestServer(t, "")
	op.On("CloseAll", "bot-1").Return(execution.CloseAllReport{Closed: []string{"a"}, Failed: []string{"b: boom"}}, nil)
	op.On("CloseAll", "").Return(execution.CloseAllReport{Canceled: []string{"c"}}, nil)

	rec := do(srv, http.MethodPost, "/api/close-all", `{"bot_id":"bot-1"}`, "")
	assert.Equal(t, http.StatusMultiStatus, rec.Code)

	rec = do(srv, http.MethodPost, "/api/close-all", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	op.AssertExpectations(t)
}

func TestGapReset(t *testing.T) {
	srv, _, op := newTestServer(t, "")
	op.On("ResetGap", "bot-1", "BTCUSDT", types.KindOpen).Return(nil)

	rec := do(srv, http.MethodPost, "/api/gaps/reset", `{"bot_id":"bot-1","symbol":"btcusdt","kind":"fo"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(srv, http.MethodPost, "/api/gaps/reset", `{"bot_id":"bot-1","symbol":"BTCUSDT","kind":"XX"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	op.AssertExpectations(t)
}
