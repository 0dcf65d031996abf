package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"perpbot/internal/execution"
	"perpbot/internal/logger"
	"perpbot/internal/store"
	"perpbot/internal/types"
)

// OrderReader is the read-only slice of the order repository.
type OrderReader interface {
	OpenOrders(ctx context.Context, botID string) ([]types.Order, error)
	NewOrders(ctx context.Context, botID string) ([]types.Order, error)
	FindByID(ctx context.Context, id string) (types.Order, error)
	Events(ctx context.Context, orderID string, limit int) ([]store.OrderEvent, error)
}

// Operator carries the mutating operator actions.
type Operator interface {
	CloseAll(ctx context.Context, botID string) (execution.CloseAllReport, error)
	ResetGap(ctx context.Context, botID, symbol string, kind types.OrderKind) error
}

type Router struct {
	orders   OrderReader
	operator Operator
}

func NewRouter(orders OrderReader, op Operator) *Router {
	return &Router{orders: orders, operator: op}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/orders", r.handleOrders)
	group.GET("/orders/:id", r.handleOrder)
	group.GET("/orders/:id/events", r.handleOrderEvents)
	group.POST("/close-all", r.handleCloseAll)
	group.POST("/gaps/reset", r.handleGapReset)
}

func (r *Router) handleOrders(c *gin.Context) {
	botID := strings.TrimSpace(c.Query("bot_id"))
	var (
		orders []types.Order
		err    error
	)
	switch strings.ToLower(c.DefaultQuery("scope", "open")) {
	case "open":
		orders, err = r.orders.OpenOrders(c.Request.Context(), botID)
	case "new":
		orders, err = r.orders.NewOrders(c.Request.Context(), botID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be open or new"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if orders == nil {
		orders = []types.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (r *Router) handleOrder(c *gin.Context) {
	o, err := r.orders.FindByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, o)
}

func (r *Router) handleOrderEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	events, err := r.orders.Events(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if events == nil {
		events = []store.OrderEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

type closeAllRequest struct {
	BotID string `json:"bot_id"`
}

func (r *Router) handleCloseAll(c *gin.Context) {
	var req closeAllRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	botID := strings.TrimSpace(req.BotID)
	logger.Warnf("[admin] close-all requested bot=%q ip=%s", botID, c.ClientIP())
	rep, err := r.operator.CloseAll(c.Request.Context(), botID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": rep})
		return
	}
	status := http.StatusOK
	if len(rep.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, rep)
}

type gapResetRequest struct {
	BotID  string `json:"bot_id" binding:"required"`
	Symbol string `json:"symbol" binding:"required"`
	Kind   string `json:"kind" binding:"required"`
}

func (r *Router) handleGapReset(c *gin.Context) {
	var req gapResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind, ok := parseKind(req.Kind)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be one of FO, FSL, FTP, FC"})
		return
	}
	if err := r.operator.ResetGap(c.Request.Context(), req.BotID, strings.ToUpper(req.Symbol), kind); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[admin] gap reset bot=%s symbol=%s kind=%s", req.BotID, req.Symbol, kind)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseKind(raw string) (types.OrderKind, bool) {
	k := types.OrderKind(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range types.AllKinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}
