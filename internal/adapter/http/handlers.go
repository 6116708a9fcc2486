package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/repository"
	"github.com/zono819/tradecore/internal/usecase/position"
)

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.svc.Status != nil {
		for k, v := range s.svc.Status() {
			body[k] = v
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handlePlaceOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid order payload: "+err.Error())
		return
	}

	o, err := s.svc.Orders.PlaceOrder(c.Request.Context(), req.params())
	if err != nil {
		if o != nil {
			// rejected after creation; the record is returned alongside the error
			body := gin.H{"error": err.Error(), "order": newOrderResponse(o)}
			if o.ErrorCode != "" {
				body["code"] = o.ErrorCode
			}
			c.JSON(statusFor(err), body)
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newOrderResponse(o))
}

func (s *Server) handleListOrders(c *gin.Context) {
	ctx := c.Request.Context()
	instrument := c.Query("instrument")

	if active, _ := strconv.ParseBool(c.Query("active")); active {
		c.JSON(http.StatusOK, newOrderResponses(s.svc.OrderQuery.ListActive(ctx, instrument)))
		return
	}

	filter := repository.OrderFilter{
		Instrument: instrument,
		Side:       entity.Side(c.Query("side")),
		StrategyID: c.Query("strategy_id"),
	}
	if raw := c.Query("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, entity.OrderStatus(strings.TrimSpace(st)))
		}
	}
	if !s.bindRange(c, &filter.Since, &filter.Until, "since", "until") {
		return
	}
	if !bindPaging(c, &filter.Limit, &filter.Offset) {
		return
	}

	orders, err := s.svc.OrderQuery.ListHistory(ctx, filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponses(orders))
}

func (s *Server) handleGetOrder(c *gin.Context) {
	o, err := s.svc.Orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(o))
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	ok, err := s.svc.Orders.CancelOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"cancelled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (s *Server) handleListPositions(c *gin.Context) {
	includeClosed, _ := strconv.ParseBool(c.Query("include_closed"))
	positions, err := s.svc.Positions.ListAll(c.Request.Context(), includeClosed)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newPositionResponses(positions))
}

func (s *Server) handleSyncPositions(c *gin.Context) {
	report, err := s.svc.Positions.SyncPositions(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newSyncResponse(report))
}

func (s *Server) handleListTrades(c *gin.Context) {
	filter := repository.TradeFilter{
		Instrument: c.Query("instrument"),
		OrderID:    c.Query("order_id"),
		StrategyID: c.Query("strategy_id"),
	}
	if !s.bindRange(c, &filter.Since, &filter.Until, "since", "until") {
		return
	}
	if !bindPaging(c, &filter.Limit, &filter.Offset) {
		return
	}

	trades, err := s.svc.Trades.Trades(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newTradeResponses(trades))
}

func (s *Server) handleTradeStats(c *gin.Context) {
	stats, err := s.svc.Trades.Statistics(c.Request.Context(), c.Query("instrument"), c.Query("strategy_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handlePerformance(c *gin.Context) {
	var start, end time.Time
	if !s.bindRange(c, &start, &end, "start", "end") {
		return
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}

	metrics, err := s.svc.Performance.CalculatePerformance(c.Request.Context(), start, end, position.PerformanceFilter{
		Instrument: c.Query("instrument"),
		StrategyID: c.Query("strategy_id"),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

// bindRange parses two optional RFC3339 query parameters
func (s *Server) bindRange(c *gin.Context, from, to *time.Time, fromKey, toKey string) bool {
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{fromKey, from}, {toKey, to}} {
		raw := c.Query(p.key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "invalid "+p.key+": expected RFC3339")
			return false
		}
		*p.dst = t.UTC()
	}
	return true
}

func bindPaging(c *gin.Context, limit, offset *int) bool {
	for _, p := range []struct {
		key string
		dst *int
	}{{"limit", limit}, {"offset", offset}} {
		raw := c.Query(p.key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "invalid "+p.key)
			return false
		}
		*p.dst = n
	}
	return true
}
