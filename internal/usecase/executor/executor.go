package executor

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/adapter/gateway"
	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/service"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
	"github.com/zono819/tradecore/internal/infrastructure/metrics"
	"github.com/zono819/tradecore/internal/usecase/order"
	"github.com/zono819/tradecore/internal/usecase/risk"
	"github.com/zono819/tradecore/internal/usecase/tracker"
)

// Config holds executor configuration
type Config struct {
	TradeMode entity.TradeMode `yaml:"trade_mode"`
}

// OrderTracker starts and stops exchange reconciliation of accepted orders
type OrderTracker interface {
	StartTracking(orderID, exchangeOrderID, instrument string, callbacks ...tracker.Callback) bool
	StopTracking(exchangeOrderID string)
	SettleCancel(ctx context.Context, orderID, exchangeOrderID, instrument string) (*entity.Order, error)
}

// Executor turns signals and order parameters into exchange orders
type Executor struct {
	cfg      Config
	exchange gateway.ExchangeGateway
	store    *order.Store
	gate     *risk.Gate
	tracker  OrderTracker
	prices   gateway.PriceSource
	log      *logger.Logger

	mu      sync.RWMutex
	pending map[string]*entity.Order
}

// New creates a new executor. prices may be nil, in which case limit
// prices are not checked against the market.
func New(cfg Config, exchange gateway.ExchangeGateway, store *order.Store, gate *risk.Gate, tr OrderTracker, prices gateway.PriceSource, log *logger.Logger) *Executor {
	if cfg.TradeMode == "" {
		cfg.TradeMode = entity.TradeModeCash
	}
	if log == nil {
		log = logger.Default()
	}
	return &Executor{
		cfg:      cfg,
		exchange: exchange,
		store:    store,
		gate:     gate,
		tracker:  tr,
		prices:   prices,
		log:      log.WithField("component", "order_executor"),
		pending:  make(map[string]*entity.Order),
	}
}

var _ service.OrderExecutor = (*Executor)(nil)

// ExecuteSignal risk-checks a signal and submits it as a market order
func (e *Executor) ExecuteSignal(ctx context.Context, signal *entity.Signal, account *entity.Account, strategyID string) (*entity.Order, error) {
	if !signal.IsActionable() {
		return nil, &entity.ValidationError{Reason: "signal type " + string(signal.Type) + " is not actionable"}
	}

	check := e.gate.PreTradeCheck(signal, account)
	if !check.Passed {
		metrics.OrdersRejected.Add(1)
		e.log.Warn("Signal rejected by risk check: %s", check.Reason)
		return nil, &entity.RiskRejectedError{Reason: check.Reason}
	}
	for _, w := range check.Warnings {
		e.log.Warn("Risk warning: %s", w)
	}

	size := signal.Size
	if check.AdjustedSize != nil {
		size = *check.AdjustedSize
		e.log.Info("Signal size adjusted from %s to %s", signal.Size, size)
	}

	params := &entity.OrderParams{
		Instrument:    signal.Instrument,
		Type:          entity.OrderTypeMarket,
		TradeMode:     e.cfg.TradeMode,
		Size:          size,
		ClientOrderID: order.NewClientOrderID("sig"),
		StrategyID:    strategyID,
		SignalID:      signal.ID(),
		Metadata:      signal.Metadata,
	}

	switch signal.Type {
	case entity.SignalTypeBuy:
		params.Side = entity.SideBuy
	case entity.SignalTypeSell:
		params.Side = entity.SideSell
	case entity.SignalTypeClose:
		pos := account.OpenPosition(signal.Instrument)
		if pos == nil {
			e.log.Warn("Close signal for %s without an open position, defaulting to sell", signal.Instrument)
			params.Side = entity.SideSell
			break
		}
		params.Side = pos.ClosingSide()
		params.ReduceOnly = true
		if params.Size.GreaterThan(pos.Size) {
			params.Size = pos.Size
		}
	}

	return e.PlaceOrder(ctx, params)
}

// PlaceOrder validates, persists and submits an order. When the exchange
// refuses the order, or the request cannot be delivered, the REJECTED order
// is returned together with the error.
func (e *Executor) PlaceOrder(ctx context.Context, params *entity.OrderParams) (*entity.Order, error) {
	marketPrice := decimal.Zero
	if e.prices != nil {
		if p, ok := e.prices.LastPrice(params.Instrument); ok {
			marketPrice = p
		}
	}

	check := e.gate.ValidateParams(params, marketPrice)
	if !check.Passed {
		metrics.OrdersRejected.Add(1)
		e.log.Warn("Order validation failed: %s", check.Reason)
		return nil, &entity.ValidationError{Reason: check.Reason}
	}
	for _, w := range check.Warnings {
		e.log.Warn("Order warning: %s", w)
	}

	o, err := e.store.Create(ctx, params)
	if err != nil {
		return nil, err
	}

	req := gateway.PlaceOrderRequest{
		Instrument:    o.Instrument,
		TradeMode:     o.TradeMode,
		Side:          o.Side,
		Type:          o.Type,
		Size:          o.Size,
		ClientOrderID: o.ClientOrderID,
		PositionSide:  o.PositionSide,
		ReduceOnly:    o.ReduceOnly,
	}
	if o.Type != entity.OrderTypeMarket && o.Price.IsPositive() {
		req.Price = o.Price
	}

	e.log.Info("Placing order: %s %s %s %s @ %s", o.Side, o.Size, o.Instrument, o.Type, o.Price)

	result, err := e.exchange.PlaceOrder(ctx, req)
	if err != nil {
		metrics.OrdersRejected.Add(1)
		e.log.Error("Failed to place order %s: %v", o.ID, err)
		// ctx may be the cause of the failure
		rejected, terr := e.store.Transition(context.WithoutCancel(ctx), o.ID, entity.OrderStatusRejected, entity.WithError("", err.Error()))
		if terr != nil {
			return o, errors.Wrap(terr, "mark order rejected")
		}
		return rejected, &entity.TransportError{Op: "place order", Err: err}
	}

	if result.StatusCode != gateway.StatusOK || result.ExchangeOrderID == "" {
		metrics.OrdersRejected.Add(1)
		e.log.Error("Order rejected: %s - %s", result.StatusCode, result.StatusMsg)
		rejected, terr := e.store.Transition(ctx, o.ID, entity.OrderStatusRejected, entity.WithError(result.StatusCode, result.StatusMsg))
		if terr != nil {
			return o, errors.Wrap(terr, "mark order rejected")
		}
		return rejected, &entity.ExchangeError{OrderID: o.ID, Code: result.StatusCode, Message: result.StatusMsg}
	}

	live, err := e.store.Transition(ctx, o.ID, entity.OrderStatusLive, entity.WithExchangeOrderID(result.ExchangeOrderID))
	if err != nil {
		return nil, err
	}
	metrics.OrdersPlaced.Add(1)
	e.log.Info("Order placed: %s (exchange %s)", live.ID, live.ExchangeOrderID)

	e.addPending(live)
	if !e.tracker.StartTracking(live.ID, live.ExchangeOrderID, live.Instrument, e.onTrackedUpdate) {
		e.log.Warn("Order %s is not being tracked, it will be picked up by reconcile", live.ID)
	}
	return live, nil
}

// CancelOrder cancels an active order. It returns false when the order is
// missing, already final, or the exchange refused the cancel.
func (e *Executor) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	o, err := e.store.Get(ctx, orderID)
	if errors.Is(err, entity.ErrOrderNotFound) {
		e.log.Warn("Cancel: order %s not found", orderID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !o.Status.IsActive() {
		e.log.Warn("Cancel: order %s is %s", orderID, o.Status)
		return false, nil
	}

	if o.ExchangeOrderID == "" {
		status := entity.OrderStatusCancelled
		var changes []entity.OrderChange
		if o.Status == entity.OrderStatusPending {
			status = entity.OrderStatusRejected
			changes = append(changes, entity.WithError("", "cancelled before exchange acceptance"))
		}
		if _, err := e.store.Transition(ctx, o.ID, status, changes...); err != nil {
			return false, err
		}
		e.dropPending(o.ID)
		metrics.OrdersCancelled.Add(1)
		e.log.Info("Order %s cancelled locally", o.ID)
		return true, nil
	}

	ack, err := e.exchange.CancelOrder(ctx, o.Instrument, o.ExchangeOrderID)
	if err != nil {
		e.log.Error("Failed to cancel order %s: %v", o.ID, err)
		return false, nil
	}
	if !ack.OK() {
		e.log.Error("Cancel rejected for order %s: %s - %s", o.ID, ack.StatusCode, ack.StatusMsg)
		return false, nil
	}

	settled, err := e.tracker.SettleCancel(ctx, o.ID, o.ExchangeOrderID, o.Instrument)
	if err != nil {
		e.log.Error("Failed to settle cancelled order %s: %v", o.ID, err)
		// tracking stays on so the unapplied fill is retried
		current, gerr := e.store.Get(ctx, o.ID)
		if gerr != nil || current.Status != entity.OrderStatusCancelled {
			return false, err
		}
		e.dropPending(o.ID)
		metrics.OrdersCancelled.Add(1)
		return true, nil
	}
	e.tracker.StopTracking(o.ExchangeOrderID)
	e.dropPending(o.ID)

	if settled.Status != entity.OrderStatusCancelled {
		e.log.Warn("Order %s finished as %s before cancel landed", o.ID, settled.Status)
		return false, nil
	}
	metrics.OrdersCancelled.Add(1)
	e.log.Info("Order %s cancelled, filled %s/%s", o.ID, settled.FilledSize, settled.Size)
	return true, nil
}

// ModifyOrder amends size and/or price of a resting order. A zero value
// leaves that field unchanged. The local order is returned as is on
// success; its post-amend state arrives through the tracker. Returns nil
// when the order cannot be amended.
func (e *Executor) ModifyOrder(ctx context.Context, orderID string, newSize, newPrice decimal.Decimal) (*entity.Order, error) {
	o, err := e.store.Get(ctx, orderID)
	if errors.Is(err, entity.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if o.Status != entity.OrderStatusLive && o.Status != entity.OrderStatusPartiallyFilled {
		e.log.Warn("Modify: order %s is %s", orderID, o.Status)
		return nil, nil
	}
	if o.ExchangeOrderID == "" {
		return nil, nil
	}
	if !newSize.IsPositive() && !newPrice.IsPositive() {
		return nil, &entity.ValidationError{Reason: "nothing to amend"}
	}

	ack, err := e.exchange.AmendOrder(ctx, gateway.AmendOrderRequest{
		Instrument:      o.Instrument,
		ExchangeOrderID: o.ExchangeOrderID,
		NewSize:         newSize,
		NewPrice:        newPrice,
	})
	if err != nil {
		e.log.Error("Failed to amend order %s: %v", o.ID, err)
		return nil, &entity.TransportError{Op: "amend order", Err: err}
	}
	if !ack.OK() {
		e.log.Error("Amend rejected for order %s: %s - %s", o.ID, ack.StatusCode, ack.StatusMsg)
		return nil, nil
	}

	e.log.Info("Order %s amend accepted", o.ID)
	return o, nil
}

// GetOrder returns the current local view of an order
func (e *Executor) GetOrder(ctx context.Context, orderID string) (*entity.Order, error) {
	return e.store.Get(ctx, orderID)
}

// PendingOrders returns orders submitted by this executor that are not yet final
func (e *Executor) PendingOrders() []*entity.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*entity.Order, 0, len(e.pending))
	for _, o := range e.pending {
		out = append(out, o.Clone())
	}
	return out
}

func (e *Executor) onTrackedUpdate(o *entity.Order) {
	if o.Status.IsTerminal() {
		e.dropPending(o.ID)
		return
	}
	e.addPending(o)
}

func (e *Executor) addPending(o *entity.Order) {
	e.mu.Lock()
	e.pending[o.ID] = o.Clone()
	e.mu.Unlock()
}

func (e *Executor) dropPending(id string) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}
