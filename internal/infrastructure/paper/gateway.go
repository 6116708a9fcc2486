package paper

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/adapter/gateway"
	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
)

// Venue status codes reported by the simulator
const (
	CodeParamError     = "51000"
	CodeNoMarketPrice  = "51001"
	CodeCancelFailed   = "51400"
	CodeAmendFailed    = "51503"
	CodeOrderNotExists = "51603"
)

// Order states as reported by the venue
const (
	stateLive      = "live"
	stateFilled    = "filled"
	stateCancelled = "canceled"
)

// Ensure Exchange implements ExchangeGateway
var _ gateway.ExchangeGateway = (*Exchange)(nil)

// Feed supplies live tickers to the simulator
type Feed interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SubscribeTickers(ctx context.Context, instruments []string, handler func(*entity.Ticker)) error
}

// Config contains paper venue settings
type Config struct {
	FeeRate decimal.Decimal // charged on filled notional
}

type order struct {
	req    gateway.PlaceOrderRequest
	id     string
	state  string
	filled decimal.Decimal
	avgPx  decimal.Decimal
	fee    decimal.Decimal
	update time.Time
}

func (o *order) snapshot() *gateway.OrderState {
	return &gateway.OrderState{
		ExchangeOrderID: o.id,
		ClientOrderID:   o.req.ClientOrderID,
		Instrument:      o.req.Instrument,
		State:           o.state,
		CumFilledSize:   o.filled,
		AvgPrice:        o.avgPx,
		Fee:             o.fee,
		FeeCurrency:     quoteCurrency(o.req.Instrument),
		UpdatedAt:       o.update.UnixMilli(),
	}
}

type netPosition struct {
	size  decimal.Decimal // signed
	avgPx decimal.Decimal
}

// Exchange simulates a venue: market orders fill at the last price,
// limit orders fill once the market crosses them.
type Exchange struct {
	cfg  Config
	feed Feed
	log  *logger.Logger
	now  func() time.Time

	mu        sync.Mutex
	seq       int64
	orders    map[string]*order
	positions map[string]*netPosition
	tickers   map[string]*entity.Ticker

	handlerMu      sync.RWMutex
	orderHandlers  []func(*gateway.OrderState)
	tickerHandlers []func(*entity.Ticker)
}

// NewExchange creates a paper venue. feed may be nil, in which case
// prices arrive through UpdateTicker only.
func NewExchange(cfg Config, feed Feed, log *logger.Logger) *Exchange {
	if log == nil {
		log = logger.Default()
	}
	return &Exchange{
		cfg:       cfg,
		feed:      feed,
		log:       log.WithField("component", "paper"),
		now:       time.Now,
		orders:    make(map[string]*order),
		positions: make(map[string]*netPosition),
		tickers:   make(map[string]*entity.Ticker),
	}
}

// Connect connects the price feed, if any
func (e *Exchange) Connect(ctx context.Context) error {
	e.log.Info("Paper venue ready")
	if e.feed == nil {
		return nil
	}
	return errors.Wrap(e.feed.Connect(ctx), "connect feed")
}

// Disconnect disconnects the price feed, if any
func (e *Exchange) Disconnect(ctx context.Context) error {
	if e.feed == nil {
		return nil
	}
	return e.feed.Disconnect(ctx)
}

// UpdateTicker records a market price and fills any order it crosses
func (e *Exchange) UpdateTicker(t *entity.Ticker) {
	if t == nil {
		return
	}

	e.mu.Lock()
	e.tickers[t.Instrument] = t
	var updates []*gateway.OrderState
	for _, o := range e.orders {
		if o.state != stateLive || o.req.Instrument != t.Instrument {
			continue
		}
		if crosses(o.req.Side, o.req.Price, t.MarkPrice()) {
			e.fill(o, o.req.Price)
			updates = append(updates, o.snapshot())
		}
	}
	e.mu.Unlock()

	e.handlerMu.RLock()
	tickerHandlers := e.tickerHandlers
	e.handlerMu.RUnlock()
	for _, h := range tickerHandlers {
		h(t)
	}
	e.notify(updates...)
}

// PlaceOrder accepts an order and fills it when marketable
func (e *Exchange) PlaceOrder(ctx context.Context, req gateway.PlaceOrderRequest) (*gateway.PlaceOrderResult, error) {
	reject := func(code, msg string) (*gateway.PlaceOrderResult, error) {
		e.log.Warn("Rejecting %s order for %s: %s", req.Type, req.Instrument, msg)
		return &gateway.PlaceOrderResult{ClientOrderID: req.ClientOrderID, StatusCode: code, StatusMsg: msg}, nil
	}

	if !req.Size.IsPositive() {
		return reject(CodeParamError, "Parameter sz error")
	}
	if req.Type != entity.OrderTypeMarket && !req.Price.IsPositive() {
		return reject(CodeParamError, "Parameter px error")
	}

	e.mu.Lock()
	last := decimal.Zero
	if t, ok := e.tickers[req.Instrument]; ok {
		last = t.MarkPrice()
	}
	if req.Type == entity.OrderTypeMarket && !last.IsPositive() {
		e.mu.Unlock()
		return reject(CodeNoMarketPrice, "No market price for "+req.Instrument)
	}

	e.seq++
	o := &order{
		req:    req,
		id:     strconv.FormatInt(e.seq, 10),
		state:  stateLive,
		filled: decimal.Zero,
		avgPx:  decimal.Zero,
		fee:    decimal.Zero,
		update: e.now(),
	}
	e.orders[o.id] = o

	marketable := last.IsPositive() && crosses(req.Side, req.Price, last)
	switch req.Type {
	case entity.OrderTypeMarket:
		e.fill(o, last)
	case entity.OrderTypePostOnly:
		if marketable {
			o.state = stateCancelled
		}
	case entity.OrderTypeIOC, entity.OrderTypeFOK:
		if marketable {
			e.fill(o, req.Price)
		} else {
			o.state = stateCancelled
		}
	default:
		if marketable {
			e.fill(o, req.Price)
		}
	}
	state := o.snapshot()
	e.mu.Unlock()

	e.log.Info("Order %s accepted: %s %s %s %s -> %s", o.id, req.Instrument, req.Side, req.Type, req.Size, state.State)
	if state.State != stateLive {
		e.notify(state)
	}

	return &gateway.PlaceOrderResult{
		ExchangeOrderID: o.id,
		ClientOrderID:   req.ClientOrderID,
		StatusCode:      gateway.StatusOK,
	}, nil
}

// CancelOrder cancels a live order
func (e *Exchange) CancelOrder(ctx context.Context, instrument, exchangeOrderID string) (*gateway.AckResult, error) {
	e.mu.Lock()
	o, ok := e.orders[exchangeOrderID]
	if !ok {
		e.mu.Unlock()
		return &gateway.AckResult{ExchangeOrderID: exchangeOrderID, StatusCode: CodeOrderNotExists, StatusMsg: "Order does not exist"}, nil
	}
	if o.state != stateLive {
		e.mu.Unlock()
		return &gateway.AckResult{ExchangeOrderID: exchangeOrderID, StatusCode: CodeCancelFailed, StatusMsg: "Order has been " + o.state}, nil
	}
	o.state = stateCancelled
	o.update = e.now()
	state := o.snapshot()
	e.mu.Unlock()

	e.notify(state)
	return &gateway.AckResult{ExchangeOrderID: exchangeOrderID, StatusCode: gateway.StatusOK}, nil
}

// AmendOrder changes size and/or price of a live order
func (e *Exchange) AmendOrder(ctx context.Context, req gateway.AmendOrderRequest) (*gateway.AckResult, error) {
	e.mu.Lock()
	o, ok := e.orders[req.ExchangeOrderID]
	if !ok {
		e.mu.Unlock()
		return &gateway.AckResult{ExchangeOrderID: req.ExchangeOrderID, StatusCode: CodeOrderNotExists, StatusMsg: "Order does not exist"}, nil
	}
	if o.state != stateLive {
		e.mu.Unlock()
		return &gateway.AckResult{ExchangeOrderID: req.ExchangeOrderID, StatusCode: CodeAmendFailed, StatusMsg: "Order has been " + o.state}, nil
	}
	if req.NewSize.IsPositive() {
		o.req.Size = req.NewSize
	}
	if req.NewPrice.IsPositive() {
		o.req.Price = req.NewPrice
	}
	o.update = e.now()

	var updates []*gateway.OrderState
	if t, ok := e.tickers[o.req.Instrument]; ok && crosses(o.req.Side, o.req.Price, t.MarkPrice()) {
		e.fill(o, o.req.Price)
		updates = append(updates, o.snapshot())
	}
	e.mu.Unlock()

	e.notify(updates...)
	return &gateway.AckResult{ExchangeOrderID: req.ExchangeOrderID, StatusCode: gateway.StatusOK}, nil
}

// GetOrder returns the simulated order state
func (e *Exchange) GetOrder(ctx context.Context, instrument, exchangeOrderID string) (*gateway.OrderState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[exchangeOrderID]
	if !ok {
		return nil, &entity.ExchangeError{OrderID: exchangeOrderID, Code: CodeOrderNotExists, Message: "Order does not exist"}
	}
	return o.snapshot(), nil
}

// GetPositions returns net positions built from simulated fills
func (e *Exchange) GetPositions(ctx context.Context) ([]*gateway.ExchangePosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*gateway.ExchangePosition, 0, len(e.positions))
	for inst, p := range e.positions {
		if p.size.IsZero() {
			continue
		}
		pos := &gateway.ExchangePosition{
			Instrument:    inst,
			PositionSide:  entity.PositionSideNet,
			Size:          p.size,
			AvgPrice:      p.avgPx,
			UnrealizedPnl: decimal.Zero,
			Leverage:      decimal.NewFromInt(1),
		}
		if t, ok := e.tickers[inst]; ok {
			pos.LastPrice = t.MarkPrice()
			pos.UnrealizedPnl = pos.LastPrice.Sub(p.avgPx).Mul(p.size)
		}
		pos.Margin = p.avgPx.Mul(p.size.Abs())
		out = append(out, pos)
	}
	return out, nil
}

// SubscribeOrders registers a handler for simulated order updates
func (e *Exchange) SubscribeOrders(ctx context.Context, handler func(*gateway.OrderState)) error {
	e.handlerMu.Lock()
	e.orderHandlers = append(e.orderHandlers, handler)
	e.handlerMu.Unlock()
	return nil
}

// SubscribeTickers registers a ticker handler and subscribes the feed
func (e *Exchange) SubscribeTickers(ctx context.Context, instruments []string, handler func(*entity.Ticker)) error {
	e.handlerMu.Lock()
	e.tickerHandlers = append(e.tickerHandlers, handler)
	first := len(e.tickerHandlers) == 1
	e.handlerMu.Unlock()

	if e.feed == nil || !first {
		return nil
	}
	return e.feed.SubscribeTickers(ctx, instruments, e.UpdateTicker)
}

// fill completes o at price. Caller holds e.mu.
func (e *Exchange) fill(o *order, price decimal.Decimal) {
	qty := o.req.Size.Sub(o.filled)
	if !qty.IsPositive() {
		return
	}

	notional := price.Mul(qty)
	prevNotional := o.avgPx.Mul(o.filled)
	o.filled = o.filled.Add(qty)
	o.avgPx = prevNotional.Add(notional).Div(o.filled)
	o.fee = o.fee.Sub(notional.Mul(e.cfg.FeeRate))
	o.state = stateFilled
	o.update = e.now()

	signed := qty
	if o.req.Side == entity.SideSell {
		signed = qty.Neg()
	}
	e.applyPosition(o.req.Instrument, signed, price)

	e.log.Info("PAPER EXECUTION: order %s filled %s %s @ %s", o.id, o.req.Side, qty, price)
}

func (e *Exchange) applyPosition(instrument string, signed, price decimal.Decimal) {
	p, ok := e.positions[instrument]
	if !ok {
		p = &netPosition{size: decimal.Zero, avgPx: decimal.Zero}
		e.positions[instrument] = p
	}

	next := p.size.Add(signed)
	switch {
	case p.size.IsZero() || p.size.Sign() == signed.Sign():
		// increase
		p.avgPx = p.avgPx.Mul(p.size.Abs()).Add(price.Mul(signed.Abs())).Div(next.Abs())
	case next.IsZero():
		p.avgPx = decimal.Zero
	case next.Sign() != p.size.Sign():
		// flipped through zero
		p.avgPx = price
	}
	p.size = next
}

func (e *Exchange) notify(states ...*gateway.OrderState) {
	if len(states) == 0 {
		return
	}
	e.handlerMu.RLock()
	handlers := e.orderHandlers
	e.handlerMu.RUnlock()

	for _, st := range states {
		for _, h := range handlers {
			h(st)
		}
	}
}

// crosses reports whether a limit price is marketable against last.
// A zero limit (market order) always crosses.
func crosses(side entity.Side, limit, last decimal.Decimal) bool {
	if !last.IsPositive() {
		return false
	}
	if limit.IsZero() {
		return true
	}
	if side == entity.SideBuy {
		return limit.GreaterThanOrEqual(last)
	}
	return limit.LessThanOrEqual(last)
}

func quoteCurrency(instrument string) string {
	parts := strings.Split(instrument, "-")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
