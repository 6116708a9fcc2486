package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents order side (buy or sell)
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents order type
type OrderType string

const (
	OrderTypeMarket   OrderType = "market"
	OrderTypeLimit    OrderType = "limit"
	OrderTypePostOnly OrderType = "post_only"
	OrderTypeFOK      OrderType = "fok"
	OrderTypeIOC      OrderType = "ioc"
)

// RequiresPrice returns true for order types that rest on the book at a price
func (t OrderType) RequiresPrice() bool {
	return t == OrderTypeLimit || t == OrderTypePostOnly
}

// TradeMode represents the margin mode an order is placed under
type TradeMode string

const (
	TradeModeCash     TradeMode = "cash"
	TradeModeCross    TradeMode = "cross"
	TradeModeIsolated TradeMode = "isolated"
)

// PositionSide represents the direction of a position
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
	PositionSideNet   PositionSide = "net"
)

// OrderStatus represents order status
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusLive            OrderStatus = "live"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusLive, OrderStatusRejected},
	OrderStatusLive:            {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled},
	OrderStatusPartiallyFilled: {OrderStatusFilled, OrderStatusCancelled},
}

// ActiveStatuses lists the statuses of orders that may still change
var ActiveStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusLive,
	OrderStatusPartiallyFilled,
}

// IsTerminal returns true once the order can never change again
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// IsActive returns true for pending, live and partially filled orders
func (s OrderStatus) IsActive() bool {
	switch s {
	case OrderStatusPending, OrderStatusLive, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Live and partially filled orders may be refreshed in place so fill
// progress can be recorded without a status change.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return s == OrderStatusLive || s == OrderStatusPartiallyFilled
	}
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OrderParams holds the caller supplied fields of a new order
type OrderParams struct {
	Instrument    string
	Side          Side
	Type          OrderType
	TradeMode     TradeMode
	PositionSide  PositionSide
	ReduceOnly    bool
	Price         decimal.Decimal
	Size          decimal.Decimal
	ClientOrderID string
	StrategyID    string
	SignalID      string
	Metadata      map[string]string
}

// HasPrice returns true when a positive price is set
func (p *OrderParams) HasPrice() bool {
	return p.Price.IsPositive()
}

// Order represents a trading order and its exchange-side fulfillment
type Order struct {
	ID              string
	ClientOrderID   string
	ExchangeOrderID string
	Instrument      string
	Side            Side
	Type            OrderType
	TradeMode       TradeMode
	PositionSide    PositionSide
	ReduceOnly      bool
	Price           decimal.Decimal
	Size            decimal.Decimal
	FilledSize      decimal.Decimal
	AvgFillPrice    decimal.Decimal
	Status          OrderStatus
	StrategyID      string
	SignalID        string
	Metadata        map[string]string
	ErrorCode       string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	FilledAt        *time.Time
	CancelledAt     *time.Time
}

// IsFilled returns true if order is completely filled
func (o *Order) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// RemainingSize returns unfilled size
func (o *Order) RemainingSize() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// Clone returns a deep copy
func (o *Order) Clone() *Order {
	c := *o
	if o.Metadata != nil {
		c.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	if o.FilledAt != nil {
		t := *o.FilledAt
		c.FilledAt = &t
	}
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}

// OrderChange mutates an order as part of a guarded transition
type OrderChange func(*Order)

// WithExchangeOrderID records the exchange assigned id
func WithExchangeOrderID(id string) OrderChange {
	return func(o *Order) {
		if id != "" {
			o.ExchangeOrderID = id
		}
	}
}

// WithFill records cumulative filled size and average fill price
func WithFill(filled, avgPrice decimal.Decimal) OrderChange {
	return func(o *Order) {
		o.FilledSize = filled
		if avgPrice.IsPositive() {
			o.AvgFillPrice = avgPrice
		}
	}
}

// WithError records the rejection code and message
func WithError(code, message string) OrderChange {
	return func(o *Order) {
		o.ErrorCode = code
		o.ErrorMessage = message
	}
}

// WithMetadata sets metadata entries
func WithMetadata(kv map[string]string) OrderChange {
	return func(o *Order) {
		if len(kv) == 0 {
			return
		}
		if o.Metadata == nil {
			o.Metadata = make(map[string]string, len(kv))
		}
		for k, v := range kv {
			o.Metadata[k] = v
		}
	}
}
