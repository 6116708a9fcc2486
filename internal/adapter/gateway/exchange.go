package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/domain/entity"
)

// StatusOK is the exchange status code for success
const StatusOK = "0"

// PlaceOrderRequest is the venue-neutral order submission
type PlaceOrderRequest struct {
	Instrument    string
	TradeMode     entity.TradeMode
	Side          entity.Side
	Type          entity.OrderType
	Size          decimal.Decimal
	Price         decimal.Decimal // zero for market orders
	ClientOrderID string
	PositionSide  entity.PositionSide
	ReduceOnly    bool
}

// PlaceOrderResult is the exchange acknowledgement of a submission
type PlaceOrderResult struct {
	ExchangeOrderID string
	ClientOrderID   string
	StatusCode      string
	StatusMsg       string
}

// AckResult is the exchange acknowledgement of a cancel or amend
type AckResult struct {
	ExchangeOrderID string
	StatusCode      string
	StatusMsg       string
}

// OK returns true when the exchange accepted the request
func (r *AckResult) OK() bool {
	return r != nil && r.StatusCode == StatusOK
}

// AmendOrderRequest changes size and/or price of a resting order
type AmendOrderRequest struct {
	Instrument      string
	ExchangeOrderID string
	NewSize         decimal.Decimal // zero leaves size unchanged
	NewPrice        decimal.Decimal // zero leaves price unchanged
}

// OrderState is the exchange view of one order, polled or pushed
type OrderState struct {
	ExchangeOrderID string
	ClientOrderID   string
	Instrument      string
	State           string // live, partially_filled, filled, canceled, mmp_canceled
	CumFilledSize   decimal.Decimal
	AvgPrice        decimal.Decimal
	Fee             decimal.Decimal // cumulative, venue sign convention
	FeeCurrency     string
	UpdatedAt       int64 // unix millis
}

// ExchangePosition is the exchange view of one open position
type ExchangePosition struct {
	Instrument    string
	PositionSide  entity.PositionSide
	Size          decimal.Decimal // signed for net mode
	AvgPrice      decimal.Decimal
	LastPrice     decimal.Decimal
	UnrealizedPnl decimal.Decimal
	Leverage      decimal.Decimal
	Margin        decimal.Decimal
}

// ExchangeGateway defines exchange operations interface
type ExchangeGateway interface {
	// Connect establishes connection to exchange
	Connect(ctx context.Context) error

	// Disconnect closes connection
	Disconnect(ctx context.Context) error

	// PlaceOrder submits a new order. A transport failure is returned as
	// an error; an exchange refusal is a result with a non-zero StatusCode.
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error)

	// CancelOrder cancels a resting order
	CancelOrder(ctx context.Context, instrument, exchangeOrderID string) (*AckResult, error)

	// AmendOrder modifies a resting order
	AmendOrder(ctx context.Context, req AmendOrderRequest) (*AckResult, error)

	// GetOrder retrieves the current exchange state of an order
	GetOrder(ctx context.Context, instrument, exchangeOrderID string) (*OrderState, error)

	// GetPositions retrieves open positions
	GetPositions(ctx context.Context) ([]*ExchangePosition, error)

	// SubscribeOrders subscribes to pushed order updates
	SubscribeOrders(ctx context.Context, handler func(*OrderState)) error

	// SubscribeTickers subscribes to ticker updates for instruments
	SubscribeTickers(ctx context.Context, instruments []string, handler func(*entity.Ticker)) error
}
