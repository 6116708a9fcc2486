package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/domain/entity"
)

// ExecutionKind names an execution algorithm
type ExecutionKind string

const (
	ExecutionMarket  ExecutionKind = "market"
	ExecutionLimit   ExecutionKind = "limit"
	ExecutionTWAP    ExecutionKind = "twap"
	ExecutionIceberg ExecutionKind = "iceberg"
)

// ExecutionKinds lists every supported kind
var ExecutionKinds = []ExecutionKind{
	ExecutionMarket,
	ExecutionLimit,
	ExecutionTWAP,
	ExecutionIceberg,
}

// Valid reports whether k is a known kind
func (k ExecutionKind) Valid() bool {
	for _, known := range ExecutionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// OrderExecutor is the narrow order surface execution algorithms drive
type OrderExecutor interface {
	// PlaceOrder validates, persists and submits an order
	PlaceOrder(ctx context.Context, params *entity.OrderParams) (*entity.Order, error)

	// CancelOrder cancels an active order, returning false when it could not
	CancelOrder(ctx context.Context, orderID string) (bool, error)

	// GetOrder returns the current local view of an order
	GetOrder(ctx context.Context, orderID string) (*entity.Order, error)
}

// ExecutionStrategy turns one parent order into one or more child orders
type ExecutionStrategy interface {
	// Kind returns the algorithm name
	Kind() ExecutionKind

	// Execute places child orders and returns all of them, including those
	// that were rejected or cancelled
	Execute(ctx context.Context, params *entity.OrderParams) ([]*entity.Order, error)
}

// FilledSize sums the filled size over orders
func FilledSize(orders []*entity.Order) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		if o != nil {
			total = total.Add(o.FilledSize)
		}
	}
	return total
}
