package repository

import (
	"context"
	"time"

	"github.com/zono819/tradecore/internal/domain/entity"
)

// OrderRepository defines order data access interface.
// Lookups return entity.ErrOrderNotFound when no row matches.
type OrderRepository interface {
	// Create creates a new order
	Create(ctx context.Context, order *entity.Order) error

	// GetByID retrieves order by ID
	GetByID(ctx context.Context, id string) (*entity.Order, error)

	// GetByExchangeID retrieves order by exchange assigned ID
	GetByExchangeID(ctx context.Context, exchangeOrderID string) (*entity.Order, error)

	// GetByClientOrderID retrieves order by client order ID
	GetByClientOrderID(ctx context.Context, clientOrderID string) (*entity.Order, error)

	// List retrieves orders with filters, newest first
	List(ctx context.Context, filter OrderFilter) ([]*entity.Order, error)

	// Update loads the order, applies fn and writes the result as one
	// atomic row update. If fn returns an error nothing is written.
	Update(ctx context.Context, id string, fn func(*entity.Order) error) (*entity.Order, error)
}

// OrderFilter represents filter for listing orders
type OrderFilter struct {
	Instrument string
	Statuses   []entity.OrderStatus
	Side       entity.Side
	StrategyID string
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// Match reports whether an order passes the filter, ignoring paging
func (f OrderFilter) Match(o *entity.Order) bool {
	if f.Instrument != "" && o.Instrument != f.Instrument {
		return false
	}
	if f.Side != "" && o.Side != f.Side {
		return false
	}
	if f.StrategyID != "" && o.StrategyID != f.StrategyID {
		return false
	}
	if !f.Since.IsZero() && o.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && o.CreatedAt.After(f.Until) {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if o.Status == s {
				return true
			}
		}
		return false
	}
	return true
}
