package repository

import (
	"context"
	"time"

	"github.com/zono819/tradecore/internal/domain/entity"
)

// TradeRepository defines fill data access interface.
// Trades are append-only.
type TradeRepository interface {
	// Create stores a trade. Storing an existing trade ID is a no-op.
	Create(ctx context.Context, trade *entity.Trade) error

	// List retrieves trades with filters, newest first
	List(ctx context.Context, filter TradeFilter) ([]*entity.Trade, error)
}

// TradeFilter represents filter for listing trades
type TradeFilter struct {
	Instrument string
	OrderID    string
	StrategyID string
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// Match reports whether a trade passes the filter, ignoring paging
func (f TradeFilter) Match(t *entity.Trade) bool {
	if f.Instrument != "" && t.Instrument != f.Instrument {
		return false
	}
	if f.OrderID != "" && t.OrderID != f.OrderID {
		return false
	}
	if f.StrategyID != "" && t.StrategyID != f.StrategyID {
		return false
	}
	if !f.Since.IsZero() && t.ExecutedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && t.ExecutedAt.After(f.Until) {
		return false
	}
	return true
}
