package repository

import (
	"context"
	"time"

	"github.com/zono819/tradecore/internal/domain/entity"
)

// PositionRepository defines position data access interface
type PositionRepository interface {
	// Save inserts or replaces a position by ID
	Save(ctx context.Context, position *entity.Position) error

	// GetOpen retrieves the open position for an instrument.
	// Returns entity.ErrPositionNotFound when there is none.
	GetOpen(ctx context.Context, instrument string) (*entity.Position, error)

	// List retrieves positions with filters
	List(ctx context.Context, filter PositionFilter) ([]*entity.Position, error)
}

// PositionFilter represents filter for listing positions
type PositionFilter struct {
	Instrument    string
	StrategyID    string
	IncludeClosed bool
	OnlyClosed    bool
	ClosedFrom    time.Time
	ClosedTo      time.Time
}

// Match reports whether a position passes the filter
func (f PositionFilter) Match(p *entity.Position) bool {
	if f.Instrument != "" && p.Instrument != f.Instrument {
		return false
	}
	if f.StrategyID != "" && p.StrategyID != f.StrategyID {
		return false
	}
	closed := !p.IsOpen()
	if f.OnlyClosed && !closed {
		return false
	}
	if closed && !f.IncludeClosed && !f.OnlyClosed {
		return false
	}
	if !f.ClosedFrom.IsZero() && (!closed || p.ClosedAt.Before(f.ClosedFrom)) {
		return false
	}
	if !f.ClosedTo.IsZero() && (!closed || p.ClosedAt.After(f.ClosedTo)) {
		return false
	}
	return true
}
