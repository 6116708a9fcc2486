package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade represents one immutable execution against an order
type Trade struct {
	ID          string
	OrderID     string
	Instrument  string
	Side        Side
	Price       decimal.Decimal
	Size        decimal.Decimal
	Fee         decimal.Decimal
	FeeCurrency string
	StrategyID  string
	ExecutedAt  time.Time
}

// Notional returns price * size
func (t *Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Size)
}

// Position represents net exposure in one instrument
type Position struct {
	ID            string
	Instrument    string
	Side          PositionSide
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	AvgPrice      decimal.Decimal
	CurrentPrice  decimal.Decimal
	UnrealizedPnl decimal.Decimal
	RealizedPnl   decimal.Decimal
	Margin        decimal.Decimal
	Leverage      decimal.Decimal
	StrategyID    string
	OpenedAt      time.Time
	UpdatedAt     time.Time
	ClosedAt      *time.Time
}

// IsLong returns true if position is long
func (p *Position) IsLong() bool {
	return p.Side == PositionSideLong
}

// IsShort returns true if position is short
func (p *Position) IsShort() bool {
	return p.Side == PositionSideShort
}

// IsOpen returns true until the position has been fully closed
func (p *Position) IsOpen() bool {
	return p.ClosedAt == nil
}

// Sign returns +1 for long and -1 for short
func (p *Position) Sign() decimal.Decimal {
	if p.IsShort() {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Notional returns position value at the current price
func (p *Position) Notional() decimal.Decimal {
	return p.Size.Mul(p.CurrentPrice)
}

// ClosingSide returns the order side that reduces this position
func (p *Position) ClosingSide() Side {
	if p.IsShort() {
		return SideBuy
	}
	return SideSell
}

// Clone returns a copy
func (p *Position) Clone() *Position {
	c := *p
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// PositionSideFor returns the position direction opened by a trade side
func PositionSideFor(side Side) PositionSide {
	if side == SideSell {
		return PositionSideShort
	}
	return PositionSideLong
}
