package entity

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// SignalType represents the intent carried by a signal
type SignalType string

const (
	SignalTypeBuy   SignalType = "buy"
	SignalTypeSell  SignalType = "sell"
	SignalTypeHold  SignalType = "hold"
	SignalTypeClose SignalType = "close"
)

// Signal is an immutable trading intent produced by a strategy
type Signal struct {
	Type       SignalType
	Instrument string
	Price      decimal.Decimal // indicative, zero when unknown
	Size       decimal.Decimal
	Confidence float64 // 0-1
	Metadata   map[string]string
	Timestamp  time.Time
}

// IsActionable returns true for signals that produce an order
func (s *Signal) IsActionable() bool {
	switch s.Type {
	case SignalTypeBuy, SignalTypeSell, SignalTypeClose:
		return true
	}
	return false
}

// ID returns a provenance id derived from the signal timestamp
func (s *Signal) ID() string {
	if s.Timestamp.IsZero() {
		return ""
	}
	return strconv.FormatInt(s.Timestamp.UnixMicro(), 10)
}

// Notional returns indicative price * size
func (s *Signal) Notional() decimal.Decimal {
	return s.Price.Mul(s.Size)
}

// Account is a read-only snapshot of the trading account supplied per decision
type Account struct {
	Balance          decimal.Decimal
	Equity           decimal.Decimal
	AvailableBalance decimal.Decimal
	Positions        []*Position
	DailyPnl         decimal.Decimal
	TotalPnl         decimal.Decimal
	MarginUsed       decimal.Decimal
}

// PositionValue returns the total value of the open positions
func (a *Account) PositionValue() decimal.Decimal {
	total := decimal.Zero
	for _, p := range a.Positions {
		if p == nil {
			continue
		}
		total = total.Add(p.Notional())
	}
	return total
}

// OpenPosition returns the open position for an instrument, if any
func (a *Account) OpenPosition(instrument string) *Position {
	for _, p := range a.Positions {
		if p != nil && p.Instrument == instrument && p.IsOpen() && p.Size.IsPositive() {
			return p
		}
	}
	return nil
}
