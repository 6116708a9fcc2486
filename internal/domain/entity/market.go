package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker represents market ticker data (exchange-agnostic)
type Ticker struct {
	Instrument string
	BidPrice   decimal.Decimal
	BidSize    decimal.Decimal
	AskPrice   decimal.Decimal
	AskSize    decimal.Decimal
	LastPrice  decimal.Decimal
	Volume24h  decimal.Decimal
	Timestamp  time.Time
}

// Spread returns bid-ask spread
func (t *Ticker) Spread() decimal.Decimal {
	return t.AskPrice.Sub(t.BidPrice)
}

// MidPrice returns mid price
func (t *Ticker) MidPrice() decimal.Decimal {
	return t.BidPrice.Add(t.AskPrice).Div(decimal.NewFromInt(2))
}

// MarkPrice returns the price used to value positions.
// Last trade price is preferred, mid price otherwise.
func (t *Ticker) MarkPrice() decimal.Decimal {
	if t.LastPrice.IsPositive() {
		return t.LastPrice
	}
	if t.BidPrice.IsPositive() && t.AskPrice.IsPositive() {
		return t.MidPrice()
	}
	return decimal.Zero
}
