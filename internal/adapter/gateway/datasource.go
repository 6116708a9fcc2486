package gateway

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/domain/entity"
)

// PriceSource provides reference market prices for order validation
type PriceSource interface {
	// LastPrice returns the latest known price, false when none is known
	LastPrice(instrument string) (decimal.Decimal, bool)
}

// TickerCache is a PriceSource fed from ticker updates
type TickerCache struct {
	mu      sync.RWMutex
	tickers map[string]*entity.Ticker
}

// NewTickerCache creates an empty cache
func NewTickerCache() *TickerCache {
	return &TickerCache{tickers: make(map[string]*entity.Ticker)}
}

// Update stores the latest ticker
func (c *TickerCache) Update(t *entity.Ticker) {
	if t == nil {
		return
	}
	c.mu.Lock()
	c.tickers[t.Instrument] = t
	c.mu.Unlock()
}

// Ticker returns the latest ticker for an instrument
func (c *TickerCache) Ticker(instrument string) (*entity.Ticker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tickers[instrument]
	return t, ok
}

// LastPrice implements PriceSource
func (c *TickerCache) LastPrice(instrument string) (decimal.Decimal, bool) {
	t, ok := c.Ticker(instrument)
	if !ok {
		return decimal.Zero, false
	}
	p := t.MarkPrice()
	return p, p.IsPositive()
}

var _ PriceSource = (*TickerCache)(nil)
