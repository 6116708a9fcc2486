package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/domain/entity"
)

// balanceBuffer leaves room for fees and slippage when shrinking to fit
var balanceBuffer = decimal.RequireFromString("0.99")

// Config holds risk management configuration
type Config struct {
	MaxOrderSize           float64       `yaml:"max_order_size"`
	MinOrderSize           float64       `yaml:"min_order_size"`
	MaxOrderValue          float64       `yaml:"max_order_value"`
	MaxPriceDeviation      float64       `yaml:"max_price_deviation"`    // fraction of market price
	MaxDailyLoss           float64       `yaml:"max_daily_loss"`         // fraction of equity
	MaxPositionValuePct    float64       `yaml:"max_position_value_pct"` // fraction of equity
	RequirePositiveBalance bool          `yaml:"require_positive_balance"`
	MaxConsecutiveLoss     int           `yaml:"max_consecutive_loss"` // 0 disables the cooldown
	CooldownDuration       time.Duration `yaml:"cooldown_duration"`
}

// DefaultConfig returns default risk configuration
func DefaultConfig() *Config {
	return &Config{
		MaxOrderSize:           10,
		MinOrderSize:           0.001,
		MaxOrderValue:          10000,
		MaxPriceDeviation:      0.05,
		MaxDailyLoss:           0.1,
		MaxPositionValuePct:    0.5,
		RequirePositiveBalance: true,
		CooldownDuration:       5 * time.Minute,
	}
}

// CheckResult represents the result of a risk check
type CheckResult struct {
	Passed       bool
	Reason       string           // set iff !Passed
	AdjustedSize *decimal.Decimal // set when the size was revised downward
	Warnings     []string
}

func reject(reason string, warnings []string) CheckResult {
	return CheckResult{Passed: false, Reason: reason, Warnings: warnings}
}

// Gate validates and sizes trading intents before submission
type Gate struct {
	maxOrderSize        decimal.Decimal
	minOrderSize        decimal.Decimal
	maxOrderValue       decimal.Decimal
	maxPriceDeviation   decimal.Decimal
	maxDailyLoss        decimal.Decimal
	maxPositionValuePct decimal.Decimal
	requireBalance      bool

	breaker *breaker
}

// NewGate creates a new risk gate
func NewGate(cfg *Config) *Gate {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Gate{
		maxOrderSize:        decimal.NewFromFloat(cfg.MaxOrderSize),
		minOrderSize:        decimal.NewFromFloat(cfg.MinOrderSize),
		maxOrderValue:       decimal.NewFromFloat(cfg.MaxOrderValue),
		maxPriceDeviation:   decimal.NewFromFloat(cfg.MaxPriceDeviation),
		maxDailyLoss:        decimal.NewFromFloat(cfg.MaxDailyLoss),
		maxPositionValuePct: decimal.NewFromFloat(cfg.MaxPositionValuePct),
		requireBalance:      cfg.RequirePositiveBalance,
		breaker:             newBreaker(cfg.MaxConsecutiveLoss, cfg.CooldownDuration),
	}
}

// PreTradeCheck validates a signal against the account and sizes it.
// The size is only ever revised downward.
func (g *Gate) PreTradeCheck(signal *entity.Signal, account *entity.Account) CheckResult {
	var warnings []string

	if reason := g.breaker.blocked(); reason != "" {
		return reject(reason, nil)
	}

	if g.requireBalance && !account.AvailableBalance.IsPositive() {
		return reject("insufficient balance: account has no available balance", nil)
	}

	lossLimit := g.maxDailyLoss.Mul(account.Equity).Abs().Neg()
	if account.DailyPnl.LessThan(lossLimit) {
		return reject(fmt.Sprintf("daily loss limit reached: %s / %s", account.DailyPnl, account.Equity), nil)
	}

	if signal.Size.LessThan(g.minOrderSize) {
		return reject(fmt.Sprintf("order size %s below minimum %s", signal.Size, g.minOrderSize), nil)
	}

	if signal.Size.GreaterThan(g.maxOrderSize) {
		warnings = append(warnings, fmt.Sprintf("order size %s exceeds maximum %s, will be adjusted", signal.Size, g.maxOrderSize))
	}

	size := signal.Size
	price := signal.Price

	if !price.IsPositive() {
		warnings = append(warnings, "signal has no indicative price, value checks skipped")
	} else {
		value := price.Mul(size)
		if value.GreaterThan(g.maxOrderValue) {
			warnings = append(warnings, fmt.Sprintf("order value %s exceeds maximum %s, will be adjusted", value, g.maxOrderValue))
		}

		if value.GreaterThan(account.AvailableBalance) {
			shrunk := account.AvailableBalance.Div(price).Mul(balanceBuffer)
			if shrunk.LessThan(g.minOrderSize) {
				return reject(fmt.Sprintf("insufficient balance: required %s, available %s", value, account.AvailableBalance), warnings)
			}
			warnings = append(warnings, fmt.Sprintf("order size adjusted to %s due to insufficient balance", shrunk))
			size = shrunk
			value = price.Mul(size)
		}

		newPositionValue := account.PositionValue().Add(value)
		maxAllowed := account.Equity.Mul(g.maxPositionValuePct)
		if newPositionValue.GreaterThan(maxAllowed) {
			warnings = append(warnings, fmt.Sprintf("position concentration high: %s / %s", newPositionValue, maxAllowed))
		}
	}

	if size.GreaterThan(g.maxOrderSize) {
		size = g.maxOrderSize
	}
	if price.IsPositive() && size.Mul(price).GreaterThan(g.maxOrderValue) {
		size = g.maxOrderValue.Div(price)
	}

	if !size.Equal(signal.Size) {
		return CheckResult{Passed: true, AdjustedSize: &size, Warnings: warnings}
	}
	return CheckResult{Passed: true, Warnings: warnings}
}

// ValidateParams validates order parameters. marketPrice may be zero when
// no reference price is known.
func (g *Gate) ValidateParams(params *entity.OrderParams, marketPrice decimal.Decimal) CheckResult {
	var warnings []string

	if !params.Size.IsPositive() {
		return reject("order size must be positive", nil)
	}
	if params.Size.LessThan(g.minOrderSize) {
		return reject(fmt.Sprintf("order size %s below minimum %s", params.Size, g.minOrderSize), nil)
	}
	if params.Size.GreaterThan(g.maxOrderSize) {
		warnings = append(warnings, fmt.Sprintf("order size %s exceeds maximum %s", params.Size, g.maxOrderSize))
	}

	if params.Type.RequiresPrice() {
		if !params.HasPrice() {
			return reject("limit orders require a valid price", warnings)
		}
		if marketPrice.IsPositive() {
			if reason := g.checkDeviation(params.Side, params.Price, marketPrice); reason != "" {
				return reject(reason, warnings)
			}
		}
	}

	if params.HasPrice() {
		value := params.Price.Mul(params.Size)
		if value.GreaterThan(g.maxOrderValue) {
			warnings = append(warnings, fmt.Sprintf("order value %s exceeds maximum %s", value, g.maxOrderValue))
		}
	}

	return CheckResult{Passed: true, Warnings: warnings}
}

// checkDeviation rejects prices further than maxPriceDeviation from the
// market in either direction. The reason names the adverse side when the
// price works against the order.
func (g *Gate) checkDeviation(side entity.Side, price, market decimal.Decimal) string {
	deviation := price.Sub(market).Abs().Div(market)
	if !deviation.GreaterThan(g.maxPriceDeviation) {
		return ""
	}
	pct := deviation.Shift(2).StringFixed(2)
	switch {
	case side == entity.SideBuy && price.GreaterThan(market):
		return fmt.Sprintf("buy price %s too high compared to market %s (%s%%)", price, market, pct)
	case side == entity.SideSell && price.LessThan(market):
		return fmt.Sprintf("sell price %s too low compared to market %s (%s%%)", price, market, pct)
	}
	return fmt.Sprintf("price deviation %s%% exceeds maximum %s%%", pct, g.maxPriceDeviation.Shift(2).StringFixed(2))
}

// RecordClose feeds the realized PnL of a closed position into the
// consecutive loss cooldown
func (g *Gate) RecordClose(pnl decimal.Decimal) {
	g.breaker.recordClose(pnl)
}

// Halt stops all new trading until Resume
func (g *Gate) Halt(reason string) {
	g.breaker.halt(reason)
}

// Resume resumes trading
func (g *Gate) Resume() {
	g.breaker.resume()
}

// IsHalted returns true while the kill switch is engaged
func (g *Gate) IsHalted() bool {
	return g.breaker.status()["halted"].(bool)
}

// Status returns current risk status
func (g *Gate) Status() map[string]interface{} {
	s := g.breaker.status()
	s["max_order_size"] = g.maxOrderSize.String()
	s["max_order_value"] = g.maxOrderValue.String()
	s["min_order_size"] = g.minOrderSize.String()
	return s
}
