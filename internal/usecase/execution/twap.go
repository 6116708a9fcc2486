package execution

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/service"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
)

// sizePrecision is the number of decimal places slices are truncated to
const sizePrecision = 8

// TWAPConfig holds TWAP settings
type TWAPConfig struct {
	NumSlices      int           `yaml:"num_slices"`
	Duration       time.Duration `yaml:"duration"`
	UseLimitOrders bool          `yaml:"use_limit_orders"`
	PriceOffsetPct float64       `yaml:"price_offset_pct"`
}

// DefaultTWAPConfig returns default TWAP configuration
func DefaultTWAPConfig() TWAPConfig {
	return TWAPConfig{
		NumSlices:      10,
		Duration:       300 * time.Second,
		PriceOffsetPct: 0.001,
	}
}

// TWAP splits an order into equal slices spread evenly over a duration
type TWAP struct {
	exec service.OrderExecutor
	cfg  TWAPConfig
	log  *logger.Logger
}

// NewTWAP creates a TWAP execution
func NewTWAP(exec service.OrderExecutor, cfg TWAPConfig, log *logger.Logger) *TWAP {
	def := DefaultTWAPConfig()
	if cfg.NumSlices <= 0 {
		cfg.NumSlices = def.NumSlices
	}
	if cfg.Duration < 0 {
		cfg.Duration = def.Duration
	}
	return &TWAP{exec: exec, cfg: cfg, log: log}
}

// Kind implements service.ExecutionStrategy
func (t *TWAP) Kind() service.ExecutionKind { return service.ExecutionTWAP }

// SplitSize divides size into n slices. Every slice but the last is
// size/n truncated; the last absorbs the remainder so the slices sum to size.
func SplitSize(size decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	slice := size.Div(decimal.NewFromInt(int64(n))).Truncate(sizePrecision)
	out := make([]decimal.Decimal, n)
	for i := 0; i < n-1; i++ {
		out[i] = slice
	}
	out[n-1] = size.Sub(slice.Mul(decimal.NewFromInt(int64(n - 1))))
	return out
}

// Execute implements service.ExecutionStrategy
func (t *TWAP) Execute(ctx context.Context, params *entity.OrderParams) ([]*entity.Order, error) {
	if t.cfg.UseLimitOrders && !params.HasPrice() {
		return nil, &entity.ValidationError{Reason: "twap with limit orders requires a price"}
	}

	slices := SplitSize(params.Size, t.cfg.NumSlices)
	interval := t.cfg.Duration / time.Duration(t.cfg.NumSlices)

	t.log.Info("Executing TWAP order: %s %s %s over %s in %d slices",
		params.Side, params.Size, params.Instrument, t.cfg.Duration, t.cfg.NumSlices)

	offset := decimal.NewFromFloat(t.cfg.PriceOffsetPct)
	one := decimal.NewFromInt(1)

	orders := make([]*entity.Order, 0, len(slices))
	for i, size := range slices {
		if size.IsPositive() {
			p := child(params)
			p.Size = size
			p.Type = entity.OrderTypeMarket
			p.Price = decimal.Zero
			if t.cfg.UseLimitOrders {
				p.Type = entity.OrderTypeLimit
				if params.Side == entity.SideBuy {
					p.Price = params.Price.Mul(one.Add(offset))
				} else {
					p.Price = params.Price.Mul(one.Sub(offset))
				}
			}
			p.Metadata["twap_slice"] = strconv.Itoa(i + 1)
			p.Metadata["twap_total_slices"] = strconv.Itoa(t.cfg.NumSlices)

			t.log.Info("Executing TWAP slice %d/%d: size=%s", i+1, t.cfg.NumSlices, size)

			o, err := t.exec.PlaceOrder(ctx, p)
			if err != nil {
				t.log.Error("Error placing TWAP slice %d: %v", i+1, err)
			} else {
				orders = append(orders, o)
			}
		}

		if i < len(slices)-1 {
			if err := sleep(ctx, interval); err != nil {
				return orders, err
			}
		}
	}

	t.log.Info("TWAP execution completed: %d orders placed", len(orders))
	return orders, nil
}
