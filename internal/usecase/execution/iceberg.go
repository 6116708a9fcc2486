package execution

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/service"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
)

// ErrSliceNotCancelled is returned when a slice could not be pulled from the
// book; the iceberg stops rather than expose another slice next to it.
var ErrSliceNotCancelled = errors.New("iceberg slice could not be cancelled")

// IcebergConfig holds iceberg settings
type IcebergConfig struct {
	VisiblePct     float64       `yaml:"visible_pct"`
	MinVisibleSize float64       `yaml:"min_visible_size"`
	MaxRefreshTime time.Duration `yaml:"max_refresh_time"`
	CheckInterval  time.Duration `yaml:"check_interval"`
	UseLimitOrders bool          `yaml:"use_limit_orders"`
	SliceDelay     time.Duration `yaml:"slice_delay"`
	MaxSlices      int           `yaml:"max_slices"` // 0 is unlimited
}

// DefaultIcebergConfig returns default iceberg configuration
func DefaultIcebergConfig() IcebergConfig {
	return IcebergConfig{
		VisiblePct:     0.1,
		MinVisibleSize: 0.001,
		MaxRefreshTime: 30 * time.Second,
		CheckInterval:  2 * time.Second,
		UseLimitOrders: true,
		SliceDelay:     time.Second,
	}
}

// Iceberg exposes a fraction of the remaining size at a time
type Iceberg struct {
	exec service.OrderExecutor
	cfg  IcebergConfig
	log  *logger.Logger
}

// NewIceberg creates an iceberg execution
func NewIceberg(exec service.OrderExecutor, cfg IcebergConfig, log *logger.Logger) *Iceberg {
	def := DefaultIcebergConfig()
	if cfg.VisiblePct <= 0 || cfg.VisiblePct > 1 {
		cfg.VisiblePct = def.VisiblePct
	}
	if cfg.MinVisibleSize < 0 {
		cfg.MinVisibleSize = def.MinVisibleSize
	}
	if cfg.MaxRefreshTime <= 0 {
		cfg.MaxRefreshTime = def.MaxRefreshTime
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	return &Iceberg{exec: exec, cfg: cfg, log: log}
}

// Kind implements service.ExecutionStrategy
func (ic *Iceberg) Kind() service.ExecutionKind { return service.ExecutionIceberg }

// VisibleSize returns min(remaining, max(minVisible, pct*remaining))
func VisibleSize(remaining, pct, minVisible decimal.Decimal) decimal.Decimal {
	if !remaining.IsPositive() {
		return decimal.Zero
	}
	visible := decimal.Max(minVisible, remaining.Mul(pct).Truncate(sizePrecision))
	return decimal.Min(remaining, visible)
}

// Execute implements service.ExecutionStrategy. An error placing or
// watching a slice stops the loop and is returned with the orders so far.
func (ic *Iceberg) Execute(ctx context.Context, params *entity.OrderParams) ([]*entity.Order, error) {
	if ic.cfg.UseLimitOrders && !params.HasPrice() {
		return nil, &entity.ValidationError{Reason: "iceberg execution with limit orders requires a price"}
	}

	pct := decimal.NewFromFloat(ic.cfg.VisiblePct)
	minVisible := decimal.NewFromFloat(ic.cfg.MinVisibleSize)
	total := params.Size
	filled := decimal.Zero

	ic.log.Info("Executing iceberg order: %s %s %s (visible: %s%%)",
		params.Side, total, params.Instrument, pct.Shift(2).String())

	var orders []*entity.Order
	for filled.LessThan(total) {
		if ic.cfg.MaxSlices > 0 && len(orders) >= ic.cfg.MaxSlices {
			ic.log.Warn("Iceberg stopped after %d slices: %s / %s filled", len(orders), filled, total)
			break
		}

		remaining := total.Sub(filled)
		visible := VisibleSize(remaining, pct, minVisible)
		if !visible.IsPositive() {
			break
		}

		p := child(params)
		p.Size = visible
		if ic.cfg.UseLimitOrders {
			p.Type = entity.OrderTypeLimit
		} else {
			p.Type = entity.OrderTypeMarket
			p.Price = decimal.Zero
		}
		p.Metadata["iceberg_part"] = strconv.Itoa(len(orders) + 1)
		p.Metadata["iceberg_total_size"] = total.String()
		p.Metadata["iceberg_filled"] = filled.String()

		ic.log.Info("Placing iceberg slice: %s / %s remaining", visible, remaining)

		o, err := ic.exec.PlaceOrder(ctx, p)
		if o != nil {
			orders = append(orders, o)
		}
		if err != nil {
			ic.log.Error("Error placing iceberg slice: %v", err)
			return orders, err
		}

		o, err = ic.await(ctx, o)
		orders[len(orders)-1] = o
		filled = filled.Add(o.FilledSize)
		if err != nil {
			return orders, err
		}
		if !filled.LessThan(total) {
			break
		}

		if err := sleep(ctx, ic.cfg.SliceDelay); err != nil {
			return orders, err
		}
	}

	ic.log.Info("Iceberg execution completed: %s / %s filled in %d orders", filled, total, len(orders))
	return orders, nil
}

// await watches one slice until it is final, partially filled past half
// the refresh time, or timed out. The returned order carries the slice's
// final filled size.
func (ic *Iceberg) await(ctx context.Context, o *entity.Order) (*entity.Order, error) {
	start := time.Now()
	for {
		cur, err := ic.exec.GetOrder(ctx, o.ID)
		if err != nil {
			return o, err
		}
		o = cur
		elapsed := time.Since(start)

		switch o.Status {
		case entity.OrderStatusFilled:
			ic.log.Info("Iceberg slice %s filled: %s", o.ID, o.FilledSize)
			return o, nil
		case entity.OrderStatusCancelled, entity.OrderStatusRejected:
			ic.log.Warn("Iceberg slice %s %s", o.ID, o.Status)
			return o, nil
		case entity.OrderStatusPartiallyFilled:
			if elapsed >= ic.cfg.MaxRefreshTime/2 {
				return ic.refresh(ctx, o)
			}
		}

		if elapsed >= ic.cfg.MaxRefreshTime {
			ic.log.Info("Iceberg slice %s timeout, refreshing", o.ID)
			return ic.refresh(ctx, o)
		}
		if err := sleep(ctx, ic.cfg.CheckInterval); err != nil {
			return o, err
		}
	}
}

// refresh cancels the rest of a slice and re-reads it so fills that landed
// before the cancel are counted. A slice still open after a refused cancel
// ends the iceberg with ErrSliceNotCancelled.
func (ic *Iceberg) refresh(ctx context.Context, o *entity.Order) (*entity.Order, error) {
	cancelled, err := ic.exec.CancelOrder(ctx, o.ID)
	if err != nil {
		return o, err
	}
	cur, err := ic.exec.GetOrder(ctx, o.ID)
	if err != nil {
		return o, err
	}
	if !cancelled && cur.Status.IsActive() {
		ic.log.Error("Iceberg slice %s is still %s after a refused cancel", cur.ID, cur.Status)
		return cur, errors.Wrapf(ErrSliceNotCancelled, "order %s", cur.ID)
	}
	return cur, nil
}
