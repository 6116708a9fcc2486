package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/service"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
)

// LimitConfig holds limit-with-fallback settings
type LimitConfig struct {
	CheckInterval    time.Duration `yaml:"check_interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FallbackToMarket bool          `yaml:"fallback_to_market"`
}

// DefaultLimitConfig returns default limit execution configuration
func DefaultLimitConfig() LimitConfig {
	return LimitConfig{
		CheckInterval:    2 * time.Second,
		Timeout:          60 * time.Second,
		FallbackToMarket: true,
	}
}

// Limit rests a limit order until filled or timed out, then optionally
// sends the residual as a market order
type Limit struct {
	exec service.OrderExecutor
	cfg  LimitConfig
	log  *logger.Logger
}

// NewLimit creates a limit execution
func NewLimit(exec service.OrderExecutor, cfg LimitConfig, log *logger.Logger) *Limit {
	def := DefaultLimitConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Limit{exec: exec, cfg: cfg, log: log}
}

// Kind implements service.ExecutionStrategy
func (l *Limit) Kind() service.ExecutionKind { return service.ExecutionLimit }

// Execute implements service.ExecutionStrategy
func (l *Limit) Execute(ctx context.Context, params *entity.OrderParams) ([]*entity.Order, error) {
	if !params.HasPrice() {
		return nil, &entity.ValidationError{Reason: "limit execution requires a price"}
	}

	p := *params
	p.Type = entity.OrderTypeLimit

	l.log.Info("Executing limit order: %s %s %s @ %s (timeout: %s)", p.Side, p.Size, p.Instrument, p.Price, l.cfg.Timeout)

	o, err := l.exec.PlaceOrder(ctx, &p)
	if err != nil {
		if o != nil {
			return []*entity.Order{o}, err
		}
		return nil, err
	}

	deadline := time.Now().Add(l.cfg.Timeout)
	for {
		cur, err := l.exec.GetOrder(ctx, o.ID)
		if err != nil {
			return []*entity.Order{o}, err
		}
		o = cur
		if o.Status.IsTerminal() {
			l.log.Info("Limit order %s completed with status: %s", o.ID, o.Status)
			return []*entity.Order{o}, nil
		}

		left := time.Until(deadline)
		if left <= 0 {
			break
		}
		wait := l.cfg.CheckInterval
		if left < wait {
			wait = left
		}
		if err := sleep(ctx, wait); err != nil {
			return []*entity.Order{o}, err
		}
	}

	l.log.Warn("Limit order %s timed out after %s", o.ID, l.cfg.Timeout)

	cancelled, err := l.exec.CancelOrder(ctx, o.ID)
	if err != nil {
		return []*entity.Order{o}, err
	}
	if cur, err := l.exec.GetOrder(ctx, o.ID); err == nil {
		o = cur
	}
	if !cancelled || !l.cfg.FallbackToMarket {
		return []*entity.Order{o}, nil
	}

	remaining := o.RemainingSize()
	if !remaining.IsPositive() {
		return []*entity.Order{o}, nil
	}

	l.log.Info("Falling back to market order for %s, residual %s", o.ID, remaining)

	mp := child(params)
	mp.Type = entity.OrderTypeMarket
	mp.Price = decimal.Zero
	mp.Size = remaining

	m, err := l.exec.PlaceOrder(ctx, mp)
	if m == nil {
		return []*entity.Order{o}, err
	}
	return []*entity.Order{o, m}, err
}
