package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/service"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
)

// Config holds the per-algorithm execution settings
type Config struct {
	Limit   LimitConfig   `yaml:"limit"`
	TWAP    TWAPConfig    `yaml:"twap"`
	Iceberg IcebergConfig `yaml:"iceberg"`
}

// DefaultConfig returns default execution configuration
func DefaultConfig() Config {
	return Config{
		Limit:   DefaultLimitConfig(),
		TWAP:    DefaultTWAPConfig(),
		Iceberg: DefaultIcebergConfig(),
	}
}

// New returns the execution strategy for kind
func New(kind service.ExecutionKind, exec service.OrderExecutor, cfg Config, log *logger.Logger) (service.ExecutionStrategy, error) {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(map[string]interface{}{"component": "execution", "kind": string(kind)})

	switch kind {
	case service.ExecutionMarket:
		return NewMarket(exec, log), nil
	case service.ExecutionLimit:
		return NewLimit(exec, cfg.Limit, log), nil
	case service.ExecutionTWAP:
		return NewTWAP(exec, cfg.TWAP, log), nil
	case service.ExecutionIceberg:
		return NewIceberg(exec, cfg.Iceberg, log), nil
	default:
		return nil, fmt.Errorf("unknown execution kind: %s", kind)
	}
}

// child copies params for a derived order. The client order id is cleared
// so every child gets its own.
func child(params *entity.OrderParams) *entity.OrderParams {
	p := *params
	p.ClientOrderID = ""
	p.Metadata = make(map[string]string, len(params.Metadata)+3)
	for k, v := range params.Metadata {
		p.Metadata[k] = v
	}
	return &p
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
