package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/service"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
)

// Market executes the whole size as one market order
type Market struct {
	exec service.OrderExecutor
	log  *logger.Logger
}

// NewMarket creates a market execution
func NewMarket(exec service.OrderExecutor, log *logger.Logger) *Market {
	return &Market{exec: exec, log: log}
}

// Kind implements service.ExecutionStrategy
func (m *Market) Kind() service.ExecutionKind { return service.ExecutionMarket }

// Execute implements service.ExecutionStrategy
func (m *Market) Execute(ctx context.Context, params *entity.OrderParams) ([]*entity.Order, error) {
	p := *params
	p.Type = entity.OrderTypeMarket
	p.Price = decimal.Zero

	m.log.Info("Executing market order: %s %s %s", p.Side, p.Size, p.Instrument)

	o, err := m.exec.PlaceOrder(ctx, &p)
	if o == nil {
		return nil, err
	}
	return []*entity.Order{o}, err
}
