package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/repository"
)

// TradeRepository is an in-memory repository.TradeRepository
type TradeRepository struct {
	mu     sync.Mutex
	trades []*entity.Trade
	ids    map[string]struct{}
}

// NewTradeRepository creates an empty repository
func NewTradeRepository() *TradeRepository {
	return &TradeRepository{ids: make(map[string]struct{})}
}

func (r *TradeRepository) Create(_ context.Context, t *entity.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ids[t.ID]; ok {
		return nil
	}
	c := *t
	r.trades = append(r.trades, &c)
	r.ids[t.ID] = struct{}{}
	return nil
}

func (r *TradeRepository) List(_ context.Context, filter repository.TradeFilter) ([]*entity.Trade, error) {
	r.mu.Lock()
	out := make([]*entity.Trade, 0, len(r.trades))
	for _, t := range r.trades {
		if filter.Match(t) {
			c := *t
			out = append(out, &c)
		}
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExecutedAt.After(out[j].ExecutedAt)
	})
	return page(out, filter.Offset, filter.Limit), nil
}

var _ repository.TradeRepository = (*TradeRepository)(nil)
