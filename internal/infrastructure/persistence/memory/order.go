package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/repository"
)

// OrderRepository is an in-memory repository.OrderRepository
type OrderRepository struct {
	mu         sync.Mutex
	orders     map[string]*entity.Order
	byExchange map[string]string
	byClient   map[string]string
}

// NewOrderRepository creates an empty repository
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:     make(map[string]*entity.Order),
		byExchange: make(map[string]string),
		byClient:   make(map[string]string),
	}
}

func (r *OrderRepository) Create(_ context.Context, o *entity.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	if o.ClientOrderID != "" {
		if _, ok := r.byClient[o.ClientOrderID]; ok {
			return fmt.Errorf("client order id %s already exists", o.ClientOrderID)
		}
		r.byClient[o.ClientOrderID] = o.ID
	}
	r.orders[o.ID] = o.Clone()
	if o.ExchangeOrderID != "" {
		r.byExchange[o.ExchangeOrderID] = o.ID
	}
	return nil
}

func (r *OrderRepository) GetByID(_ context.Context, id string) (*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

func (r *OrderRepository) get(id string) (*entity.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, entity.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r *OrderRepository) GetByExchangeID(_ context.Context, exchangeOrderID string) (*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byExchange[exchangeOrderID]
	if !ok {
		return nil, entity.ErrOrderNotFound
	}
	return r.get(id)
}

func (r *OrderRepository) GetByClientOrderID(_ context.Context, clientOrderID string) (*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byClient[clientOrderID]
	if !ok {
		return nil, entity.ErrOrderNotFound
	}
	return r.get(id)
}

func (r *OrderRepository) List(_ context.Context, filter repository.OrderFilter) ([]*entity.Order, error) {
	r.mu.Lock()
	out := make([]*entity.Order, 0, len(r.orders))
	for _, o := range r.orders {
		if filter.Match(o) {
			out = append(out, o.Clone())
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, filter.Offset, filter.Limit), nil
}

func (r *OrderRepository) Update(_ context.Context, id string, fn func(*entity.Order) error) (*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[id]
	if !ok {
		return nil, entity.ErrOrderNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	r.orders[id] = next
	if next.ExchangeOrderID != "" {
		r.byExchange[next.ExchangeOrderID] = id
	}
	return next.Clone(), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ repository.OrderRepository = (*OrderRepository)(nil)
