package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/repository"
)

// PositionRepository is an in-memory repository.PositionRepository
type PositionRepository struct {
	mu        sync.Mutex
	positions map[string]*entity.Position
}

// NewPositionRepository creates an empty repository
func NewPositionRepository() *PositionRepository {
	return &PositionRepository{positions: make(map[string]*entity.Position)}
}

func (r *PositionRepository) Save(_ context.Context, p *entity.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[p.ID] = p.Clone()
	return nil
}

func (r *PositionRepository) GetOpen(_ context.Context, instrument string) (*entity.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.positions {
		if p.Instrument == instrument && p.IsOpen() {
			return p.Clone(), nil
		}
	}
	return nil, entity.ErrPositionNotFound
}

func (r *PositionRepository) List(_ context.Context, filter repository.PositionFilter) ([]*entity.Position, error) {
	r.mu.Lock()
	out := make([]*entity.Position, 0, len(r.positions))
	for _, p := range r.positions {
		if filter.Match(p) {
			out = append(out, p.Clone())
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out, nil
}

var _ repository.PositionRepository = (*PositionRepository)(nil)
