package order

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/repository"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
)

// NewClientOrderID returns "<prefix>_" followed by 16 random hex characters
func NewClientOrderID(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + hex[:16]
}

// Store owns order records and guards their state machine.
// Active orders are cached in memory; the repository is authoritative.
type Store struct {
	repo repository.OrderRepository
	log  *logger.Logger
	now  func() time.Time

	mu     sync.RWMutex
	active map[string]*entity.Order
}

// NewStore creates a new order store
func NewStore(repo repository.OrderRepository, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Default()
	}
	return &Store{
		repo:   repo,
		log:    log.WithField("component", "order_store"),
		now:    func() time.Time { return time.Now().UTC() },
		active: make(map[string]*entity.Order),
	}
}

// Create persists a new PENDING order
func (s *Store) Create(ctx context.Context, params *entity.OrderParams) (*entity.Order, error) {
	now := s.now()
	clientID := params.ClientOrderID
	if clientID == "" {
		clientID = NewClientOrderID("ord")
	}
	tradeMode := params.TradeMode
	if tradeMode == "" {
		tradeMode = entity.TradeModeCash
	}

	o := &entity.Order{
		ID:            uuid.NewString(),
		ClientOrderID: clientID,
		Instrument:    params.Instrument,
		Side:          params.Side,
		Type:          params.Type,
		TradeMode:     tradeMode,
		PositionSide:  params.PositionSide,
		ReduceOnly:    params.ReduceOnly,
		Price:         params.Price,
		Size:          params.Size,
		FilledSize:    decimal.Zero,
		Status:        entity.OrderStatusPending,
		StrategyID:    params.StrategyID,
		SignalID:      params.SignalID,
		Metadata:      copyMetadata(params.Metadata),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	s.cache(o)

	s.log.Debug("Order %s created: %s %s %s %s", o.ID, o.Side, o.Size, o.Instrument, o.Type)
	return o.Clone(), nil
}

// Transition moves an order to status and applies changes in one atomic
// update. Disallowed transitions return an *entity.TransitionError and
// leave the record untouched.
func (s *Store) Transition(ctx context.Context, id string, status entity.OrderStatus, changes ...entity.OrderChange) (*entity.Order, error) {
	updated, err := s.repo.Update(ctx, id, func(o *entity.Order) error {
		if !o.Status.CanTransitionTo(status) {
			return &entity.TransitionError{OrderID: o.ID, From: o.Status, To: status}
		}
		if err := applyChanges(o, changes); err != nil {
			return err
		}

		now := s.now()
		o.Status = status
		o.UpdatedAt = now
		switch status {
		case entity.OrderStatusFilled:
			if o.FilledAt == nil {
				o.FilledAt = &now
			}
		case entity.OrderStatusCancelled:
			if o.CancelledAt == nil {
				o.CancelledAt = &now
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache(updated)
	s.log.Debug("Order %s -> %s (filled %s/%s)", updated.ID, updated.Status, updated.FilledSize, updated.Size)
	return updated, nil
}

// Annotate applies changes without moving the status. Final orders accept
// it too, so a cancelled order can still learn about fills the venue
// reported after the cancel. Filled size bounds are enforced as in
// Transition.
func (s *Store) Annotate(ctx context.Context, id string, changes ...entity.OrderChange) (*entity.Order, error) {
	updated, err := s.repo.Update(ctx, id, func(o *entity.Order) error {
		if err := applyChanges(o, changes); err != nil {
			return err
		}
		o.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache(updated)
	return updated, nil
}

func applyChanges(o *entity.Order, changes []entity.OrderChange) error {
	prevFilled := o.FilledSize
	for _, change := range changes {
		change(o)
	}
	if o.FilledSize.IsNegative() || o.FilledSize.GreaterThan(o.Size) {
		return &entity.ValidationError{Reason: fmt.Sprintf("filled size %s outside [0, %s]", o.FilledSize, o.Size)}
	}
	if o.FilledSize.LessThan(prevFilled) {
		return &entity.ValidationError{Reason: fmt.Sprintf("filled size decreased from %s to %s", prevFilled, o.FilledSize)}
	}
	return nil
}

// Get retrieves an order from the repository
func (s *Store) Get(ctx context.Context, id string) (*entity.Order, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByExchangeID retrieves an order by exchange order id
func (s *Store) GetByExchangeID(ctx context.Context, exchangeOrderID string) (*entity.Order, error) {
	return s.repo.GetByExchangeID(ctx, exchangeOrderID)
}

// GetByClientOrderID retrieves an order by client order id
func (s *Store) GetByClientOrderID(ctx context.Context, clientOrderID string) (*entity.Order, error) {
	return s.repo.GetByClientOrderID(ctx, clientOrderID)
}

// ListActive returns cached active orders, optionally for one instrument
func (s *Store) ListActive(_ context.Context, instrument string) []*entity.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entity.Order, 0, len(s.active))
	for _, o := range s.active {
		if instrument == "" || o.Instrument == instrument {
			out = append(out, o.Clone())
		}
	}
	return out
}

// ListHistory lists orders from the repository
func (s *Store) ListHistory(ctx context.Context, filter repository.OrderFilter) ([]*entity.Order, error) {
	return s.repo.List(ctx, filter)
}

// Warm rebuilds the active cache from the repository
func (s *Store) Warm(ctx context.Context) (int, error) {
	orders, err := s.repo.List(ctx, repository.OrderFilter{Statuses: entity.ActiveStatuses})
	if err != nil {
		return 0, errors.Wrap(err, "load active orders")
	}

	s.mu.Lock()
	s.active = make(map[string]*entity.Order, len(orders))
	for _, o := range orders {
		s.active[o.ID] = o
	}
	s.mu.Unlock()

	s.log.Info("Loaded %d active orders", len(orders))
	return len(orders), nil
}

func (s *Store) cache(o *entity.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Status.IsActive() {
		s.active[o.ID] = o.Clone()
		return
	}
	delete(s.active, o.ID)
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
