package postgres

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/repository"
)

// OrderRepository is a gorm repository.OrderRepository.
type OrderRepository struct {
	db *gorm.DB
}

func (r *OrderRepository) Create(ctx context.Context, o *entity.Order) error {
	if err := r.db.WithContext(ctx).Create(newOrderModel(o)).Error; err != nil {
		return errors.Wrapf(err, "insert order %s", o.ID)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	return r.first(ctx, r.db, "id = ?", id)
}

func (r *OrderRepository) GetByExchangeID(ctx context.Context, exchangeOrderID string) (*entity.Order, error) {
	return r.first(ctx, r.db, "exchange_order_id = ?", exchangeOrderID)
}

func (r *OrderRepository) GetByClientOrderID(ctx context.Context, clientOrderID string) (*entity.Order, error) {
	return r.first(ctx, r.db, "client_order_id = ?", clientOrderID)
}

func (r *OrderRepository) first(ctx context.Context, db *gorm.DB, cond string, arg interface{}) (*entity.Order, error) {
	var m orderModel
	err := db.WithContext(ctx).Where(cond, arg).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, entity.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return m.entity(), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repository.OrderFilter) ([]*entity.Order, error) {
	q := r.db.WithContext(ctx).Model(&orderModel{})
	if filter.Instrument != "" {
		q = q.Where("instrument = ?", filter.Instrument)
	}
	if filter.Side != "" {
		q = q.Where("side = ?", string(filter.Side))
	}
	if filter.StrategyID != "" {
		q = q.Where("strategy_id = ?", filter.StrategyID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("created_at <= ?", filter.Until)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var models []orderModel
	if err := q.Order("created_at DESC, id DESC").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	out := make([]*entity.Order, len(models))
	for i := range models {
		out[i] = models[i].entity()
	}
	return out, nil
}

func (r *OrderRepository) Update(ctx context.Context, id string, fn func(*entity.Order) error) (*entity.Order, error) {
	var updated *entity.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m orderModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entity.ErrOrderNotFound
		}
		if err != nil {
			return err
		}

		o := m.entity()
		if err := fn(o); err != nil {
			return err
		}
		if err := tx.Save(newOrderModel(o)).Error; err != nil {
			return errors.Wrapf(err, "update order %s", id)
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// TradeRepository is a gorm repository.TradeRepository.
type TradeRepository struct {
	db *gorm.DB
}

func (r *TradeRepository) Create(ctx context.Context, t *entity.Trade) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(newTradeModel(t)).Error
	if err != nil {
		return errors.Wrapf(err, "insert trade %s", t.ID)
	}
	return nil
}

func (r *TradeRepository) List(ctx context.Context, filter repository.TradeFilter) ([]*entity.Trade, error) {
	q := r.db.WithContext(ctx).Model(&tradeModel{})
	if filter.Instrument != "" {
		q = q.Where("instrument = ?", filter.Instrument)
	}
	if filter.OrderID != "" {
		q = q.Where("order_id = ?", filter.OrderID)
	}
	if filter.StrategyID != "" {
		q = q.Where("strategy_id = ?", filter.StrategyID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("executed_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("executed_at <= ?", filter.Until)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var models []tradeModel
	if err := q.Order("executed_at DESC").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list trades")
	}
	out := make([]*entity.Trade, len(models))
	for i := range models {
		out[i] = models[i].entity()
	}
	return out, nil
}

// PositionRepository is a gorm repository.PositionRepository.
type PositionRepository struct {
	db *gorm.DB
}

func (r *PositionRepository) Save(ctx context.Context, p *entity.Position) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(newPositionModel(p)).Error
	if err != nil {
		return errors.Wrapf(err, "save position %s", p.ID)
	}
	return nil
}

func (r *PositionRepository) GetOpen(ctx context.Context, instrument string) (*entity.Position, error) {
	var m positionModel
	err := r.db.WithContext(ctx).
		Where("instrument = ? AND closed_at IS NULL", instrument).
		Order("opened_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, entity.ErrPositionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get open position")
	}
	return m.entity(), nil
}

func (r *PositionRepository) List(ctx context.Context, filter repository.PositionFilter) ([]*entity.Position, error) {
	q := r.db.WithContext(ctx).Model(&positionModel{})
	if filter.Instrument != "" {
		q = q.Where("instrument = ?", filter.Instrument)
	}
	if filter.StrategyID != "" {
		q = q.Where("strategy_id = ?", filter.StrategyID)
	}
	switch {
	case filter.OnlyClosed:
		q = q.Where("closed_at IS NOT NULL")
	case !filter.IncludeClosed:
		q = q.Where("closed_at IS NULL")
	}
	if !filter.ClosedFrom.IsZero() {
		q = q.Where("closed_at >= ?", filter.ClosedFrom)
	}
	if !filter.ClosedTo.IsZero() {
		q = q.Where("closed_at <= ?", filter.ClosedTo)
	}

	var models []positionModel
	if err := q.Order("opened_at ASC").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list positions")
	}
	out := make([]*entity.Position, len(models))
	for i := range models {
		out[i] = models[i].entity()
	}
	return out, nil
}

var (
	_ repository.OrderRepository    = (*OrderRepository)(nil)
	_ repository.TradeRepository    = (*TradeRepository)(nil)
	_ repository.PositionRepository = (*PositionRepository)(nil)
)
