package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/repository"
)

const orderColumns = `id, client_order_id, exchange_order_id, instrument, side, type, trade_mode,
  position_side, reduce_only, price, size, filled_size, avg_fill_price, status, strategy_id,
  signal_id, metadata, error_code, error_message, created_at, updated_at, filled_at, cancelled_at`

// OrderRepository is a sqlite repository.OrderRepository
type OrderRepository struct {
	db *sql.DB
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *OrderRepository) Create(ctx context.Context, o *entity.Order) error {
	meta, err := encodeMetadata(o.Metadata)
	if err != nil {
		return errors.Wrap(err, "encode metadata")
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.ClientOrderID, nullString(o.ExchangeOrderID), o.Instrument, string(o.Side), string(o.Type),
		string(o.TradeMode), string(o.PositionSide), boolToInt(o.ReduceOnly), o.Price.String(), o.Size.String(),
		o.FilledSize.String(), o.AvgFillPrice.String(), string(o.Status), o.StrategyID, o.SignalID, meta,
		o.ErrorCode, o.ErrorMessage, formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
		formatTimePtr(o.FilledAt), formatTimePtr(o.CancelledAt))
	if err != nil {
		return errors.Wrapf(err, "insert order %s", o.ID)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	return getOrder(ctx, r.db, "id = ?", id)
}

func (r *OrderRepository) GetByExchangeID(ctx context.Context, exchangeOrderID string) (*entity.Order, error) {
	return getOrder(ctx, r.db, "exchange_order_id = ?", exchangeOrderID)
}

func (r *OrderRepository) GetByClientOrderID(ctx context.Context, clientOrderID string) (*entity.Order, error) {
	return getOrder(ctx, r.db, "client_order_id = ?", clientOrderID)
}

func (r *OrderRepository) List(ctx context.Context, filter repository.OrderFilter) ([]*entity.Order, error) {
	var w where
	if filter.Instrument != "" {
		w.add("instrument = ?", filter.Instrument)
	}
	if filter.Side != "" {
		w.add("side = ?", string(filter.Side))
	}
	if filter.StrategyID != "" {
		w.add("strategy_id = ?", filter.StrategyID)
	}
	if !filter.Since.IsZero() {
		w.add("created_at >= ?", formatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		w.add("created_at <= ?", formatTime(filter.Until))
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		args := make([]interface{}, len(filter.Statuses))
		for i, s := range filter.Statuses {
			marks[i] = "?"
			args[i] = string(s)
		}
		w.add("status IN ("+strings.Join(marks, ", ")+")", args...)
	}

	query := `SELECT ` + orderColumns + ` FROM orders` + w.String() +
		` ORDER BY created_at DESC, id DESC` + paging(filter.Limit, filter.Offset)
	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	var out []*entity.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *OrderRepository) Update(ctx context.Context, id string, fn func(*entity.Order) error) (*entity.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	o, err := getOrder(ctx, tx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if err := fn(o); err != nil {
		return nil, err
	}

	meta, err := encodeMetadata(o.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "encode metadata")
	}
	_, err = tx.ExecContext(ctx, `UPDATE orders SET
  exchange_order_id = ?, price = ?, size = ?, filled_size = ?, avg_fill_price = ?, status = ?,
  metadata = ?, error_code = ?, error_message = ?, updated_at = ?, filled_at = ?, cancelled_at = ?
WHERE id = ?`,
		nullString(o.ExchangeOrderID), o.Price.String(), o.Size.String(), o.FilledSize.String(),
		o.AvgFillPrice.String(), string(o.Status), meta, o.ErrorCode, o.ErrorMessage,
		formatTime(o.UpdatedAt), formatTimePtr(o.FilledAt), formatTimePtr(o.CancelledAt), id)
	if err != nil {
		return nil, errors.Wrapf(err, "update order %s", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return o, nil
}

func getOrder(ctx context.Context, q queryer, cond string, arg interface{}) (*entity.Order, error) {
	row := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+cond+` LIMIT 1`, arg)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrOrderNotFound
	}
	return o, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (*entity.Order, error) {
	var (
		o                                     entity.Order
		exchangeID, filledAt, cancelledAt     sql.NullString
		side, typ, tradeMode, posSide, status string
		price, size, filled, avg, meta        string
		createdAt, updatedAt                  string
		reduceOnly                            int
	)
	err := s.Scan(&o.ID, &o.ClientOrderID, &exchangeID, &o.Instrument, &side, &typ, &tradeMode,
		&posSide, &reduceOnly, &price, &size, &filled, &avg, &status, &o.StrategyID,
		&o.SignalID, &meta, &o.ErrorCode, &o.ErrorMessage, &createdAt, &updatedAt, &filledAt, &cancelledAt)
	if err != nil {
		return nil, err
	}

	var d decoder
	o.ExchangeOrderID = exchangeID.String
	o.Side = entity.Side(side)
	o.Type = entity.OrderType(typ)
	o.TradeMode = entity.TradeMode(tradeMode)
	o.PositionSide = entity.PositionSide(posSide)
	o.ReduceOnly = reduceOnly != 0
	o.Status = entity.OrderStatus(status)
	o.Price = d.decimal(price)
	o.Size = d.decimal(size)
	o.FilledSize = d.decimal(filled)
	o.AvgFillPrice = d.decimal(avg)
	o.Metadata = d.metadata(meta)
	o.CreatedAt = d.time(createdAt)
	o.UpdatedAt = d.time(updatedAt)
	o.FilledAt = d.timePtr(filledAt)
	o.CancelledAt = d.timePtr(cancelledAt)
	if d.err != nil {
		return nil, fmt.Errorf("scan order %s: %w", o.ID, d.err)
	}
	return &o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ repository.OrderRepository = (*OrderRepository)(nil)
