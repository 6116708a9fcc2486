package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/repository"
)

const tradeColumns = `id, order_id, instrument, side, price, size, fee, fee_currency, strategy_id, executed_at`

// TradeRepository is a sqlite repository.TradeRepository
type TradeRepository struct {
	db *sql.DB
}

func (r *TradeRepository) Create(ctx context.Context, t *entity.Trade) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO trades (`+tradeColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`,
		t.ID, t.OrderID, t.Instrument, string(t.Side), t.Price.String(), t.Size.String(),
		t.Fee.String(), t.FeeCurrency, t.StrategyID, formatTime(t.ExecutedAt))
	if err != nil {
		return errors.Wrapf(err, "insert trade %s", t.ID)
	}
	return nil
}

func (r *TradeRepository) List(ctx context.Context, filter repository.TradeFilter) ([]*entity.Trade, error) {
	var w where
	if filter.Instrument != "" {
		w.add("instrument = ?", filter.Instrument)
	}
	if filter.OrderID != "" {
		w.add("order_id = ?", filter.OrderID)
	}
	if filter.StrategyID != "" {
		w.add("strategy_id = ?", filter.StrategyID)
	}
	if !filter.Since.IsZero() {
		w.add("executed_at >= ?", formatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		w.add("executed_at <= ?", formatTime(filter.Until))
	}

	query := `SELECT ` + tradeColumns + ` FROM trades` + w.String() +
		` ORDER BY executed_at DESC` + paging(filter.Limit, filter.Offset)
	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, errors.Wrap(err, "list trades")
	}
	defer rows.Close()

	var out []*entity.Trade
	for rows.Next() {
		var (
			t                      entity.Trade
			side, price, size, fee string
			executedAt             string
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Instrument, &side, &price, &size, &fee,
			&t.FeeCurrency, &t.StrategyID, &executedAt); err != nil {
			return nil, err
		}
		var d decoder
		t.Side = entity.Side(side)
		t.Price = d.decimal(price)
		t.Size = d.decimal(size)
		t.Fee = d.decimal(fee)
		t.ExecutedAt = d.time(executedAt)
		if d.err != nil {
			return nil, fmt.Errorf("scan trade %s: %w", t.ID, d.err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

var _ repository.TradeRepository = (*TradeRepository)(nil)
