package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/repository"
)

const positionColumns = `id, instrument, side, size, entry_price, avg_price, current_price,
  unrealized_pnl, realized_pnl, margin, leverage, strategy_id, opened_at, updated_at, closed_at`

// PositionRepository is a sqlite repository.PositionRepository
type PositionRepository struct {
	db *sql.DB
}

func (r *PositionRepository) Save(ctx context.Context, p *entity.Position) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO positions (`+positionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  side = excluded.side, size = excluded.size, entry_price = excluded.entry_price,
  avg_price = excluded.avg_price, current_price = excluded.current_price,
  unrealized_pnl = excluded.unrealized_pnl, realized_pnl = excluded.realized_pnl,
  margin = excluded.margin, leverage = excluded.leverage, strategy_id = excluded.strategy_id,
  updated_at = excluded.updated_at, closed_at = excluded.closed_at`,
		p.ID, p.Instrument, string(p.Side), p.Size.String(), p.EntryPrice.String(), p.AvgPrice.String(),
		p.CurrentPrice.String(), p.UnrealizedPnl.String(), p.RealizedPnl.String(), p.Margin.String(),
		p.Leverage.String(), p.StrategyID, formatTime(p.OpenedAt), formatTime(p.UpdatedAt),
		formatTimePtr(p.ClosedAt))
	if err != nil {
		return errors.Wrapf(err, "save position %s", p.ID)
	}
	return nil
}

func (r *PositionRepository) GetOpen(ctx context.Context, instrument string) (*entity.Position, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions
WHERE instrument = ? AND closed_at IS NULL ORDER BY opened_at DESC LIMIT 1`, instrument)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrPositionNotFound
	}
	return p, err
}

func (r *PositionRepository) List(ctx context.Context, filter repository.PositionFilter) ([]*entity.Position, error) {
	var w where
	if filter.Instrument != "" {
		w.add("instrument = ?", filter.Instrument)
	}
	if filter.StrategyID != "" {
		w.add("strategy_id = ?", filter.StrategyID)
	}
	switch {
	case filter.OnlyClosed:
		w.add("closed_at IS NOT NULL")
	case !filter.IncludeClosed:
		w.add("closed_at IS NULL")
	}
	if !filter.ClosedFrom.IsZero() {
		w.add("closed_at IS NOT NULL AND closed_at >= ?", formatTime(filter.ClosedFrom))
	}
	if !filter.ClosedTo.IsZero() {
		w.add("closed_at IS NOT NULL AND closed_at <= ?", formatTime(filter.ClosedTo))
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions`+w.String()+
		` ORDER BY opened_at ASC`, w.args...)
	if err != nil {
		return nil, errors.Wrap(err, "list positions")
	}
	defer rows.Close()

	var out []*entity.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosition(s scanner) (*entity.Position, error) {
	var (
		p                                         entity.Position
		side, size, entry, avg, current, upl, rpl string
		margin, leverage, openedAt, updatedAt     string
		closedAt                                  sql.NullString
	)
	err := s.Scan(&p.ID, &p.Instrument, &side, &size, &entry, &avg, &current, &upl, &rpl,
		&margin, &leverage, &p.StrategyID, &openedAt, &updatedAt, &closedAt)
	if err != nil {
		return nil, err
	}

	var d decoder
	p.Side = entity.PositionSide(side)
	p.Size = d.decimal(size)
	p.EntryPrice = d.decimal(entry)
	p.AvgPrice = d.decimal(avg)
	p.CurrentPrice = d.decimal(current)
	p.UnrealizedPnl = d.decimal(upl)
	p.RealizedPnl = d.decimal(rpl)
	p.Margin = d.decimal(margin)
	p.Leverage = d.decimal(leverage)
	p.OpenedAt = d.time(openedAt)
	p.UpdatedAt = d.time(updatedAt)
	p.ClosedAt = d.timePtr(closedAt)
	if d.err != nil {
		return nil, fmt.Errorf("scan position %s: %w", p.ID, d.err)
	}
	return &p, nil
}

var _ repository.PositionRepository = (*PositionRepository)(nil)
