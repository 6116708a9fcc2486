package position

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/adapter/gateway"
	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/repository"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
)

// Ledger owns positions and their realized/unrealized PnL.
// Updates for one instrument are serialized; instruments do not block each other.
type Ledger struct {
	repo repository.PositionRepository
	log  *logger.Logger
	now  func() time.Time

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	open    map[string]*entity.Position
	onClose []func(*entity.Position)
}

// NewLedger creates a new position ledger
func NewLedger(repo repository.PositionRepository, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.Default()
	}
	return &Ledger{
		repo:  repo,
		log:   log.WithField("component", "position_ledger"),
		now:   func() time.Time { return time.Now().UTC() },
		locks: make(map[string]*sync.Mutex),
		open:  make(map[string]*entity.Position),
	}
}

// OnClose registers a hook called after a position is fully closed
func (l *Ledger) OnClose(fn func(*entity.Position)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onClose = append(l.onClose, fn)
}

func (l *Ledger) lock(instrument string) func() {
	l.mu.Lock()
	m, ok := l.locks[instrument]
	if !ok {
		m = &sync.Mutex{}
		l.locks[instrument] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// ApplyTrade folds a fill into the instrument's position and returns the
// resulting position. A trade that reverses exposure returns the new
// position opened with the remainder.
func (l *Ledger) ApplyTrade(ctx context.Context, trade *entity.Trade) (*entity.Position, error) {
	if !trade.Size.IsPositive() {
		return nil, &entity.ValidationError{Reason: "trade size must be positive"}
	}

	unlock := l.lock(trade.Instrument)
	defer unlock()

	pos, err := l.loadOpen(ctx, trade.Instrument)
	if err != nil {
		return nil, err
	}

	if pos == nil {
		return l.openPosition(ctx, trade, trade.Size)
	}

	now := l.now()
	if entity.PositionSideFor(trade.Side) == pos.Side {
		total := pos.Size.Add(trade.Size)
		pos.AvgPrice = pos.AvgPrice.Mul(pos.Size).Add(trade.Price.Mul(trade.Size)).Div(total)
		pos.Size = total
		pos.CurrentPrice = trade.Price
		pos.UnrealizedPnl = unrealized(pos)
		pos.UpdatedAt = now

		if err := l.save(ctx, pos); err != nil {
			return nil, err
		}
		l.log.Info("Position %s increased: %s %s @ avg %s", pos.Instrument, pos.Side, pos.Size, pos.AvgPrice)
		return pos.Clone(), nil
	}

	closeSize := decimal.Min(trade.Size, pos.Size)
	pnl := pos.Sign().Mul(trade.Price.Sub(pos.AvgPrice)).Mul(closeSize)
	pos.RealizedPnl = pos.RealizedPnl.Add(pnl)
	pos.Size = pos.Size.Sub(closeSize)
	pos.CurrentPrice = trade.Price
	pos.UpdatedAt = now

	if pos.Size.IsPositive() {
		pos.UnrealizedPnl = unrealized(pos)
		if err := l.save(ctx, pos); err != nil {
			return nil, err
		}
		l.log.Info("Position %s reduced by %s, realized %s", pos.Instrument, closeSize, pnl)
		return pos.Clone(), nil
	}

	pos.UnrealizedPnl = decimal.Zero
	pos.ClosedAt = &now
	if err := l.save(ctx, pos); err != nil {
		return nil, err
	}
	l.log.Info("Position %s closed, realized %s", pos.Instrument, pos.RealizedPnl)
	l.notifyClose(pos)

	remainder := trade.Size.Sub(closeSize)
	if remainder.IsPositive() {
		return l.openPosition(ctx, trade, remainder)
	}
	return pos.Clone(), nil
}

func (l *Ledger) openPosition(ctx context.Context, trade *entity.Trade, size decimal.Decimal) (*entity.Position, error) {
	now := l.now()
	pos := &entity.Position{
		ID:           uuid.NewString(),
		Instrument:   trade.Instrument,
		Side:         entity.PositionSideFor(trade.Side),
		Size:         size,
		EntryPrice:   trade.Price,
		AvgPrice:     trade.Price,
		CurrentPrice: trade.Price,
		StrategyID:   trade.StrategyID,
		OpenedAt:     now,
		UpdatedAt:    now,
	}
	if err := l.save(ctx, pos); err != nil {
		return nil, err
	}
	l.log.Info("Position %s opened: %s %s @ %s", pos.Instrument, pos.Side, pos.Size, pos.EntryPrice)
	return pos.Clone(), nil
}

// MarkPrice revalues the open position. Returns nil when there is none.
func (l *Ledger) MarkPrice(ctx context.Context, instrument string, price decimal.Decimal) (*entity.Position, error) {
	if !price.IsPositive() {
		return nil, nil
	}

	unlock := l.lock(instrument)
	defer unlock()

	pos, err := l.loadOpen(ctx, instrument)
	if err != nil || pos == nil {
		return nil, err
	}

	pos.CurrentPrice = price
	pos.UnrealizedPnl = unrealized(pos)
	pos.UpdatedAt = l.now()
	if err := l.save(ctx, pos); err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// Get returns the open position for an instrument
func (l *Ledger) Get(ctx context.Context, instrument string) (*entity.Position, error) {
	pos, err := l.loadOpen(ctx, instrument)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, entity.ErrPositionNotFound
	}
	return pos.Clone(), nil
}

// ListAll lists positions, open ones only unless includeClosed
func (l *Ledger) ListAll(ctx context.Context, includeClosed bool) ([]*entity.Position, error) {
	return l.repo.List(ctx, repository.PositionFilter{IncludeClosed: includeClosed})
}

// SyncReport summarizes a reconciliation against the exchange
type SyncReport struct {
	Updated int
	Closed  int
	Adopted int
}

// Sync reconciles open positions with the exchange snapshot. Positions the
// exchange no longer holds are closed locally; unknown exchange positions
// are adopted.
func (l *Ledger) Sync(ctx context.Context, remote []*gateway.ExchangePosition) (SyncReport, error) {
	var report SyncReport

	byInstrument := make(map[string]*gateway.ExchangePosition, len(remote))
	for _, rp := range remote {
		if rp != nil && rp.Instrument != "" {
			byInstrument[rp.Instrument] = rp
		}
	}

	local, err := l.repo.List(ctx, repository.PositionFilter{})
	if err != nil {
		return report, errors.Wrap(err, "list open positions")
	}

	seen := make(map[string]bool, len(local))
	for _, lp := range local {
		seen[lp.Instrument] = true
		if err := l.syncOne(ctx, lp.Instrument, byInstrument[lp.Instrument], &report); err != nil {
			return report, err
		}
	}
	for instrument, rp := range byInstrument {
		if seen[instrument] || rp.Size.IsZero() {
			continue
		}
		if err := l.syncOne(ctx, instrument, rp, &report); err != nil {
			return report, err
		}
	}

	l.log.Info("Position sync: updated=%d closed=%d adopted=%d", report.Updated, report.Closed, report.Adopted)
	return report, nil
}

func (l *Ledger) syncOne(ctx context.Context, instrument string, rp *gateway.ExchangePosition, report *SyncReport) error {
	unlock := l.lock(instrument)
	defer unlock()

	pos, err := l.loadOpen(ctx, instrument)
	if err != nil {
		return err
	}
	now := l.now()

	if pos == nil {
		// closed locally since the listing, or flat on both sides
		if rp == nil || rp.Size.IsZero() {
			return nil
		}
		side := rp.PositionSide
		if side != entity.PositionSideLong && side != entity.PositionSideShort {
			side = entity.PositionSideLong
			if rp.Size.IsNegative() {
				side = entity.PositionSideShort
			}
		}
		pos = &entity.Position{
			ID:            uuid.NewString(),
			Instrument:    instrument,
			Side:          side,
			Size:          rp.Size.Abs(),
			EntryPrice:    rp.AvgPrice,
			AvgPrice:      rp.AvgPrice,
			CurrentPrice:  rp.LastPrice,
			UnrealizedPnl: rp.UnrealizedPnl,
			Leverage:      rp.Leverage,
			Margin:        rp.Margin,
			OpenedAt:      now,
			UpdatedAt:     now,
		}
		report.Adopted++
		return l.save(ctx, pos)
	}

	if rp == nil || rp.Size.IsZero() {
		pos.Size = decimal.Zero
		pos.UnrealizedPnl = decimal.Zero
		pos.ClosedAt = &now
		pos.UpdatedAt = now
		report.Closed++
		if err := l.save(ctx, pos); err != nil {
			return err
		}
		l.notifyClose(pos)
		return nil
	}

	pos.Size = rp.Size.Abs()
	if rp.LastPrice.IsPositive() {
		pos.CurrentPrice = rp.LastPrice
	}
	pos.UnrealizedPnl = rp.UnrealizedPnl
	if rp.Leverage.IsPositive() {
		pos.Leverage = rp.Leverage
	}
	if rp.Margin.IsPositive() {
		pos.Margin = rp.Margin
	}
	pos.UpdatedAt = now
	report.Updated++
	return l.save(ctx, pos)
}

// loadOpen returns a working copy of the open position, nil if none.
// Callers hold the instrument lock.
func (l *Ledger) loadOpen(ctx context.Context, instrument string) (*entity.Position, error) {
	l.mu.Lock()
	cached, ok := l.open[instrument]
	l.mu.Unlock()
	if ok {
		return cached.Clone(), nil
	}

	pos, err := l.repo.GetOpen(ctx, instrument)
	if errors.Is(err, entity.ErrPositionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load position %s", instrument)
	}

	l.mu.Lock()
	l.open[instrument] = pos.Clone()
	l.mu.Unlock()
	return pos, nil
}

func (l *Ledger) save(ctx context.Context, pos *entity.Position) error {
	if err := l.repo.Save(ctx, pos); err != nil {
		return errors.Wrapf(err, "save position %s", pos.Instrument)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if pos.IsOpen() {
		l.open[pos.Instrument] = pos.Clone()
	} else {
		delete(l.open, pos.Instrument)
	}
	return nil
}

func (l *Ledger) notifyClose(pos *entity.Position) {
	l.mu.Lock()
	hooks := append([]func(*entity.Position){}, l.onClose...)
	l.mu.Unlock()

	for _, fn := range hooks {
		fn(pos.Clone())
	}
}

func unrealized(pos *entity.Position) decimal.Decimal {
	return pos.Sign().Mul(pos.CurrentPrice.Sub(pos.AvgPrice)).Mul(pos.Size)
}
