package position

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/repository"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
)

// TradeStatistics aggregates recorded fills
type TradeStatistics struct {
	TotalTrades  int             `json:"total_trades"`
	TotalVolume  decimal.Decimal `json:"total_volume"`
	TotalFees    decimal.Decimal `json:"total_fees"`
	AvgTradeSize decimal.Decimal `json:"avg_trade_size"`
	Instruments  []string        `json:"instruments"`
}

// Recorder persists fills and reports on trade history
type Recorder struct {
	repo repository.TradeRepository
	log  *logger.Logger
}

// NewRecorder creates a new trade recorder
func NewRecorder(repo repository.TradeRepository, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.Default()
	}
	return &Recorder{repo: repo, log: log.WithField("component", "trade_recorder")}
}

// Record stores a trade
func (r *Recorder) Record(ctx context.Context, trade *entity.Trade) error {
	if err := r.repo.Create(ctx, trade); err != nil {
		return errors.Wrapf(err, "record trade %s", trade.ID)
	}
	r.log.Info("Trade %s recorded: %s %s %s @ %s", trade.ID, trade.Side, trade.Size, trade.Instrument, trade.Price)
	return nil
}

// Trades lists recorded trades
func (r *Recorder) Trades(ctx context.Context, filter repository.TradeFilter) ([]*entity.Trade, error) {
	return r.repo.List(ctx, filter)
}

// Statistics aggregates trades, optionally for one instrument or strategy
func (r *Recorder) Statistics(ctx context.Context, instrument, strategyID string) (*TradeStatistics, error) {
	trades, err := r.repo.List(ctx, repository.TradeFilter{Instrument: instrument, StrategyID: strategyID})
	if err != nil {
		return nil, errors.Wrap(err, "list trades")
	}

	stats := &TradeStatistics{
		TotalVolume:  decimal.Zero,
		TotalFees:    decimal.Zero,
		AvgTradeSize: decimal.Zero,
		Instruments:  []string{},
	}
	if len(trades) == 0 {
		return stats, nil
	}

	totalSize := decimal.Zero
	instruments := make(map[string]struct{})
	for _, t := range trades {
		stats.TotalVolume = stats.TotalVolume.Add(t.Notional())
		stats.TotalFees = stats.TotalFees.Add(t.Fee)
		totalSize = totalSize.Add(t.Size)
		instruments[t.Instrument] = struct{}{}
	}
	stats.TotalTrades = len(trades)
	stats.AvgTradeSize = totalSize.Div(decimal.NewFromInt(int64(len(trades))))
	for inst := range instruments {
		stats.Instruments = append(stats.Instruments, inst)
	}
	sort.Strings(stats.Instruments)
	return stats, nil
}
