package position

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/domain/repository"
)

// PerformanceFilter narrows the positions considered
type PerformanceFilter struct {
	Instrument string
	StrategyID string
}

// PerformanceMetrics summarizes closed positions over a period
type PerformanceMetrics struct {
	TotalTrades    int             `json:"total_trades"`
	WinningTrades  int             `json:"winning_trades"`
	LosingTrades   int             `json:"losing_trades"`
	WinRate        float64         `json:"win_rate"`
	TotalPnl       decimal.Decimal `json:"total_pnl"`
	TotalReturnPct float64         `json:"total_return_pct"`
	AverageWin     decimal.Decimal `json:"average_win"`
	AverageLoss    decimal.Decimal `json:"average_loss"`
	ProfitFactor   float64         `json:"profit_factor"`
	MaxDrawdown    decimal.Decimal `json:"max_drawdown"`
	MaxDrawdownPct float64         `json:"max_drawdown_pct"`
	SharpeRatio    *float64        `json:"sharpe_ratio"`
	SortinoRatio   *float64        `json:"sortino_ratio"`
	Start          time.Time       `json:"start"`
	End            time.Time       `json:"end"`
}

// Analyzer computes performance metrics from closed positions
type Analyzer struct {
	repo           repository.PositionRepository
	initialCapital decimal.Decimal
}

// NewAnalyzer creates an analyzer. initialCapital is the base for return
// percentages; zero or negative falls back to 10000.
func NewAnalyzer(repo repository.PositionRepository, initialCapital decimal.Decimal) *Analyzer {
	if !initialCapital.IsPositive() {
		initialCapital = decimal.NewFromInt(10000)
	}
	return &Analyzer{repo: repo, initialCapital: initialCapital}
}

// CalculatePerformance evaluates positions closed within [start, end]
func (a *Analyzer) CalculatePerformance(ctx context.Context, start, end time.Time, filter PerformanceFilter) (*PerformanceMetrics, error) {
	positions, err := a.repo.List(ctx, repository.PositionFilter{
		Instrument: filter.Instrument,
		StrategyID: filter.StrategyID,
		OnlyClosed: true,
		ClosedFrom: start,
		ClosedTo:   end,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list closed positions")
	}

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].ClosedAt.Before(*positions[j].ClosedAt)
	})

	m := &PerformanceMetrics{
		TotalTrades: len(positions),
		TotalPnl:    decimal.Zero,
		AverageWin:  decimal.Zero,
		AverageLoss: decimal.Zero,
		MaxDrawdown: decimal.Zero,
		Start:       start,
		End:         end,
	}

	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	cumulative := decimal.Zero
	peak := decimal.Zero
	returns := make([]float64, 0, len(positions))

	for _, p := range positions {
		pnl := p.RealizedPnl
		m.TotalPnl = m.TotalPnl.Add(pnl)
		returns = append(returns, pnl.InexactFloat64())

		switch {
		case pnl.IsPositive():
			m.WinningTrades++
			grossProfit = grossProfit.Add(pnl)
		case pnl.IsNegative():
			m.LosingTrades++
			grossLoss = grossLoss.Add(pnl.Abs())
		}

		cumulative = cumulative.Add(pnl)
		peak = decimal.Max(peak, cumulative)
		m.MaxDrawdown = decimal.Max(m.MaxDrawdown, peak.Sub(cumulative))
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	}
	if m.WinningTrades > 0 {
		m.AverageWin = grossProfit.Div(decimal.NewFromInt(int64(m.WinningTrades)))
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = grossLoss.Neg().Div(decimal.NewFromInt(int64(m.LosingTrades)))
	}
	if grossLoss.IsPositive() {
		m.ProfitFactor = grossProfit.Div(grossLoss).InexactFloat64()
	}
	if peak.IsPositive() {
		m.MaxDrawdownPct = m.MaxDrawdown.Div(peak).Shift(2).InexactFloat64()
	}
	m.TotalReturnPct = m.TotalPnl.Div(a.initialCapital).Shift(2).InexactFloat64()

	m.SharpeRatio = SharpeRatio(returns)
	m.SortinoRatio = SortinoRatio(returns)
	return m, nil
}
