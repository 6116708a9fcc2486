package position

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zono819/tradecore/internal/adapter/gateway"
	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/repository"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
	"github.com/zono819/tradecore/internal/infrastructure/persistence/memory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func trade(side entity.Side, size, price string) *entity.Trade {
	return &entity.Trade{
		ID:         fmt.Sprintf("t-%s-%s-%s-%d", side, size, price, time.Now().UnixNano()),
		Instrument: "BTC-USDT",
		Side:       side,
		Size:       d(size),
		Price:      d(price),
		ExecutedAt: time.Now(),
	}
}

func newTestLedger() (*Ledger, *memory.PositionRepository) {
	repo := memory.NewPositionRepository()
	return NewLedger(repo, logger.Discard()), repo
}

func TestLedger_LongRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	pos, err := l.ApplyTrade(ctx, trade(entity.SideBuy, "1.0", "30000"))
	require.NoError(t, err)
	assert.Equal(t, entity.PositionSideLong, pos.Side)
	assert.True(t, pos.EntryPrice.Equal(d("30000")))
	assert.True(t, pos.AvgPrice.Equal(d("30000")))

	pos, err = l.ApplyTrade(ctx, trade(entity.SideSell, "1.0", "31000"))
	require.NoError(t, err)
	assert.True(t, pos.RealizedPnl.Equal(d("1000")), "realized = %s", pos.RealizedPnl)
	assert.True(t, pos.Size.IsZero())
	assert.NotNil(t, pos.ClosedAt)

	_, err = l.Get(ctx, "BTC-USDT")
	assert.ErrorIs(t, err, entity.ErrPositionNotFound)
}

func TestLedger_ShortRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	_, err := l.ApplyTrade(ctx, trade(entity.SideSell, "1.0", "31000"))
	require.NoError(t, err)

	pos, err := l.ApplyTrade(ctx, trade(entity.SideBuy, "1.0", "30000"))
	require.NoError(t, err)
	assert.True(t, pos.RealizedPnl.Equal(d("1000")), "realized = %s", pos.RealizedPnl)
	assert.True(t, pos.Size.IsZero())
	assert.NotNil(t, pos.ClosedAt)
}

func TestLedger_IncreaseUsesWeightedAverage(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	_, err := l.ApplyTrade(ctx, trade(entity.SideBuy, "1", "30000"))
	require.NoError(t, err)
	pos, err := l.ApplyTrade(ctx, trade(entity.SideBuy, "3", "34000"))
	require.NoError(t, err)

	assert.True(t, pos.Size.Equal(d("4")))
	assert.True(t, pos.AvgPrice.Equal(d("33000")), "avg = %s", pos.AvgPrice)
	assert.True(t, pos.EntryPrice.Equal(d("30000")))
	assert.True(t, pos.RealizedPnl.IsZero())
}

func TestLedger_PartialCloseKeepsAverage(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	_, err := l.ApplyTrade(ctx, trade(entity.SideBuy, "2", "100"))
	require.NoError(t, err)
	pos, err := l.ApplyTrade(ctx, trade(entity.SideSell, "0.5", "110"))
	require.NoError(t, err)

	assert.True(t, pos.Size.Equal(d("1.5")))
	assert.True(t, pos.AvgPrice.Equal(d("100")))
	assert.True(t, pos.RealizedPnl.Equal(d("5")))
	assert.Nil(t, pos.ClosedAt)
	assert.True(t, pos.UnrealizedPnl.Equal(d("15")))
}

func TestLedger_Reversal(t *testing.T) {
	ctx := context.Background()
	l, repo := newTestLedger()

	var closed []*entity.Position
	l.OnClose(func(p *entity.Position) { closed = append(closed, p) })

	_, err := l.ApplyTrade(ctx, trade(entity.SideBuy, "1", "100"))
	require.NoError(t, err)
	pos, err := l.ApplyTrade(ctx, trade(entity.SideSell, "3", "90"))
	require.NoError(t, err)

	assert.Equal(t, entity.PositionSideShort, pos.Side)
	assert.True(t, pos.Size.Equal(d("2")))
	assert.True(t, pos.EntryPrice.Equal(d("90")))
	assert.True(t, pos.RealizedPnl.IsZero())

	require.Len(t, closed, 1)
	assert.True(t, closed[0].RealizedPnl.Equal(d("-10")))

	all, err := repo.List(ctx, repository.PositionFilter{IncludeClosed: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLedger_RealizedAccumulatesAcrossCloses(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	_, err := l.ApplyTrade(ctx, trade(entity.SideBuy, "2", "100"))
	require.NoError(t, err)
	_, err = l.ApplyTrade(ctx, trade(entity.SideSell, "1", "110"))
	require.NoError(t, err)
	pos, err := l.ApplyTrade(ctx, trade(entity.SideSell, "1", "90"))
	require.NoError(t, err)

	assert.True(t, pos.RealizedPnl.IsZero(), "realized = %s", pos.RealizedPnl)
	assert.NotNil(t, pos.ClosedAt)
}

func TestLedger_MarkPrice(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	pos, err := l.MarkPrice(ctx, "BTC-USDT", d("100"))
	require.NoError(t, err)
	assert.Nil(t, pos)

	_, err = l.ApplyTrade(ctx, trade(entity.SideSell, "2", "100"))
	require.NoError(t, err)

	pos, err = l.MarkPrice(ctx, "BTC-USDT", d("95"))
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.True(t, pos.CurrentPrice.Equal(d("95")))
	assert.True(t, pos.UnrealizedPnl.Equal(d("10")))
	assert.True(t, pos.RealizedPnl.IsZero())
}

func TestLedger_ConcurrentTradesSameInstrument(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr := trade(entity.SideBuy, "0.1", "100")
			tr.ID = fmt.Sprintf("c-%d", i)
			_, err := l.ApplyTrade(ctx, tr)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	pos, err := l.Get(ctx, "BTC-USDT")
	require.NoError(t, err)
	assert.True(t, pos.Size.Equal(d("5")), "size = %s", pos.Size)
	assert.True(t, pos.AvgPrice.Equal(d("100")))
}

func TestLedger_RejectsEmptyTrade(t *testing.T) {
	l, _ := newTestLedger()
	_, err := l.ApplyTrade(context.Background(), trade(entity.SideBuy, "0", "100"))
	assert.ErrorIs(t, err, entity.ErrValidationFailed)
}

func TestLedger_Sync(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	_, err := l.ApplyTrade(ctx, trade(entity.SideBuy, "1", "100"))
	require.NoError(t, err)
	eth := trade(entity.SideBuy, "5", "10")
	eth.Instrument = "ETH-USDT"
	_, err = l.ApplyTrade(ctx, eth)
	require.NoError(t, err)

	report, err := l.Sync(ctx, []*gateway.ExchangePosition{
		{Instrument: "BTC-USDT", Size: d("0.8"), LastPrice: d("105"), UnrealizedPnl: d("4")},
		{Instrument: "SOL-USDT", Size: d("-3"), AvgPrice: d("20"), LastPrice: d("21")},
	})
	require.NoError(t, err)
	assert.Equal(t, SyncReport{Updated: 1, Closed: 1, Adopted: 1}, report)

	btc, err := l.Get(ctx, "BTC-USDT")
	require.NoError(t, err)
	assert.True(t, btc.Size.Equal(d("0.8")))
	assert.True(t, btc.UnrealizedPnl.Equal(d("4")))

	_, err = l.Get(ctx, "ETH-USDT")
	assert.ErrorIs(t, err, entity.ErrPositionNotFound)

	sol, err := l.Get(ctx, "SOL-USDT")
	require.NoError(t, err)
	assert.Equal(t, entity.PositionSideShort, sol.Side)
	assert.True(t, sol.Size.Equal(d("3")))
}

func TestLedger_SyncOneSkipsPositionClosedConcurrently(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	_, err := l.ApplyTrade(ctx, trade(entity.SideBuy, "1", "100"))
	require.NoError(t, err)
	_, err = l.ApplyTrade(ctx, trade(entity.SideSell, "1", "101"))
	require.NoError(t, err)

	// listed as open by Sync, closed by a fill before syncOne runs
	var report SyncReport
	require.NotPanics(t, func() {
		require.NoError(t, l.syncOne(ctx, "BTC-USDT", nil, &report))
	})
	require.NoError(t, l.syncOne(ctx, "BTC-USDT", &gateway.ExchangePosition{Instrument: "BTC-USDT"}, &report))
	assert.Equal(t, SyncReport{}, report)

	_, err = l.Get(ctx, "BTC-USDT")
	assert.ErrorIs(t, err, entity.ErrPositionNotFound)
}
