package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/repository"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newOrder(id, client string, created time.Time) *entity.Order {
	return &entity.Order{
		ID:            id,
		ClientOrderID: client,
		Instrument:    "BTC-USDT",
		Side:          entity.SideBuy,
		Type:          entity.OrderTypeLimit,
		TradeMode:     entity.TradeModeCash,
		Price:         d("50000.5"),
		Size:          d("0.01"),
		FilledSize:    decimal.Zero,
		Status:        entity.OrderStatusPending,
		StrategyID:    "s1",
		Metadata:      map[string]string{"twap_slice": "1"},
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Orders()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, repo.Create(ctx, newOrder("o1", "c1", now)))
	assert.Error(t, repo.Create(ctx, newOrder("o2", "c1", now)), "client order id is unique")

	got, err := repo.GetByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ClientOrderID)
	assert.Empty(t, got.ExchangeOrderID)
	assert.True(t, got.Price.Equal(d("50000.5")))
	assert.Equal(t, "1", got.Metadata["twap_slice"])
	assert.True(t, got.CreatedAt.Equal(now))
	assert.Nil(t, got.FilledAt)

	got, err = repo.GetByClientOrderID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "o1", got.ID)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, entity.ErrOrderNotFound)
	_, err = repo.GetByExchangeID(ctx, "X")
	assert.ErrorIs(t, err, entity.ErrOrderNotFound)
}

func TestOrderRepository_Update(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Orders()
	now := time.Now().UTC()
	require.NoError(t, repo.Create(ctx, newOrder("o1", "c1", now)))

	filledAt := now.Add(time.Second)
	updated, err := repo.Update(ctx, "o1", func(o *entity.Order) error {
		o.Status = entity.OrderStatusFilled
		o.ExchangeOrderID = "X1"
		o.FilledSize = d("0.01")
		o.AvgFillPrice = d("50001")
		o.FilledAt = &filledAt
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusFilled, updated.Status)

	got, err := repo.GetByExchangeID(ctx, "X1")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusFilled, got.Status)
	assert.True(t, got.AvgFillPrice.Equal(d("50001")))
	require.NotNil(t, got.FilledAt)
	assert.True(t, got.FilledAt.Equal(filledAt.Truncate(time.Nanosecond)))

	// a failing mutation writes nothing
	_, err = repo.Update(ctx, "o1", func(o *entity.Order) error {
		o.Status = entity.OrderStatusCancelled
		return errors.New("refused")
	})
	assert.Error(t, err)
	got, err = repo.GetByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusFilled, got.Status)

	_, err = repo.Update(ctx, "missing", func(*entity.Order) error { return nil })
	assert.ErrorIs(t, err, entity.ErrOrderNotFound)
}

func TestOrderRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Orders()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c", "d"} {
		o := newOrder(id, "c-"+id, base.Add(time.Duration(i)*time.Minute))
		if id == "b" {
			o.Status = entity.OrderStatusLive
			o.Instrument = "ETH-USDT"
		}
		require.NoError(t, repo.Create(ctx, o))
	}

	all, err := repo.List(ctx, repository.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "d", all[0].ID, "newest first")

	live, err := repo.List(ctx, repository.OrderFilter{Statuses: []entity.OrderStatus{entity.OrderStatusLive}})
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "b", live[0].ID)

	btc, err := repo.List(ctx, repository.OrderFilter{Instrument: "BTC-USDT", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.Equal(t, "c", btc[0].ID)

	since, err := repo.List(ctx, repository.OrderFilter{Since: base.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, since, 2)
}

func TestTradeRepository(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Trades()
	now := time.Now().UTC()

	tr := &entity.Trade{
		ID: "X1-0.01", OrderID: "o1", Instrument: "BTC-USDT", Side: entity.SideBuy,
		Price: d("50000"), Size: d("0.01"), Fee: d("0.05"), FeeCurrency: "USDT", ExecutedAt: now,
	}
	require.NoError(t, repo.Create(ctx, tr))
	require.NoError(t, repo.Create(ctx, tr), "duplicate trade ids are ignored")

	other := *tr
	other.ID = "X1-0.02"
	other.ExecutedAt = now.Add(time.Second)
	require.NoError(t, repo.Create(ctx, &other))

	trades, err := repo.List(ctx, repository.TradeFilter{OrderID: "o1"})
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "X1-0.02", trades[0].ID)
	assert.True(t, trades[1].Fee.Equal(d("0.05")))

	limited, err := repo.List(ctx, repository.TradeFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestPositionRepository(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Positions()
	now := time.Now().UTC()

	p := &entity.Position{
		ID: "p1", Instrument: "BTC-USDT", Side: entity.PositionSideLong, Size: d("1"),
		EntryPrice: d("30000"), AvgPrice: d("30000"), CurrentPrice: d("30000"),
		OpenedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.Save(ctx, p))

	open, err := repo.GetOpen(ctx, "BTC-USDT")
	require.NoError(t, err)
	assert.True(t, open.Size.Equal(d("1")))

	closedAt := now.Add(time.Hour)
	p.Size = decimal.Zero
	p.RealizedPnl = d("1000")
	p.ClosedAt = &closedAt
	require.NoError(t, repo.Save(ctx, p))

	_, err = repo.GetOpen(ctx, "BTC-USDT")
	assert.ErrorIs(t, err, entity.ErrPositionNotFound)

	openOnly, err := repo.List(ctx, repository.PositionFilter{})
	require.NoError(t, err)
	assert.Empty(t, openOnly)

	closed, err := repo.List(ctx, repository.PositionFilter{OnlyClosed: true, ClosedFrom: now, ClosedTo: closedAt})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.True(t, closed[0].RealizedPnl.Equal(d("1000")))

	outside, err := repo.List(ctx, repository.PositionFilter{OnlyClosed: true, ClosedFrom: closedAt.Add(time.Second)})
	require.NoError(t, err)
	assert.Empty(t, outside)
}
