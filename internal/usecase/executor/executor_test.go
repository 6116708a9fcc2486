package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zono819/tradecore/internal/adapter/gateway"
	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/repository"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
	"github.com/zono819/tradecore/internal/infrastructure/persistence/memory"
	"github.com/zono819/tradecore/internal/usecase/order"
	"github.com/zono819/tradecore/internal/usecase/position"
	"github.com/zono819/tradecore/internal/usecase/risk"
	"github.com/zono819/tradecore/internal/usecase/tracker"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeGateway records requests and answers with canned results
type fakeGateway struct {
	mu       sync.Mutex
	placed   []gateway.PlaceOrderRequest
	place    *gateway.PlaceOrderResult
	placeErr error
	cancel   *gateway.AckResult
	amend    *gateway.AckResult
	amended  []gateway.AmendOrderRequest
	states   map[string]*gateway.OrderState
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		place:  &gateway.PlaceOrderResult{ExchangeOrderID: "X", StatusCode: "0"},
		cancel: &gateway.AckResult{StatusCode: "0"},
		amend:  &gateway.AckResult{StatusCode: "0"},
		states: make(map[string]*gateway.OrderState),
	}
}

func (g *fakeGateway) Connect(context.Context) error    { return nil }
func (g *fakeGateway) Disconnect(context.Context) error { return nil }

func (g *fakeGateway) PlaceOrder(_ context.Context, req gateway.PlaceOrderRequest) (*gateway.PlaceOrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.placed = append(g.placed, req)
	if g.placeErr != nil {
		return nil, g.placeErr
	}
	res := *g.place
	res.ClientOrderID = req.ClientOrderID
	return &res, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, _, _ string) (*gateway.AckResult, error) {
	return g.cancel, nil
}

func (g *fakeGateway) AmendOrder(_ context.Context, req gateway.AmendOrderRequest) (*gateway.AckResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.amended = append(g.amended, req)
	return g.amend, nil
}

func (g *fakeGateway) GetOrder(_ context.Context, _, exchID string) (*gateway.OrderState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.states[exchID]
	if !ok {
		return &gateway.OrderState{ExchangeOrderID: exchID, State: "live"}, nil
	}
	c := *s
	return &c, nil
}

func (g *fakeGateway) setState(s *gateway.OrderState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states[s.ExchangeOrderID] = s
}

func (g *fakeGateway) lastPlaced() gateway.PlaceOrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.placed[len(g.placed)-1]
}

func (g *fakeGateway) GetPositions(context.Context) ([]*gateway.ExchangePosition, error) {
	return nil, nil
}

func (g *fakeGateway) SubscribeOrders(context.Context, func(*gateway.OrderState)) error { return nil }

func (g *fakeGateway) SubscribeTickers(context.Context, []string, func(*entity.Ticker)) error {
	return nil
}

type fixture struct {
	gw       *fakeGateway
	store    *order.Store
	ledger   *position.Ledger
	recorder *position.Recorder
	tracker  *tracker.Tracker
	prices   *gateway.TickerCache
	exec     *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Discard()
	f := &fixture{
		gw:       newFakeGateway(),
		store:    order.NewStore(memory.NewOrderRepository(), log),
		ledger:   position.NewLedger(memory.NewPositionRepository(), log),
		recorder: position.NewRecorder(memory.NewTradeRepository(), log),
		prices:   gateway.NewTickerCache(),
	}
	f.tracker = tracker.New(tracker.Config{PollInterval: 5 * time.Millisecond, MaxAttempts: 200},
		f.gw, f.store, f.ledger, f.recorder, log)
	t.Cleanup(f.tracker.StopAll)
	f.exec = New(Config{}, f.gw, f.store, risk.NewGate(risk.DefaultConfig()), f.tracker, f.prices, log)
	return f
}

func account() *entity.Account {
	return &entity.Account{
		Balance:          d("100000"),
		Equity:           d("100000"),
		AvailableBalance: d("100000"),
	}
}

func marketBuy(size string) *entity.OrderParams {
	return &entity.OrderParams{
		Instrument: "BTC-USDT",
		Side:       entity.SideBuy,
		Type:       entity.OrderTypeMarket,
		Size:       d(size),
	}
}

func TestExecutor_PlaceOrderFillsThroughTracker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	o, err := f.exec.PlaceOrder(ctx, marketBuy("0.01"))
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusLive, o.Status)
	assert.Equal(t, "X", o.ExchangeOrderID)
	assert.True(t, f.tracker.IsTracking("X"))
	assert.Len(t, f.exec.PendingOrders(), 1)

	req := f.gw.lastPlaced()
	assert.Equal(t, entity.TradeModeCash, req.TradeMode)
	assert.True(t, req.Price.IsZero())
	assert.Equal(t, o.ClientOrderID, req.ClientOrderID)

	f.gw.setState(&gateway.OrderState{ExchangeOrderID: "X", State: "filled", CumFilledSize: d("0.01"), AvgPrice: d("50000")})

	assert.Eventually(t, func() bool {
		got, err := f.store.Get(ctx, o.ID)
		return err == nil && got.Status == entity.OrderStatusFilled
	}, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(f.exec.PendingOrders()) == 0 }, time.Second, 5*time.Millisecond)

	trades, err := f.recorder.Trades(ctx, repository.TradeFilter{OrderID: o.ID})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Size.Equal(d("0.01")))
}

func TestExecutor_PlaceOrderExchangeRejection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.place = &gateway.PlaceOrderResult{StatusCode: "50000", StatusMsg: "system busy"}

	o, err := f.exec.PlaceOrder(ctx, marketBuy("0.01"))
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrExchangeRejected)

	var exErr *entity.ExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, "50000", exErr.Code)

	require.NotNil(t, o)
	assert.Equal(t, entity.OrderStatusRejected, o.Status)
	assert.Equal(t, "50000", o.ErrorCode)
	assert.Equal(t, "system busy", o.ErrorMessage)
	assert.Empty(t, o.ExchangeOrderID)
	assert.False(t, f.tracker.IsTracking(""))
	assert.Empty(t, f.exec.PendingOrders())
}

func TestExecutor_PlaceOrderTransportError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.placeErr = errors.New("connection reset")

	o, err := f.exec.PlaceOrder(ctx, marketBuy("0.01"))
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrTransport)
	require.NotNil(t, o)
	assert.Equal(t, entity.OrderStatusRejected, o.Status)
	assert.Contains(t, o.ErrorMessage, "connection reset")
}

func TestExecutor_PlaceOrderValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.exec.PlaceOrder(ctx, marketBuy("0.0001"))
	assert.ErrorIs(t, err, entity.ErrValidationFailed)

	_, err = f.exec.PlaceOrder(ctx, &entity.OrderParams{
		Instrument: "BTC-USDT", Side: entity.SideBuy, Type: entity.OrderTypeLimit, Size: d("0.01"),
	})
	assert.ErrorIs(t, err, entity.ErrValidationFailed)

	orders, err := f.store.ListHistory(ctx, repository.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders, "validation failures must not create orders")
}

func TestExecutor_PlaceOrderChecksPriceDeviationAgainstMarket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.prices.Update(&entity.Ticker{Instrument: "BTC-USDT", LastPrice: d("50000")})

	_, err := f.exec.PlaceOrder(ctx, &entity.OrderParams{
		Instrument: "BTC-USDT", Side: entity.SideBuy, Type: entity.OrderTypeLimit,
		Size: d("0.01"), Price: d("60000"),
	})
	assert.ErrorIs(t, err, entity.ErrValidationFailed)

	o, err := f.exec.PlaceOrder(ctx, &entity.OrderParams{
		Instrument: "BTC-USDT", Side: entity.SideBuy, Type: entity.OrderTypeLimit,
		Size: d("0.01"), Price: d("50100"),
	})
	require.NoError(t, err)
	assert.True(t, f.gw.lastPlaced().Price.Equal(d("50100")))
	assert.Equal(t, entity.OrderStatusLive, o.Status)
}

func TestExecutor_CancelOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	o, err := f.exec.PlaceOrder(ctx, marketBuy("0.01"))
	require.NoError(t, err)

	ok, err := f.exec.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, f.tracker.IsTracking("X"))
	assert.Empty(t, f.exec.PendingOrders())

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusCancelled, got.Status)
	assert.NotNil(t, got.CancelledAt)

	ok, err = f.exec.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok, "cancelling a final order is a no-op")

	ok, err = f.exec.CancelOrder(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecutor_CancelOrderAppliesFillsBeforeCancelling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	o, err := f.exec.PlaceOrder(ctx, &entity.OrderParams{
		Instrument: "BTC-USDT", Side: entity.SideBuy, Type: entity.OrderTypeLimit,
		Size: d("1"), Price: d("50000"),
	})
	require.NoError(t, err)

	// part of the order trades between the last poll and the cancel
	f.gw.setState(&gateway.OrderState{ExchangeOrderID: "X", State: "partially_filled", CumFilledSize: d("0.6"), AvgPrice: d("50000")})

	ok, err := f.exec.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, f.tracker.IsTracking("X"))

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusCancelled, got.Status)
	assert.True(t, got.FilledSize.Equal(d("0.6")), got.FilledSize.String())
	assert.True(t, got.RemainingSize().Equal(d("0.4")))

	pos, err := f.ledger.Get(ctx, "BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, entity.PositionSideLong, pos.Side)
	assert.True(t, pos.Size.Equal(d("0.6")))

	// the venue's own cancel notice afterwards does not count the fill twice
	require.NoError(t, f.tracker.OnExternalUpdate(ctx, &gateway.OrderState{
		ExchangeOrderID: "X", State: "canceled", CumFilledSize: d("0.6"), AvgPrice: d("50000"),
	}))
	trades, err := f.recorder.Trades(ctx, repository.TradeFilter{OrderID: o.ID})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Size.Equal(d("0.6")))
}

func TestExecutor_CancelOrderFilledFirstReturnsFalse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	o, err := f.exec.PlaceOrder(ctx, &entity.OrderParams{
		Instrument: "BTC-USDT", Side: entity.SideBuy, Type: entity.OrderTypeLimit,
		Size: d("1"), Price: d("50000"),
	})
	require.NoError(t, err)
	f.tracker.StopTracking("X")
	f.gw.setState(&gateway.OrderState{ExchangeOrderID: "X", State: "filled", CumFilledSize: d("1"), AvgPrice: d("50000")})

	ok, err := f.exec.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusFilled, got.Status)
	assert.Empty(t, f.exec.PendingOrders())
}

func TestExecutor_CancelOrderRefusedLeavesState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.cancel = &gateway.AckResult{StatusCode: "51400", StatusMsg: "cancel failed"}

	o, err := f.exec.PlaceOrder(ctx, marketBuy("0.01"))
	require.NoError(t, err)

	ok, err := f.exec.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusLive, got.Status)
	assert.True(t, f.tracker.IsTracking("X"))
}

func TestExecutor_CancelPendingOrderLocally(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	o, err := f.store.Create(ctx, marketBuy("0.01"))
	require.NoError(t, err)

	ok, err := f.exec.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusRejected, got.Status)
	assert.Equal(t, "cancelled before exchange acceptance", got.ErrorMessage)
}

func TestExecutor_ModifyOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	o, err := f.exec.PlaceOrder(ctx, marketBuy("0.01"))
	require.NoError(t, err)

	got, err := f.exec.ModifyOrder(ctx, o.ID, d("0.02"), decimal.Zero)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Size.Equal(d("0.01")), "local order is updated by the tracker, not the amend")
	require.Len(t, f.gw.amended, 1)
	assert.Equal(t, "X", f.gw.amended[0].ExchangeOrderID)
	assert.True(t, f.gw.amended[0].NewSize.Equal(d("0.02")))

	f.gw.amend = &gateway.AckResult{StatusCode: "51503", StatusMsg: "order does not exist"}
	got, err = f.exec.ModifyOrder(ctx, o.ID, decimal.Zero, d("49000"))
	require.NoError(t, err)
	assert.Nil(t, got)

	pending, err := f.store.Create(ctx, marketBuy("0.01"))
	require.NoError(t, err)
	got, err = f.exec.ModifyOrder(ctx, pending.ID, d("0.02"), decimal.Zero)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExecutor_ExecuteSignal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sig := &entity.Signal{
		Type:       entity.SignalTypeBuy,
		Instrument: "BTC-USDT",
		Price:      d("50000"),
		Size:       d("0.01"),
		Timestamp:  time.Now(),
	}
	o, err := f.exec.ExecuteSignal(ctx, sig, account(), "momentum")
	require.NoError(t, err)
	assert.Equal(t, entity.SideBuy, o.Side)
	assert.Equal(t, entity.OrderTypeMarket, o.Type)
	assert.Equal(t, "momentum", o.StrategyID)
	assert.Equal(t, sig.ID(), o.SignalID)
	assert.Equal(t, "sig_", o.ClientOrderID[:4])
}

func TestExecutor_ExecuteSignalUsesAdjustedSize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sig := &entity.Signal{Type: entity.SignalTypeSell, Instrument: "BTC-USDT", Size: d("20"), Timestamp: time.Now()}
	o, err := f.exec.ExecuteSignal(ctx, sig, account(), "")
	require.NoError(t, err)
	assert.Equal(t, entity.SideSell, o.Side)
	assert.True(t, o.Size.Equal(d("10")), "size = %s", o.Size)
}

func TestExecutor_ExecuteSignalRiskRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	acct := account()
	acct.AvailableBalance = decimal.Zero
	sig := &entity.Signal{Type: entity.SignalTypeBuy, Instrument: "BTC-USDT", Size: d("0.01")}

	o, err := f.exec.ExecuteSignal(ctx, sig, acct, "")
	assert.Nil(t, o)
	assert.ErrorIs(t, err, entity.ErrRiskRejected)
}

func TestExecutor_ExecuteSignalHold(t *testing.T) {
	f := newFixture(t)
	sig := &entity.Signal{Type: entity.SignalTypeHold, Instrument: "BTC-USDT", Size: d("0.01")}
	_, err := f.exec.ExecuteSignal(context.Background(), sig, account(), "")
	assert.ErrorIs(t, err, entity.ErrValidationFailed)
}

func TestExecutor_ExecuteSignalCloseResolvesSide(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	acct := account()
	acct.Positions = []*entity.Position{{
		Instrument:   "BTC-USDT",
		Side:         entity.PositionSideShort,
		Size:         d("0.5"),
		CurrentPrice: d("50000"),
	}}
	sig := &entity.Signal{Type: entity.SignalTypeClose, Instrument: "BTC-USDT", Size: d("1"), Timestamp: time.Now()}

	o, err := f.exec.ExecuteSignal(ctx, sig, acct, "")
	require.NoError(t, err)
	assert.Equal(t, entity.SideBuy, o.Side)
	assert.True(t, o.ReduceOnly)
	assert.True(t, o.Size.Equal(d("0.5")))
	assert.True(t, f.gw.lastPlaced().ReduceOnly)
}

func TestExecutor_ExecuteSignalCloseWithoutPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sig := &entity.Signal{Type: entity.SignalTypeClose, Instrument: "BTC-USDT", Size: d("0.01"), Timestamp: time.Now()}
	o, err := f.exec.ExecuteSignal(ctx, sig, account(), "")
	require.NoError(t, err)
	assert.Equal(t, entity.SideSell, o.Side)
	assert.False(t, o.ReduceOnly)
}
