package okx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zono819/tradecore/internal/adapter/gateway"
	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
)

func newTestExchange(t *testing.T, handler http.HandlerFunc) *Exchange {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewExchange(&ExchangeConfig{
		BaseURL:    srv.URL,
		APIKey:     "key",
		APISecret:  "secret",
		Passphrase: "pass",
		Demo:       true,
		Timeout:    2 * time.Second,
	}, logger.Discard())
}

func TestExchange_PlaceOrder(t *testing.T) {
	ex := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v5/trade/order", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		ts := r.Header.Get(HeaderAccessTimestamp)
		want := NewSigner("key", "secret", "pass", true).Sign(ts, "POST", "/api/v5/trade/order", string(body))
		assert.Equal(t, want, r.Header.Get(HeaderAccessSign))
		assert.Equal(t, "key", r.Header.Get(HeaderAccessKey))
		assert.Equal(t, "1", r.Header.Get(HeaderSimulated))

		var req map[string]interface{}
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "BTC-USDT", req["instId"])
		assert.Equal(t, "cash", req["tdMode"])
		assert.Equal(t, "buy", req["side"])
		assert.Equal(t, "limit", req["ordType"])
		assert.Equal(t, "0.01", req["sz"])
		assert.Equal(t, "50000", req["px"])
		assert.Equal(t, "c1", req["clOrdId"])
		_, hasPosSide := req["posSide"]
		assert.False(t, hasPosSide)

		io.WriteString(w, `{"code":"0","msg":"","data":[{"ordId":"123","clOrdId":"c1","sCode":"0","sMsg":""}]}`)
	})

	res, err := ex.PlaceOrder(context.Background(), gateway.PlaceOrderRequest{
		Instrument:    "BTC-USDT",
		TradeMode:     entity.TradeModeCash,
		Side:          entity.SideBuy,
		Type:          entity.OrderTypeLimit,
		Size:          decimal.RequireFromString("0.01"),
		Price:         decimal.NewFromInt(50000),
		ClientOrderID: "c1",
		PositionSide:  entity.PositionSideNet,
	})
	require.NoError(t, err)
	assert.Equal(t, "123", res.ExchangeOrderID)
	assert.Equal(t, "c1", res.ClientOrderID)
	assert.Equal(t, gateway.StatusOK, res.StatusCode)
}

func TestExchange_PlaceOrderMarketOmitsPrice(t *testing.T) {
	ex := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, hasPx := req["px"]
		assert.False(t, hasPx)
		assert.Equal(t, true, req["reduceOnly"])
		assert.Equal(t, "short", req["posSide"])
		io.WriteString(w, `{"code":"0","msg":"","data":[{"ordId":"9","sCode":"0"}]}`)
	})

	res, err := ex.PlaceOrder(context.Background(), gateway.PlaceOrderRequest{
		Instrument:   "BTC-USDT-SWAP",
		TradeMode:    entity.TradeModeCross,
		Side:         entity.SideBuy,
		Type:         entity.OrderTypeMarket,
		Size:         decimal.NewFromInt(1),
		Price:        decimal.NewFromInt(100),
		PositionSide: entity.PositionSideShort,
		ReduceOnly:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "9", res.ExchangeOrderID)
}

func TestExchange_PlaceOrderRejected(t *testing.T) {
	ex := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":"1","msg":"All operations failed","data":[{"ordId":"","clOrdId":"c1","sCode":"51008","sMsg":"Insufficient balance"}]}`)
	})

	res, err := ex.PlaceOrder(context.Background(), gateway.PlaceOrderRequest{Instrument: "BTC-USDT", Size: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, "51008", res.StatusCode)
	assert.Equal(t, "Insufficient balance", res.StatusMsg)
	assert.Empty(t, res.ExchangeOrderID)
}

func TestExchange_EnvelopeErrorWithoutItems(t *testing.T) {
	ex := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"code":"50113","msg":"Invalid Sign","data":[]}`)
	})

	res, err := ex.PlaceOrder(context.Background(), gateway.PlaceOrderRequest{Instrument: "BTC-USDT", Size: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, "50113", res.StatusCode)
	assert.Equal(t, "Invalid Sign", res.StatusMsg)
}

func TestExchange_TransportErrors(t *testing.T) {
	ex := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "bad gateway")
	})

	_, err := ex.PlaceOrder(context.Background(), gateway.PlaceOrderRequest{Instrument: "BTC-USDT", Size: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrTransport)

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	closed := NewExchange(&ExchangeConfig{BaseURL: srv.URL, Timeout: time.Second}, logger.Discard())
	_, err = closed.GetOrder(context.Background(), "BTC-USDT", "1")
	require.Error(t, err)
	var te *entity.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestExchange_CancelAndAmend(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	ex := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "BTC-USDT", req["instId"])
		assert.Equal(t, "123", req["ordId"])

		switch r.URL.Path {
		case "/api/v5/trade/cancel-order":
			io.WriteString(w, `{"code":"0","msg":"","data":[{"ordId":"123","sCode":"0","sMsg":""}]}`)
		case "/api/v5/trade/amend-order":
			assert.Equal(t, "0.2", req["newSz"])
			_, hasPx := req["newPx"]
			assert.False(t, hasPx)
			io.WriteString(w, `{"code":"1","msg":"","data":[{"ordId":"123","sCode":"51503","sMsg":"Order does not exist"}]}`)
		}
	})
	ctx := context.Background()

	ack, err := ex.CancelOrder(ctx, "BTC-USDT", "123")
	require.NoError(t, err)
	assert.True(t, ack.OK())

	ack, err = ex.AmendOrder(ctx, gateway.AmendOrderRequest{
		Instrument:      "BTC-USDT",
		ExchangeOrderID: "123",
		NewSize:         decimal.RequireFromString("0.2"),
	})
	require.NoError(t, err)
	assert.False(t, ack.OK())
	assert.Equal(t, "51503", ack.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/api/v5/trade/cancel-order", "/api/v5/trade/amend-order"}, paths)
}

func TestExchange_GetOrder(t *testing.T) {
	ex := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "BTC-USDT", r.URL.Query().Get("instId"))
		if r.URL.Query().Get("ordId") == "missing" {
			io.WriteString(w, `{"code":"0","msg":"","data":[]}`)
			return
		}
		io.WriteString(w, `{"code":"0","msg":"","data":[{"ordId":"123","clOrdId":"c1","instId":"BTC-USDT","state":"partially_filled","accFillSz":"0.005","avgPx":"50010.5","fee":"-0.025","feeCcy":"USDT","uTime":"1700000000123"}]}`)
	})
	ctx := context.Background()

	st, err := ex.GetOrder(ctx, "BTC-USDT", "123")
	require.NoError(t, err)
	assert.Equal(t, "partially_filled", st.State)
	assert.True(t, st.CumFilledSize.Equal(decimal.RequireFromString("0.005")))
	assert.True(t, st.AvgPrice.Equal(decimal.RequireFromString("50010.5")))
	assert.True(t, st.Fee.Equal(decimal.RequireFromString("-0.025")))
	assert.Equal(t, "USDT", st.FeeCurrency)
	assert.Equal(t, int64(1700000000123), st.UpdatedAt)

	_, err = ex.GetOrder(ctx, "BTC-USDT", "missing")
	assert.ErrorIs(t, err, entity.ErrOrderNotFound)
}

func TestExchange_GetPositions(t *testing.T) {
	ex := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/account/positions", r.URL.Path)
		io.WriteString(w, `{"code":"0","msg":"","data":[
			{"instId":"BTC-USDT-SWAP","pos":"-2","posSide":"net","avgPx":"100","last":"95","upl":"10","lever":"5","imr":"38"},
			{"instId":"ETH-USDT-SWAP","pos":"0","posSide":"net","avgPx":"","last":"2000","upl":"0"}
		]}`)
	})

	positions, err := ex.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	p := positions[0]
	assert.Equal(t, "BTC-USDT-SWAP", p.Instrument)
	assert.Equal(t, entity.PositionSideNet, p.PositionSide)
	assert.True(t, p.Size.Equal(decimal.NewFromInt(-2)))
	assert.True(t, p.UnrealizedPnl.Equal(decimal.NewFromInt(10)))
	assert.True(t, p.Margin.Equal(decimal.NewFromInt(38)))
}

func TestClient_RetriesGetOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"code":"0","msg":"","data":[]}`)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, RetryCount: 2, RetryWaitTime: time.Millisecond})
	env, err := c.get(context.Background(), pathPositions, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "0", env.Code)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(0))
	assert.Equal(t, 2*time.Second, backoff(1))
	assert.Equal(t, 32*time.Second, backoff(5))
	assert.Equal(t, 60*time.Second, backoff(6))
	assert.Equal(t, 60*time.Second, backoff(100))
	assert.Equal(t, time.Second, backoff(-1))
}
