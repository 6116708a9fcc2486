package okx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zono819/tradecore/internal/adapter/gateway"
	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
)

var upgrader = websocket.Upgrader{}

// wsServer answers login and subscribe ops and pushes one message per subscribed channel
func wsServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var req struct {
				Op   string              `json:"op"`
				Args []map[string]string `json:"args"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			switch req.Op {
			case "login":
				if !assert.Len(t, req.Args, 1) {
					return
				}
				args := req.Args[0]
				want := NewSigner("key", "secret", "pass", false).Sign(args["timestamp"], "GET", "/users/self/verify", "")
				assert.Equal(t, want, args["sign"])
				conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"login","code":"0","msg":""}`))
			case "subscribe":
				for _, arg := range req.Args {
					conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribe","arg":{"channel":"`+arg["channel"]+`"}}`))
					switch arg["channel"] {
					case "tickers":
						conn.WriteMessage(websocket.TextMessage, []byte(`{"arg":{"channel":"tickers","instId":"`+arg["instId"]+`"},"data":[{"instId":"`+arg["instId"]+`","last":"50000.1","bidPx":"50000","askPx":"50000.2","vol24h":"123","ts":"1700000000000"}]}`))
					case "orders":
						conn.WriteMessage(websocket.TextMessage, []byte(`{"arg":{"channel":"orders","instType":"ANY"},"data":[{"ordId":"123","clOrdId":"c1","instId":"BTC-USDT","state":"filled","accFillSz":"0.01","avgPx":"50000","fee":"-0.1","feeCcy":"USDT","uTime":"1700000000500"}]}`))
					}
				}
			}
		}
	}))
}

func TestExchange_Streams(t *testing.T) {
	srv := wsServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ex := NewExchange(&ExchangeConfig{
		BaseURL:    srv.URL,
		WSURL:      wsURL + "/public",
		PrivateURL: wsURL + "/private",
		APIKey:     "key",
		APISecret:  "secret",
		Passphrase: "pass",
	}, logger.Discard())
	ctx := context.Background()

	tickers := make(chan *entity.Ticker, 4)
	orders := make(chan *gateway.OrderState, 4)

	// recorded before connect, replayed on attach
	require.NoError(t, ex.SubscribeTickers(ctx, []string{"BTC-USDT"}, func(tk *entity.Ticker) { tickers <- tk }))
	require.NoError(t, ex.Connect(ctx))
	defer ex.Disconnect(ctx)
	assert.True(t, ex.public.connected())
	assert.True(t, ex.private.connected())

	require.NoError(t, ex.SubscribeOrders(ctx, func(st *gateway.OrderState) { orders <- st }))

	select {
	case tk := <-tickers:
		assert.Equal(t, "BTC-USDT", tk.Instrument)
		assert.True(t, tk.LastPrice.Equal(decimal.RequireFromString("50000.1")))
		assert.True(t, tk.BidPrice.Equal(decimal.NewFromInt(50000)))
		assert.Equal(t, int64(1700000000000), tk.Timestamp.UnixMilli())
	case <-time.After(2 * time.Second):
		t.Fatal("no ticker received")
	}

	select {
	case st := <-orders:
		assert.Equal(t, "123", st.ExchangeOrderID)
		assert.Equal(t, "filled", st.State)
		assert.True(t, st.CumFilledSize.Equal(decimal.RequireFromString("0.01")))
	case <-time.After(2 * time.Second):
		t.Fatal("no order update received")
	}

	require.NoError(t, ex.Disconnect(ctx))
	assert.False(t, ex.public.connected())
}

func TestExchange_SubscribeOrdersRequiresCredentials(t *testing.T) {
	ex := NewExchange(&ExchangeConfig{}, logger.Discard())
	assert.Error(t, ex.SubscribeOrders(context.Background(), func(*gateway.OrderState) {}))
}

func TestExchange_HandleWSMessageIgnoresEvents(t *testing.T) {
	ex := NewExchange(&ExchangeConfig{}, logger.Discard())
	called := false
	ex.tickerHandlers["BTC-USDT"] = []func(*entity.Ticker){func(*entity.Ticker) { called = true }}

	ex.handleWSMessage([]byte(`{"event":"error","code":"60012","msg":"Invalid request"}`))
	ex.handleWSMessage([]byte(`not json`))
	ex.handleWSMessage([]byte(`{"arg":{"channel":"tickers","instId":"ETH-USDT"},"data":[{"instId":"ETH-USDT","last":"1"}]}`))
	assert.False(t, called)

	ex.handleWSMessage([]byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"1"}]}`))
	assert.True(t, called)
}
