package okx

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/adapter/gateway"
	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
)

// Ensure Exchange implements ExchangeGateway
var _ gateway.ExchangeGateway = (*Exchange)(nil)

const (
	pathPlaceOrder  = "/api/v5/trade/order"
	pathCancelOrder = "/api/v5/trade/cancel-order"
	pathAmendOrder  = "/api/v5/trade/amend-order"
	pathGetOrder    = "/api/v5/trade/order"
	pathPositions   = "/api/v5/account/positions"
)

// ExchangeConfig contains OKX exchange configuration
type ExchangeConfig struct {
	BaseURL    string
	WSURL      string // public stream
	PrivateURL string // private stream
	APIKey     string
	APISecret  string
	Passphrase string
	Demo       bool
	Timeout    time.Duration
	RetryCount int
	PingPeriod time.Duration
}

// Exchange implements ExchangeGateway for OKX V5
type Exchange struct {
	config *ExchangeConfig
	client *Client
	log    *logger.Logger

	public  *stream
	private *stream

	// Handlers
	tickerHandlers map[string][]func(*entity.Ticker)
	orderHandlers  []func(*gateway.OrderState)
	handlerMu      sync.RWMutex
}

// NewExchange creates a new OKX exchange gateway
func NewExchange(config *ExchangeConfig, log *logger.Logger) *Exchange {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithField("component", "okx")

	client := NewClient(ClientConfig{
		BaseURL:    config.BaseURL,
		APIKey:     config.APIKey,
		APISecret:  config.APISecret,
		Passphrase: config.Passphrase,
		Demo:       config.Demo,
		Timeout:    config.Timeout,
		RetryCount: config.RetryCount,
	})

	e := &Exchange{
		config:         config,
		client:         client,
		log:            log,
		tickerHandlers: make(map[string][]func(*entity.Ticker)),
	}
	e.public = newStream("public", config.WSURL, nil, config.PingPeriod, e.handleWSMessage, log)
	if client.signer.HasCredentials() {
		e.private = newStream("private", config.PrivateURL, client.signer, config.PingPeriod, e.handleWSMessage, log)
	}
	return e
}

// Connect opens the websocket streams
func (e *Exchange) Connect(ctx context.Context) error {
	e.log.Info("Connecting to OKX (demo: %v)", e.config.Demo)

	if e.config.WSURL != "" {
		if err := e.public.start(ctx); err != nil {
			return errors.Wrap(err, "public stream")
		}
	}
	if e.private != nil && e.config.PrivateURL != "" {
		if err := e.private.start(ctx); err != nil {
			e.public.stop()
			return errors.Wrap(err, "private stream")
		}
	}

	e.log.Info("Connected to OKX")
	return nil
}

// Disconnect closes the websocket streams
func (e *Exchange) Disconnect(ctx context.Context) error {
	e.log.Info("Disconnecting from OKX")
	e.public.stop()
	if e.private != nil {
		e.private.stop()
	}
	return nil
}

type placeOrderBody struct {
	InstID     string `json:"instId"`
	TdMode     string `json:"tdMode"`
	Side       string `json:"side"`
	OrdType    string `json:"ordType"`
	Sz         string `json:"sz"`
	Px         string `json:"px,omitempty"`
	ClOrdID    string `json:"clOrdId,omitempty"`
	PosSide    string `json:"posSide,omitempty"`
	ReduceOnly bool   `json:"reduceOnly,omitempty"`
}

type ackItem struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// PlaceOrder places a new order
func (e *Exchange) PlaceOrder(ctx context.Context, req gateway.PlaceOrderRequest) (*gateway.PlaceOrderResult, error) {
	body := placeOrderBody{
		InstID:     req.Instrument,
		TdMode:     string(req.TradeMode),
		Side:       string(req.Side),
		OrdType:    string(req.Type),
		Sz:         req.Size.String(),
		ClOrdID:    req.ClientOrderID,
		ReduceOnly: req.ReduceOnly,
	}
	if req.Type != entity.OrderTypeMarket && !req.Price.IsZero() {
		body.Px = req.Price.String()
	}
	if req.PositionSide != "" && req.PositionSide != entity.PositionSideNet {
		body.PosSide = string(req.PositionSide)
	}

	e.log.Info("Placing order: %s %s %s %s @ %s", req.Instrument, req.Side, req.Type, req.Size, body.Px)

	var items []ackItem
	env, err := e.client.post(ctx, pathPlaceOrder, body, &items)
	if err != nil {
		return nil, err
	}

	result := &gateway.PlaceOrderResult{ClientOrderID: req.ClientOrderID, StatusCode: env.Code, StatusMsg: env.Msg}
	if len(items) > 0 {
		result.ExchangeOrderID = items[0].OrdID
		if items[0].ClOrdID != "" {
			result.ClientOrderID = items[0].ClOrdID
		}
		if items[0].SCode != "" {
			result.StatusCode = items[0].SCode
			result.StatusMsg = items[0].SMsg
		}
	}
	return result, nil
}

// CancelOrder cancels a resting order
func (e *Exchange) CancelOrder(ctx context.Context, instrument, exchangeOrderID string) (*gateway.AckResult, error) {
	e.log.Info("Canceling order: %s", exchangeOrderID)

	body := map[string]string{"instId": instrument, "ordId": exchangeOrderID}
	var items []ackItem
	env, err := e.client.post(ctx, pathCancelOrder, body, &items)
	if err != nil {
		return nil, err
	}
	return ack(exchangeOrderID, env, items), nil
}

// AmendOrder modifies size and/or price of a resting order
func (e *Exchange) AmendOrder(ctx context.Context, req gateway.AmendOrderRequest) (*gateway.AckResult, error) {
	body := map[string]string{"instId": req.Instrument, "ordId": req.ExchangeOrderID}
	if !req.NewSize.IsZero() {
		body["newSz"] = req.NewSize.String()
	}
	if !req.NewPrice.IsZero() {
		body["newPx"] = req.NewPrice.String()
	}

	e.log.Info("Amending order %s: size=%s price=%s", req.ExchangeOrderID, body["newSz"], body["newPx"])

	var items []ackItem
	env, err := e.client.post(ctx, pathAmendOrder, body, &items)
	if err != nil {
		return nil, err
	}
	return ack(req.ExchangeOrderID, env, items), nil
}

func ack(exchangeOrderID string, env *envelope, items []ackItem) *gateway.AckResult {
	result := &gateway.AckResult{ExchangeOrderID: exchangeOrderID, StatusCode: env.Code, StatusMsg: env.Msg}
	if len(items) > 0 && items[0].SCode != "" {
		result.StatusCode = items[0].SCode
		result.StatusMsg = items[0].SMsg
	}
	return result
}

type orderItem struct {
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	InstID    string `json:"instId"`
	State     string `json:"state"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	Fee       string `json:"fee"`
	FeeCcy    string `json:"feeCcy"`
	UTime     string `json:"uTime"`
}

func (o *orderItem) state() *gateway.OrderState {
	updated, _ := strconv.ParseInt(o.UTime, 10, 64)
	return &gateway.OrderState{
		ExchangeOrderID: o.OrdID,
		ClientOrderID:   o.ClOrdID,
		Instrument:      o.InstID,
		State:           o.State,
		CumFilledSize:   parseDecimal(o.AccFillSz),
		AvgPrice:        parseDecimal(o.AvgPx),
		Fee:             parseDecimal(o.Fee),
		FeeCurrency:     o.FeeCcy,
		UpdatedAt:       updated,
	}
}

// GetOrder retrieves the exchange state of an order
func (e *Exchange) GetOrder(ctx context.Context, instrument, exchangeOrderID string) (*gateway.OrderState, error) {
	query := url.Values{}
	query.Set("instId", instrument)
	query.Set("ordId", exchangeOrderID)

	var items []orderItem
	env, err := e.client.get(ctx, pathGetOrder, query, &items)
	if err != nil {
		return nil, err
	}
	if env.Code != gateway.StatusOK {
		return nil, &entity.ExchangeError{OrderID: exchangeOrderID, Code: env.Code, Message: env.Msg}
	}
	if len(items) == 0 {
		return nil, errors.Wrapf(entity.ErrOrderNotFound, "exchange order %s", exchangeOrderID)
	}
	return items[0].state(), nil
}

type positionItem struct {
	InstID  string `json:"instId"`
	Pos     string `json:"pos"`
	PosSide string `json:"posSide"`
	AvgPx   string `json:"avgPx"`
	Last    string `json:"last"`
	Upl     string `json:"upl"`
	Lever   string `json:"lever"`
	Margin  string `json:"margin"`
	Imr     string `json:"imr"`
}

// GetPositions retrieves open positions
func (e *Exchange) GetPositions(ctx context.Context) ([]*gateway.ExchangePosition, error) {
	var items []positionItem
	env, err := e.client.get(ctx, pathPositions, nil, &items)
	if err != nil {
		return nil, err
	}
	if env.Code != gateway.StatusOK {
		return nil, &entity.ExchangeError{Code: env.Code, Message: env.Msg}
	}

	positions := make([]*gateway.ExchangePosition, 0, len(items))
	for _, it := range items {
		size := parseDecimal(it.Pos)
		if size.IsZero() {
			continue
		}
		margin := parseDecimal(it.Margin)
		if margin.IsZero() {
			margin = parseDecimal(it.Imr)
		}
		posSide := entity.PositionSide(it.PosSide)
		if posSide == "" {
			posSide = entity.PositionSideNet
		}
		positions = append(positions, &gateway.ExchangePosition{
			Instrument:    it.InstID,
			PositionSide:  posSide,
			Size:          size,
			AvgPrice:      parseDecimal(it.AvgPx),
			LastPrice:     parseDecimal(it.Last),
			UnrealizedPnl: parseDecimal(it.Upl),
			Leverage:      parseDecimal(it.Lever),
			Margin:        margin,
		})
	}
	return positions, nil
}

// SubscribeOrders subscribes to pushed order updates on the private stream
func (e *Exchange) SubscribeOrders(ctx context.Context, handler func(*gateway.OrderState)) error {
	if e.private == nil {
		return errors.New("orders channel requires api credentials")
	}

	e.handlerMu.Lock()
	e.orderHandlers = append(e.orderHandlers, handler)
	first := len(e.orderHandlers) == 1
	e.handlerMu.Unlock()

	if !first {
		return nil
	}
	return e.private.subscribe(map[string]string{"channel": "orders", "instType": "ANY"})
}

// SubscribeTickers subscribes to ticker updates on the public stream
func (e *Exchange) SubscribeTickers(ctx context.Context, instruments []string, handler func(*entity.Ticker)) error {
	for _, inst := range instruments {
		e.handlerMu.Lock()
		e.tickerHandlers[inst] = append(e.tickerHandlers[inst], handler)
		first := len(e.tickerHandlers[inst]) == 1
		e.handlerMu.Unlock()

		if !first {
			continue
		}
		if err := e.public.subscribe(map[string]string{"channel": "tickers", "instId": inst}); err != nil {
			return errors.Wrapf(err, "subscribe tickers %s", inst)
		}
	}
	return nil
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
