package http

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/usecase/position"
)

type placeOrderRequest struct {
	Instrument    string            `json:"instrument" binding:"required"`
	Side          entity.Side       `json:"side" binding:"required"`
	Type          entity.OrderType  `json:"type"`
	TradeMode     entity.TradeMode  `json:"trade_mode"`
	PositionSide  string            `json:"position_side"`
	ReduceOnly    bool              `json:"reduce_only"`
	Price         decimal.Decimal   `json:"price"`
	Size          decimal.Decimal   `json:"size"`
	ClientOrderID string            `json:"client_order_id"`
	StrategyID    string            `json:"strategy_id"`
	Metadata      map[string]string `json:"metadata"`
}

func (r *placeOrderRequest) params() *entity.OrderParams {
	orderType := r.Type
	if orderType == "" {
		orderType = entity.OrderTypeMarket
	}
	return &entity.OrderParams{
		Instrument:    r.Instrument,
		Side:          r.Side,
		Type:          orderType,
		TradeMode:     r.TradeMode,
		PositionSide:  entity.PositionSide(r.PositionSide),
		ReduceOnly:    r.ReduceOnly,
		Price:         r.Price,
		Size:          r.Size,
		ClientOrderID: r.ClientOrderID,
		StrategyID:    r.StrategyID,
		Metadata:      r.Metadata,
	}
}

type orderResponse struct {
	ID              string             `json:"id"`
	ClientOrderID   string             `json:"client_order_id"`
	ExchangeOrderID string             `json:"exchange_order_id,omitempty"`
	Instrument      string             `json:"instrument"`
	Side            entity.Side        `json:"side"`
	Type            entity.OrderType   `json:"type"`
	TradeMode       entity.TradeMode   `json:"trade_mode"`
	ReduceOnly      bool               `json:"reduce_only"`
	Price           decimal.Decimal    `json:"price"`
	Size            decimal.Decimal    `json:"size"`
	FilledSize      decimal.Decimal    `json:"filled_size"`
	AvgFillPrice    decimal.Decimal    `json:"avg_fill_price"`
	Status          entity.OrderStatus `json:"status"`
	StrategyID      string             `json:"strategy_id,omitempty"`
	SignalID        string             `json:"signal_id,omitempty"`
	Metadata        map[string]string  `json:"metadata,omitempty"`
	ErrorCode       string             `json:"error_code,omitempty"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	FilledAt        *time.Time         `json:"filled_at,omitempty"`
	CancelledAt     *time.Time         `json:"cancelled_at,omitempty"`
}

func newOrderResponse(o *entity.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		ClientOrderID:   o.ClientOrderID,
		ExchangeOrderID: o.ExchangeOrderID,
		Instrument:      o.Instrument,
		Side:            o.Side,
		Type:            o.Type,
		TradeMode:       o.TradeMode,
		ReduceOnly:      o.ReduceOnly,
		Price:           o.Price,
		Size:            o.Size,
		FilledSize:      o.FilledSize,
		AvgFillPrice:    o.AvgFillPrice,
		Status:          o.Status,
		StrategyID:      o.StrategyID,
		SignalID:        o.SignalID,
		Metadata:        o.Metadata,
		ErrorCode:       o.ErrorCode,
		ErrorMessage:    o.ErrorMessage,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		FilledAt:        o.FilledAt,
		CancelledAt:     o.CancelledAt,
	}
}

func newOrderResponses(orders []*entity.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderResponse(o))
	}
	return out
}

type positionResponse struct {
	ID            string              `json:"id"`
	Instrument    string              `json:"instrument"`
	Side          entity.PositionSide `json:"side"`
	Size          decimal.Decimal     `json:"size"`
	EntryPrice    decimal.Decimal     `json:"entry_price"`
	AvgPrice      decimal.Decimal     `json:"avg_price"`
	CurrentPrice  decimal.Decimal     `json:"current_price"`
	UnrealizedPnl decimal.Decimal     `json:"unrealized_pnl"`
	RealizedPnl   decimal.Decimal     `json:"realized_pnl"`
	StrategyID    string              `json:"strategy_id,omitempty"`
	OpenedAt      time.Time           `json:"opened_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	ClosedAt      *time.Time          `json:"closed_at,omitempty"`
}

func newPositionResponses(positions []*entity.Position) []positionResponse {
	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionResponse{
			ID:            p.ID,
			Instrument:    p.Instrument,
			Side:          p.Side,
			Size:          p.Size,
			EntryPrice:    p.EntryPrice,
			AvgPrice:      p.AvgPrice,
			CurrentPrice:  p.CurrentPrice,
			UnrealizedPnl: p.UnrealizedPnl,
			RealizedPnl:   p.RealizedPnl,
			StrategyID:    p.StrategyID,
			OpenedAt:      p.OpenedAt,
			UpdatedAt:     p.UpdatedAt,
			ClosedAt:      p.ClosedAt,
		})
	}
	return out
}

type tradeResponse struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	Instrument  string          `json:"instrument"`
	Side        entity.Side     `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	Fee         decimal.Decimal `json:"fee"`
	FeeCurrency string          `json:"fee_currency,omitempty"`
	StrategyID  string          `json:"strategy_id,omitempty"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

func newTradeResponses(trades []*entity.Trade) []tradeResponse {
	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeResponse{
			ID:          t.ID,
			OrderID:     t.OrderID,
			Instrument:  t.Instrument,
			Side:        t.Side,
			Price:       t.Price,
			Size:        t.Size,
			Fee:         t.Fee,
			FeeCurrency: t.FeeCurrency,
			StrategyID:  t.StrategyID,
			ExecutedAt:  t.ExecutedAt,
		})
	}
	return out
}

type syncResponse struct {
	Updated int `json:"updated"`
	Closed  int `json:"closed"`
	Adopted int `json:"adopted"`
}

func newSyncResponse(r position.SyncReport) syncResponse {
	return syncResponse{Updated: r.Updated, Closed: r.Closed, Adopted: r.Adopted}
}
