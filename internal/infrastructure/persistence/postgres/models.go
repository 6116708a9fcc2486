package postgres

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/domain/entity"
)

type orderModel struct {
	ID              string            `gorm:"primaryKey;type:text"`
	ClientOrderID   string            `gorm:"type:text;uniqueIndex;not null"`
	ExchangeOrderID *string           `gorm:"type:text;index"`
	Instrument      string            `gorm:"type:text;index;not null"`
	Side            string            `gorm:"type:text;not null"`
	Type            string            `gorm:"type:text;not null"`
	TradeMode       string            `gorm:"type:text;not null"`
	PositionSide    string            `gorm:"type:text"`
	ReduceOnly      bool              `gorm:"not null;default:false"`
	Price           decimal.Decimal   `gorm:"type:numeric;not null"`
	Size            decimal.Decimal   `gorm:"type:numeric;not null"`
	FilledSize      decimal.Decimal   `gorm:"type:numeric;not null"`
	AvgFillPrice    decimal.Decimal   `gorm:"type:numeric;not null"`
	Status          string            `gorm:"type:text;index;not null"`
	StrategyID      string            `gorm:"type:text"`
	SignalID        string            `gorm:"type:text"`
	Metadata        map[string]string `gorm:"serializer:json;type:jsonb"`
	ErrorCode       string            `gorm:"type:text"`
	ErrorMessage    string            `gorm:"type:text"`
	CreatedAt       time.Time         `gorm:"index;not null"`
	UpdatedAt       time.Time         `gorm:"not null"`
	FilledAt        *time.Time
	CancelledAt     *time.Time
}

func (orderModel) TableName() string { return "orders" }

func newOrderModel(o *entity.Order) *orderModel {
	m := &orderModel{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Instrument:    o.Instrument,
		Side:          string(o.Side),
		Type:          string(o.Type),
		TradeMode:     string(o.TradeMode),
		PositionSide:  string(o.PositionSide),
		ReduceOnly:    o.ReduceOnly,
		Price:         o.Price,
		Size:          o.Size,
		FilledSize:    o.FilledSize,
		AvgFillPrice:  o.AvgFillPrice,
		Status:        string(o.Status),
		StrategyID:    o.StrategyID,
		SignalID:      o.SignalID,
		Metadata:      o.Metadata,
		ErrorCode:     o.ErrorCode,
		ErrorMessage:  o.ErrorMessage,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		FilledAt:      o.FilledAt,
		CancelledAt:   o.CancelledAt,
	}
	if o.ExchangeOrderID != "" {
		id := o.ExchangeOrderID
		m.ExchangeOrderID = &id
	}
	return m
}

func (m *orderModel) entity() *entity.Order {
	o := &entity.Order{
		ID:            m.ID,
		ClientOrderID: m.ClientOrderID,
		Instrument:    m.Instrument,
		Side:          entity.Side(m.Side),
		Type:          entity.OrderType(m.Type),
		TradeMode:     entity.TradeMode(m.TradeMode),
		PositionSide:  entity.PositionSide(m.PositionSide),
		ReduceOnly:    m.ReduceOnly,
		Price:         m.Price,
		Size:          m.Size,
		FilledSize:    m.FilledSize,
		AvgFillPrice:  m.AvgFillPrice,
		Status:        entity.OrderStatus(m.Status),
		StrategyID:    m.StrategyID,
		SignalID:      m.SignalID,
		Metadata:      m.Metadata,
		ErrorCode:     m.ErrorCode,
		ErrorMessage:  m.ErrorMessage,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		FilledAt:      m.FilledAt,
		CancelledAt:   m.CancelledAt,
	}
	if m.ExchangeOrderID != nil {
		o.ExchangeOrderID = *m.ExchangeOrderID
	}
	if o.Metadata == nil {
		o.Metadata = map[string]string{}
	}
	return o
}

type tradeModel struct {
	ID          string          `gorm:"primaryKey;type:text"`
	OrderID     string          `gorm:"type:text;index;not null"`
	Instrument  string          `gorm:"type:text;index;not null"`
	Side        string          `gorm:"type:text;not null"`
	Price       decimal.Decimal `gorm:"type:numeric;not null"`
	Size        decimal.Decimal `gorm:"type:numeric;not null"`
	Fee         decimal.Decimal `gorm:"type:numeric;not null"`
	FeeCurrency string          `gorm:"type:text"`
	StrategyID  string          `gorm:"type:text"`
	ExecutedAt  time.Time       `gorm:"index;not null"`
}

func (tradeModel) TableName() string { return "trades" }

func newTradeModel(t *entity.Trade) *tradeModel {
	return &tradeModel{
		ID:          t.ID,
		OrderID:     t.OrderID,
		Instrument:  t.Instrument,
		Side:        string(t.Side),
		Price:       t.Price,
		Size:        t.Size,
		Fee:         t.Fee,
		FeeCurrency: t.FeeCurrency,
		StrategyID:  t.StrategyID,
		ExecutedAt:  t.ExecutedAt,
	}
}

func (m *tradeModel) entity() *entity.Trade {
	return &entity.Trade{
		ID:          m.ID,
		OrderID:     m.OrderID,
		Instrument:  m.Instrument,
		Side:        entity.Side(m.Side),
		Price:       m.Price,
		Size:        m.Size,
		Fee:         m.Fee,
		FeeCurrency: m.FeeCurrency,
		StrategyID:  m.StrategyID,
		ExecutedAt:  m.ExecutedAt,
	}
}

type positionModel struct {
	ID            string          `gorm:"primaryKey;type:text"`
	Instrument    string          `gorm:"type:text;index;not null"`
	Side          string          `gorm:"type:text;not null"`
	Size          decimal.Decimal `gorm:"type:numeric;not null"`
	EntryPrice    decimal.Decimal `gorm:"type:numeric;not null"`
	AvgPrice      decimal.Decimal `gorm:"type:numeric;not null"`
	CurrentPrice  decimal.Decimal `gorm:"type:numeric;not null"`
	UnrealizedPnl decimal.Decimal `gorm:"type:numeric;not null"`
	RealizedPnl   decimal.Decimal `gorm:"type:numeric;not null"`
	Margin        decimal.Decimal `gorm:"type:numeric;not null"`
	Leverage      decimal.Decimal `gorm:"type:numeric;not null"`
	StrategyID    string          `gorm:"type:text"`
	OpenedAt      time.Time       `gorm:"not null"`
	UpdatedAt     time.Time       `gorm:"not null"`
	ClosedAt      *time.Time      `gorm:"index"`
}

func (positionModel) TableName() string { return "positions" }

func newPositionModel(p *entity.Position) *positionModel {
	return &positionModel{
		ID:            p.ID,
		Instrument:    p.Instrument,
		Side:          string(p.Side),
		Size:          p.Size,
		EntryPrice:    p.EntryPrice,
		AvgPrice:      p.AvgPrice,
		CurrentPrice:  p.CurrentPrice,
		UnrealizedPnl: p.UnrealizedPnl,
		RealizedPnl:   p.RealizedPnl,
		Margin:        p.Margin,
		Leverage:      p.Leverage,
		StrategyID:    p.StrategyID,
		OpenedAt:      p.OpenedAt,
		UpdatedAt:     p.UpdatedAt,
		ClosedAt:      p.ClosedAt,
	}
}

func (m *positionModel) entity() *entity.Position {
	return &entity.Position{
		ID:            m.ID,
		Instrument:    m.Instrument,
		Side:          entity.PositionSide(m.Side),
		Size:          m.Size,
		EntryPrice:    m.EntryPrice,
		AvgPrice:      m.AvgPrice,
		CurrentPrice:  m.CurrentPrice,
		UnrealizedPnl: m.UnrealizedPnl,
		RealizedPnl:   m.RealizedPnl,
		Margin:        m.Margin,
		Leverage:      m.Leverage,
		StrategyID:    m.StrategyID,
		OpenedAt:      m.OpenedAt,
		UpdatedAt:     m.UpdatedAt,
		ClosedAt:      m.ClosedAt,
	}
}
