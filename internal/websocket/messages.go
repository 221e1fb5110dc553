package websocket

import (
	"time"

	"digitbot/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeTick - обработанный тик (цена и последняя цифра)
	MessageTypeTick MessageType = "tick"

	// MessageTypeTrade - рассчитанная сделка
	MessageTypeTrade MessageType = "trade"

	// MessageTypeStatus - снимок сессии (при каждой смене статуса)
	MessageTypeStatus MessageType = "status"

	// MessageTypeNotification - события сессии и риск-гейта
	MessageTypeNotification MessageType = "notification"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// TickMessage - сообщение о тике
type TickMessage struct {
	BaseMessage
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Digit  int     `json:"digit"`
}

// TradeMessage - сообщение о закрытой сделке
type TradeMessage struct {
	BaseMessage
	Data *models.TradeRecord `json:"data"`
}

// StatusMessage - снимок сессии
type StatusMessage struct {
	BaseMessage
	Data *models.SessionStatus `json:"data"`
}

// NotificationMessage - уведомление
//
// Kind совпадает с видом события журнала (SESSION, RISK, RECONNECT, ...).
type NotificationMessage struct {
	BaseMessage
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ============ Фабричные функции для создания сообщений ============

func base(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now()}
}

// NewTickMessage создает сообщение тика
func NewTickMessage(symbol string, price float64, digit int) *TickMessage {
	return &TickMessage{BaseMessage: base(MessageTypeTick), Symbol: symbol, Price: price, Digit: digit}
}

// NewTradeMessage создает сообщение сделки
func NewTradeMessage(rec *models.TradeRecord) *TradeMessage {
	return &TradeMessage{BaseMessage: base(MessageTypeTrade), Data: rec}
}

// NewStatusMessage создает сообщение статуса
func NewStatusMessage(status *models.SessionStatus) *StatusMessage {
	return &StatusMessage{BaseMessage: base(MessageTypeStatus), Data: status}
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(kind, message string) *NotificationMessage {
	return &NotificationMessage{BaseMessage: base(MessageTypeNotification), Kind: kind, Message: message}
}
