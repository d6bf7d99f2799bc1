package websocket

import (
	"time"

	"gridbot/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeSessionUpdate - снапшот торговой сессии.
	// Отправляется раз в секунду для каждой активной сессии.
	MessageTypeSessionUpdate MessageType = "sessionUpdate"

	// MessageTypeNotification - новое уведомление.
	// Отправляется при событиях: старт/стоп сессии, входы, выходы,
	// риск-стопы, проблемы транспорта.
	MessageTypeNotification MessageType = "notification"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// SessionUpdateMessage - сообщение со снапшотом сессии.
//
// Содержит состояние сессии на момент последнего обработанного тика:
// текущую цену, открытые позиции, реализованный и плавающий PNL.
type SessionUpdateMessage struct {
	BaseMessage
	SessionID string                  `json:"session_id"`
	Data      *models.SessionSnapshot `json:"data"`
}

// NotificationMessage - сообщение о новом уведомлении
type NotificationMessage struct {
	BaseMessage
	Data *models.Notification `json:"data"`
}

// NewSessionUpdateMessage создает сообщение со снапшотом сессии
func NewSessionUpdateMessage(snap *models.SessionSnapshot) *SessionUpdateMessage {
	return &SessionUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeSessionUpdate,
			Timestamp: time.Now(),
		},
		SessionID: snap.ID,
		Data:      snap,
	}
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeNotification,
			Timestamp: time.Now(),
		},
		Data: notif,
	}
}
