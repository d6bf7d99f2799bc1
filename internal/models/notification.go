package models

import "time"

// Notification представляет уведомление о событии сессии
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`         // SESSION_START, FILL, EXIT, RISK_STOP, ...
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error
	SessionID *string                `json:"session_id,omitempty" db:"session_id"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeSessionStart = "SESSION_START" // сессия запущена
	NotificationTypeSessionStop  = "SESSION_STOP"  // сессия остановлена
	NotificationTypeFill         = "FILL"          // открыта позиция по уровню сетки
	NotificationTypeExit         = "EXIT"          // позиция закрыта с фиксацией результата
	NotificationTypeRiskStop     = "RISK_STOP"     // сработал риск-лимит
	NotificationTypeTransport    = "TRANSPORT"     // проблема с соединением брокера
	NotificationTypeError        = "ERROR"         // ошибка API/ордера
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
