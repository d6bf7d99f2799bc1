package models

import "time"

// Поддерживаемые брокерские транспорты
const (
	BrokerStreaming = "streaming" // потоковый WebSocket API
	BrokerBridge    = "bridge"    // мост к десктопному торговому терминалу
)

// Credential - учётные данные пользователя у брокера.
// Для ядра read-only: читаются при старте сессии, никогда не мутируются.
// BrokerToken хранится в БД зашифрованным (AES-256-GCM), в JSON не попадает.
type Credential struct {
	UserID      string    `json:"user_id" db:"user_id"`
	Broker      string    `json:"broker" db:"broker"`
	BrokerLogin string    `json:"broker_login" db:"broker_login"`
	BrokerToken string    `json:"-" db:"broker_token"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
