package broker

import (
	"context"
	"time"

	"gridbot/internal/models"
)

// Broker определяет унифицированный интерфейс для работы с любым брокером.
//
// Две реализации:
//   - streaming: потоковый WebSocket API (Deriv-style, JSON req/resp с req_id)
//   - bridge: HTTP мост к десктопному терминалу (MT5-style)
//
// Движок сессий работает только через этот интерфейс и не знает,
// какой транспорт за ним стоит.
type Broker interface {
	// Connect устанавливает соединение и авторизуется токеном аккаунта
	Connect(ctx context.Context) error

	// GetName возвращает имя брокера
	GetName() string

	// GetBalance получает текущий equity аккаунта
	GetBalance(ctx context.Context) (float64, error)

	// PlaceOrder размещает рыночный ордер.
	// req.ClientOrderID используется как idempotency-токен: повторная отправка
	// с тем же ID не создаёт вторую позицию.
	PlaceOrder(ctx context.Context, req *OrderRequest) (*Fill, error)

	// ClosePosition закрывает позицию по её брокерскому ID
	ClosePosition(ctx context.Context, req *CloseRequest) (*Fill, error)

	// GetOpenPositions получает список открытых позиций аккаунта.
	// Используется для сверки локального состояния после переподключения.
	GetOpenPositions(ctx context.Context) ([]*BrokerPosition, error)

	// SubscribeTicker подписывается на поток котировок символа
	SubscribeTicker(symbol string, callback func(*models.PriceEvent)) error

	// UnsubscribeTicker останавливает поток котировок символа.
	// Вызывается фидом, когда у символа не осталось подписчиков.
	UnsubscribeTicker(symbol string) error

	// Close закрывает соединения с брокером
	Close() error
}

// OrderRequest - запрос на размещение рыночного ордера
type OrderRequest struct {
	ClientOrderID string  `json:"client_order_id"` // idempotency-токен (uuid)
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"` // "buy" или "sell"
	Volume        float64 `json:"volume"`
}

// CloseRequest - запрос на закрытие открытой позиции
type CloseRequest struct {
	ClientOrderID string  `json:"client_order_id"`
	PositionID    string  `json:"position_id"` // брокерский ID позиции
	Symbol        string  `json:"symbol"`
	Volume        float64 `json:"volume"`
}

// Fill - подтверждение исполнения ордера
type Fill struct {
	OrderID       string    `json:"order_id"` // брокерский ID
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Volume        float64   `json:"volume"`
	Price         float64   `json:"price"` // фактическая цена исполнения
	ExecutedAt    time.Time `json:"executed_at"`
}

// BrokerPosition - открытая позиция на стороне брокера (результат сверки)
type BrokerPosition struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Volume     float64   `json:"volume"`
	EntryPrice float64   `json:"entry_price"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Broker type constants
const (
	TypeStreaming = "streaming"
	TypeBridge    = "bridge"
)
