package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"gridbot/internal/models"
)

// jsoniter для hot-path парсинга тиков (совместим с encoding/json)
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StreamingBroker реализует Broker поверх потокового WebSocket API
// (Deriv-style). Все запросы идут в одном соединении и коррелируются
// с ответами по req_id; тики приходят асинхронными push-сообщениями.
type StreamingBroker struct {
	name  string
	wsURL string
	token string

	logger *zap.Logger
	ws     *WSReconnectManager

	// Корреляция запрос-ответ по req_id
	reqID   int64 // atomic
	pending map[int64]chan *streamingMessage
	mu      sync.Mutex

	// Подписки на тики: symbol -> callback
	tickHandlers   map[string]func(*models.PriceEvent)
	tickHandlersMu sync.RWMutex

	// Таймаут ожидания ответа на запрос
	requestTimeout time.Duration
}

// ============================================================
// Протокол потокового API
// ============================================================

// streamingMessage - общий конверт сообщения от сервера.
// Заполнено только поле, соответствующее типу ответа.
type streamingMessage struct {
	ReqID int64 `json:"req_id,omitempty"`

	Authorize     *authorizeResult  `json:"authorize,omitempty"`
	Balance       *balanceResult    `json:"balance,omitempty"`
	Tick          *tickResult       `json:"tick,omitempty"`
	Order         *orderResult      `json:"market_order,omitempty"`
	ClosedOrder   *orderResult      `json:"close_position,omitempty"`
	OpenPositions []*positionResult `json:"open_positions,omitempty"`

	Error *apiError `json:"error,omitempty"`
}

type authorizeResult struct {
	LoginID string `json:"loginid"`
}

type balanceResult struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

type tickResult struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Epoch  int64   `json:"epoch"` // unix миллисекунды
}

type orderResult struct {
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Volume        float64 `json:"volume"`
	Price         float64 `json:"price"`
	ExecutedAt    int64   `json:"executed_at"` // unix миллисекунды
}

type positionResult struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Volume     float64 `json:"volume"`
	EntryPrice float64 `json:"entry_price"`
	OpenedAt   int64   `json:"opened_at"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewStreamingBroker создаёт брокера потокового API
func NewStreamingBroker(wsURL, appID, token string, logger *zap.Logger) *StreamingBroker {
	b := &StreamingBroker{
		name:           "streaming",
		wsURL:          fmt.Sprintf("%s?app_id=%s", wsURL, appID),
		token:          token,
		logger:         logger.Named("streaming"),
		pending:        make(map[int64]chan *streamingMessage),
		tickHandlers:   make(map[string]func(*models.PriceEvent)),
		requestTimeout: 5 * time.Second,
	}

	b.ws = NewWSReconnectManager(b.name, b.wsURL, DefaultWSReconnectConfig(), logger)
	b.ws.SetOnMessage(b.handleMessage)
	return b
}

// GetName возвращает имя брокера
func (b *StreamingBroker) GetName() string {
	return b.name
}

// WS возвращает менеджер соединения (для подписки движка на события
// reconnect/give-up)
func (b *StreamingBroker) WS() *WSReconnectManager {
	return b.ws
}

// Connect подключается и авторизуется токеном аккаунта
func (b *StreamingBroker) Connect(ctx context.Context) error {
	if b.token == "" {
		return ErrEmptyToken
	}

	// Авторизация выполняется после каждого (пере)подключения
	b.ws.SetAuthFunc(func(conn *websocket.Conn) error {
		return conn.WriteJSON(map[string]interface{}{
			"authorize": b.token,
			"req_id":    atomic.AddInt64(&b.reqID, 1),
		})
	})

	return b.ws.Connect()
}

// handleMessage разбирает входящее сообщение и направляет его
// либо ожидающему запросу (по req_id), либо обработчику тиков
func (b *StreamingBroker) handleMessage(data []byte) {
	var msg streamingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logger.Warn("malformed message", zap.Error(err))
		return
	}

	// Push-сообщение с тиком
	if msg.Tick != nil {
		b.dispatchTick(msg.Tick)
		return
	}

	// Ответ на запрос
	if msg.ReqID != 0 {
		b.mu.Lock()
		ch, ok := b.pending[msg.ReqID]
		if ok {
			delete(b.pending, msg.ReqID)
		}
		b.mu.Unlock()

		if ok {
			ch <- &msg
		}
	}
}

func (b *StreamingBroker) dispatchTick(t *tickResult) {
	b.tickHandlersMu.RLock()
	handler := b.tickHandlers[t.Symbol]
	b.tickHandlersMu.RUnlock()

	if handler == nil {
		return
	}

	handler(&models.PriceEvent{
		Symbol:    t.Symbol,
		Bid:       t.Bid,
		Ask:       t.Ask,
		Timestamp: time.UnixMilli(t.Epoch),
	})
}

// request отправляет запрос и ждёт ответ с тем же req_id
func (b *StreamingBroker) request(ctx context.Context, payload map[string]interface{}) (*streamingMessage, error) {
	if !b.ws.IsConnected() {
		return nil, NewOrderError(b.name, ErrKindTransportDown, "", "websocket is not connected", ErrNotConnected)
	}

	id := atomic.AddInt64(&b.reqID, 1)
	payload["req_id"] = id

	ch := make(chan *streamingMessage, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	cleanup := func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}

	if err := b.ws.Send(payload); err != nil {
		cleanup()
		return nil, NewOrderError(b.name, ErrKindTransportDown, "", "send failed", err)
	}

	timeout := b.requestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return nil, b.mapAPIError(msg.Error)
		}
		return msg, nil
	case <-time.After(timeout):
		cleanup()
		return nil, NewOrderError(b.name, ErrKindTimeout, "", "request timed out", context.DeadlineExceeded)
	case <-ctx.Done():
		cleanup()
		return nil, NewOrderError(b.name, ErrKindTimeout, "", "request cancelled", ctx.Err())
	}
}

// mapAPIError переводит код ошибки API в категорию OrderError
func (b *StreamingBroker) mapAPIError(e *apiError) error {
	kind := ErrKindBrokerRejected
	switch e.Code {
	case "InsufficientFunds", "InsufficientMargin":
		kind = ErrKindInsufficientMargin
	case "RateLimit", "ServiceUnavailable":
		kind = ErrKindTimeout
	}
	return NewOrderError(b.name, kind, e.Code, e.Message, nil)
}

// GetBalance получает текущий equity аккаунта
func (b *StreamingBroker) GetBalance(ctx context.Context) (float64, error) {
	msg, err := b.request(ctx, map[string]interface{}{"balance": 1})
	if err != nil {
		return 0, err
	}
	if msg.Balance == nil {
		return 0, fmt.Errorf("%s: empty balance response", b.name)
	}
	return msg.Balance.Balance, nil
}

// PlaceOrder размещает рыночный ордер.
// Сервер дедуплицирует по client_order_id: повторный запрос возвращает
// исходное исполнение, а не создаёт вторую позицию.
func (b *StreamingBroker) PlaceOrder(ctx context.Context, req *OrderRequest) (*Fill, error) {
	msg, err := b.request(ctx, map[string]interface{}{
		"market_order": map[string]interface{}{
			"symbol":          req.Symbol,
			"side":            req.Side,
			"volume":          req.Volume,
			"client_order_id": req.ClientOrderID,
		},
	})
	if err != nil {
		return nil, err
	}
	if msg.Order == nil {
		return nil, fmt.Errorf("%s: empty order response", b.name)
	}
	return fillFromOrder(msg.Order), nil
}

// ClosePosition закрывает позицию по её брокерскому ID
func (b *StreamingBroker) ClosePosition(ctx context.Context, req *CloseRequest) (*Fill, error) {
	msg, err := b.request(ctx, map[string]interface{}{
		"close_position": map[string]interface{}{
			"position_id":     req.PositionID,
			"volume":          req.Volume,
			"client_order_id": req.ClientOrderID,
		},
	})
	if err != nil {
		return nil, err
	}
	if msg.ClosedOrder == nil {
		return nil, fmt.Errorf("%s: empty close response", b.name)
	}
	return fillFromOrder(msg.ClosedOrder), nil
}

// GetOpenPositions получает открытые позиции аккаунта
func (b *StreamingBroker) GetOpenPositions(ctx context.Context) ([]*BrokerPosition, error) {
	msg, err := b.request(ctx, map[string]interface{}{"open_positions": 1})
	if err != nil {
		return nil, err
	}

	positions := make([]*BrokerPosition, 0, len(msg.OpenPositions))
	for _, p := range msg.OpenPositions {
		positions = append(positions, &BrokerPosition{
			ID:         p.ID,
			Symbol:     p.Symbol,
			Side:       p.Side,
			Volume:     p.Volume,
			EntryPrice: p.EntryPrice,
			OpenedAt:   time.UnixMilli(p.OpenedAt),
		})
	}
	return positions, nil
}

// SubscribeTicker подписывается на поток котировок символа.
// Подписка восстанавливается автоматически после переподключения.
func (b *StreamingBroker) SubscribeTicker(symbol string, callback func(*models.PriceEvent)) error {
	b.tickHandlersMu.Lock()
	b.tickHandlers[symbol] = callback
	b.tickHandlersMu.Unlock()

	sub := map[string]interface{}{
		"ticks":     symbol,
		"subscribe": 1,
	}
	b.ws.AddSubscription(sub)

	if b.ws.IsConnected() {
		return b.ws.Send(sub)
	}
	return nil
}

// UnsubscribeTicker останавливает поток котировок символа.
// Протокол забывает тиковые стримы только разом (forget_all), поэтому
// оставшиеся символы переподписываются следом.
func (b *StreamingBroker) UnsubscribeTicker(symbol string) error {
	b.tickHandlersMu.Lock()
	delete(b.tickHandlers, symbol)
	remaining := make([]string, 0, len(b.tickHandlers))
	for sym := range b.tickHandlers {
		remaining = append(remaining, sym)
	}
	b.tickHandlersMu.Unlock()

	b.ws.RemoveSubscription(func(sub interface{}) bool {
		m, ok := sub.(map[string]interface{})
		return ok && m["ticks"] == symbol
	})

	if !b.ws.IsConnected() {
		return nil
	}

	if err := b.ws.Send(map[string]interface{}{"forget_all": "ticks"}); err != nil {
		return err
	}
	for _, sym := range remaining {
		if err := b.ws.Send(map[string]interface{}{"ticks": sym, "subscribe": 1}); err != nil {
			return err
		}
	}
	return nil
}

// Close закрывает соединение
func (b *StreamingBroker) Close() error {
	return b.ws.Close()
}

func fillFromOrder(o *orderResult) *Fill {
	return &Fill{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Volume:        o.Volume,
		Price:         o.Price,
		ExecutedAt:    time.UnixMilli(o.ExecutedAt),
	}
}
