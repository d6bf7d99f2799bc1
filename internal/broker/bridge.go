package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"gridbot/internal/models"
)

// BridgeBroker реализует Broker поверх HTTP моста к десктопному
// терминалу (MT5-style). Мост - локальный процесс рядом с терминалом,
// поэтому потоковых котировок нет: тики снимаются поллингом.
//
// Endpoints моста:
//
//	POST /orders        - разместить рыночный ордер
//	POST /orders/close  - закрыть позицию
//	GET  /positions     - открытые позиции аккаунта
//	GET  /account       - баланс и equity
//	GET  /tick?symbol=X - последняя котировка символа
type BridgeBroker struct {
	name    string
	baseURL string
	login   string

	client  *http.Client
	logger  *zap.Logger
	timeout time.Duration

	// Интервал поллинга котировок
	pollInterval time.Duration

	closeChan chan struct{}
	closeOnce sync.Once

	// Каналы остановки поллинга по символам
	tickStops map[string]chan struct{}
	tickMu    sync.Mutex

	connected bool
	mu        sync.RWMutex
}

// ============================================================
// Протокол моста
// ============================================================

type bridgeOrderRequest struct {
	Login         string  `json:"login"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Volume        float64 `json:"volume"`
	ClientOrderID string  `json:"client_order_id"`
}

type bridgeCloseRequest struct {
	Login         string  `json:"login"`
	PositionID    string  `json:"position_id"`
	Volume        float64 `json:"volume"`
	ClientOrderID string  `json:"client_order_id"`
}

type bridgeOrderResponse struct {
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Volume        float64 `json:"volume"`
	Price         float64 `json:"price"`
	ExecutedAt    int64   `json:"executed_at"`
}

type bridgeErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type bridgePosition struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Volume     float64 `json:"volume"`
	EntryPrice float64 `json:"entry_price"`
	OpenedAt   int64   `json:"opened_at"`
}

type bridgeAccount struct {
	Login   string  `json:"login"`
	Balance float64 `json:"balance"`
	Equity  float64 `json:"equity"`
}

type bridgeTick struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Epoch  int64   `json:"epoch"`
}

// NewBridgeBroker создаёт брокера HTTP моста.
// Клиент с connection pooling: мост локальный, но ордера идут часто.
func NewBridgeBroker(baseURL, login string, timeout time.Duration, logger *zap.Logger) *BridgeBroker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // локальный мост, сжатие только добавляет latency
	}

	return &BridgeBroker{
		name:    "bridge",
		baseURL: baseURL,
		login:   login,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger:       logger.Named("bridge"),
		timeout:      timeout,
		pollInterval: 500 * time.Millisecond,
		closeChan:    make(chan struct{}),
		tickStops:    make(map[string]chan struct{}),
	}
}

// GetName возвращает имя брокера
func (b *BridgeBroker) GetName() string {
	return b.name
}

// Connect проверяет доступность моста и счёта
func (b *BridgeBroker) Connect(ctx context.Context) error {
	_, err := b.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("bridge is not reachable: %w", err)
	}

	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()

	b.logger.Info("bridge connected", zap.String("url", b.baseURL))
	return nil
}

// IsConnected сообщает, прошла ли проверка соединения
func (b *BridgeBroker) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// do выполняет HTTP запрос к мосту и разбирает ответ в out
func (b *BridgeBroker) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		// Сетевые ошибки: мост недоступен или запрос прерван по таймауту
		if ctx.Err() != nil {
			return NewOrderError(b.name, ErrKindTimeout, "", "request timed out", err)
		}
		return NewOrderError(b.name, ErrKindTransportDown, "", "bridge unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewOrderError(b.name, ErrKindTransportDown, "", "read response failed", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr bridgeErrorResponse
		if err := json.Unmarshal(data, &apiErr); err != nil {
			apiErr = bridgeErrorResponse{Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Message: string(data)}
		}
		return b.mapBridgeError(resp.StatusCode, &apiErr)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: malformed response: %w", b.name, err)
		}
	}
	return nil
}

// mapBridgeError переводит ошибку моста в категорию OrderError
func (b *BridgeBroker) mapBridgeError(status int, e *bridgeErrorResponse) error {
	kind := ErrKindBrokerRejected
	switch {
	case e.Code == "NO_MONEY" || e.Code == "INSUFFICIENT_MARGIN":
		kind = ErrKindInsufficientMargin
	case status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		kind = ErrKindTransportDown
	case status == http.StatusRequestTimeout:
		kind = ErrKindTimeout
	}
	return NewOrderError(b.name, kind, e.Code, e.Message, nil)
}

// GetBalance получает equity аккаунта
func (b *BridgeBroker) GetBalance(ctx context.Context) (float64, error) {
	var acc bridgeAccount
	if err := b.do(ctx, http.MethodGet, "/account?login="+url.QueryEscape(b.login), nil, &acc); err != nil {
		return 0, err
	}
	return acc.Equity, nil
}

// PlaceOrder размещает рыночный ордер.
// Мост дедуплицирует по client_order_id (хранит его в комментарии ордера
// терминала): повторный запрос возвращает исходное исполнение.
func (b *BridgeBroker) PlaceOrder(ctx context.Context, req *OrderRequest) (*Fill, error) {
	var resp bridgeOrderResponse
	err := b.do(ctx, http.MethodPost, "/orders", &bridgeOrderRequest{
		Login:         b.login,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Volume:        req.Volume,
		ClientOrderID: req.ClientOrderID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return bridgeFill(&resp), nil
}

// ClosePosition закрывает позицию по её ID в терминале
func (b *BridgeBroker) ClosePosition(ctx context.Context, req *CloseRequest) (*Fill, error) {
	var resp bridgeOrderResponse
	err := b.do(ctx, http.MethodPost, "/orders/close", &bridgeCloseRequest{
		Login:         b.login,
		PositionID:    req.PositionID,
		Volume:        req.Volume,
		ClientOrderID: req.ClientOrderID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return bridgeFill(&resp), nil
}

// GetOpenPositions получает открытые позиции аккаунта
func (b *BridgeBroker) GetOpenPositions(ctx context.Context) ([]*BrokerPosition, error) {
	var raw []bridgePosition
	if err := b.do(ctx, http.MethodGet, "/positions?login="+url.QueryEscape(b.login), nil, &raw); err != nil {
		return nil, err
	}

	positions := make([]*BrokerPosition, 0, len(raw))
	for i := range raw {
		p := &raw[i]
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

// SubscribeTicker запускает поллинг котировок символа.
// Дубликаты по epoch отбрасываются здесь же: движку уходят только
// новые тики.
func (b *BridgeBroker) SubscribeTicker(symbol string, callback func(*models.PriceEvent)) error {
	b.tickMu.Lock()
	if stop, ok := b.tickStops[symbol]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	b.tickStops[symbol] = stop
	b.tickMu.Unlock()

	go b.pollTicks(symbol, callback, stop)
	return nil
}

// UnsubscribeTicker останавливает поллинг котировок символа
func (b *BridgeBroker) UnsubscribeTicker(symbol string) error {
	b.tickMu.Lock()
	if stop, ok := b.tickStops[symbol]; ok {
		close(stop)
		delete(b.tickStops, symbol)
	}
	b.tickMu.Unlock()
	return nil
}

func (b *BridgeBroker) pollTicks(symbol string, callback func(*models.PriceEvent), stop <-chan struct{}) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	var lastEpoch int64

	for {
		select {
		case <-b.closeChan:
			return
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			var tick bridgeTick
			err := b.do(ctx, http.MethodGet, "/tick?symbol="+url.QueryEscape(symbol), nil, &tick)
			cancel()

			if err != nil {
				b.logger.Warn("tick poll failed", zap.String("symbol", symbol), zap.Error(err))
				continue
			}

			// Терминал отдаёт ту же котировку, пока рынок стоит
			if tick.Epoch == lastEpoch {
				continue
			}
			lastEpoch = tick.Epoch

			callback(&models.PriceEvent{
				Symbol:    tick.Symbol,
				Bid:       tick.Bid,
				Ask:       tick.Ask,
				Timestamp: time.UnixMilli(tick.Epoch),
			})
		}
	}
}

// Close останавливает поллинг и закрывает idle соединения
func (b *BridgeBroker) Close() error {
	b.closeOnce.Do(func() {
		close(b.closeChan)
	})

	if transport, ok := b.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

func bridgeFill(r *bridgeOrderResponse) *Fill {
	return &Fill{
		OrderID:       r.OrderID,
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          r.Side,
		Volume:        r.Volume,
		Price:         r.Price,
		ExecutedAt:    time.UnixMilli(r.ExecutedAt),
	}
}
