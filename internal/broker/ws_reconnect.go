package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSReconnectConfig конфигурация переподключения WebSocket
type WSReconnectConfig struct {
	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка (после exponential backoff)
	MaxDelay time.Duration
	// Максимальное количество попыток (0 = бесконечно)
	MaxRetries int
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Таймаут ожидания pong
	PongTimeout time.Duration
}

// DefaultWSReconnectConfig возвращает конфигурацию по умолчанию.
// Backoff: 1s, 2s, 4s, 8s, 16s, затем 16s до исчерпания попыток.
func DefaultWSReconnectConfig() WSReconnectConfig {
	return WSReconnectConfig{
		InitialDelay:   1 * time.Second,
		MaxDelay:       16 * time.Second,
		MaxRetries:     10,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
	}
}

// WSConnectionState состояние WebSocket соединения
type WSConnectionState int32

const (
	WSStateDisconnected WSConnectionState = iota
	WSStateConnecting
	WSStateConnected
	WSStateReconnecting
	WSStateClosed
)

func (s WSConnectionState) String() string {
	switch s {
	case WSStateDisconnected:
		return "disconnected"
	case WSStateConnecting:
		return "connecting"
	case WSStateConnected:
		return "connected"
	case WSStateReconnecting:
		return "reconnecting"
	case WSStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WSReconnectManager управляет WebSocket соединением с автоматическим
// переподключением.
//
// Назначение:
// Обеспечивает надёжное соединение с потоковым API брокера, автоматически
// переподключаясь при разрывах с exponential backoff.
//
// Функции:
// - Автоматическое переподключение с exponential backoff
// - Повторная подписка на каналы после переподключения
// - Ping/Pong для проверки живости соединения
// - Callbacks для уведомления о событиях (connect, reconnect, disconnect, message)
//
// Разрыв во время открытой сессии не валит сессию: пока идёт переподключение,
// движок не получает тиков и не торгует. Исчерпание попыток - терминальная
// ошибка транспорта, о ней сообщает onGiveUp.
type WSReconnectManager struct {
	// Имя брокера (для логирования)
	brokerName string

	// URL для подключения
	wsURL string

	// Конфигурация
	config WSReconnectConfig

	logger *zap.Logger

	// WebSocket соединение
	conn   *websocket.Conn
	connMu sync.RWMutex

	// Состояние
	state int32 // atomic WSConnectionState

	// Счётчик попыток переподключения
	retryCount int32 // atomic

	closeChan chan struct{}

	// Callbacks
	onMessage    func([]byte)
	onConnect    func()
	onReconnect  func()
	onDisconnect func(error)
	onGiveUp     func()
	callbackMu   sync.RWMutex

	// Подписки для восстановления после переподключения
	subscriptions   []interface{}
	subscriptionsMu sync.RWMutex

	// Аутентификация (выполняется после каждого подключения)
	authFunc func(*websocket.Conn) error
}

// NewWSReconnectManager создаёт новый менеджер переподключений
func NewWSReconnectManager(brokerName, wsURL string, config WSReconnectConfig, logger *zap.Logger) *WSReconnectManager {
	return &WSReconnectManager{
		brokerName:    brokerName,
		wsURL:         wsURL,
		config:        config,
		logger:        logger.With(zap.String("broker", brokerName)),
		closeChan:     make(chan struct{}),
		subscriptions: make([]interface{}, 0),
	}
}

// SetOnMessage устанавливает callback для входящих сообщений
func (m *WSReconnectManager) SetOnMessage(handler func([]byte)) {
	m.callbackMu.Lock()
	m.onMessage = handler
	m.callbackMu.Unlock()
}

// SetOnConnect устанавливает callback для первого подключения
func (m *WSReconnectManager) SetOnConnect(handler func()) {
	m.callbackMu.Lock()
	m.onConnect = handler
	m.callbackMu.Unlock()
}

// SetOnReconnect устанавливает callback для успешного переподключения.
// Движок использует его для запуска сверки позиций.
func (m *WSReconnectManager) SetOnReconnect(handler func()) {
	m.callbackMu.Lock()
	m.onReconnect = handler
	m.callbackMu.Unlock()
}

// SetOnDisconnect устанавливает callback для события отключения
func (m *WSReconnectManager) SetOnDisconnect(handler func(error)) {
	m.callbackMu.Lock()
	m.onDisconnect = handler
	m.callbackMu.Unlock()
}

// SetOnGiveUp устанавливает callback для исчерпания попыток переподключения
func (m *WSReconnectManager) SetOnGiveUp(handler func()) {
	m.callbackMu.Lock()
	m.onGiveUp = handler
	m.callbackMu.Unlock()
}

// SetAuthFunc устанавливает функцию авторизации, выполняемую после каждого
// подключения (включая переподключения)
func (m *WSReconnectManager) SetAuthFunc(authFunc func(*websocket.Conn) error) {
	m.authFunc = authFunc
}

// AddSubscription добавляет подписку для восстановления после переподключения
func (m *WSReconnectManager) AddSubscription(sub interface{}) {
	m.subscriptionsMu.Lock()
	m.subscriptions = append(m.subscriptions, sub)
	m.subscriptionsMu.Unlock()
}

// RemoveSubscription удаляет подписки, для которых match вернул true:
// после переподключения они восстанавливаться не будут
func (m *WSReconnectManager) RemoveSubscription(match func(interface{}) bool) {
	m.subscriptionsMu.Lock()
	kept := m.subscriptions[:0]
	for _, sub := range m.subscriptions {
		if !match(sub) {
			kept = append(kept, sub)
		}
	}
	m.subscriptions = kept
	m.subscriptionsMu.Unlock()
}

// GetState возвращает текущее состояние соединения
func (m *WSReconnectManager) GetState() WSConnectionState {
	return WSConnectionState(atomic.LoadInt32(&m.state))
}

// IsConnected проверяет, установлено ли соединение
func (m *WSReconnectManager) IsConnected() bool {
	return m.GetState() == WSStateConnected
}

// Connect устанавливает WebSocket соединение
func (m *WSReconnectManager) Connect() error {
	select {
	case <-m.closeChan:
		return fmt.Errorf("manager is closed")
	default:
	}

	atomic.StoreInt32(&m.state, int32(WSStateConnecting))

	if err := m.dial(); err != nil {
		atomic.StoreInt32(&m.state, int32(WSStateDisconnected))
		return err
	}

	atomic.StoreInt32(&m.state, int32(WSStateConnected))
	atomic.StoreInt32(&m.retryCount, 0)

	m.callbackMu.RLock()
	onConnect := m.onConnect
	m.callbackMu.RUnlock()

	if onConnect != nil {
		onConnect()
	}

	go m.readPump()
	go m.pingPump()

	m.logger.Info("websocket connected", zap.String("url", m.wsURL))

	return nil
}

// dial выполняет подключение к WebSocket
func (m *WSReconnectManager) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, m.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	// Авторизация если требуется
	if m.authFunc != nil {
		if err := m.authFunc(conn); err != nil {
			conn.Close()
			m.connMu.Lock()
			m.conn = nil
			m.connMu.Unlock()
			return fmt.Errorf("auth error: %w", err)
		}
	}

	// Восстанавливаем подписки
	if err := m.resubscribe(); err != nil {
		m.logger.Warn("resubscribe error", zap.Error(err))
		// Не возвращаем ошибку, подписки могут быть восстановлены позже
	}

	return nil
}

// resubscribe восстанавливает подписки после переподключения
func (m *WSReconnectManager) resubscribe() error {
	m.subscriptionsMu.RLock()
	subs := make([]interface{}, len(m.subscriptions))
	copy(subs, m.subscriptions)
	m.subscriptionsMu.RUnlock()

	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("no connection")
	}

	for _, sub := range subs {
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("resubscribe error: %w", err)
		}
	}

	if len(subs) > 0 {
		m.logger.Info("resubscribed", zap.Int("channels", len(subs)))
	}

	return nil
}

// readPump читает сообщения из WebSocket
func (m *WSReconnectManager) readPump() {
	for {
		select {
		case <-m.closeChan:
			return
		default:
		}

		m.connMu.RLock()
		conn := m.conn
		m.connMu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(err)
			return
		}

		m.callbackMu.RLock()
		onMessage := m.onMessage
		m.callbackMu.RUnlock()

		if onMessage != nil {
			onMessage(message)
		}
	}
}

// pingPump отправляет ping для проверки соединения
func (m *WSReconnectManager) pingPump() {
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.closeChan:
			return
		case <-ticker.C:
			m.connMu.RLock()
			conn := m.conn
			m.connMu.RUnlock()

			if conn == nil || m.GetState() != WSStateConnected {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(m.config.PongTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.logger.Warn("ping error", zap.Error(err))
				m.handleDisconnect(err)
				return
			}
		}
	}
}

// handleDisconnect обрабатывает разрыв соединения
func (m *WSReconnectManager) handleDisconnect(err error) {
	select {
	case <-m.closeChan:
		return
	default:
	}

	// Избегаем повторной обработки
	state := m.GetState()
	if state == WSStateReconnecting || state == WSStateClosed {
		return
	}

	atomic.StoreInt32(&m.state, int32(WSStateReconnecting))

	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()

	m.callbackMu.RLock()
	onDisconnect := m.onDisconnect
	m.callbackMu.RUnlock()

	if onDisconnect != nil {
		onDisconnect(err)
	}

	if err != nil {
		m.logger.Warn("websocket disconnected", zap.Error(err))
	}

	go m.reconnectLoop()
}

// reconnectLoop выполняет переподключение с exponential backoff
func (m *WSReconnectManager) reconnectLoop() {
	delay := m.config.InitialDelay

	for {
		select {
		case <-m.closeChan:
			return
		default:
		}

		retryCount := atomic.AddInt32(&m.retryCount, 1)

		if m.config.MaxRetries > 0 && int(retryCount) > m.config.MaxRetries {
			m.logger.Error("max reconnect attempts reached",
				zap.Int("max_retries", m.config.MaxRetries))
			atomic.StoreInt32(&m.state, int32(WSStateDisconnected))

			m.callbackMu.RLock()
			onGiveUp := m.onGiveUp
			m.callbackMu.RUnlock()

			if onGiveUp != nil {
				onGiveUp()
			}
			return
		}

		m.logger.Info("reconnecting",
			zap.Duration("delay", delay),
			zap.Int32("attempt", retryCount),
			zap.Int("max_retries", m.config.MaxRetries))

		select {
		case <-m.closeChan:
			return
		case <-time.After(delay):
		}

		if err := m.dial(); err != nil {
			m.logger.Warn("reconnect failed", zap.Error(err))

			delay = delay * 2
			if delay > m.config.MaxDelay {
				delay = m.config.MaxDelay
			}
			continue
		}

		atomic.StoreInt32(&m.state, int32(WSStateConnected))
		atomic.StoreInt32(&m.retryCount, 0)

		m.callbackMu.RLock()
		onReconnect := m.onReconnect
		m.callbackMu.RUnlock()

		if onReconnect != nil {
			onReconnect()
		}

		m.logger.Info("websocket reconnected")

		go m.readPump()
		go m.pingPump()

		return
	}
}

// Send отправляет сообщение через WebSocket
func (m *WSReconnectManager) Send(msg interface{}) error {
	if m.GetState() != WSStateConnected {
		return fmt.Errorf("not connected (state: %s)", m.GetState())
	}

	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("no connection")
	}

	return conn.WriteJSON(msg)
}

// Close закрывает WebSocket соединение и останавливает переподключение
func (m *WSReconnectManager) Close() error {
	select {
	case <-m.closeChan:
		return nil
	default:
		close(m.closeChan)
	}

	atomic.StoreInt32(&m.state, int32(WSStateClosed))

	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.conn != nil {
		err := m.conn.Close()
		m.conn = nil
		return err
	}

	return nil
}
