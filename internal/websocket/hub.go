package websocket

import (
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"gridbot/internal/bot"
	"gridbot/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Hub управляет всеми активными WebSocket соединениями дашборда.
//
// Центральный менеджер для broadcast сообщений всем подключенным клиентам:
// снапшоты сессий раз в секунду и уведомления по мере событий.
// Клиенты read-only: команды идут через REST API, не через WebSocket.
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений всем клиентам
	broadcast chan []byte

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	mu     sync.RWMutex
	logger *zap.Logger

	dropped   int64
	closeChan chan struct{}
	closeOnce sync.Once
}

// Hub раздаёт данные менеджера сессий и диспетчера уведомлений
var _ bot.WebSocketHub = (*Hub)(nil)

// NewHub создает новый Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.Named("ws_hub"),
		closeChan:  make(chan struct{}),
	}
}

// Run запускает главный цикл Hub.
// Должен запускаться в отдельной горутине: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case <-h.closeChan:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", zap.Int("total", total))

		case message := <-h.broadcast:
			// Копируем список клиентов под коротким RLock, отправляем без
			// блокировки, чтобы не тормозить register/unregister
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Клиент не успевает вычитывать - отключаем
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.logger.Warn("removed slow clients",
					zap.Int("removed", len(toRemove)),
					zap.Int("total", total))
			}
		}
	}
}

// Broadcast сериализует и отправляет сообщение всем подключенным клиентам.
// При переполнении очереди broadcast сообщение отбрасывается:
// следующий секундный снапшот его заменит.
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("marshal broadcast message", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		atomic.AddInt64(&h.dropped, 1)
	}
}

// Stop завершает цикл Run и отключает всех клиентов
func (h *Hub) Stop() {
	h.closeOnce.Do(func() {
		close(h.closeChan)
	})
}

// DroppedMessages возвращает количество отброшенных broadcast сообщений
func (h *Hub) DroppedMessages() int64 {
	return atomic.LoadInt64(&h.dropped)
}

// BroadcastSnapshot отправляет снапшот сессии на дашборд
func (h *Hub) BroadcastSnapshot(snap *models.SessionSnapshot) {
	h.Broadcast(NewSessionUpdateMessage(snap))
}

// BroadcastNotification отправляет новое уведомление
func (h *Hub) BroadcastNotification(notif *models.Notification) {
	h.Broadcast(NewNotificationMessage(notif))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
