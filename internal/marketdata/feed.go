package marketdata

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"gridbot/internal/broker"
	"gridbot/internal/models"
)

// Signal - событие транспорта котировок, доставляемое сессиям
// отдельно от тиков
type Signal int

const (
	// SignalReconnected - поток восстановлен после разрыва.
	// Сессия обязана сверить позиции с брокером до продолжения торговли.
	SignalReconnected Signal = iota

	// SignalDown - переподключение исчерпало попытки, поток мёртв.
	// Терминальная ошибка транспорта.
	SignalDown
)

func (s Signal) String() string {
	switch s {
	case SignalReconnected:
		return "reconnected"
	case SignalDown:
		return "down"
	default:
		return "unknown"
	}
}

// Subscription - подписка одной сессии на котировки символа.
//
// Events - ограниченная очередь тиков. Если потребитель не успевает,
// старые тики вытесняются новыми: для сеточной стратегии текущая цена
// важнее истории.
type Subscription struct {
	Symbol  string
	Events  chan *models.PriceEvent
	Signals chan Signal

	dropped int64 // atomic, вытесненные тики
	feed    *Feed
	id      int64
}

// Dropped возвращает количество вытесненных тиков (для мониторинга)
func (s *Subscription) Dropped() int64 {
	return atomic.LoadInt64(&s.dropped)
}

// Close отписывает сессию от потока
func (s *Subscription) Close() {
	s.feed.unsubscribe(s)
}

// Feed раздаёт котировки одного брокера сессиям.
//
// На каждую пару (брокер, символ) существует ровно один upstream-поток:
// несколько сессий одного символа делят подписку, а не плодят соединения.
type Feed struct {
	broker broker.Broker
	logger *zap.Logger

	queueSize int

	// symbol -> подписчики
	subs   map[string][]*Subscription
	subsMu sync.RWMutex

	// Символы с активной upstream-подпиской
	upstream map[string]bool

	nextID int64 // atomic
}

// NewFeed создаёт фид поверх брокера.
// queueSize - ёмкость очереди тиков каждой подписки.
func NewFeed(b broker.Broker, queueSize int, logger *zap.Logger) *Feed {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Feed{
		broker:    b,
		logger:    logger.Named("feed"),
		queueSize: queueSize,
		subs:      make(map[string][]*Subscription),
		upstream:  make(map[string]bool),
	}
}

// Subscribe подписывает сессию на котировки символа.
// Первая подписка на символ открывает upstream-поток у брокера.
func (f *Feed) Subscribe(symbol string) (*Subscription, error) {
	sub := &Subscription{
		Symbol:  symbol,
		Events:  make(chan *models.PriceEvent, f.queueSize),
		Signals: make(chan Signal, 4),
		feed:    f,
		id:      atomic.AddInt64(&f.nextID, 1),
	}

	f.subsMu.Lock()
	f.subs[symbol] = append(f.subs[symbol], sub)
	needUpstream := !f.upstream[symbol]
	if needUpstream {
		f.upstream[symbol] = true
	}
	f.subsMu.Unlock()

	if needUpstream {
		if err := f.broker.SubscribeTicker(symbol, func(e *models.PriceEvent) {
			f.dispatch(symbol, e)
		}); err != nil {
			f.subsMu.Lock()
			f.upstream[symbol] = false
			f.removeLocked(sub)
			f.subsMu.Unlock()
			return nil, err
		}
		f.logger.Info("upstream subscribed", zap.String("symbol", symbol))
	}

	return sub, nil
}

// dispatch раздаёт тик всем подписчикам символа
func (f *Feed) dispatch(symbol string, e *models.PriceEvent) {
	f.subsMu.RLock()
	subs := f.subs[symbol]
	f.subsMu.RUnlock()

	for _, sub := range subs {
		sub.push(e)
	}
}

// push кладёт тик в очередь подписки, вытесняя самый старый при переполнении
func (s *Subscription) push(e *models.PriceEvent) {
	select {
	case s.Events <- e:
		return
	default:
	}

	// Очередь полна: выталкиваем старейший тик и пробуем снова
	select {
	case <-s.Events:
		atomic.AddInt64(&s.dropped, 1)
	default:
	}

	select {
	case s.Events <- e:
	default:
		atomic.AddInt64(&s.dropped, 1)
	}
}

// NotifyReconnected рассылает сигнал восстановления потока всем подпискам.
// Вызывается из onReconnect менеджера соединения брокера.
func (f *Feed) NotifyReconnected() {
	f.broadcast(SignalReconnected)
}

// NotifyDown рассылает терминальный сигнал смерти транспорта
func (f *Feed) NotifyDown() {
	f.broadcast(SignalDown)
}

func (f *Feed) broadcast(sig Signal) {
	f.subsMu.RLock()
	defer f.subsMu.RUnlock()

	for symbol, subs := range f.subs {
		for _, sub := range subs {
			select {
			case sub.Signals <- sig:
			default:
				f.logger.Warn("signal queue full, signal dropped",
					zap.String("symbol", symbol),
					zap.String("signal", sig.String()))
			}
		}
	}
}

func (f *Feed) unsubscribe(sub *Subscription) {
	f.subsMu.Lock()
	f.removeLocked(sub)
	lastGone := f.upstream[sub.Symbol] && len(f.subs[sub.Symbol]) == 0
	if lastGone {
		f.upstream[sub.Symbol] = false
	}
	f.subsMu.Unlock()

	// Последний подписчик символа ушёл: upstream-поток больше не нужен
	if lastGone {
		if err := f.broker.UnsubscribeTicker(sub.Symbol); err != nil {
			f.logger.Warn("upstream unsubscribe failed",
				zap.String("symbol", sub.Symbol), zap.Error(err))
			return
		}
		f.logger.Info("upstream released", zap.String("symbol", sub.Symbol))
	}
}

// removeLocked удаляет подписку; вызывается под subsMu
func (f *Feed) removeLocked(sub *Subscription) {
	subs := f.subs[sub.Symbol]
	for i, s := range subs {
		if s.id == sub.id {
			f.subs[sub.Symbol] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(f.subs[sub.Symbol]) == 0 {
		delete(f.subs, sub.Symbol)
	}
}

// SubscriberCount возвращает число подписчиков символа
func (f *Feed) SubscriberCount(symbol string) int {
	f.subsMu.RLock()
	defer f.subsMu.RUnlock()
	return len(f.subs[symbol])
}
