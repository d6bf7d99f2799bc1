package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"gridbot/internal/models"
)

// Ошибки менеджера сессий
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("active session already exists for this user and symbol")
	ErrTooManySessions = errors.New("session limit reached")
)

// WebSocketHub - интерфейс для отправки живых данных на дашборд.
// Определён здесь, чтобы пакет bot не зависел от пакета websocket.
type WebSocketHub interface {
	BroadcastSnapshot(snap *models.SessionSnapshot)
	BroadcastNotification(notif *models.Notification)
}

// Manager владеет всеми активными сессиями процесса.
//
// Инвариант: на пару (user_id, symbol) одновременно не более одной
// активной сессии. Завершённые сессии остаются в памяти для выдачи
// финального статуса, слот пары при этом освобождается.
type Manager struct {
	logger *zap.Logger

	sessions map[string]*Session // по ID
	slots    map[string]string   // userID+"/"+symbol -> session ID
	mu       sync.RWMutex

	maxSessions int

	notifications chan *models.Notification
	hub           WebSocketHub

	closeChan chan struct{}
	closeOnce sync.Once
}

// NewManager создаёт менеджера сессий.
// maxSessions = 0 отключает лимит.
func NewManager(maxSessions int, hub WebSocketHub, logger *zap.Logger) *Manager {
	m := &Manager{
		logger:        logger.Named("manager"),
		sessions:      make(map[string]*Session),
		slots:         make(map[string]string),
		maxSessions:   maxSessions,
		notifications: make(chan *models.Notification, 256),
		hub:           hub,
		closeChan:     make(chan struct{}),
	}

	go m.broadcastLoop()
	return m
}

// Notifications возвращает канал уведомлений всех сессий.
// Потребляется диспетчером уведомлений (персистентность + дашборд).
func (m *Manager) Notifications() <-chan *models.Notification {
	return m.notifications
}

// NotificationSink возвращает канал для записи (для SessionDeps)
func (m *Manager) NotificationSink() chan *models.Notification {
	return m.notifications
}

func slotKey(userID, symbol string) string {
	return userID + "/" + symbol
}

// StartSession регистрирует и запускает новую сессию.
// Слот (user_id, symbol) бронируется до запуска: гонка двух одновременных
// стартов одной пары исключена.
func (m *Manager) StartSession(ctx context.Context, model *models.Session, startEquity float64, deps SessionDeps) (*Session, error) {
	key := slotKey(model.UserID, model.Symbol)

	m.mu.Lock()
	if existingID, ok := m.slots[key]; ok {
		if existing := m.sessions[existingID]; existing != nil && IsActive(existing.State()) {
			m.mu.Unlock()
			return nil, ErrSessionExists
		}
	}
	if m.maxSessions > 0 {
		active := 0
		for _, s := range m.sessions {
			if IsActive(s.State()) {
				active++
			}
		}
		if active >= m.maxSessions {
			m.mu.Unlock()
			return nil, ErrTooManySessions
		}
	}

	sess := NewSession(model, startEquity, deps)
	m.sessions[model.ID] = sess
	m.slots[key] = model.ID
	m.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		m.logger.Error("session start failed",
			zap.String("session_id", model.ID), zap.Error(err))
		return nil, err
	}

	m.logger.Info("session started",
		zap.String("session_id", model.ID),
		zap.String("user_id", model.UserID),
		zap.String("symbol", model.Symbol))
	return sess, nil
}

// Get возвращает сессию по ID
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// List возвращает снапшоты всех сессий
func (m *Manager) List() []*models.SessionSnapshot {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]*models.SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Stop останавливает сессию штатно (закрытие всех позиций)
func (m *Manager) Stop(ctx context.Context, id string) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	return sess.Stop(ctx)
}

// Pause приостанавливает входы сессии
func (m *Manager) Pause(ctx context.Context, id string) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	return sess.Pause(ctx)
}

// Resume возобновляет входы сессии
func (m *Manager) Resume(ctx context.Context, id string) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	return sess.Resume(ctx)
}

// broadcastLoop периодически шлёт снапшоты активных сессий на дашборд
// и обновляет метрики состояний
func (m *Manager) broadcastLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.closeChan:
			return
		case <-ticker.C:
			counts := make(map[string]int)
			for _, snap := range m.List() {
				counts[snap.State]++
				if m.hub != nil && IsActive(snap.State) {
					m.hub.BroadcastSnapshot(snap)
				}
			}
			UpdateSessionStates(counts)
		}
	}
}

// Shutdown штатно останавливает все активные сессии
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		if !IsActive(sess.State()) {
			continue
		}
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Stop(ctx); err != nil {
				m.logger.Warn("session stop on shutdown",
					zap.String("session_id", s.ID()), zap.Error(err))
			}
		}(sess)
	}
	wg.Wait()

	m.closeOnce.Do(func() {
		close(m.closeChan)
	})
}
