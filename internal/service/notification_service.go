package service

import (
	"context"

	"go.uber.org/zap"

	"gridbot/internal/models"
)

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(notif *models.Notification)
}

// NotificationService - журнал событий сессий.
//
// Сессии пишут уведомления в общий канал менеджера; диспетчер сервиса
// вычитывает его, персистит записи и рассылает подписчикам дашборда.
// Канал bounded с drop-on-full: потеря уведомления не ломает торговлю.
type NotificationService struct {
	repo   NotificationRepositoryInterface
	wsHub  WebSocketBroadcaster
	logger *zap.Logger
}

// NewNotificationService создает новый экземпляр сервиса уведомлений
func NewNotificationService(repo NotificationRepositoryInterface, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		repo:   repo,
		logger: logger.Named("notifications"),
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений.
// Вызывается после инициализации Hub в main.go.
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// Run вычитывает канал уведомлений до его закрытия или отмены контекста.
// Запускается одной горутиной из main.go.
func (s *NotificationService) Run(ctx context.Context, events <-chan *models.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-events:
			if !ok {
				return
			}
			s.dispatch(ctx, notif)
		}
	}
}

// dispatch персистит уведомление и рассылает его подписчикам
func (s *NotificationService) dispatch(ctx context.Context, notif *models.Notification) {
	if err := s.repo.Create(ctx, notif); err != nil {
		// Журнал вторичен по отношению к торговле: логируем и едем дальше
		s.logger.Error("failed to persist notification",
			zap.String("type", notif.Type),
			zap.Error(err))
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(notif)
	}
}

// GetNotifications возвращает уведомления, новые сверху.
// Пустой sessionID означает журнал по всем сессиям.
func (s *NotificationService) GetNotifications(ctx context.Context, sessionID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	if sessionID != "" {
		return s.repo.GetBySessionID(ctx, sessionID, limit)
	}
	return s.repo.GetRecent(ctx, limit)
}
