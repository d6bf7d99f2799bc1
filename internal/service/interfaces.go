package service

import (
	"context"
	"time"

	"gridbot/internal/models"
	"gridbot/internal/repository"
)

// SessionRepositoryInterface определяет интерфейс репозитория сессий
type SessionRepositoryInterface interface {
	Create(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	GetByUserID(ctx context.Context, userID string, limit int) ([]*models.Session, error)
	UpdateState(ctx context.Context, id, state, stopReason string, stoppedAt *time.Time) error
	UpdatePnl(ctx context.Context, id string, realized float64) error
}

// PositionRepositoryInterface определяет интерфейс репозитория позиций
type PositionRepositoryInterface interface {
	Create(ctx context.Context, p *models.Position) error
	GetBySessionID(ctx context.Context, sessionID string) ([]*models.Position, error)
	GetOpenBySessionID(ctx context.Context, sessionID string) ([]*models.Position, error)
	MarkClosed(ctx context.Context, p *models.Position) error
}

// CredentialRepositoryInterface определяет интерфейс репозитория учетных данных
type CredentialRepositoryInterface interface {
	GetByUserID(ctx context.Context, userID, broker string) (*models.Credential, error)
	Upsert(ctx context.Context, c *models.Credential) error
	Delete(ctx context.Context, userID, broker string) error
}

// NotificationRepositoryInterface определяет интерфейс репозитория уведомлений
type NotificationRepositoryInterface interface {
	Create(ctx context.Context, n *models.Notification) error
	GetRecent(ctx context.Context, limit int) ([]*models.Notification, error)
	GetBySessionID(ctx context.Context, sessionID string, limit int) ([]*models.Notification, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ SessionRepositoryInterface = (*repository.SessionRepository)(nil)
var _ PositionRepositoryInterface = (*repository.PositionRepository)(nil)
var _ CredentialRepositoryInterface = (*repository.CredentialRepository)(nil)
var _ NotificationRepositoryInterface = (*repository.NotificationRepository)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// SessionServiceInterface определяет интерфейс сервиса сессий
type SessionServiceInterface interface {
	StartSession(ctx context.Context, req *StartSessionRequest) (*models.SessionSnapshot, error)
	StopSession(ctx context.Context, id string) error
	PauseSession(ctx context.Context, id string) error
	ResumeSession(ctx context.Context, id string) error
	GetSession(ctx context.Context, id string) (*models.SessionSnapshot, error)
	ListSessions(ctx context.Context) []*models.SessionSnapshot
	GetPositions(ctx context.Context, sessionID string) ([]*models.Position, error)
}

// NotificationServiceInterface определяет интерфейс сервиса уведомлений
type NotificationServiceInterface interface {
	GetNotifications(ctx context.Context, sessionID string, limit int) ([]*models.Notification, error)
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ SessionServiceInterface = (*SessionService)(nil)
var _ NotificationServiceInterface = (*NotificationService)(nil)
