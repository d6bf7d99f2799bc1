package handlers

import (
	"context"
	"sync"

	"gridbot/internal/models"
	"gridbot/internal/service"
)

// ============ Mock Session Service ============

// MockSessionService мок для SessionServiceInterface
type MockSessionService struct {
	sessions  map[string]*models.SessionSnapshot
	positions map[string][]*models.Position

	startErr  error
	stopErr   error
	pauseErr  error
	resumeErr error

	startCalls int
	mu         sync.Mutex
}

var _ service.SessionServiceInterface = (*MockSessionService)(nil)

// NewMockSessionService создает новый мок сервиса сессий
func NewMockSessionService() *MockSessionService {
	return &MockSessionService{
		sessions:  make(map[string]*models.SessionSnapshot),
		positions: make(map[string][]*models.Position),
	}
}

func (m *MockSessionService) StartSession(ctx context.Context, req *service.StartSessionRequest) (*models.SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.startCalls++
	if m.startErr != nil {
		return nil, m.startErr
	}

	snap := &models.SessionSnapshot{
		Session: models.Session{
			ID:            "sess-new",
			UserID:        req.UserID,
			Symbol:        req.Symbol,
			Broker:        req.Broker,
			Config:        req.Config,
			State:         models.SessionRunning,
			StartedEquity: 1000,
		},
		Equity: 1000,
	}
	m.sessions[snap.ID] = snap
	return snap, nil
}

func (m *MockSessionService) StopSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopErr != nil {
		return m.stopErr
	}
	if _, ok := m.sessions[id]; !ok {
		return service.ErrSessionNotFound
	}
	m.sessions[id].State = models.SessionStopping
	return nil
}

func (m *MockSessionService) PauseSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pauseErr != nil {
		return m.pauseErr
	}
	if _, ok := m.sessions[id]; !ok {
		return service.ErrSessionNotFound
	}
	m.sessions[id].State = models.SessionPaused
	return nil
}

func (m *MockSessionService) ResumeSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resumeErr != nil {
		return m.resumeErr
	}
	if _, ok := m.sessions[id]; !ok {
		return service.ErrSessionNotFound
	}
	m.sessions[id].State = models.SessionRunning
	return nil
}

func (m *MockSessionService) GetSession(ctx context.Context, id string) (*models.SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if snap, ok := m.sessions[id]; ok {
		return snap, nil
	}
	return nil, service.ErrSessionNotFound
}

func (m *MockSessionService) ListSessions(ctx context.Context) []*models.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*models.SessionSnapshot, 0, len(m.sessions))
	for _, snap := range m.sessions {
		result = append(result, snap)
	}
	return result
}

func (m *MockSessionService) GetPositions(ctx context.Context, sessionID string) ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, service.ErrSessionNotFound
	}
	return m.positions[sessionID], nil
}

// ============ Mock Notification Service ============

// MockNotificationService мок для NotificationServiceInterface
type MockNotificationService struct {
	notifications []*models.Notification
	getErr        error
}

var _ service.NotificationServiceInterface = (*MockNotificationService)(nil)

func (m *MockNotificationService) GetNotifications(ctx context.Context, sessionID string, limit int) ([]*models.Notification, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}

	result := make([]*models.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		if sessionID != "" && (n.SessionID == nil || *n.SessionID != sessionID) {
			continue
		}
		result = append(result, n)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}
