package service

import (
	"context"
	"sync"
	"time"

	"gridbot/internal/broker"
	"gridbot/internal/models"
	"gridbot/internal/repository"
)

// ============ Mock SessionRepository ============

type MockSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*models.Session

	createErr error
	updateErr error
}

func NewMockSessionRepository() *MockSessionRepository {
	return &MockSessionRepository{sessions: make(map[string]*models.Session)}
}

func (m *MockSessionRepository) Create(ctx context.Context, s *models.Session) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, repository.ErrSessionNotFound
}

func (m *MockSessionRepository) GetByUserID(ctx context.Context, userID string, limit int) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockSessionRepository) UpdateState(ctx context.Context, id, state, stopReason string, stoppedAt *time.Time) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	s.State = state
	s.StopReason = stopReason
	s.StoppedAt = stoppedAt
	return nil
}

func (m *MockSessionRepository) UpdatePnl(ctx context.Context, id string, realized float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	s.RealizedPnl = realized
	return nil
}

func (m *MockSessionRepository) stateOf(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.State
	}
	return ""
}

// ============ Mock PositionRepository ============

type MockPositionRepository struct {
	mu        sync.Mutex
	positions map[string]*models.Position
}

func NewMockPositionRepository() *MockPositionRepository {
	return &MockPositionRepository{positions: make(map[string]*models.Position)}
}

func (m *MockPositionRepository) Create(ctx context.Context, p *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.positions[p.ID] = &cp
	return nil
}

func (m *MockPositionRepository) GetBySessionID(ctx context.Context, sessionID string) ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Position
	for _, p := range m.positions {
		if p.SessionID == sessionID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockPositionRepository) GetOpenBySessionID(ctx context.Context, sessionID string) ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Position
	for _, p := range m.positions {
		if p.SessionID == sessionID && p.IsOpen() {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockPositionRepository) MarkClosed(ctx context.Context, p *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.positions[p.ID]
	if !ok {
		return repository.ErrPositionNotFound
	}
	stored.ClosedAt = p.ClosedAt
	stored.ClosePrice = p.ClosePrice
	stored.CloseReason = p.CloseReason
	stored.Pnl = p.Pnl
	return nil
}

// ============ Mock CredentialRepository ============

type MockCredentialRepository struct {
	mu          sync.Mutex
	credentials map[string]*models.Credential
	getErr      error
}

func NewMockCredentialRepository() *MockCredentialRepository {
	return &MockCredentialRepository{credentials: make(map[string]*models.Credential)}
}

func credKey(userID, broker string) string {
	return userID + "/" + broker
}

func (m *MockCredentialRepository) GetByUserID(ctx context.Context, userID, broker string) (*models.Credential, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.credentials[credKey(userID, broker)]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, repository.ErrCredentialNotFound
}

func (m *MockCredentialRepository) Upsert(ctx context.Context, c *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.credentials[credKey(c.UserID, c.Broker)] = &cp
	return nil
}

func (m *MockCredentialRepository) Delete(ctx context.Context, userID, broker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := credKey(userID, broker)
	if _, ok := m.credentials[key]; !ok {
		return repository.ErrCredentialNotFound
	}
	delete(m.credentials, key)
	return nil
}

// ============ Mock NotificationRepository ============

type MockNotificationRepository struct {
	mu      sync.Mutex
	entries []*models.Notification
	nextID  int

	createErr error
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{nextID: 1}
}

func (m *MockNotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = m.nextID
	m.nextID++
	cp := *n
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MockNotificationRepository) GetRecent(ctx context.Context, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Notification
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.entries[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockNotificationRepository) GetBySessionID(ctx context.Context, sessionID string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Notification
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		n := m.entries[i]
		if n.SessionID != nil && *n.SessionID == sessionID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockNotificationRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ============ Stub Broker ============

// stubBroker - брокер-заглушка: исполняет всё мгновенно по цене 100
type stubBroker struct {
	mu        sync.Mutex
	callbacks map[string]func(*models.PriceEvent)
	placed    []*broker.OrderRequest
	closed    []*broker.CloseRequest
	nextID    int

	connectErr error
	balance    float64
}

func newStubBroker() *stubBroker {
	return &stubBroker{
		callbacks: make(map[string]func(*models.PriceEvent)),
		balance:   1000,
	}
}

func (b *stubBroker) Connect(ctx context.Context) error { return b.connectErr }
func (b *stubBroker) GetName() string                   { return "stub" }
func (b *stubBroker) Close() error                      { return nil }

func (b *stubBroker) GetBalance(ctx context.Context) (float64, error) {
	return b.balance, nil
}

func (b *stubBroker) PlaceOrder(ctx context.Context, req *broker.OrderRequest) (*broker.Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.placed = append(b.placed, req)
	b.nextID++
	return &broker.Fill{
		OrderID:       "ord-" + req.ClientOrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Volume:        req.Volume,
		Price:         100,
		ExecutedAt:    time.Now(),
	}, nil
}

func (b *stubBroker) ClosePosition(ctx context.Context, req *broker.CloseRequest) (*broker.Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, req)
	return &broker.Fill{
		OrderID:       "cls-" + req.ClientOrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Volume:        req.Volume,
		Price:         100,
		ExecutedAt:    time.Now(),
	}, nil
}

func (b *stubBroker) GetOpenPositions(ctx context.Context) ([]*broker.BrokerPosition, error) {
	return nil, nil
}

func (b *stubBroker) SubscribeTicker(symbol string, callback func(*models.PriceEvent)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks[symbol] = callback
	return nil
}

func (b *stubBroker) UnsubscribeTicker(symbol string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.callbacks, symbol)
	return nil
}

// ============ Mock WebSocket Hub ============

type mockHub struct {
	mu            sync.Mutex
	notifications []*models.Notification
}

func (h *mockHub) BroadcastNotification(notif *models.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifications = append(h.notifications, notif)
}

func (h *mockHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.notifications)
}
