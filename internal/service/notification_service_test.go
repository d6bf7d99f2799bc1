package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"gridbot/internal/models"
)

func TestNotificationService_DispatchPersistsAndBroadcasts(t *testing.T) {
	repo := NewMockNotificationRepository()
	hub := &mockHub{}

	svc := NewNotificationService(repo, zap.NewNop())
	svc.SetWebSocketHub(hub)

	events := make(chan *models.Notification, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		svc.Run(ctx, events)
		close(done)
	}()

	sessionID := "sess-1"
	events <- &models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationTypeFill,
		Severity:  models.SeverityInfo,
		SessionID: &sessionID,
		Message:   "position opened",
	}
	events <- &models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationTypeExit,
		Severity:  models.SeverityInfo,
		SessionID: &sessionID,
		Message:   "position closed",
	}

	waitFor(t, time.Second, func() bool { return repo.count() == 2 && hub.count() == 2 })

	// Закрытие канала завершает диспетчер
	close(events)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher must exit when the channel closes")
	}
}

func TestNotificationService_PersistErrorDoesNotStopDispatch(t *testing.T) {
	repo := NewMockNotificationRepository()
	repo.createErr = context.DeadlineExceeded
	hub := &mockHub{}

	svc := NewNotificationService(repo, zap.NewNop())
	svc.SetWebSocketHub(hub)

	events := make(chan *models.Notification, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx, events)

	events <- &models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationTypeError,
		Severity:  models.SeverityError,
		Message:   "broker rejected order",
	}

	// Ошибка БД не мешает рассылке на дашборд
	waitFor(t, time.Second, func() bool { return hub.count() == 1 })
	if repo.count() != 0 {
		t.Errorf("repo count = %d, ожидалось 0", repo.count())
	}
}

func TestNotificationService_GetNotifications(t *testing.T) {
	repo := NewMockNotificationRepository()
	svc := NewNotificationService(repo, zap.NewNop())

	sessA := "sess-a"
	sessB := "sess-b"
	for _, n := range []*models.Notification{
		{Type: models.NotificationTypeSessionStart, Severity: models.SeverityInfo, SessionID: &sessA, Message: "a started"},
		{Type: models.NotificationTypeSessionStart, Severity: models.SeverityInfo, SessionID: &sessB, Message: "b started"},
		{Type: models.NotificationTypeFill, Severity: models.SeverityInfo, SessionID: &sessA, Message: "a fill"},
	} {
		if err := repo.Create(context.Background(), n); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	all, err := svc.GetNotifications(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all = %d, ожидалось 3", len(all))
	}
	// Новые сверху
	if all[0].Message != "a fill" {
		t.Errorf("first = %q, ожидалось свежайшее", all[0].Message)
	}

	onlyA, err := svc.GetNotifications(context.Background(), "sess-a", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(onlyA) != 2 {
		t.Errorf("session filter = %d, ожидалось 2", len(onlyA))
	}
}
