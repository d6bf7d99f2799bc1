package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"gridbot/internal/models"
)

// ============ NotificationHandler Tests ============

func TestNotificationHandler_GetNotifications(t *testing.T) {
	sessA := "sess-a"
	sessB := "sess-b"
	seeded := []*models.Notification{
		{ID: 1, Type: models.NotificationTypeSessionStart, Severity: models.SeverityInfo, SessionID: &sessA, Message: "a started"},
		{ID: 2, Type: models.NotificationTypeFill, Severity: models.SeverityInfo, SessionID: &sessA, Message: "a fill"},
		{ID: 3, Type: models.NotificationTypeRiskStop, Severity: models.SeverityWarn, SessionID: &sessB, Message: "b risk stop"},
	}

	t.Run("returns all notifications", func(t *testing.T) {
		handler := NewNotificationHandler(&MockNotificationService{notifications: seeded})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
		w := httptest.NewRecorder()

		handler.GetNotifications(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response GetNotificationsResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Total != 3 {
			t.Errorf("total = %d, ожидалось 3", response.Total)
		}
	})

	t.Run("filters by session_id", func(t *testing.T) {
		handler := NewNotificationHandler(&MockNotificationService{notifications: seeded})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?session_id=sess-a", nil)
		w := httptest.NewRecorder()

		handler.GetNotifications(w, req)

		var response GetNotificationsResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Total != 2 {
			t.Errorf("total = %d, ожидалось 2", response.Total)
		}
	})

	t.Run("honors limit parameter", func(t *testing.T) {
		handler := NewNotificationHandler(&MockNotificationService{notifications: seeded})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=1", nil)
		w := httptest.NewRecorder()

		handler.GetNotifications(w, req)

		var response GetNotificationsResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Total != 1 {
			t.Errorf("total = %d, ожидалось 1", response.Total)
		}
	})

	t.Run("returns 500 on service error", func(t *testing.T) {
		handler := NewNotificationHandler(&MockNotificationService{getErr: errors.New("db down")})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
		w := httptest.NewRecorder()

		handler.GetNotifications(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}
