package handlers

import (
	"net/http"
	"strconv"

	"gridbot/internal/models"
	"gridbot/internal/service"
)

// NotificationHandler отвечает за журнал уведомлений
//
// Endpoints:
// - GET /api/v1/notifications                       - последние уведомления
// - GET /api/v1/notifications?session_id=...        - по конкретной сессии
// - GET /api/v1/notifications?limit=50              - с ограничением количества
type NotificationHandler struct {
	notificationService service.NotificationServiceInterface
}

// NewNotificationHandler создает новый NotificationHandler с внедрением зависимости
func NewNotificationHandler(notificationService service.NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
	}
}

// GetNotificationsResponse представляет ответ списка уведомлений
type GetNotificationsResponse struct {
	Notifications []*models.Notification `json:"notifications"`
	Total         int                    `json:"total"`
}

// GetNotifications возвращает журнал уведомлений, новые сверху
//
// GET /api/v1/notifications
//
// Query параметры:
// - session_id (string): фильтр по сессии
// - limit (int): количество записей (по умолчанию 100, максимум 500)
//
// HTTP коды:
// - 200 OK: массив уведомлений
// - 500 Internal Server Error: ошибка БД
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	limit := 0
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	notifications, err := h.notificationService.GetNotifications(r.Context(), sessionID, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Internal", "failed to get notifications: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, GetNotificationsResponse{
		Notifications: notifications,
		Total:         len(notifications),
	})
}
