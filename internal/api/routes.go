package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gridbot/internal/api/handlers"
	"gridbot/internal/api/middleware"
	"gridbot/internal/service"
	"gridbot/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	SessionService      service.SessionServiceInterface
	NotificationService service.NotificationServiceInterface
	Hub                 *websocket.Hub
	Logger              *zap.Logger

	// bcrypt-хеш ключа дашборда; пусто = auth выключен (dev)
	APIKeyHash string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /sessions/
//	│   ├── POST / - запустить сессию
//	│   ├── GET / - список активных сессий
//	│   ├── GET /{id} - снапшот сессии
//	│   ├── POST /{id}/stop - остановить сессию
//	│   ├── POST /{id}/pause - приостановить входы
//	│   ├── POST /{id}/resume - возобновить входы
//	│   └── GET /{id}/positions - история позиций
//	└── /notifications/
//	    └── GET / - журнал уведомлений
//
// /ws/
//
//	└── /stream - WebSocket для real-time обновлений
//
// /health - liveness probe
// /metrics - prometheus
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. APIKeyAuth (только для /api/v1)
func SetupRoutes(deps *Dependencies) *mux.Router {
	logger := zap.NewNop()
	if deps != nil && deps.Logger != nil {
		logger = deps.Logger
	}

	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS)

	// Создание handlers с внедрением зависимостей
	var sessionHandler *handlers.SessionHandler
	if deps != nil && deps.SessionService != nil {
		sessionHandler = handlers.NewSessionHandler(deps.SessionService)
	}

	var notificationHandler *handlers.NotificationHandler
	if deps != nil && deps.NotificationService != nil {
		notificationHandler = handlers.NewNotificationHandler(deps.NotificationService)
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()
	if deps != nil {
		api.Use(middleware.APIKeyAuth(deps.APIKeyHash))
	}

	// Session routes
	if sessionHandler != nil {
		api.HandleFunc("/sessions", sessionHandler.StartSession).Methods("POST")
		api.HandleFunc("/sessions", sessionHandler.ListSessions).Methods("GET")
		api.HandleFunc("/sessions/{id}", sessionHandler.GetSession).Methods("GET")
		api.HandleFunc("/sessions/{id}/stop", sessionHandler.StopSession).Methods("POST")
		api.HandleFunc("/sessions/{id}/pause", sessionHandler.PauseSession).Methods("POST")
		api.HandleFunc("/sessions/{id}/resume", sessionHandler.ResumeSession).Methods("POST")
		api.HandleFunc("/sessions/{id}/positions", sessionHandler.GetPositions).Methods("GET")
	}

	// Notification routes
	if notificationHandler != nil {
		api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")
	}

	// WebSocket route: дашборд получает снапшоты и уведомления
	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})
	}

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Prometheus metrics
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}
