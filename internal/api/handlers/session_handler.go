package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"gridbot/internal/bot"
	"gridbot/internal/models"
	"gridbot/internal/service"
	"gridbot/pkg/utils"
)

// SessionHandler отвечает за управление торговыми сессиями
//
// Endpoints:
// - POST /api/v1/sessions                  - запуск новой сессии
// - GET /api/v1/sessions                   - список активных сессий
// - GET /api/v1/sessions/{id}              - снапшот конкретной сессии
// - POST /api/v1/sessions/{id}/stop        - плавная остановка
// - POST /api/v1/sessions/{id}/pause       - приостановка входов
// - POST /api/v1/sessions/{id}/resume      - возобновление входов
// - GET /api/v1/sessions/{id}/positions    - история позиций сессии
type SessionHandler struct {
	sessionService service.SessionServiceInterface
}

// NewSessionHandler создает новый SessionHandler с внедрением зависимости
func NewSessionHandler(sessionService service.SessionServiceInterface) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
	}
}

// StartSessionResponse ответ на запуск сессии
type StartSessionResponse struct {
	SessionID     string  `json:"session_id"`
	State         string  `json:"state"`
	StartedEquity float64 `json:"started_equity"`
}

// ListSessionsResponse список снапшотов активных сессий
type ListSessionsResponse struct {
	Sessions []*models.SessionSnapshot `json:"sessions"`
	Total    int                       `json:"total"`
}

// GetPositionsResponse история позиций сессии
type GetPositionsResponse struct {
	Positions []*models.Position `json:"positions"`
	Total     int                `json:"total"`
}

// StartSession запускает новую торговую сессию
//
// POST /api/v1/sessions
//
// Request Body:
//
//	{
//	  "user_id": "user-1",
//	  "symbol": "R_100",
//	  "broker": "streaming",
//	  "config": {
//	    "spread": 10,
//	    "max_positions": 3,
//	    "volume": 0.5,
//	    "max_runtime_minutes": 60,
//	    "max_drawdown": 100
//	  }
//	}
//
// HTTP коды:
// - 201 Created: сессия запущена
// - 400 Bad Request: неверная конфигурация, нет учетных данных,
//   уже есть активная сессия на (user, symbol)
// - 503 Service Unavailable: брокер недоступен
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req service.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "ConfigInvalid", "invalid JSON body: "+err.Error())
		return
	}

	snap, err := h.sessionService.StartSession(r.Context(), &req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, StartSessionResponse{
		SessionID:     snap.ID,
		State:         snap.State,
		StartedEquity: snap.StartedEquity,
	})
}

// ListSessions возвращает снапшоты всех активных сессий
//
// GET /api/v1/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	snapshots := h.sessionService.ListSessions(r.Context())

	respondWithJSON(w, http.StatusOK, ListSessionsResponse{
		Sessions: snapshots,
		Total:    len(snapshots),
	})
}

// GetSession возвращает снапшот сессии по ID.
// Для завершенных сессий состояние восстанавливается из БД.
//
// GET /api/v1/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	snap, err := h.sessionService.GetSession(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, snap)
}

// StopSession плавно останавливает сессию: новые входы прекращаются,
// открытые позиции закрываются по рынку. Повторный stop уже
// останавливающейся сессии - no-op.
//
// POST /api/v1/sessions/{id}/stop
func (h *SessionHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.sessionService.StopSession(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "session stopping"})
}

// PauseSession приостанавливает новые входы, открытые позиции
// продолжают сопровождаться до выхода
//
// POST /api/v1/sessions/{id}/pause
func (h *SessionHandler) PauseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.sessionService.PauseSession(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "session paused"})
}

// ResumeSession возобновляет входы после паузы
//
// POST /api/v1/sessions/{id}/resume
func (h *SessionHandler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.sessionService.ResumeSession(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "session resumed"})
}

// GetPositions возвращает историю позиций сессии из БД,
// включая закрытые
//
// GET /api/v1/sessions/{id}/positions
func (h *SessionHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	positions, err := h.sessionService.GetPositions(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, GetPositionsResponse{
		Positions: positions,
		Total:     len(positions),
	})
}

// respondServiceError переводит ошибки сервиса в HTTP статусы
// и машиночитаемые коды формата {error, code, details}
func (h *SessionHandler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case utils.IsValidationError(err), errors.Is(err, service.ErrUnsupportedBroker):
		respondWithError(w, http.StatusBadRequest, "ConfigInvalid", err.Error())
	case errors.Is(err, service.ErrNoCredentials):
		respondWithError(w, http.StatusBadRequest, "CredentialMissing", err.Error())
	case errors.Is(err, bot.ErrSessionExists):
		respondWithError(w, http.StatusBadRequest, "SessionAlreadyActive", err.Error())
	case errors.Is(err, bot.ErrTooManySessions):
		respondWithError(w, http.StatusConflict, "TooManySessions", err.Error())
	case errors.Is(err, service.ErrSessionNotFound):
		respondWithError(w, http.StatusNotFound, "NotFound", err.Error())
	case errors.Is(err, service.ErrBrokerUnavailable):
		respondWithError(w, http.StatusServiceUnavailable, "TransportDown", err.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, "Internal", err.Error())
	}
}
