package bot

import "gridbot/internal/models"

// ValidTransitions определяет допустимые переходы между состояниями сессии
var ValidTransitions = map[string][]string{
	models.SessionCreated:  {models.SessionRunning, models.SessionFailed},
	models.SessionRunning:  {models.SessionPaused, models.SessionStopping, models.SessionFailed},
	models.SessionPaused:   {models.SessionRunning, models.SessionStopping, models.SessionFailed},
	models.SessionStopping: {models.SessionStopped, models.SessionFailed},
	models.SessionStopped:  {}, // терминальное
	models.SessionFailed:   {}, // терминальное
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание состояния для UI
func StateInfo(s string) string {
	switch s {
	case models.SessionCreated:
		return "Сессия создана, подключение к брокеру"
	case models.SessionRunning:
		return "Сессия торгует"
	case models.SessionPaused:
		return "Новые входы приостановлены, выходы работают"
	case models.SessionStopping:
		return "Закрытие позиций..."
	case models.SessionStopped:
		return "Сессия завершена"
	case models.SessionFailed:
		return "Ошибка! Сессия остановлена аварийно"
	default:
		return "Неизвестное состояние"
	}
}

// IsActive возвращает true если сессия занимает слот (user_id, symbol)
func IsActive(s string) bool {
	return s == models.SessionCreated || s == models.SessionRunning ||
		s == models.SessionPaused || s == models.SessionStopping
}

// IsTerminal возвращает true для конечных состояний
func IsTerminal(s string) bool {
	return s == models.SessionStopped || s == models.SessionFailed
}

// CanTrade возвращает true если сессия может открывать новые позиции
func CanTrade(s string) bool {
	return s == models.SessionRunning
}
