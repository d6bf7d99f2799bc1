package models

// Причины ордерного намерения
const (
	IntentGridEntry = "grid_entry" // вход по пересечению уровня сетки
	IntentGridExit  = "grid_exit"  // фиксация прибыли
	IntentRiskStop  = "risk_stop"  // принудительное закрытие риск-модулем
)

// OrderIntent - транзитная команда от стратегии к исполнителю ордеров.
// Не персистится; живёт от решения стратегии до ответа брокера.
type OrderIntent struct {
	Side       string  `json:"side"`
	Volume     float64 `json:"volume"`
	Reason     string  `json:"reason"`
	Level      float64 `json:"level,omitempty"`       // для входов: уровень сетки
	PositionID string  `json:"position_id,omitempty"` // для выходов: какая позиция закрывается
}

// IsEntry возвращает true для намерений открытия позиции
func (i OrderIntent) IsEntry() bool {
	return i.Reason == IntentGridEntry
}
