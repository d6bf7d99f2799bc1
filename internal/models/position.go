package models

import "time"

// Направление позиции
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Причины закрытия позиции.
// У каждой закрытой позиции причина обязана быть заполнена.
const (
	CloseReasonGridExit   = "grid_exit"   // цена прошла дистанцию выхода
	CloseReasonRiskStop   = "risk_stop"   // принудительное закрытие риск-модулем
	CloseReasonManualStop = "manual_stop" // остановка сессии пользователем
)

// Position - открытая или закрытая позиция сессии.
// Создаётся стратегией по подтверждению исполнения, закрывается стратегией
// (достигнута цель) или риск-модулем (принудительно).
type Position struct {
	ID          string     `json:"id" db:"id"` // идентификатор позиции у брокера
	SessionID   string     `json:"session_id" db:"session_id"`
	Side        string     `json:"side" db:"side"`
	Level       float64    `json:"level" db:"level"` // уровень сетки, по которому был вход
	EntryPrice  float64    `json:"entry_price" db:"entry_price"`
	Volume      float64    `json:"volume" db:"volume"`
	OpenedAt    time.Time  `json:"opened_at" db:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	ClosePrice  float64    `json:"close_price,omitempty" db:"close_price"`
	CloseReason string     `json:"close_reason,omitempty" db:"close_reason"`
	Pnl         float64    `json:"pnl" db:"pnl"` // реализованный PNL (после закрытия)
}

// IsOpen возвращает true, если позиция ещё не закрыта
func (p *Position) IsOpen() bool {
	return p.ClosedAt == nil
}

// UnrealizedPnl считает нереализованный PNL по текущей цене
func (p *Position) UnrealizedPnl(price float64) float64 {
	if p.Side == SideSell {
		return (p.EntryPrice - price) * p.Volume
	}
	return (price - p.EntryPrice) * p.Volume
}
