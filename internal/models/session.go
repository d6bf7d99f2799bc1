package models

import "time"

// Состояния торговой сессии
const (
	SessionCreated  = "created"  // создана, цикл обработки ещё не запущен
	SessionRunning  = "running"  // активно торгует
	SessionPaused   = "paused"   // цены обрабатываются, новые входы запрещены
	SessionStopping = "stopping" // закрытие открытых позиций
	SessionStopped  = "stopped"  // завершена, открытых позиций нет
	SessionFailed   = "failed"   // неустранимая ошибка транспорта/сверки
)

// Направление сетки
const (
	// DirectionMomentum - продажа ниже базовой цены, покупка выше (по тренду).
	// Поведение по умолчанию, соответствует отложенным SELL_STOP/BUY_STOP ордерам.
	DirectionMomentum = "momentum"
	// DirectionReversion - покупка ниже базовой цены, продажа выше (против тренда)
	DirectionReversion = "reversion"
)

// GridConfig - конфигурация сеточной стратегии.
// Неизменяема после запуска сессии.
type GridConfig struct {
	Spread            float64  `json:"spread" db:"spread"`                           // расстояние между уровнями сетки
	MaxPositions      int      `json:"max_positions" db:"max_positions"`             // жёсткий лимит открытых позиций (≥1)
	MaxRuntimeMinutes int      `json:"max_runtime_minutes" db:"max_runtime_minutes"` // 0 = без лимита
	MaxDrawdown       float64  `json:"max_drawdown" db:"max_drawdown"`               // в валюте счёта, 0 = выключено
	BasePrice         *float64 `json:"base_price,omitempty" db:"base_price"`         // nil = берётся из первого тика
	Volume            float64  `json:"volume" db:"volume"`                           // объём одной позиции
	ExitDistance      float64  `json:"exit_distance,omitempty" db:"exit_distance"`   // 0 = равно Spread
	Direction         string   `json:"direction,omitempty" db:"direction"`           // momentum (default) | reversion
}

// EffectiveExitDistance возвращает дистанцию выхода с учётом дефолта (= Spread)
func (c GridConfig) EffectiveExitDistance() float64 {
	if c.ExitDistance > 0 {
		return c.ExitDistance
	}
	return c.Spread
}

// EffectiveDirection возвращает направление сетки с учётом дефолта
func (c GridConfig) EffectiveDirection() string {
	if c.Direction == "" {
		return DirectionMomentum
	}
	return c.Direction
}

// Session - торговая сессия одного пользователя на одном символе.
// Принадлежит менеджеру сессий; состояние меняется только через state machine.
type Session struct {
	ID            string     `json:"id" db:"id"`
	UserID        string     `json:"user_id" db:"user_id"`
	Symbol        string     `json:"symbol" db:"symbol"`
	Broker        string     `json:"broker" db:"broker"` // streaming | bridge
	Config        GridConfig `json:"config"`
	State         string     `json:"state" db:"state"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty" db:"stopped_at"`
	StopReason    string     `json:"stop_reason,omitempty" db:"stop_reason"` // manual, risk_runtime, risk_drawdown, transport, reconcile
	StartedEquity float64    `json:"started_equity" db:"started_equity"`
	RealizedPnl   float64    `json:"realized_pnl" db:"realized_pnl"`
}

// Причины завершения сессии
const (
	StopReasonManual       = "manual"
	StopReasonRiskRuntime  = "risk_runtime"
	StopReasonRiskDrawdown = "risk_drawdown"
	StopReasonTransport    = "transport"
	StopReasonReconcile    = "reconcile"
)

// SessionSnapshot - read-only снимок сессии для API и дашборда.
// Консистентен с последним полностью обработанным тиком.
type SessionSnapshot struct {
	Session
	BasePrice     float64    `json:"base_price"`
	CurrentPrice  float64    `json:"current_price"`
	UnrealizedPnl float64    `json:"unrealized_pnl"`
	Equity        float64    `json:"equity"`
	OpenPositions []Position `json:"open_positions"`
	LastTickAt    *time.Time `json:"last_tick_at,omitempty"`
	TicksSeen     int64      `json:"ticks_seen"`
}

// PriceEvent - нормализованное ценовое событие от брокера.
// Эфемерное: не персистится, обрабатывается не более одного раза на сессию.
type PriceEvent struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid возвращает середину спреда bid/ask
func (e PriceEvent) Mid() float64 {
	return (e.Bid + e.Ask) / 2
}
