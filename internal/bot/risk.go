package bot

import (
	"time"

	"gridbot/internal/models"
	"gridbot/pkg/utils"
)

// RiskGovernor следит за лимитами сессии: временем жизни и просадкой.
//
// Проверка выполняется на каждом тике. Срабатывание любого лимита
// терминально: сессия закрывает все позиции и переходит в stopped,
// перезапуск только вручную новой сессией.
type RiskGovernor struct {
	maxRuntime  time.Duration
	maxDrawdown float64 // в валюте счёта от стартового equity

	startedAt   time.Time
	startEquity float64
}

// NewRiskGovernor создаёт контролёра лимитов сессии
func NewRiskGovernor(cfg models.GridConfig, startedAt time.Time, startEquity float64) *RiskGovernor {
	return &RiskGovernor{
		maxRuntime:  time.Duration(cfg.MaxRuntimeMinutes) * time.Minute,
		maxDrawdown: cfg.MaxDrawdown,
		startedAt:   startedAt,
		startEquity: startEquity,
	}
}

// Check возвращает причину остановки или пустую строку.
// equity = стартовый equity + реализованный PnL + плавающий PnL.
func (r *RiskGovernor) Check(now time.Time, equity float64) string {
	if r.maxRuntime > 0 && now.Sub(r.startedAt) >= r.maxRuntime {
		return models.StopReasonRiskRuntime
	}

	if r.maxDrawdown > 0 {
		if utils.Drawdown(r.startEquity, equity) >= r.maxDrawdown {
			return models.StopReasonRiskDrawdown
		}
	}

	return ""
}

// Runtime возвращает прошедшее время жизни сессии
func (r *RiskGovernor) Runtime(now time.Time) time.Duration {
	return now.Sub(r.startedAt)
}

// StartEquity возвращает equity на момент старта
func (r *RiskGovernor) StartEquity() float64 {
	return r.startEquity
}
