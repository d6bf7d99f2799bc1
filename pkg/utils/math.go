package utils

import (
	"math"
)

// math.go - математические утилиты для сеточной торговли
//
// Назначение:
// Вспомогательные математические функции для расчёта уровней сетки,
// округления цен и PnL. Все функции являются чистыми (pure functions)
// без побочных эффектов.

// RoundToTick округляет цену к ближайшему кратному tickSize.
//
// Брокерские терминалы отклоняют цены, не кратные шагу инструмента,
// поэтому все цены ордеров нормализуются перед отправкой.
//
// Параметры:
//   - price: исходная цена
//   - tickSize: минимальный шаг цены инструмента
//
// Возвращает:
//   - Округлённую цену, кратную tickSize
//   - Если tickSize <= 0, возвращает исходную цену
//
// Примеры:
//   - RoundToTick(1.23456, 0.001) = 1.235
//   - RoundToTick(6845.3, 0.5) = 6845.5
func RoundToTick(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	return math.Round(price/tickSize) * tickSize
}

// RoundToLotSize округляет объём ВНИЗ до ближайшего кратного lotSize.
//
// Округление вниз гарантирует, что объём не превысит доступную маржу.
//
// Примеры:
//   - RoundToLotSize(0.123456, 0.01) = 0.12
//   - RoundToLotSize(1.999, 0.01) = 1.99
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Floor(value/lotSize) * lotSize
}

// GridLevel возвращает цену уровня сетки с индексом k.
//
// Формула:
//
//	level_k = base + k × spread
//
// k может быть отрицательным (уровни ниже базовой цены).
//
// Примеры:
//   - GridLevel(100, 10, -1) = 90
//   - GridLevel(100, 10, 2) = 120
func GridLevel(base, spread float64, k int) float64 {
	return base + float64(k)*spread
}

// NearestLevelIndex возвращает индекс уровня сетки, ближайшего к цене.
//
// Формула:
//
//	k = round((price - base) / spread)
//
// Возвращает 0 при spread <= 0.
func NearestLevelIndex(base, spread, price float64) int {
	if spread <= 0 {
		return 0
	}
	return int(math.Round((price - base) / spread))
}

// LevelsCrossed возвращает индексы уровней сетки, пересечённых движением
// цены от prev к curr, в порядке от ближайшего к prev к дальнему.
//
// Ценовой разрыв может перепрыгнуть несколько уровней за один тик;
// обработка идёт в порядке пересечения, как если бы цена прошла их
// последовательно.
//
// Возвращает nil если ни один уровень не пересечён.
func LevelsCrossed(base, spread, prev, curr float64) []int {
	if spread <= 0 || prev == curr {
		return nil
	}

	// Индексы уровней строго между prev и curr (включая curr-сторону)
	var levels []int
	if curr < prev {
		// Движение вниз: уровни с ценой в [curr, prev)
		kHigh := int(math.Ceil((prev-base)/spread)) - 1
		kLow := int(math.Ceil((curr - base) / spread))
		for k := kHigh; k >= kLow; k-- {
			levels = append(levels, k)
		}
	} else {
		// Движение вверх: уровни с ценой в (prev, curr]
		kLow := int(math.Floor((prev-base)/spread)) + 1
		kHigh := int(math.Floor((curr - base) / spread))
		for k := kLow; k <= kHigh; k++ {
			levels = append(levels, k)
		}
	}
	return levels
}

// CalculatePNL расчитывает прибыль/убыток по позиции.
//
// Формулы:
//   - Buy PnL  = (P_close - P_open) × volume
//   - Sell PnL = (P_open - P_close) × volume
//
// Параметры:
//   - side: "buy" или "sell"
//   - entryPrice: цена входа
//   - currentPrice: текущая/выходная цена
//   - volume: объём позиции
func CalculatePNL(side string, entryPrice, currentPrice, volume float64) float64 {
	if volume <= 0 {
		return 0
	}

	switch side {
	case "buy":
		return (currentPrice - entryPrice) * volume
	case "sell":
		return (entryPrice - currentPrice) * volume
	default:
		return 0
	}
}

// Drawdown расчитывает текущую просадку в валюте счёта.
//
// Формула:
//
//	drawdown = equity_start - equity_now
//
// Возвращает 0 если просадки нет (equity вырос).
func Drawdown(equityStart, equityNow float64) float64 {
	dd := equityStart - equityNow
	if dd < 0 {
		return 0
	}
	return dd
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
