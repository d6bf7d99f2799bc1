package utils

import (
	"errors"
	"fmt"
	"regexp"
)

// validator.go - валидация входных данных
//
// Проверка параметров сессии до передачи в торговый движок.
// Возвращает error с описанием проблемы или nil.

// Ошибки валидации
var (
	ErrEmptySymbol      = errors.New("symbol cannot be empty")
	ErrInvalidSymbol    = errors.New("symbol has invalid format")
	ErrInvalidSpread    = errors.New("spread must be positive")
	ErrInvalidVolume    = errors.New("volume must be positive")
	ErrInvalidPositions = errors.New("max_positions must be at least 1")
	ErrInvalidRuntime   = errors.New("max_runtime_minutes cannot be negative")
	ErrInvalidDrawdown  = errors.New("max_drawdown cannot be negative")
	ErrInvalidDirection = errors.New("direction must be momentum or reversion")
	ErrInvalidBasePrice = errors.New("base_price must be positive")
)

// symbolPattern - буквы, цифры, подчёркивание (R_100, frxEURUSD, EURUSD)
var symbolPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{1,31}$`)

// ValidateSymbol проверяет формат торгового символа
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return ErrEmptySymbol
	}
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// ValidateSpread проверяет шаг сетки
func ValidateSpread(spread float64) error {
	if spread <= 0 {
		return ErrInvalidSpread
	}
	return nil
}

// ValidateVolume проверяет объём ордера
func ValidateVolume(volume float64) error {
	if volume <= 0 {
		return ErrInvalidVolume
	}
	return nil
}

// ValidateMaxPositions проверяет лимит одновременных позиций
func ValidateMaxPositions(n int) error {
	if n < 1 {
		return ErrInvalidPositions
	}
	return nil
}

// ValidateMaxRuntime проверяет лимит времени жизни сессии (в минутах).
// 0 означает "без лимита".
func ValidateMaxRuntime(minutes int) error {
	if minutes < 0 {
		return ErrInvalidRuntime
	}
	return nil
}

// ValidateMaxDrawdown проверяет порог просадки в валюте счёта.
// 0 означает "выключено".
func ValidateMaxDrawdown(limit float64) error {
	if limit < 0 {
		return ErrInvalidDrawdown
	}
	return nil
}

// ValidateDirection проверяет режим торговли сетки
func ValidateDirection(direction string) error {
	switch direction {
	case "", "momentum", "reversion":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDirection, direction)
	}
}

// ValidateBasePrice проверяет явно заданную базовую цену.
// nil означает "взять из первого тика" и всегда валиден.
func ValidateBasePrice(base *float64) error {
	if base != nil && *base <= 0 {
		return ErrInvalidBasePrice
	}
	return nil
}

// IsValidationError сообщает, относится ли ошибка к проверке конфигурации.
// HTTP-слой по этому признаку отличает 400 от 500.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrEmptySymbol,
		ErrInvalidSymbol,
		ErrInvalidSpread,
		ErrInvalidVolume,
		ErrInvalidPositions,
		ErrInvalidRuntime,
		ErrInvalidDrawdown,
		ErrInvalidDirection,
		ErrInvalidBasePrice,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
