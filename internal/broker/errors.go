package broker

import (
	"errors"
	"fmt"
)

// Категории ошибок исполнения ордеров.
// Движок принимает решение retry/terminate по категории, не по тексту.
const (
	// ErrKindInsufficientMargin - недостаточно маржи. Терминальная для ордера,
	// но не для сессии: пропускаем сигнал и продолжаем.
	ErrKindInsufficientMargin = "insufficient_margin"

	// ErrKindBrokerRejected - брокер отклонил ордер (рынок закрыт, плохой
	// объём, неизвестный символ). Терминальная, retry бессмысленен.
	ErrKindBrokerRejected = "broker_rejected"

	// ErrKindTimeout - нет ответа в срок. Статус ордера неизвестен,
	// retry только с тем же client_order_id.
	ErrKindTimeout = "timeout"

	// ErrKindTransportDown - соединение потеряно до отправки. Безопасно
	// для повтора после переподключения.
	ErrKindTransportDown = "transport_down"
)

// Sentinel errors
var (
	ErrNotConnected   = errors.New("broker is not connected")
	ErrOrderExists    = errors.New("order with this client_order_id already exists")
	ErrUnknownBroker  = errors.New("unsupported broker type")
	ErrEmptyToken     = errors.New("broker token is empty")
	ErrPositionClosed = errors.New("position is already closed")
)

// OrderError представляет ошибку исполнения ордера от брокера
type OrderError struct {
	Broker  string // имя брокера
	Kind    string // категория (ErrKind*)
	Code    string // код ошибки брокера, если есть
	Message string
	Err     error // оригинальная ошибка
}

func (e *OrderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: [%s/%s] %s", e.Broker, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: [%s] %s", e.Broker, e.Kind, e.Message)
}

// Unwrap возвращает оригинальную ошибку для errors.Is() и errors.As()
func (e *OrderError) Unwrap() error {
	return e.Err
}

// Retryable сообщает, имеет ли смысл повторять ордер.
// Повтор обязан идти с тем же client_order_id.
func (e *OrderError) Retryable() bool {
	return e.Kind == ErrKindTimeout || e.Kind == ErrKindTransportDown
}

// NewOrderError создаёт OrderError заданной категории
func NewOrderError(brokerName, kind, code, message string, err error) *OrderError {
	return &OrderError{
		Broker:  brokerName,
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsRetryable проверяет, является ли ошибка повторяемой.
// Не-OrderError ошибки считаются транспортными и повторяемыми.
func IsRetryable(err error) bool {
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.Retryable()
	}
	return true
}
