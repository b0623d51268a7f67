package mpesa

import (
	"fmt"

	"github.com/maina2/MM-backend/internal/domain"
)

// ErrorKind классифицирует ошибки шлюза: транспортные повторяемы,
// бизнес-отказ и конфигурация — терминальны.
type ErrorKind string

const (
	// KindTransport — таймаут, ошибка соединения или 5xx.
	KindTransport ErrorKind = "transport"
	// KindRejected — корректно оформленный отказ шлюза (4xx-уровень).
	KindRejected ErrorKind = "rejected"
	// KindConfig — ошибка конфигурации клиента.
	KindConfig ErrorKind = "config"
)

// Error — типизированная ошибка шлюза с деталями для выбора компенсации.
type Error struct {
	Kind        ErrorKind
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("mpesa %s error", e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	if e.Description != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Description)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap сводит ошибку к доменному sentinel для errors.Is на стороне вызова.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindTransport:
		return domain.ErrGatewayUnavailable
	case KindRejected:
		return domain.ErrGatewayRejected
	case KindConfig:
		return domain.ErrGatewayConfig
	default:
		return e.Err
	}
}

// Temporary сообщает, имеет ли смысл повторять операцию.
func (e *Error) Temporary() bool {
	return e.Kind == KindTransport
}
