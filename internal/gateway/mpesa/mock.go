package mpesa

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/maina2/MM-backend/internal/domain"
)

// Mock — конфигурируемая заглушка PaymentGateway для тестов и dev-окружения.
type Mock struct {
	mu sync.Mutex

	// InitiateResult и InitiateErr задают результат следующего вызова.
	// Пустой CorrelationID означает "сгенерировать новый".
	InitiateResult domain.PaymentInitiated
	InitiateErr    error

	InitiateCalls int
	LastRequest   domain.PaymentInitiation
}

// NewMock возвращает mock с успешным сценарием по умолчанию.
func NewMock() *Mock {
	return &Mock{}
}

// InitiatePayment возвращает заранее настроенный результат и считает вызовы.
func (m *Mock) InitiatePayment(_ context.Context, req domain.PaymentInitiation) (domain.PaymentInitiated, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InitiateCalls++
	m.LastRequest = req

	if m.InitiateErr != nil {
		return domain.PaymentInitiated{}, m.InitiateErr
	}

	result := m.InitiateResult
	if result.CorrelationID == "" {
		result.CorrelationID = fmt.Sprintf("ws_CO_%s", uuid.NewString())
	}
	if result.ResponseCode == "" {
		result.ResponseCode = ResponseCodeAccepted
	}
	return result, nil
}

var _ domain.PaymentGateway = (*Mock)(nil)
