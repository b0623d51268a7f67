package recon

import (
	"github.com/maina2/MM-backend/internal/domain"
)

// Коды результата STK-push, известные шлюзу.
const (
	ResultCodeSuccess         = 0
	ResultCodeCancelledByUser = 1032
)

// ResultOutcome описывает исход платежа для кода результата шлюза.
type ResultOutcome struct {
	Status domain.PaymentStatus
	// Description используется вместо сырого ResultDesc, когда код известен.
	Description string
}

// ResultCodeTable мапит код результата шлюза на исход платежа.
// Таблица — конфигурация, а не логика: новые коды провайдера
// добавляются переопределением, без изменения кода сервиса.
type ResultCodeTable map[int]ResultOutcome

// DefaultResultCodes возвращает таблицу исходов по умолчанию:
// 0 — успех, 1032 — отказ пользователя, всё прочее — ошибка платежа.
func DefaultResultCodes() ResultCodeTable {
	return ResultCodeTable{
		ResultCodeSuccess: {
			Status:      domain.PaymentStatusSuccessful,
			Description: "payment confirmed",
		},
		ResultCodeCancelledByUser: {
			Status:      domain.PaymentStatusCancelled,
			Description: "request cancelled by user",
		},
	}
}

// Merge накладывает переопределения поверх таблицы и возвращает новую таблицу.
func (t ResultCodeTable) Merge(overrides ResultCodeTable) ResultCodeTable {
	merged := make(ResultCodeTable, len(t)+len(overrides))
	for code, outcome := range t {
		merged[code] = outcome
	}
	for code, outcome := range overrides {
		merged[code] = outcome
	}
	return merged
}

// Outcome возвращает статус платежа и описание для кода результата.
// Неизвестный ненулевой код трактуется как failed с сырым описанием шлюза.
func (t ResultCodeTable) Outcome(code int, rawDescription string) (domain.PaymentStatus, string) {
	if outcome, ok := t[code]; ok {
		description := outcome.Description
		if description == "" {
			description = rawDescription
		}
		return outcome.Status, description
	}
	return domain.PaymentStatusFailed, rawDescription
}
