package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus описывает состояние платежа.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж инициирован, результат ещё не получен.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusSuccessful — шлюз подтвердил списание.
	PaymentStatusSuccessful PaymentStatus = "successful"
	// PaymentStatusFailed — шлюз вернул ошибку или инициация провалилась.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusCancelled — пользователь отклонил запрос на оплату.
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// msisdnPattern — формат номера после нормализации: +2547XXXXXXXX.
var msisdnPattern = regexp.MustCompile(`^\+2547[0-9]{8}$`)

// Payment описывает платёж, связанный 1:1 с заказом.
// Платёж создаётся вместе с заказом и после успешной инициации
// мутируется только сервисом reconciliation.
type Payment struct {
	ID      string
	OrderID string
	// Amount равен Order.TotalAmount на момент создания.
	Amount      decimal.Decimal
	PhoneNumber string
	Status      PaymentStatus
	// CheckoutRequestID — correlation id шлюза. Пустой до успешной инициации,
	// неизменяемый после установки; единственный ключ сопоставления callback → платёж.
	CheckoutRequestID string
	// TransactionID — квитанция провайдера (MpesaReceiptNumber).
	TransactionID string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Terminal сообщает, достиг ли платёж конечного статуса.
// Из конечного статуса переходов нет.
func (p *Payment) Terminal() bool {
	switch p.Status {
	case PaymentStatusSuccessful, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.Amount.IsNegative() {
		errs = append(errs, ErrPaymentAmountNegative)
	}
	if !msisdnPattern.MatchString(p.PhoneNumber) {
		errs = append(errs, ErrPhoneInvalid)
	}

	return errs
}

// NormalizePhone приводит номер к каноническому виду +2547XXXXXXXX.
// Принимает варианты 2547XXXXXXXX и +2547XXXXXXXX; всё остальное — ErrPhoneInvalid.
func NormalizePhone(raw string) (string, error) {
	phone := strings.TrimSpace(raw)
	if strings.HasPrefix(phone, "2547") && len(phone) == 12 {
		phone = "+" + phone
	}
	if !msisdnPattern.MatchString(phone) {
		return "", ErrPhoneInvalid
	}
	return phone, nil
}
