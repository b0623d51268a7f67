package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — оплата получена, заказ передан в сборку и доставку.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан курьеру.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен клиенту.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён: неуспешная оплата или сбой инициации платежа.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderPaymentStatus — агрегированный статус оплаты на уровне заказа.
type OrderPaymentStatus string

const (
	// OrderPaymentUnpaid — оплата не выполнялась или отменена пользователем.
	OrderPaymentUnpaid OrderPaymentStatus = "unpaid"
	// OrderPaymentPending — платёж инициирован, ждём callback от шлюза.
	OrderPaymentPending OrderPaymentStatus = "pending"
	// OrderPaymentPaid — платёж подтверждён шлюзом.
	OrderPaymentPaid OrderPaymentStatus = "paid"
	// OrderPaymentFailed — платёж завершился ошибкой.
	OrderPaymentFailed OrderPaymentStatus = "failed"
)

// OrderLine представляет одну позицию заказа.
// Цена и название фиксируются на момент оформления и не зависят
// от последующих изменений каталога.
type OrderLine struct {
	ID        string
	ProductID string
	// Name — snapshot названия товара на момент заказа.
	Name string
	// Qty — количество единиц товара.
	Qty int32
	// Price — цена за единицу, зафиксированная при резервировании.
	Price     decimal.Decimal
	CreatedAt time.Time
}

// Order агрегирует состояние заказа, его позиции и координаты доставки.
type Order struct {
	ID         string
	CustomerID string
	BranchID   string
	Status     OrderStatus
	// PaymentStatus синхронизируется только сервисом reconciliation.
	PaymentStatus OrderPaymentStatus
	TotalAmount   decimal.Decimal
	Items         []OrderLine
	// RequestID — клиентский ключ идемпотентности оформления заказа.
	RequestID string
	Latitude  float64
	Longitude float64
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// orderTransitions задаёт допустимые переходы статусов заказа.
// pending → processing возможен только через успешную оплату,
// pending → cancelled — при провале оплаты или инициации.
// Дальше заказ живёт в fulfillment: processing → shipped → delivered.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

// CanTransitionTo проверяет допустимость перехода заказа в новый статус.
func (o *Order) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[o.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal сообщает, достиг ли заказ конечного статуса.
func (o *Order) Terminal() bool {
	return len(orderTransitions[o.Status]) == 0
}

// LineTotal возвращает стоимость позиции: price * qty.
func (l OrderLine) LineTotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt32(l.Qty))
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.BranchID == "" {
		errs = append(errs, ErrBranchRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalAmount.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	calc := decimal.Zero
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc = calc.Add(item.LineTotal())
	}
	if !calc.Equal(o.TotalAmount) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
