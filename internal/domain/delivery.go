package domain

import "time"

// DeliveryStatus описывает жизненный цикл доставки.
type DeliveryStatus string

const (
	// DeliveryStatusPending — доставка создана, курьер ещё не выехал.
	DeliveryStatusPending DeliveryStatus = "pending"
	// DeliveryStatusInTransit — заказ в пути.
	DeliveryStatusInTransit DeliveryStatus = "in_transit"
	// DeliveryStatusDelivered — заказ вручён клиенту.
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	// DeliveryStatusCancelled — доставка отменена.
	DeliveryStatusCancelled DeliveryStatus = "cancelled"
)

// Delivery — доставка, связанная 1:1 с заказом. Создаётся только после того,
// как заказ перешёл в processing (то есть оплата подтверждена).
// Собственный workflow доставки живёт вне ядра; здесь только точка связи
// со статусом заказа.
type Delivery struct {
	ID               string
	OrderID          string
	DeliveryPersonID string
	Status           DeliveryStatus
	Address          string
	Latitude         float64
	Longitude        float64
	EstimatedAt      time.Time
	DeliveredAt      time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryStatusPending:   {DeliveryStatusInTransit, DeliveryStatusCancelled},
	DeliveryStatusInTransit: {DeliveryStatusDelivered, DeliveryStatusCancelled},
	DeliveryStatusDelivered: {},
	DeliveryStatusCancelled: {},
}

// CanTransitionTo проверяет допустимость перехода доставки в новый статус.
func (d *Delivery) CanTransitionTo(next DeliveryStatus) bool {
	for _, allowed := range deliveryTransitions[d.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}
