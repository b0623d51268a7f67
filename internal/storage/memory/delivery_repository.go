package memory

import (
	"sync"

	"github.com/maina2/MM-backend/internal/domain"
)

// deliveryRepositoryInMemory — in-memory реализация DeliveryRepository.
type deliveryRepositoryInMemory struct {
	mu      sync.RWMutex
	byOrder map[string]domain.Delivery
}

// NewDeliveryRepository возвращает in-memory репозиторий доставок.
func NewDeliveryRepository() *deliveryRepositoryInMemory {
	return &deliveryRepositoryInMemory{
		byOrder: make(map[string]domain.Delivery),
	}
}

// Create сохраняет доставку; для заказа она может существовать только одна.
func (r *deliveryRepositoryInMemory) Create(delivery domain.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byOrder[delivery.OrderID]; exists {
		return domain.ErrDeliveryExists
	}
	r.byOrder[delivery.OrderID] = delivery
	return nil
}

// GetByOrderID возвращает доставку заказа или ErrDeliveryNotFound.
func (r *deliveryRepositoryInMemory) GetByOrderID(orderID string) (domain.Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivery, ok := r.byOrder[orderID]
	if !ok {
		return domain.Delivery{}, domain.ErrDeliveryNotFound
	}
	return delivery, nil
}

// Save перезаписывает доставку.
func (r *deliveryRepositoryInMemory) Save(delivery domain.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byOrder[delivery.OrderID]; !ok {
		return domain.ErrDeliveryNotFound
	}
	r.byOrder[delivery.OrderID] = delivery
	return nil
}

var _ domain.DeliveryRepository = (*deliveryRepositoryInMemory)(nil)
