package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/maina2/MM-backend/internal/domain"
)

// Store — in-memory хранилище заказов и платежей под одним мьютексом.
// Один критический раздел воспроизводит транзакционную семантику Postgres:
// заказ, его позиции и платёж появляются атомарно.
type Store struct {
	mu         sync.RWMutex
	orders     map[string]domain.Order
	requestIDs map[string]string // request_id → order_id

	payments             map[string]domain.Payment
	paymentByOrder       map[string]string // order_id → payment_id
	paymentByCorrelation map[string]string // correlation_id → payment_id
}

// NewStore возвращает in-memory хранилище для локальной разработки и тестов.
func NewStore() *Store {
	return &Store{
		orders:               make(map[string]domain.Order),
		requestIDs:           make(map[string]string),
		payments:             make(map[string]domain.Payment),
		paymentByOrder:       make(map[string]string),
		paymentByCorrelation: make(map[string]string),
	}
}

// CreateWithPayment атомарно сохраняет заказ и платёж: либо всё, либо ничего.
func (s *Store) CreateWithPayment(order domain.Order, payment domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	if order.RequestID != "" {
		if _, exists := s.requestIDs[order.RequestID]; exists {
			return domain.ErrOrderAlreadyExists
		}
	}
	if _, exists := s.paymentByOrder[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}

	// Сохраняем копии, чтобы избежать непредсказуемых мутаций извне.
	order.Items = cloneLines(order.Items)
	s.orders[order.ID] = order
	if order.RequestID != "" {
		s.requestIDs[order.RequestID] = order.ID
	}
	s.payments[payment.ID] = payment
	s.paymentByOrder[payment.OrderID] = payment.ID
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (s *Store) Get(id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	order.Items = cloneLines(order.Items)
	return order, nil
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (s *Store) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterLocked(limit, func(o domain.Order) bool {
		return o.CustomerID == customerID
	}), nil
}

// ListByStatus возвращает заказы в заданном статусе (для delivery hand-off).
func (s *Store) ListByStatus(status domain.OrderStatus, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterLocked(limit, func(o domain.Order) bool {
		return o.Status == status
	}), nil
}

func (s *Store) filterLocked(limit int, keep func(domain.Order) bool) []domain.Order {
	result := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if !keep(order) {
			continue
		}
		order.Items = cloneLines(order.Items)
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (s *Store) Save(order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	order.Items = cloneLines(order.Items)
	s.orders[order.ID] = order
	return nil
}

// GetByOrderID возвращает платёж заказа или ErrPaymentNotFound.
func (s *Store) GetByOrderID(orderID string) (domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.paymentByOrder[orderID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return s.payments[id], nil
}

// GetByCorrelationID возвращает платёж по correlation id шлюза.
func (s *Store) GetByCorrelationID(correlationID string) (domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.paymentByCorrelation[correlationID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return s.payments[id], nil
}

// AttachCorrelationID устанавливает correlation id платежа. Id неизменяем:
// повторная установка другого значения — ErrCorrelationIDTaken.
func (s *Store) AttachCorrelationID(paymentID, correlationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if payment.CheckoutRequestID != "" {
		if payment.CheckoutRequestID == correlationID {
			return nil
		}
		return domain.ErrCorrelationIDTaken
	}

	payment.CheckoutRequestID = correlationID
	payment.UpdatedAt = time.Now().UTC()
	s.payments[paymentID] = payment
	s.paymentByCorrelation[correlationID] = paymentID
	return nil
}

// FinalizeFromPending — compare-and-set переход платежа из pending
// в конечный статус. Если платёж уже не pending, состояние не меняется.
func (s *Store) FinalizeFromPending(paymentID string, to domain.PaymentStatus, transactionID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if payment.Status != domain.PaymentStatusPending {
		return domain.ErrPaymentAlreadyFinal
	}

	payment.Status = to
	payment.TransactionID = transactionID
	payment.ErrorMessage = errorMessage
	payment.UpdatedAt = time.Now().UTC()
	s.payments[paymentID] = payment
	return nil
}

func cloneLines(items []domain.OrderLine) []domain.OrderLine {
	if items == nil {
		return nil
	}
	out := make([]domain.OrderLine, len(items))
	copy(out, items)
	return out
}

var (
	_ domain.OrderRepository   = (*Store)(nil)
	_ domain.PaymentRepository = (*Store)(nil)
)
