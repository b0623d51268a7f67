package domain

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// CreateWithPayment атомарно сохраняет заказ, его позиции и платёж:
	// либо записывается всё, либо ничего. Возвращает ErrOrderAlreadyExists,
	// если заказ с таким ID или request_id уже есть.
	CreateWithPayment(order Order, payment Payment) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByCustomer возвращает заказы клиента с опциональным ограничением на количество.
	ListByCustomer(customerID string, limit int) ([]Order, error)
	// ListByStatus возвращает заказы в заданном статусе (для delivery hand-off).
	ListByStatus(status OrderStatus, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}

// PaymentRepository описывает требования к хранилищу платежей.
// Create отсутствует намеренно: платёж рождается только вместе с заказом
// через OrderRepository.CreateWithPayment.
type PaymentRepository interface {
	// GetByOrderID возвращает платёж заказа или ErrPaymentNotFound.
	GetByOrderID(orderID string) (Payment, error)
	// GetByCorrelationID возвращает платёж по correlation id шлюза
	// или ErrPaymentNotFound. Единственный путь сопоставления callback → платёж.
	GetByCorrelationID(correlationID string) (Payment, error)
	// AttachCorrelationID устанавливает correlation id после успешной инициации.
	// Id неизменяем: повторная установка другого значения — ErrCorrelationIDTaken.
	AttachCorrelationID(paymentID, correlationID string) error
	// FinalizeFromPending переводит платёж из pending в конечный статус
	// по принципу compare-and-set: если платёж уже не pending, возвращает
	// ErrPaymentAlreadyFinal и ничего не меняет. Из двух конкурентных
	// доставок callback переход выигрывает ровно одна.
	FinalizeFromPending(paymentID string, to PaymentStatus, transactionID, errorMessage string) error
}

// ProductRepository совмещает чтение каталога и inventory ledger:
// атомарный резерв и компенсирующий возврат остатка.
type ProductRepository interface {
	// Get возвращает товар или ErrProductNotFound.
	Get(id string) (Product, error)
	// Reserve атомарно уменьшает остаток на qty. Если остатка не хватает,
	// возвращает *InsufficientStockError и ничего не меняет; остаток
	// никогда не уходит в минус.
	Reserve(productID string, qty int32) error
	// Release возвращает qty единиц в остаток (компенсирующая транзакция).
	Release(productID string, qty int32) error
}

// BranchRepository — чтение филиалов для валидации заказа.
type BranchRepository interface {
	// Get возвращает филиал или ErrBranchNotFound.
	Get(id string) (Branch, error)
}

// DeliveryRepository описывает хранилище доставок.
type DeliveryRepository interface {
	// Create сохраняет доставку; ErrDeliveryExists, если для заказа она уже есть.
	Create(delivery Delivery) error
	// GetByOrderID возвращает доставку заказа или ErrDeliveryNotFound.
	GetByOrderID(orderID string) (Delivery, error)
	// Save перезаписывает доставку.
	Save(delivery Delivery) error
}
