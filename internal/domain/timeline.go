package domain

import "time"

// TimelineEvent — запись аудита жизненного цикла заказа:
// смены статусов, результат оплаты, компенсации.
type TimelineEvent struct {
	ID        string
	OrderID   string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}
