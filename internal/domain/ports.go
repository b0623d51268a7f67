package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentInitiation — параметры запроса на инициацию платежа у шлюза.
type PaymentInitiation struct {
	OrderID string
	Amount  decimal.Decimal
	// Phone — нормализованный номер плательщика (+2547XXXXXXXX).
	Phone string
	// AccountReference попадает в выписку мерчанта (Order-{id}).
	AccountReference string
	Description      string
}

// PaymentInitiated — ответ шлюза: запрос принят в обработку, но ещё не оплачен.
type PaymentInitiated struct {
	// CorrelationID — идентификатор, по которому придёт callback.
	CorrelationID string
	ResponseCode  string
	Description   string
}

// PaymentGateway описывает взаимодействие с внешним платёжным шлюзом
// (STK-push: инициируем сейчас, результат приходит позже через webhook).
type PaymentGateway interface {
	// InitiatePayment строит подписанный запрос, выполняет его с ограниченным
	// числом повторов и возвращает correlation id принятого запроса.
	InitiatePayment(ctx context.Context, req PaymentInitiation) (PaymentInitiated, error)
}

// GeoPoint — координата для маршрутизации доставки.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// RouteOptimizer — порт внешнего решателя маршрута доставки.
// Вызывается вне ядра checkout; здесь только контракт.
type RouteOptimizer interface {
	// ComputeRoute возвращает остановки в порядке обхода, начиная от start.
	ComputeRoute(start GeoPoint, stops []GeoPoint) ([]GeoPoint, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
