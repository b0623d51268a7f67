package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего филиала.
	ErrBranchRequired = errors.New("branch_id is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("total_amount must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка формата телефонного номера плательщика.
	ErrPhoneInvalid = errors.New("phone number must be in the format +2547XXXXXXXX")
	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка отсутствующего идентификатора заказа в платеже.
	ErrOrderIDRequired = errors.New("order_id is required")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderAlreadyExists — заказ с таким ID или request_id уже создан.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentAlreadyFinal — платёж уже в конечном статусе, повторный
	// переход запрещён (идемпотентный replay callback).
	ErrPaymentAlreadyFinal = errors.New("payment already finalized")
	// ErrCorrelationIDTaken — попытка сменить уже установленный correlation id.
	ErrCorrelationIDTaken = errors.New("payment correlation id is immutable once set")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrBranchNotFound возвращается, если филиал не найден.
	ErrBranchNotFound = errors.New("branch not found")
	// ErrBranchInactive — заказы против неактивного филиала запрещены.
	ErrBranchInactive = errors.New("branch is not active")
	// ErrDeliveryExists — доставка для заказа уже создана.
	ErrDeliveryExists = errors.New("delivery already exists for order")
	// ErrDeliveryNotFound возвращается, если доставка не найдена.
	ErrDeliveryNotFound = errors.New("delivery not found")

	// ErrInsufficientStock — базовая ошибка нехватки остатка; детали несёт
	// InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStaleCartPrice — цена в корзине клиента устарела; детали несёт
	// StaleCartPriceError.
	ErrStaleCartPrice = errors.New("stale cart price")

	// ErrGatewayUnavailable — подтверждённый сбой связи со шлюзом после retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected — шлюз отклонил запрос на уровне бизнес-логики.
	ErrGatewayRejected = errors.New("payment gateway rejected request")
	// ErrGatewayConfig — фатальная ошибка конфигурации шлюза (нет callback URL
	// или credentials); должна ловиться на старте процесса.
	ErrGatewayConfig = errors.New("payment gateway misconfigured")

	// ErrUnknownCallbackReference — callback ссылается на неизвестный
	// correlation id; состояние не мутируется.
	ErrUnknownCallbackReference = errors.New("unknown callback reference")
	// ErrCallbackMalformed — тело callback не разбирается структурно.
	ErrCallbackMalformed = errors.New("malformed callback payload")

	// ErrIdempotencyKeyRequired — пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой hash запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — тот же ключ пришёл с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — записи по ключу нет.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// InsufficientStockError уточняет, какого товара не хватило и сколько доступно.
type InsufficientStockError struct {
	ProductID string
	Available int32
	Requested int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// Unwrap позволяет матчить ошибку через errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// StaleCartPriceError уточняет расхождение цены корзины с актуальной ценой.
type StaleCartPriceError struct {
	ProductID string
	Expected  decimal.Decimal
	Actual    decimal.Decimal
}

func (e *StaleCartPriceError) Error() string {
	return fmt.Sprintf("stale price for product %s: cart %s, current %s",
		e.ProductID, e.Expected, e.Actual)
}

// Unwrap позволяет матчить ошибку через errors.Is(err, ErrStaleCartPrice).
func (e *StaleCartPriceError) Unwrap() error { return ErrStaleCartPrice }

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
