package recon

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/maina2/MM-backend/internal/domain"
	"github.com/maina2/MM-backend/internal/messaging/kafka"
	"github.com/maina2/MM-backend/internal/metrics"
)

// CallbackResult — разобранный callback шлюза.
type CallbackResult struct {
	CorrelationID string
	ResultCode    int
	ResultDesc    string
	// Receipt — квитанция провайдера (MpesaReceiptNumber), есть только при успехе.
	Receipt string
}

// Service сверяет исход оплаты с заказом: финализирует платёж по callback
// или по сбою инициации и применяет компенсации. Оба пути сходятся в finalize,
// поэтому конечное состояние заказа не зависит от того, как именно провалилась оплата.
type Service struct {
	orders   domain.OrderRepository
	payments domain.PaymentRepository
	products domain.ProductRepository
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	codes    ResultCodeTable
	logger   *log.Entry
	metrics  *metrics.ReconMetrics
}

// NewService создаёт рабочий экземпляр reconciliation-сервиса.
func NewService(
	orders domain.OrderRepository,
	payments domain.PaymentRepository,
	products domain.ProductRepository,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	codes ResultCodeTable,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "recon")
	}
	if codes == nil {
		codes = DefaultResultCodes()
	}
	return &Service{
		orders:   orders,
		payments: payments,
		products: products,
		outbox:   outbox,
		timeline: timeline,
		codes:    codes,
		logger:   logger,
		metrics:  metrics.NewReconMetrics(),
	}
}

// NewServiceWithoutMetrics создаёт сервис без метрик (для тестов).
func NewServiceWithoutMetrics(
	orders domain.OrderRepository,
	payments domain.PaymentRepository,
	products domain.ProductRepository,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	codes ResultCodeTable,
	logger *log.Entry,
) *Service {
	svc := NewService(orders, payments, products, outbox, timeline, codes, logger)
	svc.metrics = nil
	return svc
}

// stkCallbackEnvelope повторяет формат webhook-а шлюза.
type stkCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback разбирает тело webhook-а. Тело без CheckoutRequestID
// считается мусором: сопоставить его с платежом невозможно.
func ParseCallback(body []byte) (CallbackResult, error) {
	var envelope stkCallbackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return CallbackResult{}, fmt.Errorf("%w: %v", domain.ErrCallbackMalformed, err)
	}

	cb := envelope.Body.StkCallback
	if strings.TrimSpace(cb.CheckoutRequestID) == "" {
		return CallbackResult{}, fmt.Errorf("%w: missing CheckoutRequestID", domain.ErrCallbackMalformed)
	}

	result := CallbackResult{
		CorrelationID: cb.CheckoutRequestID,
		ResultCode:    cb.ResultCode,
		ResultDesc:    cb.ResultDesc,
	}
	for _, item := range cb.CallbackMetadata.Item {
		if item.Name == "MpesaReceiptNumber" {
			if receipt, ok := item.Value.(string); ok {
				result.Receipt = receipt
			}
		}
	}

	return result, nil
}

// HandleCallback применяет результат оплаты к платежу и заказу.
// Повторная доставка того же callback — no-op: платёж уже в конечном статусе.
func (s *Service) HandleCallback(cb CallbackResult) error {
	payment, err := s.payments.GetByCorrelationID(cb.CorrelationID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			if s.metrics != nil {
				s.metrics.RecordUnknown()
			}
			s.logger.WithField("correlation_id", cb.CorrelationID).Warn("callback for unknown payment")
			return fmt.Errorf("%w: %s", domain.ErrUnknownCallbackReference, cb.CorrelationID)
		}
		return fmt.Errorf("load payment by correlation id: %w", err)
	}

	if payment.Terminal() {
		if s.metrics != nil {
			s.metrics.RecordReplay()
		}
		s.logger.WithFields(log.Fields{
			"payment_id":     payment.ID,
			"correlation_id": cb.CorrelationID,
			"status":         payment.Status,
		}).Debug("duplicate callback ignored")
		return nil
	}

	status, description := s.codes.Outcome(cb.ResultCode, cb.ResultDesc)
	return s.finalize(payment, status, cb.Receipt, description)
}

// FailInitiation финализирует платёж после провала синхронной инициации.
// Компенсации те же, что и при неуспешном callback: пайплайн сходится
// к одному конечному состоянию независимо от места сбоя.
func (s *Service) FailInitiation(orderID string, cause error) error {
	payment, err := s.payments.GetByOrderID(orderID)
	if err != nil {
		return fmt.Errorf("load payment for order %s: %w", orderID, err)
	}

	if payment.Terminal() {
		return nil
	}

	message := "payment initiation failed"
	if cause != nil {
		message = cause.Error()
	}
	return s.finalize(payment, domain.PaymentStatusFailed, "", message)
}

// finalize выполняет CAS-переход платежа из pending и, если переход взят
// этим вызовом, синхронизирует заказ и применяет компенсации.
func (s *Service) finalize(payment domain.Payment, to domain.PaymentStatus, receipt, message string) error {
	errorMessage := ""
	if to != domain.PaymentStatusSuccessful {
		errorMessage = message
	}

	if err := s.payments.FinalizeFromPending(payment.ID, to, receipt, errorMessage); err != nil {
		if errors.Is(err, domain.ErrPaymentAlreadyFinal) {
			// Проиграли гонку конкурентной доставке: side-effects уже применены.
			if s.metrics != nil {
				s.metrics.RecordReplay()
			}
			return nil
		}
		return fmt.Errorf("finalize payment %s: %w", payment.ID, err)
	}

	if s.metrics != nil {
		s.metrics.RecordCallback(string(to))
	}

	s.logger.WithFields(log.Fields{
		"payment_id": payment.ID,
		"order_id":   payment.OrderID,
		"status":     to,
	}).Info("payment finalized")

	switch to {
	case domain.PaymentStatusSuccessful:
		return s.confirmOrder(payment, receipt)
	case domain.PaymentStatusCancelled:
		return s.cancelOrder(payment, domain.OrderPaymentUnpaid, kafka.EventTypePaymentCancelled, message)
	default:
		return s.cancelOrder(payment, domain.OrderPaymentFailed, kafka.EventTypePaymentFailed, message)
	}
}

func (s *Service) confirmOrder(payment domain.Payment, receipt string) error {
	order, err := s.orders.Get(payment.OrderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", payment.OrderID, err)
	}

	err = s.saveOrder(&order, func(o *domain.Order) {
		o.PaymentStatus = domain.OrderPaymentPaid
		if o.CanTransitionTo(domain.OrderStatusProcessing) {
			o.Status = domain.OrderStatusProcessing
		}
	})
	if err != nil {
		return err
	}

	s.emitEvent(&order, kafka.EventTypePaymentConfirmed, map[string]any{
		"payment_id": payment.ID,
		"receipt":    receipt,
	})
	s.emitEvent(&order, kafka.EventTypeOrderPaid, map[string]any{
		"payment_id": payment.ID,
	})
	return nil
}

func (s *Service) cancelOrder(payment domain.Payment, paymentStatus domain.OrderPaymentStatus, eventType kafka.EventType, reason string) error {
	order, err := s.orders.Get(payment.OrderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", payment.OrderID, err)
	}

	s.releaseStock(&order)

	err = s.saveOrder(&order, func(o *domain.Order) {
		o.PaymentStatus = paymentStatus
		if o.CanTransitionTo(domain.OrderStatusCancelled) {
			o.Status = domain.OrderStatusCancelled
		}
	})
	if err != nil {
		return err
	}

	s.emitEvent(&order, eventType, map[string]any{
		"payment_id": payment.ID,
		"reason":     reason,
	})
	s.emitEvent(&order, kafka.EventTypeOrderCancelled, map[string]any{
		"reason": reason,
	})
	return nil
}

// releaseStock возвращает зарезервированный остаток по всем позициям заказа.
func (s *Service) releaseStock(order *domain.Order) {
	for _, item := range order.Items {
		if err := s.products.Release(item.ProductID, item.Qty); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id":   order.ID,
				"product_id": item.ProductID,
			}).Warn("stock release failed")
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordCompensation()
		}
	}
}

// saveOrder применяет мутацию и сохраняет заказ, повторяя попытку
// при version conflict с перечитыванием свежей версии.
func (s *Service) saveOrder(order *domain.Order, mutate func(*domain.Order)) error {
	const maxRetries = 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		mutate(order)
		order.UpdatedAt = time.Now().UTC()

		err := s.orders.Save(*order)
		if err == nil {
			order.Version++
			return nil
		}
		if !domain.IsVersionConflict(err) || attempt == maxRetries-1 {
			return fmt.Errorf("save order %s: %w", order.ID, err)
		}

		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"attempt":  attempt + 1,
		}).Warn("version conflict detected, retrying")

		fresh, loadErr := s.orders.Get(order.ID)
		if loadErr != nil {
			return fmt.Errorf("reload order after conflict: %w", loadErr)
		}
		*order = fresh
	}

	return nil
}

// emitEvent пишет событие в timeline и outbox. Ошибки записи не валят
// финализацию: платёж уже переведён, события догоняются ретраями воркера.
func (s *Service) emitEvent(order *domain.Order, eventType kafka.EventType, payload map[string]any) {
	payload["order_id"] = order.ID
	payload["status"] = string(order.Status)
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to marshal event payload")
		return
	}

	if s.timeline != nil {
		if err := s.timeline.Append(domain.TimelineEvent{
			OrderID:   order.ID,
			EventType: string(eventType),
			Payload:   body,
		}); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to append timeline event")
		}
	}

	if s.outbox != nil {
		if _, err := s.outbox.Enqueue(domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     string(eventType),
			Payload:       body,
		}); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to enqueue outbox event")
		}
	}
}
