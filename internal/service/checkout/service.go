package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/maina2/MM-backend/internal/domain"
	"github.com/maina2/MM-backend/internal/messaging/kafka"
	"github.com/maina2/MM-backend/internal/metrics"
)

// CheckoutItem — позиция корзины клиента. ExpectedPrice — цена, которую
// клиент видел на витрине; расхождение с актуальной ценой отклоняет заказ.
type CheckoutItem struct {
	ProductID     string
	Qty           int32
	ExpectedPrice decimal.Decimal
}

// CheckoutRequest — входные данные оформления заказа.
type CheckoutRequest struct {
	CustomerID string
	BranchID   string
	// Phone принимает форматы 2547XXXXXXXX и +2547XXXXXXXX.
	Phone string
	// RequestID — клиентский ключ идемпотентности checkout-запроса.
	RequestID string
	Latitude  float64
	Longitude float64
	Items     []CheckoutItem
}

// CheckoutResult — ответ клиенту: заказ создан, оплата инициирована,
// подтверждение придёт асинхронно через callback шлюза.
type CheckoutResult struct {
	Order         domain.Order
	PaymentStatus domain.PaymentStatus
	Message       string
}

// InitiationFailer финализирует платёж после провала синхронной инициации.
// Реализуется reconciliation-сервисом, чтобы сбой инициации и неуспешный
// callback проходили через один и тот же путь компенсаций.
type InitiationFailer interface {
	FailInitiation(orderID string, cause error) error
}

// Service оформляет заказ: валидирует корзину, резервирует остатки,
// атомарно создаёт заказ с платежом и инициирует STK-push у шлюза.
type Service struct {
	orders   domain.OrderRepository
	payments domain.PaymentRepository
	products domain.ProductRepository
	branches domain.BranchRepository
	gateway  domain.PaymentGateway
	recon    InitiationFailer
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	logger   *log.Entry
	metrics  *metrics.CheckoutMetrics
}

// NewService создаёт рабочий экземпляр checkout-сервиса.
func NewService(
	orders domain.OrderRepository,
	payments domain.PaymentRepository,
	products domain.ProductRepository,
	branches domain.BranchRepository,
	gateway domain.PaymentGateway,
	recon InitiationFailer,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	return &Service{
		orders:   orders,
		payments: payments,
		products: products,
		branches: branches,
		gateway:  gateway,
		recon:    recon,
		outbox:   outbox,
		timeline: timeline,
		logger:   logger,
		metrics:  metrics.NewCheckoutMetrics(),
	}
}

// NewServiceWithoutMetrics создаёт сервис без метрик (для тестов).
func NewServiceWithoutMetrics(
	orders domain.OrderRepository,
	payments domain.PaymentRepository,
	products domain.ProductRepository,
	branches domain.BranchRepository,
	gateway domain.PaymentGateway,
	recon InitiationFailer,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) *Service {
	svc := NewService(orders, payments, products, branches, gateway, recon, outbox, timeline, logger)
	svc.metrics = nil
	return svc
}

// CreateOrder выполняет полный путь оформления: валидация, резерв остатков,
// атомарное создание заказа с платежом и синхронная инициация оплаты.
// Клиент получает ответ сразу после подтверждения шлюзом, что запрос принят;
// итог оплаты придёт позже через callback.
func (s *Service) CreateOrder(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.RecordCheckoutStarted()
		defer func() { s.metrics.RecordCheckoutDuration(time.Since(start)) }()
	}

	phone, err := s.validate(req)
	if err != nil {
		s.reject("validation")
		return CheckoutResult{}, err
	}

	lines, total, err := s.buildLines(req.Items)
	if err != nil {
		if errors.Is(err, domain.ErrStaleCartPrice) {
			s.reject("stale_price")
		} else {
			s.reject("validation")
		}
		return CheckoutResult{}, err
	}

	if err := s.reserve(lines); err != nil {
		s.reject("insufficient_stock")
		return CheckoutResult{}, err
	}

	order, payment, err := s.createOrder(req, phone, lines, total)
	if err != nil {
		s.releaseLines(lines)
		s.reject("conflict")
		return CheckoutResult{}, err
	}

	s.emitEvent(&order, kafka.EventTypeOrderCreated, map[string]any{
		"customer_id": order.CustomerID,
		"branch_id":   order.BranchID,
		"total":       order.TotalAmount.String(),
	})

	if err := s.initiatePayment(ctx, &order, &payment); err != nil {
		if s.metrics != nil {
			s.metrics.RecordCheckoutFailed()
		}
		return CheckoutResult{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordCheckoutAccepted()
	}
	s.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"payment_id":     payment.ID,
		"correlation_id": payment.CheckoutRequestID,
	}).Info("checkout accepted, awaiting payment confirmation")

	return CheckoutResult{
		Order:         order,
		PaymentStatus: payment.Status,
		Message:       "Payment initiated. Complete the prompt on your phone.",
	}, nil
}

func (s *Service) validate(req CheckoutRequest) (string, error) {
	if req.CustomerID == "" {
		return "", domain.ErrCustomerRequired
	}
	if req.BranchID == "" {
		return "", domain.ErrBranchRequired
	}
	if len(req.Items) == 0 {
		return "", domain.ErrItemsRequired
	}
	for _, item := range req.Items {
		if item.Qty <= 0 {
			return "", domain.ErrItemQtyInvalid
		}
	}

	phone, err := domain.NormalizePhone(req.Phone)
	if err != nil {
		return "", err
	}

	branch, err := s.branches.Get(req.BranchID)
	if err != nil {
		return "", err
	}
	if !branch.Active {
		return "", domain.ErrBranchInactive
	}

	return phone, nil
}

// buildLines снимает snapshot актуальных цен и названий. Цена позиции должна
// совпадать с ценой, которую видел клиент: заказ по устаревшей цене не создаётся.
func (s *Service) buildLines(items []CheckoutItem) ([]domain.OrderLine, decimal.Decimal, error) {
	lines := make([]domain.OrderLine, 0, len(items))
	total := decimal.Zero

	for _, item := range items {
		product, err := s.products.Get(item.ProductID)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if !product.Price.Equal(item.ExpectedPrice) {
			return nil, decimal.Zero, &domain.StaleCartPriceError{
				ProductID: product.ID,
				Expected:  item.ExpectedPrice,
				Actual:    product.Price,
			}
		}

		lines = append(lines, domain.OrderLine{
			ID:        uuid.NewString(),
			ProductID: product.ID,
			Name:      product.Name,
			Qty:       item.Qty,
			Price:     product.Price,
		})
		total = total.Add(product.Price.Mul(decimal.NewFromInt32(item.Qty)))
	}

	return lines, total, nil
}

// reserve резервирует остатки по каждой позиции. При провале любой позиции
// уже взятые резервы возвращаются: частичный резерв снаружи не наблюдаем.
func (s *Service) reserve(lines []domain.OrderLine) error {
	for i, line := range lines {
		if err := s.products.Reserve(line.ProductID, line.Qty); err != nil {
			s.releaseLines(lines[:i])
			return err
		}
	}
	return nil
}

func (s *Service) releaseLines(lines []domain.OrderLine) {
	for _, line := range lines {
		if err := s.products.Release(line.ProductID, line.Qty); err != nil {
			s.logger.WithError(err).WithField("product_id", line.ProductID).Warn("stock release failed")
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordStockReleased()
		}
	}
}

// createOrder атомарно создаёт заказ вместе с pending-платежом.
func (s *Service) createOrder(req CheckoutRequest, phone string, lines []domain.OrderLine, total decimal.Decimal) (domain.Order, domain.Payment, error) {
	now := time.Now().UTC()
	order := domain.Order{
		ID:            uuid.NewString(),
		CustomerID:    req.CustomerID,
		BranchID:      req.BranchID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.OrderPaymentPending,
		TotalAmount:   total,
		Items:         lines,
		RequestID:     req.RequestID,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		return domain.Order{}, domain.Payment{}, errors.Join(errs...)
	}

	payment := domain.Payment{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		Amount:      total,
		PhoneNumber: phone,
		Status:      domain.PaymentStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.orders.CreateWithPayment(order, payment); err != nil {
		return domain.Order{}, domain.Payment{}, fmt.Errorf("create order: %w", err)
	}

	return order, payment, nil
}

// initiatePayment запускает STK-push. Провал инициации проходит через тот же
// компенсационный путь, что и неуспешный callback.
func (s *Service) initiatePayment(ctx context.Context, order *domain.Order, payment *domain.Payment) error {
	initiated, err := s.gateway.InitiatePayment(ctx, domain.PaymentInitiation{
		OrderID:          order.ID,
		Amount:           payment.Amount,
		Phone:            payment.PhoneNumber,
		AccountReference: "Order-" + order.ID,
		Description:      "MM supermarket order",
	})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("payment initiation failed")
		if s.recon != nil {
			if failErr := s.recon.FailInitiation(order.ID, err); failErr != nil {
				s.logger.WithError(failErr).WithField("order_id", order.ID).Error("initiation compensation failed")
			}
		}
		return fmt.Errorf("initiate payment for order %s: %w", order.ID, err)
	}

	if err := s.attachCorrelation(payment.ID, initiated.CorrelationID); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":   order.ID,
			"payment_id": payment.ID,
		}).Error("failed to attach correlation id")
		if s.recon != nil {
			if failErr := s.recon.FailInitiation(order.ID, err); failErr != nil {
				s.logger.WithError(failErr).WithField("order_id", order.ID).Error("initiation compensation failed")
			}
		}
		return fmt.Errorf("attach correlation id to payment %s: %w", payment.ID, err)
	}
	payment.CheckoutRequestID = initiated.CorrelationID

	s.emitEvent(order, kafka.EventTypePaymentInitiated, map[string]any{
		"payment_id":     payment.ID,
		"correlation_id": initiated.CorrelationID,
	})
	return nil
}

const (
	attachAttempts   = 3
	attachRetryDelay = 50 * time.Millisecond
)

// attachCorrelation сохраняет correlation id с повторами: установка одного и
// того же значения идемпотентна, а платёж без correlation id навсегда теряет
// связь с callback шлюза.
func (s *Service) attachCorrelation(paymentID, correlationID string) error {
	var lastErr error
	for attempt := 0; attempt < attachAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(attachRetryDelay)
		}
		if err := s.payments.AttachCorrelationID(paymentID, correlationID); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (s *Service) reject(reason string) {
	if s.metrics != nil {
		s.metrics.RecordCheckoutRejected(reason)
	}
}

// emitEvent пишет событие в timeline и outbox. Ошибки записи не валят
// оформление: заказ уже создан, события догоняются ретраями воркера.
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
