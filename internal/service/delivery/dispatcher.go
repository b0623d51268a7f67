package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/maina2/MM-backend/internal/domain"
	"github.com/maina2/MM-backend/internal/messaging/kafka"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 50
	defaultEstimate     = 45 * time.Minute
)

// Dispatcher наблюдает за заказами, дошедшими до processing, и заводит для
// каждого ровно одну доставку. Порядок объезда пунктов считает RouteOptimizer.
type Dispatcher struct {
	orders     domain.OrderRepository
	deliveries domain.DeliveryRepository
	optimizer  domain.RouteOptimizer
	outbox     domain.OutboxRepository
	timeline   domain.TimelineRepository
	logger     *log.Entry

	// depot — точка старта курьеров (координаты склада).
	depot        domain.GeoPoint
	pollInterval time.Duration
	batchSize    int
}

// DispatcherOptions задаёт параметры dispatcher-а.
type DispatcherOptions struct {
	Logger       *log.Entry
	Outbox       domain.OutboxRepository
	Timeline     domain.TimelineRepository
	Depot        domain.GeoPoint
	PollInterval time.Duration
	BatchSize    int
}

// DispatcherOption настраивает Dispatcher.
type DispatcherOption func(*DispatcherOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) DispatcherOption {
	return func(opts *DispatcherOptions) {
		opts.Logger = logger
	}
}

// WithOutbox подключает публикацию событий доставки через outbox.
func WithOutbox(outbox domain.OutboxRepository) DispatcherOption {
	return func(opts *DispatcherOptions) {
		opts.Outbox = outbox
	}
}

// WithTimeline подключает запись событий доставки в timeline заказа.
func WithTimeline(timeline domain.TimelineRepository) DispatcherOption {
	return func(opts *DispatcherOptions) {
		opts.Timeline = timeline
	}
}

// WithDepot задаёт точку старта маршрутов.
func WithDepot(depot domain.GeoPoint) DispatcherOption {
	return func(opts *DispatcherOptions) {
		opts.Depot = depot
	}
}

// WithPollInterval задаёт частоту опроса заказов.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(opts *DispatcherOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер выборки заказов за цикл.
func WithBatchSize(batchSize int) DispatcherOption {
	return func(opts *DispatcherOptions) {
		opts.BatchSize = batchSize
	}
}

// NewDispatcher создаёт dispatcher доставки.
func NewDispatcher(
	orders domain.OrderRepository,
	deliveries domain.DeliveryRepository,
	optimizer domain.RouteOptimizer,
	options ...DispatcherOption,
) *Dispatcher {
	opts := DispatcherOptions{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "delivery-dispatcher")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Dispatcher{
		orders:       orders,
		deliveries:   deliveries,
		optimizer:    optimizer,
		outbox:       opts.Outbox,
		timeline:     opts.Timeline,
		logger:       logger,
		depot:        opts.Depot,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
	}
}

// Run опрашивает оплаченные заказы до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.orders == nil || d.deliveries == nil {
		d.logger.Warn("delivery dispatcher is disabled: orders or deliveries repo is nil")
		return
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.DispatchOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.DispatchOnce(ctx)
		}
	}
}

// DispatchOnce выполняет один цикл: для каждого заказа в processing без
// доставки создаётся pending-доставка. Уже существующая доставка (включая
// гонку двух инстансов) не создаётся повторно.
func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	orders, err := d.orders.ListByStatus(domain.OrderStatusProcessing, d.batchSize)
	if err != nil {
		d.logger.WithError(err).Warn("failed to list paid orders")
		return
	}

	for _, order := range orders {
		if ctx.Err() != nil {
			return
		}
		if err := d.EnsureDelivery(order); err != nil {
			d.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to ensure delivery")
		}
	}
}

// EnsureDelivery создаёт доставку для заказа, если её ещё нет.
func (d *Dispatcher) EnsureDelivery(order domain.Order) error {
	if _, err := d.deliveries.GetByOrderID(order.ID); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrDeliveryNotFound) {
		return fmt.Errorf("lookup delivery for order %s: %w", order.ID, err)
	}

	now := time.Now().UTC()
	delivery := domain.Delivery{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		Status:      domain.DeliveryStatusPending,
		Latitude:    order.Latitude,
		Longitude:   order.Longitude,
		EstimatedAt: now.Add(defaultEstimate),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := d.deliveries.Create(delivery); err != nil {
		if errors.Is(err, domain.ErrDeliveryExists) {
			return nil
		}
		return fmt.Errorf("create delivery for order %s: %w", order.ID, err)
	}

	d.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"delivery_id": delivery.ID,
	}).Info("delivery created")
	return nil
}

// PlanRoute строит порядок объезда для набора доставок, начиная от склада.
func (d *Dispatcher) PlanRoute(deliveries []domain.Delivery) ([]domain.GeoPoint, error) {
	if d.optimizer == nil {
		return nil, fmt.Errorf("route optimizer is not configured")
	}

	stops := make([]domain.GeoPoint, 0, len(deliveries))
	for _, delivery := range deliveries {
		stops = append(stops, domain.GeoPoint{
			Latitude:  delivery.Latitude,
			Longitude: delivery.Longitude,
		})
	}
	return d.optimizer.ComputeRoute(d.depot, stops)
}

// MarkInTransit переводит доставку в in_transit и заказ в shipped.
func (d *Dispatcher) MarkInTransit(orderID, deliveryPersonID string) error {
	return d.advance(orderID, domain.DeliveryStatusInTransit, domain.OrderStatusShipped,
		kafka.EventTypeOrderShipped, func(delivery *domain.Delivery) {
			delivery.DeliveryPersonID = deliveryPersonID
		})
}

// MarkDelivered переводит доставку в delivered и синхронизирует заказ.
func (d *Dispatcher) MarkDelivered(orderID string) error {
	return d.advance(orderID, domain.DeliveryStatusDelivered, domain.OrderStatusDelivered,
		kafka.EventTypeOrderDelivered, func(delivery *domain.Delivery) {
			delivery.DeliveredAt = time.Now().UTC()
		})
}

func (d *Dispatcher) advance(
	orderID string,
	deliveryStatus domain.DeliveryStatus,
	orderStatus domain.OrderStatus,
	eventType kafka.EventType,
	mutate func(*domain.Delivery),
) error {
	delivery, err := d.deliveries.GetByOrderID(orderID)
	if err != nil {
		return fmt.Errorf("load delivery for order %s: %w", orderID, err)
	}
	if !delivery.CanTransitionTo(deliveryStatus) {
		return fmt.Errorf("delivery %s cannot move from %s to %s", delivery.ID, delivery.Status, deliveryStatus)
	}

	delivery.Status = deliveryStatus
	mutate(&delivery)
	delivery.UpdatedAt = time.Now().UTC()
	if err := d.deliveries.Save(delivery); err != nil {
		return fmt.Errorf("save delivery %s: %w", delivery.ID, err)
	}

	order, err := d.orders.Get(orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	if !order.CanTransitionTo(orderStatus) {
		return fmt.Errorf("order %s cannot move from %s to %s", order.ID, order.Status, orderStatus)
	}

	order.Status = orderStatus
	order.UpdatedAt = time.Now().UTC()
	if err := d.orders.Save(order); err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}

	d.emitEvent(&order, eventType, map[string]any{
		"delivery_id": delivery.ID,
	})
	return nil
}

// emitEvent пишет событие в timeline и outbox; ошибки записи только логируются.
func (d *Dispatcher) emitEvent(order *domain.Order, eventType kafka.EventType, payload map[string]any) {
	payload["order_id"] = order.ID
	payload["status"] = string(order.Status)
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to marshal event payload")
		return
	}

	if d.timeline != nil {
		if err := d.timeline.Append(domain.TimelineEvent{
			OrderID:   order.ID,
			EventType: string(eventType),
			Payload:   body,
		}); err != nil {
			d.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to append timeline event")
		}
	}

	if d.outbox != nil {
		if _, err := d.outbox.Enqueue(domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     string(eventType),
			Payload:       body,
		}); err != nil {
			d.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to enqueue outbox event")
		}
	}
}
