package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/maina2/MM-backend/internal/domain"
	"github.com/maina2/MM-backend/internal/messaging/kafka"
	"github.com/maina2/MM-backend/internal/service/delivery"
)

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой или если произошла ошибка.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	if brokers == "" {
		return nil, nil
	}

	brokerList := strings.Split(brokers, ",")
	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// startOrderEventsConsumer подписывает delivery dispatcher на order-события,
// чтобы доставка создавалась сразу после оплаты, не дожидаясь polling-цикла
// dispatcher'а. При ошибке подписки доставка продолжает работать через polling.
func startOrderEventsConsumer(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg Config,
	orders domain.OrderRepository,
	dispatcher *delivery.Dispatcher,
	producer *kafka.Producer,
	logger *log.Entry,
) {
	handler := func(_ context.Context, message *sarama.ConsumerMessage) error {
		var envelope struct {
			AggregateID string `json:"aggregate_id"`
			EventType   string `json:"event_type"`
		}
		if err := json.Unmarshal(message.Value, &envelope); err != nil {
			logger.WithError(err).WithField("offset", message.Offset).Warn("skip malformed order event")
			return nil
		}
		if kafka.EventType(envelope.EventType) != kafka.EventTypeOrderPaid {
			return nil
		}

		order, err := orders.Get(envelope.AggregateID)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				return nil
			}
			return fmt.Errorf("load order %s: %w", envelope.AggregateID, err)
		}
		return dispatcher.EnsureDelivery(order)
	}

	consumer, err := kafka.NewConsumerWithDLQ(
		strings.Split(cfg.KafkaBrokers, ","),
		"mm-delivery-dispatcher",
		[]string{cfg.OrderEventsTopic},
		handler,
		producer,
		3,
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create order events consumer, delivery falls back to polling")
		return
	}

	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Warn("failed to start order events consumer")
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("order events consumer stopped with error")
		}
	}()
}
