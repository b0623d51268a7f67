package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndSucceed()

	event := NewOrderEvent(
		EventTypeOrderCreated,
		"order-123",
		"cust-1",
		"pending",
		map[string]interface{}{
			"branch_id": "branch-1",
		},
	)

	err := producer.PublishEvent(TopicOrderEvents, "order-123", event)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	event := NewPaymentEvent(
		EventTypePaymentFailed,
		"order-123",
		"payment-1",
		"ws_CO_001",
		"failed",
		nil,
	)

	err := producer.PublishEvent(TopicPaymentEvents, "order-123", event)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewOrderEvent(t *testing.T) {
	orderID := "order-123"
	customerID := "cust-1"
	status := "processing"
	metadata := map[string]interface{}{
		"total_amount": "1250.00",
	}

	event := NewOrderEvent(EventTypeOrderPaid, orderID, customerID, status, metadata)

	if event.EventType != EventTypeOrderPaid {
		t.Errorf("expected event type %s, got %s", EventTypeOrderPaid, event.EventType)
	}
	if event.OrderID != orderID {
		t.Errorf("expected order id %s, got %s", orderID, event.OrderID)
	}
	if event.CustomerID != customerID {
		t.Errorf("expected customer id %s, got %s", customerID, event.CustomerID)
	}
	if event.Status != status {
		t.Errorf("expected status %s, got %s", status, event.Status)
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}
	if time.Since(event.Timestamp) > time.Second {
		t.Error("timestamp should be close to current time")
	}
}

func TestNewPaymentEvent(t *testing.T) {
	event := NewPaymentEvent(
		EventTypePaymentConfirmed,
		"order-123",
		"payment-1",
		"ws_CO_001",
		"successful",
		map[string]interface{}{
			"receipt": "SLM7XQ1TRX",
		},
	)

	if event.EventType != EventTypePaymentConfirmed {
		t.Errorf("expected event type %s, got %s", EventTypePaymentConfirmed, event.EventType)
	}
	if event.OrderID != "order-123" {
		t.Errorf("unexpected order id %s", event.OrderID)
	}
	if event.PaymentID != "payment-1" {
		t.Errorf("unexpected payment id %s", event.PaymentID)
	}
	if event.CorrelationID != "ws_CO_001" {
		t.Errorf("unexpected correlation id %s", event.CorrelationID)
	}
	if event.Metadata["receipt"] != "SLM7XQ1TRX" {
		t.Error("metadata not set correctly")
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}
}
