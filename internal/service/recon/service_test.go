package recon

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maina2/MM-backend/internal/domain"
	"github.com/maina2/MM-backend/internal/storage/memory"
)

type fixture struct {
	svc      *Service
	store    *memory.Store
	products interface {
		Put(domain.Product)
		Get(string) (domain.Product, error)
	}
	outbox domain.OutboxRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	products := memory.NewProductRepository()
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()

	svc := NewServiceWithoutMetrics(store, store, products, outbox, timeline, nil, nil)

	return &fixture{
		svc:      svc,
		store:    store,
		products: products,
		outbox:   outbox,
	}
}

// seedPendingOrder создаёт заказ с резервом и pending-платёж с correlation id.
func (f *fixture) seedPendingOrder(t *testing.T, correlationID string) (domain.Order, domain.Payment) {
	t.Helper()

	now := time.Now().UTC()
	f.products.Put(domain.Product{
		ID:       "product-1",
		Name:     "Cooking oil 1L",
		BranchID: "branch-1",
		Price:    decimal.NewFromInt(320),
		Stock:    8, // остаток после резерва 2 единиц
	})

	order := domain.Order{
		ID:            "order-1",
		CustomerID:    "customer-1",
		BranchID:      "branch-1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.OrderPaymentPending,
		TotalAmount:   decimal.NewFromInt(640),
		Items: []domain.OrderLine{
			{ID: "line-1", ProductID: "product-1", Name: "Cooking oil 1L", Qty: 2, Price: decimal.NewFromInt(320)},
		},
		RequestID: "req-1",
		CreatedAt: now,
		UpdatedAt: now,
	}
	payment := domain.Payment{
		ID:          "payment-1",
		OrderID:     order.ID,
		Amount:      order.TotalAmount,
		PhoneNumber: "+254712345678",
		Status:      domain.PaymentStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := f.store.CreateWithPayment(order, payment); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if correlationID != "" {
		if err := f.store.AttachCorrelationID(payment.ID, correlationID); err != nil {
			t.Fatalf("attach correlation id: %v", err)
		}
	}

	return order, payment
}

func successCallback(correlationID string) CallbackResult {
	return CallbackResult{
		CorrelationID: correlationID,
		ResultCode:    ResultCodeSuccess,
		ResultDesc:    "The service request is processed successfully.",
		Receipt:       "SLM7XQ1TRX",
	}
}

func TestParseCallbackSuccess(t *testing.T) {
	body := []byte(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 640.00},
						{"Name": "MpesaReceiptNumber", "Value": "SLM7XQ1TRX"},
						{"Name": "PhoneNumber", "Value": 254712345678}
					]
				}
			}
		}
	}`)

	cb, err := ParseCallback(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.CorrelationID != "ws_CO_191220191020363925" {
		t.Fatalf("unexpected correlation id: %s", cb.CorrelationID)
	}
	if cb.ResultCode != 0 {
		t.Fatalf("unexpected result code: %d", cb.ResultCode)
	}
	if cb.Receipt != "SLM7XQ1TRX" {
		t.Fatalf("unexpected receipt: %s", cb.Receipt)
	}
}

func TestParseCallbackFailureWithoutMetadata(t *testing.T) {
	body := []byte(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 1032,
				"ResultDesc": "Request cancelled by user"
			}
		}
	}`)

	cb, err := ParseCallback(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.ResultCode != 1032 {
		t.Fatalf("unexpected result code: %d", cb.ResultCode)
	}
	if cb.Receipt != "" {
		t.Fatalf("unexpected receipt: %s", cb.Receipt)
	}
}

func TestParseCallbackMalformed(t *testing.T) {
	cases := map[string][]byte{
		"invalid json": []byte(`{"Body": `),
		"missing id":   []byte(`{"Body": {"stkCallback": {"ResultCode": 0}}}`),
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCallback(body); !errors.Is(err, domain.ErrCallbackMalformed) {
				t.Fatalf("expected ErrCallbackMalformed, got %v", err)
			}
		})
	}
}

func TestHandleCallbackSuccess(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedPendingOrder(t, "ws_CO_001")

	if err := f.svc.HandleCallback(successCallback("ws_CO_001")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gotPayment, err := f.store.GetByOrderID(order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPayment.Status != domain.PaymentStatusSuccessful {
		t.Fatalf("expected successful payment, got %s", gotPayment.Status)
	}
	if gotPayment.TransactionID != "SLM7XQ1TRX" {
		t.Fatalf("unexpected transaction id: %s", gotPayment.TransactionID)
	}
	if gotPayment.ErrorMessage != "" {
		t.Fatalf("unexpected error message: %s", gotPayment.ErrorMessage)
	}

	gotOrder, err := f.store.Get(order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotOrder.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing order, got %s", gotOrder.Status)
	}
	if gotOrder.PaymentStatus != domain.OrderPaymentPaid {
		t.Fatalf("expected paid order, got %s", gotOrder.PaymentStatus)
	}

	// Резерв не возвращается при успехе.
	product, _ := f.products.Get("product-1")
	if product.Stock != 8 {
		t.Fatalf("stock changed on success: %d", product.Stock)
	}

	events, err := f.outbox.PullPending(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 outbox events, got %d", len(events))
	}
}

func TestHandleCallbackCancelledByUser(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedPendingOrder(t, "ws_CO_001")

	cb := CallbackResult{
		CorrelationID: "ws_CO_001",
		ResultCode:    ResultCodeCancelledByUser,
		ResultDesc:    "Request cancelled by user",
	}
	if err := f.svc.HandleCallback(cb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gotPayment, _ := f.store.GetByOrderID(order.ID)
	if gotPayment.Status != domain.PaymentStatusCancelled {
		t.Fatalf("expected cancelled payment, got %s", gotPayment.Status)
	}

	gotOrder, _ := f.store.Get(order.ID)
	if gotOrder.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled order, got %s", gotOrder.Status)
	}
	if gotOrder.PaymentStatus != domain.OrderPaymentUnpaid {
		t.Fatalf("expected unpaid order, got %s", gotOrder.PaymentStatus)
	}

	// Компенсация вернула резерв.
	product, _ := f.products.Get("product-1")
	if product.Stock != 10 {
		t.Fatalf("expected stock restored to 10, got %d", product.Stock)
	}
}

func TestHandleCallbackUnknownResultCode(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedPendingOrder(t, "ws_CO_001")

	cb := CallbackResult{
		CorrelationID: "ws_CO_001",
		ResultCode:    2001,
		ResultDesc:    "The initiator information is invalid.",
	}
	if err := f.svc.HandleCallback(cb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gotPayment, _ := f.store.GetByOrderID(order.ID)
	if gotPayment.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected failed payment, got %s", gotPayment.Status)
	}
	// Неизвестный код сохраняет сырое описание шлюза.
	if gotPayment.ErrorMessage != "The initiator information is invalid." {
		t.Fatalf("unexpected error message: %s", gotPayment.ErrorMessage)
	}

	gotOrder, _ := f.store.Get(order.ID)
	if gotOrder.PaymentStatus != domain.OrderPaymentFailed {
		t.Fatalf("expected failed payment status, got %s", gotOrder.PaymentStatus)
	}
}

func TestHandleCallbackUnknownReference(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedPendingOrder(t, "ws_CO_001")

	err := f.svc.HandleCallback(successCallback("ws_CO_unknown"))
	if !errors.Is(err, domain.ErrUnknownCallbackReference) {
		t.Fatalf("expected ErrUnknownCallbackReference, got %v", err)
	}

	// Никаких мутаций.
	gotPayment, _ := f.store.GetByOrderID(order.ID)
	if gotPayment.Status != domain.PaymentStatusPending {
		t.Fatalf("payment mutated by unknown callback: %s", gotPayment.Status)
	}
	product, _ := f.products.Get("product-1")
	if product.Stock != 8 {
		t.Fatalf("stock mutated by unknown callback: %d", product.Stock)
	}
}

func TestHandleCallbackDoubleDelivery(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedPendingOrder(t, "ws_CO_001")

	if err := f.svc.HandleCallback(successCallback("ws_CO_001")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Повтор того же callback и поздний противоречащий callback.
	if err := f.svc.HandleCallback(successCallback("ws_CO_001")); err != nil {
		t.Fatalf("replay must be a no-op: %v", err)
	}
	late := CallbackResult{CorrelationID: "ws_CO_001", ResultCode: 1032, ResultDesc: "Request cancelled by user"}
	if err := f.svc.HandleCallback(late); err != nil {
		t.Fatalf("late conflicting callback must be a no-op: %v", err)
	}

	gotPayment, _ := f.store.GetByOrderID(order.ID)
	if gotPayment.Status != domain.PaymentStatusSuccessful {
		t.Fatalf("terminal payment overwritten: %s", gotPayment.Status)
	}
	gotOrder, _ := f.store.Get(order.ID)
	if gotOrder.Status != domain.OrderStatusProcessing {
		t.Fatalf("terminal order overwritten: %s", gotOrder.Status)
	}
	product, _ := f.products.Get("product-1")
	if product.Stock != 8 {
		t.Fatalf("stock changed by replayed callbacks: %d", product.Stock)
	}
}

// Сбой синхронной инициации и неуспешный callback сходятся к одному
// конечному состоянию заказа.
func TestFailInitiationConvergesWithFailedCallback(t *testing.T) {
	byCallback := newFixture(t)
	orderA, _ := byCallback.seedPendingOrder(t, "ws_CO_001")
	cb := CallbackResult{CorrelationID: "ws_CO_001", ResultCode: 1037, ResultDesc: "DS timeout"}
	if err := byCallback.svc.HandleCallback(cb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byInitiation := newFixture(t)
	orderB, _ := byInitiation.seedPendingOrder(t, "")
	if err := byInitiation.svc.FailInitiation(orderB.ID, fmt.Errorf("gateway unavailable")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stateA, _ := byCallback.store.Get(orderA.ID)
	stateB, _ := byInitiation.store.Get(orderB.ID)

	if stateA.Status != stateB.Status || stateA.Status != domain.OrderStatusCancelled {
		t.Fatalf("states diverged: callback=%s initiation=%s", stateA.Status, stateB.Status)
	}
	if stateA.PaymentStatus != stateB.PaymentStatus || stateA.PaymentStatus != domain.OrderPaymentFailed {
		t.Fatalf("payment states diverged: callback=%s initiation=%s", stateA.PaymentStatus, stateB.PaymentStatus)
	}

	productA, _ := byCallback.products.Get("product-1")
	productB, _ := byInitiation.products.Get("product-1")
	if productA.Stock != 10 || productB.Stock != 10 {
		t.Fatalf("stock not restored: callback=%d initiation=%d", productA.Stock, productB.Stock)
	}

	paymentA, _ := byCallback.store.GetByOrderID(orderA.ID)
	paymentB, _ := byInitiation.store.GetByOrderID(orderB.ID)
	if paymentA.Status != domain.PaymentStatusFailed || paymentB.Status != domain.PaymentStatusFailed {
		t.Fatalf("payments diverged: callback=%s initiation=%s", paymentA.Status, paymentB.Status)
	}
}

func TestFailInitiationAfterTerminalIsNoop(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedPendingOrder(t, "ws_CO_001")

	if err := f.svc.HandleCallback(successCallback("ws_CO_001")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.FailInitiation(order.ID, fmt.Errorf("late failure")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gotPayment, _ := f.store.GetByOrderID(order.ID)
	if gotPayment.Status != domain.PaymentStatusSuccessful {
		t.Fatalf("terminal payment overwritten: %s", gotPayment.Status)
	}
}

func TestResultCodeTableMerge(t *testing.T) {
	codes := DefaultResultCodes().Merge(ResultCodeTable{
		1037: {Status: domain.PaymentStatusFailed, Description: "request timed out"},
	})

	status, desc := codes.Outcome(1037, "DS timeout user cannot be reached")
	if status != domain.PaymentStatusFailed {
		t.Fatalf("unexpected status: %s", status)
	}
	if desc != "request timed out" {
		t.Fatalf("unexpected description: %s", desc)
	}

	status, _ = codes.Outcome(0, "")
	if status != domain.PaymentStatusSuccessful {
		t.Fatalf("merge must keep defaults, got %s", status)
	}
}
