package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maina2/MM-backend/internal/domain"
	"github.com/maina2/MM-backend/internal/gateway/mpesa"
	"github.com/maina2/MM-backend/internal/service/recon"
	"github.com/maina2/MM-backend/internal/storage/memory"
)

type fixture struct {
	svc      *Service
	store    *memory.Store
	products interface {
		Put(domain.Product)
		Get(string) (domain.Product, error)
	}
	gateway *mpesa.Mock
	outbox  domain.OutboxRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	products := memory.NewProductRepository()
	branches := memory.NewBranchRepository()
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()
	gateway := mpesa.NewMock()

	branches.Put(domain.Branch{ID: "branch-1", Name: "Westlands", Active: true})
	branches.Put(domain.Branch{ID: "branch-closed", Name: "Old Town", Active: false})
	products.Put(domain.Product{
		ID:       "product-1",
		Name:     "Cooking oil 1L",
		BranchID: "branch-1",
		Price:    decimal.NewFromInt(320),
		Stock:    10,
	})
	products.Put(domain.Product{
		ID:       "product-2",
		Name:     "Maize flour 2kg",
		BranchID: "branch-1",
		Price:    decimal.NewFromInt(185),
		Stock:    1,
	})

	reconSvc := recon.NewServiceWithoutMetrics(store, store, products, outbox, timeline, nil, nil)
	svc := NewServiceWithoutMetrics(store, store, products, branches, gateway, reconSvc, outbox, timeline, nil)

	return &fixture{
		svc:      svc,
		store:    store,
		products: products,
		gateway:  gateway,
		outbox:   outbox,
	}
}

func validRequest() CheckoutRequest {
	return CheckoutRequest{
		CustomerID: "customer-1",
		BranchID:   "branch-1",
		Phone:      "+254712345678",
		RequestID:  "req-1",
		Latitude:   -1.2673,
		Longitude:  36.8111,
		Items: []CheckoutItem{
			{ProductID: "product-1", Qty: 2, ExpectedPrice: decimal.NewFromInt(320)},
		},
	}
}

func TestCreateOrderSuccess(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.CreateOrder(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Order.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order status: %s", result.Order.Status)
	}
	if result.Order.PaymentStatus != domain.OrderPaymentPending {
		t.Fatalf("unexpected order payment status: %s", result.Order.PaymentStatus)
	}
	if result.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("unexpected payment status: %s", result.PaymentStatus)
	}
	if !result.Order.TotalAmount.Equal(decimal.NewFromInt(640)) {
		t.Fatalf("unexpected total: %s", result.Order.TotalAmount)
	}

	payment, err := f.store.GetByOrderID(result.Order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payment.CheckoutRequestID == "" {
		t.Fatal("correlation id not attached after initiation")
	}
	if payment.PhoneNumber != "+254712345678" {
		t.Fatalf("unexpected phone: %s", payment.PhoneNumber)
	}

	product, _ := f.products.Get("product-1")
	if product.Stock != 8 {
		t.Fatalf("expected stock 8 after reservation, got %d", product.Stock)
	}

	if f.gateway.InitiateCalls != 1 {
		t.Fatalf("expected 1 gateway call, got %d", f.gateway.InitiateCalls)
	}
	if f.gateway.LastRequest.AccountReference != "Order-"+result.Order.ID {
		t.Fatalf("unexpected account reference: %s", f.gateway.LastRequest.AccountReference)
	}

	events, err := f.outbox.PullPending(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 outbox events, got %d", len(events))
	}
	if events[0].EventType != "order.created" || events[1].EventType != "payment.initiated" {
		t.Fatalf("unexpected event types: %s, %s", events[0].EventType, events[1].EventType)
	}
}

func TestCreateOrderNormalizesPhone(t *testing.T) {
	f := newFixture(t)

	req := validRequest()
	req.Phone = "254712345678"

	result, err := f.svc.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payment, _ := f.store.GetByOrderID(result.Order.ID)
	if payment.PhoneNumber != "+254712345678" {
		t.Fatalf("phone not normalized: %s", payment.PhoneNumber)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	cases := map[string]struct {
		mutate  func(*CheckoutRequest)
		wantErr error
	}{
		"missing customer": {
			mutate:  func(r *CheckoutRequest) { r.CustomerID = "" },
			wantErr: domain.ErrCustomerRequired,
		},
		"empty cart": {
			mutate:  func(r *CheckoutRequest) { r.Items = nil },
			wantErr: domain.ErrItemsRequired,
		},
		"zero qty": {
			mutate:  func(r *CheckoutRequest) { r.Items[0].Qty = 0 },
			wantErr: domain.ErrItemQtyInvalid,
		},
		"bad phone": {
			mutate:  func(r *CheckoutRequest) { r.Phone = "0712345678" },
			wantErr: domain.ErrPhoneInvalid,
		},
		"unknown branch": {
			mutate:  func(r *CheckoutRequest) { r.BranchID = "branch-missing" },
			wantErr: domain.ErrBranchNotFound,
		},
		"inactive branch": {
			mutate:  func(r *CheckoutRequest) { r.BranchID = "branch-closed" },
			wantErr: domain.ErrBranchInactive,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			req := validRequest()
			tc.mutate(&req)

			_, err := f.svc.CreateOrder(context.Background(), req)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if f.gateway.InitiateCalls != 0 {
				t.Fatalf("gateway called on invalid request")
			}

			product, _ := f.products.Get("product-1")
			if product.Stock != 10 {
				t.Fatalf("stock changed on invalid request: %d", product.Stock)
			}
		})
	}
}

func TestCreateOrderStalePrice(t *testing.T) {
	f := newFixture(t)

	req := validRequest()
	req.Items[0].ExpectedPrice = decimal.NewFromInt(300)

	_, err := f.svc.CreateOrder(context.Background(), req)
	var staleErr *domain.StaleCartPriceError
	if !errors.As(err, &staleErr) {
		t.Fatalf("expected StaleCartPriceError, got %v", err)
	}
	if !staleErr.Actual.Equal(decimal.NewFromInt(320)) {
		t.Fatalf("unexpected actual price: %s", staleErr.Actual)
	}

	product, _ := f.products.Get("product-1")
	if product.Stock != 10 {
		t.Fatalf("stock reserved despite stale price: %d", product.Stock)
	}
}

// Провал резерва по одной позиции откатывает резервы по остальным.
func TestCreateOrderReservationRollback(t *testing.T) {
	f := newFixture(t)

	req := validRequest()
	req.Items = []CheckoutItem{
		{ProductID: "product-1", Qty: 2, ExpectedPrice: decimal.NewFromInt(320)},
		{ProductID: "product-2", Qty: 5, ExpectedPrice: decimal.NewFromInt(185)},
	}

	_, err := f.svc.CreateOrder(context.Background(), req)
	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.ProductID != "product-2" || stockErr.Available != 1 || stockErr.Requested != 5 {
		t.Fatalf("unexpected error details: %+v", stockErr)
	}

	first, _ := f.products.Get("product-1")
	second, _ := f.products.Get("product-2")
	if first.Stock != 10 || second.Stock != 1 {
		t.Fatalf("partial reservation leaked: product-1=%d product-2=%d", first.Stock, second.Stock)
	}
}

// Провал инициации проходит тот же компенсационный путь, что и неуспешный
// callback: заказ отменён, платёж failed, резерв возвращён.
func TestCreateOrderGatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.InitiateErr = fmt.Errorf("%w: connect timeout", domain.ErrGatewayUnavailable)

	_, err := f.svc.CreateOrder(context.Background(), validRequest())
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}

	orders, listErr := f.store.ListByStatus(domain.OrderStatusCancelled, 10)
	if listErr != nil {
		t.Fatalf("unexpected error: %v", listErr)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 cancelled order, got %d", len(orders))
	}
	order := orders[0]
	if order.PaymentStatus != domain.OrderPaymentFailed {
		t.Fatalf("unexpected order payment status: %s", order.PaymentStatus)
	}

	payment, _ := f.store.GetByOrderID(order.ID)
	if payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("unexpected payment status: %s", payment.Status)
	}
	if payment.CheckoutRequestID != "" {
		t.Fatalf("correlation id set despite initiation failure: %s", payment.CheckoutRequestID)
	}

	product, _ := f.products.Get("product-1")
	if product.Stock != 10 {
		t.Fatalf("stock not restored after initiation failure: %d", product.Stock)
	}
}

// N покупателей против остатка K: резерв получают ровно K, отрицательного
// остатка не бывает.
func TestCreateOrderConcurrentStock(t *testing.T) {
	f := newFixture(t)
	f.products.Put(domain.Product{
		ID:       "product-hot",
		Name:     "Promo sugar 1kg",
		BranchID: "branch-1",
		Price:    decimal.NewFromInt(99),
		Stock:    3,
	})

	const buyers = 10
	var wg sync.WaitGroup
	results := make(chan error, buyers)

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			req := CheckoutRequest{
				CustomerID: fmt.Sprintf("customer-%d", n),
				BranchID:   "branch-1",
				Phone:      "+254712345678",
				RequestID:  fmt.Sprintf("req-%d", n),
				Items: []CheckoutItem{
					{ProductID: "product-hot", Qty: 1, ExpectedPrice: decimal.NewFromInt(99)},
				},
			}
			_, err := f.svc.CreateOrder(context.Background(), req)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var accepted, rejected int
	for err := range results {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, domain.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if accepted != 3 {
		t.Fatalf("expected exactly 3 accepted checkouts, got %d", accepted)
	}
	if rejected != buyers-3 {
		t.Fatalf("expected %d rejections, got %d", buyers-3, rejected)
	}

	product, _ := f.products.Get("product-hot")
	if product.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", product.Stock)
	}
}

// Сумма заказа всегда равна сумме позиций, даже при нецелых ценах.
func TestCreateOrderTotalAmountInvariant(t *testing.T) {
	f := newFixture(t)
	f.products.Put(domain.Product{
		ID:       "product-frac",
		Name:     "Bananas per kg",
		BranchID: "branch-1",
		Price:    decimal.RequireFromString("123.45"),
		Stock:    100,
	})

	req := validRequest()
	req.Items = []CheckoutItem{
		{ProductID: "product-frac", Qty: 3, ExpectedPrice: decimal.RequireFromString("123.45")},
		{ProductID: "product-1", Qty: 1, ExpectedPrice: decimal.NewFromInt(320)},
	}

	result, err := f.svc.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := decimal.RequireFromString("690.35")
	if !result.Order.TotalAmount.Equal(want) {
		t.Fatalf("expected total %s, got %s", want, result.Order.TotalAmount)
	}
	if err := result.Order.ValidateInvariants(); err != nil {
		t.Fatalf("invariants violated: %v", err)
	}

	start := time.Now()
	if result.Order.CreatedAt.After(start) {
		t.Fatalf("created_at in the future: %s", result.Order.CreatedAt)
	}
}

// flakyPayments оборачивает хранилище платежей и имитирует временные сбои
// при установке correlation id.
type flakyPayments struct {
	domain.PaymentRepository
	attachFailures int
	attachCalls    int
}

func (p *flakyPayments) AttachCorrelationID(paymentID, correlationID string) error {
	p.attachCalls++
	if p.attachCalls <= p.attachFailures {
		return errors.New("storage temporarily unavailable")
	}
	return p.PaymentRepository.AttachCorrelationID(paymentID, correlationID)
}

// Временный сбой при сохранении correlation id не роняет оформление:
// установка повторяется до успеха.
func TestCreateOrderAttachCorrelationRetries(t *testing.T) {
	f := newFixture(t)
	payments := &flakyPayments{PaymentRepository: f.store, attachFailures: 2}
	f.svc.payments = payments

	result, err := f.svc.CreateOrder(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if payments.attachCalls != 3 {
		t.Fatalf("expected 3 attach attempts, got %d", payments.attachCalls)
	}

	payment, getErr := f.store.GetByOrderID(result.Order.ID)
	if getErr != nil {
		t.Fatalf("unexpected error: %v", getErr)
	}
	if payment.CheckoutRequestID == "" {
		t.Fatal("correlation id is not attached after retries")
	}
	if payment.Status != domain.PaymentStatusPending {
		t.Fatalf("unexpected payment status: %s", payment.Status)
	}
}

// Платёж без correlation id навсегда теряет связь с callback шлюза, поэтому
// исчерпание повторов финализирует заказ тем же компенсационным путём,
// что и провал инициации, а не оставляет его в подвешенном pending.
func TestCreateOrderAttachCorrelationFailureCompensates(t *testing.T) {
	f := newFixture(t)
	payments := &flakyPayments{PaymentRepository: f.store, attachFailures: attachAttempts}
	f.svc.payments = payments

	_, err := f.svc.CreateOrder(context.Background(), validRequest())
	if err == nil {
		t.Fatal("expected CreateOrder error")
	}

	orders, listErr := f.store.ListByStatus(domain.OrderStatusCancelled, 10)
	if listErr != nil {
		t.Fatalf("unexpected error: %v", listErr)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 cancelled order, got %d", len(orders))
	}
	order := orders[0]
	if order.PaymentStatus != domain.OrderPaymentFailed {
		t.Fatalf("unexpected order payment status: %s", order.PaymentStatus)
	}

	payment, _ := f.store.GetByOrderID(order.ID)
	if payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("unexpected payment status: %s", payment.Status)
	}
	if payment.CheckoutRequestID != "" {
		t.Fatalf("correlation id set despite attach failure: %s", payment.CheckoutRequestID)
	}

	product, _ := f.products.Get("product-1")
	if product.Stock != 10 {
		t.Fatalf("stock not restored after attach failure: %d", product.Stock)
	}
}

// Заказ с нарушенными инвариантами отклоняется до записи в хранилище,
// а ошибка сохраняет каждую причину.
func TestCreateOrderInvariantViolation(t *testing.T) {
	f := newFixture(t)

	lines := []domain.OrderLine{{
		ID:        "line-1",
		ProductID: "product-1",
		Name:      "Cooking oil 1L",
		Qty:       2,
		Price:     decimal.NewFromInt(320),
	}}
	req := CheckoutRequest{BranchID: "branch-1", RequestID: "req-bad"}

	_, _, err := f.svc.createOrder(req, "+254712345678", lines, decimal.NewFromInt(999))
	if err == nil {
		t.Fatal("expected invariant violation error")
	}
	if !errors.Is(err, domain.ErrCustomerRequired) {
		t.Fatalf("expected ErrCustomerRequired in chain, got %v", err)
	}
	if !errors.Is(err, domain.ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch in chain, got %v", err)
	}

	if orders, _ := f.store.ListByStatus(domain.OrderStatusPending, 10); len(orders) != 0 {
		t.Fatalf("order persisted despite invariant violation: %d", len(orders))
	}
}
