package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maina2/MM-backend/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:            "order-1",
		CustomerID:    "customer-1",
		BranchID:      "branch-1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.OrderPaymentPending,
		TotalAmount:   decimal.RequireFromString("500.00"),
		Items: []domain.OrderLine{
			{
				ID:        "line-1",
				ProductID: "product-1",
				Name:      "Maize Flour 2kg",
				Qty:       5,
				Price:     decimal.RequireFromString("100.00"),
				CreatedAt: now,
			},
		},
		RequestID: "req-1",
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{
			name: "no customer",
			mut: func(o *domain.Order) {
				o.CustomerID = ""
			},
		},
		{
			name: "no branch",
			mut: func(o *domain.Order) {
				o.BranchID = ""
			},
		},
		{
			name: "no items",
			mut: func(o *domain.Order) {
				o.Items = nil
			},
		},
		{
			name: "qty invalid",
			mut: func(o *domain.Order) {
				o.Items[0].Qty = 0
			},
		},
		{
			name: "price invalid",
			mut: func(o *domain.Order) {
				o.Items[0].Price = decimal.RequireFromString("-5")
			},
		},
		{
			name: "amount mismatch",
			mut: func(o *domain.Order) {
				o.TotalAmount = decimal.RequireFromString("999.99")
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			if errs := order.ValidateInvariants(); len(errs) == 0 {
				t.Fatalf("expected validation errors, got none")
			}
		})
	}
}

func TestOrderTotalMatchesSnapshotPrices(t *testing.T) {
	order := makeOrder()
	order.Items = append(order.Items, domain.OrderLine{
		ID:        "line-2",
		ProductID: "product-2",
		Name:      "Cooking Oil 1L",
		Qty:       3,
		Price:     decimal.RequireFromString("249.50"),
	})
	order.TotalAmount = decimal.RequireFromString("1248.50") // 5*100 + 3*249.50

	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected total to match line sum, got %v", errs)
	}
}

func TestOrderCanTransitionTo(t *testing.T) {
	cases := []struct {
		from    domain.OrderStatus
		to      domain.OrderStatus
		allowed bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusProcessing, true},
		{domain.OrderStatusPending, domain.OrderStatusCancelled, true},
		{domain.OrderStatusPending, domain.OrderStatusShipped, false},
		{domain.OrderStatusProcessing, domain.OrderStatusShipped, true},
		{domain.OrderStatusProcessing, domain.OrderStatusCancelled, false},
		{domain.OrderStatusShipped, domain.OrderStatusDelivered, true},
		{domain.OrderStatusDelivered, domain.OrderStatusCancelled, false},
		{domain.OrderStatusCancelled, domain.OrderStatusProcessing, false},
	}

	for _, tc := range cases {
		order := makeOrder()
		order.Status = tc.from
		if got := order.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("transition %s -> %s: got %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestOrderTerminal(t *testing.T) {
	order := makeOrder()
	if order.Terminal() {
		t.Fatal("pending order must not be terminal")
	}
	order.Status = domain.OrderStatusCancelled
	if !order.Terminal() {
		t.Fatal("cancelled order must be terminal")
	}
	order.Status = domain.OrderStatusDelivered
	if !order.Terminal() {
		t.Fatal("delivered order must be terminal")
	}
}
