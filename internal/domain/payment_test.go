package domain_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/maina2/MM-backend/internal/domain"
)

func makePayment() domain.Payment {
	return domain.Payment{
		ID:          "payment-1",
		OrderID:     "order-1",
		Amount:      decimal.RequireFromString("500.00"),
		PhoneNumber: "+254712345678",
		Status:      domain.PaymentStatusPending,
	}
}

func TestPaymentValidate_Ok(t *testing.T) {
	payment := makePayment()
	if errs := payment.Validate(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestPaymentValidate_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(p *domain.Payment)
		want error
	}{
		{
			name: "no order id",
			mut:  func(p *domain.Payment) { p.OrderID = "" },
			want: domain.ErrOrderIDRequired,
		},
		{
			name: "negative amount",
			mut:  func(p *domain.Payment) { p.Amount = decimal.RequireFromString("-1") },
			want: domain.ErrPaymentAmountNegative,
		},
		{
			name: "bad phone",
			mut:  func(p *domain.Payment) { p.PhoneNumber = "0712345678" },
			want: domain.ErrPhoneInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payment := makePayment()
			tc.mut(&payment)
			errs := payment.Validate()
			found := false
			for _, err := range errs {
				if errors.Is(err, tc.want) {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %v in %v", tc.want, errs)
			}
		})
	}
}

func TestPaymentTerminal(t *testing.T) {
	payment := makePayment()
	if payment.Terminal() {
		t.Fatal("pending payment must not be terminal")
	}
	for _, status := range []domain.PaymentStatus{
		domain.PaymentStatusSuccessful,
		domain.PaymentStatusFailed,
		domain.PaymentStatusCancelled,
	} {
		payment.Status = status
		if !payment.Terminal() {
			t.Fatalf("status %s must be terminal", status)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "already canonical", raw: "+254712345678", want: "+254712345678"},
		{name: "without plus", raw: "254712345678", want: "+254712345678"},
		{name: "with spaces", raw: "  254712345678 ", want: "+254712345678"},
		{name: "local format", raw: "0712345678", wantErr: true},
		{name: "too short", raw: "+25471234567", wantErr: true},
		{name: "not a kenyan mobile", raw: "+254812345678", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := domain.NormalizePhone(tc.raw)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrPhoneInvalid) {
					t.Fatalf("expected ErrPhoneInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
