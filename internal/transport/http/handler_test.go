package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/maina2/MM-backend/internal/domain"
	"github.com/maina2/MM-backend/internal/gateway/mpesa"
	"github.com/maina2/MM-backend/internal/service/checkout"
	"github.com/maina2/MM-backend/internal/service/recon"
	"github.com/maina2/MM-backend/internal/storage/memory"
)

type fixture struct {
	server   *httptest.Server
	store    *memory.Store
	gateway  *mpesa.Mock
	products interface {
		Put(domain.Product)
		Get(string) (domain.Product, error)
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	products := memory.NewProductRepository()
	branches := memory.NewBranchRepository()
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()
	idempotency := memory.NewIdempotencyRepository()
	gateway := mpesa.NewMock()

	branches.Put(domain.Branch{ID: "branch-1", Name: "Westlands", Active: true})
	products.Put(domain.Product{
		ID:       "product-1",
		Name:     "Cooking oil 1L",
		BranchID: "branch-1",
		Price:    decimal.NewFromInt(320),
		Stock:    10,
	})

	reconSvc := recon.NewServiceWithoutMetrics(store, store, products, outbox, timeline, nil, nil)
	checkoutSvc := checkout.NewServiceWithoutMetrics(store, store, products, branches, gateway, reconSvc, outbox, timeline, nil)

	handler := NewHandler(checkoutSvc, reconSvc, store, store, idempotency, nil)
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)

	return &fixture{server: server, store: store, gateway: gateway, products: products}
}

func checkoutBody(requestID string) string {
	return fmt.Sprintf(`{
		"customer_id": "customer-1",
		"branch_id": "branch-1",
		"phone": "+254712345678",
		"request_id": %q,
		"latitude": -1.2673,
		"longitude": 36.8111,
		"items": [{"product_id": "product-1", "qty": 2, "price": "320"}]
	}`, requestID)
}

func callbackBody(correlationID string, resultCode int) string {
	metadata := ""
	if resultCode == 0 {
		metadata = `,
			"CallbackMetadata": {"Item": [{"Name": "MpesaReceiptNumber", "Value": "SLM7XQ1TRX"}]}`
	}
	return fmt.Sprintf(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": %q,
				"ResultCode": %d,
				"ResultDesc": "whatever"%s
			}
		}
	}`, correlationID, resultCode, metadata)
}

func (f *fixture) post(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, raw
}

func TestCheckoutEndpointSuccess(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/api/checkout", checkoutBody("req-1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d, body %s", resp.StatusCode, body)
	}

	var decoded struct {
		Order struct {
			ID            string `json:"id"`
			Status        string `json:"status"`
			PaymentStatus string `json:"payment_status"`
		} `json:"order"`
		PaymentStatus string `json:"payment_status"`
		Message       string `json:"message"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if decoded.Order.ID == "" {
		t.Fatal("order id missing in response")
	}
	if decoded.Order.Status != "pending" || decoded.PaymentStatus != "pending" {
		t.Fatalf("unexpected statuses: %+v", decoded)
	}
	if decoded.Message == "" {
		t.Fatal("message missing in response")
	}
}

func TestCheckoutEndpointIdempotentReplay(t *testing.T) {
	f := newFixture(t)

	first, firstBody := f.post(t, "/api/checkout", checkoutBody("req-1"))
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", first.StatusCode)
	}

	second, secondBody := f.post(t, "/api/checkout", checkoutBody("req-1"))
	if second.StatusCode != http.StatusCreated {
		t.Fatalf("replay status: %d, body %s", second.StatusCode, secondBody)
	}
	if string(firstBody) != string(secondBody) {
		t.Fatalf("replay body differs:\n%s\n%s", firstBody, secondBody)
	}

	// Второй запрос не дошёл ни до шлюза, ни до склада.
	if f.gateway.InitiateCalls != 1 {
		t.Fatalf("expected 1 gateway call, got %d", f.gateway.InitiateCalls)
	}
	product, _ := f.products.Get("product-1")
	if product.Stock != 8 {
		t.Fatalf("stock reserved twice: %d", product.Stock)
	}
}

func TestCheckoutEndpointRequestIDReuseConflict(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.post(t, "/api/checkout", checkoutBody("req-1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	altered := strings.Replace(checkoutBody("req-1"), `"qty": 2`, `"qty": 3`, 1)
	conflict, body := f.post(t, "/api/checkout", altered)
	if conflict.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d, body %s", conflict.StatusCode, body)
	}
}

func TestCheckoutEndpointValidationErrors(t *testing.T) {
	f := newFixture(t)

	cases := map[string]struct {
		body       string
		wantStatus int
	}{
		"invalid json": {
			body:       `{"customer_id":`,
			wantStatus: http.StatusBadRequest,
		},
		"empty cart": {
			body:       `{"customer_id":"c1","branch_id":"branch-1","phone":"+254712345678","items":[]}`,
			wantStatus: http.StatusBadRequest,
		},
		"stale price": {
			body:       strings.Replace(checkoutBody(""), `"price": "320"`, `"price": "300"`, 1),
			wantStatus: http.StatusBadRequest,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp, body := f.post(t, "/api/checkout", tc.body)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("expected %d, got %d, body %s", tc.wantStatus, resp.StatusCode, body)
			}
		})
	}
}

func TestCheckoutEndpointGatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.InitiateErr = fmt.Errorf("%w: connect timeout", domain.ErrGatewayUnavailable)

	resp, body := f.post(t, "/api/checkout", checkoutBody("req-1"))
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d, body %s", resp.StatusCode, body)
	}
}

func TestCallbackEndpointSuccess(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/api/checkout", checkoutBody("req-1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("checkout failed: %d", resp.StatusCode)
	}
	var created struct {
		Order struct {
			ID string `json:"id"`
		} `json:"order"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("invalid checkout response: %v", err)
	}

	payment, err := f.store.GetByOrderID(created.Order.ID)
	if err != nil {
		t.Fatalf("payment not found: %v", err)
	}

	cbResp, cbBody := f.post(t, "/api/payments/callback", callbackBody(payment.CheckoutRequestID, 0))
	if cbResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d, body %s", cbResp.StatusCode, cbBody)
	}
	if !strings.Contains(string(cbBody), "Callback received successfully") {
		t.Fatalf("unexpected ack body: %s", cbBody)
	}

	order, _ := f.store.Get(created.Order.ID)
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("order not confirmed: %s", order.Status)
	}

	// Повторная доставка того же callback снова получает 200.
	replay, _ := f.post(t, "/api/payments/callback", callbackBody(payment.CheckoutRequestID, 0))
	if replay.StatusCode != http.StatusOK {
		t.Fatalf("replay expected 200, got %d", replay.StatusCode)
	}
}

func TestCallbackEndpointErrors(t *testing.T) {
	f := newFixture(t)

	malformed, _ := f.post(t, "/api/payments/callback", `{"Body":`)
	if malformed.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", malformed.StatusCode)
	}

	unknown, _ := f.post(t, "/api/payments/callback", callbackBody("ws_CO_missing", 0))
	if unknown.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", unknown.StatusCode)
	}
}

func TestGetOrderEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/api/checkout", checkoutBody("req-1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("checkout failed: %d", resp.StatusCode)
	}
	var created struct {
		Order struct {
			ID string `json:"id"`
		} `json:"order"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("invalid checkout response: %v", err)
	}

	getResp, getBody := f.get(t, "/api/orders/"+created.Order.ID)
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}

	var decoded struct {
		Order struct {
			ID    string `json:"id"`
			Items []struct {
				ProductID string `json:"product_id"`
			} `json:"items"`
		} `json:"order"`
		Payment *struct {
			Status string `json:"status"`
		} `json:"payment"`
	}
	if err := json.Unmarshal(getBody, &decoded); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if decoded.Order.ID != created.Order.ID {
		t.Fatalf("unexpected order id: %s", decoded.Order.ID)
	}
	if len(decoded.Order.Items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(decoded.Order.Items))
	}
	if decoded.Payment == nil || decoded.Payment.Status != "pending" {
		t.Fatalf("payment state missing: %+v", decoded.Payment)
	}

	missing, _ := f.get(t, "/api/orders/missing-id")
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, raw
}
