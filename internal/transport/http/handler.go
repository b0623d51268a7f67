package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/maina2/MM-backend/internal/domain"
	"github.com/maina2/MM-backend/internal/service/checkout"
	"github.com/maina2/MM-backend/internal/service/recon"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	maxBodyBytes          = 1 << 20
)

// callbackAck — тело ответа шлюзу на принятый callback.
var callbackAck = []byte(`{"ResultDesc":"Callback received successfully"}`)

// Handler связывает HTTP API с сервисами checkout и reconciliation.
type Handler struct {
	checkout    *checkout.Service
	recon       *recon.Service
	orders      domain.OrderRepository
	payments    domain.PaymentRepository
	idempotency domain.IdempotencyRepository
	logger      *log.Entry
	ttl         time.Duration
}

// NewHandler создаёт HTTP handler. idempotency может быть nil, тогда
// защита от повторного checkout по request_id отключена.
func NewHandler(
	checkoutSvc *checkout.Service,
	reconSvc *recon.Service,
	orders domain.OrderRepository,
	payments domain.PaymentRepository,
	idempotency domain.IdempotencyRepository,
	logger *log.Entry,
) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	return &Handler{
		checkout:    checkoutSvc,
		recon:       reconSvc,
		orders:      orders,
		payments:    payments,
		idempotency: idempotency,
		logger:      logger,
		ttl:         defaultIdempotencyTTL,
	}
}

// Routes возвращает mux со всеми маршрутами API.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/checkout", h.handleCheckout)
	mux.HandleFunc("POST /api/payments/callback", h.handleCallback)
	mux.HandleFunc("GET /api/orders/{id}", h.handleGetOrder)
	return mux
}

type checkoutItemRequest struct {
	ProductID string          `json:"product_id"`
	Qty       int32           `json:"qty"`
	Price     decimal.Decimal `json:"price"`
}

type checkoutRequest struct {
	CustomerID string                `json:"customer_id"`
	BranchID   string                `json:"branch_id"`
	Phone      string                `json:"phone"`
	RequestID  string                `json:"request_id"`
	Latitude   float64               `json:"latitude"`
	Longitude  float64               `json:"longitude"`
	Items      []checkoutItemRequest `json:"items"`
}

type orderLineResponse struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Qty       int32           `json:"qty"`
	Price     decimal.Decimal `json:"price"`
}

type orderResponse struct {
	ID            string              `json:"id"`
	CustomerID    string              `json:"customer_id"`
	BranchID      string              `json:"branch_id"`
	Status        string              `json:"status"`
	PaymentStatus string              `json:"payment_status"`
	TotalAmount   decimal.Decimal     `json:"total_amount"`
	Items         []orderLineResponse `json:"items"`
	CreatedAt     time.Time           `json:"created_at"`
}

type checkoutResponse struct {
	Order         orderResponse `json:"order"`
	PaymentStatus string        `json:"payment_status"`
	Message       string        `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if done := h.beginIdempotent(w, req.RequestID, body); done {
		return
	}

	items := make([]checkout.CheckoutItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, checkout.CheckoutItem{
			ProductID:     item.ProductID,
			Qty:           item.Qty,
			ExpectedPrice: item.Price,
		})
	}

	result, err := h.checkout.CreateOrder(r.Context(), checkout.CheckoutRequest{
		CustomerID: req.CustomerID,
		BranchID:   req.BranchID,
		Phone:      req.Phone,
		RequestID:  req.RequestID,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		Items:      items,
	})
	if err != nil {
		status := checkoutErrorStatus(err)
		h.finishIdempotent(req.RequestID, status, errorBody(err.Error()), false)
		h.writeError(w, status, err.Error())
		return
	}

	response := checkoutResponse{
		Order:         toOrderResponse(result.Order),
		PaymentStatus: string(result.PaymentStatus),
		Message:       result.Message,
	}
	payload, err := json.Marshal(response)
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal checkout response")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.finishIdempotent(req.RequestID, http.StatusCreated, payload, true)
	h.writeRaw(w, http.StatusCreated, payload)
}

// beginIdempotent регистрирует запрос по ключу request_id. Возвращает true,
// если ответ уже отправлен (replay сохранённого ответа или конфликт).
func (h *Handler) beginIdempotent(w http.ResponseWriter, key string, body []byte) bool {
	if h.idempotency == nil || key == "" {
		return false
	}

	hash := requestHash(body)
	record, err := h.idempotency.CreateProcessing(key, hash, time.Now().UTC().Add(h.ttl))
	if err == nil {
		return false
	}
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		h.logger.WithError(err).WithField("request_id", key).Warn("idempotency lookup failed")
		return false
	}

	if record.RequestHash != hash {
		h.writeError(w, http.StatusConflict, "request_id reused with a different payload")
		return true
	}
	if record.Status == domain.IdempotencyStatusProcessing {
		h.writeError(w, http.StatusConflict, "request is already being processed")
		return true
	}

	h.writeRaw(w, record.HTTPStatus, record.ResponseBody)
	return true
}

func (h *Handler) finishIdempotent(key string, status int, body []byte, success bool) {
	if h.idempotency == nil || key == "" {
		return
	}

	var err error
	if success {
		err = h.idempotency.MarkDone(key, body, status)
	} else {
		err = h.idempotency.MarkFailed(key, body, status)
	}
	if err != nil {
		h.logger.WithError(err).WithField("request_id", key).Warn("failed to store idempotent response")
	}
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	callback, err := recon.ParseCallback(body)
	if err != nil {
		h.logger.WithError(err).Warn("malformed payment callback")
		h.writeError(w, http.StatusBadRequest, "malformed callback payload")
		return
	}

	if err := h.recon.HandleCallback(callback); err != nil {
		if errors.Is(err, domain.ErrUnknownCallbackReference) {
			h.writeError(w, http.StatusNotFound, "unknown callback reference")
			return
		}
		h.logger.WithError(err).WithField("correlation_id", callback.CorrelationID).Error("callback processing failed")
		h.writeError(w, http.StatusInternalServerError, "callback processing failed")
		return
	}

	h.writeRaw(w, http.StatusOK, callbackAck)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.WithError(err).Error("failed to load order")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	response := struct {
		Order   orderResponse `json:"order"`
		Payment *struct {
			Status        string `json:"status"`
			TransactionID string `json:"transaction_id,omitempty"`
			ErrorMessage  string `json:"error_message,omitempty"`
		} `json:"payment,omitempty"`
	}{Order: toOrderResponse(order)}

	if payment, err := h.payments.GetByOrderID(order.ID); err == nil {
		response.Payment = &struct {
			Status        string `json:"status"`
			TransactionID string `json:"transaction_id,omitempty"`
			ErrorMessage  string `json:"error_message,omitempty"`
		}{
			Status:        string(payment.Status),
			TransactionID: payment.TransactionID,
			ErrorMessage:  payment.ErrorMessage,
		}
	}

	h.writeJSON(w, http.StatusOK, response)
}

func checkoutErrorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrOrderAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGatewayUnavailable),
		errors.Is(err, domain.ErrGatewayRejected),
		errors.Is(err, domain.ErrGatewayConfig):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrCustomerRequired),
		errors.Is(err, domain.ErrBranchRequired),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrPhoneInvalid),
		errors.Is(err, domain.ErrBranchNotFound),
		errors.Is(err, domain.ErrBranchInactive),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrStaleCartPrice),
		errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderLineResponse, 0, len(order.Items))
	for _, line := range order.Items {
		items = append(items, orderLineResponse{
			ProductID: line.ProductID,
			Name:      line.Name,
			Qty:       line.Qty,
			Price:     line.Price,
		})
	}
	return orderResponse{
		ID:            order.ID,
		CustomerID:    order.CustomerID,
		BranchID:      order.BranchID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		TotalAmount:   order.TotalAmount,
		Items:         items,
		CreatedAt:     order.CreatedAt,
	}
}

func requestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func errorBody(message string) []byte {
	payload, _ := json.Marshal(errorResponse{Error: message})
	return payload
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeRaw(w, status, errorBody(message))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal response")
		h.writeRaw(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	h.writeRaw(w, status, body)
}

func (h *Handler) writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	if status <= 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
