package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/maina2/MM-backend/internal/domain"
)

const (
	defaultBaseURL     = "https://sandbox.safaricom.co.ke"
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
	defaultRetryDelay  = 2 * time.Second
	defaultRetryCap    = 8 * time.Second

	// tokenSafetyMargin вычитается из expires_in, чтобы не использовать
	// токен на грани истечения.
	tokenSafetyMargin = 300 * time.Second

	tokenPath   = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath = "/mpesa/stkpush/v1/processrequest"

	transactionType = "CustomerPayBillOnline"

	// ResponseCodeAccepted — шлюз принял запрос в обработку (ещё не оплата).
	ResponseCodeAccepted = "0"
)

// Config — параметры подключения к платёжному шлюзу.
type Config struct {
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	BaseURL        string
	// CallbackURL — адрес, на который шлюз доставит результат платежа.
	CallbackURL string
	// Timeout — ограничение одной HTTP-попытки.
	Timeout time.Duration
	// MaxAttempts — число попыток при транспортных сбоях.
	MaxAttempts int
	// RetryBaseDelay и RetryMaxDelay задают capped exponential backoff.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Validate проверяет обязательные поля конфигурации. Отсутствие credentials
// или callback URL — фатальная ошибка, ловим её на старте процесса.
func (c Config) Validate() error {
	if c.ConsumerKey == "" || c.ConsumerSecret == "" || c.Shortcode == "" || c.Passkey == "" {
		return fmt.Errorf("%w: missing credentials", domain.ErrGatewayConfig)
	}
	if c.CallbackURL == "" {
		return fmt.Errorf("%w: callback url is required", domain.ErrGatewayConfig)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = defaultRetryDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryCap
	}
	return c
}

// Client — клиент платёжного шлюза с кэшем bearer-токена.
// Обновление токена single-flight: при промахе кэша credential exchange
// выполняет ровно одна горутина, остальные ждут её результат.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *log.Entry
	now        func() time.Time

	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time
	refresh     singleflight.Group
}

// New создаёт клиент шлюза, проверяя конфигурацию.
func New(cfg Config, logger *log.Entry) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.New().WithField("component", "mpesa-client")
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		now:        time.Now,
	}, nil
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

// AccessToken возвращает валидный bearer-токен, обновляя его при необходимости.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, expiry := c.token, c.tokenExpiry
	c.mu.RUnlock()

	if token != "" && c.now().Before(expiry) {
		return token, nil
	}

	v, err, _ := c.refresh.Do("token", func() (interface{}, error) {
		// Перепроверяем кэш: предыдущий полёт мог уже обновить токен.
		c.mu.RLock()
		cached, cachedExpiry := c.token, c.tokenExpiry
		c.mu.RUnlock()
		if cached != "" && c.now().Before(cachedExpiry) {
			return cached, nil
		}
		return c.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	credentials := base64.StdEncoding.EncodeToString(
		[]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))

	var resp tokenResponse
	err := c.doWithRetry(ctx, "access_token", func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Basic "+credentials)
		return c.httpClient.Do(req)
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", &Error{Kind: KindRejected, Description: "gateway returned empty access token"}
	}

	expiresIn, convErr := resp.ExpiresIn.Int64()
	if convErr != nil || expiresIn <= 0 {
		expiresIn = 3600
	}
	ttl := time.Duration(expiresIn)*time.Second - tokenSafetyMargin
	if ttl <= 0 {
		ttl = time.Duration(expiresIn) * time.Second
	}

	c.mu.Lock()
	c.token = resp.AccessToken
	c.tokenExpiry = c.now().Add(ttl)
	c.mu.Unlock()

	c.logger.WithField("expires_in", expiresIn).Info("access token obtained")
	return resp.AccessToken, nil
}

// stkPushRequest — исходящий запрос инициации в формате шлюза.
type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// InitiatePayment строит подписанный STK push запрос и выполняет его
// с ограниченным числом повторов. Транспортные сбои и 5xx повторяются,
// бизнес-отказ шлюза терминален сразу.
func (c *Client) InitiatePayment(ctx context.Context, req domain.PaymentInitiation) (domain.PaymentInitiated, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return domain.PaymentInitiated{}, err
	}

	timestamp := c.now().Format("20060102150405")
	password := c.password(timestamp)
	phone := strings.TrimPrefix(req.Phone, "+")
	// Шлюз принимает сумму только в целых единицах; дробная часть отбрасывается.
	amount := req.Amount.IntPart()

	payload := stkPushRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            fmt.Sprintf("%d", amount),
		PartyA:            phone,
		PartyB:            c.cfg.Shortcode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.Description,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.PaymentInitiated{}, fmt.Errorf("marshal stk push request: %w", err)
	}

	var resp stkPushResponse
	err = c.doWithRetry(ctx, "stk_push", func(ctx context.Context) (*http.Response, error) {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+stkPushPath, bytes.NewReader(body))
		if reqErr != nil {
			return nil, reqErr
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(httpReq)
	}, &resp)
	if err != nil {
		return domain.PaymentInitiated{}, err
	}

	if resp.ResponseCode != ResponseCodeAccepted {
		return domain.PaymentInitiated{}, &Error{
			Kind:        KindRejected,
			Code:        resp.ResponseCode,
			Description: resp.ResponseDescription,
		}
	}
	if resp.CheckoutRequestID == "" {
		return domain.PaymentInitiated{}, &Error{
			Kind:        KindRejected,
			Code:        resp.ResponseCode,
			Description: "gateway accepted request without checkout request id",
		}
	}

	c.logger.WithFields(log.Fields{
		"order_id":            req.OrderID,
		"checkout_request_id": resp.CheckoutRequestID,
	}).Info("stk push accepted")

	return domain.PaymentInitiated{
		CorrelationID: resp.CheckoutRequestID,
		ResponseCode:  resp.ResponseCode,
		Description:   resp.ResponseDescription,
	}, nil
}

// password собирает одноразовый пароль из shortcode, passkey и timestamp.
// Значение никогда не пишется в логи.
func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString(
		[]byte(c.cfg.Shortcode + c.cfg.Passkey + timestamp))
}

// doWithRetry выполняет HTTP-вызов с повторами при транспортных сбоях и 5xx.
// 4xx от шлюза — терминальный бизнес-отказ, без повторов.
func (c *Client) doWithRetry(ctx context.Context, operation string, call func(context.Context) (*http.Response, error), out interface{}) error {
	var lastErr error
	delay := c.cfg.RetryBaseDelay

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		resp, err := call(ctx)
		if err == nil {
			done, callErr := c.consumeResponse(resp, out)
			if done {
				return callErr
			}
			lastErr = callErr
		} else {
			lastErr = &Error{Kind: KindTransport, Description: "request failed", Err: err}
		}

		if attempt >= c.cfg.MaxAttempts {
			break
		}

		c.logger.WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay,
		}).WithError(lastErr).Warn("gateway call failed, retrying")

		select {
		case <-ctx.Done():
			return &Error{Kind: KindTransport, Description: "request cancelled", Err: ctx.Err()}
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.RetryMaxDelay {
			delay = c.cfg.RetryMaxDelay
		}
	}

	c.logger.WithFields(log.Fields{
		"operation": operation,
		"attempts":  c.cfg.MaxAttempts,
	}).WithError(lastErr).Error("gateway call failed after all attempts")
	return lastErr
}

// consumeResponse разбирает ответ шлюза. Возвращает done=false для
// повторяемых статусов (5xx), done=true для финального исхода.
func (c *Client) consumeResponse(resp *http.Response, out interface{}) (bool, error) {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, &Error{Kind: KindTransport, StatusCode: resp.StatusCode, Description: "read response body", Err: err}
	}

	switch {
	case resp.StatusCode >= 500:
		return false, &Error{
			Kind:        KindTransport,
			StatusCode:  resp.StatusCode,
			Description: strings.TrimSpace(string(raw)),
		}
	case resp.StatusCode >= 400:
		gwErr := &Error{Kind: KindRejected, StatusCode: resp.StatusCode}
		var rejection struct {
			ErrorCode    string `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		}
		if json.Unmarshal(raw, &rejection) == nil && rejection.ErrorMessage != "" {
			gwErr.Code = rejection.ErrorCode
			gwErr.Description = rejection.ErrorMessage
		} else {
			gwErr.Description = strings.TrimSpace(string(raw))
		}
		return true, gwErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return false, &Error{Kind: KindTransport, StatusCode: resp.StatusCode, Description: "decode response", Err: err}
	}
	return true, nil
}

var _ domain.PaymentGateway = (*Client)(nil)
