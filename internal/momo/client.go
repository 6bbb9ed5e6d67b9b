package momo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"storefront-orders/internal/models"
	"storefront-orders/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCreateURL     = "https://test-payment.momo.vn/v2/gateway/api/create"
	DefaultQueryURL      = "https://test-payment.momo.vn/v2/gateway/api/query"
	DefaultSandboxPayURL = "https://test-payment.momo.vn/v2/gateway/pay"
	DefaultTimeout       = 10 * time.Second

	requestTypeCaptureWallet = "captureWallet"
	maxResponseBytes         = 1 << 20
)

// Config holds the provider credentials and endpoints
type Config struct {
	PartnerCode   string
	AccessKey     string
	SecretKey     string
	CreateURL     string
	QueryURL      string
	RedirectURL   string
	IPNURL        string
	SandboxPayURL string
	Timeout       time.Duration
	Lang          string
}

// Configured reports whether signed requests can be sent to the provider
func (c Config) Configured() bool {
	return c.PartnerCode != "" && c.AccessKey != "" && c.SecretKey != ""
}

func (c Config) withDefaults() Config {
	if c.CreateURL == "" {
		c.CreateURL = DefaultCreateURL
	}
	if c.QueryURL == "" {
		c.QueryURL = DefaultQueryURL
	}
	if c.SandboxPayURL == "" {
		c.SandboxPayURL = DefaultSandboxPayURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Lang == "" {
		c.Lang = "en"
	}
	return c
}

// PaymentLink is the redirect target returned for an order
type PaymentLink struct {
	PayURL    string         `json:"payUrl"`
	RequestID string         `json:"requestId,omitempty"`
	Fallback  bool           `json:"fallback"`
	Raw       map[string]any `json:"raw,omitempty"`
}

// ProviderStatus is the provider's answer to a status query
type ProviderStatus struct {
	OrderCode  string         `json:"orderId"`
	TransID    string         `json:"transId,omitempty"`
	Amount     int64          `json:"amount"`
	ResultCode int            `json:"resultCode"`
	Message    string         `json:"message"`
	Outcome    Outcome        `json:"outcome"`
	Raw        map[string]any `json:"raw,omitempty"`
}

// Client talks to the MoMo wallet payment API
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	queries singleflight.Group
	logger  *zap.Logger
}

// NewClient creates a new MoMo client
func NewClient(cfg Config, httpClient *http.Client) *Client {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := util.ComponentLogger("momo")

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "momo",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var rejected *models.ProviderRejectedError
			return err == nil || errors.As(err, &rejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Payment provider circuit changed state",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{cfg: cfg, http: httpClient, breaker: breaker, logger: logger}
}

// Config returns the effective configuration
func (c *Client) Config() Config {
	return c.cfg
}

type createRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IpnURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

type createResponse struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	ResponseTime int64  `json:"responseTime"`
	Message      string `json:"message"`
	ResultCode   int    `json:"resultCode"`
	PayURL       string `json:"payUrl"`
	Deeplink     string `json:"deeplink,omitempty"`
	QrCodeURL    string `json:"qrCodeUrl,omitempty"`
}

// Amount converts an order total to the provider's integer amount
func Amount(total float64) int64 {
	return decimal.NewFromFloat(total).Round(0).IntPart()
}

// CreatePaymentLink requests a signed payment link for an order. Without
// credentials it returns the sandbox pay URL and marks the link as a fallback.
func (c *Client) CreatePaymentLink(ctx context.Context, order *models.Order) (*PaymentLink, error) {
	amount := Amount(order.TotalAmount)

	if !c.cfg.Configured() {
		c.logger.Warn("Payment provider not configured, returning sandbox pay URL",
			zap.String("order_code", order.OrderCode))
		q := url.Values{}
		q.Set("orderId", order.OrderCode)
		q.Set("amount", strconv.FormatInt(amount, 10))
		return &PaymentLink{PayURL: c.cfg.SandboxPayURL + "?" + q.Encode(), Fallback: true}, nil
	}

	req := createRequest{
		PartnerCode: c.cfg.PartnerCode,
		AccessKey:   c.cfg.AccessKey,
		RequestID:   c.cfg.PartnerCode + "-" + uuid.NewString(),
		Amount:      amount,
		OrderID:     order.OrderCode,
		OrderInfo:   "Payment for order " + order.OrderCode,
		RedirectURL: c.cfg.RedirectURL,
		IpnURL:      c.cfg.IPNURL,
		ExtraData:   "",
		RequestType: requestTypeCaptureWallet,
		Lang:        c.cfg.Lang,
	}
	req.Signature = SignFields(c.cfg.SecretKey, map[string]string{
		"accessKey":   req.AccessKey,
		"amount":      strconv.FormatInt(req.Amount, 10),
		"extraData":   req.ExtraData,
		"ipnUrl":      req.IpnURL,
		"orderId":     req.OrderID,
		"orderInfo":   req.OrderInfo,
		"partnerCode": req.PartnerCode,
		"redirectUrl": req.RedirectURL,
		"requestId":   req.RequestID,
		"requestType": req.RequestType,
	})

	body, err := c.post(ctx, "create", c.cfg.CreateURL, req)
	if err != nil {
		return nil, err
	}

	var resp createResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &models.UpstreamUnavailableError{Op: "create", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	raw := rawMap(body)

	if resp.ResultCode != ResultSuccess {
		if _, transient := transientCreateCodes[resp.ResultCode]; transient {
			return nil, &models.UpstreamUnavailableError{Op: "create", Err: fmt.Errorf("code %d: %s", resp.ResultCode, resp.Message)}
		}
		return nil, &models.ProviderRejectedError{ResultCode: resp.ResultCode, Message: resp.Message}
	}
	if resp.PayURL == "" {
		return nil, &models.UpstreamUnavailableError{Op: "create", Err: errors.New("response carried no payUrl")}
	}

	return &PaymentLink{PayURL: resp.PayURL, RequestID: req.RequestID, Raw: raw}, nil
}

type queryRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	OrderID     string `json:"orderId"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

type queryResponse struct {
	PartnerCode  string      `json:"partnerCode"`
	OrderID      string      `json:"orderId"`
	RequestID    string      `json:"requestId"`
	ExtraData    string      `json:"extraData"`
	Amount       int64       `json:"amount"`
	TransID      json.Number `json:"transId"`
	PayType      string      `json:"payType"`
	ResultCode   int         `json:"resultCode"`
	Message      string      `json:"message"`
	ResponseTime int64       `json:"responseTime"`
}

// QueryStatus asks the provider for the payment status of an order code.
// Concurrent queries for the same code share one upstream call, which is
// bounded by the client timeout rather than by any single caller's context.
func (c *Client) QueryStatus(ctx context.Context, orderCode string) (*ProviderStatus, error) {
	if !c.cfg.Configured() {
		return nil, &models.UpstreamUnavailableError{Op: "query", Err: errors.New("payment provider is not configured")}
	}

	shared := context.WithoutCancel(ctx)
	ch := c.queries.DoChan(orderCode, func() (interface{}, error) {
		return c.queryStatus(shared, orderCode)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("status query for %s abandoned: %w", orderCode, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ProviderStatus), nil
	}
}

func (c *Client) queryStatus(ctx context.Context, orderCode string) (*ProviderStatus, error) {
	req := queryRequest{
		PartnerCode: c.cfg.PartnerCode,
		RequestID:   c.cfg.PartnerCode + "-" + uuid.NewString(),
		OrderID:     orderCode,
		Lang:        c.cfg.Lang,
	}
	req.Signature = SignFields(c.cfg.SecretKey, map[string]string{
		"accessKey":   c.cfg.AccessKey,
		"orderId":     req.OrderID,
		"partnerCode": req.PartnerCode,
		"requestId":   req.RequestID,
	})

	body, err := c.post(ctx, "query", c.cfg.QueryURL, req)
	if err != nil {
		return nil, err
	}

	var resp queryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &models.UpstreamUnavailableError{Op: "query", Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	outcome, known := MapResultCode(resp.ResultCode)
	if !known {
		c.logger.Warn("Unrecognised payment result code",
			zap.String("order_code", orderCode),
			zap.Int("result_code", resp.ResultCode),
			zap.String("operation", "query"))
	}

	return &ProviderStatus{
		OrderCode:  orderCode,
		TransID:    resp.TransID.String(),
		Amount:     resp.Amount,
		ResultCode: resp.ResultCode,
		Message:    resp.Message,
		Outcome:    outcome,
		Raw:        rawMap(body),
	}, nil
}

func (c *Client) post(ctx context.Context, op, endpoint string, payload interface{}) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("provider answered with status %d", resp.StatusCode)
		}
		return data, nil
	})
	util.PaymentProviderLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, classify(op, err)
	}
	return body, nil
}

func classify(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &models.UpstreamUnavailableError{Op: op, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &models.UpstreamTimeoutError{Op: op, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &models.UpstreamTimeoutError{Op: op, Err: err}
	}
	return &models.UpstreamUnavailableError{Op: op, Err: err}
}

func rawMap(body []byte) map[string]any {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil
	}
	return raw
}
