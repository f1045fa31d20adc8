package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultRazorpayBaseURL = "https://api.razorpay.com/v1"

// RazorpayLogger defines the logging contract for Razorpay provider operations.
type RazorpayLogger func(ctx context.Context, event string, fields map[string]any)

// RazorpayProviderConfig configures the RazorpayProvider.
type RazorpayProviderConfig struct {
	KeyID      string
	KeySecret  string
	BaseURL    string
	HTTPClient *http.Client
	Logger     RazorpayLogger
	Clock      func() time.Time
}

// RazorpayProvider implements the Provider interface over the Razorpay REST API.
type RazorpayProvider struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
	logger    RazorpayLogger
	clock     func() time.Time
}

// NewRazorpayProvider constructs a Razorpay Provider using the given configuration.
func NewRazorpayProvider(cfg RazorpayProviderConfig) (*RazorpayProvider, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || keySecret == "" {
		return nil, errors.New("razorpay: key id and secret are required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultRazorpayBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &RazorpayProvider{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   baseURL,
		client:    client,
		logger:    logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// KeyID exposes the public key handed to the client SDK.
func (p *RazorpayProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.keyID
}

type razorpayOrder struct {
	ID         string            `json:"id"`
	Amount     int64             `json:"amount"`
	AmountPaid int64             `json:"amount_paid"`
	Currency   string            `json:"currency"`
	Receipt    string            `json:"receipt"`
	Status     string            `json:"status"`
	Notes      map[string]string `json:"notes"`
	CreatedAt  int64             `json:"created_at"`
}

type razorpayPayment struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Captured  bool   `json:"captured"`
	CreatedAt int64  `json:"created_at"`
}

// CreateCheckoutSession creates a Razorpay order for client-side checkout.
func (p *RazorpayProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("razorpay: provider is nil")
	}
	if req.Amount <= 0 {
		return CheckoutSession{}, errors.New("razorpay: order amount must be positive")
	}

	payload := map[string]any{
		"amount":   req.Amount,
		"currency": strings.ToUpper(defaultString(req.Currency, "INR")),
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		payload["receipt"] = key
	}
	if len(req.Metadata) > 0 {
		payload["notes"] = req.Metadata
	}

	var order razorpayOrder
	if err := p.do(ctx, http.MethodPost, "/orders", payload, &order); err != nil {
		return CheckoutSession{}, fmt.Errorf("razorpay: create order: %w", err)
	}

	p.logger(ctx, "payments.razorpay.order.created", map[string]any{
		"orderId":  order.ID,
		"amount":   order.Amount,
		"currency": order.Currency,
	})

	raw := map[string]any{
		"receipt": order.Receipt,
		"status":  order.Status,
	}
	return CheckoutSession{
		ID:        order.ID,
		Provider:  "razorpay",
		IntentID:  order.ID,
		ExpiresAt: p.clock().Add(30 * time.Minute),
		Raw:       raw,
	}, nil
}

// Refund refunds a captured payment, optionally partially.
func (p *RazorpayProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("razorpay: provider is nil")
	}

	payload := map[string]any{}
	if req.Amount != nil {
		payload["amount"] = *req.Amount
	}
	path := fmt.Sprintf("/payments/%s/refund", req.IntentID)
	var refund struct {
		ID        string `json:"id"`
		PaymentID string `json:"payment_id"`
	}
	if err := p.do(ctx, http.MethodPost, path, payload, &refund); err != nil {
		return PaymentDetails{}, fmt.Errorf("razorpay: refund payment: %w", err)
	}

	p.logger(ctx, "payments.razorpay.payment.refunded", map[string]any{
		"paymentId": req.IntentID,
		"refundId":  refund.ID,
	})
	return p.lookupByPaymentID(ctx, req.IntentID)
}

// LookupPayment fetches the current state of a Razorpay payment when a
// payment id is supplied, falling back to the order when only the order id
// is known.
func (p *RazorpayProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("razorpay: provider is nil")
	}
	if paymentID := strings.TrimSpace(req.PaymentID); paymentID != "" {
		return p.lookupByPaymentID(ctx, paymentID)
	}

	var order razorpayOrder
	path := fmt.Sprintf("/orders/%s", req.IntentID)
	if err := p.do(ctx, http.MethodGet, path, nil, &order); err != nil {
		return PaymentDetails{}, fmt.Errorf("razorpay: lookup order: %w", err)
	}

	status := StatusPending
	if order.Status == "paid" {
		status = StatusSucceeded
	}
	return PaymentDetails{
		Provider: "razorpay",
		IntentID: order.ID,
		Status:   status,
		Amount:   order.Amount,
		Currency: strings.ToUpper(order.Currency),
		Captured: order.AmountPaid >= order.Amount && order.Amount > 0,
	}, nil
}

// VerifySignature recomputes the checkout callback signature and compares it
// in constant time. The signed message is "<orderID>|<paymentID>".
func (p *RazorpayProvider) VerifySignature(orderID, paymentID, signature string) bool {
	if p == nil {
		return false
	}
	orderID = strings.TrimSpace(orderID)
	paymentID = strings.TrimSpace(paymentID)
	signature = strings.TrimSpace(signature)
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(p.keySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(signature))) == 1
}

func (p *RazorpayProvider) lookupByPaymentID(ctx context.Context, paymentID string) (PaymentDetails, error) {
	var payment razorpayPayment
	path := fmt.Sprintf("/payments/%s", paymentID)
	if err := p.do(ctx, http.MethodGet, path, nil, &payment); err != nil {
		return PaymentDetails{}, fmt.Errorf("razorpay: lookup payment: %w", err)
	}
	return razorpayPaymentDetails(payment), nil
}

func (p *RazorpayProvider) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(p.keyID, p.keySecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error.Description != "" {
			return fmt.Errorf("%s (%s)", apiErr.Error.Description, apiErr.Error.Code)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func razorpayPaymentDetails(payment razorpayPayment) PaymentDetails {
	status := StatusPending
	switch payment.Status {
	case "captured":
		status = StatusSucceeded
	case "failed":
		status = StatusFailed
	case "refunded":
		status = StatusRefunded
	}

	var capturedAt *time.Time
	if payment.Captured && payment.CreatedAt > 0 {
		t := time.Unix(payment.CreatedAt, 0).UTC()
		capturedAt = &t
	}
	return PaymentDetails{
		Provider:   "razorpay",
		IntentID:   payment.ID,
		Status:     status,
		Amount:     payment.Amount,
		Currency:   strings.ToUpper(payment.Currency),
		Captured:   payment.Captured,
		CapturedAt: capturedAt,
	}
}

var _ Provider = (*RazorpayProvider)(nil)
