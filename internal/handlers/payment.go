package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aurelia-jewels/api/internal/platform/auth"
	"github.com/aurelia-jewels/api/internal/platform/httpx"
	"github.com/aurelia-jewels/api/internal/services"
)

const maxPaymentBodySize = 16 * 1024

// PaymentHandlers serves provider order creation, payment verification and
// the exchange rate quote.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{
		authn:    authn,
		payments: payments,
	}
}

// Routes registers the /payment endpoints. The exchange rate quote is
// public; everything else requires authentication.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/exchange-rate", h.exchangeRate)

	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth())
		}
		r.Post("/create-order", h.createProviderOrder)
		r.Post("/verify", h.verifyPayment)
		r.Post("/verify-crypto", h.verifyCryptoPayment)
	})
}

// AdminRoutes registers the refund endpoint. Callers must gate these behind
// admin authentication.
func (h *PaymentHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderID}/refund", h.refundPayment)
}

func (h *PaymentHandlers) createProviderOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req paymentOrderRequest
	if err := decodeBody(r, maxPaymentBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.payments.CreateProviderOrder(ctx, services.PaymentOrderCommand{
		Actor:    actorFromIdentity(identity),
		OrderID:  strings.TrimSpace(req.OrderID),
		Currency: strings.TrimSpace(req.Currency),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"payment_order": map[string]any{
			"provider":          order.Provider,
			"provider_order_id": order.ProviderOrderID,
			"key_id":            order.KeyID,
			"amount":            order.Amount,
			"currency":          order.Currency,
		},
	})
}

func (h *PaymentHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req paymentVerifyRequest
	if err := decodeBody(r, maxPaymentBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.payments.VerifyPayment(ctx, services.PaymentVerifyCommand{
		Actor:           actorFromIdentity(identity),
		OrderID:         strings.TrimSpace(req.OrderID),
		ProviderOrderID: strings.TrimSpace(req.ProviderOrderID),
		PaymentID:       strings.TrimSpace(req.PaymentID),
		Signature:       strings.TrimSpace(req.Signature),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *PaymentHandlers) verifyCryptoPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req cryptoVerifyRequest
	if err := decodeBody(r, maxPaymentBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.payments.VerifyCryptoPayment(ctx, services.CryptoVerifyCommand{
		Actor:           actorFromIdentity(identity),
		OrderID:         strings.TrimSpace(req.OrderID),
		TransactionHash: strings.TrimSpace(req.TransactionHash),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *PaymentHandlers) refundPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req paymentRefundRequest
	if err := decodeBody(r, maxPaymentBodySize, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.payments.Refund(ctx, services.PaymentRefundCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *PaymentHandlers) exchangeRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	quote, err := h.payments.ExchangeRate(ctx)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"rate": map[string]any{
			"eth_price_inr": quote.EthPriceInInr,
			"inr_to_eth":    quote.InrToEthRate,
			"as_of":         formatTime(quote.FetchedAt),
		},
	})
}

type paymentOrderRequest struct {
	OrderID  string `json:"order_id"`
	Currency string `json:"currency"`
}

type paymentVerifyRequest struct {
	OrderID         string `json:"order_id"`
	ProviderOrderID string `json:"razorpay_order_id"`
	PaymentID       string `json:"razorpay_payment_id"`
	Signature       string `json:"razorpay_signature"`
}

type cryptoVerifyRequest struct {
	OrderID         string `json:"order_id"`
	TransactionHash string `json:"transaction_hash"`
}

type paymentRefundRequest struct {
	Reason string `json:"reason"`
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "order does not belong to the caller", http.StatusForbidden))
	case errors.Is(err, services.ErrPaymentVerificationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", "payment could not be verified", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentRateUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("exchange_rate_unavailable", "exchange rate is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		writeServiceError(ctx, w, err, "payment_error")
	}
}
