package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/aurelia-jewels/api/internal/domain"
	"github.com/aurelia-jewels/api/internal/payments"
	"github.com/aurelia-jewels/api/internal/repositories"
)

const (
	paymentVerifiedNote    = "Payment verified"
	paymentRefundedNote    = "Payment refunded"
	defaultPaymentCurrency = "INR"
	cryptoCurrency         = "ETH"
)

var (
	// ErrPaymentInvalidInput indicates validation failures for payment operations.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentOrderNotFound indicates the referenced order does not exist.
	ErrPaymentOrderNotFound = errors.New("payment: order not found")
	// ErrPaymentForbidden indicates the actor does not own the order.
	ErrPaymentForbidden = errors.New("payment: forbidden")
	// ErrPaymentVerificationFailed covers signature mismatches and failed
	// on-chain checks. The order is never mutated on this error.
	ErrPaymentVerificationFailed = errors.New("payment: verification failed")
	// ErrPaymentRateUnavailable indicates the exchange rate feed is down.
	ErrPaymentRateUnavailable = errors.New("payment: exchange rate unavailable")
)

// CheckoutGateway creates provider-side orders ahead of client checkout.
type CheckoutGateway interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// RefundGateway reconciles and returns captured payments.
type RefundGateway interface {
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// SignatureVerifier validates gateway callback signatures.
type SignatureVerifier interface {
	VerifySignature(orderID, paymentID, signature string) bool
	KeyID() string
}

// RateQuoter supplies the current ETH price in INR.
type RateQuoter interface {
	EthPriceInInr(ctx context.Context) (float64, error)
}

// PaymentServiceDeps bundles collaborators required to construct a PaymentService.
type PaymentServiceDeps struct {
	Orders  repositories.OrderRepository
	Gateway CheckoutGateway
	// Refunds is optional: without it the refund operation reports that
	// refunds are not configured.
	Refunds   RefundGateway
	Signature SignatureVerifier
	Chain     payments.ChainVerifier
	Rates     RateQuoter
	Clock     func() time.Time
}

type paymentService struct {
	orders    repositories.OrderRepository
	gateway   CheckoutGateway
	refunds   RefundGateway
	signature SignatureVerifier
	chain     payments.ChainVerifier
	rates     RateQuoter
	clock     func() time.Time
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: checkout gateway is required")
	}
	if deps.Signature == nil {
		return nil, errors.New("payment service: signature verifier is required")
	}
	if deps.Chain == nil {
		return nil, errors.New("payment service: chain verifier is required")
	}
	if deps.Rates == nil {
		return nil, errors.New("payment service: rate quoter is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &paymentService{
		orders:    deps.Orders,
		gateway:   deps.Gateway,
		refunds:   deps.Refunds,
		signature: deps.Signature,
		chain:     deps.Chain,
		rates:     deps.Rates,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *paymentService) CreateProviderOrder(ctx context.Context, cmd PaymentOrderCommand) (PaymentOrder, error) {
	order, err := s.loadOwnedOrder(ctx, cmd.Actor, cmd.OrderID)
	if err != nil {
		return PaymentOrder{}, err
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return PaymentOrder{}, fmt.Errorf("%w: order is not awaiting payment", ErrPaymentInvalidInput)
	}

	switch order.PaymentMethod {
	case domain.PaymentMethodCOD, domain.PaymentMethodWallet:
		return PaymentOrder{}, fmt.Errorf("%w: payment method %s needs no provider order", ErrPaymentInvalidInput, order.PaymentMethod)
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = defaultPaymentCurrency
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.PaymentContext{Currency: currency}, payments.CheckoutSessionRequest{
		Amount:         order.Totals.Total,
		Currency:       currency,
		IdempotencyKey: order.ID,
		Metadata: map[string]string{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
		},
	})
	if err != nil {
		return PaymentOrder{}, fmt.Errorf("create provider order: %w", err)
	}

	return PaymentOrder{
		Provider:        session.Provider,
		ProviderOrderID: session.ID,
		KeyID:           s.signature.KeyID(),
		Amount:          order.Totals.Total,
		Currency:        currency,
	}, nil
}

func (s *paymentService) VerifyPayment(ctx context.Context, cmd PaymentVerifyCommand) (domain.Order, error) {
	if strings.TrimSpace(cmd.ProviderOrderID) == "" || strings.TrimSpace(cmd.PaymentID) == "" || strings.TrimSpace(cmd.Signature) == "" {
		return domain.Order{}, fmt.Errorf("%w: order id, payment id and signature are required", ErrPaymentInvalidInput)
	}

	order, err := s.loadOwnedOrder(ctx, cmd.Actor, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}

	if !s.signature.VerifySignature(cmd.ProviderOrderID, cmd.PaymentID, cmd.Signature) {
		return domain.Order{}, fmt.Errorf("%w: signature mismatch", ErrPaymentVerificationFailed)
	}

	// Re-verifying an already paid order with a valid payload is a no-op.
	if order.PaymentStatus == domain.PaymentStatusPaid {
		return order, nil
	}

	now := s.clock()
	order.Payment = &domain.PaymentCapture{
		TransactionID: strings.TrimSpace(cmd.PaymentID),
		Currency:      defaultPaymentCurrency,
		AmountPaid:    order.Totals.Total,
		PaidAt:        now,
	}
	s.markPaid(&order, now)

	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}
	return order, nil
}

func (s *paymentService) VerifyCryptoPayment(ctx context.Context, cmd CryptoVerifyCommand) (domain.Order, error) {
	txHash := strings.TrimSpace(cmd.TransactionHash)
	if txHash == "" {
		return domain.Order{}, fmt.Errorf("%w: transaction hash is required", ErrPaymentInvalidInput)
	}

	order, err := s.loadOwnedOrder(ctx, cmd.Actor, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.PaymentMethod != domain.PaymentMethodWallet {
		return domain.Order{}, fmt.Errorf("%w: order was not placed with wallet payment", ErrPaymentInvalidInput)
	}

	receipt, err := s.chain.VerifyTransaction(ctx, txHash)
	if err != nil {
		if errors.Is(err, payments.ErrChainVerificationFailed) {
			return domain.Order{}, fmt.Errorf("%w: %v", ErrPaymentVerificationFailed, err)
		}
		return domain.Order{}, err
	}

	if order.PaymentStatus == domain.PaymentStatusPaid {
		return order, nil
	}

	now := s.clock()
	order.Payment = &domain.PaymentCapture{
		TransactionID: receipt.TransactionHash,
		Currency:      cryptoCurrency,
		AmountPaid:    order.Totals.Total,
		PaidAt:        now,
		BlockNumber:   receipt.BlockNumber,
		Confirmations: receipt.Confirmations,
	}
	s.markPaid(&order, now)

	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}
	return order, nil
}

func (s *paymentService) Refund(ctx context.Context, cmd PaymentRefundCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if s.refunds == nil {
		return domain.Order{}, fmt.Errorf("%w: refunds are not configured", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}
	if order.PaymentStatus == domain.PaymentStatusRefunded {
		return order, nil
	}
	if order.PaymentStatus != domain.PaymentStatusPaid || order.Payment == nil {
		return domain.Order{}, fmt.Errorf("%w: order has no captured payment", ErrPaymentInvalidInput)
	}
	switch order.PaymentMethod {
	case domain.PaymentMethodCOD, domain.PaymentMethodWallet:
		return domain.Order{}, fmt.Errorf("%w: %s payments are refunded outside the gateway", ErrPaymentInvalidInput, order.PaymentMethod)
	}

	paymentCtx := payments.PaymentContext{Currency: order.Payment.Currency}

	// Reconcile before refunding: a retried request after a partial failure
	// must not double-refund.
	details, err := s.refunds.LookupPayment(ctx, paymentCtx, payments.LookupRequest{
		PaymentID: order.Payment.TransactionID,
		IntentID:  order.Payment.TransactionID,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("lookup payment: %w", err)
	}
	if details.Status != payments.StatusRefunded {
		amount := order.Payment.AmountPaid
		details, err = s.refunds.Refund(ctx, paymentCtx, payments.RefundRequest{
			IntentID:       order.Payment.TransactionID,
			Amount:         &amount,
			Reason:         strings.TrimSpace(cmd.Reason),
			IdempotencyKey: order.ID + ":refund",
			Metadata:       map[string]string{"orderId": order.ID},
		})
		if err != nil {
			return domain.Order{}, fmt.Errorf("refund payment: %w", err)
		}
	}
	if details.Status != payments.StatusRefunded {
		return domain.Order{}, fmt.Errorf("%w: provider did not confirm the refund", ErrPaymentVerificationFailed)
	}

	now := s.clock()
	order.PaymentStatus = domain.PaymentStatusRefunded
	if order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
		order.Status = domain.OrderStatusCancelled
		order.StatusHistory = append(order.StatusHistory, domain.OrderStatusChange{
			Status: domain.OrderStatusCancelled,
			Note:   paymentRefundedNote,
			At:     now,
		})
	}
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}
	return order, nil
}

func (s *paymentService) ExchangeRate(ctx context.Context) (ExchangeRateQuote, error) {
	price, err := s.rates.EthPriceInInr(ctx)
	if err != nil {
		return ExchangeRateQuote{}, fmt.Errorf("%w: %v", ErrPaymentRateUnavailable, err)
	}
	return ExchangeRateQuote{
		EthPriceInInr: price,
		InrToEthRate:  1 / price,
		FetchedAt:     s.clock(),
	}, nil
}

// markPaid records the capture and moves a pending order to confirmed.
func (s *paymentService) markPaid(order *domain.Order, now time.Time) {
	order.PaymentStatus = domain.PaymentStatusPaid
	if order.Status.CanTransitionTo(domain.OrderStatusConfirmed) {
		order.Status = domain.OrderStatusConfirmed
		order.StatusHistory = append(order.StatusHistory, domain.OrderStatusChange{
			Status: domain.OrderStatusConfirmed,
			Note:   paymentVerifiedNote,
			At:     now,
		})
	}
	order.UpdatedAt = now
}

func (s *paymentService) loadOwnedOrder(ctx context.Context, actor Actor, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}
	if !actor.IsAdmin() && order.UserID != actor.UserID {
		return domain.Order{}, ErrPaymentForbidden
	}
	return order, nil
}

func (s *paymentService) mapOrderError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return ErrPaymentOrderNotFound
	}
	return err
}
