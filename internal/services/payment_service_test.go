package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/aurelia-jewels/api/internal/domain"
	"github.com/aurelia-jewels/api/internal/payments"
)

type stubGateway struct {
	session  payments.CheckoutSession
	err      error
	requests []payments.CheckoutSessionRequest
}

func (g *stubGateway) CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return payments.CheckoutSession{}, g.err
	}
	return g.session, nil
}

type stubSignature struct {
	valid bool
	keyID string
}

func (s *stubSignature) VerifySignature(orderID, paymentID, signature string) bool {
	return s.valid
}

func (s *stubSignature) KeyID() string { return s.keyID }

type stubChain struct {
	receipt payments.ChainReceipt
	err     error
}

func (c *stubChain) VerifyTransaction(ctx context.Context, txHash string) (payments.ChainReceipt, error) {
	if c.err != nil {
		return payments.ChainReceipt{}, c.err
	}
	return c.receipt, nil
}

type stubRates struct {
	price float64
	err   error
}

func (r *stubRates) EthPriceInInr(ctx context.Context) (float64, error) {
	if r.err != nil {
		return 0, r.err
	}
	return r.price, nil
}

type stubRefunds struct {
	lookup         payments.PaymentDetails
	lookupErr      error
	refund         payments.PaymentDetails
	refundErr      error
	lookupRequests []payments.LookupRequest
	refundRequests []payments.RefundRequest
}

func (g *stubRefunds) LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error) {
	g.lookupRequests = append(g.lookupRequests, req)
	if g.lookupErr != nil {
		return payments.PaymentDetails{}, g.lookupErr
	}
	return g.lookup, nil
}

func (g *stubRefunds) Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error) {
	g.refundRequests = append(g.refundRequests, req)
	if g.refundErr != nil {
		return payments.PaymentDetails{}, g.refundErr
	}
	return g.refund, nil
}

type paymentFixture struct {
	orders    *fakeOrderRepository
	gateway   *stubGateway
	refunds   *stubRefunds
	signature *stubSignature
	chain     *stubChain
	rates     *stubRates
	service   PaymentService
}

func newPaymentForTest(t *testing.T, orders *fakeOrderRepository) *paymentFixture {
	t.Helper()
	f := &paymentFixture{
		orders: orders,
		gateway: &stubGateway{session: payments.CheckoutSession{
			ID:       "order_rzp_1",
			Provider: "razorpay",
		}},
		refunds: &stubRefunds{
			lookup: payments.PaymentDetails{IntentID: "pay_123", Status: payments.StatusSucceeded},
			refund: payments.PaymentDetails{IntentID: "pay_123", Status: payments.StatusRefunded},
		},
		signature: &stubSignature{valid: true, keyID: "rzp_test_key"},
		chain:     &stubChain{receipt: payments.ChainReceipt{TransactionHash: "0xabc", BlockNumber: 100, Confirmations: 12}},
		rates:     &stubRates{price: 250000},
	}
	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:    orders,
		Gateway:   f.gateway,
		Refunds:   f.refunds,
		Signature: f.signature,
		Chain:     f.chain,
		Rates:     f.rates,
		Clock:     fixedClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	f.service = svc
	return f
}

func pendingOrder(method domain.PaymentMethod) domain.Order {
	return domain.Order{
		ID:            "ord_1",
		OrderNumber:   "ORD2503011000000001",
		UserID:        "usr_1",
		Totals:        domain.ComputeTotals(1_000_000, 0),
		PaymentMethod: method,
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.OrderStatusPending,
	}
}

func owner() Actor { return Actor{UserID: "usr_1", Role: domain.RoleUser} }

func TestPaymentCreateProviderOrder(t *testing.T) {
	f := newPaymentForTest(t, newFakeOrderRepository(pendingOrder(domain.PaymentMethodCard)))

	result, err := f.service.CreateProviderOrder(context.Background(), PaymentOrderCommand{
		Actor:   owner(),
		OrderID: "ord_1",
	})
	if err != nil {
		t.Fatalf("CreateProviderOrder: %v", err)
	}
	if result.ProviderOrderID != "order_rzp_1" || result.Provider != "razorpay" {
		t.Fatalf("unexpected provider order: %+v", result)
	}
	if result.KeyID != "rzp_test_key" {
		t.Fatalf("expected gateway key id, got %s", result.KeyID)
	}
	if result.Amount != 1_180_000 || result.Currency != "INR" {
		t.Fatalf("unexpected amount/currency: %+v", result)
	}
	req := f.gateway.requests[0]
	if req.IdempotencyKey != "ord_1" {
		t.Fatalf("expected order id as idempotency key, got %s", req.IdempotencyKey)
	}
	if req.Metadata["orderNumber"] != "ORD2503011000000001" {
		t.Fatalf("expected order number in metadata, got %+v", req.Metadata)
	}
}

func TestPaymentCreateProviderOrderRejectsOffline(t *testing.T) {
	for _, method := range []domain.PaymentMethod{domain.PaymentMethodCOD, domain.PaymentMethodWallet} {
		f := newPaymentForTest(t, newFakeOrderRepository(pendingOrder(method)))
		_, err := f.service.CreateProviderOrder(context.Background(), PaymentOrderCommand{Actor: owner(), OrderID: "ord_1"})
		if !errors.Is(err, ErrPaymentInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", method, err)
		}
		if len(f.gateway.requests) != 0 {
			t.Fatalf("%s: gateway must not be called", method)
		}
	}
}

func TestPaymentCreateProviderOrderRejectsPaid(t *testing.T) {
	order := pendingOrder(domain.PaymentMethodCard)
	order.PaymentStatus = domain.PaymentStatusPaid
	f := newPaymentForTest(t, newFakeOrderRepository(order))

	_, err := f.service.CreateProviderOrder(context.Background(), PaymentOrderCommand{Actor: owner(), OrderID: "ord_1"})
	if !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected invalid input for paid order, got %v", err)
	}
}

func TestPaymentVerifyMarksPaidAndConfirmed(t *testing.T) {
	orders := newFakeOrderRepository(pendingOrder(domain.PaymentMethodCard))
	f := newPaymentForTest(t, orders)

	order, err := f.service.VerifyPayment(context.Background(), PaymentVerifyCommand{
		Actor:           owner(),
		OrderID:         "ord_1",
		ProviderOrderID: "order_rzp_1",
		PaymentID:       "pay_123",
		Signature:       "deadbeef",
	})
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", order.PaymentStatus)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", order.Status)
	}
	last := order.StatusHistory[len(order.StatusHistory)-1]
	if last.Note != "Payment verified" {
		t.Fatalf("expected verification note, got %q", last.Note)
	}
	if order.Payment == nil || order.Payment.TransactionID != "pay_123" || order.Payment.AmountPaid != 1_180_000 {
		t.Fatalf("unexpected capture: %+v", order.Payment)
	}

	stored, _ := orders.FindByID(context.Background(), "ord_1")
	if stored.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("capture must be persisted")
	}
}

func TestPaymentVerifyRejectsBadSignature(t *testing.T) {
	orders := newFakeOrderRepository(pendingOrder(domain.PaymentMethodCard))
	f := newPaymentForTest(t, orders)
	f.signature.valid = false

	_, err := f.service.VerifyPayment(context.Background(), PaymentVerifyCommand{
		Actor:           owner(),
		OrderID:         "ord_1",
		ProviderOrderID: "order_rzp_1",
		PaymentID:       "pay_123",
		Signature:       "forged",
	})
	if !errors.Is(err, ErrPaymentVerificationFailed) {
		t.Fatalf("expected verification failure, got %v", err)
	}

	stored, _ := orders.FindByID(context.Background(), "ord_1")
	if stored.PaymentStatus != domain.PaymentStatusPending || stored.Payment != nil {
		t.Fatalf("order must not be mutated on signature mismatch: %+v", stored)
	}
}

func TestPaymentVerifyIdempotent(t *testing.T) {
	order := pendingOrder(domain.PaymentMethodCard)
	order.PaymentStatus = domain.PaymentStatusPaid
	order.Status = domain.OrderStatusConfirmed
	paidAt := time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC)
	order.Payment = &domain.PaymentCapture{TransactionID: "pay_first", PaidAt: paidAt}
	orders := newFakeOrderRepository(order)
	f := newPaymentForTest(t, orders)

	got, err := f.service.VerifyPayment(context.Background(), PaymentVerifyCommand{
		Actor:           owner(),
		OrderID:         "ord_1",
		ProviderOrderID: "order_rzp_1",
		PaymentID:       "pay_second",
		Signature:       "deadbeef",
	})
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if got.Payment.TransactionID != "pay_first" {
		t.Fatalf("re-verification must not overwrite the original capture: %+v", got.Payment)
	}
}

func TestPaymentVerifyForbiddenForStranger(t *testing.T) {
	f := newPaymentForTest(t, newFakeOrderRepository(pendingOrder(domain.PaymentMethodCard)))

	_, err := f.service.VerifyPayment(context.Background(), PaymentVerifyCommand{
		Actor:           Actor{UserID: "usr_2", Role: domain.RoleUser},
		OrderID:         "ord_1",
		ProviderOrderID: "order_rzp_1",
		PaymentID:       "pay_123",
		Signature:       "deadbeef",
	})
	if !errors.Is(err, ErrPaymentForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestPaymentVerifyCrypto(t *testing.T) {
	orders := newFakeOrderRepository(pendingOrder(domain.PaymentMethodWallet))
	f := newPaymentForTest(t, orders)

	order, err := f.service.VerifyCryptoPayment(context.Background(), CryptoVerifyCommand{
		Actor:           owner(),
		OrderID:         "ord_1",
		TransactionHash: "0xabc",
	})
	if err != nil {
		t.Fatalf("VerifyCryptoPayment: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid || order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected paid/confirmed, got %s/%s", order.PaymentStatus, order.Status)
	}
	if order.Payment.Currency != "ETH" || order.Payment.BlockNumber != 100 || order.Payment.Confirmations != 12 {
		t.Fatalf("unexpected capture: %+v", order.Payment)
	}
}

func TestPaymentVerifyCryptoRequiresWalletMethod(t *testing.T) {
	orders := newFakeOrderRepository(pendingOrder(domain.PaymentMethodCard))
	f := newPaymentForTest(t, orders)

	_, err := f.service.VerifyCryptoPayment(context.Background(), CryptoVerifyCommand{
		Actor:           owner(),
		OrderID:         "ord_1",
		TransactionHash: "0xabc",
	})
	if !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected invalid input for card order, got %v", err)
	}

	stored, _ := orders.FindByID(context.Background(), "ord_1")
	if stored.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("order must be untouched")
	}
}

func TestPaymentVerifyCryptoMapsChainFailure(t *testing.T) {
	orders := newFakeOrderRepository(pendingOrder(domain.PaymentMethodWallet))
	f := newPaymentForTest(t, orders)
	f.chain.err = payments.ErrChainVerificationFailed

	_, err := f.service.VerifyCryptoPayment(context.Background(), CryptoVerifyCommand{
		Actor:           owner(),
		OrderID:         "ord_1",
		TransactionHash: "0xabc",
	})
	if !errors.Is(err, ErrPaymentVerificationFailed) {
		t.Fatalf("expected verification failure, got %v", err)
	}
}

func TestPaymentExchangeRate(t *testing.T) {
	f := newPaymentForTest(t, newFakeOrderRepository())

	quote, err := f.service.ExchangeRate(context.Background())
	if err != nil {
		t.Fatalf("ExchangeRate: %v", err)
	}
	if quote.EthPriceInInr != 250000 {
		t.Fatalf("unexpected price %f", quote.EthPriceInInr)
	}
	if quote.InrToEthRate != 1.0/250000 {
		t.Fatalf("unexpected inverse rate %f", quote.InrToEthRate)
	}

	f.rates.err = payments.ErrRateUnavailable
	if _, err := f.service.ExchangeRate(context.Background()); !errors.Is(err, ErrPaymentRateUnavailable) {
		t.Fatalf("expected rate unavailable, got %v", err)
	}
}

func paidOrder(method domain.PaymentMethod) domain.Order {
	order := pendingOrder(method)
	order.PaymentStatus = domain.PaymentStatusPaid
	order.Status = domain.OrderStatusConfirmed
	order.Payment = &domain.PaymentCapture{
		TransactionID: "pay_123",
		Currency:      "INR",
		AmountPaid:    order.Totals.Total,
		PaidAt:        time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC),
	}
	return order
}

func TestPaymentRefundMarksRefundedAndCancels(t *testing.T) {
	orders := newFakeOrderRepository(paidOrder(domain.PaymentMethodCard))
	f := newPaymentForTest(t, orders)

	order, err := f.service.Refund(context.Background(), PaymentRefundCommand{
		OrderID: "ord_1",
		Reason:  "customer returned the item",
	})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %s", order.PaymentStatus)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}
	last := order.StatusHistory[len(order.StatusHistory)-1]
	if last.Note != "Payment refunded" {
		t.Fatalf("expected refund note, got %q", last.Note)
	}

	if len(f.refunds.refundRequests) != 1 {
		t.Fatalf("expected one refund call, got %d", len(f.refunds.refundRequests))
	}
	req := f.refunds.refundRequests[0]
	if req.IntentID != "pay_123" || req.Reason != "customer returned the item" {
		t.Fatalf("unexpected refund request %#v", req)
	}
	if req.Amount == nil || *req.Amount != order.Totals.Total {
		t.Fatalf("expected full captured amount, got %v", req.Amount)
	}
	if req.IdempotencyKey != "ord_1:refund" {
		t.Fatalf("unexpected idempotency key %q", req.IdempotencyKey)
	}

	stored, _ := orders.FindByID(context.Background(), "ord_1")
	if stored.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("refund must be persisted")
	}
}

func TestPaymentRefundIdempotent(t *testing.T) {
	order := paidOrder(domain.PaymentMethodCard)
	order.PaymentStatus = domain.PaymentStatusRefunded
	order.Status = domain.OrderStatusCancelled
	f := newPaymentForTest(t, newFakeOrderRepository(order))

	got, err := f.service.Refund(context.Background(), PaymentRefundCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if got.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %s", got.PaymentStatus)
	}
	if len(f.refunds.lookupRequests) != 0 || len(f.refunds.refundRequests) != 0 {
		t.Fatalf("gateway must not be called for an already refunded order")
	}
}

func TestPaymentRefundReconcilesBeforeRefunding(t *testing.T) {
	orders := newFakeOrderRepository(paidOrder(domain.PaymentMethodCard))
	f := newPaymentForTest(t, orders)
	// The provider already shows the payment as refunded, so issuing another
	// refund would double-refund the customer.
	f.refunds.lookup = payments.PaymentDetails{IntentID: "pay_123", Status: payments.StatusRefunded}

	order, err := f.service.Refund(context.Background(), PaymentRefundCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %s", order.PaymentStatus)
	}
	if len(f.refunds.refundRequests) != 0 {
		t.Fatalf("refund must not be issued when the provider already refunded")
	}
}

func TestPaymentRefundRejectsOffline(t *testing.T) {
	for _, method := range []domain.PaymentMethod{domain.PaymentMethodCOD, domain.PaymentMethodWallet} {
		f := newPaymentForTest(t, newFakeOrderRepository(paidOrder(method)))
		_, err := f.service.Refund(context.Background(), PaymentRefundCommand{OrderID: "ord_1"})
		if !errors.Is(err, ErrPaymentInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", method, err)
		}
		if len(f.refunds.refundRequests) != 0 {
			t.Fatalf("%s: gateway must not be called", method)
		}
	}
}

func TestPaymentRefundRequiresCapturedPayment(t *testing.T) {
	f := newPaymentForTest(t, newFakeOrderRepository(pendingOrder(domain.PaymentMethodCard)))

	_, err := f.service.Refund(context.Background(), PaymentRefundCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected invalid input for pending order, got %v", err)
	}
}

func TestPaymentRefundUnconfirmedByProvider(t *testing.T) {
	orders := newFakeOrderRepository(paidOrder(domain.PaymentMethodCard))
	f := newPaymentForTest(t, orders)
	f.refunds.refund = payments.PaymentDetails{IntentID: "pay_123", Status: payments.StatusSucceeded}

	_, err := f.service.Refund(context.Background(), PaymentRefundCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrPaymentVerificationFailed) {
		t.Fatalf("expected verification failure, got %v", err)
	}

	stored, _ := orders.FindByID(context.Background(), "ord_1")
	if stored.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("order must not be mutated when the refund is unconfirmed: %+v", stored)
	}
}

func TestPaymentRefundWithoutGatewayConfigured(t *testing.T) {
	f := newPaymentForTest(t, newFakeOrderRepository(paidOrder(domain.PaymentMethodCard)))
	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:    f.orders,
		Gateway:   f.gateway,
		Signature: f.signature,
		Chain:     f.chain,
		Rates:     f.rates,
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}

	if _, err := svc.Refund(context.Background(), PaymentRefundCommand{OrderID: "ord_1"}); !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected invalid input without a refund gateway, got %v", err)
	}
}
