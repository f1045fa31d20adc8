package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/aurelia-jewels/api/internal/domain"
	"github.com/aurelia-jewels/api/internal/payments"
	"github.com/aurelia-jewels/api/internal/platform/auth"
	"github.com/aurelia-jewels/api/internal/platform/config"
	"github.com/aurelia-jewels/api/internal/repositories"
	"github.com/aurelia-jewels/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog  services.CatalogService
	Cart     services.CartService
	Orders   services.OrderService
	Payments services.PaymentService
	Reviews  services.ReviewService
	Users    services.UserService
	Counters services.CounterService
	System   services.SystemService
}

// Container wires repositories, services, and shared authentication
// infrastructure for runtime use.
type Container struct {
	Config        config.Config
	Repositories  repositories.Registry
	Services      Services
	Tokens        *auth.TokenService
	Authenticator *auth.Authenticator
}

type containerOptions struct {
	clock       func() time.Time
	logger      *zap.Logger
	orderEvents services.OrderEventPublisher
	lowStock    services.LowStockPublisher
	catalog     services.CatalogEventPublisher
	gateway     services.CheckoutGateway
	signature   services.SignatureVerifier
	chain       payments.ChainVerifier
	rates       services.RateQuoter
	build       services.BuildInfo
}

// Option customises container assembly.
type Option func(*containerOptions)

// WithClock overrides the time source used by every service.
func WithClock(now func() time.Time) Option {
	return func(o *containerOptions) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithLogger supplies the logger used by payment providers for wire-level events.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithOrderEvents publishes order lifecycle events through the given publisher.
func WithOrderEvents(pub services.OrderEventPublisher) Option {
	return func(o *containerOptions) {
		o.orderEvents = pub
	}
}

// WithLowStockEvents publishes replenishment alerts through the given publisher.
func WithLowStockEvents(pub services.LowStockPublisher) Option {
	return func(o *containerOptions) {
		o.lowStock = pub
	}
}

// WithCatalogEvents publishes catalog change events through the given publisher.
func WithCatalogEvents(pub services.CatalogEventPublisher) Option {
	return func(o *containerOptions) {
		o.catalog = pub
	}
}

// WithCheckoutGateway overrides the provider-order gateway, primarily for tests.
func WithCheckoutGateway(gateway services.CheckoutGateway) Option {
	return func(o *containerOptions) {
		o.gateway = gateway
	}
}

// WithSignatureVerifier overrides the checkout callback signature verifier.
func WithSignatureVerifier(verifier services.SignatureVerifier) Option {
	return func(o *containerOptions) {
		o.signature = verifier
	}
}

// WithChainVerifier overrides the on-chain transaction verifier.
func WithChainVerifier(verifier payments.ChainVerifier) Option {
	return func(o *containerOptions) {
		o.chain = verifier
	}
}

// WithRateQuoter overrides the crypto exchange rate source.
func WithRateQuoter(rates services.RateQuoter) Option {
	return func(o *containerOptions) {
		o.rates = rates
	}
}

// WithBuildInfo records version metadata surfaced by the health report.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// NewContainer constructs the runtime dependency graph on top of the supplied
// repository registry. Event publishers and payment collaborators that need
// external clients are injected through options; anything left unset falls
// back to the configuration-driven default.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.build.Environment == "" {
		options.build.Environment = cfg.Environment
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, auth.WithTokenTTL(cfg.Auth.TokenTTL))
	if err != nil {
		return nil, fmt.Errorf("build token service: %w", err)
	}

	svc, err := buildServices(cfg, reg, tokens, options)
	if err != nil {
		return nil, err
	}

	usersRepo := reg.Users()
	authn, err := auth.NewAuthenticator(tokens, func(ctx context.Context, userID string) (domain.User, error) {
		return usersRepo.FindByID(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("build authenticator: %w", err)
	}

	return &Container{
		Config:        cfg,
		Repositories:  reg,
		Services:      svc,
		Tokens:        tokens,
		Authenticator: authn,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, tokens *auth.TokenService, options containerOptions) (Services, error) {
	var svc Services

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      options.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:   reg.Products(),
		Categories: reg.Categories(),
		Clock:      options.clock,
		Events:     options.catalog,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:    reg.Carts(),
		Products: reg.Products(),
		Clock:    options.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   reg.Orders(),
		Products: reg.Products(),
		Carts:    reg.Carts(),
		Counters: counterSvc,
		Clock:    options.clock,
		Events:   options.orderEvents,
		LowStock: options.lowStock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentSvc, err := buildPaymentService(cfg, reg, options)
	if err != nil {
		return Services{}, err
	}
	svc.Payments = paymentSvc

	sanitizer := bluemonday.StrictPolicy()
	reviewSvc, err := services.NewReviewService(services.ReviewServiceDeps{
		Reviews:   reg.Reviews(),
		Products:  reg.Products(),
		Clock:     options.clock,
		Sanitizer: sanitizer.Sanitize,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build review service: %w", err)
	}
	svc.Reviews = reviewSvc

	userSvc, err := services.NewUserService(services.UserServiceDeps{
		Users:      reg.Users(),
		Products:   reg.Products(),
		Tokens:     tokens,
		Clock:      options.clock,
		BcryptCost: cfg.Auth.BcryptCost,
		SessionTTL: cfg.Auth.TokenTTL,
		ResetTTL:   cfg.Auth.ResetTokenTTL,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build user service: %w", err)
	}
	svc.Users = userSvc

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            options.clock,
		Build:            options.build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

// buildPaymentService assembles the payment collaborators from configuration.
// Razorpay credentials are required unless the gateway and signature verifier
// are both injected; deployments without checkout configured should not start.
func buildPaymentService(cfg config.Config, reg repositories.Registry, options containerOptions) (services.PaymentService, error) {
	gateway := options.gateway
	signature := options.signature
	var refunds services.RefundGateway
	if rg, ok := gateway.(services.RefundGateway); ok {
		refunds = rg
	}
	if gateway == nil || signature == nil {
		razorpay, err := payments.NewRazorpayProvider(payments.RazorpayProviderConfig{
			KeyID:     cfg.Razorpay.KeyID,
			KeySecret: cfg.Razorpay.KeySecret,
			BaseURL:   cfg.Razorpay.BaseURL,
			Logger:    razorpayLogger(options.logger),
			Clock:     options.clock,
		})
		if err != nil {
			return nil, fmt.Errorf("build razorpay provider: %w", err)
		}
		if signature == nil {
			signature = razorpay
		}
		if gateway == nil {
			providers := map[string]payments.Provider{"razorpay": razorpay}
			managerOpts := []payments.ManagerOption{
				payments.WithDefaultProvider("razorpay"),
				payments.WithCurrencyRoutes(map[string]string{"INR": "razorpay"}),
			}
			if cfg.Stripe.APIKey != "" {
				stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
					APIKey: cfg.Stripe.APIKey,
					Clock:  options.clock,
				})
				if err != nil {
					return nil, fmt.Errorf("build stripe provider: %w", err)
				}
				providers["stripe"] = stripe
				managerOpts = append(managerOpts, payments.WithCurrencyRoutes(map[string]string{"USD": "stripe", "EUR": "stripe"}))
			}
			manager, err := payments.NewManager(providers, managerOpts...)
			if err != nil {
				return nil, fmt.Errorf("build payment manager: %w", err)
			}
			gateway = manager
			refunds = manager
		}
	}

	chain := options.chain
	if chain == nil {
		switch cfg.Chain.Mode {
		case config.ChainModeRPC:
			verifier, err := payments.NewRPCVerifier(payments.RPCVerifierConfig{
				Endpoint:  cfg.Chain.RPCURL,
				Recipient: cfg.Chain.RecipientAddress,
			})
			if err != nil {
				return nil, fmt.Errorf("build chain verifier: %w", err)
			}
			chain = verifier
		default:
			chain = payments.NewStubVerifier(cfg.Chain.StubDelay)
		}
	}

	rates := options.rates
	if rates == nil {
		rates = payments.NewExchangeRateClient(payments.ExchangeRateClientConfig{
			URL:      exchangeRateURL(cfg.ExchangeRate.BaseURL),
			CacheTTL: cfg.ExchangeRate.CacheTTL,
			Clock:    options.clock,
		})
	}

	svc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:    reg.Orders(),
		Gateway:   gateway,
		Refunds:   refunds,
		Signature: signature,
		Chain:     chain,
		Rates:     rates,
		Clock:     options.clock,
	})
	if err != nil {
		return nil, fmt.Errorf("build payment service: %w", err)
	}
	return svc, nil
}

// exchangeRateURL expands a CoinGecko API base into the ETH/INR simple-price
// endpoint the rate client polls.
func exchangeRateURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	return base + "/simple/price?ids=ethereum&vs_currencies=inr"
}

func razorpayLogger(logger *zap.Logger) payments.RazorpayLogger {
	if logger == nil {
		return nil
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}
