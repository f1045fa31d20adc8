package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/aurelia-jewels/api/internal/di"
	"github.com/aurelia-jewels/api/internal/domain"
	"github.com/aurelia-jewels/api/internal/handlers"
	"github.com/aurelia-jewels/api/internal/platform/auth"
	"github.com/aurelia-jewels/api/internal/platform/config"
	"github.com/aurelia-jewels/api/internal/platform/events"
	pfirestore "github.com/aurelia-jewels/api/internal/platform/firestore"
	"github.com/aurelia-jewels/api/internal/platform/idempotency"
	"github.com/aurelia-jewels/api/internal/platform/observability"
	"github.com/aurelia-jewels/api/internal/platform/secrets"
	platformstorage "github.com/aurelia-jewels/api/internal/platform/storage"
	firestoreRepo "github.com/aurelia-jewels/api/internal/repositories/firestore"
	"github.com/aurelia-jewels/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	if cfg.Chain.Mode == config.ChainModeStub && cfg.Environment == "production" {
		logger.Fatal("stub chain verifier is not allowed in production")
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	containerOpts := []di.Option{
		di.WithLogger(logger.Named("payments")),
		di.WithBuildInfo(buildInfo),
	}

	var pubsubClient *pubsub.Client
	if cfg.Events.ProjectID != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()

		orderTopic := pubsubClient.Topic(cfg.Events.OrderTopic)
		publisher, err := events.NewPubSubPublisher(events.PubSubPublisherConfig{
			Orders:   orderTopic,
			LowStock: pubsubClient.Topic(cfg.Events.LowStockTopic),
			Catalog:  orderTopic,
		})
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
		containerOpts = append(containerOpts,
			di.WithOrderEvents(publisher),
			di.WithLowStockEvents(publisher),
			di.WithCatalogEvents(publisher),
		)
	} else {
		logger.Warn("events: no pubsub project configured; domain events disabled")
	}

	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to assemble dependencies", zap.Error(err))
	}

	var imageStore handlers.ImageStore
	if cfg.Storage.AssetsBucket != "" {
		storageClient, err := gcs.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		uploader, err := platformstorage.NewUploader(storageClient, cfg.Storage.AssetsBucket)
		if err != nil {
			logger.Fatal("failed to initialise image uploader", zap.Error(err))
		}
		imageStore = uploader
	} else {
		logger.Warn("storage: no assets bucket configured; image uploads disabled")
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	authn := container.Authenticator
	svc := container.Services

	productHandlers := handlers.NewProductHandlers(authn, svc.Catalog)
	categoryHandlers := handlers.NewCategoryHandlers(authn, svc.Catalog)
	cartHandlers := handlers.NewCartHandlers(authn, svc.Cart)
	orderHandlers := handlers.NewOrderHandlers(authn, svc.Orders)
	paymentHandlers := handlers.NewPaymentHandlers(authn, svc.Payments)
	authHandlers := handlers.NewAuthHandlers(authn, svc.Users,
		handlers.WithLoginRateLimit(cfg.RateLimits.LoginAttempts, cfg.RateLimits.LoginWindow))
	userHandlers := handlers.NewUserHandlers(authn, svc.Users)
	wishlistHandlers := handlers.NewWishlistHandlers(authn, svc.Users)
	reviewHandlers := handlers.NewReviewHandlers(authn, svc.Reviews)
	uploadHandlers := handlers.NewUploadHandlers(authn, imageStore)
	systemHandlers := handlers.NewSystemHandlers(svc.System)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Firestore.ProjectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
		idempotencyMiddleware,
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithSystemHandlers(systemHandlers),
		handlers.WithProductRoutes(withAdminRoutes(authn, productHandlers.Routes, productHandlers.AdminRoutes)),
		handlers.WithCategoryRoutes(withAdminRoutes(authn, categoryHandlers.Routes, categoryHandlers.AdminRoutes)),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(withAdminRoutes(authn, orderHandlers.Routes, orderHandlers.AdminRoutes)),
		handlers.WithPaymentRoutes(withAdminRoutes(authn, paymentHandlers.Routes, paymentHandlers.AdminRoutes)),
		handlers.WithAuthRoutes(authHandlers.Routes),
		handlers.WithUserRoutes(withAdminRoutes(authn, userHandlers.Routes, userHandlers.AdminRoutes)),
		handlers.WithWishlistRoutes(wishlistHandlers.Routes),
		handlers.WithReviewRoutes(withAdminRoutes(authn, reviewHandlers.Routes, reviewHandlers.AdminRoutes)),
		handlers.WithUploadRoutes(adminOnly(authn, uploadHandlers.Routes)),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
}

// withAdminRoutes mounts the public registrar and nests the admin registrar
// behind the admin-role gate on the same subtree.
func withAdminRoutes(authn *auth.Authenticator, public, admin handlers.RouteRegistrar) handlers.RouteRegistrar {
	return func(r chi.Router) {
		public(r)
		r.Group(func(g chi.Router) {
			if authn != nil {
				g.Use(authn.RequireAuth(domain.RoleAdmin))
			}
			admin(g)
		})
	}
}

// adminOnly gates an entire registrar behind the admin role.
func adminOnly(authn *auth.Authenticator, registrar handlers.RouteRegistrar) handlers.RouteRegistrar {
	return func(r chi.Router) {
		if authn != nil {
			r.Use(authn.RequireAuth(domain.RoleAdmin))
		}
		registrar(r)
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(lowercaseKeys(projectMap)))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(lookup("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets the process refuses to start without.
// The Stripe key is only required when the deployment opts into Stripe routing.
func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Auth.JWTSecret",
		"Razorpay.KeySecret",
	}
	if env != nil && strings.TrimSpace(env["API_STRIPE_API_KEY"]) != "" {
		required = append(required, "Stripe.APIKey")
	}
	return required
}

func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		pins[ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

func lowercaseKeys(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[strings.ToLower(key)] = value
	}
	return out
}
