package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shopsite/fulfillment/internal/di"
	"github.com/shopsite/fulfillment/internal/handlers"
	"github.com/shopsite/fulfillment/internal/platform/auth"
	"github.com/shopsite/fulfillment/internal/platform/config"
	"github.com/shopsite/fulfillment/internal/platform/idempotency"
	"github.com/shopsite/fulfillment/internal/platform/observability"
	"github.com/shopsite/fulfillment/internal/platform/secrets"
	"github.com/shopsite/fulfillment/internal/repositories"
	"github.com/shopsite/fulfillment/internal/services"
)

const closeTimeout = 5 * time.Second

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	development, _ := strconv.ParseBool(strings.TrimSpace(envValues["FULFILLMENT_LOG_DEVELOPMENT"]))
	baseLogger, err := observability.NewLogger(observability.LoggerOptions{
		Level:       envValues["FULFILLMENT_LOG_LEVEL"],
		Development: development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

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

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	tracerProvider, shutdownTracing, err := observability.SetupTracing(ctx, cfg.Telemetry, buildInfo.Version)
	if err != nil {
		logger.Fatal("failed to initialise tracing", zap.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracer shutdown error", zap.Error(err))
		}
	}()

	containerOpts := []di.Option{di.WithLogger(baseLogger), di.WithBuildInfo(buildInfo)}
	if fetcher.HasRemote() {
		containerOpts = append(containerOpts, di.WithDependencyChecks(secretManagerCheck(fetcher)))
	}
	container, err := di.NewContainer(ctx, cfg, containerOpts...)
	if err != nil {
		logger.Fatal("failed to initialise container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	authenticator, err := newAuthenticator(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise authenticator", zap.Error(err))
	}

	idempotencyLogger := logger.Named("idempotency")
	idempotencyMiddleware := idempotency.Middleware(
		container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(idempotencyLogger),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			idempotency.Sweep(cleanupCtx, container.Idempotency, idempotency.SweepOptions{
				Interval:  cfg.Idempotency.CleanupInterval,
				BatchSize: cfg.Idempotency.CleanupBatchSize,
				Logger:    idempotencyLogger,
			})
		}()
	}

	svc := container.Services
	orderHandlers := handlers.NewOrderHandlers(svc.Checkout, svc.Orders, svc.StateMachine,
		handlers.WithPlacementLimit(cfg.Orders.PlacementLimit, cfg.Orders.PlacementWindow),
	)
	merchantOrders := handlers.NewMerchantOrderHandlers(svc.Orders)
	merchantReports := handlers.NewMerchantReportHandlers(svc.Reports)
	adminOrders := handlers.NewAdminOrderHandlers(svc.Orders)
	adminReports := handlers.NewAdminReportHandlers(svc.Reports)

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if svc.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(svc.System))
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(tracerProvider),
			observability.RecoveryMiddleware(logger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithOrderRoutes(
			orderHandlers.Routes(idempotencyMiddleware),
			authenticator.RequireAuth(),
			observability.CaptureIdentityMiddleware,
		),
		handlers.WithMerchantRoutes(
			handlers.CombineRegistrars(merchantOrders.Routes, merchantReports.Routes),
			authenticator.RequireAuth(auth.RoleMerchant),
			observability.CaptureIdentityMiddleware,
		),
		handlers.WithAdminRoutes(
			handlers.CombineRegistrars(adminOrders.Routes, adminReports.Routes),
			authenticator.RequireAuth(auth.RoleAdmin),
			observability.CaptureIdentityMiddleware,
		),
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
		serverLogger.Info("fulfillment api listening",
			zap.String("store", cfg.Database.Driver),
			zap.String("events", cfg.Events.Driver),
			zap.String("version", buildInfo.Version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["FULFILLMENT_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["FULFILLMENT_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Auth.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newAuthenticator(ctx context.Context, cfg config.Config) (*auth.Authenticator, error) {
	if cfg.Auth.DevTokensEnabled() {
		verifier, err := auth.NewDevTokenVerifier(cfg.Auth.DevTokenSecret, cfg.Auth.DevTokenIssuer)
		if err != nil {
			return nil, fmt.Errorf("dev token verifier: %w", err)
		}
		return auth.NewAuthenticator(verifier), nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return nil, fmt.Errorf("firebase verifier: %w", err)
	}
	return auth.NewAuthenticator(verifier), nil
}

// secretManagerCheck treats a missing probe secret as healthy; only transport and
// permission failures degrade readiness.
func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	const probeReference = "secret://system/healthz?version=latest"
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, probeReference)
			if err == nil {
				return nil
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("FULFILLMENT_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("FULFILLMENT_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("FULFILLMENT_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter("github.com/shopsite/fulfillment/secrets")),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve to a non-empty secret.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	driver := strings.ToLower(strings.TrimSpace(env["FULFILLMENT_DATABASE_DRIVER"]))
	if driver == "" || driver == config.DriverPostgres {
		required = append(required, "Database.URL")
	}
	return required
}
