package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tegaki-forms/api/internal/handlers"
	"github.com/tegaki-forms/api/internal/platform/auth"
	"github.com/tegaki-forms/api/internal/platform/config"
	"github.com/tegaki-forms/api/internal/platform/drive"
	"github.com/tegaki-forms/api/internal/platform/idempotency"
	"github.com/tegaki-forms/api/internal/platform/jobs"
	"github.com/tegaki-forms/api/internal/platform/observability"
	"github.com/tegaki-forms/api/internal/platform/secrets"
	platformstorage "github.com/tegaki-forms/api/internal/platform/storage"
	"github.com/tegaki-forms/api/internal/services"
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

	requiredSecrets := requiredSecretNames(envValues)
	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecrets...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	clientOpts := googleClientOptions(cfg)

	if cfg.Google.FirestoreEmulator != "" {
		// The firestore SDK only honours the emulator through this env var.
		if err := os.Setenv("FIRESTORE_EMULATOR_HOST", cfg.Google.FirestoreEmulator); err != nil {
			logger.Warn("failed to set firestore emulator host", zap.Error(err))
		}
	}

	var firestoreClient *firestore.Client
	if cfg.Google.FirestoreProjectID != "" {
		firestoreClient, err = firestore.NewClient(ctx, cfg.Google.FirestoreProjectID, clientOpts...)
		if err != nil {
			logger.Fatal("failed to initialise firestore client", zap.Error(err))
		}
		defer func() {
			if err := firestoreClient.Close(); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}()
	}

	storageClient, err := platformstorage.NewClient(ctx,
		platformstorage.WithLogger(logger.Named("storage")),
		platformstorage.WithClientOptions(clientOpts...),
	)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	driveOpts := []drive.ClientOption{
		drive.WithLogger(logger.Named("drive")),
		drive.WithRetries(cfg.Fill.RetryAttempts),
	}
	driveClientOpts := clientOpts
	if user := strings.TrimSpace(cfg.Drive.ImpersonateUser); user != "" {
		driveClientOpts = append(driveClientOpts, option.ImpersonateCredentials(user))
	}
	if len(driveClientOpts) > 0 {
		driveOpts = append(driveOpts, drive.WithClientOptions(driveClientOpts...))
	}
	driveClient, err := drive.NewClient(ctx, driveOpts...)
	if err != nil {
		logger.Fatal("failed to initialise drive client", zap.Error(err))
	}

	var publisher services.CompletionPublisher
	var pubsubClient *pubsub.Client
	if cfg.PubSub.CompletionTopic != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.Google.ProjectID, clientOpts...)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(cfg.PubSub.CompletionTopic)
		defer topic.Stop()
		publisher, err = jobs.NewPubSubCompletionPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise completion publisher", zap.Error(err))
		}
	} else {
		logger.Warn("pubsub completion topic not configured; fill completion events disabled")
	}

	systemService, err := newSystemService(cfg, firestoreClient, driveClient, fetcher, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	var idempotencyStore idempotency.Store
	if firestoreClient != nil {
		idempotencyStore = idempotency.NewFirestoreStore(firestoreClient)
	} else {
		logger.Warn("firestore not configured; idempotency records held in memory only")
		idempotencyStore = idempotency.NewMemoryStore()
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
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

	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)
	hmacMiddleware := buildHMACMiddleware(logger.Named("auth"), cfg)

	templateOpener, err := services.NewTemplateOpener(driveClient, storageClient)
	if err != nil {
		logger.Fatal("failed to initialise template opener", zap.Error(err))
	}

	meter := otel.Meter("github.com/tegaki-forms/api")
	fillService, err := services.NewFillService(services.FillServiceDeps{
		Opener:          templateOpener,
		Drive:           driveClient,
		Storage:         storageClient,
		Publisher:       publisher,
		ArchiveBucket:   cfg.Storage.ArchiveBucket,
		DefaultFolderID: cfg.Drive.DefaultFolderID,
		Clock:           time.Now,
		Logger:          logger.Named("fill"),
		Meter:           meter,
	})
	if err != nil {
		logger.Fatal("failed to initialise fill service", zap.Error(err))
	}

	templateService, err := services.NewTemplateService(services.TemplateServiceDeps{
		Drive:           driveClient,
		Opener:          templateOpener,
		DefaultFolderID: cfg.Drive.DefaultFolderID,
		Logger:          logger.Named("templates"),
	})
	if err != nil {
		logger.Fatal("failed to initialise template service", zap.Error(err))
	}

	fillHandlers := handlers.NewFillHandlers(
		handlers.WithFillService(fillService),
		handlers.WithFillLogger(logger.Named("fill")),
		handlers.WithFillMaxBodyBytes(cfg.Fill.MaxBodyBytes),
		handlers.WithFillMaxFields(cfg.Fill.MaxFields),
	)
	templateHandlers := handlers.NewTemplateHandlers(
		handlers.WithTemplateService(templateService),
		handlers.WithTemplateLogger(logger.Named("templates")),
	)
	internalHandlers := handlers.NewInternalHandlers(
		handlers.WithInternalIdempotencyStore(idempotencyStore),
		handlers.WithInternalLogger(logger.Named("internal")),
		handlers.WithInternalCleanupBatchSize(cfg.Idempotency.CleanupBatchSize),
	)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)

	projectID := strings.TrimSpace(cfg.Google.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	fillMiddlewares := make([]func(http.Handler) http.Handler, 0, 2)
	if hmacMiddleware != nil {
		fillMiddlewares = append(fillMiddlewares, hmacMiddleware)
	}
	fillMiddlewares = append(fillMiddlewares, idempotencyMiddleware)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithFillRoutes(fillHandlers.Routes),
		handlers.WithFillMiddlewares(fillMiddlewares...),
		handlers.WithTemplateRoutes(templateHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
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
		serverLogger.Info("tegaki-forms api listening")
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
	environment := strings.TrimSpace(cfg.Security.Environment)
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

func googleClientOptions(cfg config.Config) []option.ClientOption {
	if file := strings.TrimSpace(cfg.Google.CredentialsFile); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

func newSystemService(cfg config.Config, client *firestore.Client, driveClient *drive.Client, fetcher *secrets.Fetcher, build services.BuildInfo) (services.SystemService, error) {
	checks := make(map[string]services.HealthCheckFunc, 3)
	if client != nil {
		c := client
		checks["firestore"] = withCheckTimeout(1500*time.Millisecond, func(ctx context.Context) error {
			iter := c.Collections(ctx)
			_, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		})
	}
	if driveClient != nil && cfg.Drive.DefaultFolderID != "" {
		folder := cfg.Drive.DefaultFolderID
		checks["drive"] = withCheckTimeout(2*time.Second, func(ctx context.Context) error {
			_, err := driveClient.ListPDFs(ctx, folder, 1, "")
			return err
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system-healthz?version=latest"
		checks["secretManager"] = withCheckTimeout(time.Second, func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil {
				return nil
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return services.NewSystemService(services.SystemServiceDeps{
		Checks: checks,
		Clock:  time.Now,
		Build:  build,
	})
}

func withCheckTimeout(timeout time.Duration, check services.HealthCheckFunc) services.HealthCheckFunc {
	return func(ctx context.Context) error {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return check(checkCtx)
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(adapter))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func buildHMACMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	hmacSecrets := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) == "" {
			continue
		}
		hmacSecrets[strings.ToLower(key)] = value
	}
	if len(hmacSecrets) == 0 {
		return nil
	}

	provider := staticSecretProvider{secrets: hmacSecrets}
	nonces := auth.NewInMemoryNonceStore()
	adapter := observability.NewPrintfAdapter(logger)
	validator := auth.NewHMACValidator(provider, nonces,
		auth.WithHMACLogger(adapter),
		auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
	)

	return validator.RequireHMAC(pickHMACSecretName(hmacSecrets))
}

// pickHMACSecretName prefers the conventional "workflow" key and falls back to
// the first name in sorted order so the choice is deterministic.
func pickHMACSecretName(secrets map[string]string) string {
	if _, ok := secrets["workflow"]; ok {
		return "workflow"
	}
	names := make([]string, 0, len(secrets))
	for name := range secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names[0]
}

type staticSecretProvider struct {
	secrets map[string]string
}

func (p staticSecretProvider) GetSecret(_ context.Context, name string) (string, error) {
	if len(p.secrets) == 0 {
		return "", errors.New("auth: hmac secrets not configured")
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", errors.New("auth: secret name required")
	}
	if secret, ok := p.secrets[key]; ok && secret != "" {
		return secret, nil
	}
	return "", errors.New("auth: secret not found")
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

	projectID := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if projectID == "" {
		projectID = lookup("API_GOOGLE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter("github.com/tegaki-forms/api/secrets")),
	}
	if projectID != "" {
		opts = append(opts, secrets.WithProject(projectID))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames(env map[string]string) []string {
	hmacRaw := ""
	if env != nil {
		hmacRaw = strings.TrimSpace(env["API_SECURITY_HMAC_SECRETS"])
	}
	required := make([]string, 0, 4)
	for _, key := range parseHMACSecretKeys(hmacRaw) {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}
	return uniqueStrings(required)
}

func parseHMACSecretKeys(raw string) []string {
	values := parseKeyValueList(raw)
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, strings.ToLower(key))
	}
	sort.Strings(keys)
	return keys
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	entries := strings.Split(raw, ",")
	for _, entry := range entries {
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

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
