package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"gorm.io/gorm"

	"github.com/sandeepkv93/bmc-account-service/internal/app"
	"github.com/sandeepkv93/bmc-account-service/internal/config"
	"github.com/sandeepkv93/bmc-account-service/internal/database"
	"github.com/sandeepkv93/bmc-account-service/internal/health"
	"github.com/sandeepkv93/bmc-account-service/internal/http/handler"
	"github.com/sandeepkv93/bmc-account-service/internal/http/middleware"
	"github.com/sandeepkv93/bmc-account-service/internal/http/router"
	"github.com/sandeepkv93/bmc-account-service/internal/observability"
	"github.com/sandeepkv93/bmc-account-service/internal/repository"
	"github.com/sandeepkv93/bmc-account-service/internal/security"
	"github.com/sandeepkv93/bmc-account-service/internal/service"
)

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(
	provideObservabilityRuntime,
	provideAppLogger,
)

var RuntimeInfraSet = wire.NewSet(
	provideAccountStore,
	provideRedisClient,
	provideReadinessProbeRunner,
)

var RepositorySet = wire.NewSet(provideAccountRepository)

var SecuritySet = wire.NewSet(
	provideTokenManager,
	security.NewPasswordHasher,
)

var ServiceSet = wire.NewSet(
	provideAuthAbuseGuard,
	provideAvatarStorage,
	service.NewAccountService,
)

var HTTPSet = wire.NewSet(
	handler.NewAccountHandler,
	wire.Bind(new(handler.AccountService), new(*service.AccountService)),
	wire.Bind(new(handler.TokenIssuer), new(*security.TokenManager)),
	provideGlobalRateLimiter,
	provideAuthRateLimiter,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

var AppSet = wire.NewSet(provideApp)

// AccountStore is the backend selected by ACCOUNT_STORE. Exactly one of Mongo or SQL is set.
type AccountStore struct {
	Repository repository.AccountRepository
	Mongo      *mongo.Client
	SQL        *gorm.DB
}

type MigrationRunner struct {
	cfg    *config.Config
	store  *AccountStore
	hasher *security.PasswordHasher
	logger *slog.Logger
}

func NewMigrationRunner(cfg *config.Config, store *AccountStore, hasher *security.PasswordHasher, logger *slog.Logger) *MigrationRunner {
	return &MigrationRunner{cfg: cfg, store: store, hasher: hasher, logger: logger}
}

// Run applies the schema (tables or indexes, depending on the store) and optionally seeds the demo accounts.
func (m *MigrationRunner) Run(ctx context.Context, seed bool) (*database.SeedReport, error) {
	if err := m.migrate(ctx); err != nil {
		return nil, err
	}
	m.logger.Info("schema ready", "store", m.cfg.AccountStore)
	if !seed {
		return &database.SeedReport{Noop: true}, nil
	}
	report, err := database.SeedAccounts(ctx, m.store.Repository, m.hasher, database.DefaultSeedAccounts)
	if err != nil {
		return nil, err
	}
	m.logger.Info("seed complete", "created", report.Created, "skipped", report.Skipped)
	return report, nil
}

func (m *MigrationRunner) migrate(ctx context.Context) error {
	if m.store.SQL != nil {
		return database.Migrate(m.store.SQL)
	}
	if repo, ok := m.store.Repository.(*repository.MongoAccountRepository); ok {
		return repo.EnsureIndexes(ctx)
	}
	return nil
}

// Ping reports whether the configured store answers.
func (m *MigrationRunner) Ping(ctx context.Context) error {
	if m.store.Mongo != nil {
		return m.store.Mongo.Ping(ctx, readpref.Primary())
	}
	if m.store.SQL != nil {
		sqlDB, err := m.store.SQL.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
	return fmt.Errorf("no account store configured")
}

// Store names the backend the runner operates on.
func (m *MigrationRunner) Store() string { return m.cfg.AccountStore }

// Close releases whichever store connection is open.
func (m *MigrationRunner) Close(ctx context.Context) error {
	return closeAccountStore(ctx, m.store)
}

func provideObservabilityRuntime(cfg *config.Config) (*observability.Runtime, error) {
	bootstrapLogger := observability.NewBootstrapLogger(cfg)
	return observability.InitRuntime(context.Background(), cfg, bootstrapLogger)
}

func provideAppLogger(cfg *config.Config, runtime *observability.Runtime) *slog.Logger {
	return observability.InitLogger(cfg, runtime.LoggerProvider)
}

func provideToolLogger(cfg *config.Config) *slog.Logger {
	return observability.NewBootstrapLogger(cfg)
}

// provideAccountStore connects the configured backend and brings its schema up to date.
func provideAccountStore(cfg *config.Config) (*AccountStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout(cfg))
	defer cancel()

	switch cfg.AccountStore {
	case config.AccountStoreMongo:
		client, err := database.OpenMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		repo := repository.NewMongoAccountRepository(client.Database(cfg.MongoDatabase), cfg.MongoCollection)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("ensure account indexes: %w", err)
		}
		return &AccountStore{Repository: repo, Mongo: client}, nil
	case config.AccountStorePostgres, config.AccountStoreSQLite:
		db, err := database.Open(cfg)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(db); err != nil {
			return nil, fmt.Errorf("migrate accounts: %w", err)
		}
		return &AccountStore{Repository: repository.NewGormAccountRepository(db), SQL: db}, nil
	default:
		return nil, fmt.Errorf("unsupported account store %q", cfg.AccountStore)
	}
}

func provideRawAccountStore(cfg *config.Config) (*AccountStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout(cfg))
	defer cancel()

	switch cfg.AccountStore {
	case config.AccountStoreMongo:
		client, err := database.OpenMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		repo := repository.NewMongoAccountRepository(client.Database(cfg.MongoDatabase), cfg.MongoCollection)
		return &AccountStore{Repository: repo, Mongo: client}, nil
	default:
		db, err := database.Open(cfg)
		if err != nil {
			return nil, err
		}
		return &AccountStore{Repository: repository.NewGormAccountRepository(db), SQL: db}, nil
	}
}

func startupTimeout(cfg *config.Config) time.Duration {
	if cfg.MongoConnectTimeout > 0 {
		return 3 * cfg.MongoConnectTimeout
	}
	return 30 * time.Second
}

func closeAccountStore(ctx context.Context, store *AccountStore) error {
	if store == nil {
		return nil
	}
	if store.Mongo != nil {
		return store.Mongo.Disconnect(ctx)
	}
	if store.SQL != nil {
		sqlDB, err := store.SQL.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func provideAccountRepository(store *AccountStore) repository.AccountRepository {
	return store.Repository
}

func provideRedisClient(cfg *config.Config, logger *slog.Logger) redis.UniversalClient {
	if !cfg.RedisEnabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	observability.InstrumentRedisClient(client, logger)
	return client
}

func provideTokenManager(cfg *config.Config) (*security.TokenManager, error) {
	return security.NewTokenManager(cfg.JWTSecretKey, cfg.JWTAlgorithm, cfg.JWTAccessTTL)
}

func provideAuthAbuseGuard(cfg *config.Config, redisClient redis.UniversalClient) service.AuthAbuseGuard {
	if !cfg.AuthAbuseProtectionEnabled {
		return service.NewNoopAuthAbuseGuard()
	}
	policy := service.AuthAbusePolicy{
		FreeAttempts: cfg.AuthAbuseFreeAttempts,
		BaseDelay:    cfg.AuthAbuseBaseDelay,
		Multiplier:   cfg.AuthAbuseMultiplier,
		MaxDelay:     cfg.AuthAbuseMaxDelay,
		ResetWindow:  cfg.AuthAbuseResetWindow,
	}
	if redisClient != nil {
		return service.NewRedisAuthAbuseGuard(redisClient, redisKey(cfg, "abuse"), policy)
	}
	return service.NewInMemoryAuthAbuseGuard(policy)
}

func provideAvatarStorage(cfg *config.Config) (service.AvatarStorage, error) {
	if !cfg.AvatarStorageEnabled {
		return nil, nil
	}
	storage, err := service.NewMinIOAvatarStorage(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOBucket, cfg.MinIOUseSSL)
	if err != nil {
		return nil, fmt.Errorf("avatar storage: %w", err)
	}
	return storage, nil
}

func redisKey(cfg *config.Config, name string) string {
	if cfg.RedisKeyPrefix == "" {
		return name
	}
	return cfg.RedisKeyPrefix + ":" + name
}

func provideGlobalRateLimiter(cfg *config.Config, redisClient redis.UniversalClient, tokens *security.TokenManager) router.GlobalRateLimiterFunc {
	var limiter middleware.Limiter = middleware.NewLocalFixedWindowLimiter()
	scope := "api_local"
	if redisClient != nil {
		limiter = middleware.NewRedisFixedWindowLimiter(redisClient, redisKey(cfg, "rl:api"))
		scope = "api"
	}
	return middleware.NewDistributedRateLimiterWithKey(
		limiter,
		cfg.APIRateLimitPerMin,
		time.Minute,
		middleware.FailOpen,
		scope,
		middleware.SubjectOrIPKeyFunc(tokens),
	).Middleware()
}

func provideAuthRateLimiter(cfg *config.Config, redisClient redis.UniversalClient) router.AuthRateLimiterFunc {
	if redisClient != nil {
		return middleware.NewDistributedRateLimiter(
			middleware.NewRedisFixedWindowLimiter(redisClient, redisKey(cfg, "rl:auth")),
			cfg.AuthRateLimitPerMin,
			time.Minute,
			middleware.FailClosed,
			"auth",
		).Middleware()
	}
	return middleware.NewRateLimiter(cfg.AuthRateLimitPerMin, time.Minute).Middleware()
}

func provideRouterDependencies(
	accountHandler *handler.AccountHandler,
	tokens *security.TokenManager,
	accounts *service.AccountService,
	globalRateLimiter router.GlobalRateLimiterFunc,
	authRateLimiter router.AuthRateLimiterFunc,
	readiness *health.ProbeRunner,
	cfg *config.Config,
) router.Dependencies {
	dep := router.Dependencies{
		AccountHandler:    accountHandler,
		TokenManager:      tokens,
		CORSOrigins:       cfg.CORSAllowedOrigins,
		AuthRateLimitRPM:  cfg.AuthRateLimitPerMin,
		APIRateLimitRPM:   cfg.APIRateLimitPerMin,
		GlobalRateLimiter: globalRateLimiter,
		AuthRateLimiter:   authRateLimiter,
		Readiness:         readiness,
		EnableOTelHTTP:    cfg.OTELMetricsEnabled || cfg.OTELTracingEnabled,
	}
	if accounts != nil {
		dep.Accounts = accounts
		dep.AvatarsEnabled = accounts.AvatarsEnabled()
	}
	return dep
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func provideReadinessProbeRunner(cfg *config.Config, store *AccountStore, redisClient redis.UniversalClient) *health.ProbeRunner {
	checkers := make([]health.Checker, 0, 3)
	if store != nil {
		checkers = append(checkers, health.NewMongoChecker(store.Mongo), health.NewDBChecker(store.SQL))
	}
	checkers = append(checkers, health.NewRedisChecker(redisClient))
	return health.NewProbeRunner(cfg.ReadinessProbeTimeout, cfg.ServerStartGracePeriod, checkers...)
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	store *AccountStore,
	redisClient redis.UniversalClient,
	readiness *health.ProbeRunner,
) *app.App {
	return app.New(cfg, logger, server, runtime, store.Mongo, store.SQL, redisClient, readiness)
}
