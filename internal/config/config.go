package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	AccountStoreMongo    = "mongo"
	AccountStorePostgres = "postgres"
	AccountStoreSQLite   = "sqlite"
)

type Config struct {
	Env      string
	HTTPPort string

	AccountStore         string
	MongoURI             string
	MongoDatabase        string
	MongoCollection      string
	MongoMinPoolSize     uint64
	MongoMaxPoolSize     uint64
	MongoMaxConnIdleTime time.Duration
	MongoConnectTimeout  time.Duration
	DatabaseURL          string

	JWTSecretKey string
	JWTAlgorithm string
	JWTAccessTTL time.Duration

	CORSAllowedOrigins  []string
	AuthRateLimitPerMin int
	APIRateLimitPerMin  int

	RedisEnabled   bool
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	AuthAbuseProtectionEnabled bool
	AuthAbuseFreeAttempts      int
	AuthAbuseBaseDelay         time.Duration
	AuthAbuseMultiplier        float64
	AuthAbuseMaxDelay          time.Duration
	AuthAbuseResetWindow       time.Duration

	AvatarStorageEnabled bool
	MinIOEndpoint        string
	MinIOAccessKey       string
	MinIOSecretKey       string
	MinIOBucket          string
	MinIOUseSSL          bool

	ReadinessProbeTimeout        time.Duration
	ServerStartGracePeriod       time.Duration
	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSamplingRatio    float64
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELLogLevel              string
}

func Load() (*Config, error) {
	env := getEnv("APP_ENV", "development")

	cfg := &Config{
		Env:      env,
		HTTPPort: getEnv("HTTP_PORT", "8000"),

		AccountStore:     strings.ToLower(getEnv("ACCOUNT_STORE", AccountStoreMongo)),
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:    getEnv("MONGO_DATABASE", "bmc"),
		MongoCollection:  getEnv("MONGO_COLLECTION", "users"),
		MongoMinPoolSize: uint64(getEnvInt("MONGO_MIN_POOL_SIZE", 10)),
		MongoMaxPoolSize: uint64(getEnvInt("MONGO_MAX_POOL_SIZE", 100)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),

		JWTSecretKey: os.Getenv("JWT_SECRET_KEY"),
		JWTAlgorithm: strings.ToUpper(getEnv("JWT_ALGORITHM", "HS256")),
		JWTAccessTTL: time.Duration(getEnvInt("JWT_ACCESS_TTL_MINUTES", 30)) * time.Minute,

		CORSAllowedOrigins:  splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8000")),
		AuthRateLimitPerMin: getEnvInt("AUTH_RATE_LIMIT_PER_MIN", 30),
		APIRateLimitPerMin:  getEnvInt("API_RATE_LIMIT_PER_MIN", 120),

		RedisEnabled:   getEnvBool("REDIS_ENABLED", false),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_PREFIX", "bmc"),

		AuthAbuseProtectionEnabled: getEnvBool("AUTH_ABUSE_PROTECTION_ENABLED", true),
		AuthAbuseFreeAttempts:      getEnvInt("AUTH_ABUSE_FREE_ATTEMPTS", 3),
		AuthAbuseMultiplier:        getEnvFloat("AUTH_ABUSE_MULTIPLIER", 2),

		AvatarStorageEnabled: getEnvBool("AVATAR_STORAGE_ENABLED", false),
		MinIOEndpoint:        getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:       os.Getenv("MINIO_ACCESS_KEY"),
		MinIOSecretKey:       os.Getenv("MINIO_SECRET_KEY"),
		MinIOBucket:          getEnv("MINIO_BUCKET", "bmc-avatars"),
		MinIOUseSSL:          getEnvBool("MINIO_USE_SSL", false),

		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "bmc-account-service"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", env),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELTraceSamplingRatio:   getEnvFloat("OTEL_TRACE_SAMPLING_RATIO", 1.0),
		OTELMetricsEnabled:       getEnvBool("OTEL_METRICS_ENABLED", true),
		OTELTracingEnabled:       getEnvBool("OTEL_TRACING_ENABLED", true),
		OTELLogsEnabled:          getEnvBool("OTEL_LOGS_ENABLED", true),
		OTELLogLevel:             strings.ToLower(getEnv("OTEL_LOG_LEVEL", "info")),
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"MONGO_MAX_CONN_IDLE_TIME", "5s", &cfg.MongoMaxConnIdleTime},
		{"MONGO_CONNECT_TIMEOUT", "10s", &cfg.MongoConnectTimeout},
		{"AUTH_ABUSE_BASE_DELAY", "2s", &cfg.AuthAbuseBaseDelay},
		{"AUTH_ABUSE_MAX_DELAY", "5m", &cfg.AuthAbuseMaxDelay},
		{"AUTH_ABUSE_RESET_WINDOW", "30m", &cfg.AuthAbuseResetWindow},
		{"READINESS_PROBE_TIMEOUT", "1s", &cfg.ReadinessProbeTimeout},
		{"SERVER_START_GRACE_PERIOD", "2s", &cfg.ServerStartGracePeriod},
		{"SHUTDOWN_TIMEOUT", "20s", &cfg.ShutdownTimeout},
		{"SHUTDOWN_HTTP_DRAIN_TIMEOUT", "10s", &cfg.ShutdownHTTPDrainTimeout},
		{"SHUTDOWN_OBSERVABILITY_TIMEOUT", "8s", &cfg.ShutdownObservabilityTimeout},
		{"OTEL_METRICS_EXPORT_INTERVAL", "10s", &cfg.OTELMetricsExportInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	switch c.AccountStore {
	case AccountStoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, "MONGO_URI is required when ACCOUNT_STORE=mongo")
		}
		if c.MongoDatabase == "" {
			errs = append(errs, "MONGO_DATABASE is required when ACCOUNT_STORE=mongo")
		}
		if c.MongoMaxPoolSize == 0 || c.MongoMinPoolSize > c.MongoMaxPoolSize {
			errs = append(errs, "MONGO_MIN_POOL_SIZE must be <= MONGO_MAX_POOL_SIZE and MONGO_MAX_POOL_SIZE must be > 0")
		}
		if c.MongoMaxConnIdleTime <= 0 {
			errs = append(errs, "MONGO_MAX_CONN_IDLE_TIME must be > 0")
		}
	case AccountStorePostgres, AccountStoreSQLite:
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when ACCOUNT_STORE="+c.AccountStore)
		}
	default:
		errs = append(errs, "ACCOUNT_STORE must be one of mongo, postgres, sqlite")
	}
	if len(c.JWTSecretKey) < 32 {
		errs = append(errs, "JWT_SECRET_KEY must be at least 32 chars")
	}
	switch c.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, "JWT_ALGORITHM must be one of HS256, HS384, HS512")
	}
	if c.JWTAccessTTL <= 0 || c.JWTAccessTTL > 24*time.Hour {
		errs = append(errs, "JWT_ACCESS_TTL_MINUTES must be between 1 and 1440")
	}
	if c.AuthRateLimitPerMin <= 0 {
		errs = append(errs, "AUTH_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.APIRateLimitPerMin <= 0 {
		errs = append(errs, "API_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.RedisEnabled && c.RedisAddr == "" {
		errs = append(errs, "REDIS_ADDR is required when REDIS_ENABLED=true")
	}
	if c.AuthAbuseProtectionEnabled {
		if c.AuthAbuseFreeAttempts < 0 {
			errs = append(errs, "AUTH_ABUSE_FREE_ATTEMPTS must be >= 0")
		}
		if c.AuthAbuseBaseDelay <= 0 || c.AuthAbuseMaxDelay < c.AuthAbuseBaseDelay {
			errs = append(errs, "AUTH_ABUSE_BASE_DELAY must be > 0 and <= AUTH_ABUSE_MAX_DELAY")
		}
		if c.AuthAbuseMultiplier < 1 {
			errs = append(errs, "AUTH_ABUSE_MULTIPLIER must be >= 1")
		}
		if c.AuthAbuseResetWindow <= 0 {
			errs = append(errs, "AUTH_ABUSE_RESET_WINDOW must be > 0")
		}
	}
	if c.AvatarStorageEnabled {
		if c.MinIOEndpoint == "" || c.MinIOBucket == "" {
			errs = append(errs, "MINIO_ENDPOINT and MINIO_BUCKET are required when AVATAR_STORAGE_ENABLED=true")
		}
		if c.MinIOAccessKey == "" || c.MinIOSecretKey == "" {
			errs = append(errs, "MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when AVATAR_STORAGE_ENABLED=true")
		}
	}
	if c.ReadinessProbeTimeout <= 0 {
		errs = append(errs, "READINESS_PROBE_TIMEOUT must be > 0")
	}
	if c.ShutdownTimeout <= 0 || c.ShutdownHTTPDrainTimeout <= 0 || c.ShutdownObservabilityTimeout <= 0 {
		errs = append(errs, "SHUTDOWN_* timeouts must be > 0")
	}
	if c.ShutdownHTTPDrainTimeout > c.ShutdownTimeout {
		errs = append(errs, "SHUTDOWN_HTTP_DRAIN_TIMEOUT must be <= SHUTDOWN_TIMEOUT")
	}
	if (c.OTELMetricsEnabled || c.OTELTracingEnabled || c.OTELLogsEnabled) && c.OTELExporterOTLPEndpoint == "" {
		errs = append(errs, "OTEL_EXPORTER_OTLP_ENDPOINT is required when OTel is enabled")
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, "OTEL_TRACE_SAMPLING_RATIO must be between 0 and 1")
	}
	if c.OTELMetricsExportInterval <= 0 {
		errs = append(errs, "OTEL_METRICS_EXPORT_INTERVAL must be > 0")
	}
	if !isValidLogLevel(c.OTELLogLevel) {
		errs = append(errs, "OTEL_LOG_LEVEL must be one of debug, info, warn, error")
	}
	if !isLocalLikeEnv(c.Env) {
		errs = append(errs, c.validateProduction()...)
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateProduction() []string {
	var errs []string
	for _, origin := range c.CORSAllowedOrigins {
		if origin == "*" {
			errs = append(errs, "CORS_ALLOWED_ORIGINS must not contain * outside development")
		}
		if strings.HasPrefix(origin, "http://localhost") {
			errs = append(errs, "CORS_ALLOWED_ORIGINS must not contain localhost origins outside development")
			break
		}
	}
	if c.AccountStore == AccountStoreSQLite {
		errs = append(errs, "ACCOUNT_STORE=sqlite is only allowed in development or test")
	}
	if c.AvatarStorageEnabled && !c.MinIOUseSSL {
		errs = append(errs, "MINIO_USE_SSL must be true outside development")
	}
	return errs
}

func isLocalLikeEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "development", "dev", "local", "test":
		return true
	default:
		return false
	}
}

func isValidLogLevel(v string) bool {
	switch strings.ToLower(v) {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trim := strings.TrimSpace(p)
		if trim != "" {
			out = append(out, trim)
		}
	}
	return out
}
