package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvServerPort       = "SERVER_PORT"
	EnvDatabaseType     = "DATABASE_TYPE"
	EnvDatabaseURL      = "DATABASE_URL"
	EnvEngineBaseURL    = "ENGINE_BASE_URL"
	EnvEngineTimeout    = "ENGINE_TIMEOUT"
	EnvAuthMode         = "AUTH_MODE"
	EnvStaticAPIKeys    = "API_KEYS"
	EnvRateLimitPerMin  = "RATE_LIMIT_PER_MINUTE"
	EnvRateLimitStore   = "RATE_LIMIT_STORE"
	EnvRedisURL         = "REDIS_URL"
	EnvS3Endpoint       = "S3_ENDPOINT"
	EnvS3AccessKey      = "S3_ACCESS_KEY"
	EnvS3SecretKey      = "S3_SECRET_KEY"
	EnvS3Bucket         = "S3_BUCKET"
	EnvS3UseSSL         = "S3_USE_SSL"
	EnvUploadURLTTL     = "UPLOAD_URL_TTL"
	EnvUploadMaxBytes   = "UPLOAD_MAX_BYTES"
	EnvJobWorkers       = "JOB_WORKERS"
	EnvJobQueueSize     = "JOB_QUEUE_SIZE"
)

const (
	DefaultServerPort     = "8080"
	DefaultDatabaseType   = "sqlite"
	DefaultDatabaseURL    = "./pregrade-gateway.db"
	DefaultEngineTimeout  = 30 * time.Second
	DefaultAuthMode       = AuthModeOpen
	DefaultRateLimitStore = RateStoreMemory
	DefaultUploadURLTTL   = 15 * time.Minute
	DefaultUploadMaxBytes = int64(10 << 20)
	DefaultJobWorkers     = 4
	DefaultJobQueueSize   = 64
)

// Auth modes. Open mode skips authentication entirely and is an explicit,
// documented state for local development, never an accidental fallback.
const (
	AuthModeOpen   = "open"
	AuthModeStatic = "static"
	AuthModeStore  = "store"
)

const (
	RateStoreMemory = "memory"
	RateStoreRedis  = "redis"
)

const (
	DatabaseTypeSQLite   = "sqlite"
	DatabaseTypePostgres = "postgres"
	DatabaseTypeNone     = "none"
)

type Config struct {
	ServerPort   string
	DatabaseType string
	DatabaseURL  string

	EngineBaseURL string
	EngineTimeout time.Duration

	AuthMode      string
	StaticAPIKeys []string

	RateLimitPerMinute int
	RateLimitStore     string
	RedisURL           string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	UploadURLTTL   time.Duration
	UploadMaxBytes int64

	JobWorkers   int
	JobQueueSize int
}

func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("server_port", c.ServerPort),
		slog.String("database_type", c.DatabaseType),
		slog.String("database_url", c.DatabaseURL),
		slog.String("engine_base_url", c.EngineBaseURL),
		slog.String("engine_timeout", c.EngineTimeout.String()),
		slog.String("auth_mode", c.AuthMode),
		slog.Int("static_api_keys", len(c.StaticAPIKeys)),
		slog.Int("rate_limit_per_min", c.RateLimitPerMinute),
		slog.String("rate_limit_store", c.RateLimitStore),
		slog.String("s3_endpoint", c.S3Endpoint),
		slog.String("s3_bucket", c.S3Bucket),
		slog.String("secret_key", "***"),
		slog.Int64("upload_max_bytes", c.UploadMaxBytes),
		slog.Int("job_workers", c.JobWorkers),
		slog.Int("job_queue_size", c.JobQueueSize),
	)
}

// EngineConfigured reports whether the analysis engine backend is wired up.
func (c Config) EngineConfigured() bool {
	return strings.TrimSpace(c.EngineBaseURL) != ""
}

// ObjectStoreConfigured reports whether presigned uploads are wired up.
func (c Config) ObjectStoreConfigured() bool {
	return strings.TrimSpace(c.S3Endpoint) != "" && strings.TrimSpace(c.S3Bucket) != ""
}

type Options struct {
	ServerPort         *string
	DatabaseType       *string
	DatabaseURL        *string
	EngineBaseURL      *string
	EngineTimeout      *time.Duration
	AuthMode           *string
	RateLimitPerMinute *int
	ConfigFile         *string
}

func Load(opts Options) (Config, error) {
	cfg := Config{
		ServerPort:     DefaultServerPort,
		DatabaseType:   DefaultDatabaseType,
		DatabaseURL:    DefaultDatabaseURL,
		EngineTimeout:  DefaultEngineTimeout,
		AuthMode:       DefaultAuthMode,
		RateLimitStore: DefaultRateLimitStore,
		UploadURLTTL:   DefaultUploadURLTTL,
		UploadMaxBytes: DefaultUploadMaxBytes,
		JobWorkers:     DefaultJobWorkers,
		JobQueueSize:   DefaultJobQueueSize,
	}

	envFile := ".env"
	if opts.ConfigFile != nil && *opts.ConfigFile != "" {
		envFile = *opts.ConfigFile
	}
	if err := LoadEnvFile(envFile); err != nil {
		return Config{}, err
	}

	if v, ok := lookupEnvNonEmpty(EnvServerPort); ok {
		cfg.ServerPort = v
	}
	if v, ok := lookupEnvNonEmpty(EnvDatabaseType); ok {
		cfg.DatabaseType = strings.ToLower(v)
	}
	if v, ok := lookupEnvNonEmpty(EnvDatabaseURL); ok {
		cfg.DatabaseURL = v
	}
	if v, ok := lookupEnvNonEmpty(EnvEngineBaseURL); ok {
		cfg.EngineBaseURL = v
	}
	if v, ok := lookupEnvNonEmpty(EnvEngineTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvEngineTimeout, err)
		}
		cfg.EngineTimeout = d
	}
	if v, ok := lookupEnvNonEmpty(EnvAuthMode); ok {
		cfg.AuthMode = strings.ToLower(v)
	}
	if v, ok := lookupEnvNonEmpty(EnvStaticAPIKeys); ok {
		cfg.StaticAPIKeys = splitKeys(v)
	}
	if v, ok := lookupEnvNonEmpty(EnvRateLimitPerMin); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", EnvRateLimitPerMin, v)
		}
		cfg.RateLimitPerMinute = n
	}
	if v, ok := lookupEnvNonEmpty(EnvRateLimitStore); ok {
		cfg.RateLimitStore = strings.ToLower(v)
	}
	if v, ok := lookupEnvNonEmpty(EnvRedisURL); ok {
		cfg.RedisURL = v
	}
	if v, ok := lookupEnvNonEmpty(EnvS3Endpoint); ok {
		cfg.S3Endpoint = v
	}
	if v, ok := lookupEnvNonEmpty(EnvS3AccessKey); ok {
		cfg.S3AccessKey = v
	}
	if v, ok := lookupEnvNonEmpty(EnvS3SecretKey); ok {
		cfg.S3SecretKey = v
	}
	if v, ok := lookupEnvNonEmpty(EnvS3Bucket); ok {
		cfg.S3Bucket = v
	}
	if v, ok := lookupEnvNonEmpty(EnvS3UseSSL); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %q", EnvS3UseSSL, v)
		}
		cfg.S3UseSSL = b
	}
	if v, ok := lookupEnvNonEmpty(EnvUploadURLTTL); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvUploadURLTTL, err)
		}
		cfg.UploadURLTTL = d
	}
	if v, ok := lookupEnvNonEmpty(EnvUploadMaxBytes); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", EnvUploadMaxBytes, v)
		}
		cfg.UploadMaxBytes = n
	}
	if v, ok := lookupEnvNonEmpty(EnvJobWorkers); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", EnvJobWorkers, v)
		}
		cfg.JobWorkers = n
	}
	if v, ok := lookupEnvNonEmpty(EnvJobQueueSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", EnvJobQueueSize, v)
		}
		cfg.JobQueueSize = n
	}

	// Override with options (flags)
	if opts.ServerPort != nil {
		v := strings.TrimSpace(*opts.ServerPort)
		if v == "" {
			return Config{}, fmt.Errorf("server port must not be empty")
		}
		cfg.ServerPort = v
	}
	if opts.DatabaseType != nil {
		v := strings.TrimSpace(*opts.DatabaseType)
		if v == "" {
			return Config{}, fmt.Errorf("database type must not be empty")
		}
		cfg.DatabaseType = strings.ToLower(v)
	}
	if opts.DatabaseURL != nil {
		v := strings.TrimSpace(*opts.DatabaseURL)
		if v == "" {
			return Config{}, fmt.Errorf("database URL must not be empty")
		}
		cfg.DatabaseURL = v
	}
	if opts.EngineBaseURL != nil {
		cfg.EngineBaseURL = strings.TrimSpace(*opts.EngineBaseURL)
	}
	if opts.EngineTimeout != nil {
		if *opts.EngineTimeout <= 0 {
			return Config{}, fmt.Errorf("engine timeout must be positive")
		}
		cfg.EngineTimeout = *opts.EngineTimeout
	}
	if opts.AuthMode != nil {
		cfg.AuthMode = strings.ToLower(strings.TrimSpace(*opts.AuthMode))
	}
	if opts.RateLimitPerMinute != nil {
		if *opts.RateLimitPerMinute < 0 {
			return Config{}, fmt.Errorf("rate limit must be zero or positive")
		}
		cfg.RateLimitPerMinute = *opts.RateLimitPerMinute
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.DatabaseType {
	case DatabaseTypeSQLite, DatabaseTypePostgres, DatabaseTypeNone:
	default:
		return fmt.Errorf("unsupported %s: %s", EnvDatabaseType, c.DatabaseType)
	}

	switch c.AuthMode {
	case AuthModeOpen:
	case AuthModeStatic:
		if len(c.StaticAPIKeys) == 0 {
			return fmt.Errorf("%s=static requires %s", EnvAuthMode, EnvStaticAPIKeys)
		}
	case AuthModeStore:
		if c.DatabaseType == DatabaseTypeNone {
			return fmt.Errorf("%s=store requires a database", EnvAuthMode)
		}
	default:
		return fmt.Errorf("unsupported %s: %s", EnvAuthMode, c.AuthMode)
	}

	switch c.RateLimitStore {
	case RateStoreMemory:
	case RateStoreRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("%s=redis requires %s", EnvRateLimitStore, EnvRedisURL)
		}
	default:
		return fmt.Errorf("unsupported %s: %s", EnvRateLimitStore, c.RateLimitStore)
	}

	return nil
}

func splitKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func lookupEnvNonEmpty(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}

// LoadEnvFile loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read env file %s: %w", path, err)
	}

	lines := strings.Split(string(content), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if key != "" {
			if _, ok := os.LookupEnv(key); !ok {
				os.Setenv(key, value)
			}
		}
	}
	return nil
}
