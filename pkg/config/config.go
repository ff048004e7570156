package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/edihub/edi-backend/pkg/enums"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	Blob         BlobConfig
	S3           S3Config
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Bundling     BundlingConfig
	Peek         PeekConfig
	Retention    RetentionConfig
	Bundler      BundlerConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Blob.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Bundling.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Outbox.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"EDI_APP_ENV" required:"true"`
	Port         string `envconfig:"EDI_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"EDI_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"EDI_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"EDI_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"EDI_DB_DSN"`
	Driver string `envconfig:"EDI_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"EDI_DB_HOST"`
	LegacyPort     int    `envconfig:"EDI_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"EDI_DB_USER"`
	LegacyPassword string `envconfig:"EDI_DB_PASSWORD"`
	LegacyName     string `envconfig:"EDI_DB_NAME"`
	LegacySSLMode  string `envconfig:"EDI_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"EDI_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"EDI_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"EDI_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"EDI_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQuery logs statements slower than this as warnings; 0 disables.
	SlowQuery time.Duration `envconfig:"EDI_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"EDI_REDIS_URL"`
	Address      string        `envconfig:"EDI_REDIS_ADDR"`
	Password     string        `envconfig:"EDI_REDIS_PASSWORD"`
	DB           int           `envconfig:"EDI_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"EDI_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"EDI_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"EDI_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"EDI_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"EDI_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"EDI_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"EDI_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"EDI_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"EDI_GOOGLE_APPLICATION_CREDENTIALS"`
}

// BlobConfig selects where message content and peeked documents are stored.
type BlobConfig struct {
	Provider        string        `envconfig:"EDI_BLOB_PROVIDER" default:"gcs"`
	Bucket          string        `envconfig:"EDI_BLOB_BUCKET"`
	Endpoint        string        `envconfig:"EDI_BLOB_ENDPOINT"`
	UploadTimeout   time.Duration `envconfig:"EDI_BLOB_UPLOAD_TIMEOUT" default:"30s"`
	DownloadTimeout time.Duration `envconfig:"EDI_BLOB_DOWNLOAD_TIMEOUT" default:"30s"`
}

func (b BlobConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(b.Provider)) {
	case BlobProviderGCS, BlobProviderS3:
		if strings.TrimSpace(b.Bucket) == "" {
			return fmt.Errorf("%s is required for provider %q", EnvBlobBucket, b.Provider)
		}
		return nil
	case BlobProviderMemory:
		return nil
	default:
		return fmt.Errorf("unsupported %s %q", EnvBlobProvider, b.Provider)
	}
}

type S3Config struct {
	Region          string `envconfig:"EDI_S3_REGION" default:"eu-north-1"`
	AccessKeyID     string `envconfig:"EDI_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"EDI_S3_SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `envconfig:"EDI_S3_USE_PATH_STYLE" default:"false"`
}

type PubSubConfig struct {
	BundleEventsTopic  string `envconfig:"EDI_PUBSUB_BUNDLE_EVENTS_TOPIC" default:"edi-bundle-events"`
	MessageEventsTopic string `envconfig:"EDI_PUBSUB_MESSAGE_EVENTS_TOPIC" default:"edi-message-events"`

	// CreateTopics creates missing topics at startup instead of failing.
	// Meant for the emulator and local stacks.
	CreateTopics bool `envconfig:"EDI_PUBSUB_CREATE_TOPICS" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"EDI_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"EDI_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"EDI_OUTBOX_MAX_ATTEMPTS" default:"10"`

	// Ordered publishes each receiver's events under one ordering key.
	Ordered        bool          `envconfig:"EDI_OUTBOX_ORDERED" default:"true"`
	PublishTimeout time.Duration `envconfig:"EDI_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
}

func (o OutboxConfig) validate() error {
	if o.BatchSize <= 0 {
		return fmt.Errorf("%s must be positive", EnvOutboxBatchSize)
	}
	if o.MaxAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvOutboxMaxAttempts)
	}
	return nil
}

// BundlingConfig drives how outgoing messages are grouped into bundles.
type BundlingConfig struct {
	Window          time.Duration  `envconfig:"EDI_BUNDLING_WINDOW" default:"5m"`
	MaxMessageCount int            `envconfig:"EDI_BUNDLING_MAX_MESSAGE_COUNT" default:"2000"`
	MaxCountByType  map[string]int `envconfig:"EDI_BUNDLING_MAX_COUNT_BY_DOCUMENT_TYPE"`
	AssignOnEnqueue bool           `envconfig:"EDI_BUNDLING_ASSIGN_ON_ENQUEUE" default:"true"`
	RetryAttempts   int            `envconfig:"EDI_BUNDLING_RETRY_ATTEMPTS" default:"5"`
	RetryBaseDelay  time.Duration  `envconfig:"EDI_BUNDLING_RETRY_BASE_DELAY" default:"20ms"`
	RetryMaxDelay   time.Duration  `envconfig:"EDI_BUNDLING_RETRY_MAX_DELAY" default:"1s"`
}

func (b BundlingConfig) validate() error {
	if b.Window <= 0 {
		return fmt.Errorf("%s must be positive", EnvBundlingWindow)
	}
	if b.MaxMessageCount <= 0 {
		return fmt.Errorf("%s must be positive", EnvBundlingMaxCount)
	}
	for docType, max := range b.MaxCountByType {
		if _, err := enums.ParseDocumentType(docType); err != nil {
			return fmt.Errorf("%s: %w", EnvBundlingMaxCountByType, err)
		}
		if max <= 0 {
			return fmt.Errorf("%s: max count for %q must be positive", EnvBundlingMaxCountByType, docType)
		}
	}
	return nil
}

type PeekConfig struct {
	DownloadConcurrency int `envconfig:"EDI_PEEK_DOWNLOAD_CONCURRENCY" default:"8"`
	MaxRestarts         int `envconfig:"EDI_PEEK_MAX_RESTARTS" default:"3"`

	// RateLimit caps peeks per actor within RateLimitWindow. Zero disables it.
	RateLimit       int           `envconfig:"EDI_PEEK_RATE_LIMIT" default:"120"`
	RateLimitWindow time.Duration `envconfig:"EDI_PEEK_RATE_LIMIT_WINDOW" default:"1m"`
}

type RetentionConfig struct {
	DequeuedRetention time.Duration `envconfig:"EDI_RETENTION_DEQUEUED" default:"720h"`
	BatchSize         int           `envconfig:"EDI_RETENTION_BATCH_SIZE" default:"500"`
	MaxBatches        int           `envconfig:"EDI_RETENTION_MAX_BATCHES" default:"20"`
	OutboxRetention   time.Duration `envconfig:"EDI_RETENTION_OUTBOX" default:"720h"`
	DLQRetention      time.Duration `envconfig:"EDI_RETENTION_DLQ" default:"2160h"`

	// Interval spaces retention runs; bundle closing still runs every cycle.
	Interval time.Duration `envconfig:"EDI_RETENTION_INTERVAL" default:"1h"`
}

type BundlerConfig struct {
	Interval   time.Duration `envconfig:"EDI_BUNDLER_INTERVAL" default:"1m"`
	LockTTL    time.Duration `envconfig:"EDI_BUNDLER_LOCK_TTL" default:"5m"`
	MaxBatches int           `envconfig:"EDI_BUNDLER_MAX_BATCHES" default:"20"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
