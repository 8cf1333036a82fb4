package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	Storage      StorageConfig
	AWS          AWSConfig
	PubSub       PubSubConfig
	Queue        QueueConfig
	Media        MediaConfig
	Sweepers     SweepersConfig
	Outbox       OutboxConfig
	Transcode    TranscodeConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DROPLINE_APP_ENV" required:"true"`
	Port         string `envconfig:"DROPLINE_APP_PORT" default:"8080"`
	MetricsPort  string `envconfig:"DROPLINE_METRICS_PORT" default:"9090"`
	LogLevel     string `envconfig:"DROPLINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DROPLINE_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"DROPLINE_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	IdempotencyTTL     time.Duration `envconfig:"DROPLINE_IDEMPOTENCY_TTL" default:"24h"`
	IdempotencyLockTTL time.Duration `envconfig:"DROPLINE_IDEMPOTENCY_LOCK_TTL" default:"1m"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"DROPLINE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"DROPLINE_DB_DSN"`
	Driver string `envconfig:"DROPLINE_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"DROPLINE_DB_HOST"`
	Port     int    `envconfig:"DROPLINE_DB_PORT" default:"5432"`
	User     string `envconfig:"DROPLINE_DB_USER"`
	Password string `envconfig:"DROPLINE_DB_PASSWORD"`
	Name     string `envconfig:"DROPLINE_DB_NAME"`
	SSLMode  string `envconfig:"DROPLINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DROPLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DROPLINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DROPLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DROPLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"DROPLINE_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
	TxAttempts         int           `envconfig:"DROPLINE_DB_TX_ATTEMPTS" default:"3"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DROPLINE_REDIS_URL"`
	Address      string        `envconfig:"DROPLINE_REDIS_ADDR"`
	Password     string        `envconfig:"DROPLINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"DROPLINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DROPLINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DROPLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DROPLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DROPLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DROPLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"DROPLINE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"DROPLINE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"DROPLINE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"DROPLINE_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"DROPLINE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"DROPLINE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"DROPLINE_GOOGLE_APPLICATION_CREDENTIALS"`
}

// StorageConfig selects the object store holding raw and processed media.
type StorageConfig struct {
	Provider      string `envconfig:"DROPLINE_STORAGE_PROVIDER" default:"gcs"`
	Bucket        string `envconfig:"DROPLINE_STORAGE_BUCKET" required:"true"`
	PublicBaseURL string `envconfig:"DROPLINE_STORAGE_PUBLIC_BASE_URL"`
}

func (s StorageConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case StorageProviderGCS, StorageProviderS3:
		return nil
	default:
		return fmt.Errorf("%s must be one of %s|%s, got %q", EnvStorageProvider, StorageProviderGCS, StorageProviderS3, s.Provider)
	}
}

// NormalizedProvider returns the lower-cased provider name.
func (s StorageConfig) NormalizedProvider() string {
	return strings.ToLower(strings.TrimSpace(s.Provider))
}

type AWSConfig struct {
	Region          string `envconfig:"DROPLINE_AWS_REGION" default:"us-east-1"`
	Endpoint        string `envconfig:"DROPLINE_AWS_ENDPOINT"`
	AccessKeyID     string `envconfig:"DROPLINE_AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"DROPLINE_AWS_SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `envconfig:"DROPLINE_AWS_S3_PATH_STYLE" default:"false"`
}

type PubSubConfig struct {
	MediaJobsTopic        string        `envconfig:"DROPLINE_PUBSUB_MEDIA_JOBS_TOPIC" default:"dropline-media-jobs"`
	PublishDelayThreshold time.Duration `envconfig:"DROPLINE_PUBSUB_PUBLISH_DELAY" default:"10ms"`
	PublishCountThreshold int           `envconfig:"DROPLINE_PUBSUB_PUBLISH_COUNT" default:"100"`
}

type QueueConfig struct {
	Name          string        `envconfig:"DROPLINE_QUEUE_NAME" default:"media"`
	BackoffBase   time.Duration `envconfig:"DROPLINE_QUEUE_BACKOFF_BASE" default:"1s"`
	KeepCompleted int           `envconfig:"DROPLINE_QUEUE_KEEP_COMPLETED" default:"100"`
	KeepFailed    int           `envconfig:"DROPLINE_QUEUE_KEEP_FAILED" default:"100"`
	Concurrency   int           `envconfig:"DROPLINE_QUEUE_CONCURRENCY" default:"2"`
	PollTimeout   time.Duration `envconfig:"DROPLINE_QUEUE_POLL_TIMEOUT" default:"5s"`
	StalledAfter  time.Duration `envconfig:"DROPLINE_QUEUE_STALLED_AFTER" default:"45m"`
}

// MediaConfig holds per-tier raw upload limits in megabytes.
type MediaConfig struct {
	FreeMaxUploadMB int `envconfig:"DROPLINE_MEDIA_FREE_MAX_UPLOAD_MB" default:"200"`
	PlusMaxUploadMB int `envconfig:"DROPLINE_MEDIA_PLUS_MAX_UPLOAD_MB" default:"1024"`
	ProMaxUploadMB  int `envconfig:"DROPLINE_MEDIA_PRO_MAX_UPLOAD_MB" default:"4096"`
}

type SweepersConfig struct {
	LinkOrphansSchedule     string        `envconfig:"DROPLINE_SWEEPER_LINK_ORPHANS_SCHEDULE" default:"*/10 * * * *"`
	BackfillSchedule        string        `envconfig:"DROPLINE_SWEEPER_BACKFILL_SCHEDULE" default:"5-59/10 * * * *"`
	DeletionSchedule        string        `envconfig:"DROPLINE_SWEEPER_DELETION_SCHEDULE" default:"0 3 * * *"`
	PublishSchedule         string        `envconfig:"DROPLINE_SWEEPER_PUBLISH_SCHEDULE" default:"*/2 * * * *"`
	StalePendingSchedule    string        `envconfig:"DROPLINE_SWEEPER_STALE_PENDING_SCHEDULE" default:"*/5 * * * *"`
	OutboxRetentionSchedule string        `envconfig:"DROPLINE_SWEEPER_OUTBOX_RETENTION_SCHEDULE" default:"30 4 * * *"`
	DeletionBatchSize       int           `envconfig:"DROPLINE_SWEEPER_DELETION_BATCH_SIZE" default:"50"`
	StalePendingAge         time.Duration `envconfig:"DROPLINE_SWEEPER_STALE_PENDING_AGE" default:"15m"`
	StalePendingBatchSize   int           `envconfig:"DROPLINE_SWEEPER_STALE_PENDING_BATCH_SIZE" default:"100"`
	LockTTL                 time.Duration `envconfig:"DROPLINE_SWEEPER_LOCK_TTL" default:"30m"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"DROPLINE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"DROPLINE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"DROPLINE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"DROPLINE_OUTBOX_RETENTION_DAYS" default:"30"`
	PruneBatchSize int `envconfig:"DROPLINE_OUTBOX_PRUNE_BATCH_SIZE" default:"1000"`
}

type TranscodeConfig struct {
	Command string        `envconfig:"DROPLINE_TRANSCODE_COMMAND" default:"dropline-transcode"`
	Timeout time.Duration `envconfig:"DROPLINE_TRANSCODE_TIMEOUT" default:"30m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range dbPartEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
