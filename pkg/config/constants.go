package config

// EnvPrefix is handed to envconfig; every field carries its full variable name.
const EnvPrefix = "DROPLINE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	StorageProviderGCS = "gcs"
	StorageProviderS3  = "s3"
)

const (
	EnvAppEnv          = "DROPLINE_APP_ENV"
	EnvPort            = "DROPLINE_APP_PORT"
	EnvDBDSN           = "DROPLINE_DB_DSN"
	EnvDBHost          = "DROPLINE_DB_HOST"
	EnvDBUser          = "DROPLINE_DB_USER"
	EnvDBName          = "DROPLINE_DB_NAME"
	EnvRedisURL        = "DROPLINE_REDIS_URL"
	EnvJWTSecret       = "DROPLINE_JWT_SECRET"
	EnvJWTIssuer       = "DROPLINE_JWT_ISSUER"
	EnvStorageProvider = "DROPLINE_STORAGE_PROVIDER"
	EnvStorageBucket   = "DROPLINE_STORAGE_BUCKET"
	EnvDeletionBatch   = "DROPLINE_SWEEPER_DELETION_BATCH_SIZE"
)

var dbPartEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
