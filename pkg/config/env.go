package config

const EnvPrefix = "EDI"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	BlobProviderGCS    = "gcs"
	BlobProviderS3     = "s3"
	BlobProviderMemory = "memory"
)

const (
	EnvAppEnv   = "EDI_APP_ENV"
	EnvPort     = "EDI_APP_PORT"
	EnvLogLevel = "EDI_LOG_LEVEL"

	EnvDBDSN  = "EDI_DB_DSN"
	EnvDBHost = "EDI_DB_HOST"
	EnvDBUser = "EDI_DB_USER"
	EnvDBName = "EDI_DB_NAME"

	EnvRedisURL = "EDI_REDIS_URL"

	EnvGCPProjectID = "EDI_GCP_PROJECT_ID"

	EnvBlobProvider = "EDI_BLOB_PROVIDER"
	EnvBlobBucket   = "EDI_BLOB_BUCKET"

	EnvBundlingWindow         = "EDI_BUNDLING_WINDOW"
	EnvBundlingMaxCount       = "EDI_BUNDLING_MAX_MESSAGE_COUNT"
	EnvBundlingMaxCountByType = "EDI_BUNDLING_MAX_COUNT_BY_DOCUMENT_TYPE"
	EnvBundlingAssignOnQueue  = "EDI_BUNDLING_ASSIGN_ON_ENQUEUE"

	EnvOutboxBatchSize   = "EDI_OUTBOX_PUBLISH_BATCH_SIZE"
	EnvOutboxMaxAttempts = "EDI_OUTBOX_MAX_ATTEMPTS"

	EnvRetentionDequeued = "EDI_RETENTION_DEQUEUED"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
