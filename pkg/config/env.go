package config

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv       = "SETTLEMENT_APP_ENV"
	EnvPort         = "SETTLEMENT_APP_PORT"
	EnvLogLevel     = "SETTLEMENT_LOG_LEVEL"
	EnvDBDSN        = "SETTLEMENT_DB_DSN"
	EnvDBHost       = "SETTLEMENT_DB_HOST"
	EnvDBUser       = "SETTLEMENT_DB_USER"
	EnvDBName       = "SETTLEMENT_DB_NAME"
	EnvRedisURL     = "SETTLEMENT_REDIS_URL"
	EnvJWTSecret    = "SETTLEMENT_JWT_SECRET"
	EnvJWTIssuer    = "SETTLEMENT_JWT_ISSUER"
	EnvHoldPeriod   = "SETTLEMENT_HOLD_PERIOD"
	EnvUnlockBatch  = "SETTLEMENT_UNLOCK_BATCH_SIZE"
	EnvCronInterval = "SETTLEMENT_CRON_INTERVAL"
	EnvGCPProjectID = "SETTLEMENT_GCP_PROJECT_ID"
	EnvPubSubTopic  = "SETTLEMENT_PUBSUB_SETTLEMENT_TOPIC"
)

var legacyDBEnvVars = []string{
	EnvDBHost,
	EnvDBUser,
	EnvDBName,
}
