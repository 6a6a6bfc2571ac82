package config

// EnvPrefix namespaces envconfig lookups; the explicit field tags are the fallback keys.
const EnvPrefix = "CIRCULATION"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "CIRCULATION_APP_ENV"
	EnvPort     = "CIRCULATION_APP_PORT"
	EnvLogLevel = "CIRCULATION_LOG_LEVEL"

	EnvDBDSN    = "CIRCULATION_DB_DSN"
	EnvDBDriver = "CIRCULATION_DB_DRIVER"
	EnvDBHost   = "CIRCULATION_DB_HOST"
	EnvDBUser   = "CIRCULATION_DB_USER"
	EnvDBName   = "CIRCULATION_DB_NAME"

	EnvRedisURL = "CIRCULATION_REDIS_URL"

	EnvJWTSecret  = "CIRCULATION_JWT_SECRET"
	EnvJWTIssuer  = "CIRCULATION_JWT_ISSUER"
	EnvJWTExpMins = "CIRCULATION_JWT_EXPIRATION_MINUTES"

	EnvLoanPeriod    = "CIRCULATION_LOAN_PERIOD"
	EnvMaxRenewals   = "CIRCULATION_MAX_RENEWALS"
	EnvHoldWindow    = "CIRCULATION_HOLD_WINDOW"
	EnvFineThreshold = "CIRCULATION_FINE_THRESHOLD"
	EnvFineDailyRate = "CIRCULATION_FINE_DAILY_RATE"
	EnvFineCap       = "CIRCULATION_FINE_CAP"

	EnvPubSubNotificationTopic = "CIRCULATION_PUBSUB_NOTIFICATION_TOPIC"
	EnvCronInterval            = "CIRCULATION_CRON_INTERVAL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
