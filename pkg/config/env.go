package config

const EnvPrefix = "LICENSEGATE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	CredentialModeSigned = "signed"
	CredentialModeLegacy = "legacy"
)

const (
	EnvAppEnv = "LICENSEGATE_APP_ENV"
	EnvPort   = "LICENSEGATE_APP_PORT"

	EnvDBDSN  = "LICENSEGATE_DB_DSN"
	EnvDBHost = "LICENSEGATE_DB_HOST"
	EnvDBUser = "LICENSEGATE_DB_USER"
	EnvDBName = "LICENSEGATE_DB_NAME"

	EnvRedisURL = "LICENSEGATE_REDIS_URL"

	EnvCredentialMode   = "LICENSEGATE_CREDENTIAL_MODE"
	EnvCredentialSecret = "LICENSEGATE_CREDENTIAL_SECRET"
	EnvCredentialWindow = "LICENSEGATE_CREDENTIAL_WINDOW"

	EnvStoreTimeout        = "LICENSEGATE_STORE_TIMEOUT"
	EnvArtifactDeviceCheck = "LICENSEGATE_ARTIFACT_CHECK_DEVICE_BLOCK"
	EnvUseSQLite           = "LICENSEGATE_USE_SQLITE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
