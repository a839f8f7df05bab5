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
	DB           DBConfig
	Redis        RedisConfig
	Credential   CredentialConfig
	Licensing    LicensingConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Metrics      MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if !cfg.FeatureFlags.UseSQLite {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Credential.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LICENSEGATE_APP_ENV" required:"true"`
	Port         string `envconfig:"LICENSEGATE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"LICENSEGATE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LICENSEGATE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN        string `envconfig:"LICENSEGATE_DB_DSN"`
	SQLitePath string `envconfig:"LICENSEGATE_DB_SQLITE_PATH" default:"licensegate.db"`

	LegacyHost     string `envconfig:"LICENSEGATE_DB_HOST"`
	LegacyPort     int    `envconfig:"LICENSEGATE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LICENSEGATE_DB_USER"`
	LegacyPassword string `envconfig:"LICENSEGATE_DB_PASSWORD"`
	LegacyName     string `envconfig:"LICENSEGATE_DB_NAME"`
	LegacySSLMode  string `envconfig:"LICENSEGATE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LICENSEGATE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LICENSEGATE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LICENSEGATE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LICENSEGATE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// RedisConfig is optional; with neither URL nor Address set, activation rate
// limiting is disabled.
type RedisConfig struct {
	URL          string        `envconfig:"LICENSEGATE_REDIS_URL"`
	Address      string        `envconfig:"LICENSEGATE_REDIS_ADDR"`
	Password     string        `envconfig:"LICENSEGATE_REDIS_PASSWORD"`
	DB           int           `envconfig:"LICENSEGATE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LICENSEGATE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LICENSEGATE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LICENSEGATE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LICENSEGATE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LICENSEGATE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type CredentialConfig struct {
	Mode   string        `envconfig:"LICENSEGATE_CREDENTIAL_MODE" default:"signed"`
	Secret string        `envconfig:"LICENSEGATE_CREDENTIAL_SECRET"`
	Issuer string        `envconfig:"LICENSEGATE_CREDENTIAL_ISSUER" default:"licensegate"`
	Window time.Duration `envconfig:"LICENSEGATE_CREDENTIAL_WINDOW" default:"1h"`
}

// NormalizedMode returns the lower-cased mode, defaulting to signed.
func (c CredentialConfig) NormalizedMode() string {
	mode := strings.ToLower(strings.TrimSpace(c.Mode))
	if mode == "" {
		return CredentialModeSigned
	}
	return mode
}

func (c CredentialConfig) validate() error {
	switch c.NormalizedMode() {
	case CredentialModeSigned:
		if strings.TrimSpace(c.Secret) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvCredentialSecret, EnvCredentialMode, CredentialModeSigned)
		}
	case CredentialModeLegacy:
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", EnvCredentialMode, CredentialModeSigned, CredentialModeLegacy, c.Mode)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%s must be positive", EnvCredentialWindow)
	}
	return nil
}

type LicensingConfig struct {
	StoreTimeout           time.Duration `envconfig:"LICENSEGATE_STORE_TIMEOUT" default:"5s"`
	UsageTimeout           time.Duration `envconfig:"LICENSEGATE_USAGE_TIMEOUT" default:"3s"`
	ArtifactCheckDeviceBlk bool          `envconfig:"LICENSEGATE_ARTIFACT_CHECK_DEVICE_BLOCK" default:"false"`
}

type RateLimitConfig struct {
	ActivationWindow   time.Duration `envconfig:"LICENSEGATE_RATE_LIMIT_ACTIVATION_WINDOW" default:"1m"`
	ActivationIPLimit  int           `envconfig:"LICENSEGATE_RATE_LIMIT_ACTIVATION_IP_LIMIT" default:"30"`
	ActivationKeyLimit int           `envconfig:"LICENSEGATE_RATE_LIMIT_ACTIVATION_KEY_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"LICENSEGATE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"LICENSEGATE_AUTO_MIGRATE" default:"false"`
}

type MetricsConfig struct {
	Enabled bool   `envconfig:"LICENSEGATE_METRICS_ENABLED" default:"true"`
	Path    string `envconfig:"LICENSEGATE_METRICS_PATH" default:"/metrics"`
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
