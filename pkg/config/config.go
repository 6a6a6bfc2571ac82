package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Circulation  CirculationConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Circulation.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CIRCULATION_APP_ENV" required:"true"`
	Port         string `envconfig:"CIRCULATION_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CIRCULATION_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CIRCULATION_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"CIRCULATION_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CIRCULATION_DB_DSN"`
	Driver string `envconfig:"CIRCULATION_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CIRCULATION_DB_HOST"`
	LegacyPort     int    `envconfig:"CIRCULATION_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CIRCULATION_DB_USER"`
	LegacyPassword string `envconfig:"CIRCULATION_DB_PASSWORD"`
	LegacyName     string `envconfig:"CIRCULATION_DB_NAME"`
	LegacySSLMode  string `envconfig:"CIRCULATION_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CIRCULATION_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CIRCULATION_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CIRCULATION_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CIRCULATION_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the sqlite driver is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"CIRCULATION_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CIRCULATION_REDIS_ADDR"`
	Password     string        `envconfig:"CIRCULATION_REDIS_PASSWORD"`
	DB           int           `envconfig:"CIRCULATION_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CIRCULATION_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CIRCULATION_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CIRCULATION_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CIRCULATION_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CIRCULATION_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CIRCULATION_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CIRCULATION_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CIRCULATION_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CIRCULATION_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"CIRCULATION_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"CIRCULATION_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"CIRCULATION_PUBSUB_NOTIFICATION_TOPIC" default:"circulation-notifications"`
	CirculationTopic  string `envconfig:"CIRCULATION_PUBSUB_CIRCULATION_TOPIC" default:"circulation-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CIRCULATION_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CIRCULATION_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CIRCULATION_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"CIRCULATION_OUTBOX_RETENTION_DAYS" default:"30"`
}

// CirculationConfig holds the borrowing, reservation and fine policy.
type CirculationConfig struct {
	LoanPeriod       time.Duration `envconfig:"CIRCULATION_LOAN_PERIOD" default:"336h"`
	MaxRenewals      int           `envconfig:"CIRCULATION_MAX_RENEWALS" default:"2"`
	HoldWindow       time.Duration `envconfig:"CIRCULATION_HOLD_WINDOW" default:"48h"`
	PendingTTL       time.Duration `envconfig:"CIRCULATION_RESERVATION_PENDING_TTL" default:"720h"`
	FineThreshold    string        `envconfig:"CIRCULATION_FINE_THRESHOLD" default:"500"`
	DefaultDailyRate string        `envconfig:"CIRCULATION_FINE_DAILY_RATE" default:"50"`
	DefaultGraceDays int           `envconfig:"CIRCULATION_FINE_GRACE_DAYS" default:"0"`
	DefaultFineCap   string        `envconfig:"CIRCULATION_FINE_CAP"`
}

// Threshold parses the outstanding-fines threshold.
func (c CirculationConfig) Threshold() decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(c.FineThreshold))
	if err != nil {
		return decimal.Zero
	}
	return value
}

// DailyRate parses the default per-day fine.
func (c CirculationConfig) DailyRate() decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(c.DefaultDailyRate))
	if err != nil {
		return decimal.Zero
	}
	return value
}

// Cap returns the default fine cap, or nil when uncapped.
func (c CirculationConfig) Cap() *decimal.Decimal {
	raw := strings.TrimSpace(c.DefaultFineCap)
	if raw == "" {
		return nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &value
}

func (c CirculationConfig) validate() error {
	if c.LoanPeriod <= 0 {
		return fmt.Errorf("%s must be positive", EnvLoanPeriod)
	}
	if c.MaxRenewals < 0 {
		return fmt.Errorf("%s must not be negative", EnvMaxRenewals)
	}
	if c.HoldWindow <= 0 {
		return fmt.Errorf("%s must be positive", EnvHoldWindow)
	}
	for env, raw := range map[string]string{
		EnvFineThreshold: c.FineThreshold,
		EnvFineDailyRate: c.DefaultDailyRate,
		EnvFineCap:       c.DefaultFineCap,
	} {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
		if value.IsNegative() {
			return fmt.Errorf("%s must not be negative", env)
		}
	}
	return nil
}

type CronConfig struct {
	Interval time.Duration `envconfig:"CIRCULATION_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"CIRCULATION_CRON_LOCK_TTL" default:"10m"`
}

type RateLimitConfig struct {
	Window time.Duration `envconfig:"CIRCULATION_RATE_LIMIT_WINDOW" default:"1m"`
	Limit  int           `envconfig:"CIRCULATION_RATE_LIMIT_LIMIT" default:"120"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"CIRCULATION_CORS_ALLOWED_ORIGINS"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:circulation.db?cache=shared&_foreign_keys=on"
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
