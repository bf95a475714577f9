package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "ATELIER"

	AppEnvDev  = "development"
	AppEnvProd = "production"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Gateway      GatewayConfig
	SMTP         SMTPConfig
	Studio       StudioConfig
	FeatureFlags FeatureFlags
}

// FeatureFlags toggles optional behaviors per environment.
type FeatureFlags struct {
	AutoMigrate     bool `envconfig:"ATELIER_FF_AUTO_MIGRATE" default:"false"`
	SessionGenerate bool `envconfig:"ATELIER_FF_SESSION_GENERATE" default:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ATELIER_APP_ENV" required:"true"`
	Port         string `envconfig:"ATELIER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ATELIER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ATELIER_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"ATELIER_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"ATELIER_DB_DSN"`
	Driver string `envconfig:"ATELIER_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"ATELIER_DB_HOST"`
	Port     int    `envconfig:"ATELIER_DB_PORT" default:"5432"`
	User     string `envconfig:"ATELIER_DB_USER"`
	Password string `envconfig:"ATELIER_DB_PASSWORD"`
	Name     string `envconfig:"ATELIER_DB_NAME"`
	SSLMode  string `envconfig:"ATELIER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ATELIER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ATELIER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ATELIER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ATELIER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	if db.Host == "" {
		missing = append(missing, "ATELIER_DB_HOST")
	}
	if db.User == "" {
		missing = append(missing, "ATELIER_DB_USER")
	}
	if db.Name == "" {
		missing = append(missing, "ATELIER_DB_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("database config incomplete: set ATELIER_DB_DSN or %s", strings.Join(missing, ", "))
	}

	db.DSN = fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(db.User),
		url.QueryEscape(db.Password),
		db.Host,
		db.Port,
		db.Name,
		db.SSLMode,
	)
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"ATELIER_REDIS_URL"`
	Address      string        `envconfig:"ATELIER_REDIS_ADDR"`
	Password     string        `envconfig:"ATELIER_REDIS_PASSWORD"`
	DB           int           `envconfig:"ATELIER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ATELIER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ATELIER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ATELIER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ATELIER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ATELIER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ATELIER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ATELIER_JWT_ISSUER" default:"atelier"`
	ExpirationMinutes int    `envconfig:"ATELIER_JWT_EXPIRATION_MINUTES" default:"60"`
}

// GatewayConfig holds credentials for the card payment gateway.
type GatewayConfig struct {
	TerminalKey     string `envconfig:"ATELIER_GATEWAY_TERMINAL_KEY"`
	Password        string `envconfig:"ATELIER_GATEWAY_PASSWORD"`
	BaseURL         string `envconfig:"ATELIER_GATEWAY_BASE_URL" default:"https://securepay.example.com/v2"`
	SuccessURL      string `envconfig:"ATELIER_GATEWAY_SUCCESS_URL"`
	FailURL         string `envconfig:"ATELIER_GATEWAY_FAIL_URL"`
	NotificationURL string `envconfig:"ATELIER_GATEWAY_NOTIFICATION_URL"`

	WebhookDedupTTL time.Duration `envconfig:"ATELIER_GATEWAY_WEBHOOK_DEDUP_TTL" default:"24h"`
}

func (g GatewayConfig) Enabled() bool {
	return g.TerminalKey != "" && g.Password != ""
}

type SMTPConfig struct {
	Host     string `envconfig:"ATELIER_SMTP_HOST"`
	Port     int    `envconfig:"ATELIER_SMTP_PORT" default:"587"`
	User     string `envconfig:"ATELIER_SMTP_USER"`
	Password string `envconfig:"ATELIER_SMTP_PASSWORD"`
	From     string `envconfig:"ATELIER_SMTP_FROM"`
	TestMode bool   `envconfig:"ATELIER_SMTP_TEST_MODE" default:"false"`
}

// StudioConfig captures the business rules that vary per deployment.
type StudioConfig struct {
	UTCOffsetHours          int `envconfig:"ATELIER_STUDIO_UTC_OFFSET_HOURS" default:"7"`
	CancellationWindowHours int `envconfig:"ATELIER_STUDIO_CANCELLATION_WINDOW_HOURS" default:"24"`
	SubscriptionDiscountPct int `envconfig:"ATELIER_STUDIO_SUBSCRIPTION_DISCOUNT_PCT" default:"10"`
	SessionHorizonMonths    int `envconfig:"ATELIER_STUDIO_SESSION_HORIZON_MONTHS" default:"6"`
	MaxGenerationDays       int `envconfig:"ATELIER_STUDIO_MAX_GENERATION_DAYS" default:"366"`
}
