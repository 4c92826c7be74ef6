package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "VPNPAY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "VPNPAY_DB_DSN"
	EnvDBHost = "VPNPAY_DB_HOST"
	EnvDBUser = "VPNPAY_DB_USER"
	EnvDBName = "VPNPAY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Fraud        FraudConfig
	Payments     PaymentsConfig
	Retry        RetryConfig
	Refunds      RefundsConfig
	Square       SquareConfig
	Wallet       WalletProviderConfig
	Hosted       HostedProviderConfig
	Crypto       CryptoProviderConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Eventing     EventingConfig
	Cron         CronConfig
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
	Env          string `envconfig:"VPNPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"VPNPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"VPNPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VPNPAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"VPNPAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"VPNPAY_DB_DSN"`
	Driver string `envconfig:"VPNPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"VPNPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"VPNPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"VPNPAY_DB_USER"`
	LegacyPassword string `envconfig:"VPNPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"VPNPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"VPNPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"VPNPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VPNPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VPNPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VPNPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"VPNPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"VPNPAY_REDIS_ADDR"`
	Password     string        `envconfig:"VPNPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"VPNPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VPNPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VPNPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VPNPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VPNPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VPNPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"VPNPAY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"VPNPAY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"VPNPAY_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"VPNPAY_AUTO_MIGRATE" default:"false"`
}

// FraudConfig carries the scoring weights and the rejection threshold so
// tuning never requires a redeploy of scoring logic.
type FraudConfig struct {
	Threshold           float64       `envconfig:"VPNPAY_FRAUD_THRESHOLD" default:"0.7"`
	VelocityWeight      float64       `envconfig:"VPNPAY_FRAUD_VELOCITY_WEIGHT" default:"0.4"`
	VelocityMaxCount    int           `envconfig:"VPNPAY_FRAUD_VELOCITY_MAX_COUNT" default:"4"`
	VelocityWindow      time.Duration `envconfig:"VPNPAY_FRAUD_VELOCITY_WINDOW" default:"5m"`
	MagnitudeWeight     float64       `envconfig:"VPNPAY_FRAUD_MAGNITUDE_WEIGHT" default:"0.3"`
	MagnitudeMultiplier float64       `envconfig:"VPNPAY_FRAUD_MAGNITUDE_MULTIPLIER" default:"5"`
	IPReputationWeight  float64       `envconfig:"VPNPAY_FRAUD_IP_REPUTATION_WEIGHT" default:"0.5"`
}

type PaymentsConfig struct {
	PendingExpiry   time.Duration `envconfig:"VPNPAY_PAYMENTS_PENDING_EXPIRY" default:"30m"`
	ProviderTimeout time.Duration `envconfig:"VPNPAY_PAYMENTS_PROVIDER_TIMEOUT" default:"15s"`
}

type RetryConfig struct {
	QueueSize   int           `envconfig:"VPNPAY_RETRY_QUEUE_SIZE" default:"256"`
	Workers     int           `envconfig:"VPNPAY_RETRY_WORKERS" default:"4"`
	MaxAttempts int           `envconfig:"VPNPAY_RETRY_MAX_ATTEMPTS" default:"5"`
	BaseBackoff time.Duration `envconfig:"VPNPAY_RETRY_BASE_BACKOFF" default:"2s"`
	MaxBackoff  time.Duration `envconfig:"VPNPAY_RETRY_MAX_BACKOFF" default:"2m"`
	ClaimTTL    time.Duration `envconfig:"VPNPAY_RETRY_CLAIM_TTL" default:"5m"`
	SweepTick   time.Duration `envconfig:"VPNPAY_RETRY_SWEEP_TICK" default:"1s"`
}

type RefundsConfig struct {
	ImmediateRevocation bool `envconfig:"VPNPAY_REFUND_IMMEDIATE_REVOCATION" default:"false"`
}

type SquareConfig struct {
	AccessToken   string `envconfig:"VPNPAY_SQUARE_ACCESS_TOKEN"`
	LocationID    string `envconfig:"VPNPAY_SQUARE_LOCATION_ID"`
	WebhookSecret string `envconfig:"VPNPAY_SQUARE_WEBHOOK_SECRET"`
	Env           string `envconfig:"VPNPAY_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type WalletProviderConfig struct {
	BaseURL       string `envconfig:"VPNPAY_WALLET_BASE_URL"`
	APIKey        string `envconfig:"VPNPAY_WALLET_API_KEY"`
	WebhookSecret string `envconfig:"VPNPAY_WALLET_WEBHOOK_SECRET"`
}

type HostedProviderConfig struct {
	BaseURL       string `envconfig:"VPNPAY_HOSTED_BASE_URL"`
	APIKey        string `envconfig:"VPNPAY_HOSTED_API_KEY"`
	WebhookSecret string `envconfig:"VPNPAY_HOSTED_WEBHOOK_SECRET"`
	ReturnURL     string `envconfig:"VPNPAY_HOSTED_RETURN_URL"`
}

type CryptoProviderConfig struct {
	BaseURL       string `envconfig:"VPNPAY_CRYPTO_BASE_URL"`
	APIKey        string `envconfig:"VPNPAY_CRYPTO_API_KEY"`
	WebhookSecret string `envconfig:"VPNPAY_CRYPTO_WEBHOOK_SECRET"`
	Network       string `envconfig:"VPNPAY_CRYPTO_NETWORK" default:"mainnet"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"VPNPAY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"VPNPAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"VPNPAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"VPNPAY_PUBSUB_NOTIFICATION_TOPIC" default:"vpnpay-notification-events"`
	AuditTopic               string `envconfig:"VPNPAY_PUBSUB_AUDIT_TOPIC" default:"vpnpay-audit-events"`
	NotificationSubscription string `envconfig:"VPNPAY_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
	AuditSubscription        string `envconfig:"VPNPAY_PUBSUB_AUDIT_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"VPNPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"VPNPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"VPNPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval       time.Duration `envconfig:"VPNPAY_CRON_INTERVAL" default:"1m"`
	LockTTL        time.Duration `envconfig:"VPNPAY_CRON_LOCK_TTL" default:"5m"`
	BatchSize      int           `envconfig:"VPNPAY_CRON_BATCH_SIZE" default:"200"`
	ReconcileGrace time.Duration `envconfig:"VPNPAY_CRON_RECONCILE_GRACE" default:"2m"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"VPNPAY_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
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
