package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "certledger"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Ledger       LedgerConfig
	ContentStore ContentStoreConfig
	Issuance     IssuanceConfig
	Reconcile    ReconcileConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"CERTLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"CERTLEDGER_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CERTLEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CERTLEDGER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CERTLEDGER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CERTLEDGER_DB_DSN"`
	Driver string `envconfig:"CERTLEDGER_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"CERTLEDGER_DB_HOST"`
	Port     int    `envconfig:"CERTLEDGER_DB_PORT" default:"5432"`
	User     string `envconfig:"CERTLEDGER_DB_USER"`
	Password string `envconfig:"CERTLEDGER_DB_PASSWORD"`
	Name     string `envconfig:"CERTLEDGER_DB_NAME"`
	SSLMode  string `envconfig:"CERTLEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CERTLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CERTLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CERTLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CERTLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CERTLEDGER_REDIS_URL"`
	Address      string        `envconfig:"CERTLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"CERTLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"CERTLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CERTLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CERTLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CERTLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CERTLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CERTLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// LedgerConfig wires the JSON-RPC contract gateway.
type LedgerConfig struct {
	RPCURL          string        `envconfig:"CERTLEDGER_LEDGER_RPC_URL" required:"true"`
	ContractAddress string        `envconfig:"CERTLEDGER_LEDGER_CONTRACT_ADDRESS" required:"true"`
	AccountAddress  string        `envconfig:"CERTLEDGER_LEDGER_ACCOUNT_ADDRESS" required:"true"`
	RequestTimeout  time.Duration `envconfig:"CERTLEDGER_LEDGER_REQUEST_TIMEOUT" default:"30s"`
	InclusionWindow time.Duration `envconfig:"CERTLEDGER_LEDGER_INCLUSION_WINDOW" default:"3m"`
	ReceiptPollBase time.Duration `envconfig:"CERTLEDGER_LEDGER_RECEIPT_POLL_INTERVAL" default:"2s"`
	// SafetyMarginPct widens the cost estimate before the balance check.
	// Floor of 10 enforced at the gateway.
	SafetyMarginPct int           `envconfig:"CERTLEDGER_LEDGER_SAFETY_MARGIN_PCT" default:"15"`
	EventLookback   uint64        `envconfig:"CERTLEDGER_LEDGER_EVENT_LOOKBACK_BLOCKS" default:"128"`
	EventPoll       time.Duration `envconfig:"CERTLEDGER_LEDGER_EVENT_POLL_INTERVAL" default:"5s"`
}

type ContentStoreConfig struct {
	APIURL         string        `envconfig:"CERTLEDGER_CONTENT_API_URL" default:"https://ipfs.infura.io:5001"`
	GatewayURL     string        `envconfig:"CERTLEDGER_CONTENT_GATEWAY_URL" default:"https://ipfs.io/ipfs/"`
	ProjectID      string        `envconfig:"CERTLEDGER_CONTENT_PROJECT_ID"`
	ProjectSecret  string        `envconfig:"CERTLEDGER_CONTENT_PROJECT_SECRET"`
	RequestTimeout time.Duration `envconfig:"CERTLEDGER_CONTENT_REQUEST_TIMEOUT" default:"30s"`
}

// IssuanceConfig controls issuance behavior beyond the state machine.
type IssuanceConfig struct {
	// CustodialAddress receives certificates issued without a destination
	// (custodial issuance mode). Required to enable the mode.
	CustodialAddress string `envconfig:"CERTLEDGER_ISSUANCE_CUSTODIAL_ADDRESS"`
	InstitutionName  string `envconfig:"CERTLEDGER_ISSUANCE_INSTITUTION_NAME" default:"Veridia Institute"`
}

type ReconcileConfig struct {
	SweepInterval  time.Duration `envconfig:"CERTLEDGER_RECONCILE_SWEEP_INTERVAL" default:"5m"`
	PendingTxAge   time.Duration `envconfig:"CERTLEDGER_RECONCILE_PENDING_TX_AGE" default:"10m"`
	SweepBatchSize int           `envconfig:"CERTLEDGER_RECONCILE_SWEEP_BATCH" default:"100"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CERTLEDGER_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	parts := map[string]string{
		"CERTLEDGER_DB_HOST": db.Host,
		"CERTLEDGER_DB_USER": db.User,
		"CERTLEDGER_DB_NAME": db.Name,
	}
	for _, key := range []string{"CERTLEDGER_DB_HOST", "CERTLEDGER_DB_USER", "CERTLEDGER_DB_NAME"} {
		if parts[key] == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either CERTLEDGER_DB_DSN or %s are required", strings.Join(missing, ", "))
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
