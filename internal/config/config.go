package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"revenue-service/internal/processor"
)

type DBConfig struct {
	User     string `envconfig:"USER" default:"root"`
	Password string `envconfig:"PASSWORD"`
	Host     string `envconfig:"HOST" default:"127.0.0.1"`
	Port     string `envconfig:"PORT" default:"3306"`
	Name     string `envconfig:"NAME" default:"revenue"`
}

// DSN builds the MySQL data source name. Times are read back as UTC wall
// clock values since every stored datetime is naive.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

type RedisConfig struct {
	Addr     string `envconfig:"ADDR" default:"127.0.0.1:6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

type PlatformConfig struct {
	BaseURL   string        `envconfig:"BASE_URL" default:"https://m.fascard.com"`
	AccountID int64         `envconfig:"ACCOUNT_ID" default:"1"`
	Username  string        `envconfig:"USERNAME"`
	Password  string        `envconfig:"PASSWORD"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"60s"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"1600s"`
}

type ProcessorConfig struct {
	Environment       string        `envconfig:"ENVIRONMENT" default:"sandbox"`
	SandboxLoginID    string        `envconfig:"SANDBOX_LOGIN_ID"`
	SandboxKey        string        `envconfig:"SANDBOX_TRANSACTION_KEY"`
	SandboxURL        string        `envconfig:"SANDBOX_URL" default:"https://apitest.authorize.net/xml/v1/request.api"`
	ProductionLoginID string        `envconfig:"PRODUCTION_LOGIN_ID"`
	ProductionKey     string        `envconfig:"PRODUCTION_TRANSACTION_KEY"`
	ProductionURL     string        `envconfig:"PRODUCTION_URL" default:"https://api.authorize.net/xml/v1/request.api"`
	Timeout           time.Duration `envconfig:"TIMEOUT" default:"30s"`
}

// Credentials resolves the merchant credentials for the configured
// environment. It is called once at start-up.
func (c ProcessorConfig) Credentials() (processor.Credentials, error) {
	switch strings.ToLower(c.Environment) {
	case "production":
		return processor.Credentials{LoginID: c.ProductionLoginID, TransactionKey: c.ProductionKey, Endpoint: c.ProductionURL}, nil
	case "sandbox", "":
		return processor.Credentials{LoginID: c.SandboxLoginID, TransactionKey: c.SandboxKey, Endpoint: c.SandboxURL}, nil
	default:
		return processor.Credentials{}, fmt.Errorf("unknown processor environment %q", c.Environment)
	}
}

type MailConfig struct {
	Host      string   `envconfig:"HOST" default:"localhost"`
	Port      int      `envconfig:"PORT" default:"587"`
	Username  string   `envconfig:"USERNAME"`
	Password  string   `envconfig:"PASSWORD"`
	From      string   `envconfig:"FROM" default:"noreply@laundry.local"`
	ITEmails  []string `envconfig:"IT_EMAILS"`
	DefaultTo []string `envconfig:"DEFAULT_TO"`
}

type IngestConfig struct {
	LaundryGroupID uint   `envconfig:"LAUNDRY_GROUP_ID" default:"1"`
	PageLimit      int    `envconfig:"PAGE_LIMIT" default:"1000"`
	TrailingDays   int    `envconfig:"TRAILING_DAYS" default:"3"`
	ReportTimeZone string `envconfig:"REPORT_TIME_ZONE" default:"UTC"`
	LocalTimeZone  string `envconfig:"LOCAL_TIME_ZONE" default:"America/New_York"`
}

type RefundConfig struct {
	AdditionalBonusPause time.Duration `envconfig:"ADDITIONAL_BONUS_PAUSE" default:"30s"`
	SettlementTimeZone   string        `envconfig:"SETTLEMENT_TIME_ZONE" default:"America/New_York"`
	MidnightWindow       time.Duration `envconfig:"MIDNIGHT_WINDOW" default:"1000s"`
	AdminURL             string        `envconfig:"ADMIN_URL" default:"http://localhost:8080"`
	CompanyName          string        `envconfig:"COMPANY_NAME" default:"Aces Laundry"`
}

// StorageConfig names one Bolt file per process; bolt holds an exclusive
// file lock while open.
type StorageConfig struct {
	APIBoltPath    string `envconfig:"API_BOLT_PATH" default:"revenue-api.db"`
	WorkerBoltPath string `envconfig:"WORKER_BOLT_PATH" default:"revenue-worker.db"`
}

type ScheduleConfig struct {
	TransactionSync  string `envconfig:"TRANSACTION_SYNC" default:"*/15 * * * *"`
	UserSync         string `envconfig:"USER_SYNC" default:"0 */6 * * *"`
	Matching         string `envconfig:"MATCHING" default:"*/30 * * * *"`
	CheckAttribution string `envconfig:"CHECK_ATTRIBUTION" default:"0 5 * * *"`
	SettlementSweep  string `envconfig:"SETTLEMENT_SWEEP" default:"45 23 * * *"`
	PoolProcessing   string `envconfig:"POOL_PROCESSING" default:"0 * * * *"`
}

type Config struct {
	Env       string `envconfig:"APP_ENV" default:"development"`
	HTTPPort  string `envconfig:"PORT" default:"8080"`
	GRPCPort  string `envconfig:"GRPC_PORT" default:"50051"`
	DB        DBConfig
	Redis     RedisConfig
	Platform  PlatformConfig
	Processor ProcessorConfig
	Mail      MailConfig
	Ingest    IngestConfig
	Refund    RefundConfig
	Storage   StorageConfig
	Schedule  ScheduleConfig
}

// Load reads the first .env file found among paths (then ./.env) and
// overlays the process environment.
func Load(paths ...string) (*Config, error) {
	loaded := false
	for _, p := range paths {
		if err := godotenv.Load(p); err == nil {
			loaded = true
			break
		}
	}
	if !loaded {
		_ = godotenv.Load()
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	for _, tz := range []string{c.Ingest.ReportTimeZone, c.Ingest.LocalTimeZone, c.Refund.SettlementTimeZone} {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("invalid time zone %q: %w", tz, err)
		}
	}
	if c.Ingest.PageLimit <= 0 {
		return fmt.Errorf("INGEST_PAGE_LIMIT must be positive, got %d", c.Ingest.PageLimit)
	}
	if _, err := c.Processor.Credentials(); err != nil {
		return err
	}
	return nil
}

// Location loads a validated time zone name.
func Location(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
