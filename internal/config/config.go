package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"liqengine/internal/engine"
)

// Config is the process configuration, loaded from LIQ_* env vars with a
// .env overlay for local development.
type Config struct {
	HTTPAddr    string `envconfig:"LIQ_HTTP_ADDR" default:":8080"`
	GRPCAddr    string `envconfig:"LIQ_GRPC_ADDR" default:":9090"`
	MetricsAddr string `envconfig:"LIQ_METRICS_ADDR" default:":9100"`

	PostgresDSN   string `envconfig:"LIQ_POSTGRES_DSN"`
	NATSURL       string `envconfig:"LIQ_NATS_URL" default:"nats://localhost:4222"`
	MigrationsDir string `envconfig:"LIQ_MIGRATIONS_DIR" default:"migrations"`

	// Engine policy
	MinHealthFactor    int64    `envconfig:"LIQ_MIN_HEALTH_FACTOR" default:"10000"`
	MaxHealthFactor    int64    `envconfig:"LIQ_MAX_HEALTH_FACTOR" default:"0"`
	PremiumScaleFactor int64    `envconfig:"LIQ_PREMIUM_SCALE_FACTOR" default:"10000"`
	FeeScaleFactor     int64    `envconfig:"LIQ_FEE_SCALE_FACTOR" default:"10000"`
	InlineHealthFloor  int64    `envconfig:"LIQ_INLINE_HEALTH_FLOOR" default:"0"`
	FeeMode            string   `envconfig:"LIQ_FEE_MODE" default:"sweep"`
	RepayMode          string   `envconfig:"LIQ_REPAY_MODE" default:"direct"`
	FeeSink            string   `envconfig:"LIQ_FEE_SINK"`
	HoldingAccount     string   `envconfig:"LIQ_HOLDING_ACCOUNT"`
	AllowedLedgers     []string `envconfig:"LIQ_ALLOWED_LEDGERS"`

	// Bootstrap ledger. Additional ledgers are registered at runtime.
	LedgerID     string `envconfig:"LIQ_LEDGER_ID" default:"margin-main"`
	DebtAsset    string `envconfig:"LIQ_DEBT_ASSET" default:"USDC"`
	FeeRate      int64  `envconfig:"LIQ_FEE_RATE" default:"150"`
	DiscountRate int64  `envconfig:"LIQ_DISCOUNT_RATE" default:"9600"`
	MinDebt      int64  `envconfig:"LIQ_MIN_DEBT" default:"0"`

	// Workers
	PersistBatchSize    int           `envconfig:"LIQ_PERSIST_BATCH_SIZE" default:"64"`
	PersistFlushTimeout time.Duration `envconfig:"LIQ_PERSIST_FLUSH_TIMEOUT" default:"200ms"`
	ResultBuffer        int           `envconfig:"LIQ_RESULT_BUFFER" default:"1024"`
	PublishBuffer       int           `envconfig:"LIQ_PUBLISH_BUFFER" default:"1024"`
}

// Load reads the .env overlay (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	return &cfg, nil
}

// EngineConfig translates the env shape into the engine's policy struct.
// An empty FeeSink stays uuid.Nil; the caller decides whether to supply
// one or fail engine construction.
func (c *Config) EngineConfig() (engine.Config, error) {
	feeMode, err := engine.ParseFeeMode(c.FeeMode)
	if err != nil {
		return engine.Config{}, err
	}
	repayMode, err := engine.ParseRepayMode(c.RepayMode)
	if err != nil {
		return engine.Config{}, err
	}

	feeSink, err := parseOptionalUUID(c.FeeSink)
	if err != nil {
		return engine.Config{}, fmt.Errorf("parse LIQ_FEE_SINK: %w", err)
	}
	holding, err := parseOptionalUUID(c.HoldingAccount)
	if err != nil {
		return engine.Config{}, fmt.Errorf("parse LIQ_HOLDING_ACCOUNT: %w", err)
	}

	return engine.Config{
		MinHealthFactor:    c.MinHealthFactor,
		MaxHealthFactor:    c.MaxHealthFactor,
		PremiumScaleFactor: c.PremiumScaleFactor,
		FeeScaleFactor:     c.FeeScaleFactor,
		InlineHealthFloor:  c.InlineHealthFloor,
		FeeMode:            feeMode,
		RepayMode:          repayMode,
		FeeSink:            feeSink,
		HoldingAccount:     holding,
		AllowedLedgers:     c.AllowedLedgers,
	}, nil
}

func parseOptionalUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}
