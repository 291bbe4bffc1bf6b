package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	ProofLocal = "local"
	ProofS3    = "s3"
	ProofGCS   = "gcs"
)

// Config is shared by the API and the worker; the worker ignores the HTTP
// and identity fields.
type Config struct {
	Addr            string
	Store           string
	DatabaseURL     string
	SQLitePath      string
	SupabaseURL     string
	SupabaseAnonKey string
	AdminToken      string
	CatalogFile     string
	WithdrawFee     decimal.Decimal
	PKRRate         decimal.Decimal

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string
	KafkaTopic   string

	ProofBackend   string
	ProofDir       string
	ProofBucket    string
	ProofRegion    string
	ProofEndpoint  string
	ProofPublicURL string

	RateLimitRPS   int
	RateLimitBurst int
	RequestTimeout time.Duration

	RolloverCron  string
	WorkerRunOnce bool
}

type CLIConfig struct {
	APIBaseURL string
}

// LoadAPIFromEnv reads the API configuration; identity settings are required.
func LoadAPIFromEnv() (Config, error) {
	cfg, err := load()
	if err != nil {
		return cfg, err
	}
	if cfg.SupabaseURL == "" {
		return cfg, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	return cfg, nil
}

// LoadWorkerFromEnv reads the worker configuration. The worker only needs a
// shared store, so the in-memory store is rejected.
func LoadWorkerFromEnv() (Config, error) {
	cfg, err := load()
	if err != nil {
		return cfg, err
	}
	if cfg.Store == StoreMemory {
		return cfg, fmt.Errorf("worker needs a persistent store, set CASHFORGE_STORE")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("CF_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func load() (Config, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("CASHFORGE_API_ADDR", ":8080")
	}

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	defaultStore := StoreMemory
	if databaseURL != "" {
		defaultStore = StorePostgres
	}

	cfg := Config{
		Addr:            addr,
		Store:           strings.ToLower(envDefault("CASHFORGE_STORE", defaultStore)),
		DatabaseURL:     databaseURL,
		SQLitePath:      envDefault("CASHFORGE_SQLITE_PATH", "cashforge.db"),
		SupabaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey: strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		AdminToken:      strings.TrimSpace(os.Getenv("CASHFORGE_ADMIN_TOKEN")),
		CatalogFile:     strings.TrimSpace(os.Getenv("CASHFORGE_CATALOG_FILE")),
		WithdrawFee:     envDecimalDefault("CASHFORGE_WITHDRAW_FEE", decimal.RequireFromString("0.07")),
		PKRRate:         envDecimalDefault("CASHFORGE_PKR_RATE", decimal.NewFromInt(280)),
		RedisAddr:       strings.TrimSpace(os.Getenv("CASHFORGE_REDIS_ADDR")),
		RedisPassword:   os.Getenv("CASHFORGE_REDIS_PASSWORD"),
		RedisDB:         envIntDefault("CASHFORGE_REDIS_DB", 0),
		KafkaBrokers:    envList("KAFKA_BROKERS"),
		KafkaTopic:      envDefault("CASHFORGE_KAFKA_TOPIC", "cashforge.transactions"),
		ProofBackend:    strings.ToLower(envDefault("CASHFORGE_PROOF_BACKEND", ProofLocal)),
		ProofDir:        envDefault("CASHFORGE_PROOF_DIR", "proofs"),
		ProofBucket:     strings.TrimSpace(os.Getenv("CASHFORGE_PROOF_BUCKET")),
		ProofRegion:     envDefault("CASHFORGE_PROOF_REGION", "us-east-1"),
		ProofEndpoint:   strings.TrimSpace(os.Getenv("CASHFORGE_PROOF_ENDPOINT")),
		ProofPublicURL:  strings.TrimRight(strings.TrimSpace(os.Getenv("CASHFORGE_PROOF_PUBLIC_URL")), "/"),
		RateLimitRPS:    envIntDefault("CASHFORGE_RATE_LIMIT_RPS", 20),
		RateLimitBurst:  envIntDefault("CASHFORGE_RATE_LIMIT_BURST", 40),
		RequestTimeout:  envDurationDefault("CASHFORGE_REQUEST_TIMEOUT", 60*time.Second),
		RolloverCron:    envDefault("CASHFORGE_ROLLOVER_CRON", "5 0 0 * * *"),
		WorkerRunOnce:   envBoolDefault("CASHFORGE_WORKER_RUN_ONCE", false),
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings that cannot work together.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("CASHFORGE_SQLITE_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown CASHFORGE_STORE %q", c.Store)
	}

	switch c.ProofBackend {
	case ProofLocal:
	case ProofS3, ProofGCS:
		if c.ProofBucket == "" {
			return fmt.Errorf("CASHFORGE_PROOF_BUCKET is required for the %s proof backend", c.ProofBackend)
		}
	default:
		return fmt.Errorf("unknown CASHFORGE_PROOF_BACKEND %q", c.ProofBackend)
	}

	if c.WithdrawFee.IsNegative() || c.WithdrawFee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("CASHFORGE_WITHDRAW_FEE must be in [0, 1)")
	}
	if !c.PKRRate.IsPositive() {
		return fmt.Errorf("CASHFORGE_PKR_RATE must be positive")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}
	return nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDecimalDefault(key string, fallback decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
