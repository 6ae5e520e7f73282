package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects whether the daemon attaches to the ledger.
type Mode string

const (
	ModeRun  Mode = "run"
	ModeHalt Mode = "halt" // kill switch: no watcher, health reports NOT_SERVING
)

type Config struct {
	DatabaseURL string // PAYBRIDGE_DATABASE_URL (required)
	GRPCAddr    string // PAYBRIDGE_GRPC_ADDR (default ":9090")
	HTTPAddr    string // PAYBRIDGE_HTTP_ADDR (default ":8080")
	NATSURL     string // PAYBRIDGE_NATS_URL (optional, empty = no bus)
	AuthToken   string // PAYBRIDGE_AUTH_TOKEN (optional, empty = auth disabled)
	LogFormat   string // PAYBRIDGE_LOG_FORMAT ("text" or "json")
	Mode        Mode   // PAYBRIDGE_MODE (default "run")

	// Ledger settings
	RPCURL         string // PAYBRIDGE_RPC_URL
	PayrollAddress string // PAYBRIDGE_PAYROLL_ADDRESS
	OperatorKey    string // PAYBRIDGE_OPERATOR_KEY (hex, no 0x required)
	StartBlock     uint64 // PAYBRIDGE_START_BLOCK (0 = latest)

	// Payout settings
	StripeKey    string          // PAYBRIDGE_STRIPE_KEY
	RegistryPath string          // PAYBRIDGE_REGISTRY_PATH (default "employees.toml")
	USDRate      decimal.Decimal // PAYBRIDGE_USD_RATE (default 1)
	PayoutRPS    float64         // PAYBRIDGE_PAYOUT_RPS (default 5)

	// Pipeline settings
	Workers        int           // PAYBRIDGE_WORKERS (default 4)
	QueueSize      int           // PAYBRIDGE_QUEUE_SIZE (default 256)
	PayoutTimeout  time.Duration // PAYBRIDGE_PAYOUT_TIMEOUT (default 30s)
	SubmitTimeout  time.Duration // PAYBRIDGE_SUBMIT_TIMEOUT (default 30s)
	ConfirmTimeout time.Duration // PAYBRIDGE_CONFIRM_TIMEOUT (default 5m)

	ArtifactsDir string // PAYBRIDGE_ARTIFACTS_DIR (default "artifacts")

	// Sync settings
	SyncInterval   time.Duration // PAYBRIDGE_SYNC_INTERVAL (default 3m; 0 = disabled)
	SyncS3Bucket   string        // PAYBRIDGE_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // PAYBRIDGE_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // PAYBRIDGE_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // PAYBRIDGE_SYNC_S3_KEY (default "paybridge/claims.jsonl")
	SyncGitRepo    string        // PAYBRIDGE_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // PAYBRIDGE_SYNC_GIT_FILE (default "claims.jsonl")
	SyncGitBranch  string        // PAYBRIDGE_SYNC_GIT_BRANCH (default "main")
}

// Halted reports whether the kill switch is engaged.
func (c *Config) Halted() bool {
	return c.Mode == ModeHalt
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:    os.Getenv("PAYBRIDGE_DATABASE_URL"),
		GRPCAddr:       envOrDefault("PAYBRIDGE_GRPC_ADDR", ":9090"),
		HTTPAddr:       envOrDefault("PAYBRIDGE_HTTP_ADDR", ":8080"),
		NATSURL:        os.Getenv("PAYBRIDGE_NATS_URL"),
		AuthToken:      os.Getenv("PAYBRIDGE_AUTH_TOKEN"),
		LogFormat:      envOrDefault("PAYBRIDGE_LOG_FORMAT", "text"),
		Mode:           Mode(strings.ToLower(envOrDefault("PAYBRIDGE_MODE", string(ModeRun)))),
		RPCURL:         os.Getenv("PAYBRIDGE_RPC_URL"),
		PayrollAddress: os.Getenv("PAYBRIDGE_PAYROLL_ADDRESS"),
		OperatorKey:    strings.TrimPrefix(os.Getenv("PAYBRIDGE_OPERATOR_KEY"), "0x"),
		StripeKey:      os.Getenv("PAYBRIDGE_STRIPE_KEY"),
		RegistryPath:   envOrDefault("PAYBRIDGE_REGISTRY_PATH", "employees.toml"),
		ArtifactsDir:   envOrDefault("PAYBRIDGE_ARTIFACTS_DIR", "artifacts"),
		SyncS3Bucket:   os.Getenv("PAYBRIDGE_SYNC_S3_BUCKET"),
		SyncS3Endpoint: os.Getenv("PAYBRIDGE_SYNC_S3_ENDPOINT"),
		SyncS3Region:   envOrDefault("PAYBRIDGE_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:      envOrDefault("PAYBRIDGE_SYNC_S3_KEY", "paybridge/claims.jsonl"),
		SyncGitRepo:    os.Getenv("PAYBRIDGE_SYNC_GIT_REPO"),
		SyncGitFile:    envOrDefault("PAYBRIDGE_SYNC_GIT_FILE", "claims.jsonl"),
		SyncGitBranch:  envOrDefault("PAYBRIDGE_SYNC_GIT_BRANCH", "main"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("PAYBRIDGE_DATABASE_URL is required")
	}
	if c.Mode != ModeRun && c.Mode != ModeHalt {
		return nil, fmt.Errorf("PAYBRIDGE_MODE: unknown mode %q (want run or halt)", c.Mode)
	}
	if !c.Halted() {
		for key, v := range map[string]string{
			"PAYBRIDGE_RPC_URL":         c.RPCURL,
			"PAYBRIDGE_PAYROLL_ADDRESS": c.PayrollAddress,
			"PAYBRIDGE_OPERATOR_KEY":    c.OperatorKey,
			"PAYBRIDGE_STRIPE_KEY":      c.StripeKey,
		} {
			if v == "" {
				return nil, fmt.Errorf("%s is required unless PAYBRIDGE_MODE=halt", key)
			}
		}
	}

	rate, err := decimal.NewFromString(envOrDefault("PAYBRIDGE_USD_RATE", "1"))
	if err != nil {
		return nil, fmt.Errorf("PAYBRIDGE_USD_RATE: %w", err)
	}
	if !rate.IsPositive() {
		return nil, fmt.Errorf("PAYBRIDGE_USD_RATE must be positive")
	}
	c.USDRate = rate

	if c.StartBlock, err = strconv.ParseUint(envOrDefault("PAYBRIDGE_START_BLOCK", "0"), 10, 64); err != nil {
		return nil, fmt.Errorf("PAYBRIDGE_START_BLOCK: %w", err)
	}
	if c.PayoutRPS, err = strconv.ParseFloat(envOrDefault("PAYBRIDGE_PAYOUT_RPS", "5"), 64); err != nil {
		return nil, fmt.Errorf("PAYBRIDGE_PAYOUT_RPS: %w", err)
	}
	if c.Workers, err = positiveInt("PAYBRIDGE_WORKERS", "4"); err != nil {
		return nil, err
	}
	if c.QueueSize, err = positiveInt("PAYBRIDGE_QUEUE_SIZE", "256"); err != nil {
		return nil, err
	}

	for _, d := range []struct {
		key, fallback string
		dst           *time.Duration
	}{
		{"PAYBRIDGE_PAYOUT_TIMEOUT", "30s", &c.PayoutTimeout},
		{"PAYBRIDGE_SUBMIT_TIMEOUT", "30s", &c.SubmitTimeout},
		{"PAYBRIDGE_CONFIRM_TIMEOUT", "5m", &c.ConfirmTimeout},
		{"PAYBRIDGE_SYNC_INTERVAL", "3m", &c.SyncInterval},
	} {
		v, err := time.ParseDuration(envOrDefault(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}

	return c, nil
}

func positiveInt(key, fallback string) (int, error) {
	n, err := strconv.Atoi(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return n, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
