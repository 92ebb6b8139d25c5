// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Service names accepted by SERVICE.
const (
	ServiceIntake   = "intake"
	ServicePolicy   = "policy"
	ServiceCompute  = "compute"
	ServiceExecutor = "executor"
	ServiceAll      = "all"
)

// Store backends accepted by STORE_BACKEND.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
)

// DefaultPriceAPIURL is the Jupiter lite quote endpoint.
const DefaultPriceAPIURL = "https://lite-api.jup.ag/swap/v1/quote"

// Config holds all application configuration.
type Config struct {
	Service string
	Host    string

	IntakePort   string
	PolicyPort   string
	ComputePort  string
	ExecutorPort string

	IntakeURL   string
	PolicyURL   string
	ComputeURL  string
	ExecutorURL string
	HTTPTimeout time.Duration

	StoreBackend string
	DBPath       string
	DatabaseURL  string
	SessionTTL   time.Duration

	Solana SolanaConfig

	PriceAPIURL       string
	PriceFallbackOnly bool

	PolicyRulesPath  string
	ClassifierAddr   string
	ClassifierListen string
	PerplexityAPIKey string

	RateLimit      RateLimitConfig
	ChatTranscript ChatTranscriptConfig

	MessageSilentDrop bool
	CORSOrigins       []string
	LogLevel          slog.Level
}

// RateLimitConfig throttles intake requests per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ChatTranscriptConfig controls NDJSON chat transcript logging.
type ChatTranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// SolanaConfig controls ledger submission and balance lookups.
type SolanaConfig struct {
	RPCURL         string
	Cluster        string
	WalletPath     string
	ConfirmTimeout time.Duration
	Lamports       uint64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	host := getEnv("HOST", "127.0.0.1")
	intakePort := getEnv("INTAKE_PORT", "8101")
	policyPort := getEnv("POLICY_PORT", "8102")
	computePort := getEnv("COMPUTE_PORT", "8103")
	executorPort := getEnv("EXECUTOR_PORT", "8104")

	lamports := getEnvInt("TX_LAMPORTS", 1000)
	if lamports < 0 {
		lamports = 1000
	}

	cfg := &Config{
		Service:      strings.ToLower(getEnv("SERVICE", ServiceAll)),
		Host:         host,
		IntakePort:   intakePort,
		PolicyPort:   policyPort,
		ComputePort:  computePort,
		ExecutorPort: executorPort,
		IntakeURL:    getEnv("INTAKE_URL", serviceURL(host, intakePort)),
		PolicyURL:    getEnv("POLICY_URL", serviceURL(host, policyPort)),
		ComputeURL:   getEnv("COMPUTE_URL", serviceURL(host, computePort)),
		ExecutorURL:  getEnv("EXECUTOR_URL", serviceURL(host, executorPort)),
		HTTPTimeout:  getEnvDuration("HTTP_TIMEOUT", 30*time.Second),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		DBPath:       getEnv("DB_PATH", "./data/cypherguy.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SessionTTL:   getEnvDuration("SESSION_TTL", 0),

		Solana: SolanaConfig{
			RPCURL:         getEnv("SOLANA_RPC_URL", "https://api.devnet.solana.com"),
			Cluster:        getEnv("SOLANA_CLUSTER", "devnet"),
			WalletPath:     expandHome(getEnv("SOLANA_WALLET_PATH", "~/.config/solana/devnet-wallet.json")),
			ConfirmTimeout: getEnvDuration("CONFIRM_TIMEOUT", 30*time.Second),
			Lamports:       uint64(lamports),
		},

		PriceAPIURL:       getEnv("PRICE_API_URL", DefaultPriceAPIURL),
		PriceFallbackOnly: getEnvBool("PRICE_FALLBACK_ONLY", false),

		PolicyRulesPath:  getEnv("POLICY_RULES_PATH", ""),
		ClassifierAddr:   getEnv("CLASSIFIER_ADDR", ""),
		ClassifierListen: getEnv("CLASSIFIER_LISTEN", ""),
		PerplexityAPIKey: getEnv("PERPLEXITY_API_KEY", ""),

		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ChatTranscript: ChatTranscriptConfig{
			Enabled:   getEnvBool("CHAT_LOG_ENABLED", false),
			Dir:       getEnv("CHAT_LOG_DIR", "./data/logs/chat"),
			QueueSize: getEnvInt("CHAT_LOG_QUEUE_SIZE", 1000),
		},

		MessageSilentDrop: getEnvBool("MESSAGE_SILENT_DROP", false),
		CORSOrigins:       splitList(getEnv("CORS_ORIGINS", "")),
		LogLevel:          parseLevel(getEnv("LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	switch c.Service {
	case ServiceIntake, ServicePolicy, ServiceCompute, ServiceExecutor, ServiceAll:
	default:
		return fmt.Errorf("SERVICE must be one of intake, policy, compute, executor, all (got %q)", c.Service)
	}
	for name, port := range map[string]string{
		"INTAKE_PORT":   c.IntakePort,
		"POLICY_PORT":   c.PolicyPort,
		"COMPUTE_PORT":  c.ComputePort,
		"EXECUTOR_PORT": c.ExecutorPort,
	} {
		if port == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
	}
	switch c.StoreBackend {
	case StoreMemory:
	case StoreSQLite, StoreBolt:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty when STORE_BACKEND=%s", c.StoreBackend)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL cannot be empty when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, sqlite, bolt, postgres (got %q)", c.StoreBackend)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be > 0")
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("SESSION_TTL cannot be negative")
	}
	if c.ChatTranscript.Enabled && c.ChatTranscript.Dir == "" {
		return fmt.Errorf("CHAT_LOG_DIR cannot be empty when CHAT_LOG_ENABLED=true")
	}
	if c.ChatTranscript.QueueSize <= 0 {
		return fmt.Errorf("CHAT_LOG_QUEUE_SIZE must be > 0")
	}
	if c.Solana.ConfirmTimeout <= 0 {
		return fmt.Errorf("CONFIRM_TIMEOUT must be > 0")
	}
	return nil
}

// Runs reports whether the given service is served by this process.
func (c *Config) Runs(service string) bool {
	return c.Service == ServiceAll || c.Service == service
}

// ExplorerURL returns the block explorer link for a transaction signature.
func (c SolanaConfig) ExplorerURL(signature string) string {
	return fmt.Sprintf("https://explorer.solana.com/tx/%s?cluster=%s", signature, c.Cluster)
}

func serviceURL(host, port string) string {
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return "http://" + host + ":" + port
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("30s") or bare seconds ("30").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
