// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/finlake/tradeflow/model"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig           `yaml:"server"`
	Signing       SigningConfig          `yaml:"signing"`
	Stages        map[string]StageConfig `yaml:"stages"`
	ContextLookup ContextLookupConfig    `yaml:"context_lookup"`
	StatusStore   StatusStoreConfig      `yaml:"status_store"`
	RecordStore   RecordStoreConfig      `yaml:"record_store"`
	Idempotency   IdempotencyConfig      `yaml:"idempotency"`
	Observability ObservabilityConfig    `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// SigningConfig describes outbound request signing. The signing key itself
// is read from the environment variable named by KeyEnv, never from the
// config file or source.
type SigningConfig struct {
	KeyEnv   string        `yaml:"key_env"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// StageConfig describes one remote stage agent.
type StageConfig struct {
	Endpoint       string               `yaml:"endpoint"`
	Timeout        time.Duration        `yaml:"timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ContextLookupConfig describes the optional memory/context lookup target.
// Lookup failures degrade to "proceed without context" and never fail a
// session.
type ContextLookupConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	Endpoint       string               `yaml:"endpoint"`
	Timeout        time.Duration        `yaml:"timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig describes retry settings per stage target.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// CircuitBreakerConfig describes circuit breaker settings per stage target.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// StatusStoreConfig describes workflow-status persistence settings.
type StatusStoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Retention       time.Duration `yaml:"retention"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// RecordStoreConfig describes canonical-record persistence settings.
// The bank and counterparty tables are distinct storage targets; the
// table router decides between them before any write.
type RecordStoreConfig struct {
	Driver            string `yaml:"driver"`
	DSNEnv            string `yaml:"dsn_env"`
	BankTable         string `yaml:"bank_table"`
	CounterpartyTable string `yaml:"counterparty_table"`
}

// IdempotencyConfig describes idempotency guard settings.
type IdempotencyConfig struct {
	Driver  string        `yaml:"driver"`
	AddrEnv string        `yaml:"addr_env"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values. Per-stage retry
// budgets follow the pipeline's risk profile: the PDF stage gets fewer
// attempts than the LLM extraction and persistence-heavy stages.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Signing: SigningConfig{
			KeyEnv:   "TRADEFLOW_SIGNING_KEY",
			Issuer:   "tradeflow-orchestrator",
			TokenTTL: 2 * time.Minute,
		},
		Stages: map[string]StageConfig{
			model.StagePDFAdapter: {
				Timeout:        120 * time.Second,
				Retry:          RetryConfig{MaxAttempts: 2},
				CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: 60 * time.Second},
			},
			model.StageExtraction: {
				Timeout:        300 * time.Second,
				Retry:          RetryConfig{MaxAttempts: 3},
				CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: 60 * time.Second},
			},
			model.StageMatching: {
				Timeout:        120 * time.Second,
				Retry:          RetryConfig{MaxAttempts: 3},
				CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: 60 * time.Second},
			},
			model.StageExceptionMgmt: {
				Timeout:        120 * time.Second,
				Retry:          RetryConfig{MaxAttempts: 3},
				CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: 60 * time.Second},
			},
		},
		ContextLookup: ContextLookupConfig{
			Timeout:        10 * time.Second,
			Retry:          RetryConfig{MaxAttempts: 2},
			CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: 60 * time.Second},
		},
		StatusStore: StatusStoreConfig{
			Driver:          "memory",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			Retention:       90 * 24 * time.Hour,
			SweepInterval:   time.Hour,
		},
		RecordStore: RecordStoreConfig{
			Driver:            "memory",
			BankTable:         "bank_trade_records",
			CounterpartyTable: "counterparty_trade_records",
		},
		Idempotency: IdempotencyConfig{
			Driver: "memory",
			TTL:    10 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Signing.KeyEnv == "" {
		errs = append(errs, "signing.key_env is required")
	}
	for _, name := range model.PipelineStages {
		stage, ok := c.Stages[name]
		if !ok {
			errs = append(errs, fmt.Sprintf("stages.%s is required", name))
			continue
		}
		if stage.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("stages.%s.endpoint is required", name))
		}
		if stage.Timeout <= 0 {
			errs = append(errs, fmt.Sprintf("stages.%s.timeout must be positive", name))
		}
	}
	if c.ContextLookup.Enabled && c.ContextLookup.Endpoint == "" {
		errs = append(errs, "context_lookup.endpoint is required when enabled")
	}
	if c.RecordStore.BankTable == "" || c.RecordStore.CounterpartyTable == "" {
		errs = append(errs, "record_store.bank_table and record_store.counterparty_table are required")
	}
	if c.RecordStore.BankTable == c.RecordStore.CounterpartyTable {
		errs = append(errs, "record_store tables must be distinct")
	}
	if c.Idempotency.TTL <= 0 {
		errs = append(errs, "idempotency.ttl must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads TRADEFLOW_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRADEFLOW_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TRADEFLOW_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("TRADEFLOW_STATUS_STORE_DRIVER"); v != "" {
		cfg.StatusStore.Driver = v
	}
	if v := os.Getenv("TRADEFLOW_RECORD_STORE_DRIVER"); v != "" {
		cfg.RecordStore.Driver = v
	}
	if v := os.Getenv("TRADEFLOW_IDEMPOTENCY_DRIVER"); v != "" {
		cfg.Idempotency.Driver = v
	}
}
