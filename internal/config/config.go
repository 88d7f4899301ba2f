// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Store         StoreConfig         `yaml:"store"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Engine        EngineConfig        `yaml:"engine"`
	APICall       APICallConfig       `yaml:"api_call"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Events        EventsConfig        `yaml:"events"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes how management API bearer tokens are verified.
type IdentityConfig struct {
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
	SecretEnv string `yaml:"secret_env"`
	// Secret is resolved from SecretEnv at load time and never read from YAML.
	Secret     string            `yaml:"-"`
	ClaimPaths map[string]string `yaml:"claim_paths"`
}

// StoreConfig describes where workflows, triggers and executions live.
type StoreConfig struct {
	// Driver is one of memory, postgres (pgx pool), pq (database/sql over
	// lib/pq), sqlite, mysql.
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// AllowedTables restricts which tables database_operation steps may
	// write. Empty means any valid identifier.
	AllowedTables []string `yaml:"allowed_tables"`
}

// IdempotencyConfig describes webhook delivery dedup settings.
type IdempotencyConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Driver     string        `yaml:"driver"`
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// EngineConfig bounds how long executions and their steps may run.
type EngineConfig struct {
	StepTimeout       time.Duration `yaml:"step_timeout"`
	ExecutionDeadline time.Duration `yaml:"execution_deadline"`
	FinalizeTimeout   time.Duration `yaml:"finalize_timeout"`
	MaxDelay          time.Duration `yaml:"max_delay"`
}

// APICallConfig tunes the HTTP client used by api_call steps.
type APICallConfig struct {
	MaxIdleConnsPerHost int                  `yaml:"max_idle_conns_per_host"`
	MaxResponseBytes    int64                `yaml:"max_response_bytes"`
	UserAgent           string               `yaml:"user_agent"`
	CircuitBreaker      CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig describes per-host circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// WebhookConfig describes webhook ingress settings.
type WebhookConfig struct {
	SignatureHeader string  `yaml:"signature_header"`
	RatePerSecond   float64 `yaml:"rate_per_second"`
	Burst           int     `yaml:"burst"`
}

// SchedulerConfig enables cron-driven schedule triggers.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
	// WithSeconds accepts six-field cron expressions.
	WithSeconds bool `yaml:"with_seconds"`
	// ResyncInterval is how often schedule triggers are re-read from the
	// store. Zero disables the periodic resync.
	ResyncInterval time.Duration `yaml:"resync_interval"`
}

// EventsConfig describes the in-process message bus.
type EventsConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Topic               string `yaml:"topic"`
	NotificationTopic   string `yaml:"notification_topic"`
	OutputChannelBuffer int64  `yaml:"output_channel_buffer"`
}

// DefinitionsConfig describes where to find workflow definition YAML files.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
	// Seed writes loaded definitions into the store at startup.
	Seed bool `yaml:"seed"`
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

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			HandlerTimeout:  4 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Correlation-Id", "X-Idempotency-Key", "X-Webhook-Signature", "X-Webhook-Delivery-Id"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			SecretEnv: "FLOWENGINE_JWT_SECRET",
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"tenant_id":  "tenant_id",
				"roles":      "roles",
			},
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "FLOWENGINE_STORE_DSN",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Idempotency: IdempotencyConfig{
			Driver:     "memory",
			AddrEnv:    "FLOWENGINE_REDIS_ADDR",
			DefaultTTL: 24 * time.Hour,
		},
		Engine: EngineConfig{
			StepTimeout:       30 * time.Second,
			ExecutionDeadline: 3 * time.Minute,
			FinalizeTimeout:   5 * time.Second,
			MaxDelay:          time.Minute,
		},
		APICall: APICallConfig{
			MaxIdleConnsPerHost: 10,
			MaxResponseBytes:    1 << 20,
			UserAgent:           "flowengine/1",
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Webhook: WebhookConfig{
			SignatureHeader: "X-Webhook-Signature",
			RatePerSecond:   20,
			Burst:           40,
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			ResyncInterval: time.Minute,
		},
		Events: EventsConfig{
			Enabled:             true,
			Topic:               "workflow.events",
			NotificationTopic:   "workflow.notifications",
			OutputChannelBuffer: 64,
		},
		Definitions: DefinitionsConfig{
			Directories: []string{"/definitions"},
			Seed:        true,
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
	cfg, err := Parse(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Parse reads the YAML file over the defaults and applies environment
// overrides without validating. Offline commands that never serve HTTP use
// it so they do not need the token secret. An empty path yields the
// defaults.
func Parse(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Identity.Secret == "" {
		errs = append(errs, fmt.Sprintf("identity secret is required (set %s)", c.Identity.SecretEnv))
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres", "pq", "sqlite", "mysql":
		if c.Store.DSNEnv == "" {
			errs = append(errs, "store.dsn_env is required for driver "+c.Store.Driver)
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, postgres, pq, sqlite, mysql", c.Store.Driver))
	}
	if c.Idempotency.Enabled {
		switch c.Idempotency.Driver {
		case "memory", "redis":
		default:
			errs = append(errs, fmt.Sprintf("idempotency.driver %q is not one of memory, redis", c.Idempotency.Driver))
		}
	}
	if c.Engine.StepTimeout <= 0 {
		errs = append(errs, "engine.step_timeout must be positive")
	}
	if c.Engine.ExecutionDeadline <= 0 {
		errs = append(errs, "engine.execution_deadline must be positive")
	}
	if c.Engine.FinalizeTimeout <= 0 {
		errs = append(errs, "engine.finalize_timeout must be positive")
	}
	if c.Engine.MaxDelay < 0 {
		errs = append(errs, "engine.max_delay must not be negative")
	}
	if c.Webhook.SignatureHeader == "" {
		errs = append(errs, "webhook.signature_header is required")
	}
	if c.Webhook.RatePerSecond < 0 || c.Webhook.Burst < 0 {
		errs = append(errs, "webhook.rate_per_second and webhook.burst must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN returns the store connection string from the configured environment
// variable.
func (s StoreConfig) DSN() string {
	if s.DSNEnv == "" {
		return ""
	}
	return os.Getenv(s.DSNEnv)
}

// applyEnvOverrides reads FLOWENGINE_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLOWENGINE_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FLOWENGINE_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("FLOWENGINE_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if cfg.Identity.SecretEnv != "" {
		cfg.Identity.Secret = os.Getenv(cfg.Identity.SecretEnv)
	}
	if v := os.Getenv("FLOWENGINE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("FLOWENGINE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("FLOWENGINE_ENGINE_STEP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.StepTimeout = d
		}
	}
	if v := os.Getenv("FLOWENGINE_ENGINE_EXECUTION_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.ExecutionDeadline = d
		}
	}
}
