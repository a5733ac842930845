// Package config holds the central configuration record. Values come from
// defaults, an optional JSON or YAML file, and environment overrides, in
// that order; mandatory fields are validated once at startup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oriys/vela/internal/scaler"
)

// BrokerConfig holds broker connection settings
type BrokerConfig struct {
	URL string `json:"url" yaml:"url"` // amqp:// or redis:// connection string (mandatory)
}

// OrchestratorConfig holds workload scheduler settings
type OrchestratorConfig struct {
	Namespace  string `json:"namespace" yaml:"namespace"`   // deployment namespace (default: local-infra)
	Kubeconfig string `json:"kubeconfig" yaml:"kubeconfig"` // explicit kubeconfig path (empty: default resolution)
}

// BulkConfig holds the optional bulk-compute account. All three fields are
// required together; anything less disables bulk dispatch.
type BulkConfig struct {
	AccountName string `json:"account_name" yaml:"account_name"`
	AccountKey  string `json:"account_key" yaml:"account_key"`
	AccountURL  string `json:"account_url" yaml:"account_url"`
}

// RouterConfig holds router loop settings
type RouterConfig struct {
	IngressQueue string        `json:"ingress_queue" yaml:"ingress_queue"` // default: jobqueue
	ReceiveWait  time.Duration `json:"receive_wait" yaml:"receive_wait"`   // single-poll wait (default: 5s)
}

// ScalerConfig holds elasticity controller settings
type ScalerConfig struct {
	Interval    time.Duration `json:"interval" yaml:"interval"` // tick interval (default: 10s)
	Pairs       []scaler.Pair `json:"pairs" yaml:"pairs"`
	MinReplicas int           `json:"min_replicas" yaml:"min_replicas"`
	MaxReplicas int           `json:"max_replicas" yaml:"max_replicas"`
}

// JournalConfig holds routing-event journal settings
type JournalConfig struct {
	PostgresDSN string        `json:"postgres_dsn" yaml:"postgres_dsn"` // optional durable sink
	TTL         time.Duration `json:"ttl" yaml:"ttl"`                   // in-memory retention (default: 30m)
	MaxEntries  int           `json:"max_entries" yaml:"max_entries"`   // in-memory cap (default: 10000)
	LogFile     string        `json:"log_file" yaml:"log_file"`         // optional routing-log JSON file
}

// DaemonConfig holds daemon-specific settings
type DaemonConfig struct {
	HTTPAddr string `json:"http_addr" yaml:"http_addr"` // status server address (empty: disabled)
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// TracingConfig holds OpenTelemetry tracing settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`           // Default: false
	Exporter    string  `json:"exporter" yaml:"exporter"`         // otlp-http, stdout
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // localhost:4318
	ServiceName string  `json:"service_name" yaml:"service_name"` // vela
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 1.0
}

// MetricsConfig holds Prometheus metrics settings
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`     // Default: true
	Namespace string `json:"namespace" yaml:"namespace"` // vela
}

// LoggingConfig holds structured logging settings
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text, json
}

// ObservabilityConfig holds all observability-related settings
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Broker        BrokerConfig        `json:"broker" yaml:"broker"`
	Orchestrator  OrchestratorConfig  `json:"orchestrator" yaml:"orchestrator"`
	Bulk          BulkConfig          `json:"bulk" yaml:"bulk"`
	Router        RouterConfig        `json:"router" yaml:"router"`
	Scaler        ScalerConfig        `json:"scaler" yaml:"scaler"`
	Journal       JournalConfig       `json:"journal" yaml:"journal"`
	Daemon        DaemonConfig        `json:"daemon" yaml:"daemon"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			Namespace: "local-infra",
		},
		Router: RouterConfig{
			IngressQueue: "jobqueue",
			ReceiveWait:  5 * time.Second,
		},
		Scaler: ScalerConfig{
			Interval:    10 * time.Second,
			Pairs:       append([]scaler.Pair(nil), scaler.DefaultPairs...),
			MinReplicas: scaler.MinReplicas,
			MaxReplicas: scaler.MaxReplicas,
		},
		Journal: JournalConfig{
			TTL:        30 * time.Minute,
			MaxEntries: 10000,
		},
		Daemon: DaemonConfig{
			HTTPAddr: "",
			LogLevel: "info",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "vela",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "vela",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, selected by
// extension.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("BROKER_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv("ORCHESTRATOR_NAMESPACE"); v != "" {
		cfg.Orchestrator.Namespace = v
	}
	if v := os.Getenv("KUBECONFIG"); v != "" && cfg.Orchestrator.Kubeconfig == "" {
		cfg.Orchestrator.Kubeconfig = v
	}
	if v := os.Getenv("BULK_ACCOUNT_NAME"); v != "" {
		cfg.Bulk.AccountName = v
	}
	if v := os.Getenv("BULK_ACCOUNT_KEY"); v != "" {
		cfg.Bulk.AccountKey = v
	}
	if v := os.Getenv("BULK_ACCOUNT_URL"); v != "" {
		cfg.Bulk.AccountURL = v
	}
	if v := os.Getenv("VELA_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("VELA_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("VELA_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("VELA_PG_DSN"); v != "" {
		cfg.Journal.PostgresDSN = v
	}
	if v := os.Getenv("VELA_ROUTE_LOG_FILE"); v != "" {
		cfg.Journal.LogFile = v
	}
	if v := os.Getenv("VELA_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("VELA_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("VELA_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("VELA_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("VELA_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("VELA_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}
	if v := os.Getenv("VELA_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scaler.Interval = d
		}
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("broker url is required (set BROKER_URL)")
	}
	if c.Scaler.MinReplicas > c.Scaler.MaxReplicas {
		return fmt.Errorf("scaler min_replicas %d exceeds max_replicas %d",
			c.Scaler.MinReplicas, c.Scaler.MaxReplicas)
	}
	for _, p := range c.Scaler.Pairs {
		if p.Queue == "" || p.Deployment == "" {
			return fmt.Errorf("scaler pair needs both queue and deployment: %+v", p)
		}
		if p.Threshold <= 0 {
			return fmt.Errorf("scaler pair %s/%s needs a positive threshold", p.Queue, p.Deployment)
		}
	}
	return nil
}

// BulkConfigured reports whether the bulk account is fully present.
// A partial account is treated as absent.
func (c *Config) BulkConfigured() bool {
	return c.Bulk.AccountName != "" && c.Bulk.AccountKey != "" && c.Bulk.AccountURL != ""
}

// BulkPartiallyConfigured reports a likely misconfiguration: some but not
// all account fields set.
func (c *Config) BulkPartiallyConfigured() bool {
	any := c.Bulk.AccountName != "" || c.Bulk.AccountKey != "" || c.Bulk.AccountURL != ""
	return any && !c.BulkConfigured()
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
