package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "turnforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TURNFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "TURNFORGE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TURNFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TURNFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TURNFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TURNFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TURNFORGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "TURNFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TURNFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TURNFORGE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "TURNFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TURNFORGE_BREAKER_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "TURNFORGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "TURNFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "TURNFORGE_CACHE_L2_TTL")

	// Sequence counter
	setString(&cfg.Sequence.KVBucket, "TURNFORGE_SEQUENCE_BUCKET")
	setDuration(&cfg.Sequence.TTL, "TURNFORGE_SEQUENCE_TTL")

	// Persistence
	setString(&cfg.Persistence.ThinkingMode, "TURNFORGE_THINKING_MODE")
	setBool(&cfg.Persistence.AwaitBackground, "TURNFORGE_AWAIT_BACKGROUND")
	setDuration(&cfg.Persistence.BackgroundTimeout, "TURNFORGE_BACKGROUND_TIMEOUT")
	setInt(&cfg.Persistence.MaxBackground, "TURNFORGE_MAX_BACKGROUND")

	// Agent
	setString(&cfg.Agent.RuntimeURL, "AGENT_RUNTIME_URL")
	setString(&cfg.Agent.APIKey, "AGENT_RUNTIME_API_KEY")
	setString(&cfg.Agent.Mode, "TURNFORGE_AGENT_MODE")
	setString(&cfg.Agent.Provider, "TURNFORGE_AGENT_PROVIDER")
	setString(&cfg.Agent.GraphName, "TURNFORGE_AGENT_GRAPH_NAME")
	setInt(&cfg.Agent.ThinkingBudget, "TURNFORGE_THINKING_BUDGET")
	setDuration(&cfg.Agent.Timeout, "TURNFORGE_AGENT_TIMEOUT")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "TURNFORGE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "TURNFORGE_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "TURNFORGE_OTEL_SAMPLE_RATE")

	// Idempotency
	setDuration(&cfg.Idempotency.TTL, "TURNFORGE_IDEMPOTENCY_TTL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Sequence.TTL <= 0 {
		return errors.New("sequence.ttl must be > 0")
	}
	switch cfg.Persistence.ThinkingMode {
	case ThinkingSync, ThinkingAsync:
	default:
		return fmt.Errorf("persistence.thinking_mode must be %q or %q, got %q", ThinkingSync, ThinkingAsync, cfg.Persistence.ThinkingMode)
	}
	if cfg.Persistence.MaxBackground < 1 {
		return errors.New("persistence.max_background must be >= 1")
	}
	switch cfg.Agent.Mode {
	case ModeStream, ModeInvoke:
	default:
		return fmt.Errorf("agent.mode must be %q or %q, got %q", ModeStream, ModeInvoke, cfg.Agent.Mode)
	}
	if cfg.Agent.GraphName == "" {
		return errors.New("agent.graph_name is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
