package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "terrabuild.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("TERRABUILD_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
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
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator supplied
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
	setString(&cfg.Server.Port, "TERRABUILD_PORT")
	setString(&cfg.Server.CORSOrigin, "TERRABUILD_CORS_ORIGIN")
	setFloat64(&cfg.Server.RateLimitRPS, "TERRABUILD_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "TERRABUILD_RATE_LIMIT_BURST")
	setDuration(&cfg.Server.IdempotencyTTL, "TERRABUILD_IDEMPOTENCY_TTL")
	setString(&cfg.Logging.Level, "TERRABUILD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TERRABUILD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TERRABUILD_LOG_ASYNC")

	// Swarm
	setStringSlice(&cfg.Swarm.Agents, "TERRABUILD_AGENTS")
	setInt64(&cfg.Swarm.MaxConcurrentPerAgent, "TERRABUILD_MAX_CONCURRENT_PER_AGENT")
	setDuration(&cfg.Swarm.TaskTimeout, "TERRABUILD_TASK_TIMEOUT")
	setDuration(&cfg.Swarm.WaitTimeout, "TERRABUILD_WAIT_TIMEOUT")
	setDuration(&cfg.Swarm.TaskTTL, "TERRABUILD_TASK_TTL")
	setDuration(&cfg.Swarm.EvictInterval, "TERRABUILD_EVICT_INTERVAL")
	setInt(&cfg.Swarm.EventBuffer, "TERRABUILD_EVENT_BUFFER")

	// Curve training
	setInt(&cfg.Curve.MinDataPoints, "TERRABUILD_CURVE_MIN_DATA_POINTS")
	setFloat64(&cfg.Curve.LearningRate, "TERRABUILD_CURVE_LEARNING_RATE")
	setInt(&cfg.Curve.MaxIterations, "TERRABUILD_CURVE_MAX_ITERATIONS")
	setFloat64(&cfg.Curve.TargetAccuracy, "TERRABUILD_CURVE_TARGET_ACCURACY")
	setFloat64(&cfg.Curve.TestRatio, "TERRABUILD_CURVE_TEST_RATIO")
	setInt(&cfg.Curve.MaxCurves, "TERRABUILD_CURVE_MAX_CURVES")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "TERRABUILD_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "TERRABUILD_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "TERRABUILD_CACHE_L2_TTL")

	// Infrastructure
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TERRABUILD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TERRABUILD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TERRABUILD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TERRABUILD_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TERRABUILD_PG_HEALTH_CHECK")
	setDuration(&cfg.Postgres.EventRetention, "TERRABUILD_PG_EVENT_RETENTION")
	setInt(&cfg.Breaker.MaxFailures, "TERRABUILD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TERRABUILD_BREAKER_TIMEOUT")

	// Telemetry and protocol surfaces
	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTel.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTel.Insecure, "TERRABUILD_OTEL_INSECURE")
	setFloat64(&cfg.OTel.SampleRate, "TERRABUILD_OTEL_SAMPLE_RATE")
	setBool(&cfg.MCP.Enabled, "TERRABUILD_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "TERRABUILD_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "TERRABUILD_MCP_API_KEY")
	setString(&cfg.A2A.BaseURL, "TERRABUILD_A2A_BASE_URL")
}

// validate checks that required fields are set and numeric settings are in range.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.RateLimitRPS < 0 {
		return errors.New("server.rate_limit_rps must be >= 0")
	}
	if cfg.Server.RateLimitRPS > 0 && cfg.Server.RateLimitBurst < 1 {
		return errors.New("server.rate_limit_burst must be >= 1 when rate limiting is enabled")
	}
	if len(cfg.Swarm.Agents) == 0 {
		return errors.New("swarm.agents must name at least one agent")
	}
	if cfg.Swarm.MaxConcurrentPerAgent < 1 {
		return errors.New("swarm.max_concurrent_per_agent must be >= 1")
	}
	if cfg.Swarm.TaskTimeout < 0 {
		return errors.New("swarm.task_timeout must be >= 0")
	}
	if cfg.Swarm.EvictInterval <= 0 {
		return errors.New("swarm.evict_interval must be > 0")
	}
	if cfg.Swarm.EventBuffer < 0 {
		return errors.New("swarm.event_buffer must be >= 0")
	}
	if cfg.Curve.MinDataPoints < 2 {
		return errors.New("curve.min_data_points must be >= 2")
	}
	if cfg.Curve.LearningRate <= 0 {
		return errors.New("curve.learning_rate must be > 0")
	}
	if cfg.Curve.MaxIterations < 1 {
		return errors.New("curve.max_iterations must be >= 1")
	}
	if cfg.Curve.TargetAccuracy <= 0 || cfg.Curve.TargetAccuracy > 1 {
		return errors.New("curve.target_accuracy must be in (0, 1]")
	}
	if cfg.Curve.TestRatio <= 0 || cfg.Curve.TestRatio >= 1 {
		return errors.New("curve.test_ratio must be in (0, 1)")
	}
	if cfg.Curve.MaxCurves < 1 {
		return errors.New("curve.max_curves must be >= 1")
	}
	if cfg.Curve.LogEpsilon <= 0 {
		return errors.New("curve.log_epsilon must be > 0")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.OTel.SampleRate < 0 || cfg.OTel.SampleRate > 1 {
		return errors.New("otel.sample_rate must be in [0, 1]")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setStringSlice parses a comma-separated list, dropping empty entries.
func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = splitList(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
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
