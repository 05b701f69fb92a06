// Package config provides hierarchical configuration loading for the
// TerraBuild agent swarm.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the swarm service.
type Config struct {
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
	Swarm    Swarm    `yaml:"swarm"`
	Curve    Curve    `yaml:"curve"`
	Cache    Cache    `yaml:"cache"`
	NATS     NATS     `yaml:"nats"`
	Postgres Postgres `yaml:"postgres"`
	Breaker  Breaker  `yaml:"breaker"`
	OTel     OTel     `yaml:"otel"`
	MCP      MCP      `yaml:"mcp"`
	A2A      A2A      `yaml:"a2a"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port           string        `yaml:"port"`
	CORSOrigin     string        `yaml:"cors_origin"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`   // Task submissions per second per client IP; 0 disables
	RateLimitBurst int           `yaml:"rate_limit_burst"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"` // Replay window for Idempotency-Key on async submits
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Swarm holds agent runtime configuration.
type Swarm struct {
	Agents                []string      `yaml:"agents"`                   // Agent kinds to register at startup
	MaxConcurrentPerAgent int64         `yaml:"max_concurrent_per_agent"` // Parallel processTask calls per agent
	TaskTimeout           time.Duration `yaml:"task_timeout"`             // Processing deadline per task; 0 disables
	WaitTimeout           time.Duration `yaml:"wait_timeout"`             // Deadline for runTask / runCompositeTask callers
	TaskTTL               time.Duration `yaml:"task_ttl"`                 // Age after which terminal entries are evicted
	EvictInterval         time.Duration `yaml:"evict_interval"`           // Janitor period
	EventBuffer           int           `yaml:"event_buffer"`             // Initial capacity of per-subscriber event queues; they grow past it
}

// Curve holds cost-curve training defaults.
type Curve struct {
	MinDataPoints       int     `yaml:"min_data_points"`
	LearningRate        float64 `yaml:"learning_rate"`
	MaxIterations       int     `yaml:"max_iterations"`
	TargetAccuracy      float64 `yaml:"target_accuracy"` // Accuracy at which descent stops; exact parameter recovery needs ~0.9999
	LogEpsilon          float64 `yaml:"log_epsilon"`
	TestRatio           float64 `yaml:"test_ratio"`
	MaxExamples         int     `yaml:"max_examples"`
	CSVSamples          int     `yaml:"csv_samples"`
	MaxPolynomialDegree int     `yaml:"max_polynomial_degree"`
	MaxSegments         int     `yaml:"max_segments"`
	MaxCurves           int     `yaml:"max_curves"` // Trained curves kept in memory (LRU)
}

// Cache holds the curve export cache configuration.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	L2Bucket    string        `yaml:"l2_bucket"`
	L2TTL       time.Duration `yaml:"l2_ttl"`
}

// NATS holds NATS JetStream configuration. An empty URL disables the
// event relay, the task ingress and the L2 cache.
type NATS struct {
	URL string `yaml:"url"`
}

// Postgres holds PostgreSQL connection configuration. An empty DSN
// disables the stored dataset source.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
	EventRetention  time.Duration `yaml:"event_retention"` // Age after which archived task events are pruned; 0 keeps them
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// OTel holds OpenTelemetry configuration. An empty endpoint disables OTLP
// export; the Prometheus /metrics reader is always installed.
type OTel struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// MCP holds the MCP server configuration.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	APIKey  string `yaml:"api_key"` // Bearer token required by the MCP endpoint; empty disables auth
}

// A2A holds agent-to-agent protocol configuration.
type A2A struct {
	BaseURL string `yaml:"base_url"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:           "8080",
			CORSOrigin:     "http://localhost:3000",
			RateLimitRPS:   20,
			RateLimitBurst: 40,
			IdempotencyTTL: 24 * time.Hour,
		},
		Logging: Logging{
			Level:   "info",
			Service: "terrabuild-swarm",
		},
		Swarm: Swarm{
			Agents:                []string{"curve", "valuation"},
			MaxConcurrentPerAgent: 4,
			TaskTimeout:           10 * time.Minute,
			WaitTimeout:           15 * time.Minute,
			TaskTTL:               time.Hour,
			EvictInterval:         time.Minute,
			EventBuffer:           64,
		},
		Curve: Curve{
			MinDataPoints:       5,
			LearningRate:        0.1,
			MaxIterations:       1000,
			TargetAccuracy:      0.95,
			LogEpsilon:          1e-6,
			TestRatio:           0.2,
			MaxExamples:         10,
			CSVSamples:          100,
			MaxPolynomialDegree: 6,
			MaxSegments:         10,
			MaxCurves:           1000,
		},
		Cache: Cache{
			L1MaxSizeMB: 32,
			L2Bucket:    "CURVE_EXPORTS",
			L2TTL:       24 * time.Hour,
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
			EventRetention:  7 * 24 * time.Hour,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		OTel: OTel{
			ServiceName: "terrabuild-swarm",
			Insecure:    true,
			SampleRate:  1.0,
		},
		MCP: MCP{
			Addr: ":8081",
		},
		A2A: A2A{
			BaseURL: "http://localhost:8080",
		},
	}
}
