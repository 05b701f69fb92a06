package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Curve.MinDataPoints != 5 {
		t.Errorf("expected min_data_points 5, got %d", cfg.Curve.MinDataPoints)
	}
	if cfg.Curve.MaxIterations != 1000 {
		t.Errorf("expected max_iterations 1000, got %d", cfg.Curve.MaxIterations)
	}
	if cfg.Curve.TestRatio != 0.2 {
		t.Errorf("expected test_ratio 0.2, got %v", cfg.Curve.TestRatio)
	}
	if cfg.Swarm.TaskTTL != time.Hour {
		t.Errorf("expected task_ttl 1h, got %v", cfg.Swarm.TaskTTL)
	}
	if len(cfg.Swarm.Agents) != 2 {
		t.Errorf("expected 2 default agents, got %v", cfg.Swarm.Agents)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
swarm:
  agents: ["curve"]
  task_timeout: 30s
curve:
  learning_rate: 0.05
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if len(cfg.Swarm.Agents) != 1 || cfg.Swarm.Agents[0] != "curve" {
		t.Errorf("expected agents [curve], got %v", cfg.Swarm.Agents)
	}
	if cfg.Swarm.TaskTimeout != 30*time.Second {
		t.Errorf("expected task_timeout 30s, got %v", cfg.Swarm.TaskTimeout)
	}
	if cfg.Curve.LearningRate != 0.05 {
		t.Errorf("expected learning_rate 0.05, got %v", cfg.Curve.LearningRate)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.Curve.MaxIterations != 1000 {
		t.Errorf("expected default max_iterations, got %d", cfg.Curve.MaxIterations)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLMalformed(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err == nil {
		t.Fatal("expected parse error for malformed YAML")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("TERRABUILD_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("TERRABUILD_AGENTS", "curve, valuation ,")
	t.Setenv("TERRABUILD_TASK_TIMEOUT", "2m")
	t.Setenv("TERRABUILD_CURVE_TARGET_ACCURACY", "0.9")
	t.Setenv("TERRABUILD_MAX_CONCURRENT_PER_AGENT", "8")
	t.Setenv("TERRABUILD_LOG_ASYNC", "true")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if len(cfg.Swarm.Agents) != 2 || cfg.Swarm.Agents[1] != "valuation" {
		t.Errorf("expected agents [curve valuation], got %v", cfg.Swarm.Agents)
	}
	if cfg.Swarm.TaskTimeout != 2*time.Minute {
		t.Errorf("expected task_timeout 2m, got %v", cfg.Swarm.TaskTimeout)
	}
	if cfg.Curve.TargetAccuracy != 0.9 {
		t.Errorf("expected target_accuracy 0.9, got %v", cfg.Curve.TargetAccuracy)
	}
	if cfg.Swarm.MaxConcurrentPerAgent != 8 {
		t.Errorf("expected max concurrency 8, got %d", cfg.Swarm.MaxConcurrentPerAgent)
	}
	if !cfg.Logging.Async {
		t.Error("expected async logging enabled")
	}
}

func TestEnvInvalidValueIgnored(t *testing.T) {
	cfg := Defaults()
	t.Setenv("TERRABUILD_CURVE_MAX_ITERATIONS", "lots")
	loadEnv(&cfg)
	if cfg.Curve.MaxIterations != 1000 {
		t.Errorf("invalid env value should be ignored, got %d", cfg.Curve.MaxIterations)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "negative event buffer",
			modify: func(c *Config) { c.Swarm.EventBuffer = -1 },
			errMsg: "swarm.event_buffer must be >= 0",
		},
		{
			name:   "rate limit without burst",
			modify: func(c *Config) { c.Server.RateLimitBurst = 0 },
			errMsg: "server.rate_limit_burst must be >= 1 when rate limiting is enabled",
		},
		{
			name:   "no agents",
			modify: func(c *Config) { c.Swarm.Agents = nil },
			errMsg: "swarm.agents must name at least one agent",
		},
		{
			name:   "zero concurrency",
			modify: func(c *Config) { c.Swarm.MaxConcurrentPerAgent = 0 },
			errMsg: "swarm.max_concurrent_per_agent must be >= 1",
		},
		{
			name:   "target accuracy above one",
			modify: func(c *Config) { c.Curve.TargetAccuracy = 1.5 },
			errMsg: "curve.target_accuracy must be in (0, 1]",
		},
		{
			name:   "test ratio of one",
			modify: func(c *Config) { c.Curve.TestRatio = 1 },
			errMsg: "curve.test_ratio must be in (0, 1)",
		},
		{
			name:   "zero max_conns with DSN",
			modify: func(c *Config) { c.Postgres.DSN = "postgres://x"; c.Postgres.MaxConns = 0 },
			errMsg: "postgres.max_conns must be >= 1",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"--port", "9090", "--log-level", "debug"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "9090" {
		t.Errorf("expected port 9090, got %v", flags.Port)
	}
	if flags.LogLevel == nil || *flags.LogLevel != "debug" {
		t.Errorf("expected log-level debug, got %v", flags.LogLevel)
	}
	if flags.DSN != nil {
		t.Errorf("expected nil DSN, got %v", *flags.DSN)
	}
	if flags.ConfigPath != nil {
		t.Errorf("expected nil ConfigPath, got %v", *flags.ConfigPath)
	}
}

func TestParseFlagsShorthand(t *testing.T) {
	flags, err := ParseFlags([]string{"-p", "7070", "-c", "custom.yaml"})
	if err != nil {
		t.Fatal(err)
	}
	if flags.Port == nil || *flags.Port != "7070" {
		t.Errorf("expected port 7070, got %v", flags.Port)
	}
	if flags.ConfigPath == nil || *flags.ConfigPath != "custom.yaml" {
		t.Errorf("expected config custom.yaml, got %v", flags.ConfigPath)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	if _, err := ParseFlags([]string{"--unknown-flag"}); err == nil {
		t.Error("expected error for unknown flag, got nil")
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	t.Setenv("TERRABUILD_PORT", "7070")
	t.Setenv("TERRABUILD_AGENTS", "curve,valuation")

	flags, err := ParseFlags([]string{"--port", "3333", "--agents", "curve", "-c", "/nonexistent.yaml"})
	if err != nil {
		t.Fatal(err)
	}

	cfg, _, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "3333" {
		t.Errorf("expected CLI port 3333 to override ENV 7070, got %s", cfg.Server.Port)
	}
	if len(cfg.Swarm.Agents) != 1 || cfg.Swarm.Agents[0] != "curve" {
		t.Errorf("expected CLI agents [curve], got %v", cfg.Swarm.Agents)
	}
}

func TestApplyCLINilFlags(t *testing.T) {
	cfg := Defaults()
	original := cfg

	applyCLI(&cfg, CLIFlags{})

	if cfg.Server.Port != original.Server.Port {
		t.Errorf("port changed from %s to %s", original.Server.Port, cfg.Server.Port)
	}
	if cfg.Logging.Level != original.Logging.Level {
		t.Errorf("log level changed from %s to %s", original.Logging.Level, cfg.Logging.Level)
	}
}

func TestLoadWithCLICustomConfig(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(yamlPath, []byte("server:\n  port: \"5555\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	flags, err := ParseFlags([]string{"--config", yamlPath})
	if err != nil {
		t.Fatal(err)
	}

	cfg, resolvedPath, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}
	if resolvedPath != yamlPath {
		t.Errorf("expected resolved path %s, got %s", yamlPath, resolvedPath)
	}
	if cfg.Server.Port != "5555" {
		t.Errorf("expected port 5555 from custom YAML, got %s", cfg.Server.Port)
	}
}
