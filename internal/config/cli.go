package config

import (
	"flag"
	"fmt"
	"io"
)

// CLIFlags holds command-line overrides. A nil field means "not set".
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
	Agents     *string
}

// ParseFlags parses command-line arguments into CLIFlags. Only flags that
// were explicitly passed are non-nil.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("swarm", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configPath, port, logLevel, dsn, natsURL, agents string
	)
	fs.StringVar(&configPath, "config", "", "path to YAML config file")
	fs.StringVar(&configPath, "c", "", "shorthand for --config")
	fs.StringVar(&port, "port", "", "HTTP listen port")
	fs.StringVar(&port, "p", "", "shorthand for --port")
	fs.StringVar(&logLevel, "log-level", "", "log level (debug|info|warn|error)")
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL DSN for stored datasets")
	fs.StringVar(&natsURL, "nats-url", "", "NATS server URL")
	fs.StringVar(&agents, "agents", "", "comma-separated agent kinds to register")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var flags CLIFlags
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = &configPath
		case "port", "p":
			flags.Port = &port
		case "log-level":
			flags.LogLevel = &logLevel
		case "dsn":
			flags.DSN = &dsn
		case "nats-url":
			flags.NatsURL = &natsURL
		case "agents":
			flags.Agents = &agents
		}
	})
	return flags, nil
}

// LoadWithCLI loads configuration with the hierarchy
// defaults < YAML < ENV < CLI flags and returns the YAML path that was used.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

// applyCLI overlays explicitly-set flags onto cfg.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
	if flags.Agents != nil {
		cfg.Swarm.Agents = splitList(*flags.Agents)
	}
}
