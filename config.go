package instrument

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls the agent
type Config struct {
	LogLevel              string        `env:"MMATE_INSTRUMENT_LOG_LEVEL"               envDefault:"info"`
	Plugins               []string      `env:"MMATE_INSTRUMENT_PLUGINS"                 envSeparator:","`
	DebugPlugins          []string      `env:"MMATE_INSTRUMENT_DEBUG_PLUGINS"           envSeparator:","`
	ReinstallInterval     time.Duration `env:"MMATE_INSTRUMENT_REINSTALL_INTERVAL"      envDefault:"0s"`
	DiagnosticsAMQPURL    string        `env:"MMATE_INSTRUMENT_DIAGNOSTICS_AMQP_URL"`
	DiagnosticsExchange   string        `env:"MMATE_INSTRUMENT_DIAGNOSTICS_EXCHANGE"    envDefault:"mmate.instrument"`
	DiagnosticsRoutingKey string        `env:"MMATE_INSTRUMENT_DIAGNOSTICS_ROUTING_KEY" envDefault:"instrument.diagnostics"`
	DiagnosticsBuffer     int           `env:"MMATE_INSTRUMENT_DIAGNOSTICS_BUFFER"      envDefault:"1024"`
	RecentDiagnostics     int           `env:"MMATE_INSTRUMENT_RECENT_DIAGNOSTICS"      envDefault:"256"`
}

// DefaultConfig returns the configuration used when the environment is empty
func DefaultConfig() Config {
	return Config{
		LogLevel:              "info",
		DiagnosticsExchange:   "mmate.instrument",
		DiagnosticsRoutingKey: "instrument.diagnostics",
		DiagnosticsBuffer:     1024,
		RecentDiagnostics:     256,
	}
}

// LoadConfig reads the configuration from the environment
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration is usable
func (c Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.ReinstallInterval < 0 {
		return fmt.Errorf("reinstall interval cannot be negative: %s", c.ReinstallInterval)
	}
	if c.DiagnosticsBuffer < 1 {
		return fmt.Errorf("diagnostics buffer must be positive: %d", c.DiagnosticsBuffer)
	}
	if c.RecentDiagnostics < 1 {
		return fmt.Errorf("recent diagnostics must be positive: %d", c.RecentDiagnostics)
	}
	return nil
}

// Level parses LogLevel
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// NewLogger builds a JSON logger writing to w at the configured level
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
