// Package config loads and validates the engine's YAML configuration.
// Every tunable lives in the package that uses it; this package only
// composes them into one loadable document.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/tradeforge/optionrun/internal/anomaly"
	"github.com/tradeforge/optionrun/internal/broker"
	"github.com/tradeforge/optionrun/internal/exits"
	"github.com/tradeforge/optionrun/internal/httpapi"
	"github.com/tradeforge/optionrun/internal/risk"
	"github.com/tradeforge/optionrun/internal/scorer"
	"github.com/tradeforge/optionrun/internal/signals"
	"github.com/tradeforge/optionrun/internal/tracks"
)

// FeedConfig selects the market data source.
type FeedConfig struct {
	// WebSocket endpoint; empty means the in-memory replay feed.
	URL            string        `yaml:"url"`
	MaxSnapshotAge time.Duration `yaml:"max_snapshot_age" default:"2s"`
}

// RedisConfig enables the shared pricing cache.
type RedisConfig struct {
	Enabled bool          `yaml:"enabled" default:"false"`
	Addr    string        `yaml:"addr" default:"localhost:6379"`
	Prefix  string        `yaml:"prefix" default:"optionrun"`
	TTL     time.Duration `yaml:"ttl" default:"5s"`
}

// JournalConfig enables the PostgreSQL trade journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" default:"false"`
	DSN     string `yaml:"dsn"`
}

// LogConfig tunes zerolog output.
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty" default:"false"`
}

// Config is the full engine configuration.
type Config struct {
	Capital  float64  `yaml:"capital" default:"100000" validate:"gt=0"`
	Symbols  []string `yaml:"symbols" validate:"min=1,dive,required"`
	Slippage float64  `yaml:"slippage" default:"0.01" validate:"gte=0"`

	// RiskLevel, when set, replaces the risk section with the named
	// preset. Use either the preset or explicit risk fields, not both.
	RiskLevel string `yaml:"risk_level" validate:"omitempty,oneof=low medium high extreme"`

	Feed    FeedConfig    `yaml:"feed"`
	Redis   RedisConfig   `yaml:"redis"`
	Journal JournalConfig `yaml:"journal"`
	Log     LogConfig     `yaml:"log"`

	Signals signals.Config     `yaml:"signals"`
	Scorer  scorer.Config      `yaml:"scorer"`
	Exits   exits.Config       `yaml:"exits"`
	Risk    risk.Config        `yaml:"risk"`
	Anomaly anomaly.Config     `yaml:"anomaly"`
	Tracks  tracks.Config      `yaml:"tracks"`
	Broker  broker.GuardConfig `yaml:"broker"`
	HTTP    httpapi.Config     `yaml:"http"`
}

// Default returns the full configuration with production defaults and no
// symbols selected.
func Default() *Config {
	cfg := &Config{
		Signals: *signals.DefaultConfig(),
		Scorer:  *scorer.DefaultConfig(),
		Exits:   *exits.DefaultConfig(),
		Risk:    *risk.DefaultConfig(),
		Anomaly: *anomaly.DefaultConfig(),
		Tracks:  *tracks.DefaultConfig(),
		Broker:  broker.DefaultGuardConfig(),
		HTTP:    httpapi.DefaultConfig(),
	}
	if err := defaults.Set(cfg); err != nil {
		// Tag defaults are static; a failure here is a programming error.
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load reads path over Default(). An empty path returns defaults alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if cfg.RiskLevel != "" {
		level, err := risk.ParseLevel(cfg.RiskLevel)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		cfg.Risk = *risk.ConfigForLevel(level)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints and cross-field invariants.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Tracks.Validate(); err != nil {
		return fmt.Errorf("config: tracks: %w", err)
	}
	if c.Journal.Enabled && c.Journal.DSN == "" {
		return fmt.Errorf("config: journal enabled without dsn")
	}
	return nil
}
