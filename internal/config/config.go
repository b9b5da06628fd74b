// Package config loads gateway configuration from a YAML file and the
// environment. Environment variables win over file values so deployments can
// override a checked-in config without editing it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/models"
)

// Credentials is one provider's API key material.
type Credentials struct {
	Key        string `yaml:"key"`
	Secret     string `yaml:"secret"`
	Passphrase string `yaml:"passphrase,omitempty"`
}

// Config is the gateway's file-backed configuration.
type Config struct {
	// Providers maps provider name to credentials.
	Providers map[string]Credentials `yaml:"providers"`
	// Timeout is the per-attempt HTTP ceiling; zero keeps the default.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// Ops configures the metrics/health HTTP server.
	Ops struct {
		Listen string `yaml:"listen,omitempty"`
	} `yaml:"ops,omitempty"`
}

// Load reads a YAML config file. A missing path is not an error: everything
// can come from the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{Providers: map[string]Credentials{}}
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]Credentials{}
	}
	return cfg, nil
}

// IsDevelopment reports whether the process runs outside production;
// NODE_ENV is honored for parity with older deployments, ENV wins.
func IsDevelopment() bool {
	env := os.Getenv("ENV")
	if env == "" {
		env = os.Getenv("NODE_ENV")
	}
	return env != "" && !strings.EqualFold(env, "production")
}

// Options assembles facade options for one provider, folding in the
// environment knobs the individual facades also understand (BINANCE_DOMAIN,
// BITGETENV, OKXENV, PAPER_TRADING_API_URL, COINBASEKEY/COINBASESECRET are
// read by the facades themselves).
func (c *Config) Options(provider string, futures models.FuturesMode, demo bool) base.Options {
	creds := c.Providers[strings.ToLower(provider)]
	return base.Options{
		Key:        creds.Key,
		Secret:     creds.Secret,
		Passphrase: creds.Passphrase,
		Futures:    futures,
		Demo:       demo,
		Timeout:    c.Timeout,
	}
}

// ParseFuturesMode maps a CLI/flag string to a futures mode.
func ParseFuturesMode(s string) (models.FuturesMode, error) {
	switch strings.ToLower(s) {
	case "", "spot":
		return models.ModeSpot, nil
	case "usdm", "usd-m", "linear":
		return models.ModeUSDM, nil
	case "coinm", "coin-m", "inverse":
		return models.ModeCoinM, nil
	default:
		return models.ModeSpot, fmt.Errorf("unknown futures mode %q", s)
	}
}
