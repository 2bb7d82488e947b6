// Package config handles TOML configuration loading and CLI overrides for
// the chaosproxy binary.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/denisvmedia/chaosproxy/proxy"
)

// configSearchPaths lists paths checked in order when no explicit config is
// given.
var configSearchPaths = []string{
	"/etc/chaosproxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Listen   string `kong:"short='l',help='Proxy listen address (overrides config).',env='LISTEN'"`
	Control  string `kong:"help='Control API listen address (overrides config).',env='CONTROL'"`
	Failure  string `kong:"short='f',help='Inject this failure on every request (overrides configured weights).'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`

	Version kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen  string `toml:"listen"`
	Control string `toml:"control"`

	SlowResponseDelayMS int    `toml:"slow_response_delay_ms"`
	DialTimeoutSeconds  int    `toml:"dial_timeout_seconds"`
	Match               string `toml:"match"`
	MaxConns            int    `toml:"max_conns"`
	HistorySize         int    `toml:"history_size"`

	Log LogConfig `toml:"log"`

	// Failures maps failure names to integer weights for random draws.
	// A single entry behaves like a constant selector.
	Failures map[string]int `toml:"failures"`

	cli *CLI
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Load reads the TOML config file and applies CLI overrides. A missing
// config file is not an error; defaults and flags carry the run.
func Load(cli *CLI) (*Config, error) {
	cfg := &Config{
		Listen: ":1080",
		cli:    cli,
	}

	path := cli.Config
	if path == "" {
		for _, p := range configSearchPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if cli.Listen != "" {
		cfg.Listen = cli.Listen
	}
	if cli.Control != "" {
		cfg.Control = cli.Control
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}

	for name := range cfg.Failures {
		if _, err := proxy.ParseFailure(name); err != nil {
			return nil, fmt.Errorf("config failures table: %w", err)
		}
	}

	return cfg, nil
}

// ProxyConfig converts the file settings into the proxy's own config.
func (c *Config) ProxyConfig() *proxy.Config {
	pc := proxy.NewConfig(c.Listen)
	if c.SlowResponseDelayMS > 0 {
		pc.SlowResponseDelay = time.Duration(c.SlowResponseDelayMS) * time.Millisecond
	}
	if c.DialTimeoutSeconds > 0 {
		pc.DialTimeout = time.Duration(c.DialTimeoutSeconds) * time.Second
	}
	pc.Match = c.Match
	pc.MaxConns = c.MaxConns
	if c.HistorySize > 0 {
		pc.HistorySize = c.HistorySize
	}
	return pc
}

// Selector builds the initial failure selector: the --failure flag wins,
// then the configured weights, then transparent success.
func (c *Config) Selector() (proxy.FailureSelector, error) {
	if c.cli != nil && c.cli.Failure != "" {
		f, err := proxy.ParseFailure(c.cli.Failure)
		if err != nil {
			return nil, err
		}
		return proxy.Constant(f), nil
	}

	if len(c.Failures) == 0 {
		return proxy.Constant(proxy.Success), nil
	}

	weights := make(map[proxy.Failure]int, len(c.Failures))
	for name, w := range c.Failures {
		f, err := proxy.ParseFailure(name)
		if err != nil {
			// Load already validated names; a miss here is a programming error.
			return nil, err
		}
		weights[f] = w
	}
	if len(weights) == 1 {
		for f, w := range weights {
			if w <= 0 {
				return nil, errors.New("single configured failure needs a positive weight")
			}
			return proxy.Constant(f), nil
		}
	}
	return proxy.Random(weights)
}
