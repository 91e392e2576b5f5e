// Package config loads and validates the debugger's YAML configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`

	// ConnectionLogDir, if set, makes every connection worker also write its
	// own debug-level log file under this directory, named by socket ID.
	// Leave empty to only use the global logger.
	ConnectionLogDir string `yaml:"connection_log_dir"`
}

// StorageConfig controls the storage sink: Path locates the on-disk pebble
// database, and QueueCapacity sizes the in-memory sink used in demo mode.
type StorageConfig struct {
	Path          string `yaml:"path"`
	QueueCapacity int    `yaml:"queue_capacity"`
}

// ControlConfig controls the HTTP control/query surface.
type ControlConfig struct {
	Listen string    `yaml:"listen"`
	TLS    TLSConfig `yaml:"tls"`
}

// TLSConfig secures the control surface with mTLS, for deployments that
// expose it beyond localhost. Leave CACert empty to serve plain HTTP.
type TLSConfig struct {
	CACert string `yaml:"ca_cert"`
	Cert   string `yaml:"cert"`
	Key    string `yaml:"key"`
}

// Enabled reports whether the operator configured TLS for the control surface.
func (t TLSConfig) Enabled() bool {
	return t.CACert != "" && t.Cert != "" && t.Key != ""
}

// IdentityConfig controls where the node identity file is looked up.
type IdentityConfig struct {
	Paths       []string      `yaml:"paths"`
	RetryPeriod time.Duration `yaml:"retry_period"`
}

// Config is the top-level debugger configuration.
type Config struct {
	LocalAddress string         `yaml:"local_address"`
	Logging      LoggingConfig  `yaml:"logging"`
	Storage      StorageConfig  `yaml:"storage"`
	Control      ControlConfig  `yaml:"control"`
	Identity     IdentityConfig `yaml:"identity"`

	// ParsedLocalIP is derived from LocalAddress by validate(); never serialized.
	ParsedLocalIP net.IP `yaml:"-"`
}

// Load reads path, parses it as YAML, and validates the result, filling defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// validate fills in defaults and rejects configurations that cannot be served,
// mirroring the defaults-plus-hard-errors shape of a production config loader.
func (c *Config) validate() error {
	if c.LocalAddress == "" {
		return fmt.Errorf("local_address is required")
	}
	ip := net.ParseIP(c.LocalAddress)
	if ip == nil {
		return fmt.Errorf("local_address %q is not a valid IP", c.LocalAddress)
	}
	c.ParsedLocalIP = ip

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "./tzdebug-data"
	}
	if c.Storage.QueueCapacity <= 0 {
		c.Storage.QueueCapacity = 4096
	}

	if c.Control.Listen == "" {
		c.Control.Listen = "127.0.0.1:17832"
	}

	if len(c.Identity.Paths) == 0 {
		home, _ := os.UserHomeDir()
		c.Identity.Paths = []string{
			"/tmp/volume/identity.json",
			"/tmp/volume/data/identity.json",
		}
		if home != "" {
			c.Identity.Paths = append(c.Identity.Paths, home+"/.tezos-node/identity.json")
		}
	}
	if c.Identity.RetryPeriod <= 0 {
		c.Identity.RetryPeriod = 5 * time.Second
	}

	return nil
}
