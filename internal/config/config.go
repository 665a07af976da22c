// Package config loads the client's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the grpcdyn configuration. Command-line flags override
// values loaded from file.
type Config struct {
	Address      string            `yaml:"address"`
	DialTimeout  time.Duration     `yaml:"dial_timeout"`
	RPCTimeout   time.Duration     `yaml:"rpc_timeout"`
	Output       string            `yaml:"output"`
	OTelEndpoint string            `yaml:"otel_endpoint"`
	MetricsAddr  string            `yaml:"metrics_addr"`
	Metadata     map[string]string `yaml:"metadata"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DialTimeout: 5 * time.Second,
		Output:      "json",
	}
}

// DefaultPath returns the default config file path: ~/.grpcdyn/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".grpcdyn", "config.yaml")
	}
	return filepath.Join(home, ".grpcdyn", "config.yaml")
}

// Load reads the configuration from the given YAML file path.
// If the file does not exist, it returns Default with no error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values that yaml decoding cannot.
func (c *Config) Validate() error {
	switch c.Output {
	case "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", c.Output)
	}
	if c.DialTimeout < 0 || c.RPCTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}
