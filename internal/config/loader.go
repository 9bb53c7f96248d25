package config

import (
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, expands ${VAR} references and applies
// ALERTFEED_* environment overrides. An empty path loads from the
// environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, goerr.Wrap(err, "read config file", goerr.V("path", path))
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, goerr.Wrap(err, "parse config yaml", goerr.V("path", path))
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, goerr.Wrap(err, "parse config env")
	}

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "validate config", goerr.V("path", path))
	}
	return cfg, nil
}
