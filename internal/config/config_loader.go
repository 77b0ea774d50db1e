package config

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Load builds the runtime configuration: defaults, then the YAML file at
// path (if it exists), then environment overrides. A missing file is not an
// error; a malformed file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Debugf("config file %s not found, using defaults", path)
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.mergeEnvVars()
	return cfg, nil
}

// LoadWithFile is Load with failures logged and swallowed; it always returns
// a usable configuration.
func LoadWithFile(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.WithError(err).Warn("failed to load configuration, using defaults")
		cfg = Default()
		cfg.mergeEnvVars()
	}
	return cfg
}
