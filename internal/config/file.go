// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownConfigField classifies strict YAML parse failures caused by unknown keys.
// Use errors.Is(err, ErrUnknownConfigField) instead of string matching.
var ErrUnknownConfigField = errors.New("unknown config field")

// Load resolves the effective configuration: defaults, then the YAML file at
// path (when non-empty), then environment overrides. The result is not yet
// validated; callers run Validate before use.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		fileCfg, err := loadFile(path, cfg)
		if err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}
	return ApplyEnv(cfg), nil
}

// loadFile decodes a YAML file over base. Unknown keys are rejected so typos
// fail loudly instead of silently keeping defaults.
func loadFile(path string, base Config) (Config, error) {
	f, err := os.Open(path) // #nosec G304 -- path is operator-supplied configuration
	if err != nil {
		return Config{}, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	cfg := base
	if err := dec.Decode(&cfg); err != nil {
		if err == io.EOF {
			// Empty file: keep the base.
			return base, nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return Config{}, fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}
