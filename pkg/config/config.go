// Copyright 2025 The fpcore authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the daemon's startup configuration. The configuration
// is read once: a YAML file (if present) overlaid with environment
// variables. Nothing here is hot-reloaded; a restart picks up changes.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/openbiometrics/fpcore/pkg/constants"
	"github.com/openbiometrics/fpcore/pkg/env"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	// MetricsAddr is the listen address for the /metrics and /health HTTP
	// surface. Empty disables the server.
	MetricsAddr string `yaml:"metricsAddr"`

	// ShutdownTimeout bounds how long the daemon waits for the event loop
	// and HTTP server to drain on termination.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// Drivers selects which driver backends are registered.
	Drivers DriverConfig `yaml:"drivers"`
}

// DriverConfig selects driver backends.
type DriverConfig struct {
	// Virtual enables the built-in virtual driver. Intended for tests and
	// development setups without sensor hardware.
	Virtual bool `yaml:"virtual"`

	// ExternalDir points at a directory of external driver definitions.
	// Ignored unless ExternalEnabled is set.
	ExternalDir string `yaml:"externalDir"`

	// ExternalEnabled turns on loading from ExternalDir.
	ExternalEnabled bool `yaml:"externalEnabled"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	return Config{
		MetricsAddr:     constants.DefaultMetricsAddr,
		ShutdownTimeout: constants.DefaultShutdownTimeout,
		Drivers: DriverConfig{
			Virtual: true,
		},
	}
}

// Load reads the configuration file at path (if it exists) and applies
// environment overrides on top. A missing file is not an error; a malformed
// one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)

		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
			// Fall through to defaults plus environment.
		default:
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var err error

	cfg.MetricsAddr, err = env.GetAsString("FPCORE_METRICS_ADDR", false, cfg.MetricsAddr)
	if err != nil {
		return err
	}

	cfg.ShutdownTimeout, err = env.GetAsDuration("FPCORE_SHUTDOWN_TIMEOUT", false, cfg.ShutdownTimeout)
	if err != nil {
		return err
	}

	cfg.Drivers.Virtual, err = env.GetAsBool("FPCORE_VIRTUAL_DRIVER", false, cfg.Drivers.Virtual)
	if err != nil {
		return err
	}

	cfg.Drivers.ExternalDir, err = env.GetAsString("FPCORE_EXTERNAL_DRIVER_DIR", false, cfg.Drivers.ExternalDir)
	if err != nil {
		return err
	}

	cfg.Drivers.ExternalEnabled, err = env.GetAsBool("FPCORE_EXTERNAL_DRIVERS", false, cfg.Drivers.ExternalEnabled)
	if err != nil {
		return err
	}

	return nil
}
