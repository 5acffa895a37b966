// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment variables overriding the config file.
const (
	EnvURL     = "ALEUTIAN_SYNC_URL"
	EnvAnonKey = "ALEUTIAN_SYNC_ANON_KEY"
)

// DefaultPath returns the default config file location
// (~/.aleutian/sync.yaml).
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "sync.yaml"), nil
}

// Load reads the configuration from path, creating it with defaults on
// first run, then applies environment overrides and validates.
//
// Inputs:
//
//	path - Config file location. Empty string uses DefaultPath().
//
// Outputs:
//
//	SyncConfig - The loaded configuration.
//	error - Non-nil on read, parse, or validation failure. An
//	        unconfigured identity service is NOT an error.
func Load(path string) (SyncConfig, error) {
	var cfg SyncConfig

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return cfg, err
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return cfg, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	cfg.Store.Path = ExpandPath(cfg.Store.Path)
	cfg.Logging.Dir = ExpandPath(cfg.Logging.Dir)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *SyncConfig) {
	if v := os.Getenv(EnvURL); v != "" {
		cfg.Identity.URL = v
	}
	if v := os.Getenv(EnvAnonKey); v != "" {
		cfg.Identity.AnonKey = v
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
