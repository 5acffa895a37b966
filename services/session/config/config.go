// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the session SDK configuration.
//
// Configuration comes from ~/.aleutian/sync.yaml (created with defaults on
// first run) with environment variable overrides:
//
//	ALEUTIAN_SYNC_URL       - identity service base URL
//	ALEUTIAN_SYNC_ANON_KEY  - identity service API key
//
// An absent or placeholder endpoint/key is not an error: the reconciler
// models an unconfigured backend as "signed out" so the application still
// renders an unauthenticated view.
package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// Placeholder values shipped in the default config file. Either one
// leaves the SDK in unconfigured mode.
const (
	PlaceholderURL = "https://your-project.identity.example.com"
	PlaceholderKey = "your-anon-key"
)

// SyncConfig is the full SDK configuration.
type SyncConfig struct {
	// Identity holds the remote identity service settings.
	Identity IdentityConfig `yaml:"identity"`

	// Store holds the local fallback store settings.
	Store StoreConfig `yaml:"store"`

	// Offline holds the fixed fallback credential that bypasses the
	// identity service entirely and produces a locally cached session.
	Offline OfflineConfig `yaml:"offline"`

	// Logging holds logger settings.
	Logging LoggingConfig `yaml:"logging"`
}

// IdentityConfig configures the identity service client.
type IdentityConfig struct {
	// URL is the identity service base URL.
	URL string `yaml:"url" validate:"omitempty,url"`

	// AnonKey is the public API key sent with every request.
	AnonKey string `yaml:"anon_key"`

	// PasswordResetRedirect is the URL embedded in reset emails.
	PasswordResetRedirect string `yaml:"password_reset_redirect" validate:"omitempty,url"`

	// TimeoutSeconds bounds each one-shot request. Default: 15.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gte=0,lte=300"`
}

// StoreConfig configures the local fallback store.
type StoreConfig struct {
	// Path is the BadgerDB directory. Supports ~ expansion.
	Path string `yaml:"path" validate:"required"`
}

// OfflineConfig holds the fixed offline credential.
type OfflineConfig struct {
	Email    string `yaml:"email" validate:"required,email"`
	Password string `yaml:"password" validate:"required"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// Dir enables file logging when set. Supports ~ expansion.
	Dir string `yaml:"dir"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() SyncConfig {
	return SyncConfig{
		Identity: IdentityConfig{
			URL:            PlaceholderURL,
			AnonKey:        PlaceholderKey,
			TimeoutSeconds: 15,
		},
		Store: StoreConfig{
			Path: "~/.aleutian/sync-store",
		},
		Offline: OfflineConfig{
			Email:    "offline@aleutian.local",
			Password: "offline",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// IsConfigured reports whether the identity service is usable.
//
// Absent values and the recognizable placeholders shipped in the default
// config both count as unconfigured. The reconciler collapses this case
// to signed-out rather than surfacing an error.
func (c IdentityConfig) IsConfigured() bool {
	if c.URL == "" || c.AnonKey == "" {
		return false
	}
	if strings.Contains(c.URL, "your-project") {
		return false
	}
	if c.AnonKey == PlaceholderKey {
		return false
	}
	return true
}

// IsOfflineCredential reports whether the given credential matches the
// fixed fallback pair.
func (c OfflineConfig) IsOfflineCredential(email, password string) bool {
	return email != "" && strings.EqualFold(email, c.Email) && password == c.Password
}

// Validate checks the structural validity of the configuration.
//
// Validation is about well-formedness, not configuredness: a placeholder
// URL is valid (and simply leaves the SDK unconfigured).
func (c SyncConfig) Validate() error {
	return validator.New().Struct(c)
}
