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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIsConfigured covers placeholder and absence detection.
func TestIsConfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  IdentityConfig
		want bool
	}{
		{"empty", IdentityConfig{}, false},
		{"missing key", IdentityConfig{URL: "https://id.example.com"}, false},
		{"missing url", IdentityConfig{AnonKey: "k"}, false},
		{"placeholder url", IdentityConfig{URL: PlaceholderURL, AnonKey: "k"}, false},
		{"placeholder key", IdentityConfig{URL: "https://id.example.com", AnonKey: PlaceholderKey}, false},
		{"configured", IdentityConfig{URL: "https://id.example.com", AnonKey: "k"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cfg.IsConfigured())
		})
	}
}

// TestIsOfflineCredential verifies the fixed fallback pair match.
func TestIsOfflineCredential(t *testing.T) {
	off := DefaultConfig().Offline

	assert.True(t, off.IsOfflineCredential("offline@aleutian.local", "offline"))
	assert.True(t, off.IsOfflineCredential("OFFLINE@aleutian.local", "offline")) // email case-insensitive
	assert.False(t, off.IsOfflineCredential("offline@aleutian.local", "wrong"))
	assert.False(t, off.IsOfflineCredential("someone@else.com", "offline"))
	assert.False(t, off.IsOfflineCredential("", ""))
}

// TestLoadCreatesDefaultOnFirstRun verifies first-run behavior.
func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Defaults ship placeholders, so the SDK starts unconfigured.
	assert.False(t, cfg.Identity.IsConfigured())
	assert.FileExists(t, path)
	assert.Equal(t, "offline@aleutian.local", cfg.Offline.Email)
}

// TestLoadEnvOverrides verifies environment variables win over the file.
func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.yaml")
	t.Setenv(EnvURL, "https://id.test.internal")
	t.Setenv(EnvAnonKey, "test-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://id.test.internal", cfg.Identity.URL)
	assert.Equal(t, "test-key", cfg.Identity.AnonKey)
	assert.True(t, cfg.Identity.IsConfigured())
}

// TestLoadRejectsMalformedYAML verifies parse errors surface.
func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("identity: [not a map"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

// TestValidateRejectsBadLevel verifies structural validation.
func TestValidateRejectsBadLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg.Logging.Level = "debug"
	assert.NoError(t, cfg.Validate())
}
