// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLevelString verifies level names.
func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.level.String())
	}
}

// TestParseLevel verifies config string mapping, with info as the
// fallback for unknown values.
func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelInfo, ParseLevel("info"))
	assert.Equal(t, LevelWarn, ParseLevel("warn"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
	assert.Equal(t, LevelInfo, ParseLevel("loud"))
}

// TestFileLoggingWritesJSON verifies file logs are created per-service
// per-day and contain parseable JSON with the service attribute.
func TestFileLoggingWritesJSON(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "sessionctl",
		Quiet:   true,
	})

	logger.Info("session adopted", "user_id", "u1")
	require.NoError(t, logger.Close())

	filename := "sessionctl_" + time.Now().Format("2006-01-02") + ".log"
	raw, err := os.ReadFile(filepath.Join(dir, filename))
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &entry))
	assert.Equal(t, "session adopted", entry["msg"])
	assert.Equal(t, "u1", entry["user_id"])
	assert.Equal(t, "sessionctl", entry["service"])
}

// TestFileLoggingRespectsLevel verifies below-threshold messages are
// discarded everywhere.
func TestFileLoggingRespectsLevel(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "sessionctl",
		Quiet:   true,
	})

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")
	require.NoError(t, logger.Close())

	filename := "sessionctl_" + time.Now().Format("2006-01-02") + ".log"
	raw, err := os.ReadFile(filepath.Join(dir, filename))
	require.NoError(t, err)

	content := string(raw)
	assert.NotContains(t, content, "dropped")
	assert.Contains(t, content, "kept")
}

// TestDefaultServiceFilename verifies the fallback service name when
// none is configured.
func TestDefaultServiceFilename(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Quiet: true})

	logger.Info("hello")
	require.NoError(t, logger.Close())

	filename := "aleutian-sync_" + time.Now().Format("2006-01-02") + ".log"
	assert.FileExists(t, filepath.Join(dir, filename))
}

// TestWithAddsAttributes verifies child loggers carry extra attributes
// without mutating the parent.
func TestWithAddsAttributes(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Service: "sessionctl", Quiet: true})

	child := logger.With("component", "reconciler")
	child.Info("activated")
	logger.Info("plain")
	require.NoError(t, logger.Close())

	filename := "sessionctl_" + time.Now().Format("2006-01-02") + ".log"
	raw, err := os.ReadFile(filepath.Join(dir, filename))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "reconciler", first["component"])
	assert.NotContains(t, second, "component")
}

// TestExporterReceivesEntries verifies asynchronous export of entries at
// or above the configured level.
func TestExporterReceivesEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "sessionctl",
		Quiet:    true,
		Exporter: exporter,
	})

	logger.Debug("below threshold")
	logger.Info("sign-in", "user_id", "u1")
	logger.Error("sign-out failed", "error", "backend unavailable")

	// Export is asynchronous; poll until both entries land.
	require.Eventually(t, func() bool {
		return len(exporter.Entries()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	entries := exporter.Entries()
	levels := []Level{entries[0].Level, entries[1].Level}
	assert.Contains(t, levels, LevelInfo)
	assert.Contains(t, levels, LevelError)
	for _, entry := range entries {
		assert.Equal(t, "sessionctl", entry.Service)
		if entry.Level == LevelInfo {
			assert.Equal(t, "sign-in", entry.Message)
			assert.Equal(t, "u1", entry.Attrs["user_id"])
		}
	}

	require.NoError(t, logger.Close())
}

// TestSlogAccessor verifies the underlying slog.Logger is usable
// directly.
func TestSlogAccessor(t *testing.T) {
	logger := New(Config{Quiet: true})
	require.NotNil(t, logger.Slog())
	logger.Slog().Info("direct slog call")
}

// TestArgsToMap verifies key-value pairing, including odd trailing args
// and non-string keys.
func TestArgsToMap(t *testing.T) {
	m := argsToMap([]any{"a", 1, "b", "two", 3, "ignored-key", "dangling"})
	assert.Equal(t, 1, m["a"])
	assert.Equal(t, "two", m["b"])
	assert.Len(t, m, 2)

	assert.Empty(t, argsToMap(nil))
}

// TestExpandPath verifies ~ expansion.
func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".aleutian/logs"), expandPath("~/.aleutian/logs"))
	assert.Equal(t, "/var/log/sync", expandPath("/var/log/sync"))
	assert.Equal(t, "", expandPath(""))
}

// TestCloseIsSafeWithoutFileOrExporter verifies Close on a bare logger.
func TestCloseIsSafeWithoutFileOrExporter(t *testing.T) {
	logger := New(Config{Quiet: true})
	assert.NoError(t, logger.Close())
}
