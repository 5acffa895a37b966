// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides the local fallback store: a persistent key-value
// cache surviving process restarts, holding an optional cached
// identity+profile snapshot used when the remote identity service is
// bypassed or unreachable.
//
// Two implementations are provided:
//
//   - BadgerStore: embedded BadgerDB for real deployments (~100µs access)
//   - MemoryStore: map-backed fake for tests
//
// The store is shared and externally persisted; this package does not
// lock it across processes. Concurrent writers (two CLI invocations)
// are last-write-wins at the storage layer.
package store

import (
	"context"
	"errors"
)

// Keys used by the session subsystem.
const (
	// KeyOfflineMode is the presence flag marking an offline session.
	KeyOfflineMode = "session/offline_mode"

	// KeyOfflineSession holds the serialized OfflineSession pair.
	KeyOfflineSession = "session/offline_session"

	// KeyProfileSnapshot holds the serialized profile snapshot.
	KeyProfileSnapshot = "session/profile_snapshot"
)

// ErrKeyNotFound is returned by Get when the key is absent.
var ErrKeyNotFound = errors.New("key not found")

// FallbackStore is the persistent key-value cache consumed by the
// session reconciler.
//
// Implementations must treat Delete of an absent key as a no-op and must
// be safe for concurrent use within one process.
type FallbackStore interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value string) error

	// Delete removes key. Absent keys are not an error.
	Delete(ctx context.Context, key string) error
}
