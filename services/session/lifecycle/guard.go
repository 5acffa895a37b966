// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lifecycle provides the guard that suppresses state writes after
// the consuming context has been torn down.
//
// The guard is the only cancellation primitive in the session subsystem.
// In-flight requests are not cancelled; their continuations check the
// guard before writing state and their results are simply discarded once
// it has tripped.
package lifecycle

import "sync/atomic"

// Guard tracks whether the consuming context is still alive.
//
// A Guard starts active and is deactivated exactly once. Deactivate is
// idempotent; every asynchronous continuation holds a reference to the
// same Guard and checks Active before touching shared state.
//
// Thread Safety: safe for concurrent use.
type Guard struct {
	inactive atomic.Bool
}

// NewGuard returns an active guard.
func NewGuard() *Guard {
	return &Guard{}
}

// Active reports whether the consuming context is still alive.
func (g *Guard) Active() bool {
	return !g.inactive.Load()
}

// Deactivate trips the guard. Safe to call multiple times; calls after
// the first are no-ops.
func (g *Guard) Deactivate() {
	g.inactive.Store(true)
}
