// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import "errors"

// Sentinel errors for session state operations.
var (
	// ErrNotConfigured is returned when an operation requires the remote
	// identity service but the endpoint or key is absent or a placeholder.
	ErrNotConfigured = errors.New("identity service is not configured")

	// ErrNoIdentity is returned when an operation requires an
	// authenticated identity and none is held.
	ErrNoIdentity = errors.New("no authenticated identity")

	// ErrDeactivated is returned by operations invoked after the owning
	// subsystem has been deactivated. State writes after deactivation are
	// silent no-ops; only explicit operations surface this.
	ErrDeactivated = errors.New("session subsystem is deactivated")
)
