// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestGuardStartsActive verifies a new guard reports active.
func TestGuardStartsActive(t *testing.T) {
	g := NewGuard()
	assert.True(t, g.Active())
}

// TestDeactivateIsIdempotent verifies repeated deactivation is safe.
func TestDeactivateIsIdempotent(t *testing.T) {
	g := NewGuard()
	g.Deactivate()
	g.Deactivate()
	assert.False(t, g.Active())
}

// TestDeactivateConcurrent verifies concurrent deactivation does not race.
func TestDeactivateConcurrent(t *testing.T) {
	g := NewGuard()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Deactivate()
		}()
	}
	wg.Wait()

	assert.False(t, g.Active())
}
