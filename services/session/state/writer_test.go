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

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSync/services/session/lifecycle"
)

// TestStoreInitialState verifies the activation-time initial state.
func TestStoreInitialState(t *testing.T) {
	s := NewStore(lifecycle.NewGuard())

	cur := s.Current()
	assert.Nil(t, cur.Identity)
	assert.Nil(t, cur.Profile)
	assert.True(t, cur.Loading)
	assert.Empty(t, cur.Error)
}

// TestSetAndUpdate verifies writes through both entry points.
func TestSetAndUpdate(t *testing.T) {
	s := NewStore(lifecycle.NewGuard())

	ok := s.Set(AuthState{Identity: &Identity{ID: "u1", Email: "a@b.c"}})
	require.True(t, ok)
	assert.Equal(t, "u1", s.Current().Identity.ID)

	ok = s.Update(func(cur *AuthState) {
		cur.Error = "boom"
		cur.Loading = false
	})
	require.True(t, ok)

	cur := s.Current()
	assert.Equal(t, "u1", cur.Identity.ID) // Update preserved identity
	assert.Equal(t, "boom", cur.Error)
	assert.False(t, cur.Loading)
}

// TestWritesAfterDeactivationAreNoOps verifies the guard gate.
func TestWritesAfterDeactivationAreNoOps(t *testing.T) {
	guard := lifecycle.NewGuard()
	s := NewStore(guard)
	require.True(t, s.Set(SignedOut()))

	guard.Deactivate()

	assert.False(t, s.Set(AuthState{Identity: &Identity{ID: "late"}}))
	assert.False(t, s.Update(func(cur *AuthState) { cur.Error = "late" }))

	cur := s.Current()
	assert.Nil(t, cur.Identity)
	assert.Empty(t, cur.Error)
}

// TestSubscribeDeliversAcceptedWrites verifies the fanout channel.
func TestSubscribeDeliversAcceptedWrites(t *testing.T) {
	s := NewStore(lifecycle.NewGuard())
	feed, cancel := s.Subscribe()
	defer cancel()

	s.Set(AuthState{Identity: &Identity{ID: "u1"}})

	select {
	case got := <-feed:
		require.NotNil(t, got.Identity)
		assert.Equal(t, "u1", got.Identity.ID)
	case <-time.After(time.Second):
		t.Fatal("no state delivered")
	}

	cancel()
	cancel() // second cancel must not panic
}

// TestDerivedAccessors covers the consumer-facing booleans.
func TestDerivedAccessors(t *testing.T) {
	now := time.Now()

	var empty AuthState
	assert.False(t, empty.IsAuthenticated())
	assert.False(t, empty.IsEmailConfirmed())
	assert.False(t, empty.IsOnboardingCompleted())

	st := AuthState{
		Identity: &Identity{ID: "u1", EmailConfirmedAt: &now},
		Profile:  &Profile{ID: "u1", OnboardingCompleted: true},
	}
	assert.True(t, st.IsAuthenticated())
	assert.True(t, st.IsEmailConfirmed())
	assert.True(t, st.IsOnboardingCompleted())

	st.Identity.EmailConfirmedAt = nil
	st.Profile.OnboardingCompleted = false
	assert.False(t, st.IsEmailConfirmed())
	assert.False(t, st.IsOnboardingCompleted())
}

// TestRoleValid covers the closed role set.
func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleOwner, RoleAdmin, RoleManager, RoleMember} {
		assert.True(t, r.Valid(), string(r))
	}
	assert.False(t, Role("superuser").Valid())
	assert.False(t, Role("").Valid())
}
