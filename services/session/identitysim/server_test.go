// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package identitysim

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSync/services/session/config"
	"github.com/AleutianAI/AleutianSync/services/session/identity"
	"github.com/AleutianAI/AleutianSync/services/session/profile"
	"github.com/AleutianAI/AleutianSync/services/session/reconciler"
	"github.com/AleutianAI/AleutianSync/services/session/state"
	"github.com/AleutianAI/AleutianSync/services/session/store"
)

const (
	waitFor = 3 * time.Second
	tick    = 20 * time.Millisecond
)

func newSimServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	sim, err := NewServer()
	require.NoError(t, err)
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(func() {
		sim.Close()
		srv.Close()
	})
	return sim, srv
}

func seededProfile(name string) *state.Profile {
	now := time.Now().UTC()
	return &state.Profile{
		DisplayName: name,
		Role:        state.RoleMember,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TestSimSignInAndSessionFetch exercises the real identity client
// against the simulator: sign in, fetch the session back, sign out.
func TestSimSignInAndSessionFetch(t *testing.T) {
	sim, srv := newSimServer(t)
	userID := sim.AddAccount("ada@example.com", "correct horse", seededProfile("Ada"))

	ctx := context.Background()
	client := identity.NewHTTPClient(srv.URL, "sim-anon")

	session, err := client.SignInWithPassword(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, userID, session.User.ID)

	fetched, err := client.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, userID, fetched.User.ID)

	require.NoError(t, client.SignOut(ctx))
	fetched, err = client.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, fetched, "sign-out must invalidate the token")
}

// TestSimRejectsBadCredentials verifies the canonical rejection message.
func TestSimRejectsBadCredentials(t *testing.T) {
	sim, srv := newSimServer(t)
	sim.AddAccount("ada@example.com", "correct horse", nil)

	client := identity.NewHTTPClient(srv.URL, "sim-anon")
	_, err := client.SignInWithPassword(context.Background(), "ada@example.com", "wrong")
	require.Error(t, err)

	ae, ok := identity.IsAuthError(err)
	require.True(t, ok)
	assert.Equal(t, "Invalid login credentials", ae.Message)
}

// TestSimProfileRoundTrip exercises the real profile service against the
// simulator's REST endpoints.
func TestSimProfileRoundTrip(t *testing.T) {
	sim, srv := newSimServer(t)
	userID := sim.AddAccount("ada@example.com", "correct horse", seededProfile("Ada"))

	ctx := context.Background()
	client := identity.NewHTTPClient(srv.URL, "sim-anon")
	_, err := client.SignInWithPassword(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	profiles := profile.NewHTTPService(srv.URL, "sim-anon", client.Vault())

	p, err := profiles.FetchProfile(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.DisplayName)

	name := "Ada L."
	updated, err := profiles.UpdateProfile(ctx, userID, profile.Patch{DisplayName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", updated.DisplayName)

	sim.RemoveProfile(userID)
	_, err = profiles.FetchProfile(ctx, userID)
	assert.ErrorIs(t, err, profile.ErrProfileNotFound)
}

// TestSimStreamPush verifies broadcast frames reach a subscribed client.
func TestSimStreamPush(t *testing.T) {
	sim, srv := newSimServer(t)
	sim.AddAccount("ada@example.com", "correct horse", nil)

	client := identity.NewHTTPClient(srv.URL, "sim-anon")
	events := make(chan identity.AuthEvent, 8)
	sub, err := client.OnSessionChange(context.Background(), func(ev identity.AuthEvent) {
		events <- ev
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool { return sim.StreamClients() == 1 }, waitFor, tick)

	sim.BroadcastTokenRefresh("ada@example.com")
	sim.BroadcastSignOut()

	for _, want := range []identity.EventKind{identity.EventTokenRefreshed, identity.EventSignedOut} {
		select {
		case ev := <-events:
			assert.Equal(t, want, ev.Kind)
		case <-time.After(waitFor):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

// TestEndToEndReconcilerLoop runs the full stack: reconciler with real
// HTTP clients against the simulator, driven through sign-in, a pushed
// token refresh, and a pushed sign-out.
func TestEndToEndReconcilerLoop(t *testing.T) {
	sim, srv := newSimServer(t)
	userID := sim.AddAccount("ada@example.com", "correct horse", seededProfile("Ada"))

	cfg := config.DefaultConfig()
	cfg.Identity.URL = srv.URL
	cfg.Identity.AnonKey = "sim-anon"

	client := identity.NewHTTPClient(srv.URL, "sim-anon")
	profiles := profile.NewHTTPService(srv.URL, "sim-anon", client.Vault())
	rec := reconciler.New(cfg, client, profiles, store.NewMemoryStore(), nil)
	defer rec.Deactivate()

	ctx := context.Background()
	require.NoError(t, rec.Activate(ctx))

	// Cold start: no session yet.
	cur := rec.Current()
	assert.Nil(t, cur.Identity)
	assert.False(t, cur.Loading)

	require.NoError(t, rec.SignIn(ctx, "ada@example.com", "correct horse"))
	cur = rec.Current()
	require.NotNil(t, cur.Identity)
	assert.Equal(t, userID, cur.Identity.ID)
	require.NotNil(t, cur.Profile)
	assert.Equal(t, "Ada", cur.Profile.DisplayName)

	firstToken := cur.Identity.AccessToken
	sim.BroadcastTokenRefresh("ada@example.com")
	require.Eventually(t, func() bool {
		st := rec.Current()
		return st.Identity != nil && st.Identity.AccessToken != firstToken
	}, waitFor, tick, "refresh must replace the access token")
	assert.NotNil(t, rec.Current().Profile, "refresh must not drop the profile")

	sim.BroadcastSignOut()
	require.Eventually(t, func() bool {
		return rec.Current().Identity == nil
	}, waitFor, tick, "pushed sign-out must collapse the state")
	assert.Empty(t, rec.Current().Error)
}

// TestSimSignupFlow verifies registration plus duplicate rejection.
func TestSimSignupFlow(t *testing.T) {
	_, srv := newSimServer(t)

	ctx := context.Background()
	client := identity.NewHTTPClient(srv.URL, "sim-anon")

	session, err := client.SignUp(ctx, "new@example.com", "long enough", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, session.User.ID)

	_, err = client.SignUp(ctx, "new@example.com", "long enough", nil)
	require.Error(t, err)
	ae, ok := identity.IsAuthError(err)
	require.True(t, ok)
	assert.Equal(t, "User already registered", ae.Message)
}
