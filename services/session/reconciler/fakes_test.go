// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianSync/services/session/config"
	"github.com/AleutianAI/AleutianSync/services/session/identity"
	"github.com/AleutianAI/AleutianSync/services/session/profile"
	"github.com/AleutianAI/AleutianSync/services/session/state"
)

// configuredCfg returns a config pointing at a non-placeholder endpoint.
func configuredCfg() config.SyncConfig {
	cfg := config.DefaultConfig()
	cfg.Identity.URL = "https://id.test.internal"
	cfg.Identity.AnonKey = "test-key"
	return cfg
}

// unconfiguredCfg keeps the shipped placeholders.
func unconfiguredCfg() config.SyncConfig {
	return config.DefaultConfig()
}

func testSession(id, email, token string) *identity.Session {
	now := time.Now().UTC()
	return &identity.Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   3600,
		User:        identity.User{ID: id, Email: email, EmailConfirmedAt: &now},
	}
}

func testProfile(id, name string) *state.Profile {
	now := time.Now().UTC()
	return &state.Profile{
		ID:          id,
		DisplayName: name,
		Role:        state.RoleMember,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

type fakeSubscription struct {
	unsubscribed atomic.Bool
}

func (f *fakeSubscription) Unsubscribe() {
	f.unsubscribed.Store(true)
}

// fakeIdentity is a scriptable identity.Client. Events pushed through
// emit run the captured handler synchronously, so tests observe state
// transitions without sleeping.
type fakeIdentity struct {
	mu sync.Mutex

	session    *identity.Session // GetSession result
	sessionErr error

	signInSession *identity.Session
	signInErr     error

	signUpSession *identity.Session
	signUpErr     error

	signOutErr error
	resetErr   error
	streamErr  error

	getSessionCalls int
	signInCalls     int
	signUpCalls     int
	signOutCalls    int
	resetCalls      int

	handler func(identity.AuthEvent)
	sub     *fakeSubscription
}

func (f *fakeIdentity) GetSession(ctx context.Context) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getSessionCalls++
	return f.session, f.sessionErr
}

func (f *fakeIdentity) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signInCalls++
	return f.signInSession, f.signInErr
}

func (f *fakeIdentity) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signUpCalls++
	return f.signUpSession, f.signUpErr
}

func (f *fakeIdentity) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	return f.signOutErr
}

func (f *fakeIdentity) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls++
	return f.resetErr
}

func (f *fakeIdentity) OnSessionChange(ctx context.Context, handler func(identity.AuthEvent)) (identity.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	f.handler = handler
	f.sub = &fakeSubscription{}
	return f.sub, nil
}

// emit delivers one change-stream event to the registered handler.
func (f *fakeIdentity) emit(ev identity.AuthEvent) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

func (f *fakeIdentity) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler != nil
}

var _ identity.Client = (*fakeIdentity)(nil)

// fakeProfiles is a scriptable profile.Service backed by a map.
type fakeProfiles struct {
	mu sync.Mutex

	profiles  map[string]*state.Profile
	fetchErr  error
	upsertErr error
	updateErr error

	fetchCalls  int
	upsertCalls int
	updateCalls int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: make(map[string]*state.Profile)}
}

func (f *fakeProfiles) FetchProfile(ctx context.Context, identityID string) (*state.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	p, ok := f.profiles[identityID]
	if !ok {
		return nil, profile.ErrProfileNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakeProfiles) UpsertProfile(ctx context.Context, record state.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	copied := record
	f.profiles[record.ID] = &copied
	return nil
}

func (f *fakeProfiles) UpdateProfile(ctx context.Context, identityID string, patch profile.Patch) (*state.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	p, ok := f.profiles[identityID]
	if !ok {
		return nil, profile.ErrProfileNotFound
	}
	if patch.DisplayName != nil {
		p.DisplayName = *patch.DisplayName
	}
	if patch.DefaultOrgID != nil {
		p.DefaultOrgID = patch.DefaultOrgID
	}
	if patch.Role != nil {
		p.Role = *patch.Role
	}
	if patch.OnboardingCompleted != nil {
		p.OnboardingCompleted = *patch.OnboardingCompleted
	}
	p.UpdatedAt = time.Now().UTC()
	copied := *p
	return &copied, nil
}

var _ profile.Service = (*fakeProfiles)(nil)
