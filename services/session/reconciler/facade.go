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
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianSync/services/session/identity"
	"github.com/AleutianAI/AleutianSync/services/session/profile"
	"github.com/AleutianAI/AleutianSync/services/session/state"
	"github.com/AleutianAI/AleutianSync/services/session/store"
)

// ProfileSeed is the optional profile record created alongside a
// registration. Zero-value fields fall back to defaults (role member).
type ProfileSeed struct {
	DisplayName  string
	Role         state.Role
	DefaultOrgID *string
}

// The mutation facade: every operation below writes through the same
// single writer the initialization sequence and the change-stream
// handler use, so mutation results and late-arriving stream events
// converge instead of conflicting. Each state-transitioning operation
// sets Loading=true and clears Error on entry and settles both on exit.

// SignIn authenticates with an email/password credential.
//
// Description:
//
//	The fixed offline credential bypasses the identity service entirely:
//	an OfflineSession is synthesized, persisted to the fallback store,
//	and adopted, so the next activation short-circuits to it. Otherwise
//	the service must be configured; rejections surface the service's
//	message verbatim in AuthState.Error and in the returned error. A
//	profile fetch failure after a successful sign-in still yields an
//	authenticated state with a nil profile.
func (r *Reconciler) SignIn(ctx context.Context, email, password string) (err error) {
	ctx, span := tracer.Start(ctx, "session.sign_in")
	defer span.End()
	defer func() { recordMutation(ctx, "sign_in", err) }()

	r.beginMutation()

	if r.cfg.Offline.IsOfflineCredential(email, password) {
		return r.signInOffline(ctx)
	}

	if !r.cfg.Identity.IsConfigured() {
		err = state.ErrNotConfigured
		r.failMutation(err.Error())
		return err
	}

	session, err := r.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		r.failMutation(err.Error())
		return err
	}

	ident := session.Identity()
	prof := r.fetchProfile(ctx, ident.ID)
	r.states.Set(state.AuthState{
		Identity: ident,
		Profile:  prof,
		Loading:  false,
	})
	return nil
}

// signInOffline synthesizes and persists an offline session.
func (r *Reconciler) signInOffline(ctx context.Context) error {
	now := time.Now().UTC()
	id := uuid.NewString()
	offline := state.OfflineSession{
		Identity: state.Identity{
			ID:               id,
			Email:            r.cfg.Offline.Email,
			EmailConfirmedAt: &now,
		},
		Profile: state.Profile{
			ID:                  id,
			DisplayName:         "Offline User",
			Role:                state.RoleOwner,
			OnboardingCompleted: true,
			CreatedAt:           now,
			UpdatedAt:           now,
		},
	}

	if err := r.persistOfflineSession(ctx, offline); err != nil {
		r.logger.Warn("failed to persist offline session", "error", err.Error())
		// The in-memory session is still adopted; only the next
		// activation loses the shortcut.
	}

	r.states.Set(state.AuthState{
		Identity: &offline.Identity,
		Profile:  &offline.Profile,
		Loading:  false,
	})
	r.logger.Info("offline sign-in", "user_id", id)
	return nil
}

func (r *Reconciler) persistOfflineSession(ctx context.Context, offline state.OfflineSession) error {
	raw, err := json.Marshal(offline)
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(offline.Profile)
	if err != nil {
		return err
	}
	if err := r.fallback.Set(ctx, store.KeyOfflineSession, string(raw)); err != nil {
		return err
	}
	if err := r.fallback.Set(ctx, store.KeyProfileSnapshot, string(snapshot)); err != nil {
		return err
	}
	// The presence flag goes last so a partial write never looks like a
	// complete offline session.
	return r.fallback.Set(ctx, store.KeyOfflineMode, "true")
}

// SignUp registers a new account.
//
// Description:
//
//	On success the new identity is adopted. When a profile seed is
//	supplied, a profile record keyed by the new identity id is upserted;
//	upsert failure is logged but never fails the registration.
func (r *Reconciler) SignUp(ctx context.Context, email, password string, seed *ProfileSeed) (err error) {
	ctx, span := tracer.Start(ctx, "session.sign_up")
	defer span.End()
	defer func() { recordMutation(ctx, "sign_up", err) }()

	r.beginMutation()

	if !r.cfg.Identity.IsConfigured() {
		err = state.ErrNotConfigured
		r.failMutation(err.Error())
		return err
	}

	session, err := r.client.SignUp(ctx, email, password, signupMetadata(seed))
	if err != nil {
		r.failMutation(err.Error())
		return err
	}

	ident := session.Identity()
	var prof *state.Profile
	if seed != nil {
		record := seed.record(ident.ID)
		if upsertErr := r.profiles.UpsertProfile(ctx, record); upsertErr != nil {
			r.logger.Warn("profile seed upsert failed, registration unaffected",
				"user_id", ident.ID, "error", upsertErr.Error())
		} else {
			prof = &record
		}
	}

	r.states.Set(state.AuthState{
		Identity: ident,
		Profile:  prof,
		Loading:  false,
	})
	r.logger.Info("registered", "user_id", ident.ID, "profile_seeded", prof != nil)
	return nil
}

func signupMetadata(seed *ProfileSeed) map[string]any {
	if seed == nil || seed.DisplayName == "" {
		return nil
	}
	return map[string]any{"display_name": seed.DisplayName}
}

func (s *ProfileSeed) record(identityID string) state.Profile {
	now := time.Now().UTC()
	role := s.Role
	if role == "" {
		role = state.RoleMember
	}
	return state.Profile{
		ID:           identityID,
		DisplayName:  s.DisplayName,
		DefaultOrgID: s.DefaultOrgID,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// SignOut ends the current session.
//
// Description:
//
//	An active offline session is cleared from the fallback store and the
//	state collapses to signed-out without contacting the service. For
//	remote sessions the service is asked first; on failure the prior
//	identity/profile are left intact (sign-out is not assumed to have
//	succeeded silently). Signing out while already signed out is a
//	successful no-op.
func (r *Reconciler) SignOut(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "session.sign_out")
	defer span.End()
	defer func() { recordMutation(ctx, "sign_out", err) }()

	r.beginMutation()

	if flag, flagErr := r.fallback.Get(ctx, store.KeyOfflineMode); flagErr == nil && flag == "true" {
		r.clearOfflineKeys(ctx)
		r.states.Set(state.SignedOut())
		r.logger.Info("offline sign-out")
		return nil
	}

	signOutErr := r.client.SignOut(ctx)
	if signOutErr != nil && !errorsIsNoSession(signOutErr) {
		err = signOutErr
		r.failMutation(err.Error())
		return err
	}

	// Clear any locally cached profile data alongside the session.
	if delErr := r.fallback.Delete(ctx, store.KeyProfileSnapshot); delErr != nil {
		r.logger.Warn("failed to clear profile snapshot", "error", delErr.Error())
	}
	r.states.Set(state.SignedOut())
	return nil
}

// errorsIsNoSession reports whether err means "there was nothing to sign
// out of", which SignOut treats as success for idempotence.
func errorsIsNoSession(err error) bool {
	return errors.Is(err, identity.ErrNoSession)
}

// UpdateProfile applies a partial update to the current profile.
//
// Description:
//
//	Fails with a precondition error, leaving AuthState untouched, when
//	no identity is held. On success the profile is replaced in place; on
//	service failure the existing profile is untouched and the service
//	error is surfaced.
func (r *Reconciler) UpdateProfile(ctx context.Context, patch profile.Patch) (err error) {
	ctx, span := tracer.Start(ctx, "session.update_profile")
	defer span.End()
	defer func() { recordMutation(ctx, "update_profile", err) }()

	cur := r.states.Current()
	if cur.Identity == nil {
		// Precondition failure: AuthState stays exactly as it was.
		return state.ErrNoIdentity
	}

	r.beginMutation()

	updated, err := r.profiles.UpdateProfile(ctx, cur.Identity.ID, patch)
	if err != nil {
		r.failMutation(err.Error())
		return err
	}

	r.states.Update(func(s *state.AuthState) {
		s.Profile = updated
		s.Loading = false
		s.Error = ""
	})
	return nil
}

// RequestPasswordReset asks the service to send a reset email.
//
// Pure delegation: a fire-and-forget side effect independent of the
// session, so it never touches AuthState's Loading/Error fields.
func (r *Reconciler) RequestPasswordReset(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "session.password_reset")
	defer span.End()
	defer func() { recordMutation(ctx, "password_reset", err) }()

	if !r.cfg.Identity.IsConfigured() {
		return state.ErrNotConfigured
	}
	return r.client.ResetPasswordForEmail(ctx, email, r.cfg.Identity.PasswordResetRedirect)
}

// beginMutation marks the start of a state-transitioning operation:
// Loading set, stale error cleared.
func (r *Reconciler) beginMutation() {
	r.states.Update(func(s *state.AuthState) {
		s.Loading = true
		s.Error = ""
	})
}

// failMutation settles a failed operation: Loading cleared, the
// user-facing message set. Identity/profile are left as they were.
func (r *Reconciler) failMutation(msg string) {
	r.states.Update(func(s *state.AuthState) {
		s.Loading = false
		s.Error = msg
	})
}
