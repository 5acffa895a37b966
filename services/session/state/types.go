// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package state owns the authoritative in-memory authentication state.
//
// AuthState is the single value the rest of the application reads to decide
// "who is the current user". It is produced by three independent sources
// (the local fallback cache, the one-shot remote session fetch, and the
// push-based change stream) and mutated exclusively through one writer,
// the Store, so no two code paths can produce inconsistent state.
//
// # Ownership Model
//
// Store owns AuthState. Callers receive copies from Current() and
// Subscribe(); mutating a copy has no effect on the authoritative value.
//
// # Thread Safety
//
// Store is safe for concurrent use. All writes are serialized by an
// internal mutex and gated on the lifecycle guard.
package state

import "time"

// Role is the closed set of profile roles known to the business layer.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleManager, RoleMember:
		return true
	}
	return false
}

// Identity is the minimal authenticated-user descriptor.
//
// The access token is opaque to this package; it is owned by the identity
// service client and only carried here so consumers can detect presence.
type Identity struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	AccessToken      string     `json:"access_token,omitempty"`
}

// Profile is the business-facing user record.
//
// Profiles are owned by the data layer. The reconciler fetches them on
// demand and caches them only inside AuthState; it never persists them
// itself (the offline snapshot in the fallback store is written by the
// offline sign-in path, not by the reconciler).
type Profile struct {
	ID                  string    `json:"id"`
	DisplayName         string    `json:"display_name"`
	DefaultOrgID        *string   `json:"default_org_id,omitempty"`
	Role                Role      `json:"role"`
	OnboardingCompleted bool      `json:"onboarding_completed"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// OfflineSession is the cached identity+profile pair persisted in the
// local fallback store. It is created by the fixed offline credential
// path, adopted verbatim on the next activation, and destroyed on
// sign-out or on parse failure.
type OfflineSession struct {
	Identity Identity `json:"identity"`
	Profile  Profile  `json:"profile"`
}

// AuthState is the single owned value exposed to consumers.
//
// Invariants:
//   - Loading is true only during the initialization window or a pending
//     mutation, and settles to false exactly once per triggering operation.
//   - Profile is never non-nil while Identity is nil.
//   - Error is cleared at the start of every operation and set only on
//     terminal failure of that operation; it never carries a stale error
//     across a later successful operation.
type AuthState struct {
	Identity *Identity
	Profile  *Profile
	Loading  bool
	Error    string
}

// IsAuthenticated reports whether an identity is currently held.
func (s AuthState) IsAuthenticated() bool {
	return s.Identity != nil
}

// IsEmailConfirmed reports whether the current identity has a confirmed
// email address. False when signed out.
func (s AuthState) IsEmailConfirmed() bool {
	return s.Identity != nil && s.Identity.EmailConfirmedAt != nil
}

// IsOnboardingCompleted reports whether the current profile has finished
// onboarding. False when no profile is held.
func (s AuthState) IsOnboardingCompleted() bool {
	return s.Profile != nil && s.Profile.OnboardingCompleted
}

// SignedOut returns the canonical unauthenticated state with no error.
// Unconfigured backends and transport failures both collapse to this
// value so the UI renders an unauthenticated view, not an error view.
func SignedOut() AuthState {
	return AuthState{Identity: nil, Profile: nil, Loading: false, Error: ""}
}
