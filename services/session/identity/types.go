// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identity provides the client for the remote identity service.
//
// The client exposes one-shot operations (fetch session, sign-in, sign-up,
// sign-out, password reset) over a GoTrue-shaped REST surface plus a
// long-lived push subscription delivering session-change events over a
// websocket. Access tokens live in a memguard-backed vault, never in
// plain struct fields.
package identity

import (
	"context"
	"time"

	"github.com/AleutianAI/AleutianSync/services/session/state"
)

// EventKind identifies a session-change event on the change stream.
type EventKind string

const (
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
)

// AuthEvent is a single session-change notification.
//
// Session is non-nil for SIGNED_IN and TOKEN_REFRESHED and nil for
// SIGNED_OUT. Events are delivered in the order the backend emits them;
// no client-side reordering is performed.
type AuthEvent struct {
	Kind    EventKind
	Session *Session
}

// User is the service-side user record embedded in a session.
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
}

// Session is an active authenticated session as returned by the service.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	User         User   `json:"user"`
}

// Identity converts the session into the state-layer descriptor.
func (s *Session) Identity() *state.Identity {
	if s == nil {
		return nil
	}
	return &state.Identity{
		ID:               s.User.ID,
		Email:            s.User.Email,
		EmailConfirmedAt: s.User.EmailConfirmedAt,
		AccessToken:      s.AccessToken,
	}
}

// Subscription is the back-reference to an active change-stream
// registration. The holder does not own the stream's internal buffering;
// the handle is used only to request teardown.
type Subscription interface {
	// Unsubscribe closes the stream and waits for the delivery loop to
	// stop. Safe to call multiple times.
	Unsubscribe()
}

// Client is the identity service consumed by the session reconciler and
// the mutation facade.
type Client interface {
	// GetSession returns the current session, or (nil, nil) when no
	// session is active.
	GetSession(ctx context.Context) (*Session, error)

	// SignInWithPassword authenticates with an email/password credential.
	// Rejections are returned as *AuthError with the service's message.
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// SignUp registers a new account. metadata is forwarded to the
	// service verbatim and may be nil.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error)

	// SignOut invalidates the current session on the service.
	SignOut(ctx context.Context) error

	// ResetPasswordForEmail requests a password-reset email.
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error

	// OnSessionChange opens the change stream and invokes handler for
	// every event until the subscription is torn down or ctx ends.
	OnSessionChange(ctx context.Context, handler func(AuthEvent)) (Subscription, error)
}
