// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reconciler merges three independent session sources into one
// authoritative AuthState: the locally cached fallback session, the
// one-shot remote session fetch, and the push-based change stream.
//
// # Merge Policy
//
// The one-shot fetch result is applied before the change stream is
// registered; once the stream is live, events supersede everything by
// arrival order (last write wins). Stream events and mutation facade
// results funnel through the same single writer, so they converge rather
// than conflict.
//
// # Degradation
//
// An unconfigured or unreachable identity service collapses to a
// signed-out state with no error text: from the UI's perspective those
// cases are indistinguishable from "the user is simply not logged in"
// and must not block rendering. Only explicit service rejections and
// precondition failures surface as AuthState.Error.
//
// # Lifecycle
//
// Activate runs exactly once; Deactivate trips the lifecycle guard and
// tears down the subscription. In-flight requests are not cancelled;
// their continuations check the guard and discard their results.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianSync/services/session/config"
	"github.com/AleutianAI/AleutianSync/services/session/identity"
	"github.com/AleutianAI/AleutianSync/services/session/lifecycle"
	"github.com/AleutianAI/AleutianSync/services/session/profile"
	"github.com/AleutianAI/AleutianSync/services/session/state"
	"github.com/AleutianAI/AleutianSync/services/session/store"
)

// ErrAlreadyActivated is returned when Activate is called more than once
// on the same Reconciler.
var ErrAlreadyActivated = errors.New("reconciler already activated")

// handlerTimeout bounds the profile fetch performed inside a
// change-stream event handler.
const handlerTimeout = 15 * time.Second

// Reconciler owns the authoritative AuthState and the change-stream
// subscription for one activation of the session subsystem.
//
// Thread Safety: safe for concurrent use after New.
type Reconciler struct {
	cfg      config.SyncConfig
	client   identity.Client
	profiles profile.Service
	fallback store.FallbackStore
	guard    *lifecycle.Guard
	states   *state.Store
	logger   *slog.Logger

	mu        sync.Mutex
	sub       identity.Subscription
	activated bool

	// streamCtx outlives individual handler invocations; it is the
	// activation context and ends at Deactivate.
	streamCtx    context.Context
	streamCancel context.CancelFunc
}

// New creates a Reconciler in the activation-time initial state
// {nil, nil, loading:true, no error}.
//
// Inputs:
//
//	cfg      - Loaded SDK configuration.
//	client   - Identity service client. Never called while unconfigured.
//	profiles - Profile data service.
//	fallback - Local fallback store.
//	logger   - Logger; nil uses slog.Default().
func New(cfg config.SyncConfig, client identity.Client, profiles profile.Service,
	fallback store.FallbackStore, logger *slog.Logger) *Reconciler {

	if logger == nil {
		logger = slog.Default()
	}
	guard := lifecycle.NewGuard()
	return &Reconciler{
		cfg:      cfg,
		client:   client,
		profiles: profiles,
		fallback: fallback,
		guard:    guard,
		states:   state.NewStore(guard),
		logger:   logger,
	}
}

// State returns the single-writer state store, for subscriptions.
func (r *Reconciler) State() *state.Store {
	return r.states
}

// Current returns a copy of the authoritative AuthState.
func (r *Reconciler) Current() state.AuthState {
	return r.states.Current()
}

// Guard returns the lifecycle guard.
func (r *Reconciler) Guard() *lifecycle.Guard {
	return r.guard
}

// Activate runs the initialization sequence exactly once.
//
// Description:
//
//	Ordered steps, each short-circuiting on success:
//	 1. Offline check: adopt a valid cached pair from the fallback store
//	    and skip the remote service entirely. A corrupt cache is cleared
//	    and falls through, never surfacing an error.
//	 2. Configuration check: an unconfigured service collapses to
//	    signed-out with no error and no subscription.
//	 3. Remote fetch: transport failure collapses to signed-out with no
//	    error (offline mode); a live session is enriched with a profile
//	    fetch whose failure degrades the profile to nil.
//
//	The change stream is registered after the one-shot fetch result is
//	applied, for every branch except the unconfigured one. Every exit
//	path settles Loading=false; every write is guard-checked.
//
// Outputs:
//
//	error - ErrAlreadyActivated on a second call, otherwise nil. Remote
//	        failures never surface here.
func (r *Reconciler) Activate(ctx context.Context) error {
	r.mu.Lock()
	if r.activated {
		r.mu.Unlock()
		return ErrAlreadyActivated
	}
	r.activated = true
	r.streamCtx, r.streamCancel = context.WithCancel(context.Background())
	r.mu.Unlock()

	start := time.Now()
	ctx, span := tracer.Start(ctx, "session.activate")
	defer span.End()

	// Step 1: offline check.
	if offline, ok := r.loadOfflineSession(ctx); ok {
		r.states.Set(state.AuthState{
			Identity: &offline.Identity,
			Profile:  &offline.Profile,
			Loading:  false,
		})
		r.logger.Info("adopted offline session", "user_id", offline.Identity.ID)
		span.SetAttributes(attribute.String("branch", "offline"))
		recordActivation(ctx, "offline", start)
		if r.cfg.Identity.IsConfigured() {
			r.subscribe()
		}
		return nil
	}

	// Step 2: configuration check.
	if !r.cfg.Identity.IsConfigured() {
		r.states.Set(state.SignedOut())
		r.logger.Info("identity service not configured, running unauthenticated")
		span.SetAttributes(attribute.String("branch", "unconfigured"))
		recordActivation(ctx, "unconfigured", start)
		return nil
	}

	// Step 3: remote fetch.
	branch := r.remoteInit(ctx)
	span.SetAttributes(attribute.String("branch", branch))
	recordActivation(ctx, branch, start)

	r.subscribe()
	return nil
}

// remoteInit performs the one-shot session fetch and applies its result.
// Returns the branch label for telemetry.
func (r *Reconciler) remoteInit(ctx context.Context) string {
	session, err := r.client.GetSession(ctx)
	if err != nil {
		// Transport failure is offline mode, not a user-facing error.
		r.logger.Warn("session fetch failed, continuing signed out", "error", err.Error())
		r.states.Set(state.SignedOut())
		return "transport_error"
	}
	if session == nil {
		r.states.Set(state.SignedOut())
		return "remote"
	}

	ident := session.Identity()
	prof := r.fetchProfile(ctx, ident.ID)
	r.states.Set(state.AuthState{
		Identity: ident,
		Profile:  prof,
		Loading:  false,
	})
	r.logger.Info("adopted remote session", "user_id", ident.ID, "profile_loaded", prof != nil)
	return "remote"
}

// fetchProfile fetches the profile for id, degrading to nil on any
// failure. A missing profile never blocks authentication.
func (r *Reconciler) fetchProfile(ctx context.Context, id string) *state.Profile {
	prof, err := r.profiles.FetchProfile(ctx, id)
	if err != nil {
		r.logger.Warn("profile fetch failed, continuing without profile",
			"user_id", id, "error", err.Error())
		return nil
	}
	return prof
}

// subscribe registers the change-stream subscription. Setup failure
// degrades to the one-shot state rather than failing activation.
func (r *Reconciler) subscribe() {
	r.mu.Lock()
	streamCtx := r.streamCtx
	r.mu.Unlock()

	if !r.guard.Active() {
		return
	}

	sub, err := r.client.OnSessionChange(streamCtx, func(ev identity.AuthEvent) {
		r.handleEvent(streamCtx, ev)
	})
	if err != nil {
		r.logger.Warn("change stream unavailable, one-shot state only", "error", err.Error())
		return
	}

	r.mu.Lock()
	if r.guard.Active() {
		r.sub = sub
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	// Deactivate raced us; tear the late subscription down ourselves.
	sub.Unsubscribe()
}

// handleEvent applies one change-stream event to the authoritative
// state. Handlers are idempotent and last-write-wins by arrival order;
// a late event supersedes anything the initialization sequence wrote.
func (r *Reconciler) handleEvent(streamCtx context.Context, ev identity.AuthEvent) {
	if !r.guard.Active() {
		return
	}

	ctx, cancel := context.WithTimeout(streamCtx, handlerTimeout)
	defer cancel()

	recordStreamEvent(ctx, string(ev.Kind))

	switch ev.Kind {
	case identity.EventSignedIn:
		ident := ev.Session.Identity()
		prof := r.fetchProfile(ctx, ident.ID)
		r.states.Set(state.AuthState{
			Identity: ident,
			Profile:  prof,
			Loading:  false,
		})
		r.logger.Debug("stream: signed in", "user_id", ident.ID)

	case identity.EventSignedOut:
		r.states.Set(state.SignedOut())
		r.logger.Debug("stream: signed out")

	case identity.EventTokenRefreshed:
		ident := ev.Session.Identity()
		prof, err := r.profiles.FetchProfile(ctx, ident.ID)
		r.states.Update(func(cur *state.AuthState) {
			cur.Identity = ident
			if err == nil {
				cur.Profile = prof
			}
			// A refresh failure must not erase a previously good
			// profile, and Loading/Error stay as already settled.
		})
		r.logger.Debug("stream: token refreshed", "user_id", ident.ID, "profile_refreshed", err == nil)

	default:
		r.logger.Warn("stream: unknown event kind", "kind", string(ev.Kind))
	}
}

// Deactivate trips the lifecycle guard and tears down the subscription.
//
// Safe to call multiple times. If subscription setup failed or never
// happened, teardown is a no-op. Pending continuations observe the
// tripped guard and discard their results.
func (r *Reconciler) Deactivate() {
	r.guard.Deactivate()

	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	cancel := r.streamCancel
	r.streamCancel = nil
	r.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
}

// loadOfflineSession reads and parses the cached offline pair. A corrupt
// cache is cleared and reported as absent, never as an error.
func (r *Reconciler) loadOfflineSession(ctx context.Context) (*state.OfflineSession, bool) {
	flag, err := r.fallback.Get(ctx, store.KeyOfflineMode)
	if err != nil || flag != "true" {
		return nil, false
	}

	raw, err := r.fallback.Get(ctx, store.KeyOfflineSession)
	if err != nil {
		r.clearOfflineKeys(ctx)
		return nil, false
	}

	var offline state.OfflineSession
	if err := json.Unmarshal([]byte(raw), &offline); err != nil || offline.Identity.ID == "" {
		r.logger.Warn("corrupt offline session cache, clearing")
		r.clearOfflineKeys(ctx)
		return nil, false
	}
	return &offline, true
}

// clearOfflineKeys removes every fallback-store key owned by the
// subsystem. Errors are logged only; cache cleanup is best-effort.
func (r *Reconciler) clearOfflineKeys(ctx context.Context) {
	for _, key := range []string{store.KeyOfflineMode, store.KeyOfflineSession, store.KeyProfileSnapshot} {
		if err := r.fallback.Delete(ctx, key); err != nil {
			r.logger.Warn("failed to clear fallback key", "key", key, "error", err.Error())
		}
	}
}
