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
	"sync"

	"github.com/AleutianAI/AleutianSync/services/session/lifecycle"
)

// Store is the single writer for AuthState.
//
// Every component of the session subsystem (initialization, change-stream
// handler, mutation facade) funnels its writes through one Store, which
// serializes them and gates them on the lifecycle guard. A write after
// deactivation is a silent no-op, never an error.
//
// # Subscriptions
//
// Subscribe returns a channel that receives a copy of every accepted
// write. Delivery is best-effort with a small buffer: a slow consumer
// drops intermediate states rather than blocking the writer. Consumers
// that need every transition (the watch CLI does not) should drain
// promptly.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	guard  *lifecycle.Guard
	cur    AuthState
	subs   map[int]chan AuthState
	nextID int
}

// NewStore creates a Store holding the activation-time initial state
// {nil, nil, loading:true, no error}.
func NewStore(guard *lifecycle.Guard) *Store {
	return &Store{
		guard: guard,
		cur:   AuthState{Loading: true},
		subs:  make(map[int]chan AuthState),
	}
}

// Current returns a copy of the authoritative state.
func (s *Store) Current() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Set replaces the authoritative state. It returns false without writing
// if the lifecycle guard has tripped.
func (s *Store) Set(next AuthState) bool {
	return s.Update(func(cur *AuthState) { *cur = next })
}

// Update applies fn to the authoritative state under the writer lock.
// fn must not block; it runs with the lock held. Returns false without
// calling fn if the lifecycle guard has tripped.
func (s *Store) Update(fn func(*AuthState)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.guard.Active() {
		return false
	}
	fn(&s.cur)
	for _, ch := range s.subs {
		select {
		case ch <- s.cur:
		default: // slow consumer, drop
		}
	}
	return true
}

// Subscribe registers a listener for accepted writes.
//
// The returned cancel function unregisters the listener and closes the
// channel. It is safe to call cancel more than once.
func (s *Store) Subscribe() (<-chan AuthState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan AuthState, 8)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}
