// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package identity

import (
	"sync"

	"github.com/awnumar/memguard"
)

// TokenVault holds the current access token in a memguard Enclave so the
// raw token never sits in ordinary heap memory between requests.
//
// Token() returns a short-lived copy for building the Authorization
// header; callers must not retain it.
//
// Thread Safety: safe for concurrent use.
type TokenVault struct {
	mu      sync.Mutex
	enclave *memguard.Enclave
}

// NewTokenVault returns an empty vault.
func NewTokenVault() *TokenVault {
	return &TokenVault{}
}

// Store seals token into the vault, replacing any previous token.
// An empty token clears the vault.
func (v *TokenVault) Store(token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if token == "" {
		v.enclave = nil
		return
	}
	// NewEnclave wipes the source buffer after sealing.
	v.enclave = memguard.NewEnclave([]byte(token))
}

// Token returns a copy of the sealed token, or false when the vault is
// empty or the enclave cannot be opened.
func (v *TokenVault) Token() (string, bool) {
	v.mu.Lock()
	enclave := v.enclave
	v.mu.Unlock()

	if enclave == nil {
		return "", false
	}
	buf, err := enclave.Open()
	if err != nil {
		return "", false
	}
	defer buf.Destroy()
	return string(buf.Bytes()), true
}

// Clear drops the sealed token.
func (v *TokenVault) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.enclave = nil
}
