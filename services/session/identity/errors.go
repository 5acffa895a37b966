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
	"errors"
	"fmt"
)

// Sentinel errors for identity client operations.
var (
	// ErrNoSession is returned by operations that require an access
	// token when the vault is empty.
	ErrNoSession = errors.New("no active session")

	// ErrStreamClosed is returned when the change stream connection has
	// been closed and no further events will be delivered.
	ErrStreamClosed = errors.New("change stream closed")
)

// AuthError is an explicit rejection from the identity service
// (invalid credentials, validation failure). Its message is the
// service's own text and is surfaced to the user verbatim.
//
// Transport failures are NOT AuthErrors; they come back as wrapped
// net/http errors and the reconciler absorbs them as offline mode.
type AuthError struct {
	Status  int
	Message string
}

// Error returns the service's message.
func (e *AuthError) Error() string {
	return e.Message
}

// IsAuthError reports whether err is an explicit service rejection and,
// if so, returns it.
func IsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// newAuthError builds an AuthError, substituting a generic message when
// the service returned an empty body.
func newAuthError(status int, message string) *AuthError {
	if message == "" {
		message = fmt.Sprintf("identity service rejected the request (status %d)", status)
	}
	return &AuthError{Status: status, Message: message}
}
