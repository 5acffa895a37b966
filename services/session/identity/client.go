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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	tokenPath   = "/auth/v1/token"
	signupPath  = "/auth/v1/signup"
	logoutPath  = "/auth/v1/logout"
	recoverPath = "/auth/v1/recover"
	sessionPath = "/auth/v1/session"
	streamPath  = "/auth/v1/stream"

	defaultTimeout = 15 * time.Second
)

type passwordGrantRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

type recoverRequest struct {
	Email string `json:"email"`
}

// serviceError is the error body shape the service returns. GoTrue-style
// services are inconsistent between error_description and msg, so both
// are accepted.
type serviceError struct {
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	Msg              string `json:"msg,omitempty"`
}

func (e serviceError) message() string {
	switch {
	case e.ErrorDescription != "":
		return e.ErrorDescription
	case e.Msg != "":
		return e.Msg
	default:
		return e.Error
	}
}

// HTTPClient is the REST implementation of Client.
//
// Thread Safety: safe for concurrent use.
type HTTPClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	vault      *TokenVault
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

// WithSignInLimit overrides the sign-in throttle (default 1 attempt per
// second with a burst of 3).
func WithSignInLimit(limiter *rate.Limiter) ClientOption {
	return func(c *HTTPClient) {
		c.limiter = limiter
	}
}

// NewHTTPClient creates a client for the identity service at baseURL.
//
// Inputs:
//
//	baseURL - Service base URL, e.g. "https://id.example.com". Trailing
//	          slashes are trimmed.
//	anonKey - Public API key sent as the apikey header on every request.
//	opts    - Optional overrides.
//
// Outputs:
//
//	*HTTPClient - Ready-to-use client with an empty token vault.
func NewHTTPClient(baseURL, anonKey string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		vault:      NewTokenVault(),
		limiter:    rate.NewLimiter(rate.Every(time.Second), 3),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Vault exposes the token vault, primarily so callers can seed a token
// restored from elsewhere.
func (c *HTTPClient) Vault() *TokenVault {
	return c.vault
}

// GetSession returns the current session for the vaulted token, or
// (nil, nil) when no token is held or the service reports no session.
func (c *HTTPClient) GetSession(ctx context.Context) (*Session, error) {
	token, ok := c.vault.Token()
	if !ok {
		return nil, nil
	}

	req, err := c.newRequest(ctx, http.MethodGet, sessionPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var session Session
		if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		return &session, nil
	case http.StatusNoContent, http.StatusUnauthorized:
		// Token expired or revoked: no active session.
		c.vault.Clear()
		return nil, nil
	default:
		return nil, c.errorFromResponse(resp)
	}
}

// SignInWithPassword authenticates with an email/password credential.
//
// Attempts are throttled client-side; a blocked attempt waits rather
// than failing. The returned session's token is sealed into the vault.
func (c *HTTPClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("sign-in throttled: %w", err)
	}

	body := passwordGrantRequest{Email: email, Password: password}
	session, err := c.postForSession(ctx, tokenPath+"?grant_type=password", body)
	if err != nil {
		return nil, err
	}
	c.vault.Store(session.AccessToken)
	c.logger.Info("signed in", "user_id", session.User.ID)
	return session, nil
}

// SignUp registers a new account.
func (c *HTTPClient) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error) {
	body := signupRequest{Email: email, Password: password, Data: metadata}
	session, err := c.postForSession(ctx, signupPath, body)
	if err != nil {
		return nil, err
	}
	c.vault.Store(session.AccessToken)
	c.logger.Info("signed up", "user_id", session.User.ID)
	return session, nil
}

// SignOut invalidates the current session and clears the vault.
//
// The vault is cleared only after the service confirms: a failed
// sign-out must not silently drop the session client-side.
func (c *HTTPClient) SignOut(ctx context.Context) error {
	token, ok := c.vault.Token()
	if !ok {
		return ErrNoSession
	}

	req, err := c.newRequest(ctx, http.MethodPost, logoutPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp)
	}
	c.vault.Clear()
	c.logger.Info("signed out")
	return nil
}

// ResetPasswordForEmail requests a password-reset email. Fire-and-forget
// from the session's perspective; it never touches the vault.
func (c *HTTPClient) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	path := recoverPath
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}

	payload, err := json.Marshal(recoverRequest{Email: email})
	if err != nil {
		return fmt.Errorf("marshal recover request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("password reset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.errorFromResponse(resp)
	}
	return nil
}

func (c *HTTPClient) postForSession(ctx context.Context, path string, body any) (*Session, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(resp)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)
	return req, nil
}

// errorFromResponse turns a non-2xx response into an AuthError carrying
// the service's own message verbatim.
func (c *HTTPClient) errorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var svcErr serviceError
	if err := json.Unmarshal(raw, &svcErr); err == nil {
		if msg := svcErr.message(); msg != "" {
			return newAuthError(resp.StatusCode, msg)
		}
	}
	return newAuthError(resp.StatusCode, strings.TrimSpace(string(raw)))
}

// Ensure HTTPClient implements Client
var _ Client = (*HTTPClient)(nil)
