// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package profile provides the client for the business-layer profile
// service. Profiles are fetched on demand by the session reconciler and
// cached only inside AuthState; a missing or failing profile never
// blocks authentication.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianSync/services/session/state"
)

const (
	profilesPath = "/rest/v1/profiles"

	defaultTimeout = 15 * time.Second
)

// ErrProfileNotFound is returned when no profile row exists for the
// identity id.
var ErrProfileNotFound = errors.New("profile not found")

// Patch is a partial profile update. Nil fields are left untouched.
type Patch struct {
	DisplayName         *string     `json:"display_name,omitempty"`
	DefaultOrgID        *string     `json:"default_org_id,omitempty"`
	Role                *state.Role `json:"role,omitempty"`
	OnboardingCompleted *bool       `json:"onboarding_completed,omitempty"`
}

// TokenSource supplies the bearer token for profile requests. The
// identity client's TokenVault satisfies this.
type TokenSource interface {
	Token() (string, bool)
}

// Service is the profile data service consumed by the reconciler and
// the mutation facade.
type Service interface {
	// FetchProfile returns the profile for identityID, or
	// ErrProfileNotFound.
	FetchProfile(ctx context.Context, identityID string) (*state.Profile, error)

	// UpsertProfile creates or replaces the profile row keyed by its ID.
	UpsertProfile(ctx context.Context, record state.Profile) error

	// UpdateProfile applies patch to the profile for identityID and
	// returns the updated record.
	UpdateProfile(ctx context.Context, identityID string, patch Patch) (*state.Profile, error)
}

// upsertPayload mirrors state.Profile with validation tags; validation
// lives here rather than on the state type so the state layer stays free
// of transport concerns.
type upsertPayload struct {
	ID                  string    `json:"id" validate:"required,uuid4"`
	DisplayName         string    `json:"display_name" validate:"required,max=200"`
	DefaultOrgID        *string   `json:"default_org_id,omitempty" validate:"omitempty,uuid4"`
	Role                string    `json:"role" validate:"required,oneof=owner admin manager member"`
	OnboardingCompleted bool      `json:"onboarding_completed"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// HTTPService is the REST implementation of Service.
//
// Thread Safety: safe for concurrent use.
type HTTPService struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	tokens     TokenSource
	validate   *validator.Validate
	logger     *slog.Logger
}

// ServiceOption configures an HTTPService.
type ServiceOption func(*HTTPService)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) ServiceOption {
	return func(s *HTTPService) {
		s.httpClient.Timeout = d
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *HTTPService) {
		s.logger = logger
	}
}

// NewHTTPService creates a profile client for the service at baseURL.
//
// tokens supplies the bearer token per request; pass the identity
// client's vault so profile calls ride the current session.
func NewHTTPService(baseURL, anonKey string, tokens TokenSource, opts ...ServiceOption) *HTTPService {
	s := &HTTPService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		tokens:     tokens,
		validate:   validator.New(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchProfile returns the profile for identityID.
func (s *HTTPService) FetchProfile(ctx context.Context, identityID string) (*state.Profile, error) {
	req, err := s.newRequest(ctx, http.MethodGet, profilesPath+"/"+identityID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeProfile(resp.Body)
	case http.StatusNotFound:
		return nil, ErrProfileNotFound
	default:
		return nil, s.errorFromResponse("fetch profile", resp)
	}
}

// UpsertProfile creates or replaces the profile row keyed by record.ID.
func (s *HTTPService) UpsertProfile(ctx context.Context, record state.Profile) error {
	payload := upsertPayload{
		ID:                  record.ID,
		DisplayName:         record.DisplayName,
		DefaultOrgID:        record.DefaultOrgID,
		Role:                string(record.Role),
		OnboardingCompleted: record.OnboardingCompleted,
		CreatedAt:           record.CreatedAt,
		UpdatedAt:           record.UpdatedAt,
	}
	if err := s.validate.Struct(payload); err != nil {
		return fmt.Errorf("invalid profile record: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	req, err := s.newRequest(ctx, http.MethodPost, profilesPath, bytes.NewReader(body))
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return s.errorFromResponse("upsert profile", resp)
	}
	return nil
}

// UpdateProfile applies patch to the profile for identityID.
func (s *HTTPService) UpdateProfile(ctx context.Context, identityID string, patch Patch) (*state.Profile, error) {
	if patch.Role != nil && !patch.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", *patch.Role)
	}

	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal patch: %w", err)
	}
	req, err := s.newRequest(ctx, http.MethodPatch, profilesPath+"/"+identityID, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeProfile(resp.Body)
	case http.StatusNotFound:
		return nil, ErrProfileNotFound
	default:
		return nil, s.errorFromResponse("update profile", resp)
	}
}

func (s *HTTPService) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.anonKey)
	if s.tokens != nil {
		if token, ok := s.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

func (s *HTTPService) errorFromResponse(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%s: %s (status %d)", op, msg, resp.StatusCode)
}

func decodeProfile(r io.Reader) (*state.Profile, error) {
	var p state.Profile
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

// Ensure HTTPService implements Service
var _ Service = (*HTTPService)(nil)
