// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identitysim provides an in-process identity service simulator
// for local development and integration tests.
//
// The simulator speaks the same GoTrue-shaped REST surface the SDK's
// identity client consumes, plus the websocket change stream and the
// profile REST endpoints. Accounts and profiles live in memory; a
// sign-in, sign-out, or token refresh is broadcast to every connected
// stream client so the full push path can be exercised without a real
// backend.
package identitysim

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/AleutianAI/AleutianSync/services/session/state"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type account struct {
	ID          string
	Email       string
	Password    string
	ConfirmedAt *time.Time
}

type sessionBody struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int      `json:"expires_in"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	User         userBody `json:"user"`
}

type userBody struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
}

type streamFrame struct {
	Event   string       `json:"event"`
	Session *sessionBody `json:"session,omitempty"`
}

// Server is the in-memory identity simulator.
//
// Thread Safety: safe for concurrent use.
type Server struct {
	engine *gin.Engine
	hub    *hub
	logger *slog.Logger

	mu       sync.Mutex
	accounts map[string]*account       // keyed by lowercase email
	profiles map[string]state.Profile  // keyed by user id
	tokens   map[string]string         // access token -> user id
	requests map[string]int            // path -> count
}

// Option configures a Server.
type Option func(*Server) error

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithMetrics mounts a prometheus /metrics endpoint backed by an otel
// bridge and installs the meter provider globally, so the SDK's own
// meters are scrapeable when both run in one process.
func WithMetrics() Option {
	return func(s *Server) error {
		exporter, err := otelprom.New()
		if err != nil {
			return err
		}
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		otel.SetMeterProvider(provider)
		s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
		return nil
	}
}

// NewServer creates a simulator with no accounts.
func NewServer(opts ...Option) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:   gin.New(),
		logger:   slog.Default(),
		accounts: make(map[string]*account),
		profiles: make(map[string]state.Profile),
		tokens:   make(map[string]string),
		requests: make(map[string]int),
	}
	s.hub = newHub(s.logger)
	s.routes()

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Handler returns the HTTP handler, for httptest or a real listener.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Close disconnects all stream clients.
func (s *Server) Close() {
	s.hub.closeAll()
}

func (s *Server) routes() {
	s.engine.Use(s.countRequests)

	auth := s.engine.Group("/auth/v1")
	auth.POST("/token", s.handleToken)
	auth.POST("/signup", s.handleSignup)
	auth.POST("/logout", s.handleLogout)
	auth.POST("/recover", s.handleRecover)
	auth.GET("/session", s.handleSession)
	auth.GET("/stream", s.handleStream)

	rest := s.engine.Group("/rest/v1")
	rest.GET("/profiles/:id", s.handleGetProfile)
	rest.POST("/profiles", s.handleUpsertProfile)
	rest.PATCH("/profiles/:id", s.handlePatchProfile)
}

func (s *Server) countRequests(c *gin.Context) {
	s.mu.Lock()
	s.requests[c.FullPath()]++
	s.mu.Unlock()
	c.Next()
}

// RequestCount returns how many requests hit the given route pattern,
// e.g. "/auth/v1/token". Test helper.
func (s *Server) RequestCount(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[pattern]
}

// StreamClients returns the number of connected stream clients.
func (s *Server) StreamClients() int {
	return s.hub.count()
}

// =============================================================================
// Test/Dev Seeding
// =============================================================================

// AddAccount registers an account (confirmed) and its profile, returning
// the user id.
func (s *Server) AddAccount(email, password string, prof *state.Profile) string {
	now := time.Now().UTC()
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[strings.ToLower(email)] = &account{
		ID:          id,
		Email:       email,
		Password:    password,
		ConfirmedAt: &now,
	}
	if prof != nil {
		p := *prof
		p.ID = id
		s.profiles[id] = p
	}
	return id
}

// RemoveProfile deletes the profile row for a user id. Test helper for
// profile-gap scenarios.
func (s *Server) RemoveProfile(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, userID)
}

// BroadcastTokenRefresh issues a fresh token for the user and pushes a
// TOKEN_REFRESHED frame to every stream client.
func (s *Server) BroadcastTokenRefresh(email string) {
	s.mu.Lock()
	acct, ok := s.accounts[strings.ToLower(email)]
	if !ok {
		s.mu.Unlock()
		return
	}
	session := s.issueSessionLocked(acct)
	s.mu.Unlock()

	s.hub.broadcast(streamFrame{Event: "TOKEN_REFRESHED", Session: &session})
}

// BroadcastSignOut pushes a SIGNED_OUT frame to every stream client.
func (s *Server) BroadcastSignOut() {
	s.hub.broadcast(streamFrame{Event: "SIGNED_OUT"})
}

// issueSessionLocked mints a session for the account. Caller holds s.mu.
func (s *Server) issueSessionLocked(acct *account) sessionBody {
	token := uuid.NewString()
	s.tokens[token] = acct.ID
	return sessionBody{
		AccessToken:  token,
		TokenType:    "bearer",
		ExpiresIn:    3600,
		RefreshToken: uuid.NewString(),
		User: userBody{
			ID:               acct.ID,
			Email:            acct.Email,
			EmailConfirmedAt: acct.ConfirmedAt,
		},
	}
}

// =============================================================================
// Auth Handlers
// =============================================================================

func (s *Server) handleToken(c *gin.Context) {
	if c.Query("grant_type") != "password" {
		c.JSON(http.StatusBadRequest, gin.H{"error_description": "unsupported grant type"})
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_description": "malformed request"})
		return
	}

	s.mu.Lock()
	acct, ok := s.accounts[strings.ToLower(req.Email)]
	if !ok || acct.Password != req.Password {
		s.mu.Unlock()
		c.JSON(http.StatusBadRequest, gin.H{"error_description": "Invalid login credentials"})
		return
	}
	session := s.issueSessionLocked(acct)
	s.mu.Unlock()

	c.JSON(http.StatusOK, session)
	s.hub.broadcast(streamFrame{Event: "SIGNED_IN", Session: &session})
}

func (s *Server) handleSignup(c *gin.Context) {
	var req struct {
		Email    string         `json:"email"`
		Password string         `json:"password"`
		Data     map[string]any `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_description": "malformed request"})
		return
	}
	if req.Email == "" || len(req.Password) < 6 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"msg": "Password should be at least 6 characters"})
		return
	}

	s.mu.Lock()
	if _, exists := s.accounts[strings.ToLower(req.Email)]; exists {
		s.mu.Unlock()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"msg": "User already registered"})
		return
	}
	now := time.Now().UTC()
	acct := &account{
		ID:          uuid.NewString(),
		Email:       req.Email,
		Password:    req.Password,
		ConfirmedAt: &now,
	}
	s.accounts[strings.ToLower(req.Email)] = acct
	session := s.issueSessionLocked(acct)
	s.mu.Unlock()

	c.JSON(http.StatusOK, session)
	s.hub.broadcast(streamFrame{Event: "SIGNED_IN", Session: &session})
}

func (s *Server) handleLogout(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"msg": "missing bearer token"})
		return
	}

	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()

	c.Status(http.StatusNoContent)
	s.hub.broadcast(streamFrame{Event: "SIGNED_OUT"})
}

func (s *Server) handleRecover(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"msg": "email is required"})
		return
	}
	// No mail delivery in the simulator; acknowledge and log.
	s.logger.Info("password reset requested", "email", req.Email)
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) handleSession(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.Status(http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	userID, live := s.tokens[token]
	var acct *account
	if live {
		for _, a := range s.accounts {
			if a.ID == userID {
				acct = a
				break
			}
		}
	}
	s.mu.Unlock()

	if acct == nil {
		c.Status(http.StatusUnauthorized)
		return
	}
	c.JSON(http.StatusOK, sessionBody{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   3600,
		User: userBody{
			ID:               acct.ID,
			Email:            acct.Email,
			EmailConfirmedAt: acct.ConfirmedAt,
		},
	})
}

func (s *Server) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade the stream websocket", "error", err.Error())
		return
	}
	s.hub.add(conn)
	s.logger.Debug("stream client connected")

	// Drain (and ignore) client frames to detect disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.remove(conn)
				s.logger.Debug("stream client disconnected")
				return
			}
		}
	}()
}

// =============================================================================
// Profile Handlers
// =============================================================================

func (s *Server) handleGetProfile(c *gin.Context) {
	s.mu.Lock()
	prof, ok := s.profiles[c.Param("id")]
	s.mu.Unlock()

	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, prof)
}

func (s *Server) handleUpsertProfile(c *gin.Context) {
	var prof state.Profile
	if err := c.ShouldBindJSON(&prof); err != nil || prof.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "malformed profile"})
		return
	}

	s.mu.Lock()
	_, existed := s.profiles[prof.ID]
	s.profiles[prof.ID] = prof
	s.mu.Unlock()

	if existed {
		c.JSON(http.StatusOK, prof)
		return
	}
	c.JSON(http.StatusCreated, prof)
}

func (s *Server) handlePatchProfile(c *gin.Context) {
	var patch struct {
		DisplayName         *string `json:"display_name"`
		DefaultOrgID        *string `json:"default_org_id"`
		Role                *string `json:"role"`
		OnboardingCompleted *bool   `json:"onboarding_completed"`
	}
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "malformed patch"})
		return
	}

	s.mu.Lock()
	prof, ok := s.profiles[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		c.Status(http.StatusNotFound)
		return
	}
	if patch.DisplayName != nil {
		prof.DisplayName = *patch.DisplayName
	}
	if patch.DefaultOrgID != nil {
		prof.DefaultOrgID = patch.DefaultOrgID
	}
	if patch.Role != nil {
		role := state.Role(*patch.Role)
		if !role.Valid() {
			s.mu.Unlock()
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid role"})
			return
		}
		prof.Role = role
	}
	if patch.OnboardingCompleted != nil {
		prof.OnboardingCompleted = *patch.OnboardingCompleted
	}
	prof.UpdatedAt = time.Now().UTC()
	s.profiles[c.Param("id")] = prof
	s.mu.Unlock()

	c.JSON(http.StatusOK, prof)
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	return token, token != ""
}
