// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command identity-sim runs the local identity service simulator.
//
// The simulator speaks the REST and websocket surface the Aleutian Sync
// SDK consumes, keeps accounts in memory, and exposes prometheus
// metrics. It exists for local development and demos; nothing it stores
// survives a restart.
//
// Usage:
//
//	go run ./cmd/identity-sim
//	go run ./cmd/identity-sim -port 9999 -seed-email dev@example.com -seed-password devpass
//
// Then point the SDK at it:
//
//	ALEUTIAN_SYNC_URL=http://localhost:9999 ALEUTIAN_SYNC_ANON_KEY=dev sessionctl status
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianSync/pkg/logging"
	"github.com/AleutianAI/AleutianSync/services/session/identitysim"
	"github.com/AleutianAI/AleutianSync/services/session/state"
)

func main() {
	port := flag.Int("port", 9999, "Port to listen on")
	seedEmail := flag.String("seed-email", "", "Optional account to pre-create")
	seedPassword := flag.String("seed-password", "", "Password for the seeded account")
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "identity-sim",
	})
	defer logger.Close()

	sim, err := identitysim.NewServer(
		identitysim.WithLogger(logger.Slog()),
		identitysim.WithMetrics(),
	)
	if err != nil {
		logger.Error("failed to build simulator", "error", err.Error())
		os.Exit(1)
	}
	defer sim.Close()

	if *seedEmail != "" {
		id := sim.AddAccount(*seedEmail, *seedPassword, &state.Profile{
			DisplayName:         "Seeded User",
			Role:                state.RoleOwner,
			OnboardingCompleted: true,
			CreatedAt:           time.Now().UTC(),
			UpdatedAt:           time.Now().UTC(),
		})
		logger.Info("seeded account", "email", *seedEmail, "user_id", id)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           sim.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("identity simulator listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("simulator exited", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("simulator stopped")
}
