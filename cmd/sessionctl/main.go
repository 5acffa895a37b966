// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command sessionctl drives the Aleutian Sync session subsystem from the
// terminal.
//
// Usage:
//
//	sessionctl login [--email x --password y]   # interactive form when omitted
//	sessionctl register --email x --password y [--name "Display Name"]
//	sessionctl logout
//	sessionctl status
//	sessionctl reset-password you@example.com
//	sessionctl watch                            # live AuthState view
//
// Against the local simulator:
//
//	ALEUTIAN_SYNC_URL=http://localhost:9999 ALEUTIAN_SYNC_ANON_KEY=dev sessionctl status
//
// The fixed offline credential (see ~/.aleutian/sync.yaml) signs in
// without contacting the identity service and persists a cached session
// that later invocations adopt.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSync/pkg/logging"
	"github.com/AleutianAI/AleutianSync/services/session/config"
	"github.com/AleutianAI/AleutianSync/services/session/identity"
	"github.com/AleutianAI/AleutianSync/services/session/profile"
	"github.com/AleutianAI/AleutianSync/services/session/reconciler"
	"github.com/AleutianAI/AleutianSync/services/session/state"
	"github.com/AleutianAI/AleutianSync/services/session/store"
)

var (
	flagConfig   string
	flagEmail    string
	flagPassword string
	flagName     string

	labelStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func main() {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		// Plain output when piped.
		labelStyle = lipgloss.NewStyle()
		okStyle = lipgloss.NewStyle()
		errStyle = lipgloss.NewStyle()
	}

	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Manage the Aleutian Sync session",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.aleutian/sync.yaml)")

	login := &cobra.Command{
		Use:   "login",
		Short: "Sign in with an email/password credential",
		RunE:  runLogin,
	}
	login.Flags().StringVar(&flagEmail, "email", "", "account email")
	login.Flags().StringVar(&flagPassword, "password", "", "account password")

	register := &cobra.Command{
		Use:   "register",
		Short: "Create a new account",
		RunE:  runRegister,
	}
	register.Flags().StringVar(&flagEmail, "email", "", "account email")
	register.Flags().StringVar(&flagPassword, "password", "", "account password")
	register.Flags().StringVar(&flagName, "name", "", "display name for the seeded profile")

	root.AddCommand(
		login,
		register,
		&cobra.Command{
			Use:   "logout",
			Short: "Sign out and clear any cached offline session",
			RunE:  runLogout,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the current session state",
			RunE:  runStatus,
		},
		&cobra.Command{
			Use:   "reset-password <email>",
			Short: "Request a password reset email",
			Args:  cobra.ExactArgs(1),
			RunE:  runResetPassword,
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Watch the session state live",
			RunE:  runWatch,
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

// buildReconciler wires the SDK from config. The returned cleanup
// deactivates the reconciler and closes the store and logger.
func buildReconciler() (*reconciler.Reconciler, func(), error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "sessionctl",
	})

	fallback, err := store.OpenBadger(store.Config{
		Path:       cfg.Store.Path,
		SyncWrites: true,
		Logger:     logger.Slog(),
	})
	if err != nil {
		logger.Close()
		return nil, nil, err
	}

	client := identity.NewHTTPClient(cfg.Identity.URL, cfg.Identity.AnonKey,
		identity.WithLogger(logger.Slog()))
	profiles := profile.NewHTTPService(cfg.Identity.URL, cfg.Identity.AnonKey,
		client.Vault(), profile.WithLogger(logger.Slog()))

	rec := reconciler.New(cfg, client, profiles, fallback, logger.Slog())
	cleanup := func() {
		rec.Deactivate()
		_ = fallback.Close()
		_ = logger.Close()
	}
	return rec, cleanup, nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	email, password := flagEmail, flagPassword
	if email == "" || password == "" {
		if !isatty.IsTerminal(os.Stdin.Fd()) {
			return fmt.Errorf("--email and --password are required when not interactive")
		}
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title("Email").Value(&email),
				huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&password),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}
	}

	rec, cleanup, err := buildReconciler()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if err := rec.Activate(ctx); err != nil {
		return err
	}
	if err := rec.SignIn(ctx, email, password); err != nil {
		return err
	}
	printState(rec.Current())
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	if flagEmail == "" || flagPassword == "" {
		return fmt.Errorf("--email and --password are required")
	}

	rec, cleanup, err := buildReconciler()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if err := rec.Activate(ctx); err != nil {
		return err
	}

	var seed *reconciler.ProfileSeed
	if flagName != "" {
		seed = &reconciler.ProfileSeed{DisplayName: flagName}
	}
	if err := rec.SignUp(ctx, flagEmail, flagPassword, seed); err != nil {
		return err
	}
	printState(rec.Current())
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	rec, cleanup, err := buildReconciler()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if err := rec.Activate(ctx); err != nil {
		return err
	}
	if err := rec.SignOut(ctx); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("signed out"))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	rec, cleanup, err := buildReconciler()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := rec.Activate(cmd.Context()); err != nil {
		return err
	}
	printState(rec.Current())
	return nil
}

func runResetPassword(cmd *cobra.Command, args []string) error {
	rec, cleanup, err := buildReconciler()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if err := rec.Activate(ctx); err != nil {
		return err
	}
	if err := rec.RequestPasswordReset(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("reset email requested"))
	return nil
}

func printState(st state.AuthState) {
	if !st.IsAuthenticated() {
		fmt.Println(labelStyle.Render("session: ") + "signed out")
		if st.Error != "" {
			fmt.Println(errStyle.Render("error:   ") + st.Error)
		}
		return
	}

	fmt.Println(labelStyle.Render("session: ") + okStyle.Render("authenticated"))
	fmt.Println(labelStyle.Render("email:   ") + st.Identity.Email)
	fmt.Println(labelStyle.Render("user id: ") + st.Identity.ID)
	if st.Profile != nil {
		fmt.Println(labelStyle.Render("name:    ") + st.Profile.DisplayName)
		fmt.Println(labelStyle.Render("role:    ") + string(st.Profile.Role))
	} else {
		fmt.Println(labelStyle.Render("profile: ") + "unavailable")
	}
}
