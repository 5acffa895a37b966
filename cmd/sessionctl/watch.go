// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSync/services/session/state"
)

// stateMsg carries an accepted AuthState write into the bubbletea loop.
type stateMsg state.AuthState

// feedClosedMsg signals that the state subscription has been closed.
type feedClosedMsg struct{}

type watchModel struct {
	spin    spinner.Model
	current state.AuthState
	feed    <-chan state.AuthState
	closed  bool
}

func newWatchModel(initial state.AuthState, feed <-chan state.AuthState) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return watchModel{spin: sp, current: initial, feed: feed}
}

func waitForState(feed <-chan state.AuthState) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-feed
		if !ok {
			return feedClosedMsg{}
		}
		return stateMsg(st)
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, waitForState(m.feed))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case stateMsg:
		m.current = state.AuthState(msg)
		return m, waitForState(m.feed)
	case feedClosedMsg:
		m.closed = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("aleutian session watch") + "  (q to quit)\n\n")

	if m.current.Loading {
		b.WriteString(m.spin.View() + " reconciling...\n")
		return b.String()
	}

	if m.current.IsAuthenticated() {
		b.WriteString(okStyle.Render("● authenticated") + "\n")
		b.WriteString("  email: " + m.current.Identity.Email + "\n")
		if m.current.Profile != nil {
			b.WriteString("  name:  " + m.current.Profile.DisplayName + "\n")
			b.WriteString("  role:  " + string(m.current.Profile.Role) + "\n")
		} else {
			b.WriteString("  profile unavailable\n")
		}
	} else {
		b.WriteString("○ signed out\n")
	}
	if m.current.Error != "" {
		b.WriteString(errStyle.Render("  error: "+m.current.Error) + "\n")
	}
	return b.String()
}

func runWatch(cmd *cobra.Command, args []string) error {
	rec, cleanup, err := buildReconciler()
	if err != nil {
		return err
	}
	defer cleanup()

	feed, cancel := rec.State().Subscribe()
	defer cancel()

	// Activation runs concurrently so the view shows the loading state
	// and then every transition, including pushed stream events.
	go func() {
		if err := rec.Activate(cmd.Context()); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "activate:", err)
		}
	}()

	program := tea.NewProgram(newWatchModel(rec.Current(), feed))
	_, err = program.Run()
	return err
}
