// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package identitysim

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// hub fans session-change frames out to every connected stream client.
//
// Thread Safety: safe for concurrent use.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
	logger  *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		clients: make(map[*websocket.Conn]*sync.Mutex),
		logger:  logger,
	}
}

// add registers a connection and returns its write lock.
func (h *hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = &sync.Mutex{}
}

// remove drops a connection and closes it.
func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

// broadcast writes frame to every client. Write failures evict the
// client; the next broadcast no longer sees it.
func (h *hub) broadcast(frame any) {
	h.mu.Lock()
	targets := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for conn, lock := range h.clients {
		targets[conn] = lock
	}
	h.mu.Unlock()

	for conn, lock := range targets {
		lock.Lock()
		err := conn.WriteJSON(frame)
		lock.Unlock()
		if err != nil {
			h.logger.Debug("stream client write failed, evicting", "error", err.Error())
			h.remove(conn)
		}
	}
}

// closeAll disconnects every client.
func (h *hub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// count returns the number of connected stream clients.
func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
