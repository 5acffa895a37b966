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
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// streamFrame is the wire shape of a change-stream event.
type streamFrame struct {
	Event   string   `json:"event"`
	Session *Session `json:"session,omitempty"`
}

// wsSubscription is the handle for an active websocket change stream.
type wsSubscription struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

// Unsubscribe closes the stream and waits for the delivery loop to stop.
// Safe to call multiple times.
func (s *wsSubscription) Unsubscribe() {
	s.once.Do(func() {
		// Closing the conn unblocks the read loop.
		_ = s.conn.Close()
		<-s.done
	})
}

// OnSessionChange opens the change stream and dispatches every event to
// handler until the subscription is torn down or ctx ends.
//
// Description:
//
//	Dials the websocket endpoint and starts a delivery goroutine. Events
//	arrive in backend emission order; unknown event kinds are logged and
//	skipped. A TOKEN_REFRESHED event reseals the new access token into
//	the vault before the handler runs.
//
//	Handler invocations are serialized (one delivery goroutine), so the
//	handler needs no internal locking against itself.
//
// Outputs:
//
//	Subscription - Handle used only to request teardown.
//	error - Non-nil if the dial fails. Callers are expected to degrade
//	        to one-shot state rather than treat this as fatal.
func (c *HTTPClient) OnSessionChange(ctx context.Context, handler func(AuthEvent)) (Subscription, error) {
	wsURL, err := c.streamURL()
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial change stream: %w", err)
	}

	sub := &wsSubscription{
		conn: conn,
		done: make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		for {
			var frame streamFrame
			if err := conn.ReadJSON(&frame); err != nil {
				c.logger.Debug("change stream closed", "error", err.Error())
				return
			}

			kind := EventKind(frame.Event)
			switch kind {
			case EventSignedIn, EventTokenRefreshed:
				if frame.Session == nil {
					c.logger.Warn("change stream event without session", "event", frame.Event)
					continue
				}
				c.vault.Store(frame.Session.AccessToken)
			case EventSignedOut:
				c.vault.Clear()
			default:
				c.logger.Warn("unknown change stream event", "event", frame.Event)
				continue
			}

			handler(AuthEvent{Kind: kind, Session: frame.Session})
		}
	}()

	// Stop delivery when the activation context ends, even if the caller
	// never unsubscribes explicitly.
	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// streamURL converts the REST base URL into the websocket endpoint,
// carrying the apikey and any vaulted token as query parameters.
func (c *HTTPClient) streamURL() (string, error) {
	u, err := url.Parse(c.baseURL + streamPath)
	if err != nil {
		return "", fmt.Errorf("parse stream URL: %w", err)
	}
	switch {
	case u.Scheme == "https":
		u.Scheme = "wss"
	case u.Scheme == "http":
		u.Scheme = "ws"
	case strings.HasPrefix(u.Scheme, "ws"):
		// already a websocket scheme
	default:
		return "", fmt.Errorf("unsupported scheme %q for change stream", u.Scheme)
	}

	q := u.Query()
	q.Set("apikey", c.anonKey)
	if token, ok := c.vault.Token(); ok {
		q.Set("access_token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
