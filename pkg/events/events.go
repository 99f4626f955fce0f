// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passwordless.
//
// go-passwordless is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package events provides the synchronous event bus the login orchestrator
// uses to let host-application subscribers observe and veto logins.
package events

import (
	"context"
	"sync"
)

// Well-known event names fired during authentication.
const (
	// UserLogin is fired before a session is bound. Subscribers may veto by
	// returning false.
	UserLogin = "user.login"

	// UserAfterLogin is fired after a successful login. Results are ignored.
	UserAfterLogin = "user.afterLogin"

	// UserLoginFailure is fired when a login attempt is vetoed or fails.
	UserLoginFailure = "user.loginFailure"
)

// HandlerFunc handles a triggered event. The returned value is collected by
// Trigger; a boolean false conventionally signals a veto.
type HandlerFunc func(ctx context.Context, payload any) any

// Bus is a synchronous event bus. Handlers for an event run in registration
// order, and every handler runs regardless of what earlier handlers returned.
// Interpreting the collected results is the caller's job.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string][]HandlerFunc),
	}
}

// Subscribe registers a handler for the named event.
func (b *Bus) Subscribe(event string, h HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], h)
}

// Trigger fires the named event. All handlers run synchronously in
// registration order and their results are returned in the same order.
func (b *Bus) Trigger(ctx context.Context, event string, payload any) []any {
	b.mu.RLock()
	handlers := b.handlers[event]
	b.mu.RUnlock()

	results := make([]any, 0, len(handlers))
	for _, h := range handlers {
		results = append(results, h(ctx, payload))
	}
	return results
}

// VetoedBy returns the index of the first boolean false in results, or -1
// when no handler vetoed. Non-boolean results never count as a veto.
func VetoedBy(results []any) int {
	for i, r := range results {
		if ok, isBool := r.(bool); isBool && !ok {
			return i
		}
	}
	return -1
}
