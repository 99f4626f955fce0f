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

package session

import (
	"net/http"

	"github.com/google/uuid"
)

// CookieName is the visitor session cookie.
const CookieName = "passwordless_session"

// Manager resolves the visitor session from the request cookie, creating a
// new session ID when none exists.
type Manager struct {
	store  Store
	secure bool
}

// NewManager creates a session manager over the given store. When secure is
// true the session cookie carries the Secure attribute.
func NewManager(store Store, secure bool) *Manager {
	return &Manager{store: store, secure: secure}
}

// Resolve returns the Session for the request, issuing a new session cookie
// when the visitor has none.
func (m *Manager) Resolve(w http.ResponseWriter, r *http.Request) *Session {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		if _, parseErr := uuid.Parse(cookie.Value); parseErr == nil {
			return New(cookie.Value, m.store)
		}
	}

	sid := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return New(sid, m.store)
}
