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

// Package session provides the per-visitor server-side session store that the
// login flows bind their transient state to: the pending WebAuthn challenge,
// the federation state, the post-login return URL and flash notices.
//
// All login-flow keys live under the "passwordless." prefix so the store can
// be shared with a host application. ClearLogin removes every transient login
// key and is deferred by handlers so state is released on success and failure
// alike.
package session

import (
	"context"
	"encoding/json"
)

// Store persists session values keyed by session ID and key.
type Store interface {
	// Get returns the value for key in session sid. The boolean reports
	// whether the key was present.
	Get(ctx context.Context, sid, key string) (string, bool, error)

	// Set stores a value for key in session sid.
	Set(ctx context.Context, sid, key, value string) error

	// Delete removes key from session sid. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, sid, key string) error

	// Destroy removes the whole session.
	Destroy(ctx context.Context, sid string) error
}

// Session keys. Everything transient to a login attempt lives under the
// "passwordless." prefix and is removed by ClearLogin.
const (
	keyReturnURL        = "passwordless.returnUrl"
	keyPendingChallenge = "passwordless.pendingChallenge"
	keyLoginUserID      = "passwordless.loginUserId"
	keyFederationState  = "passwordless.federationState"
	keyLoginState       = "passwordless.loginState"
	keyFlash            = "passwordless.flash"

	// keyBoundUser survives ClearLogin; it is the login result, not
	// transient attempt state.
	keyBoundUser = "passwordless.userId"
)

// Login attempt states tracked in the session.
const (
	StateIdle            = "idle"
	StateChallengeIssued = "challengeIssued"
	StateValidated       = "validated"
	StateFailed          = "failed"
	StateExpired         = "expired"
)

// Session is a handle to one visitor's session.
type Session struct {
	id    string
	store Store
}

// New wraps a session ID and store into a Session handle.
func New(id string, store Store) *Session {
	return &Session{id: id, store: store}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// PutJSON marshals v and stores it under key.
func (s *Session) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, s.id, key, string(data))
}

// GetJSON unmarshals the value under key into dest. The boolean reports
// whether the key was present.
func (s *Session) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	raw, ok, err := s.store.Get(ctx, s.id, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetReturnURL stores the URL the visitor is sent back to after the login
// attempt completes.
func (s *Session) SetReturnURL(ctx context.Context, url string) error {
	return s.store.Set(ctx, s.id, keyReturnURL, url)
}

// ReturnURL returns the stored return URL, or "" when none is set.
func (s *Session) ReturnURL(ctx context.Context) string {
	url, _, _ := s.store.Get(ctx, s.id, keyReturnURL)
	return url
}

// SetPendingChallenge stores the serialized pending WebAuthn challenge,
// overwriting any prior one. The overwrite is what enforces the
// one-pending-challenge-per-session rule.
func (s *Session) SetPendingChallenge(ctx context.Context, pending any) error {
	if err := s.PutJSON(ctx, keyPendingChallenge, pending); err != nil {
		return err
	}
	return s.SetLoginState(ctx, StateChallengeIssued)
}

// PendingChallenge loads the pending challenge into dest. The boolean
// reports whether one was present.
func (s *Session) PendingChallenge(ctx context.Context, dest any) (bool, error) {
	return s.GetJSON(ctx, keyPendingChallenge, dest)
}

// SetLoginUserID stores the directory user ID tied to the pending challenge.
func (s *Session) SetLoginUserID(ctx context.Context, userID string) error {
	return s.store.Set(ctx, s.id, keyLoginUserID, userID)
}

// LoginUserID returns the user ID tied to the pending challenge.
func (s *Session) LoginUserID(ctx context.Context) string {
	id, _, _ := s.store.Get(ctx, s.id, keyLoginUserID)
	return id
}

// SetFederationState stores the serialized federation state.
func (s *Session) SetFederationState(ctx context.Context, state any) error {
	return s.PutJSON(ctx, keyFederationState, state)
}

// FederationState loads the federation state into dest.
func (s *Session) FederationState(ctx context.Context, dest any) (bool, error) {
	return s.GetJSON(ctx, keyFederationState, dest)
}

// SetLoginState records the login attempt state.
func (s *Session) SetLoginState(ctx context.Context, state string) error {
	return s.store.Set(ctx, s.id, keyLoginState, state)
}

// LoginState returns the login attempt state, StateIdle when unset.
func (s *Session) LoginState(ctx context.Context) string {
	state, ok, _ := s.store.Get(ctx, s.id, keyLoginState)
	if !ok {
		return StateIdle
	}
	return state
}

// BindUser marks the session as authenticated for the given user ID. The
// binding survives ClearLogin.
func (s *Session) BindUser(ctx context.Context, userID string) error {
	return s.store.Set(ctx, s.id, keyBoundUser, userID)
}

// UserID returns the authenticated user ID, or "" for an anonymous session.
func (s *Session) UserID(ctx context.Context) string {
	id, _, _ := s.store.Get(ctx, s.id, keyBoundUser)
	return id
}

// AddFlash appends a notice shown to the visitor after the next redirect.
func (s *Session) AddFlash(ctx context.Context, message string) error {
	var flashes []string
	if _, err := s.GetJSON(ctx, keyFlash, &flashes); err != nil {
		return err
	}
	flashes = append(flashes, message)
	return s.PutJSON(ctx, keyFlash, flashes)
}

// TakeFlashes returns and clears all pending notices.
func (s *Session) TakeFlashes(ctx context.Context) []string {
	var flashes []string
	if ok, err := s.GetJSON(ctx, keyFlash, &flashes); err != nil || !ok {
		return nil
	}
	_ = s.store.Delete(ctx, s.id, keyFlash)
	return flashes
}

// ClearLogin removes all transient login-attempt state: the pending
// challenge, the federation state, the return URL and the attempt user ID.
// The authenticated-user binding and flash notices stay.
func (s *Session) ClearLogin(ctx context.Context) error {
	for _, key := range []string{
		keyPendingChallenge,
		keyFederationState,
		keyReturnURL,
		keyLoginUserID,
		keyLoginState,
	} {
		if err := s.store.Delete(ctx, s.id, key); err != nil {
			return err
		}
	}
	return nil
}

// Destroy removes the whole session including the user binding.
func (s *Session) Destroy(ctx context.Context) error {
	return s.store.Destroy(ctx, s.id)
}
