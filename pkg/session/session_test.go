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
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type challengePayload struct {
	SchemaVersion int    `json:"v"`
	Challenge     string `json:"challenge"`
}

func newTestSession() *Session {
	return New(uuid.NewString(), NewMemoryStore())
}

func TestPendingChallengeOverwrite(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession()

	require.NoError(t, sess.SetPendingChallenge(ctx, challengePayload{1, "first"}))
	require.NoError(t, sess.SetPendingChallenge(ctx, challengePayload{1, "second"}))

	var got challengePayload
	ok, err := sess.PendingChallenge(ctx, &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", got.Challenge)
	assert.Equal(t, StateChallengeIssued, sess.LoginState(ctx))
}

func TestClearLoginReleasesTransientState(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession()

	require.NoError(t, sess.SetPendingChallenge(ctx, challengePayload{1, "c"}))
	require.NoError(t, sess.SetReturnURL(ctx, "/account"))
	require.NoError(t, sess.SetLoginUserID(ctx, "42"))
	require.NoError(t, sess.SetFederationState(ctx, map[string]string{"nonce": "n"}))
	require.NoError(t, sess.BindUser(ctx, "42"))
	require.NoError(t, sess.AddFlash(ctx, "notice"))

	require.NoError(t, sess.ClearLogin(ctx))

	var challenge challengePayload
	ok, err := sess.PendingChallenge(ctx, &challenge)
	require.NoError(t, err)
	assert.False(t, ok)

	var state map[string]string
	ok, err = sess.FederationState(ctx, &state)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Empty(t, sess.ReturnURL(ctx))
	assert.Empty(t, sess.LoginUserID(ctx))
	assert.Equal(t, StateIdle, sess.LoginState(ctx))

	// User binding and flashes survive the clear
	assert.Equal(t, "42", sess.UserID(ctx))
	assert.Equal(t, []string{"notice"}, sess.TakeFlashes(ctx))
}

func TestFlashesConsumedOnce(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession()

	require.NoError(t, sess.AddFlash(ctx, "one"))
	require.NoError(t, sess.AddFlash(ctx, "two"))

	assert.Equal(t, []string{"one", "two"}, sess.TakeFlashes(ctx))
	assert.Nil(t, sess.TakeFlashes(ctx))
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStoreWithTTL(10 * time.Millisecond)

	require.NoError(t, store.Set(ctx, "sid", "k", "v"))
	value, ok, err := store.Get(ctx, "sid", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", value)

	time.Sleep(20 * time.Millisecond)

	_, ok, err = store.Get(ctx, "sid", "k")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, store.Cleanup())
	assert.Equal(t, 0, store.Count())
}

func TestManagerResolve(t *testing.T) {
	manager := NewManager(NewMemoryStore(), false)

	// No cookie: a new session is issued
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	sess := manager.Resolve(w, r)
	require.NotEmpty(t, sess.ID())

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, sess.ID(), cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	// Existing cookie: the same session comes back, no new cookie
	w2 := httptest.NewRecorder()
	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.AddCookie(cookies[0])
	sess2 := manager.Resolve(w2, r2)
	assert.Equal(t, sess.ID(), sess2.ID())
	assert.Empty(t, w2.Result().Cookies())

	// Garbage cookie value: replaced with a fresh session
	w3 := httptest.NewRecorder()
	r3 := httptest.NewRequest(http.MethodGet, "/", nil)
	r3.AddCookie(&http.Cookie{Name: CookieName, Value: "not-a-uuid"})
	sess3 := manager.Resolve(w3, r3)
	assert.NotEqual(t, "not-a-uuid", sess3.ID())
	require.Len(t, w3.Result().Cookies(), 1)
}
