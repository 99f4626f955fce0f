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

package login

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passwordless/pkg/directory"
	"github.com/jeremyhahn/go-passwordless/pkg/events"
	"github.com/jeremyhahn/go-passwordless/pkg/federation"
	"github.com/jeremyhahn/go-passwordless/pkg/session"
)

type fixture struct {
	orchestrator *Orchestrator
	bus          *events.Bus
	dir          *directory.MemoryDirectory
	sess         *session.Session
}

func newFixture(t *testing.T, registrationEnabled bool) *fixture {
	t.Helper()

	bus := events.NewBus()
	dir := directory.NewMemoryDirectory()
	orchestrator, err := NewOrchestrator(OrchestratorParams{
		Bus:                 bus,
		Directory:           dir,
		Links:               dir,
		RegistrationEnabled: registrationEnabled,
	})
	require.NoError(t, err)

	return &fixture{
		orchestrator: orchestrator,
		bus:          bus,
		dir:          dir,
		sess:         session.New(uuid.NewString(), session.NewMemoryStore()),
	}
}

func TestLoginBindsSessionAndFiresAfterLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	user, err := f.dir.Create(ctx, &directory.User{Username: "alice"})
	require.NoError(t, err)

	var fired []string
	f.bus.Subscribe(events.UserLogin, func(ctx context.Context, payload any) any {
		fired = append(fired, events.UserLogin)
		return true
	})
	f.bus.Subscribe(events.UserAfterLogin, func(ctx context.Context, payload any) any {
		fired = append(fired, events.UserAfterLogin)
		return nil
	})

	err = f.orchestrator.Login(ctx, f.sess, user, Options{
		Action:       ActionLoginSite,
		ResponseType: "passkey",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{events.UserLogin, events.UserAfterLogin}, fired)
	assert.Equal(t, user.ID, f.sess.UserID(ctx))
	assert.Equal(t, session.StateValidated, f.sess.LoginState(ctx))
}

func TestLoginDeniesGatedAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	tests := []struct {
		name string
		user *directory.User
	}{
		{"blocked", &directory.User{ID: "1", Username: "blocked", Blocked: true}},
		{"activation pending", &directory.User{ID: "2", Username: "pending", RequiresActivation: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.orchestrator.Login(ctx, f.sess, tt.user, Options{Action: ActionLoginSite})
			assert.ErrorIs(t, err, ErrAccessDenied)
			assert.Empty(t, f.sess.UserID(ctx))
		})
	}
}

func TestLoginVeto(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	user, err := f.dir.Create(ctx, &directory.User{Username: "alice"})
	require.NoError(t, err)

	var ran []int
	var failureFired bool
	f.bus.Subscribe(events.UserLogin, func(ctx context.Context, payload any) any {
		ran = append(ran, 1)
		ev := payload.(*Event)
		ev.Reject("your account needs a second factor")
		return false
	})
	// Later subscribers still run after a veto
	f.bus.Subscribe(events.UserLogin, func(ctx context.Context, payload any) any {
		ran = append(ran, 2)
		return true
	})
	f.bus.Subscribe(events.UserLoginFailure, func(ctx context.Context, payload any) any {
		failureFired = true
		return nil
	})

	err = f.orchestrator.Login(ctx, f.sess, user, Options{Action: ActionLoginSite})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginVetoed)

	var veto *VetoError
	require.True(t, errors.As(err, &veto))
	assert.Equal(t, "your account needs a second factor", veto.Message)

	assert.Equal(t, []int{1, 2}, ran)
	assert.True(t, failureFired)
	assert.Empty(t, f.sess.UserID(ctx))
}

func testIdentity() *federation.Identity {
	return &federation.Identity{
		Issuer:     "https://issuer.example",
		Subject:    "sub-1",
		Identifier: "alice.id.example",
	}
}

func TestRegisterFederated(t *testing.T) {
	ctx := context.Background()
	info := &federation.UserInfo{
		GivenName:  "Alice",
		FamilyName: "Example",
		Email:      "alice@example.org",
	}

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, false)
		_, err := f.orchestrator.RegisterFederated(ctx, testIdentity(), info)
		assert.ErrorIs(t, err, ErrRegistrationDisabled)
	})

	t.Run("creates linked account", func(t *testing.T) {
		f := newFixture(t, true)

		user, err := f.orchestrator.RegisterFederated(ctx, testIdentity(), info)
		require.NoError(t, err)
		assert.Equal(t, "alice.id.example", user.Username)
		assert.Equal(t, "Alice Example", user.Name)
		assert.Equal(t, "alice@example.org", user.Email)

		resolved, err := f.orchestrator.ResolveFederated(ctx, testIdentity())
		require.NoError(t, err)
		assert.Equal(t, user.ID, resolved.ID)
	})

	t.Run("prefers full name claim", func(t *testing.T) {
		f := newFixture(t, true)
		user, err := f.orchestrator.RegisterFederated(ctx, testIdentity(), &federation.UserInfo{
			Name:  "Alice B. Example",
			Email: "alice@example.org",
		})
		require.NoError(t, err)
		assert.Equal(t, "Alice B. Example", user.Name)
	})
}

func TestResolveFederated(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown identifier", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.orchestrator.ResolveFederated(ctx, testIdentity())
		assert.ErrorIs(t, err, directory.ErrUserNotFound)
	})

	t.Run("issuer subject mismatch fails closed", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.orchestrator.RegisterFederated(ctx, testIdentity(), &federation.UserInfo{Email: "a@example.org"})
		require.NoError(t, err)

		// Same identifier, different subject at the issuer
		hijacked := testIdentity()
		hijacked.Subject = "sub-2"
		_, err = f.orchestrator.ResolveFederated(ctx, hijacked)
		assert.ErrorIs(t, err, ErrNotLinked)
	})
}
