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

package webauthn

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRPID   = "example.com"
	testOrigin = "https://example.com"
)

func validTestConfig() *Config {
	return &Config{
		RPID:          testRPID,
		RPDisplayName: "Example",
		RPOrigins:     []string{testOrigin},
	}
}

func newTestService(t *testing.T) (*Service, *MemoryCredentialStore) {
	t.Helper()
	store := NewMemoryCredentialStore()
	svc, err := NewService(ServiceParams{
		Config:          validTestConfig(),
		CredentialStore: store,
	})
	require.NoError(t, err)
	return svc, store
}

// registerMock stores the credential a finished registration with the mock
// authenticator would have produced.
func registerMock(t *testing.T, store *MemoryCredentialStore, mock *MockAuthenticator, handle []byte) {
	t.Helper()
	cred, err := mock.StoredCredential(handle)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), cred))
}

func TestNewService(t *testing.T) {
	tests := []struct {
		name    string
		params  ServiceParams
		wantErr string
	}{
		{
			name:    "nil config",
			params:  ServiceParams{},
			wantErr: "config is required",
		},
		{
			name: "nil credential store",
			params: ServiceParams{
				Config: validTestConfig(),
			},
			wantErr: "credential store is required",
		},
		{
			name: "invalid config",
			params: ServiceParams{
				Config:          &Config{},
				CredentialStore: NewMemoryCredentialStore(),
			},
			wantErr: "invalid config",
		},
		{
			name: "valid params",
			params: ServiceParams{
				Config:          validTestConfig(),
				CredentialStore: NewMemoryCredentialStore(),
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewService(tt.params)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, svc)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, svc)
				assert.Equal(t, 60*time.Second, svc.Config().ChallengeTTL)
			}
		})
	}
}

func TestCreateOptions(t *testing.T) {
	ctx := context.Background()
	handle := []byte("user-handle-1")

	t.Run("no credentials", func(t *testing.T) {
		svc, _ := newTestService(t)

		options, pending, err := svc.CreateOptions(ctx, handle, "alice", "Alice")
		assert.ErrorIs(t, err, ErrNoCredentials)
		assert.Nil(t, options)
		assert.Nil(t, pending)
	})

	t.Run("issues challenge bound to registered credentials", func(t *testing.T) {
		svc, store := newTestService(t)
		mock, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		registerMock(t, store, mock, handle)

		options, pending, err := svc.CreateOptions(ctx, handle, "alice", "Alice")
		require.NoError(t, err)
		require.NotNil(t, options)
		require.NotNil(t, pending)

		// Challenge is CSPRNG output of at least 32 bytes
		raw, err := base64.RawURLEncoding.DecodeString(pending.Challenge())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(raw), 32)

		assert.Equal(t, ChallengeKindLogin, pending.Kind)
		assert.Equal(t, handle, pending.UserHandle)
		assert.Equal(t, 60*time.Second, pending.TTL)
		assert.False(t, pending.Expired())

		require.Len(t, options.Response.AllowedCredentials, 1)
		assert.Equal(t, []byte(mock.CredentialID), []byte(options.Response.AllowedCredentials[0].CredentialID))
	})

	t.Run("fresh challenge per call", func(t *testing.T) {
		svc, store := newTestService(t)
		mock, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		registerMock(t, store, mock, handle)

		_, first, err := svc.CreateOptions(ctx, handle, "alice", "Alice")
		require.NoError(t, err)
		_, second, err := svc.CreateOptions(ctx, handle, "alice", "Alice")
		require.NoError(t, err)

		assert.NotEqual(t, first.Challenge(), second.Challenge())
	})
}

func TestValidateAssertion(t *testing.T) {
	ctx := context.Background()
	handle := []byte("user-handle-1")

	setup := func(t *testing.T) (*Service, *MemoryCredentialStore, *MockAuthenticator, *PendingChallenge) {
		svc, store := newTestService(t)
		mock, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		registerMock(t, store, mock, handle)

		_, pending, err := svc.CreateOptions(ctx, handle, "alice", "Alice")
		require.NoError(t, err)
		return svc, store, mock, pending
	}

	t.Run("valid assertion", func(t *testing.T) {
		svc, store, mock, pending := setup(t)

		body, err := mock.AssertionResponseBody(pending.Challenge(), handle, testOrigin)
		require.NoError(t, err)

		got, err := svc.ValidateAssertion(ctx, pending, body)
		require.NoError(t, err)
		assert.Equal(t, handle, got)

		stored, err := store.GetByCredentialID(ctx, mock.CredentialID)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), stored.SignCount)
		assert.False(t, stored.LastUsedAt.IsZero())
	})

	t.Run("nil pending challenge", func(t *testing.T) {
		svc, _, mock, pending := setup(t)

		body, err := mock.AssertionResponseBody(pending.Challenge(), handle, testOrigin)
		require.NoError(t, err)

		_, err = svc.ValidateAssertion(ctx, nil, body)
		assert.ErrorIs(t, err, ErrNoPendingChallenge)
	})

	t.Run("registration challenge rejected for login", func(t *testing.T) {
		svc, _, mock, pending := setup(t)
		pending.Kind = ChallengeKindRegistration

		body, err := mock.AssertionResponseBody(pending.Challenge(), handle, testOrigin)
		require.NoError(t, err)

		_, err = svc.ValidateAssertion(ctx, pending, body)
		assert.ErrorIs(t, err, ErrNoPendingChallenge)
	})

	t.Run("malformed body", func(t *testing.T) {
		svc, _, _, pending := setup(t)

		_, err := svc.ValidateAssertion(ctx, pending, []byte("{not json"))
		assert.ErrorIs(t, err, ErrMalformedAssertion)
	})

	t.Run("challenge mismatch", func(t *testing.T) {
		svc, _, mock, pending := setup(t)

		wrong := base64.RawURLEncoding.EncodeToString([]byte("anything-but-the-issued-challenge--"))
		body, err := mock.AssertionResponseBody(wrong, handle, testOrigin)
		require.NoError(t, err)

		_, err = svc.ValidateAssertion(ctx, pending, body)
		assert.ErrorIs(t, err, ErrChallengeMismatch)
	})

	t.Run("origin mismatch", func(t *testing.T) {
		svc, _, mock, pending := setup(t)

		body, err := mock.AssertionResponseBody(pending.Challenge(), handle, "https://evil.example.net")
		require.NoError(t, err)

		_, err = svc.ValidateAssertion(ctx, pending, body)
		assert.ErrorIs(t, err, ErrOriginMismatch)
	})

	t.Run("expired challenge", func(t *testing.T) {
		svc, _, mock, pending := setup(t)
		pending.IssuedAt = time.Now().Add(-2 * time.Minute)

		body, err := mock.AssertionResponseBody(pending.Challenge(), handle, testOrigin)
		require.NoError(t, err)

		_, err = svc.ValidateAssertion(ctx, pending, body)
		assert.ErrorIs(t, err, ErrChallengeExpired)
	})

	t.Run("signature from wrong key", func(t *testing.T) {
		svc, _, mock, pending := setup(t)

		// A different authenticator claiming the same credential ID
		imposter, err := NewMockAuthenticator(testRPID, WithCredentialID(mock.CredentialID))
		require.NoError(t, err)

		body, err := imposter.AssertionResponseBody(pending.Challenge(), handle, testOrigin)
		require.NoError(t, err)

		_, err = svc.ValidateAssertion(ctx, pending, body)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("replayed assertion fails", func(t *testing.T) {
		svc, _, mock, pending := setup(t)

		body, err := mock.AssertionResponseBody(pending.Challenge(), handle, testOrigin)
		require.NoError(t, err)

		_, err = svc.ValidateAssertion(ctx, pending, body)
		require.NoError(t, err)

		// Same signed body again. The challenge still matches the pending
		// state, so the counter check is what stops the replay.
		_, err = svc.ValidateAssertion(ctx, pending, body)
		assert.ErrorIs(t, err, ErrCounterReplay)
	})

	t.Run("counter regression flags clone", func(t *testing.T) {
		svc, store, mock, pending := setup(t)
		mock.SetSignCount(10)

		body, err := mock.AssertionResponseBody(pending.Challenge(), handle, testOrigin)
		require.NoError(t, err)
		_, err = svc.ValidateAssertion(ctx, pending, body)
		require.NoError(t, err)

		// Cloned device resumes from an older counter value
		mock.SetSignCount(3)
		_, pending2, err := svc.CreateOptions(ctx, handle, "alice", "Alice")
		require.NoError(t, err)
		body2, err := mock.AssertionResponseBody(pending2.Challenge(), handle, testOrigin)
		require.NoError(t, err)

		_, err = svc.ValidateAssertion(ctx, pending2, body2)
		assert.ErrorIs(t, err, ErrCounterReplay)

		stored, err := store.GetByCredentialID(ctx, mock.CredentialID)
		require.NoError(t, err)
		assert.True(t, stored.CloneWarning)
	})
}

func TestCounterAdvanced(t *testing.T) {
	tests := []struct {
		name     string
		stored   uint32
		asserted uint32
		want     bool
	}{
		{"both zero, no counter support", 0, 0, true},
		{"first real use", 0, 1, true},
		{"normal advance", 5, 6, true},
		{"large jump", 5, 500, true},
		{"same value", 5, 5, false},
		{"regression", 5, 4, false},
		{"reset to zero", 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, counterAdvanced(tt.stored, tt.asserted))
		})
	}
}

func TestRegistrationCeremony(t *testing.T) {
	ctx := context.Background()
	handle := []byte("user-handle-2")

	t.Run("register then login", func(t *testing.T) {
		svc, _ := newTestService(t)
		mock, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)

		options, pending, err := svc.CreateRegistrationOptions(ctx, handle, "bob", "Bob")
		require.NoError(t, err)
		require.NotNil(t, options)
		assert.Equal(t, ChallengeKindRegistration, pending.Kind)

		body, err := mock.AttestationResponseBody(pending.Challenge(), testOrigin)
		require.NoError(t, err)

		cred, err := svc.FinishRegistration(ctx, pending, body)
		require.NoError(t, err)
		assert.Equal(t, []byte(mock.CredentialID), cred.ID)
		assert.Equal(t, handle, cred.UserHandle)

		// The registered credential immediately works for login
		_, loginPending, err := svc.CreateOptions(ctx, handle, "bob", "Bob")
		require.NoError(t, err)
		loginBody, err := mock.AssertionResponseBody(loginPending.Challenge(), handle, testOrigin)
		require.NoError(t, err)
		got, err := svc.ValidateAssertion(ctx, loginPending, loginBody)
		require.NoError(t, err)
		assert.Equal(t, handle, got)
	})

	t.Run("existing credentials are excluded", func(t *testing.T) {
		svc, store := newTestService(t)
		mock, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		registerMock(t, store, mock, handle)

		options, _, err := svc.CreateRegistrationOptions(ctx, handle, "bob", "Bob")
		require.NoError(t, err)
		require.Len(t, options.Response.CredentialExcludeList, 1)
		assert.Equal(t, []byte(mock.CredentialID), []byte(options.Response.CredentialExcludeList[0].CredentialID))
	})

	t.Run("expired registration challenge", func(t *testing.T) {
		svc, _ := newTestService(t)
		mock, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)

		_, pending, err := svc.CreateRegistrationOptions(ctx, handle, "bob", "Bob")
		require.NoError(t, err)
		pending.IssuedAt = time.Now().Add(-2 * time.Minute)

		body, err := mock.AttestationResponseBody(pending.Challenge(), testOrigin)
		require.NoError(t, err)

		_, err = svc.FinishRegistration(ctx, pending, body)
		assert.ErrorIs(t, err, ErrChallengeExpired)
	})
}

func TestHasCredentials(t *testing.T) {
	ctx := context.Background()
	handle := []byte("user-handle-3")

	svc, store := newTestService(t)

	// Unknown handle and known handle without credentials look identical
	has, err := svc.HasCredentials(ctx, handle)
	require.NoError(t, err)
	assert.False(t, has)

	has, err = svc.HasCredentials(ctx, nil)
	require.NoError(t, err)
	assert.False(t, has)

	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	registerMock(t, store, mock, handle)

	has, err = svc.HasCredentials(ctx, handle)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestDeleteCredential(t *testing.T) {
	ctx := context.Background()
	owner := []byte("owner")
	other := []byte("other")

	svc, store := newTestService(t)
	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	registerMock(t, store, mock, owner)

	// Another account cannot delete the owner's credential
	err = svc.DeleteCredential(ctx, other, mock.CredentialID)
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	err = svc.DeleteCredential(ctx, owner, mock.CredentialID)
	require.NoError(t, err)

	has, err := svc.HasCredentials(ctx, owner)
	require.NoError(t, err)
	assert.False(t, has)
}
