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

package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	created, err := dir.Create(ctx, &User{Username: "alice", Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	byName, err := dir.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	byID, err := dir.LoadByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)

	_, err = dir.FindByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = dir.Create(ctx, &User{Username: "alice"})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestHandleStableAndResolvable(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	user, err := dir.Create(ctx, &User{Username: "alice"})
	require.NoError(t, err)

	handle, err := dir.Handle(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, handle, 32)

	// Same handle on every call
	again, err := dir.Handle(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, handle, again)

	resolved, err := dir.ResolveHandle(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)

	_, err = dir.Handle(ctx, "no-such-user")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = dir.ResolveHandle(ctx, []byte("unknown-handle"))
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestFindByIdentifier(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	alice, err := dir.Create(ctx, &User{Username: "alice"})
	require.NoError(t, err)
	bob, err := dir.Create(ctx, &User{Username: "bob"})
	require.NoError(t, err)

	_, err = dir.FindByIdentifier(ctx, "alice.id.example")
	assert.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, dir.Save(ctx, &IdentityLink{
		UserID:        alice.ID,
		Identifier:    "alice.id.example",
		IssuerSubject: "https://issuer.example#sub-1",
	}))

	found, err := dir.FindByIdentifier(ctx, "alice.id.example")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, found.ID)

	// A second link for the same identifier makes the lookup ambiguous and
	// the login fails closed.
	require.NoError(t, dir.Save(ctx, &IdentityLink{
		UserID:        bob.ID,
		Identifier:    "alice.id.example",
		IssuerSubject: "https://issuer.example#sub-2",
	}))

	_, err = dir.FindByIdentifier(ctx, "alice.id.example")
	assert.ErrorIs(t, err, ErrAmbiguousIdentifier)
}

func TestDeleteForUserRemovesLinks(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	alice, err := dir.Create(ctx, &User{Username: "alice"})
	require.NoError(t, err)

	require.NoError(t, dir.Save(ctx, &IdentityLink{
		UserID:     alice.ID,
		Identifier: "alice.id.example",
	}))
	require.NoError(t, dir.DeleteForUser(ctx, alice.ID))

	links, err := dir.Links(ctx, "alice.id.example")
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestCanLogin(t *testing.T) {
	assert.True(t, (&User{}).CanLogin())
	assert.False(t, (&User{Blocked: true}).CanLogin())
	assert.False(t, (&User{RequiresActivation: true}).CanLogin())
}
