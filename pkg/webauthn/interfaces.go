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

import "context"

// CredentialStore persists WebAuthn credentials.
type CredentialStore interface {
	// Save stores a new credential. Returns ErrCredentialExists if a
	// credential with the same ID is already stored.
	Save(ctx context.Context, cred *Credential) error

	// GetByUserHandle retrieves all credentials owned by a user handle.
	// A user with no credentials yields an empty slice, not an error.
	GetByUserHandle(ctx context.Context, userHandle []byte) ([]*Credential, error)

	// GetByCredentialID retrieves a credential by its ID. Returns
	// ErrCredentialNotFound if absent.
	GetByCredentialID(ctx context.Context, credID []byte) (*Credential, error)

	// Update replaces an existing credential record, typically after a
	// counter advance. Returns ErrCredentialNotFound if absent.
	Update(ctx context.Context, cred *Credential) error

	// Delete removes a credential by its ID.
	Delete(ctx context.Context, credID []byte) error

	// DeleteByUserHandle removes all credentials owned by a user handle.
	DeleteByUserHandle(ctx context.Context, userHandle []byte) error
}
