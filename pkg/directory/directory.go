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

// Package directory models the host application's user directory and the
// links between local accounts and federated identifiers. Accounts are looked
// up by username for passkey logins and by federated identifier for ID4Me
// logins; each account also has a stable opaque handle used as the WebAuthn
// user handle so credential records never embed usernames.
package directory

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is returned when no account matches the lookup.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when creating an account whose username or
	// email is already taken.
	ErrUserExists = errors.New("user already exists")

	// ErrAmbiguousIdentifier is returned when a federated identifier maps to
	// more than one account. Logins fail closed on ambiguity.
	ErrAmbiguousIdentifier = errors.New("identifier matches multiple users")
)

// Error wraps a directory error with the operation that failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return errors.Is(e.Err, target) }

// WrapError wraps an error with an operation name if it is not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// User is a host-application account.
type User struct {
	// ID is the account's primary key, rendered as a string.
	ID string `json:"id"`

	// Username is the unique login name.
	Username string `json:"username"`

	// Name is the display name.
	Name string `json:"name"`

	// Email is the account email address.
	Email string `json:"email"`

	// Blocked accounts may never log in.
	Blocked bool `json:"blocked"`

	// RequiresActivation accounts have not completed signup and may not
	// log in yet.
	RequiresActivation bool `json:"requires_activation"`

	// Language is the frontend language preference.
	Language string `json:"language,omitempty"`

	// AdminLanguage is the admin panel language preference.
	AdminLanguage string `json:"admin_language,omitempty"`

	// Groups are the access groups the account belongs to.
	Groups []string `json:"groups,omitempty"`
}

// CanLogin reports whether the account is allowed to authenticate at all.
func (u *User) CanLogin() bool {
	return !u.Blocked && !u.RequiresActivation
}

// IdentityLink ties a federated identifier to a local account.
type IdentityLink struct {
	// UserID is the local account.
	UserID string `json:"user_id"`

	// Identifier is the user-facing federated identifier, e.g.
	// "alice.example.org".
	Identifier string `json:"identifier"`

	// IssuerSubject is the issuer-qualified subject, "<iss>#<sub>".
	IssuerSubject string `json:"issuer_subject"`
}

// Directory is the account lookup and creation contract.
type Directory interface {
	// FindByUsername returns the account with the given username.
	FindByUsername(ctx context.Context, username string) (*User, error)

	// FindByIdentifier returns the account linked to the federated
	// identifier. Returns ErrAmbiguousIdentifier when more than one account
	// is linked.
	FindByIdentifier(ctx context.Context, identifier string) (*User, error)

	// LoadByID returns the account with the given ID.
	LoadByID(ctx context.Context, id string) (*User, error)

	// Create adds a new account.
	Create(ctx context.Context, user *User) (*User, error)

	// Handle returns the stable opaque WebAuthn user handle for the account.
	Handle(ctx context.Context, userID string) ([]byte, error)

	// ResolveHandle returns the account owning the given handle.
	ResolveHandle(ctx context.Context, handle []byte) (*User, error)
}

// LinkStore persists federated identity links.
type LinkStore interface {
	// Save stores a link. A second link for the same identifier and a
	// different user makes later lookups ambiguous.
	Save(ctx context.Context, link *IdentityLink) error

	// Links returns all links for a federated identifier.
	Links(ctx context.Context, identifier string) ([]*IdentityLink, error)

	// DeleteForUser removes all links owned by the account, typically when
	// the account is deleted.
	DeleteForUser(ctx context.Context, userID string) error
}
