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
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// pendingChallengeSchema is the serialization schema version for
// PendingChallenge payloads stored in the session.
const pendingChallengeSchema = 1

// Credential is a WebAuthn public-key credential record stored by the
// relying party. It is keyed by the authenticator-assigned credential ID and
// owned by the user identified by UserHandle.
type Credential struct {
	// ID is the credential identifier assigned by the authenticator.
	ID []byte `json:"id"`

	// UserHandle is the opaque user handle this credential belongs to.
	UserHandle []byte `json:"user_handle"`

	// PublicKey is the credential's public key in COSE format.
	PublicKey []byte `json:"public_key"`

	// AttestationType indicates the type of attestation used at registration.
	AttestationType string `json:"attestation_type"`

	// Transport lists the transports supported by the authenticator.
	Transport []protocol.AuthenticatorTransport `json:"transport,omitempty"`

	// Flags contains the authenticator capability flags seen at registration.
	Flags CredentialFlags `json:"flags"`

	// AAGUID is the authenticator model identifier.
	AAGUID []byte `json:"aaguid"`

	// SignCount is the signature counter used for clone detection. It must
	// only ever increase; see ValidateAssertion.
	SignCount uint32 `json:"sign_count"`

	// CloneWarning records that a counter regression was observed for this
	// credential at some point.
	CloneWarning bool `json:"clone_warning"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential last completed a login.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// CredentialFlags contains authenticator capability flags.
type CredentialFlags struct {
	UserPresent    bool `json:"user_present"`
	UserVerified   bool `json:"user_verified"`
	BackupEligible bool `json:"backup_eligible"`
	BackupState    bool `json:"backup_state"`
}

// Descriptor returns the credential descriptor sent to the browser in the
// allowed-credentials list.
func (c *Credential) Descriptor() protocol.CredentialDescriptor {
	return protocol.CredentialDescriptor{
		Type:         protocol.PublicKeyCredentialType,
		CredentialID: c.ID,
		Transport:    c.Transport,
	}
}

// toLibrary converts the record to the go-webauthn library's credential type
// for signature verification.
func (c *Credential) toLibrary() webauthn.Credential {
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       c.Transport,
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.Flags.UserPresent,
			UserVerified:   c.Flags.UserVerified,
			BackupEligible: c.Flags.BackupEligible,
			BackupState:    c.Flags.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.SignCount,
		},
	}
}

// credentialFromLibrary builds a stored record from a library credential
// produced by a finished registration ceremony.
func credentialFromLibrary(userHandle []byte, wc *webauthn.Credential) *Credential {
	return &Credential{
		ID:              wc.ID,
		UserHandle:      userHandle,
		PublicKey:       wc.PublicKey,
		AttestationType: wc.AttestationType,
		Transport:       wc.Transport,
		Flags: CredentialFlags{
			UserPresent:    wc.Flags.UserPresent,
			UserVerified:   wc.Flags.UserVerified,
			BackupEligible: wc.Flags.BackupEligible,
			BackupState:    wc.Flags.BackupState,
		},
		AAGUID:    wc.Authenticator.AAGUID,
		SignCount: wc.Authenticator.SignCount,
		CreatedAt: time.Now().UTC(),
	}
}

// PendingChallenge is the transient per-login-attempt state bound to a
// visitor session. Exactly one may be active per session; issuing a new one
// overwrites the old, and validation consumes it on success and failure
// alike.
//
// The struct is serialized to JSON for session storage; SchemaVersion guards
// against stale payloads after upgrades.
type PendingChallenge struct {
	// SchemaVersion identifies the serialization schema.
	SchemaVersion int `json:"v"`

	// Kind is "login" or "registration".
	Kind string `json:"kind"`

	// UserHandle is the opaque handle of the account being authenticated.
	UserHandle []byte `json:"user_handle"`

	// Session is the ceremony data produced when the challenge was issued:
	// the challenge itself, the allowed credential IDs and the verification
	// requirement. It is fed back to the library during validation.
	Session webauthn.SessionData `json:"session"`

	// IssuedAt is when the challenge was created.
	IssuedAt time.Time `json:"issued_at"`

	// TTL is how long the challenge stays valid after IssuedAt.
	TTL time.Duration `json:"ttl"`
}

// Challenge kinds.
const (
	ChallengeKindLogin        = "login"
	ChallengeKindRegistration = "registration"
)

// Expired reports whether the challenge has outlived its TTL.
func (p *PendingChallenge) Expired() bool {
	return time.Now().After(p.IssuedAt.Add(p.TTL))
}

// Challenge returns the base64url-encoded challenge issued to the browser.
func (p *PendingChallenge) Challenge() string {
	return p.Session.Challenge
}

// ceremonyUser adapts a user handle plus its stored credentials to the
// webauthn.User interface the library requires during ceremonies. Account
// names live in pkg/directory; the library only needs them for registration
// option display.
type ceremonyUser struct {
	handle      []byte
	name        string
	displayName string
	credentials []*Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return u.handle
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.name
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	if u.displayName == "" {
		return u.name
	}
	return u.displayName
}

// WebAuthnIcon satisfies the deprecated icon accessor still present in the
// webauthn.User interface of the library version in use; icons are unused.
func (u *ceremonyUser) WebAuthnIcon() string {
	return ""
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.credentials))
	for i, c := range u.credentials {
		creds[i] = c.toLibrary()
	}
	return creds
}
