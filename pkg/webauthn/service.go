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
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Service provides WebAuthn challenge issuance, assertion validation and
// credential registration.
type Service struct {
	webauthn   *webauthn.WebAuthn
	config     *Config
	creds      CredentialStore
	configured bool
}

// ServiceParams contains dependencies for creating a WebAuthn service.
type ServiceParams struct {
	// Config is the WebAuthn configuration (required).
	Config *Config

	// CredentialStore is the credential persistence layer (required).
	CredentialStore CredentialStore
}

// NewService creates a new WebAuthn service with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.CredentialStore == nil {
		return nil, fmt.Errorf("credential store is required")
	}

	// Set defaults and validate
	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	wa, err := webauthn.New(params.Config.ToWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}

	return &Service{
		webauthn:   wa,
		config:     params.Config,
		creds:      params.CredentialStore,
		configured: true,
	}, nil
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// HasCredentials reports whether the user handle has at least one registered
// credential. Callers that expose this over HTTP must not distinguish an
// unknown handle from a known handle with zero credentials.
func (s *Service) HasCredentials(ctx context.Context, userHandle []byte) (bool, error) {
	if !s.configured {
		return false, ErrNotConfigured
	}
	if userHandle == nil {
		return false, nil
	}

	creds, err := s.creds.GetByUserHandle(ctx, userHandle)
	if err != nil {
		return false, WrapError("get credentials", err)
	}
	return len(creds) > 0, nil
}

// Credentials returns all credentials registered for the user handle.
func (s *Service) Credentials(ctx context.Context, userHandle []byte) ([]*Credential, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	creds, err := s.creds.GetByUserHandle(ctx, userHandle)
	if err != nil {
		return nil, WrapError("get credentials", err)
	}
	return creds, nil
}

// CreateOptions issues a fresh login challenge for the user handle and
// returns the credential request options to send to the browser together
// with the PendingChallenge the caller must bind to the visitor's session.
//
// The challenge is at least 32 bytes of CSPRNG output (generated by the
// library) and the allowed-credentials list is restricted to the user's
// registered credentials. Returns ErrNoCredentials when the handle owns no
// credentials; callers must translate that into the same response an unknown
// user receives.
func (s *Service) CreateOptions(ctx context.Context, userHandle []byte, name, displayName string) (*protocol.CredentialAssertion, *PendingChallenge, error) {
	if !s.configured {
		return nil, nil, ErrNotConfigured
	}

	creds, err := s.creds.GetByUserHandle(ctx, userHandle)
	if err != nil {
		return nil, nil, WrapError("get credentials", err)
	}
	if len(creds) == 0 {
		return nil, nil, ErrNoCredentials
	}

	user := &ceremonyUser{
		handle:      userHandle,
		name:        name,
		displayName: displayName,
		credentials: creds,
	}

	options, session, err := s.webauthn.BeginLogin(user,
		webauthn.WithUserVerification(s.config.userVerificationRequirement()),
	)
	if err != nil {
		return nil, nil, WrapError("begin login", err)
	}

	pending := &PendingChallenge{
		SchemaVersion: pendingChallengeSchema,
		Kind:          ChallengeKindLogin,
		UserHandle:    userHandle,
		Session:       *session,
		IssuedAt:      time.Now().UTC(),
		TTL:           s.config.ChallengeTTL,
	}

	return options, pending, nil
}

// CreateRegistrationOptions starts a credential registration ceremony for an
// authenticated user. Existing credentials are placed on the exclusion list
// so the authenticator refuses to re-register them.
func (s *Service) CreateRegistrationOptions(ctx context.Context, userHandle []byte, name, displayName string) (*protocol.CredentialCreation, *PendingChallenge, error) {
	if !s.configured {
		return nil, nil, ErrNotConfigured
	}

	creds, err := s.creds.GetByUserHandle(ctx, userHandle)
	if err != nil {
		return nil, nil, WrapError("get credentials", err)
	}

	excludeList := make([]protocol.CredentialDescriptor, len(creds))
	for i, cred := range creds {
		excludeList[i] = cred.Descriptor()
	}

	user := &ceremonyUser{
		handle:      userHandle,
		name:        name,
		displayName: displayName,
		credentials: creds,
	}

	options, session, err := s.webauthn.BeginRegistration(user,
		webauthn.WithExclusions(excludeList),
	)
	if err != nil {
		return nil, nil, WrapError("begin registration", err)
	}

	pending := &PendingChallenge{
		SchemaVersion: pendingChallengeSchema,
		Kind:          ChallengeKindRegistration,
		UserHandle:    userHandle,
		Session:       *session,
		IssuedAt:      time.Now().UTC(),
		TTL:           s.config.ChallengeTTL,
	}

	return options, pending, nil
}

// FinishRegistration completes a registration ceremony and stores the new
// credential. The pending challenge must have been produced by
// CreateRegistrationOptions for the same session.
func (s *Service) FinishRegistration(ctx context.Context, pending *PendingChallenge, body []byte) (*Credential, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	if pending == nil || pending.Kind != ChallengeKindRegistration {
		return nil, ErrNoPendingChallenge
	}
	if pending.Expired() {
		return nil, ErrChallengeExpired
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(body))
	if err != nil {
		return nil, WrapError("parse attestation", ErrMalformedAssertion)
	}

	creds, err := s.creds.GetByUserHandle(ctx, pending.UserHandle)
	if err != nil {
		return nil, WrapError("get credentials", err)
	}
	user := &ceremonyUser{handle: pending.UserHandle, credentials: creds}

	credential, err := s.webauthn.CreateCredential(user, pending.Session, parsed)
	if err != nil {
		return nil, WrapError("create credential", err)
	}

	cred := credentialFromLibrary(pending.UserHandle, credential)
	if err := s.creds.Save(ctx, cred); err != nil {
		return nil, WrapError("save credential", err)
	}

	return cred, nil
}

// DeleteCredential removes a credential owned by the given user handle. The
// ownership check prevents one account from deleting another's credentials.
func (s *Service) DeleteCredential(ctx context.Context, userHandle, credID []byte) error {
	if !s.configured {
		return ErrNotConfigured
	}

	cred, err := s.creds.GetByCredentialID(ctx, credID)
	if err != nil {
		return WrapError("get credential", err)
	}
	if !bytes.Equal(cred.UserHandle, userHandle) {
		return WrapError("delete credential", ErrCredentialNotFound)
	}

	return WrapError("delete credential", s.creds.Delete(ctx, credID))
}
