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
	"crypto/subtle"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
)

// ValidateAssertion verifies a signed browser assertion against the pending
// challenge and the stored credentials, and returns the user handle of the
// authenticated account.
//
// Checks run in a fixed order so each failure maps to exactly one sentinel:
//
//  1. decode the response body          -> ErrMalformedAssertion
//  2. client data type is an assertion  -> ErrWrongResponseType
//  3. challenge still within its TTL    -> ErrChallengeExpired
//  4. challenge matches the pending one -> ErrChallengeMismatch
//  5. origin is a configured RP origin  -> ErrOriginMismatch
//  6. cryptographic signature check     -> ErrSignatureInvalid
//  7. signature counter advanced        -> ErrCounterReplay
//
// On success the stored credential's counter and last-used timestamp are
// updated. The caller must clear the pending challenge from the session
// whether this returns an error or not.
func (s *Service) ValidateAssertion(ctx context.Context, pending *PendingChallenge, body []byte) ([]byte, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	if pending == nil || pending.Kind != ChallengeKindLogin ||
		pending.SchemaVersion != pendingChallengeSchema {
		return nil, ErrNoPendingChallenge
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(body))
	if err != nil {
		return nil, WrapError("parse assertion", ErrMalformedAssertion)
	}

	clientData := parsed.Response.CollectedClientData
	if clientData.Type != protocol.AssertCeremony {
		return nil, WrapError("check response type", ErrWrongResponseType)
	}

	if pending.Expired() {
		return nil, WrapError("check challenge age", ErrChallengeExpired)
	}

	// The client echoes the challenge base64url-encoded in its client data.
	// Compare in constant time even though the challenge is not a secret.
	if subtle.ConstantTimeCompare(
		[]byte(clientData.Challenge),
		[]byte(pending.Session.Challenge),
	) != 1 {
		return nil, WrapError("check challenge", ErrChallengeMismatch)
	}

	if !s.originAllowed(clientData.Origin) {
		return nil, WrapError("check origin", ErrOriginMismatch)
	}

	creds, err := s.creds.GetByUserHandle(ctx, pending.UserHandle)
	if err != nil {
		return nil, WrapError("get credentials", err)
	}
	if len(creds) == 0 {
		return nil, WrapError("get credentials", ErrNoCredentials)
	}

	user := &ceremonyUser{handle: pending.UserHandle, credentials: creds}

	validated, err := s.webauthn.ValidateLogin(user, pending.Session, parsed)
	if err != nil {
		return nil, WrapError("validate signature", ErrSignatureInvalid)
	}

	stored, err := s.creds.GetByCredentialID(ctx, validated.ID)
	if err != nil {
		return nil, WrapError("get credential for update", err)
	}

	// Clone detection. The counter must strictly increase unless the
	// authenticator does not implement one, in which case both the stored
	// and the asserted value stay zero.
	newCount := validated.Authenticator.SignCount
	if !counterAdvanced(stored.SignCount, newCount) {
		stored.CloneWarning = true
		if updateErr := s.creds.Update(ctx, stored); updateErr != nil {
			return nil, WrapError("flag cloned credential", updateErr)
		}
		return nil, WrapError("check counter", ErrCounterReplay)
	}

	stored.SignCount = newCount
	stored.LastUsedAt = time.Now().UTC()
	if err := s.creds.Update(ctx, stored); err != nil {
		return nil, WrapError("update credential", err)
	}

	return pending.UserHandle, nil
}

// counterAdvanced implements the signature counter rule: a zero counter on
// both sides means the authenticator has no counter, anything else must
// strictly increase.
func counterAdvanced(stored, asserted uint32) bool {
	if stored == 0 && asserted == 0 {
		return true
	}
	return asserted > stored
}

func (s *Service) originAllowed(origin string) bool {
	for _, allowed := range s.config.RPOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}
