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
	"errors"
	"fmt"
)

// Sentinel errors for assertion validation. Each maps to exactly one check in
// ValidateAssertion so operator logs can name the failing step. None of these
// may be shown to an end user verbatim.
var (
	// ErrMalformedAssertion is returned when the browser response cannot be
	// decoded as a public-key credential.
	ErrMalformedAssertion = errors.New("malformed assertion response")

	// ErrWrongResponseType is returned when the client data describes an
	// attestation (registration) instead of an assertion.
	ErrWrongResponseType = errors.New("response is not an authenticator assertion")

	// ErrSignatureInvalid is returned when the assertion signature does not
	// verify against the stored public key.
	ErrSignatureInvalid = errors.New("assertion signature invalid")

	// ErrChallengeMismatch is returned when the challenge embedded in the
	// client data differs from the pending challenge.
	ErrChallengeMismatch = errors.New("challenge mismatch")

	// ErrOriginMismatch is returned when the client data origin is not one of
	// the configured relying-party origins.
	ErrOriginMismatch = errors.New("origin mismatch")

	// ErrCounterReplay is returned when the signature counter did not
	// increase, indicating a possible cloned authenticator.
	ErrCounterReplay = errors.New("signature counter replay detected")

	// ErrChallengeExpired is returned when the pending challenge outlived its
	// time-to-live before the assertion arrived.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrNoPendingChallenge is returned when validation is attempted without
	// an issued challenge in the session.
	ErrNoPendingChallenge = errors.New("no pending challenge")

	// ErrNoCredentials is returned when a user has no registered credentials.
	ErrNoCredentials = errors.New("user has no registered credentials")

	// ErrCredentialNotFound is returned when a credential cannot be found.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCredentialExists is returned when registering a duplicate credential.
	ErrCredentialExists = errors.New("credential already exists")

	// ErrNotConfigured is returned when the service is not properly configured.
	ErrNotConfigured = errors.New("webauthn service not configured")
)

// Error wraps a validation or storage error with the operation that failed.
type Error struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapError wraps an error with an operation name if it is not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// IsValidationError reports whether err is one of the assertion validation
// failures that must be hidden from end users (anti-enumeration policy).
func IsValidationError(err error) bool {
	for _, sentinel := range []error{
		ErrMalformedAssertion,
		ErrWrongResponseType,
		ErrSignatureInvalid,
		ErrChallengeMismatch,
		ErrOriginMismatch,
		ErrCounterReplay,
		ErrChallengeExpired,
		ErrNoPendingChallenge,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
