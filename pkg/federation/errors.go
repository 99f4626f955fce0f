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

package federation

import (
	"errors"
	"fmt"
)

var (
	// ErrDiscoveryFailed is returned when the identifier's DNS record is
	// missing, malformed, or names no issuer.
	ErrDiscoveryFailed = errors.New("identifier discovery failed")

	// ErrRegistrationFailed is returned when dynamic client registration at
	// the issuer fails.
	ErrRegistrationFailed = errors.New("client registration failed")

	// ErrStateMismatch is returned when the state returned by the issuer does
	// not match the nonce stored in the session. The login fails closed.
	ErrStateMismatch = errors.New("state mismatch")

	// ErrIdentifierMismatch is returned when the identifier claim in the ID
	// token differs from the identifier the flow started with.
	ErrIdentifierMismatch = errors.New("identifier mismatch")

	// ErrTokenInvalid is returned when the ID token cannot be parsed or its
	// signature, issuer or expiry do not verify.
	ErrTokenInvalid = errors.New("id token invalid")

	// ErrNoState is returned when a callback arrives without federation
	// state in the session.
	ErrNoState = errors.New("no federation state")
)

// Error wraps a federation error with the operation that failed.
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
