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

// Package webauthn implements the WebAuthn (FIDO2) relying-party core used by
// the passwordless login flows: issuing credential request options with a
// fresh random challenge, validating signed browser assertions against stored
// public-key credentials, and persisting signature counters for clone
// detection.
//
// The package deliberately separates ceremony logic from session handling.
// CreateOptions returns a PendingChallenge which the caller must bind to the
// visitor's server-side session (see pkg/session); only one pending challenge
// may be in flight per session, and it is consumed by ValidateAssertion
// whether validation succeeds or fails.
//
// Validation failures are reported as distinct sentinel errors so operators
// can diagnose exactly which check failed. Callers at the HTTP boundary must
// collapse all of them into a single generic failure message for end users;
// the distinction is for logs only.
//
// Example:
//
//	svc, err := webauthn.NewService(webauthn.ServiceParams{
//	    Config: &webauthn.Config{
//	        RPID:          "example.com",
//	        RPDisplayName: "Example",
//	        RPOrigins:     []string{"https://example.com"},
//	    },
//	    CredentialStore: webauthn.NewMemoryCredentialStore(),
//	})
//	options, pending, err := svc.CreateOptions(ctx, handle, "alice", "Alice")
//	// ... send options to the browser, keep pending in the session ...
//	handle, err = svc.ValidateAssertion(ctx, pending, requestBody)
package webauthn
