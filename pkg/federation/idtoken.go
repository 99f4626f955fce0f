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
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// idTokenClaims are the ID-token claims the bridge validates. The
// "id4me.identifier" claim carries the identifier the login started with.
type idTokenClaims struct {
	jwt.RegisteredClaims
	Identifier string `json:"id4me.identifier"`
}

// verifyIDToken checks the token signature against the issuer's JWKS and
// validates issuer and expiry. All failures map to ErrTokenInvalid; the
// wrapped operation names the failing step for the logs.
func (s *Service) verifyIDToken(ctx context.Context, issuer *IssuerConfig, raw string) (*idTokenClaims, error) {
	keySet, err := s.fetchJWKS(ctx, issuer.JWKSURI)
	if err != nil {
		return nil, err
	}

	claims := &idTokenClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return signingKey(keySet, token)
	},
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithIssuer(issuer.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		s.logger.Warn("id token rejected", "error", err)
		return nil, WrapError("verify id token", ErrTokenInvalid)
	}

	return claims, nil
}

func (s *Service) fetchJWKS(ctx context.Context, uri string) (*jose.JSONWebKeySet, error) {
	if uri == "" {
		return nil, WrapError("fetch jwks", ErrTokenInvalid)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, WrapError("build jwks request", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, WrapError("fetch jwks", ErrTokenInvalid)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, WrapError("fetch jwks", ErrTokenInvalid)
	}

	var keySet jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&keySet); err != nil {
		return nil, WrapError("decode jwks", ErrTokenInvalid)
	}
	if len(keySet.Keys) == 0 {
		return nil, WrapError("decode jwks", ErrTokenInvalid)
	}

	return &keySet, nil
}

// signingKey picks the verification key for the token: by kid when the
// header names one, otherwise the sole key in the set.
func signingKey(keySet *jose.JSONWebKeySet, token *jwt.Token) (any, error) {
	if kid, ok := token.Header["kid"].(string); ok && kid != "" {
		keys := keySet.Key(kid)
		if len(keys) == 0 {
			return nil, fmt.Errorf("no key with kid %q", kid)
		}
		return keys[0].Key, nil
	}

	if len(keySet.Keys) == 1 {
		return keySet.Keys[0].Key, nil
	}
	return nil, fmt.Errorf("token names no kid and jwks has %d keys", len(keySet.Keys))
}
