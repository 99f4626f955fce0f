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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	records map[string][]string
	err     error
}

func (r *fakeResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.records[name], nil
}

// testIssuer is an httptest-backed OpenID provider with dynamic registration,
// a token endpoint signing real ES256 ID tokens, JWKS and userinfo.
type testIssuer struct {
	server        *httptest.Server
	signKey       *ecdsa.PrivateKey
	jwksKey       *ecdsa.PrivateKey
	kid           string
	identifier    string
	registrations int
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()

	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	issuer := &testIssuer{signKey: signKey, jwksKey: signKey, kid: "k1"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		base := issuer.server.URL
		json.NewEncoder(w).Encode(IssuerConfig{
			Issuer:                base,
			AuthorizationEndpoint: base + "/authorize",
			TokenEndpoint:         base + "/token",
			UserInfoEndpoint:      base + "/userinfo",
			RegistrationEndpoint:  base + "/register",
			JWKSURI:               base + "/jwks",
		})
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		issuer.registrations++
		var req struct {
			RedirectURIs []string `json:"redirect_uris"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"client_id":     fmt.Sprintf("client-%d", issuer.registrations),
			"client_secret": "secret",
			"redirect_uris": req.RedirectURIs,
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-token",
			"token_type":   "Bearer",
			"id_token":     issuer.signIDToken(t),
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{{
				Key:       &issuer.jwksKey.PublicKey,
				KeyID:     issuer.kid,
				Algorithm: "ES256",
				Use:       "sig",
			}},
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(UserInfo{
			Name:       "Alice Example",
			GivenName:  "Alice",
			FamilyName: "Example",
			Email:      "alice@example.org",
		})
	})

	issuer.server = httptest.NewServer(mux)
	t.Cleanup(issuer.server.Close)
	return issuer
}

func (i *testIssuer) signIDToken(t *testing.T) string {
	t.Helper()
	claims := idTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.server.URL,
			Subject:   "sub-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Identifier: i.identifier,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = i.kid
	signed, err := token.SignedString(i.signKey)
	require.NoError(t, err)
	return signed
}

const testIdentifier = "alice.id.example"

func newTestService(t *testing.T, issuer *testIssuer) *Service {
	t.Helper()

	resolver := &fakeResolver{records: map[string][]string{
		discoveryPrefix + testIdentifier: {"v=OID1;iss=" + issuer.server.URL},
	}}

	svc, err := NewService(ServiceParams{
		Config: &Config{
			BaseURL:       "https://example.com",
			AllowedClient: AllowedBoth,
		},
		Resolver:    resolver,
		ClientCache: NewMemoryClientCache(),
	})
	require.NoError(t, err)
	return svc
}

func TestParseDiscoveryRecord(t *testing.T) {
	tests := []struct {
		name   string
		record string
		want   string
		ok     bool
	}{
		{"valid", "v=OID1;iss=id.example.org", "id.example.org", true},
		{"valid with spaces", "v=OID1; iss=id.example.org", "id.example.org", true},
		{"wrong version", "v=spf1 include:example.org", "", false},
		{"missing iss", "v=OID1", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseDiscoveryRecord(tt.record)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiscover(t *testing.T) {
	ctx := context.Background()

	t.Run("finds issuer among records", func(t *testing.T) {
		resolver := &fakeResolver{records: map[string][]string{
			"_openid.alice.id.example": {
				"some-unrelated-record",
				"v=OID1;iss=id.example.org",
			},
		}}
		authority, err := discover(ctx, resolver, "alice.id.example")
		require.NoError(t, err)
		assert.Equal(t, "id.example.org", authority)
	})

	t.Run("no record", func(t *testing.T) {
		resolver := &fakeResolver{records: map[string][]string{}}
		_, err := discover(ctx, resolver, "alice.id.example")
		assert.ErrorIs(t, err, ErrDiscoveryFailed)
	})

	t.Run("lookup error", func(t *testing.T) {
		resolver := &fakeResolver{err: fmt.Errorf("nxdomain")}
		_, err := discover(ctx, resolver, "alice.id.example")
		assert.ErrorIs(t, err, ErrDiscoveryFailed)
	})

	t.Run("empty identifier", func(t *testing.T) {
		_, err := discover(ctx, &fakeResolver{}, "  ")
		assert.ErrorIs(t, err, ErrDiscoveryFailed)
	})
}

func TestPrepare(t *testing.T) {
	ctx := context.Background()
	issuer := newTestIssuer(t)
	svc := newTestService(t, issuer)

	t.Run("plain login requests no claims", func(t *testing.T) {
		state, authURL, err := svc.Prepare(ctx, testIdentifier, ClientSite, false)
		require.NoError(t, err)

		assert.Equal(t, testIdentifier, state.Identifier)
		assert.Equal(t, ClientSite, state.RequestedClient)
		assert.False(t, state.Registering)
		assert.GreaterOrEqual(t, len(state.Nonce), 100)

		parsed, err := url.Parse(authURL)
		require.NoError(t, err)
		query := parsed.Query()
		assert.Equal(t, testIdentifier, query.Get("login_hint"))
		assert.Equal(t, state.Nonce, query.Get("state"))
		assert.Empty(t, query.Get("claims"))
	})

	t.Run("registration requests profile claims", func(t *testing.T) {
		state, authURL, err := svc.Prepare(ctx, testIdentifier, ClientSite, true)
		require.NoError(t, err)
		assert.True(t, state.Registering)

		parsed, err := url.Parse(authURL)
		require.NoError(t, err)
		claims := parsed.Query().Get("claims")
		assert.Contains(t, claims, "given_name")
		assert.Contains(t, claims, "email")
	})

	t.Run("fresh nonce per attempt", func(t *testing.T) {
		first, _, err := svc.Prepare(ctx, testIdentifier, ClientSite, false)
		require.NoError(t, err)
		second, _, err := svc.Prepare(ctx, testIdentifier, ClientSite, false)
		require.NoError(t, err)
		assert.NotEqual(t, first.Nonce, second.Nonce)
	})

	t.Run("unknown identifier", func(t *testing.T) {
		_, _, err := svc.Prepare(ctx, "nobody.example", ClientSite, false)
		assert.ErrorIs(t, err, ErrDiscoveryFailed)
	})
}

func TestClientCache(t *testing.T) {
	ctx := context.Background()
	issuer := newTestIssuer(t)
	svc := newTestService(t, issuer)

	_, _, err := svc.Prepare(ctx, testIdentifier, ClientSite, false)
	require.NoError(t, err)
	assert.Equal(t, 1, issuer.registrations)

	// Second login reuses the cached registration
	_, _, err = svc.Prepare(ctx, testIdentifier, ClientSite, false)
	require.NoError(t, err)
	assert.Equal(t, 1, issuer.registrations)

	// The verification sub-flow registers its own client so its claim
	// surface stays isolated from the login client.
	_, _, err = svc.PrepareVerification(ctx, testIdentifier)
	require.NoError(t, err)
	assert.Equal(t, 2, issuer.registrations)

	_, _, err = svc.PrepareVerification(ctx, testIdentifier)
	require.NoError(t, err)
	assert.Equal(t, 2, issuer.registrations)
}

func TestMemoryClientCacheTTL(t *testing.T) {
	cache := NewMemoryClientCacheWithTTL(10 * time.Millisecond)
	cache.Put("a|login", &ClientRegistration{ClientID: "c", RegisteredAt: time.Now()})

	reg, ok := cache.Get("a|login")
	require.True(t, ok)
	assert.Equal(t, "c", reg.ClientID)

	time.Sleep(20 * time.Millisecond)
	_, ok = cache.Get("a|login")
	assert.False(t, ok)
}

func TestCallback(t *testing.T) {
	ctx := context.Background()

	t.Run("valid callback returns identity", func(t *testing.T) {
		issuer := newTestIssuer(t)
		issuer.identifier = testIdentifier
		svc := newTestService(t, issuer)

		state, _, err := svc.Prepare(ctx, testIdentifier, ClientSite, false)
		require.NoError(t, err)

		identity, token, err := svc.Callback(ctx, state, "auth-code", state.Nonce)
		require.NoError(t, err)
		require.NotNil(t, token)
		assert.Equal(t, issuer.server.URL, identity.Issuer)
		assert.Equal(t, "sub-1", identity.Subject)
		assert.Equal(t, testIdentifier, identity.Identifier)
		assert.Equal(t, issuer.server.URL+"#sub-1", identity.IssuerSubject())
	})

	t.Run("state mismatch fails closed", func(t *testing.T) {
		issuer := newTestIssuer(t)
		issuer.identifier = testIdentifier
		svc := newTestService(t, issuer)

		state, _, err := svc.Prepare(ctx, testIdentifier, ClientSite, false)
		require.NoError(t, err)

		_, _, err = svc.Callback(ctx, state, "auth-code", "attacker-chosen-state")
		assert.ErrorIs(t, err, ErrStateMismatch)
	})

	t.Run("missing state", func(t *testing.T) {
		issuer := newTestIssuer(t)
		svc := newTestService(t, issuer)

		_, _, err := svc.Callback(ctx, nil, "auth-code", "anything")
		assert.ErrorIs(t, err, ErrNoState)
	})

	t.Run("identifier mismatch", func(t *testing.T) {
		issuer := newTestIssuer(t)
		issuer.identifier = "mallory.id.example"
		svc := newTestService(t, issuer)

		state, _, err := svc.Prepare(ctx, testIdentifier, ClientSite, false)
		require.NoError(t, err)

		_, _, err = svc.Callback(ctx, state, "auth-code", state.Nonce)
		assert.ErrorIs(t, err, ErrIdentifierMismatch)
	})

	t.Run("token signed by wrong key", func(t *testing.T) {
		issuer := newTestIssuer(t)
		issuer.identifier = testIdentifier
		svc := newTestService(t, issuer)

		state, _, err := svc.Prepare(ctx, testIdentifier, ClientSite, false)
		require.NoError(t, err)

		// Tokens now come from a key the published JWKS never saw
		rogue, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		issuer.signKey = rogue

		_, _, err = svc.Callback(ctx, state, "auth-code", state.Nonce)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}

func TestFetchUserInfo(t *testing.T) {
	ctx := context.Background()
	issuer := newTestIssuer(t)
	issuer.identifier = testIdentifier
	svc := newTestService(t, issuer)

	state, _, err := svc.Prepare(ctx, testIdentifier, ClientSite, true)
	require.NoError(t, err)

	_, token, err := svc.Callback(ctx, state, "auth-code", state.Nonce)
	require.NoError(t, err)

	info, err := svc.FetchUserInfo(ctx, state, token)
	require.NoError(t, err)
	assert.Equal(t, "Alice", info.GivenName)
	assert.Equal(t, "alice@example.org", info.Email)
}

func TestClientAllowed(t *testing.T) {
	tests := []struct {
		allowed   string
		requested string
		want      bool
	}{
		{ClientSite, ClientSite, true},
		{ClientSite, ClientAdministrator, false},
		{ClientAdministrator, ClientAdministrator, true},
		{ClientAdministrator, ClientSite, false},
		{AllowedBoth, ClientSite, true},
		{AllowedBoth, ClientAdministrator, true},
		{AllowedBoth, "both", false},
		{AllowedBoth, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.allowed+"/"+tt.requested, func(t *testing.T) {
			cfg := &Config{AllowedClient: tt.allowed}
			assert.Equal(t, tt.want, cfg.ClientAllowed(tt.requested))
		})
	}
}
