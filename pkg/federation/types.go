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

import "time"

// stateSchema is the serialization schema version for State payloads stored
// in the session.
const stateSchema = 1

// Requested clients for a federated login.
const (
	ClientSite          = "site"
	ClientAdministrator = "administrator"

	// AllowedBoth is a configuration value only, never a requested client.
	AllowedBoth = "both"
)

// IssuerConfig is the subset of the issuer's OpenID configuration the bridge
// uses. Field names follow the discovery document.
type IssuerConfig struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
	RegistrationEndpoint  string `json:"registration_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// ClientRegistration is the result of dynamic client registration at an
// issuer, cached and reused for subsequent logins against the same authority.
type ClientRegistration struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	RedirectURIs []string  `json:"redirect_uris"`
	RegisteredAt time.Time `json:"registered_at"`
}

// RedirectURI returns the registration's primary redirect URI.
func (c *ClientRegistration) RedirectURI() string {
	if len(c.RedirectURIs) == 0 {
		return ""
	}
	return c.RedirectURIs[0]
}

// State is the per-attempt federation state bound to the visitor session
// between the redirect to the issuer and the callback. It is serialized to
// JSON; SchemaVersion guards against stale payloads after upgrades.
type State struct {
	// SchemaVersion identifies the serialization schema.
	SchemaVersion int `json:"v"`

	// Identifier is the user-supplied federated identifier the flow started
	// with. The callback must see the same identifier in the ID token.
	Identifier string `json:"identifier"`

	// Authority is the issuer authority discovered from DNS.
	Authority string `json:"authority"`

	// Issuer is the issuer's OpenID configuration at prepare time.
	Issuer *IssuerConfig `json:"issuer"`

	// Client is the registered OAuth2 client used for this attempt.
	Client *ClientRegistration `json:"client"`

	// Nonce is the state value sent to the issuer, at least 100 characters
	// of CSPRNG output. The callback compares it in constant time.
	Nonce string `json:"nonce"`

	// RequestedClient is "site" or "administrator".
	RequestedClient string `json:"requested_client"`

	// Registering marks a login that may create an account; it controls
	// whether profile claims were requested.
	Registering bool `json:"registering"`

	// CreatedAt is when the state was assembled.
	CreatedAt time.Time `json:"created_at"`
}

// Identity is the verified result of a federated login callback.
type Identity struct {
	// Issuer is the token's iss claim.
	Issuer string `json:"issuer"`

	// Subject is the token's sub claim.
	Subject string `json:"subject"`

	// Identifier is the federated identifier the flow started with.
	Identifier string `json:"identifier"`
}

// IssuerSubject returns the issuer-qualified subject, "<iss>#<sub>". This is
// the value stored on identity links and compared on every login.
func (i *Identity) IssuerSubject() string {
	return i.Issuer + "#" + i.Subject
}

// UserInfo carries the profile claims fetched for just-in-time registration.
type UserInfo struct {
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Email      string `json:"email"`
}
