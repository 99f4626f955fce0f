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

// Package federation implements the ID4Me federated login bridge: DNS-based
// issuer discovery, OpenID configuration retrieval, cached dynamic client
// registration, authorization URL assembly and fail-closed callback
// validation.
//
// Every callback failure is reported through sentinel errors; the REST layer
// clears the session state and redirects to an internal page with a generic
// notice. The bridge never redirects to an issuer-controlled URL after a
// failure.
package federation

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// nonceLength is the length of the state nonce sent to the issuer.
const nonceLength = 100

// Config configures the federation bridge.
type Config struct {
	// BaseURL is this site's externally reachable base URL, used to build
	// redirect URIs. Example: "https://example.com"
	BaseURL string `yaml:"base_url" json:"base_url"`

	// ClientName is the client_name sent during dynamic registration.
	ClientName string `yaml:"client_name" json:"client_name"`

	// AllowedClient controls which clients may use federated login:
	// "site", "administrator" or "both". Default: "site". Administrator
	// logins stay disabled unless explicitly enabled here.
	AllowedClient string `yaml:"allowed_client" json:"allowed_client"`
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("BaseURL is required")
	}
	switch c.AllowedClient {
	case "", ClientSite, ClientAdministrator, AllowedBoth:
	default:
		return fmt.Errorf("invalid allowed client: %s", c.AllowedClient)
	}
	return nil
}

// SetDefaults sets default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.AllowedClient == "" {
		c.AllowedClient = ClientSite
	}
	if c.ClientName == "" {
		c.ClientName = "go-passwordless"
	}
}

// ClientAllowed reports whether the requested client may use federated
// login under this configuration.
func (c *Config) ClientAllowed(requested string) bool {
	if requested != ClientSite && requested != ClientAdministrator {
		return false
	}
	return c.AllowedClient == AllowedBoth || c.AllowedClient == requested
}

// Service is the ID4Me federation bridge.
type Service struct {
	config     *Config
	resolver   Resolver
	cache      ClientCache
	httpClient *http.Client
	logger     *slog.Logger
}

// ServiceParams contains dependencies for creating a federation service.
type ServiceParams struct {
	// Config is the bridge configuration (required).
	Config *Config

	// Resolver looks up discovery TXT records (required; use
	// net.DefaultResolver in production).
	Resolver Resolver

	// ClientCache stores dynamic client registrations (required).
	ClientCache ClientCache

	// HTTPClient is used for issuer requests. Defaults to a client with a
	// 10 second timeout.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewService creates a federation service with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if params.ClientCache == nil {
		return nil, fmt.Errorf("client cache is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		config:     params.Config,
		resolver:   params.Resolver,
		cache:      params.ClientCache,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// Discover resolves the identifier's issuer authority from DNS.
func (s *Service) Discover(ctx context.Context, identifier string) (string, error) {
	return discover(ctx, s.resolver, identifier)
}

// IssuerConfig fetches the authority's OpenID configuration.
func (s *Service) IssuerConfig(ctx context.Context, authority string) (*IssuerConfig, error) {
	url := authorityURL(authority) + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, WrapError("build config request", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, WrapError("fetch openid configuration", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, WrapError("fetch openid configuration",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var cfg IssuerConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, WrapError("decode openid configuration", err)
	}
	if cfg.Issuer == "" || cfg.AuthorizationEndpoint == "" || cfg.TokenEndpoint == "" {
		return nil, WrapError("decode openid configuration",
			fmt.Errorf("incomplete configuration from %s", authority))
	}

	return &cfg, nil
}

// Client returns a client registration for the authority, registering a new
// dynamic client when the cache has none. The login flag separates the login
// and verification sub-flows into distinct registrations.
func (s *Service) Client(ctx context.Context, authority string, cfg *IssuerConfig, login bool) (*ClientRegistration, error) {
	key := cacheKey(authority, login)
	if reg, ok := s.cache.Get(key); ok {
		return reg, nil
	}

	reg, err := s.register(ctx, cfg, login)
	if err != nil {
		return nil, err
	}

	s.cache.Put(key, reg)
	s.logger.Info("registered federation client",
		"authority", authority,
		"client_id", reg.ClientID,
		"login", login)
	return reg, nil
}

func (s *Service) register(ctx context.Context, cfg *IssuerConfig, login bool) (*ClientRegistration, error) {
	if cfg.RegistrationEndpoint == "" {
		return nil, WrapError("register client", ErrRegistrationFailed)
	}

	redirectURI := s.config.BaseURL + "/ajax/id4me/verification"
	if login {
		redirectURI = s.config.BaseURL + "/ajax/id4me/login"
	}

	payload, err := json.Marshal(map[string]any{
		"client_name":   s.config.ClientName,
		"redirect_uris": []string{redirectURI},
	})
	if err != nil {
		return nil, WrapError("encode registration", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		cfg.RegistrationEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, WrapError("build registration request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, WrapError("register client", ErrRegistrationFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, WrapError("register client", ErrRegistrationFailed)
	}

	var reg ClientRegistration
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return nil, WrapError("decode registration", ErrRegistrationFailed)
	}
	if reg.ClientID == "" {
		return nil, WrapError("decode registration", ErrRegistrationFailed)
	}
	if len(reg.RedirectURIs) == 0 {
		reg.RedirectURIs = []string{redirectURI}
	}
	reg.RegisteredAt = time.Now().UTC()

	return &reg, nil
}

// Prepare assembles the federation state for a login attempt and returns it
// with the issuer authorization URL. Profile claims are requested only when
// registering, so plain logins never ask the issuer for personal data.
func (s *Service) Prepare(ctx context.Context, identifier, requestedClient string, registering bool) (*State, string, error) {
	state, authURL, err := s.prepare(ctx, identifier, requestedClient, registering, true)
	if err != nil {
		return nil, "", err
	}
	return state, authURL, nil
}

// PrepareVerification assembles the state for the identifier verification
// sub-flow. It uses a separate client registration and requests no claims.
func (s *Service) PrepareVerification(ctx context.Context, identifier string) (*State, string, error) {
	return s.prepare(ctx, identifier, ClientSite, false, false)
}

func (s *Service) prepare(ctx context.Context, identifier, requestedClient string, registering, login bool) (*State, string, error) {
	authority, err := s.Discover(ctx, identifier)
	if err != nil {
		return nil, "", err
	}

	cfg, err := s.IssuerConfig(ctx, authority)
	if err != nil {
		return nil, "", err
	}

	client, err := s.Client(ctx, authority, cfg, login)
	if err != nil {
		return nil, "", err
	}

	nonce, err := randomNonce(nonceLength)
	if err != nil {
		return nil, "", WrapError("generate nonce", err)
	}

	state := &State{
		SchemaVersion:   stateSchema,
		Identifier:      identifier,
		Authority:       authority,
		Issuer:          cfg,
		Client:          client,
		Nonce:           nonce,
		RequestedClient: requestedClient,
		Registering:     registering,
		CreatedAt:       time.Now().UTC(),
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("login_hint", identifier),
	}
	if registering {
		claims, err := registrationClaims()
		if err != nil {
			return nil, "", WrapError("encode claims", err)
		}
		opts = append(opts, oauth2.SetAuthURLParam("claims", claims))
	}

	authURL := s.oauthConfig(state).AuthCodeURL(state.Nonce, opts...)
	return state, authURL, nil
}

// Callback validates the issuer's redirect back to us and returns the
// verified identity. Checks fail closed: a state-nonce mismatch or an
// identifier mismatch aborts before any session is touched.
func (s *Service) Callback(ctx context.Context, state *State, code, returnedState string) (*Identity, *oauth2.Token, error) {
	if state == nil || state.SchemaVersion != stateSchema {
		return nil, nil, WrapError("check state", ErrNoState)
	}

	if subtle.ConstantTimeCompare([]byte(returnedState), []byte(state.Nonce)) != 1 {
		return nil, nil, WrapError("check state", ErrStateMismatch)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := s.oauthConfig(state).Exchange(ctx, code)
	if err != nil {
		return nil, nil, WrapError("exchange code", ErrTokenInvalid)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, nil, WrapError("extract id token", ErrTokenInvalid)
	}

	claims, err := s.verifyIDToken(ctx, state.Issuer, rawIDToken)
	if err != nil {
		return nil, nil, err
	}

	if claims.Identifier != state.Identifier {
		return nil, nil, WrapError("check identifier", ErrIdentifierMismatch)
	}

	return &Identity{
		Issuer:     claims.Issuer,
		Subject:    claims.Subject,
		Identifier: state.Identifier,
	}, token, nil
}

// FetchUserInfo retrieves the profile claims for just-in-time registration.
func (s *Service) FetchUserInfo(ctx context.Context, state *State, token *oauth2.Token) (*UserInfo, error) {
	if state == nil || state.Issuer == nil || state.Issuer.UserInfoEndpoint == "" {
		return nil, WrapError("fetch userinfo", ErrNoState)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, state.Issuer.UserInfoEndpoint, nil)
	if err != nil {
		return nil, WrapError("build userinfo request", err)
	}
	token.SetAuthHeader(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, WrapError("fetch userinfo", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, WrapError("fetch userinfo",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, WrapError("read userinfo", err)
	}

	var info UserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, WrapError("decode userinfo", err)
	}
	return &info, nil
}

func (s *Service) oauthConfig(state *State) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     state.Client.ClientID,
		ClientSecret: state.Client.ClientSecret,
		RedirectURL:  state.Client.RedirectURI(),
		Scopes:       []string{"openid"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  state.Issuer.AuthorizationEndpoint,
			TokenURL: state.Issuer.TokenEndpoint,
		},
	}
}

// registrationClaims builds the claims request parameter asking the issuer
// for the profile fields needed to create an account.
func registrationClaims() (string, error) {
	essential := map[string]any{"essential": true}
	claims := map[string]any{
		"userinfo": map[string]any{
			"given_name":  essential,
			"family_name": essential,
			"name":        essential,
			"email":       essential,
		},
	}
	data, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func authorityURL(authority string) string {
	if strings.HasPrefix(authority, "https://") || strings.HasPrefix(authority, "http://") {
		return strings.TrimSuffix(authority, "/")
	}
	return "https://" + strings.TrimSuffix(authority, "/")
}

// randomNonce returns n characters of CSPRNG output over an alphanumeric
// alphabet.
func randomNonce(n int) (string, error) {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	for i, b := range raw {
		raw[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(raw), nil
}
