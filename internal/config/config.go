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

// Package config loads the server's YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-passwordless/pkg/federation"
	"github.com/jeremyhahn/go-passwordless/pkg/webauthn"
)

// Config is the top-level server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Site     SiteConfig     `yaml:"site"`
	WebAuthn WebAuthnConfig `yaml:"webauthn"`
	ID4Me    ID4MeConfig    `yaml:"id4me"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

// SiteConfig describes the site the login flows run on.
type SiteConfig struct {
	// BaseURL is the externally reachable base URL, e.g.
	// "https://example.com".
	BaseURL string `yaml:"base_url"`

	// Name is the human-readable site name shown by authenticators.
	Name string `yaml:"name"`

	// AdminURL is where administrator-client logins land. Defaults to
	// BaseURL + "/admin".
	AdminURL string `yaml:"admin_url"`
}

// WebAuthnConfig configures the relying party. RPID and origins default to
// values derived from the site's base URL.
type WebAuthnConfig struct {
	RPID                string   `yaml:"rp_id"`
	Origins             []string `yaml:"origins"`
	ChallengeTTLSeconds int      `yaml:"challenge_ttl_seconds"`
	UserVerification    string   `yaml:"user_verification"`
}

// ID4MeConfig configures the federated login bridge.
type ID4MeConfig struct {
	// AllowedClient is "site", "administrator" or "both". Default: "site".
	AllowedClient string `yaml:"allowed_client"`

	// RegistrationEnabled allows just-in-time account creation.
	RegistrationEnabled bool `yaml:"registration_enabled"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	// Level is debug, info, warn or error. Default: info.
	Level string `yaml:"level"`

	// Format is text or json. Default: text.
	Format string `yaml:"format"`
}

// Load reads, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults fills in default values for unset fields.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8443
	}
	if c.Server.ShutdownTimeoutSeconds == 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.ID4Me.AllowedClient == "" {
		c.ID4Me.AllowedClient = federation.ClientSite
	}
	if c.Site.AdminURL == "" && c.Site.BaseURL != "" {
		c.Site.AdminURL = c.Site.BaseURL + "/admin"
	}

	// Derive the relying party from the site when not set explicitly
	if c.WebAuthn.RPID == "" && c.Site.BaseURL != "" {
		if u, err := url.Parse(c.Site.BaseURL); err == nil {
			c.WebAuthn.RPID = u.Hostname()
		}
	}
	if len(c.WebAuthn.Origins) == 0 && c.Site.BaseURL != "" {
		c.WebAuthn.Origins = []string{c.Site.BaseURL}
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site base_url is required")
	}
	if u, err := url.Parse(c.Site.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("site base_url must be an absolute URL")
	}
	if c.Site.Name == "" {
		return fmt.Errorf("site name is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.ID4Me.AllowedClient {
	case federation.ClientSite, federation.ClientAdministrator, federation.AllowedBoth:
	default:
		return fmt.Errorf("invalid id4me allowed_client: %s", c.ID4Me.AllowedClient)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return c.WebAuthnConfig().Validate()
}

// WebAuthnConfig builds the relying-party configuration for pkg/webauthn.
func (c *Config) WebAuthnConfig() *webauthn.Config {
	cfg := &webauthn.Config{
		RPID:             c.WebAuthn.RPID,
		RPDisplayName:    c.Site.Name,
		RPOrigins:        c.WebAuthn.Origins,
		ChallengeTTL:     time.Duration(c.WebAuthn.ChallengeTTLSeconds) * time.Second,
		UserVerification: c.WebAuthn.UserVerification,
	}
	cfg.SetDefaults()
	return cfg
}

// FederationConfig builds the bridge configuration for pkg/federation.
func (c *Config) FederationConfig() *federation.Config {
	return &federation.Config{
		BaseURL:       c.Site.BaseURL,
		ClientName:    c.Site.Name,
		AllowedClient: c.ID4Me.AllowedClient,
	}
}

// ShutdownTimeout returns the graceful shutdown window.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// ListenAddr returns the host:port the server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
