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

// Package rest is the AJAX endpoint surface of the passwordless login flows.
//
// Error policy at this boundary: validation and federation failures are
// logged with full detail for operators, but visitors only ever see one
// generic failure notice and a redirect to an internal page. JSON error
// bodies are never emitted on the login paths; the challenge endpoint answers
// a bare JSON false for unknown users so account existence cannot be probed.
package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jeremyhahn/go-passwordless/pkg/directory"
	"github.com/jeremyhahn/go-passwordless/pkg/federation"
	"github.com/jeremyhahn/go-passwordless/pkg/login"
	"github.com/jeremyhahn/go-passwordless/pkg/session"
	"github.com/jeremyhahn/go-passwordless/pkg/webauthn"
)

// genericFailureNotice is the only message visitors see for crypto, protocol
// and federation failures. Specific reasons go to the logs.
const genericFailureNotice = "Login failed. Please try again."

// maxBodySize bounds assertion and attestation request bodies.
const maxBodySize = 1 << 20

// Handler serves the AJAX endpoints.
type Handler struct {
	webauthn     *webauthn.Service
	federation   *federation.Service
	orchestrator *login.Orchestrator
	directory    directory.Directory
	sessions     *session.Manager
	baseURL      string
	adminURL     string
	logger       *slog.Logger
}

// HandlerParams contains dependencies for creating a Handler.
type HandlerParams struct {
	// WebAuthn is the relying-party service (required).
	WebAuthn *webauthn.Service

	// Federation is the ID4Me bridge (required).
	Federation *federation.Service

	// Orchestrator runs the shared login sequence (required).
	Orchestrator *login.Orchestrator

	// Directory is the account directory (required).
	Directory directory.Directory

	// Sessions resolves visitor sessions (required).
	Sessions *session.Manager

	// BaseURL is the site's base URL; the safe default redirect target.
	BaseURL string

	// AdminURL is where administrator-client logins land.
	AdminURL string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewHandler creates the AJAX handler.
func NewHandler(params HandlerParams) *Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	adminURL := params.AdminURL
	if adminURL == "" {
		adminURL = params.BaseURL + "/admin"
	}
	return &Handler{
		webauthn:     params.WebAuthn,
		federation:   params.Federation,
		orchestrator: params.Orchestrator,
		directory:    params.Directory,
		sessions:     params.Sessions,
		baseURL:      strings.TrimSuffix(params.BaseURL, "/"),
		adminURL:     adminURL,
		logger:       logger,
	}
}

// writeJSON writes v as a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("write response", "error", err)
	}
}

// flashAndRedirect queues a notice and redirects to an internal target.
func (h *Handler) flashAndRedirect(w http.ResponseWriter, r *http.Request, sess *session.Session, notice, target string) {
	if notice != "" {
		if err := sess.AddFlash(r.Context(), notice); err != nil {
			h.logger.Error("queue flash", "error", err)
		}
	}
	http.Redirect(w, r, h.internalURL(target), http.StatusSeeOther)
}

// internalURL returns the target if it points at this site, the site root
// otherwise. Redirects after login never leave the site.
func (h *Handler) internalURL(target string) string {
	if target == "" {
		return h.baseURL
	}
	u, err := url.Parse(target)
	if err != nil {
		return h.baseURL
	}
	if u.Scheme == "" && u.Host == "" {
		if strings.HasPrefix(u.Path, "/") {
			return h.baseURL + target
		}
		return h.baseURL
	}

	base, err := url.Parse(h.baseURL)
	if err != nil || u.Scheme != base.Scheme || u.Host != base.Host {
		return h.baseURL
	}
	return target
}
