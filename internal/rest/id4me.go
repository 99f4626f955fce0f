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

package rest

import (
	"errors"
	"net/http"

	"github.com/jeremyhahn/go-passwordless/pkg/directory"
	"github.com/jeremyhahn/go-passwordless/pkg/federation"
	"github.com/jeremyhahn/go-passwordless/pkg/login"
	"github.com/jeremyhahn/go-passwordless/pkg/metrics"
)

// federationSession is the federation state bound to the visitor's session,
// together with attempt options that have to survive the issuer round trip.
type federationSession struct {
	State    *federation.State `json:"state"`
	Remember bool              `json:"remember"`
}

// ID4MePrepare starts a federated login: discovers the identifier's issuer,
// ensures a client registration, binds the state to the session and redirects
// the visitor to the issuer's authorization endpoint.
//
// This is the only place a redirect may leave the site, and the target is the
// authorization endpoint taken from the issuer's published configuration, not
// from request input.
func (h *Handler) ID4MePrepare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := h.sessions.Resolve(w, r)
	returnURL := decodeReturnURL(r.FormValue("returnUrl"))

	identifier := r.FormValue("identifier")
	if identifier == "" {
		h.flashAndRedirect(w, r, sess, "An identifier is required.", returnURL)
		return
	}

	client := r.FormValue("client")
	if client == "" {
		client = federation.ClientSite
	}
	if !h.federation.Config().ClientAllowed(client) {
		h.logger.Warn("federated login refused for client", "client", client)
		h.flashAndRedirect(w, r, sess, "Federated login is not enabled here.", returnURL)
		return
	}

	// An unknown identifier may proceed only into just-in-time registration,
	// and registration is a site-client feature.
	registering := false
	if _, err := h.directory.FindByIdentifier(ctx, identifier); err != nil {
		switch {
		case errors.Is(err, directory.ErrUserNotFound) &&
			h.orchestrator.RegistrationEnabled() && client == federation.ClientSite:
			registering = true
		case errors.Is(err, directory.ErrUserNotFound),
			errors.Is(err, directory.ErrAmbiguousIdentifier):
			h.logger.Warn("federated login refused", "identifier", identifier, "error", err)
			h.flashAndRedirect(w, r, sess, genericFailureNotice, returnURL)
			return
		default:
			h.logger.Error("look up identifier", "error", err)
			h.flashAndRedirect(w, r, sess, genericFailureNotice, returnURL)
			return
		}
	}

	state, authURL, err := h.federation.Prepare(ctx, identifier, client, registering)
	if err != nil {
		h.logger.Warn("prepare federated login", "identifier", identifier, "error", err)
		metrics.RecordFederationRequest(false)
		h.flashAndRedirect(w, r, sess, genericFailureNotice, returnURL)
		return
	}

	fs := &federationSession{
		State:    state,
		Remember: r.FormValue("remember") == "1" || r.FormValue("remember") == "true",
	}
	if err := sess.SetFederationState(ctx, fs); err != nil {
		h.logger.Error("store federation state", "error", err)
		h.flashAndRedirect(w, r, sess, genericFailureNotice, returnURL)
		return
	}
	if returnURL != "" {
		if err := sess.SetReturnURL(ctx, h.internalURL(returnURL)); err != nil {
			h.logger.Error("store return url", "error", err)
		}
	}

	metrics.RecordFederationRequest(true)
	http.Redirect(w, r, authURL, http.StatusSeeOther)
}

// ID4MeValidation starts the identifier verification sub-flow used by the
// profile form popup. It uses a claim-free client registration distinct from
// the login one.
func (h *Handler) ID4MeValidation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := h.sessions.Resolve(w, r)

	identifier := r.FormValue("identifier")
	if identifier == "" {
		h.renderVerificationError(w, "An identifier is required.")
		return
	}

	state, authURL, err := h.federation.PrepareVerification(ctx, identifier)
	if err != nil {
		h.logger.Warn("prepare identifier verification", "identifier", identifier, "error", err)
		metrics.RecordFederationRequest(false)
		h.renderVerificationError(w, "The identifier could not be verified.")
		return
	}

	if err := sess.SetFederationState(ctx, &federationSession{State: state}); err != nil {
		h.logger.Error("store federation state", "error", err)
		h.renderVerificationError(w, "The identifier could not be verified.")
		return
	}

	metrics.RecordFederationRequest(true)
	http.Redirect(w, r, authURL, http.StatusSeeOther)
}

// ID4MeLogin is the issuer's redirect target for the login sub-flow. It
// validates the callback fail-closed, resolves or registers the local
// account and completes the login. Every failure ends with the generic
// notice on an internal page; the issuer never controls the redirect target.
func (h *Handler) ID4MeLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := h.sessions.Resolve(w, r)
	returnURL := sess.ReturnURL(ctx)
	defer func() {
		if err := sess.ClearLogin(ctx); err != nil {
			h.logger.Error("clear login state", "error", err)
		}
	}()

	fail := func(logMsg string, err error) {
		h.logger.Warn(logMsg, "error", err, "remote", r.RemoteAddr)
		metrics.RecordLogin(metrics.FlowFederation, false)
		h.flashAndRedirect(w, r, sess, genericFailureNotice, returnURL)
	}

	var fs federationSession
	ok, err := sess.FederationState(ctx, &fs)
	if err != nil || !ok || fs.State == nil {
		fail("callback without federation state", federation.ErrNoState)
		return
	}

	identity, token, err := h.federation.Callback(ctx, fs.State,
		r.FormValue("code"), r.FormValue("state"))
	if err != nil {
		metrics.RecordFederationRequest(false)
		fail("federation callback rejected", err)
		return
	}
	metrics.RecordFederationRequest(true)

	// Re-check the client gate at callback time so a configuration change
	// mid-flight cannot widen access.
	client := fs.State.RequestedClient
	if !h.federation.Config().ClientAllowed(client) {
		fail("federated login refused for client", errors.New("client not allowed: "+client))
		return
	}

	var user *directory.User
	if fs.State.Registering {
		info, err := h.federation.FetchUserInfo(ctx, fs.State, token)
		if err != nil {
			fail("fetch registration claims", err)
			return
		}
		user, err = h.orchestrator.RegisterFederated(ctx, identity, info)
		if err != nil {
			fail("register federated user", err)
			return
		}
	} else {
		user, err = h.orchestrator.ResolveFederated(ctx, identity)
		if err != nil {
			fail("resolve federated user", err)
			return
		}
	}

	action := login.ActionLoginSite
	destination := returnURL
	if client == federation.ClientAdministrator {
		action = login.ActionLoginAdmin
		destination = h.adminURL
	}

	opts := login.Options{
		Action:       action,
		Remember:     fs.Remember,
		RedirectURL:  destination,
		ResponseType: "id4me",
	}
	if err := h.orchestrator.Login(ctx, sess, user, opts); err != nil {
		metrics.RecordLogin(metrics.FlowFederation, false)

		var veto *login.VetoError
		if errors.As(err, &veto) && veto.Message != "" {
			h.logger.Warn("login vetoed", "user", user.Username, "message", veto.Message)
			h.flashAndRedirect(w, r, sess, veto.Message, returnURL)
			return
		}
		h.logger.Warn("login rejected", "user", user.Username, "error", err)
		h.flashAndRedirect(w, r, sess, genericFailureNotice, returnURL)
		return
	}

	metrics.RecordLogin(metrics.FlowFederation, true)
	http.Redirect(w, r, h.internalURL(destination), http.StatusSeeOther)
}

// ID4MeVerification is the issuer's redirect target for the verification
// sub-flow. On success it renders the popup page that posts the verified
// issuer-subject pair to the opener window and closes itself.
func (h *Handler) ID4MeVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := h.sessions.Resolve(w, r)
	defer func() {
		if err := sess.ClearLogin(ctx); err != nil {
			h.logger.Error("clear verification state", "error", err)
		}
	}()

	var fs federationSession
	ok, err := sess.FederationState(ctx, &fs)
	if err != nil || !ok || fs.State == nil {
		h.renderVerificationError(w, "The identifier could not be verified.")
		return
	}

	identity, _, err := h.federation.Callback(ctx, fs.State,
		r.FormValue("code"), r.FormValue("state"))
	if err != nil {
		h.logger.Warn("verification callback rejected", "error", err)
		metrics.RecordFederationRequest(false)
		h.renderVerificationError(w, "The identifier could not be verified.")
		return
	}

	metrics.RecordFederationRequest(true)
	h.renderVerificationResult(w, identity)
}
