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
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"net/http"

	"github.com/jeremyhahn/go-passwordless/pkg/directory"
	"github.com/jeremyhahn/go-passwordless/pkg/login"
	"github.com/jeremyhahn/go-passwordless/pkg/metrics"
	"github.com/jeremyhahn/go-passwordless/pkg/session"
	"github.com/jeremyhahn/go-passwordless/pkg/webauthn"
)

// PasskeyChallenge issues a login challenge for the posted username.
//
// The response for an empty or unknown username, or for an account with no
// registered credentials, is the bare JSON value false. All three cases look
// identical on the wire so the endpoint cannot be used to probe which
// accounts exist or own passkeys.
func (h *Handler) PasskeyChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := h.sessions.Resolve(w, r)

	if returnURL := decodeReturnURL(r.FormValue("returnUrl")); returnURL != "" {
		if err := sess.SetReturnURL(ctx, h.internalURL(returnURL)); err != nil {
			h.logger.Error("store return url", "error", err)
		}
	}

	username := r.FormValue("username")
	if username == "" {
		metrics.RecordChallenge(false)
		h.writeJSON(w, false)
		return
	}

	user, err := h.directory.FindByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, directory.ErrUserNotFound) {
			h.logger.Error("look up user", "error", err)
		}
		metrics.RecordChallenge(false)
		h.writeJSON(w, false)
		return
	}

	handle, err := h.directory.Handle(ctx, user.ID)
	if err != nil {
		h.logger.Error("resolve user handle", "user", user.Username, "error", err)
		metrics.RecordChallenge(false)
		h.writeJSON(w, false)
		return
	}

	options, pending, err := h.webauthn.CreateOptions(ctx, handle, user.Username, user.Name)
	if err != nil {
		if !errors.Is(err, webauthn.ErrNoCredentials) {
			h.logger.Error("create assertion options", "user", user.Username, "error", err)
		}
		metrics.RecordChallenge(false)
		h.writeJSON(w, false)
		return
	}

	if err := sess.SetPendingChallenge(ctx, pending); err != nil {
		h.logger.Error("store pending challenge", "error", err)
		metrics.RecordChallenge(false)
		h.writeJSON(w, false)
		return
	}
	if err := sess.SetLoginUserID(ctx, user.ID); err != nil {
		h.logger.Error("store login user", "error", err)
		metrics.RecordChallenge(false)
		h.writeJSON(w, false)
		return
	}

	metrics.RecordChallenge(true)
	h.writeJSON(w, options)
}

// PasskeyLogin validates the browser's signed assertion and completes the
// login. Transient session state is cleared whether the attempt succeeds or
// fails, so a failed assertion can never be retried against the same
// challenge.
func (h *Handler) PasskeyLogin(w http.ResponseWriter, r *http.Request) {
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
		if reason := validationReason(err); reason != "" {
			metrics.RecordValidationFailure(reason)
		}
		metrics.RecordLogin(metrics.FlowPasskey, false)
		_ = sess.SetLoginState(ctx, failureState(err))
		h.flashAndRedirect(w, r, sess, genericFailureNotice, returnURL)
	}

	var pending webauthn.PendingChallenge
	ok, err := sess.PendingChallenge(ctx, &pending)
	if err != nil || !ok {
		fail("assertion without pending challenge", webauthn.ErrNoPendingChallenge)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		fail("read assertion body", err)
		return
	}

	userHandle, err := h.webauthn.ValidateAssertion(ctx, &pending, body)
	if err != nil {
		fail("assertion validation failed", err)
		return
	}

	user, err := h.directory.ResolveHandle(ctx, userHandle)
	if err != nil {
		fail("resolve authenticated handle", err)
		return
	}

	// The account the assertion authenticated must be the one the challenge
	// was issued for.
	if loginUserID := sess.LoginUserID(ctx); loginUserID != "" && loginUserID != user.ID {
		fail("assertion user does not match challenge user", webauthn.ErrChallengeMismatch)
		return
	}

	opts := login.Options{
		Action:       login.ActionLoginSite,
		RedirectURL:  returnURL,
		ResponseType: "passkey",
	}
	if err := h.orchestrator.Login(ctx, sess, user, opts); err != nil {
		metrics.RecordLogin(metrics.FlowPasskey, false)
		_ = sess.SetLoginState(ctx, failureState(err))

		// A subscriber veto carries the only message users may see verbatim.
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

	metrics.RecordLogin(metrics.FlowPasskey, true)
	http.Redirect(w, r, h.internalURL(returnURL), http.StatusSeeOther)
}

// PasskeyRegisterBegin starts credential registration for the authenticated
// visitor.
func (h *Handler) PasskeyRegisterBegin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := h.sessions.Resolve(w, r)

	userID := sess.UserID(ctx)
	if userID == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	user, err := h.directory.LoadByID(ctx, userID)
	if err != nil {
		h.logger.Error("load user", "user_id", userID, "error", err)
		http.Error(w, "registration unavailable", http.StatusInternalServerError)
		return
	}

	handle, err := h.directory.Handle(ctx, user.ID)
	if err != nil {
		h.logger.Error("resolve user handle", "user", user.Username, "error", err)
		http.Error(w, "registration unavailable", http.StatusInternalServerError)
		return
	}

	options, pending, err := h.webauthn.CreateRegistrationOptions(ctx, handle, user.Username, user.Name)
	if err != nil {
		h.logger.Error("create registration options", "user", user.Username, "error", err)
		http.Error(w, "registration unavailable", http.StatusInternalServerError)
		return
	}

	if err := sess.SetPendingChallenge(ctx, pending); err != nil {
		h.logger.Error("store pending challenge", "error", err)
		http.Error(w, "registration unavailable", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, options)
}

// PasskeyRegisterFinish completes credential registration and stores the new
// credential for the authenticated visitor.
func (h *Handler) PasskeyRegisterFinish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := h.sessions.Resolve(w, r)
	defer func() {
		if err := sess.ClearLogin(ctx); err != nil {
			h.logger.Error("clear registration state", "error", err)
		}
	}()

	userID := sess.UserID(ctx)
	if userID == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var pending webauthn.PendingChallenge
	ok, err := sess.PendingChallenge(ctx, &pending)
	if err != nil || !ok {
		http.Error(w, "no registration in progress", http.StatusBadRequest)
		return
	}

	handle, err := h.directory.Handle(ctx, userID)
	if err != nil || !bytes.Equal(pending.UserHandle, handle) {
		h.logger.Warn("registration handle mismatch", "user_id", userID)
		http.Error(w, "registration failed", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "registration failed", http.StatusBadRequest)
		return
	}

	cred, err := h.webauthn.FinishRegistration(ctx, &pending, body)
	if err != nil {
		h.logger.Warn("registration failed", "user_id", userID, "error", err)
		http.Error(w, "registration failed", http.StatusBadRequest)
		return
	}

	h.logger.Info("registered credential",
		"user_id", userID,
		"aaguid", base64.RawURLEncoding.EncodeToString(cred.AAGUID))
	h.writeJSON(w, map[string]string{
		"id": base64.RawURLEncoding.EncodeToString(cred.ID),
	})
}

// decodeReturnURL decodes the base64-encoded return URL posted by the login
// form. An undecodable value is treated as absent.
func decodeReturnURL(raw string) string {
	if raw == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		if decoded, err = base64.RawURLEncoding.DecodeString(raw); err != nil {
			return ""
		}
	}
	return string(decoded)
}

// failureState maps an error to the login attempt state recorded before the
// deferred cleanup releases it.
func failureState(err error) string {
	if errors.Is(err, webauthn.ErrChallengeExpired) {
		return session.StateExpired
	}
	return session.StateFailed
}

// validationReason maps a validation sentinel to its metrics reason label.
func validationReason(err error) string {
	switch {
	case errors.Is(err, webauthn.ErrMalformedAssertion):
		return "malformed"
	case errors.Is(err, webauthn.ErrWrongResponseType):
		return "wrong_type"
	case errors.Is(err, webauthn.ErrChallengeExpired):
		return "challenge_expired"
	case errors.Is(err, webauthn.ErrChallengeMismatch):
		return "challenge_mismatch"
	case errors.Is(err, webauthn.ErrOriginMismatch):
		return "origin_mismatch"
	case errors.Is(err, webauthn.ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, webauthn.ErrCounterReplay):
		return "counter_replay"
	case errors.Is(err, webauthn.ErrNoPendingChallenge):
		return "no_pending_challenge"
	default:
		return ""
	}
}
