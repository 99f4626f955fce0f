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

// Package login orchestrates the final step shared by both authentication
// flows: account gating, the subscriber veto round on the event bus, session
// binding and just-in-time registration for federated identities.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jeremyhahn/go-passwordless/pkg/directory"
	"github.com/jeremyhahn/go-passwordless/pkg/events"
	"github.com/jeremyhahn/go-passwordless/pkg/federation"
	"github.com/jeremyhahn/go-passwordless/pkg/session"
)

var (
	// ErrAccessDenied is returned for blocked or activation-pending
	// accounts. Users see the generic failure message.
	ErrAccessDenied = errors.New("access denied")

	// ErrLoginVetoed is returned when a user.login subscriber vetoed the
	// attempt. The veto message is the one failure users may see verbatim.
	ErrLoginVetoed = errors.New("login vetoed")

	// ErrRegistrationDisabled is returned when a federated login would need
	// to create an account but registration is switched off.
	ErrRegistrationDisabled = errors.New("registration disabled")

	// ErrNotLinked is returned when the verified federated identity does not
	// match the account's stored issuer-subject link.
	ErrNotLinked = errors.New("identity not linked to account")
)

// VetoError carries the message of the subscriber that vetoed the login.
// errors.Is(err, ErrLoginVetoed) matches it.
type VetoError struct {
	Message string
}

func (e *VetoError) Error() string {
	if e.Message == "" {
		return ErrLoginVetoed.Error()
	}
	return fmt.Sprintf("login vetoed: %s", e.Message)
}

func (e *VetoError) Is(target error) bool {
	return target == ErrLoginVetoed
}

// ACL actions attached to login options per requested client.
const (
	ActionLoginSite  = "core.login.site"
	ActionLoginAdmin = "core.login.admin"
)

// Options describe a login attempt for event subscribers.
type Options struct {
	// Action is the ACL action, ActionLoginSite or ActionLoginAdmin.
	Action string `json:"action"`

	// Remember requests a persistent session.
	Remember bool `json:"remember"`

	// RedirectURL is where the visitor is sent after the login completes.
	RedirectURL string `json:"redirect_url"`

	// ResponseType names the authentication method, "passkey" or "id4me".
	ResponseType string `json:"response_type"`
}

// Event is the payload passed to user.login, user.afterLogin and
// user.loginFailure subscribers. A user.login subscriber that returns false
// should also call Reject with a user-presentable reason.
type Event struct {
	User    *directory.User
	Options Options

	messages []string
}

// Reject records a user-presentable reason for vetoing the login.
func (e *Event) Reject(message string) {
	e.messages = append(e.messages, message)
}

// Orchestrator runs the shared post-validation login sequence.
type Orchestrator struct {
	bus                 *events.Bus
	directory           directory.Directory
	links               directory.LinkStore
	logger              *slog.Logger
	registrationEnabled bool
}

// OrchestratorParams contains dependencies for creating an Orchestrator.
type OrchestratorParams struct {
	// Bus is the event bus login events fire on (required).
	Bus *events.Bus

	// Directory is the account directory (required).
	Directory directory.Directory

	// Links is the federated identity link store (required).
	Links directory.LinkStore

	// RegistrationEnabled allows just-in-time account creation for unknown
	// federated identifiers.
	RegistrationEnabled bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewOrchestrator creates a login orchestrator.
func NewOrchestrator(params OrchestratorParams) (*Orchestrator, error) {
	if params.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if params.Directory == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if params.Links == nil {
		return nil, fmt.Errorf("link store is required")
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		bus:                 params.Bus,
		directory:           params.Directory,
		links:               params.Links,
		logger:              logger,
		registrationEnabled: params.RegistrationEnabled,
	}, nil
}

// Login completes an already-authenticated attempt: gates the account, runs
// the user.login subscriber round, binds the session and fires
// user.afterLogin. A single subscriber veto fails the whole attempt.
func (o *Orchestrator) Login(ctx context.Context, sess *session.Session, user *directory.User, opts Options) error {
	if !user.CanLogin() {
		o.logger.Warn("login denied for gated account",
			"user", user.Username,
			"blocked", user.Blocked,
			"requires_activation", user.RequiresActivation)
		return ErrAccessDenied
	}

	event := &Event{User: user, Options: opts}

	// Every subscriber runs; the results are interpreted afterwards, so a
	// veto never hides later subscribers from the event.
	results := o.bus.Trigger(ctx, events.UserLogin, event)
	if idx := events.VetoedBy(results); idx >= 0 {
		o.bus.Trigger(ctx, events.UserLoginFailure, event)
		o.logger.Warn("login vetoed by subscriber",
			"user", user.Username,
			"subscriber", idx,
			"messages", event.messages)
		return &VetoError{Message: firstMessage(event.messages)}
	}

	if err := sess.BindUser(ctx, user.ID); err != nil {
		return fmt.Errorf("bind session: %w", err)
	}
	if err := sess.SetLoginState(ctx, session.StateValidated); err != nil {
		return fmt.Errorf("record login state: %w", err)
	}

	// Results of the after-login round are ignored
	o.bus.Trigger(ctx, events.UserAfterLogin, event)

	o.logger.Info("user logged in",
		"user", user.Username,
		"action", opts.Action,
		"response_type", opts.ResponseType)
	return nil
}

// Fail records a failed attempt and fires user.loginFailure. Used by
// handlers for failures that happen before the subscriber round.
func (o *Orchestrator) Fail(ctx context.Context, user *directory.User, opts Options) {
	o.bus.Trigger(ctx, events.UserLoginFailure, &Event{User: user, Options: opts})
}

// ResolveFederated returns the local account for a verified federated
// identity. The account's stored issuer-subject link must match the
// identity; a mismatch fails closed with ErrNotLinked.
func (o *Orchestrator) ResolveFederated(ctx context.Context, identity *federation.Identity) (*directory.User, error) {
	user, err := o.directory.FindByIdentifier(ctx, identity.Identifier)
	if err != nil {
		return nil, err
	}

	links, err := o.links.Links(ctx, identity.Identifier)
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if link.UserID == user.ID && link.IssuerSubject == identity.IssuerSubject() {
			return user, nil
		}
	}
	return nil, ErrNotLinked
}

// RegisterFederated creates an account just-in-time from the issuer's
// profile claims and links it to the federated identity.
func (o *Orchestrator) RegisterFederated(ctx context.Context, identity *federation.Identity, info *federation.UserInfo) (*directory.User, error) {
	if !o.registrationEnabled {
		return nil, ErrRegistrationDisabled
	}

	user, err := o.directory.Create(ctx, &directory.User{
		Username: identity.Identifier,
		Name:     displayName(info),
		Email:    info.Email,
	})
	if err != nil {
		return nil, err
	}

	if err := o.links.Save(ctx, &directory.IdentityLink{
		UserID:        user.ID,
		Identifier:    identity.Identifier,
		IssuerSubject: identity.IssuerSubject(),
	}); err != nil {
		return nil, err
	}

	o.logger.Info("registered federated user",
		"user", user.Username,
		"issuer", identity.Issuer)
	return user, nil
}

// RegistrationEnabled reports whether just-in-time registration is on.
func (o *Orchestrator) RegistrationEnabled() bool {
	return o.registrationEnabled
}

func displayName(info *federation.UserInfo) string {
	if info.Name != "" {
		return info.Name
	}
	return strings.TrimSpace(info.GivenName + " " + info.FamilyName)
}

func firstMessage(messages []string) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[0]
}
