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

// Package metrics provides Prometheus instrumentation for the passwordless
// login flows: challenge issuance, assertion validation, federation round
// trips and login outcomes, recorded at the REST boundary.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all passwordless metrics
	Namespace = "passwordless"

	// Label names
	LabelFlow       = "flow"
	LabelStatus     = "status"
	LabelReason     = "reason"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusFailure = "failure"

	// Flow names
	FlowPasskey    = "passkey"
	FlowFederation = "federation"
)

var (
	// ChallengesTotal counts issued WebAuthn challenges by status. The
	// anti-enumeration "false" responses count as failures without a reason.
	ChallengesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "challenges_total",
			Help:      "Total number of WebAuthn challenges issued by status",
		},
		[]string{LabelStatus},
	)

	// LoginsTotal counts completed login attempts by flow and status.
	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "logins_total",
			Help:      "Total number of login attempts by flow and status",
		},
		[]string{LabelFlow, LabelStatus},
	)

	// ValidationFailuresTotal counts assertion validation failures by reason
	// (challenge_mismatch, origin_mismatch, counter_replay, ...). The reason
	// granularity exists for operators only; users see a generic message.
	ValidationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "validation_failures_total",
			Help:      "Total number of assertion validation failures by reason",
		},
		[]string{LabelReason},
	)

	// FederationRequestsTotal counts federation operations (discover,
	// register, callback) by status.
	FederationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "federation",
			Name:      "requests_total",
			Help:      "Total number of federation operations by status",
		},
		[]string{LabelStatus},
	)

	// HTTPRequestsTotal counts HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks HTTP request latency in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{LabelMethod},
	)
)

// RecordChallenge records a challenge issuance outcome.
func RecordChallenge(success bool) {
	ChallengesTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordLogin records a login attempt outcome for a flow.
func RecordLogin(flow string, success bool) {
	LoginsTotal.WithLabelValues(flow, statusLabel(success)).Inc()
}

// RecordValidationFailure records an assertion validation failure reason.
func RecordValidationFailure(reason string) {
	ValidationFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordFederationRequest records a federation operation outcome.
func RecordFederationRequest(success bool) {
	FederationRequestsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordHTTPRequest records an HTTP request with its latency.
func RecordHTTPRequest(method, statusCode string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func statusLabel(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusFailure
}
