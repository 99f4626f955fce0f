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
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jeremyhahn/go-passwordless/pkg/metrics"
)

// Router builds the AJAX route tree.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(instrument)

	r.Route("/ajax", func(r chi.Router) {
		r.Route("/passkey", func(r chi.Router) {
			r.Post("/challenge", h.PasskeyChallenge)
			r.Post("/login", h.PasskeyLogin)
			r.Post("/register/begin", h.PasskeyRegisterBegin)
			r.Post("/register/finish", h.PasskeyRegisterFinish)
		})
		r.Route("/id4me", func(r chi.Router) {
			r.Get("/prepare", h.ID4MePrepare)
			r.Get("/validation", h.ID4MeValidation)
			r.Get("/login", h.ID4MeLogin)
			r.Get("/verification", h.ID4MeVerification)
		})
	})

	return r
}

// instrument records request counts and latency per method and status code.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		metrics.RecordHTTPRequest(r.Method, strconv.Itoa(ww.Status()), time.Since(start))
	})
}
