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
	"html/template"
	"net/http"

	"github.com/jeremyhahn/go-passwordless/pkg/federation"
)

// verificationResultTmpl is the page served to the verification popup. It
// hands the verified identifier and issuer-subject pair to the opener window
// and closes itself. The opener registers window.passwordless.id4me.verified
// before opening the popup.
var verificationResultTmpl = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Identifier verified</title></head>
<body>
<p>Identifier verified. You can close this window.</p>
<script>
document.addEventListener('DOMContentLoaded', function () {
	if (window.opener && window.opener.passwordless && window.opener.passwordless.id4me) {
		window.opener.passwordless.id4me.verified({
			identifier: {{.Identifier}},
			issuersub: {{.IssuerSubject}}
		});
	}
	window.self.close();
});
</script>
</body>
</html>
`))

// verificationErrorTmpl is the popup page for a failed verification.
var verificationErrorTmpl = template.Must(template.New("verificationError").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Verification failed</title></head>
<body>
<p>{{.}}</p>
<script>
document.addEventListener('DOMContentLoaded', function () {
	window.self.close();
});
</script>
</body>
</html>
`))

func (h *Handler) renderVerificationResult(w http.ResponseWriter, identity *federation.Identity) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := verificationResultTmpl.Execute(w, map[string]string{
		"Identifier":    identity.Identifier,
		"IssuerSubject": identity.IssuerSubject(),
	})
	if err != nil {
		h.logger.Error("render verification page", "error", err)
	}
}

func (h *Handler) renderVerificationError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	if err := verificationErrorTmpl.Execute(w, message); err != nil {
		h.logger.Error("render verification error page", "error", err)
	}
}
