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

import (
	"context"
	"strings"
)

// Resolver looks up DNS TXT records. *net.Resolver satisfies it; tests use a
// fake.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// discoveryPrefix is prepended to the identifier for the TXT lookup.
const discoveryPrefix = "_openid."

// discover resolves the identifier's issuer authority from the ID4Me DNS
// record: a TXT record at _openid.<identifier> of the form
// "v=OID1;iss=<authority>".
func discover(ctx context.Context, resolver Resolver, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", WrapError("discover", ErrDiscoveryFailed)
	}

	records, err := resolver.LookupTXT(ctx, discoveryPrefix+identifier)
	if err != nil {
		return "", WrapError("lookup TXT", ErrDiscoveryFailed)
	}

	for _, record := range records {
		authority, ok := parseDiscoveryRecord(record)
		if ok {
			return authority, nil
		}
	}

	return "", WrapError("parse TXT", ErrDiscoveryFailed)
}

// parseDiscoveryRecord extracts the iss value from a "v=OID1;iss=..." record.
func parseDiscoveryRecord(record string) (string, bool) {
	fields := make(map[string]string)
	for _, part := range strings.Split(record, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		fields[strings.ToLower(key)] = value
	}

	if fields["v"] != "OID1" {
		return "", false
	}
	authority := fields["iss"]
	if authority == "" {
		return "", false
	}
	return authority, true
}
