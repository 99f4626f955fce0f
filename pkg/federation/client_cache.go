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
	"sync"
	"time"
)

// DefaultClientCacheTTL is how long a dynamic client registration is reused
// before re-registering with the issuer.
const DefaultClientCacheTTL = 30 * 24 * time.Hour

// ClientCache stores dynamic client registrations per authority. The cache is
// an injected dependency scoped to the service's lifetime, so two service
// instances never share registrations.
type ClientCache interface {
	// Get returns the cached registration for the key, if present and fresh.
	Get(key string) (*ClientRegistration, bool)

	// Put stores a registration under the key.
	Put(key string, reg *ClientRegistration)
}

// cacheKey builds the cache key. The login and verification sub-flows
// register separate clients so the claims requested by one never leak into
// the other.
func cacheKey(authority string, login bool) string {
	if login {
		return authority + "|login"
	}
	return authority + "|verification"
}

// MemoryClientCache is an in-memory ClientCache with TTL expiry.
type MemoryClientCache struct {
	mu      sync.RWMutex
	entries map[string]*ClientRegistration
	ttl     time.Duration
}

// NewMemoryClientCache creates a cache with the default 30 day TTL.
func NewMemoryClientCache() *MemoryClientCache {
	return NewMemoryClientCacheWithTTL(DefaultClientCacheTTL)
}

// NewMemoryClientCacheWithTTL creates a cache with a custom TTL.
func NewMemoryClientCacheWithTTL(ttl time.Duration) *MemoryClientCache {
	return &MemoryClientCache{
		entries: make(map[string]*ClientRegistration),
		ttl:     ttl,
	}
}

// Get returns the cached registration for the key, if present and fresh.
func (c *MemoryClientCache) Get(key string) (*ClientRegistration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	reg, ok := c.entries[key]
	if !ok || time.Since(reg.RegisteredAt) > c.ttl {
		return nil, false
	}
	return reg, true
}

// Put stores a registration under the key.
func (c *MemoryClientCache) Put(key string, reg *ClientRegistration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = reg
}

// Count returns the number of entries, expired ones included.
func (c *MemoryClientCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
