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

package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store.
// This is intended for development and testing only.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	ttl      time.Duration
}

type memorySession struct {
	values    map[string]string
	updatedAt time.Time
}

// NewMemoryStore creates an in-memory session store with a 30 minute idle
// TTL.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithTTL(30 * time.Minute)
}

// NewMemoryStoreWithTTL creates an in-memory session store with a custom
// idle TTL.
func NewMemoryStoreWithTTL(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		ttl:      ttl,
	}
}

// Get returns the value for key in session sid.
func (s *MemoryStore) Get(ctx context.Context, sid, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sid]
	if !ok || s.expired(sess) {
		return "", false, nil
	}
	value, ok := sess.values[key]
	return value, ok, nil
}

// Set stores a value for key in session sid, creating the session if needed.
func (s *MemoryStore) Set(ctx context.Context, sid, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sid]
	if !ok || s.expired(sess) {
		sess = &memorySession{values: make(map[string]string)}
		s.sessions[sid] = sess
	}
	sess.values[key] = value
	sess.updatedAt = time.Now()
	return nil
}

// Delete removes key from session sid.
func (s *MemoryStore) Delete(ctx context.Context, sid, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sid]; ok {
		delete(sess.values, key)
		sess.updatedAt = time.Now()
	}
	return nil
}

// Destroy removes the whole session.
func (s *MemoryStore) Destroy(ctx context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sid)
	return nil
}

// Count returns the number of live sessions.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Cleanup removes sessions idle longer than the TTL and returns how many
// were removed.
func (s *MemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for sid, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, sid)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) expired(sess *memorySession) bool {
	return time.Since(sess.updatedAt) > s.ttl
}
