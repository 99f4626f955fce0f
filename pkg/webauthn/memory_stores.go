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

package webauthn

import (
	"context"
	"encoding/hex"
	"sync"
)

// MemoryCredentialStore is an in-memory implementation of CredentialStore.
// This is intended for development and testing only.
type MemoryCredentialStore struct {
	mu       sync.RWMutex
	byID     map[string]*Credential
	byUser   map[string][]*Credential
	idToUser map[string]string
}

// NewMemoryCredentialStore creates a new in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		byID:     make(map[string]*Credential),
		byUser:   make(map[string][]*Credential),
		idToUser: make(map[string]string),
	}
}

// Save stores a new credential.
func (s *MemoryCredentialStore) Save(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credKey := hex.EncodeToString(cred.ID)
	userKey := hex.EncodeToString(cred.UserHandle)

	if _, ok := s.byID[credKey]; ok {
		return ErrCredentialExists
	}

	s.byID[credKey] = cred
	s.byUser[userKey] = append(s.byUser[userKey], cred)
	s.idToUser[credKey] = userKey

	return nil
}

// GetByUserHandle retrieves all credentials for a user handle.
func (s *MemoryCredentialStore) GetByUserHandle(ctx context.Context, userHandle []byte) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := hex.EncodeToString(userHandle)
	creds, ok := s.byUser[key]
	if !ok {
		return []*Credential{}, nil
	}

	// Return a copy to prevent external modification
	result := make([]*Credential, len(creds))
	copy(result, creds)
	return result, nil
}

// GetByCredentialID retrieves a credential by its ID.
func (s *MemoryCredentialStore) GetByCredentialID(ctx context.Context, credID []byte) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := hex.EncodeToString(credID)
	cred, ok := s.byID[key]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return cred, nil
}

// Update updates an existing credential.
func (s *MemoryCredentialStore) Update(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credKey := hex.EncodeToString(cred.ID)
	if _, ok := s.byID[credKey]; !ok {
		return ErrCredentialNotFound
	}

	s.byID[credKey] = cred

	userKey := hex.EncodeToString(cred.UserHandle)
	creds := s.byUser[userKey]
	for i, c := range creds {
		if hex.EncodeToString(c.ID) == credKey {
			creds[i] = cred
			break
		}
	}

	return nil
}

// Delete removes a credential by its ID.
func (s *MemoryCredentialStore) Delete(ctx context.Context, credID []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credKey := hex.EncodeToString(credID)
	userKey, ok := s.idToUser[credKey]
	if !ok {
		return ErrCredentialNotFound
	}

	delete(s.byID, credKey)
	delete(s.idToUser, credKey)

	creds := s.byUser[userKey]
	for i, c := range creds {
		if hex.EncodeToString(c.ID) == credKey {
			s.byUser[userKey] = append(creds[:i], creds[i+1:]...)
			break
		}
	}

	return nil
}

// DeleteByUserHandle removes all credentials for a user handle.
func (s *MemoryCredentialStore) DeleteByUserHandle(ctx context.Context, userHandle []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userKey := hex.EncodeToString(userHandle)
	creds, ok := s.byUser[userKey]
	if !ok {
		return nil
	}

	for _, cred := range creds {
		credKey := hex.EncodeToString(cred.ID)
		delete(s.byID, credKey)
		delete(s.idToUser, credKey)
	}

	delete(s.byUser, userKey)
	return nil
}

// Count returns the total number of credentials in the store.
func (s *MemoryCredentialStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Clear removes all credentials from the store.
func (s *MemoryCredentialStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*Credential)
	s.byUser = make(map[string][]*Credential)
	s.idToUser = make(map[string]string)
}
