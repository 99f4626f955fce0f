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

package directory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync"
)

// MemoryDirectory is an in-memory implementation of Directory and LinkStore.
// This is intended for development and testing only.
type MemoryDirectory struct {
	mu         sync.RWMutex
	byID       map[string]*User
	byUsername map[string]*User
	handles    map[string][]byte // user ID -> handle
	byHandle   map[string]string // hex handle -> user ID
	links      map[string][]*IdentityLink
	nextID     int
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:       make(map[string]*User),
		byUsername: make(map[string]*User),
		handles:    make(map[string][]byte),
		byHandle:   make(map[string]string),
		links:      make(map[string][]*IdentityLink),
		nextID:     1,
	}
}

// FindByUsername returns the account with the given username.
func (d *MemoryDirectory) FindByUsername(ctx context.Context, username string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.byUsername[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

// FindByIdentifier returns the account linked to the federated identifier.
func (d *MemoryDirectory) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	links := d.links[identifier]
	switch len(links) {
	case 0:
		return nil, ErrUserNotFound
	case 1:
	default:
		return nil, ErrAmbiguousIdentifier
	}

	user, ok := d.byID[links[0].UserID]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

// LoadByID returns the account with the given ID.
func (d *MemoryDirectory) LoadByID(ctx context.Context, id string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

// Create adds a new account, assigning an ID when none is set.
func (d *MemoryDirectory) Create(ctx context.Context, user *User) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byUsername[user.Username]; ok {
		return nil, ErrUserExists
	}

	copied := *user
	if copied.ID == "" {
		copied.ID = strconv.Itoa(d.nextID)
		d.nextID++
	} else if _, ok := d.byID[copied.ID]; ok {
		return nil, ErrUserExists
	}

	d.byID[copied.ID] = &copied
	d.byUsername[copied.Username] = &copied

	result := copied
	return &result, nil
}

// Handle returns the stable opaque WebAuthn user handle for the account,
// minting one on first use.
func (d *MemoryDirectory) Handle(ctx context.Context, userID string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byID[userID]; !ok {
		return nil, ErrUserNotFound
	}

	if handle, ok := d.handles[userID]; ok {
		return handle, nil
	}

	handle := make([]byte, 32)
	if _, err := rand.Read(handle); err != nil {
		return nil, err
	}
	d.handles[userID] = handle
	d.byHandle[hex.EncodeToString(handle)] = userID
	return handle, nil
}

// ResolveHandle returns the account owning the given handle.
func (d *MemoryDirectory) ResolveHandle(ctx context.Context, handle []byte) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	userID, ok := d.byHandle[hex.EncodeToString(handle)]
	if !ok {
		return nil, ErrUserNotFound
	}
	user, ok := d.byID[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

// Save stores a federated identity link.
func (d *MemoryDirectory) Save(ctx context.Context, link *IdentityLink) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	copied := *link
	d.links[link.Identifier] = append(d.links[link.Identifier], &copied)
	return nil
}

// Links returns all links for a federated identifier.
func (d *MemoryDirectory) Links(ctx context.Context, identifier string) ([]*IdentityLink, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	links := d.links[identifier]
	result := make([]*IdentityLink, len(links))
	copy(result, links)
	return result, nil
}

// DeleteForUser removes all links owned by the account.
func (d *MemoryDirectory) DeleteForUser(ctx context.Context, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for identifier, links := range d.links {
		kept := links[:0]
		for _, link := range links {
			if link.UserID != userID {
				kept = append(kept, link)
			}
		}
		if len(kept) == 0 {
			delete(d.links, identifier)
		} else {
			d.links[identifier] = kept
		}
	}
	return nil
}
