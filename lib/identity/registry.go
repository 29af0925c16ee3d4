// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentvault/agentvault/lib/cipherstore"
	"github.com/agentvault/agentvault/lib/codec"
	"github.com/agentvault/agentvault/lib/scope"
)

// Registry creates and looks up agent identities, persisting them as
// encrypted records in the cipher store. Records are keyed by identity
// ID; name lookups scan, which is fine at the scale of one operator's
// agent roster.
type Registry struct {
	store *cipherstore.Store

	// mu serializes create/update/delete so the duplicate-name check
	// and the subsequent write are atomic within this process.
	mu sync.Mutex
}

// NewRegistry returns a registry backed by the given store. The store
// must be unlocked before any operation.
func NewRegistry(store *cipherstore.Store) *Registry {
	return &Registry{store: store}
}

// Create generates a keypair, validates and normalizes the scopes, and
// persists the new identity. The private key is returned to the caller
// and never touches the store — write it to a keyfile and forget it.
// Rejects duplicate names with ErrDuplicateIdentity.
func (r *Registry) Create(ctx context.Context, name string, scopes []string) (*Identity, ed25519.PrivateKey, error) {
	if err := validateName(name); err != nil {
		return nil, nil, err
	}
	normalizedScopes, err := scope.ValidateAll(scopes)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.getByNameLocked(ctx, name); err == nil {
		return nil, nil, fmt.Errorf("%w: %q", ErrDuplicateIdentity, name)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, nil, err
	}

	public, private, err := generateKeypair()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	record := &Identity{
		ID:        newID(),
		Name:      name,
		PublicKey: public,
		Scopes:    normalizedScopes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.putLocked(ctx, record); err != nil {
		return nil, nil, err
	}
	return record, private, nil
}

// GetByID loads an identity by its stable handle.
func (r *Registry) GetByID(ctx context.Context, id string) (*Identity, error) {
	plaintext, err := r.store.Get(ctx, cipherstore.NamespaceIdentities, id)
	if err != nil {
		if errors.Is(err, cipherstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: id %q", ErrNotFound, id)
		}
		return nil, err
	}

	var record Identity
	if err := codec.Unmarshal(plaintext, &record); err != nil {
		return nil, fmt.Errorf("identity: decoding record %s: %w", id, err)
	}
	return &record, nil
}

// GetByName loads an identity by its operator-facing name.
func (r *Registry) GetByName(ctx context.Context, name string) (*Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getByNameLocked(ctx, name)
}

func (r *Registry) getByNameLocked(ctx context.Context, name string) (*Identity, error) {
	all, err := r.listLocked(ctx)
	if err != nil {
		return nil, err
	}
	for _, record := range all {
		if record.Name == name {
			return record, nil
		}
	}
	return nil, fmt.Errorf("%w: name %q", ErrNotFound, name)
}

// List returns every identity, sorted by name. The results carry only
// public material, so they are safe to print and log.
func (r *Registry) List(ctx context.Context) ([]*Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(ctx)
}

func (r *Registry) listLocked(ctx context.Context) ([]*Identity, error) {
	ids, err := r.store.List(ctx, cipherstore.NamespaceIdentities)
	if err != nil {
		return nil, err
	}

	records := make([]*Identity, 0, len(ids))
	for _, id := range ids {
		plaintext, err := r.store.Get(ctx, cipherstore.NamespaceIdentities, id)
		if err != nil {
			return nil, err
		}
		var record Identity
		if err := codec.Unmarshal(plaintext, &record); err != nil {
			return nil, fmt.Errorf("identity: decoding record %s: %w", id, err)
		}
		records = append(records, &record)
	}

	sort.Slice(records, func(a, b int) bool { return records[a].Name < records[b].Name })
	return records, nil
}

// UpdateScopes replaces the scope set of the named identity. This is a
// privilege change; callers (the vault service) must audit it.
func (r *Registry) UpdateScopes(ctx context.Context, name string, newScopes []string) (*Identity, error) {
	normalizedScopes, err := scope.ValidateAll(newScopes)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.getByNameLocked(ctx, name)
	if err != nil {
		return nil, err
	}

	record.Scopes = normalizedScopes
	record.UpdatedAt = time.Now().UTC()

	if err := r.putLocked(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Delete removes the named identity. Every subsequent request claiming
// its id resolves to unknown-identity from then on.
func (r *Registry) Delete(ctx context.Context, name string) (*Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.getByNameLocked(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := r.store.Delete(ctx, cipherstore.NamespaceIdentities, record.ID); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *Registry) putLocked(ctx context.Context, record *Identity) error {
	plaintext, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("identity: encoding record %s: %w", record.ID, err)
	}
	return r.store.Put(ctx, cipherstore.NamespaceIdentities, record.ID, plaintext)
}
