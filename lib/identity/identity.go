// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity manages agent identities: Ed25519 keypairs bound to
// a human-readable name and a domain scope list.
//
// The vault stores only the public half. The private key is returned
// exactly once, at creation, and belongs to the process that acts as
// the agent — see the keyfile helpers. An operator who can open the
// vault can read every session, but can never impersonate an agent,
// because impersonation requires a private key the vault has never
// held.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateIdentity is returned by Create when an identity with
	// the same name already exists.
	ErrDuplicateIdentity = errors.New("identity: duplicate identity name")

	// ErrNotFound is returned when no identity matches the given name
	// or id.
	ErrNotFound = errors.New("identity: not found")

	// ErrInvalidName is returned for empty or unusable identity names.
	ErrInvalidName = errors.New("identity: invalid name")
)

// Identity is the vault-resident view of an agent: everything except
// the private key. Safe to list, log, and serialize.
type Identity struct {
	// ID is the stable handle used in signed requests and audit
	// entries. A UUID assigned at creation; renaming-proof.
	ID string `cbor:"1,keyasint" json:"id"`

	// Name is the operator-facing name ("sales-bot"). Unique within
	// the vault.
	Name string `cbor:"2,keyasint" json:"name"`

	// PublicKey is the Ed25519 verification key for this identity's
	// signed requests.
	PublicKey []byte `cbor:"3,keyasint" json:"public_key"`

	// Scopes is the normalized list of domains this identity may
	// retrieve sessions for.
	Scopes []string `cbor:"4,keyasint" json:"scopes"`

	// CreatedAt is when the identity was created.
	CreatedAt time.Time `cbor:"5,keyasint" json:"created_at"`

	// UpdatedAt advances on scope changes.
	UpdatedAt time.Time `cbor:"6,keyasint" json:"updated_at"`
}

// Verifier returns the identity's public key in the type the ed25519
// package expects, or an error if the stored key has the wrong size.
func (i *Identity) Verifier() (ed25519.PublicKey, error) {
	if len(i.PublicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity: %s public key is %d bytes, want %d", i.Name, len(i.PublicKey), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(i.PublicKey), nil
}

// generateKeypair creates a fresh Ed25519 keypair from the system's
// cryptographically secure random source.
func generateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// newID returns a fresh identity handle.
func newID() string {
	return uuid.NewString()
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > 128 {
		return fmt.Errorf("%w: %q exceeds 128 characters", ErrInvalidName, name)
	}
	for _, character := range name {
		switch {
		case character >= 'a' && character <= 'z':
		case character >= 'A' && character <= 'Z':
		case character >= '0' && character <= '9':
		case character == '-' || character == '_' || character == '.':
		default:
			return fmt.Errorf("%w: %q contains %q (allowed: letters, digits, '-', '_', '.')", ErrInvalidName, name, character)
		}
	}
	return nil
}
