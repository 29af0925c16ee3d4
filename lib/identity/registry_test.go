// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"path/filepath"
	"testing"

	"github.com/agentvault/agentvault/lib/cipherstore"
	"github.com/agentvault/agentvault/lib/secret"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	store, err := cipherstore.Open(cipherstore.Config{Path: filepath.Join(t.TempDir(), "vault.db")})
	if err != nil {
		t.Fatalf("cipherstore.Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	masterKey, err := secret.FromBytes(bytes.Repeat([]byte{0x07}, 32))
	if err != nil {
		t.Fatalf("secret.FromBytes() error: %v", err)
	}
	t.Cleanup(func() { masterKey.Close() })

	if err := store.Unlock(masterKey); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	return NewRegistry(store)
}

func TestRegistry_CreateAndLoad(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	created, private, err := registry.Create(ctx, "sales-bot", []string{"LinkedIn.com", "gmail.com"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if created.ID == "" {
		t.Error("Create() assigned no ID")
	}
	if len(private) != ed25519.PrivateKeySize {
		t.Errorf("private key is %d bytes, want %d", len(private), ed25519.PrivateKeySize)
	}
	if len(created.Scopes) != 2 || created.Scopes[0] != "linkedin.com" {
		t.Errorf("scopes not normalized: %v", created.Scopes)
	}

	loaded, err := registry.GetByName(ctx, "sales-bot")
	if err != nil {
		t.Fatalf("GetByName() error: %v", err)
	}
	if loaded.ID != created.ID {
		t.Errorf("GetByName() ID = %q, want %q", loaded.ID, created.ID)
	}
	if !bytes.Equal(loaded.PublicKey, created.PublicKey) {
		t.Error("GetByName() returned a different public key")
	}

	byID, err := registry.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if byID.Name != "sales-bot" {
		t.Errorf("GetByID() Name = %q, want sales-bot", byID.Name)
	}
}

func TestRegistry_CreateSignsVerifiably(t *testing.T) {
	registry := newTestRegistry(t)

	created, private, err := registry.Create(context.Background(), "bot", []string{"github.com"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	verifier, err := created.Verifier()
	if err != nil {
		t.Fatalf("Verifier() error: %v", err)
	}

	message := []byte("request payload")
	signature := ed25519.Sign(private, message)
	if !ed25519.Verify(verifier, message, signature) {
		t.Error("stored public key does not verify a signature from the returned private key")
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	if _, _, err := registry.Create(ctx, "bot", []string{"github.com"}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	_, _, err := registry.Create(ctx, "bot", []string{"gitlab.com"})
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Errorf("second Create() = %v, want ErrDuplicateIdentity", err)
	}
}

func TestRegistry_CreateValidation(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	if _, _, err := registry.Create(ctx, "", []string{"github.com"}); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Create(empty name) = %v, want ErrInvalidName", err)
	}
	if _, _, err := registry.Create(ctx, "bad name", []string{"github.com"}); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Create(spaced name) = %v, want ErrInvalidName", err)
	}
	if _, _, err := registry.Create(ctx, "bot", []string{"not a domain"}); err == nil {
		t.Error("Create() accepted a malformed scope")
	}
}

func TestRegistry_List(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	for _, name := range []string{"zulu", "alpha", "mike"} {
		if _, _, err := registry.Create(ctx, name, []string{"example.com"}); err != nil {
			t.Fatalf("Create(%s) error: %v", name, err)
		}
	}

	all, err := registry.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List() returned %d identities, want 3", len(all))
	}
	wantOrder := []string{"alpha", "mike", "zulu"}
	for i, record := range all {
		if record.Name != wantOrder[i] {
			t.Errorf("List()[%d].Name = %q, want %q", i, record.Name, wantOrder[i])
		}
	}
}

func TestRegistry_UpdateScopes(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	created, _, err := registry.Create(ctx, "bot", []string{"github.com"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	updated, err := registry.UpdateScopes(ctx, "bot", []string{"gitlab.com", "example.org"})
	if err != nil {
		t.Fatalf("UpdateScopes() error: %v", err)
	}
	if len(updated.Scopes) != 2 || updated.Scopes[0] != "gitlab.com" {
		t.Errorf("UpdateScopes() scopes = %v", updated.Scopes)
	}
	if updated.ID != created.ID {
		t.Error("UpdateScopes() changed the identity ID")
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) && !updated.UpdatedAt.Equal(created.UpdatedAt) {
		t.Error("UpdateScopes() did not advance UpdatedAt")
	}
}

func TestRegistry_Delete(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	created, _, err := registry.Create(ctx, "bot", []string{"github.com"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if _, err := registry.Delete(ctx, "bot"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	if _, err := registry.GetByName(ctx, "bot"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByName() after delete = %v, want ErrNotFound", err)
	}
	if _, err := registry.GetByID(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after delete = %v, want ErrNotFound", err)
	}
	if _, err := registry.Delete(ctx, "bot"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() = %v, want ErrNotFound", err)
	}
}

func TestKeyfile_RoundTrip(t *testing.T) {
	keyDir := filepath.Join(t.TempDir(), "keys")

	_, private, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	path, err := SaveKeyfile(keyDir, "bot", private)
	if err != nil {
		t.Fatalf("SaveKeyfile() error: %v", err)
	}
	if path != KeyfilePath(keyDir, "bot") {
		t.Errorf("SaveKeyfile() path = %q, want %q", path, KeyfilePath(keyDir, "bot"))
	}

	loaded, err := LoadKeyfile(keyDir, "bot")
	if err != nil {
		t.Fatalf("LoadKeyfile() error: %v", err)
	}
	if !bytes.Equal(loaded, private) {
		t.Error("LoadKeyfile() returned different key material")
	}

	// Overwrite must be refused.
	if _, err := SaveKeyfile(keyDir, "bot", private); err == nil {
		t.Error("SaveKeyfile() overwrote an existing keyfile")
	}

	if err := RemoveKeyfile(keyDir, "bot"); err != nil {
		t.Fatalf("RemoveKeyfile() error: %v", err)
	}
	if _, err := LoadKeyfile(keyDir, "bot"); err == nil {
		t.Error("LoadKeyfile() succeeded after removal")
	}
	// Removing again is not an error.
	if err := RemoveKeyfile(keyDir, "bot"); err != nil {
		t.Errorf("second RemoveKeyfile() error: %v", err)
	}
}
