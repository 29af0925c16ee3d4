// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package backup exports the vault's contents as an encrypted archive
// and reads such archives back. The archive is a CBOR snapshot,
// zstd-compressed, then age-encrypted to one or more x25519
// recipients — typically an offline operator key plus an escrow key.
// The vault passphrase is not involved: possession of a recipient's
// private key is what opens a backup.
//
// Private keys are handled through secret.Buffer (mmap-backed, locked
// against swap, zeroed on close) and are never written by this
// package; keygen hands the key to the caller exactly once.
package backup

import (
	"context"
	"fmt"
	"io"
	"time"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"

	"github.com/agentvault/agentvault/lib/auditlog"
	"github.com/agentvault/agentvault/lib/codec"
	"github.com/agentvault/agentvault/lib/identity"
	"github.com/agentvault/agentvault/lib/secret"
	"github.com/agentvault/agentvault/lib/session"
)

// snapshotVersion is the archive payload format.
const snapshotVersion = 1

// Snapshot is the decrypted, decompressed archive payload.
type Snapshot struct {
	// Version is the snapshot format version.
	Version int `cbor:"1,keyasint" json:"version"`

	// ExportedAt is when the export ran.
	ExportedAt time.Time `cbor:"2,keyasint" json:"exported_at"`

	// Identities are all registered identities (public keys and
	// scopes; no private keys exist in the vault to export).
	Identities []*identity.Identity `cbor:"3,keyasint" json:"identities"`

	// Sessions are all stored session records.
	Sessions []*session.Record `cbor:"4,keyasint" json:"sessions"`

	// Audit is the full audit log in sequence order.
	Audit []*auditlog.Entry `cbor:"5,keyasint" json:"audit"`
}

// Source is the read surface the exporter needs. *vault.Service
// satisfies it.
type Source interface {
	ListIdentities(ctx context.Context) ([]*identity.Identity, error)
	ListSessions(ctx context.Context) ([]*session.View, error)
	Audit(ctx context.Context, filter auditlog.Filter) ([]*auditlog.Entry, error)
}

// Keypair holds an age x25519 keypair for backup recipients. The
// private key lives in a secret.Buffer; the public key string is safe
// to publish. The caller must Close the keypair when done.
type Keypair struct {
	PrivateKey *secret.Buffer
	PublicKey  string
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair generates a backup recipient keypair. The private
// key string is moved into mmap-backed memory immediately; the heap
// copy age hands back is transient.
func GenerateKeypair() (*Keypair, error) {
	generated, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("backup: generating age keypair: %w", err)
	}

	privateKey, err := secret.FromBytes([]byte(generated.String()))
	if err != nil {
		return nil, fmt.Errorf("backup: protecting private key: %w", err)
	}
	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  generated.Recipient().String(),
	}, nil
}

// ValidateRecipient checks that a string is a valid age x25519 public
// key before an export is attempted with it.
func ValidateRecipient(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("backup: invalid recipient key: %w", err)
	}
	return nil
}

// Export snapshots the vault and writes the encrypted archive. At
// least one recipient is required. The vault must be unlocked.
func Export(ctx context.Context, w io.Writer, recipientKeys []string, source Source) error {
	return ExportAt(ctx, w, recipientKeys, source, time.Now())
}

// ExportAt is Export with an explicit timestamp for deterministic
// tests.
func ExportAt(ctx context.Context, w io.Writer, recipientKeys []string, source Source, now time.Time) error {
	if len(recipientKeys) == 0 {
		return fmt.Errorf("backup: at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return fmt.Errorf("backup: parsing recipient key: %w", err)
		}
		recipients = append(recipients, recipient)
	}

	identities, err := source.ListIdentities(ctx)
	if err != nil {
		return fmt.Errorf("backup: listing identities: %w", err)
	}
	views, err := source.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("backup: listing sessions: %w", err)
	}
	records := make([]*session.Record, 0, len(views))
	for _, view := range views {
		records = append(records, view.Record)
	}
	entries, err := source.Audit(ctx, auditlog.Filter{})
	if err != nil {
		return fmt.Errorf("backup: reading audit log: %w", err)
	}

	payload, err := codec.Marshal(&Snapshot{
		Version:    snapshotVersion,
		ExportedAt: now.UTC(),
		Identities: identities,
		Sessions:   records,
		Audit:      entries,
	})
	if err != nil {
		return fmt.Errorf("backup: encoding snapshot: %w", err)
	}

	encryptor, err := age.Encrypt(w, recipients...)
	if err != nil {
		return fmt.Errorf("backup: creating age encryptor: %w", err)
	}
	compressor, err := zstd.NewWriter(encryptor)
	if err != nil {
		return fmt.Errorf("backup: creating zstd writer: %w", err)
	}
	if _, err := compressor.Write(payload); err != nil {
		return fmt.Errorf("backup: writing snapshot: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return fmt.Errorf("backup: finalizing compression: %w", err)
	}
	if err := encryptor.Close(); err != nil {
		return fmt.Errorf("backup: finalizing encryption: %w", err)
	}
	return nil
}

// Read decrypts and decodes an archive with a recipient's private
// key. The key is borrowed, not closed.
func Read(r io.Reader, privateKey *secret.Buffer) (*Snapshot, error) {
	// age.ParseX25519Identity needs a string; the heap copy is
	// brief and call-scoped.
	recipientIdentity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("backup: parsing private key: %w", err)
	}

	decryptor, err := age.Decrypt(r, recipientIdentity)
	if err != nil {
		return nil, fmt.Errorf("backup: decrypting archive: %w", err)
	}
	decompressor, err := zstd.NewReader(decryptor)
	if err != nil {
		return nil, fmt.Errorf("backup: creating zstd reader: %w", err)
	}
	defer decompressor.Close()

	payload, err := io.ReadAll(decompressor)
	if err != nil {
		return nil, fmt.Errorf("backup: reading snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := codec.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("backup: decoding snapshot: %w", err)
	}
	if snapshot.Version != snapshotVersion {
		return nil, fmt.Errorf("backup: unsupported snapshot version %d", snapshot.Version)
	}
	return &snapshot, nil
}
