// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package auditlog records every access attempt and administrative
// mutation as an append-only, hash-chained sequence. Each entry
// carries the BLAKE3 hash of its predecessor's encoded bytes, so
// truncating or rewriting history breaks the chain even for an
// attacker who can rewrite the database file. Entries are sealed by
// the cipher store's audit namespace, which additionally binds each
// ciphertext to its sequence number.
//
// Entries are immutable once written. There is no delete operation in
// this package on purpose.
package auditlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/agentvault/agentvault/lib/cipherstore"
	"github.com/agentvault/agentvault/lib/codec"
)

// Operation names. These are stable strings: they appear in persisted
// entries and in CLI output.
const (
	OpGetSession     = "get-session"
	OpPutSession     = "put-session"
	OpDeleteSession  = "delete-session"
	OpCreateIdentity = "create-identity"
	OpUpdateScopes   = "update-scopes"
	OpDeleteIdentity = "delete-identity"
	OpInit           = "init"
	OpBackupExport   = "backup-export"
)

// Outcome names. The first four mirror the authorization verdicts;
// denied-no-session is recorded when an authorized request finds no
// stored session for the domain, and error when the read itself
// failed after authorization (the attempt happened either way).
const (
	OutcomeGranted               = "granted"
	OutcomeDeniedUnknownIdentity = "denied-unknown-identity"
	OutcomeDeniedSignature       = "denied-signature"
	OutcomeDeniedScope           = "denied-scope"
	OutcomeDeniedNoSession       = "denied-no-session"
	OutcomeError                 = "error"
)

// hashSize is the BLAKE3 digest length used for the chain.
const hashSize = 32

// ErrChainBroken is returned by VerifyChain when an entry's recorded
// predecessor hash does not match the recomputed one.
var ErrChainBroken = errors.New("auditlog: hash chain broken")

// Entry is one audit record.
type Entry struct {
	// Seq is the entry's position in the log, starting at 1. It is
	// assigned on append; the value in the struct is ignored as
	// input and populated on read.
	Seq int64 `cbor:"-" json:"seq"`

	// Time is when the vault processed the operation.
	Time time.Time `cbor:"1,keyasint" json:"time"`

	// Operation is one of the Op constants.
	Operation string `cbor:"2,keyasint" json:"operation"`

	// IdentityID is the acting identity's registry ID, or the
	// claimed ID on a denial. Empty for operator actions performed
	// directly through the CLI.
	IdentityID string `cbor:"3,keyasint,omitempty" json:"identity_id,omitempty"`

	// IdentityName is the acting identity's name when it resolved.
	IdentityName string `cbor:"4,keyasint,omitempty" json:"identity_name,omitempty"`

	// Domain is the domain the operation concerned, if any.
	Domain string `cbor:"5,keyasint,omitempty" json:"domain,omitempty"`

	// Outcome is one of the Outcome constants.
	Outcome string `cbor:"6,keyasint" json:"outcome"`

	// Detail is a short free-form elaboration (denial reason, scope
	// diff). Never contains cookie values or key material.
	Detail string `cbor:"7,keyasint,omitempty" json:"detail,omitempty"`

	// PrevHash is the BLAKE3 hash of the previous entry's encoded
	// bytes, or 32 zero bytes for the first entry.
	PrevHash []byte `cbor:"8,keyasint" json:"-"`
}

// Log is the append-only audit log. It keeps no chain state of its
// own: the tail is read inside the append transaction, so any number
// of Log handles — in this process or another — may interleave
// appends without breaking the chain.
type Log struct {
	store *cipherstore.Store
}

// NewLog returns an audit log backed by the given cipher store.
func NewLog(store *cipherstore.Store) *Log {
	return &Log{store: store}
}

// Append chains and persists an entry, returning its sequence number.
// The entry's PrevHash is set here from the stored predecessor; any
// caller-provided value is overwritten.
func (l *Log) Append(ctx context.Context, entry *Entry) (int64, error) {
	seq, err := l.store.Append(ctx, func(prevPlaintext []byte) ([]byte, error) {
		prevHash := make([]byte, hashSize)
		if prevPlaintext != nil {
			digest := blake3.Sum256(prevPlaintext)
			prevHash = digest[:]
		}
		entry.PrevHash = prevHash

		encoded, err := codec.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("auditlog: encoding entry: %w", err)
		}
		return encoded, nil
	})
	if err != nil {
		return 0, err
	}
	entry.Seq = seq
	return seq, nil
}

// Filter selects entries for Query. Zero-valued fields match
// everything.
type Filter struct {
	// IdentityID matches entries whose acting identity has this ID.
	IdentityID string

	// Domain matches entries concerning this exact domain.
	Domain string

	// Since excludes entries before this instant, when non-zero.
	Since time.Time

	// Until excludes entries at or after this instant, when non-zero.
	Until time.Time
}

func (f *Filter) matches(entry *Entry) bool {
	if f.IdentityID != "" && entry.IdentityID != f.IdentityID {
		return false
	}
	if f.Domain != "" && entry.Domain != f.Domain {
		return false
	}
	if !f.Since.IsZero() && entry.Time.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !entry.Time.Before(f.Until) {
		return false
	}
	return true
}

// Query decrypts and returns entries matching the filter, in sequence
// order. Entries are encrypted at rest, so filtering happens here
// rather than in SQL.
func (l *Log) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	var entries []*Entry
	err := l.store.ScanAudit(ctx, func(seq int64, plaintext []byte) error {
		var entry Entry
		if err := codec.Unmarshal(plaintext, &entry); err != nil {
			return fmt.Errorf("auditlog: decoding entry %d: %w", seq, err)
		}
		entry.Seq = seq
		if filter.matches(&entry) {
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Length returns the number of entries in the log.
func (l *Log) Length(ctx context.Context) (int64, error) {
	return l.store.AuditLength(ctx)
}

// VerifyChain walks the whole log and checks that every entry's
// PrevHash matches the BLAKE3 hash of its predecessor's bytes. A
// sealed-but-relinked log (entries re-encrypted in a different order)
// fails here; a byte-tampered entry already fails decryption in the
// cipher store before this check runs.
func (l *Log) VerifyChain(ctx context.Context) error {
	expected := make([]byte, hashSize)
	err := l.store.ScanAudit(ctx, func(seq int64, plaintext []byte) error {
		var entry Entry
		if err := codec.Unmarshal(plaintext, &entry); err != nil {
			return fmt.Errorf("auditlog: decoding entry %d: %w", seq, err)
		}
		if !bytes.Equal(entry.PrevHash, expected) {
			return fmt.Errorf("%w: entry %d predecessor hash mismatch", ErrChainBroken, seq)
		}
		digest := blake3.Sum256(plaintext)
		expected = digest[:]
		return nil
	})
	return err
}
