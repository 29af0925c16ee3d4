// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package auditlog

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentvault/agentvault/lib/cipherstore"
	"github.com/agentvault/agentvault/lib/secret"
)

func newTestLog(t *testing.T) (*Log, *cipherstore.Store) {
	t.Helper()

	store, err := cipherstore.Open(cipherstore.Config{Path: filepath.Join(t.TempDir(), "vault.db")})
	if err != nil {
		t.Fatalf("cipherstore.Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	masterKey, err := secret.FromBytes(bytes.Repeat([]byte{0x5a}, 32))
	if err != nil {
		t.Fatalf("secret.FromBytes() error: %v", err)
	}
	t.Cleanup(func() { masterKey.Close() })

	if err := store.Unlock(masterKey); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	return NewLog(store), store
}

func testEntry(op, identityID, domain, outcome string, at time.Time) *Entry {
	return &Entry{
		Time:       at,
		Operation:  op,
		IdentityID: identityID,
		Domain:     domain,
		Outcome:    outcome,
	}
}

func TestLog_AppendAssignsSequence(t *testing.T) {
	log, _ := newTestLog(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := int64(1); i <= 3; i++ {
		seq, err := log.Append(ctx, testEntry(OpGetSession, "agent-1", "gmail.com", OutcomeGranted, now))
		if err != nil {
			t.Fatalf("Append() error: %v", err)
		}
		if seq != i {
			t.Errorf("Append() seq = %d, want %d", seq, i)
		}
	}

	length, err := log.Length(ctx)
	if err != nil {
		t.Fatalf("Length() error: %v", err)
	}
	if length != 3 {
		t.Errorf("Length() = %d, want 3", length)
	}
}

func TestLog_QueryFilters(t *testing.T) {
	log, _ := newTestLog(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	appends := []*Entry{
		testEntry(OpGetSession, "agent-1", "gmail.com", OutcomeGranted, base),
		testEntry(OpGetSession, "agent-2", "linkedin.com", OutcomeDeniedScope, base.Add(time.Hour)),
		testEntry(OpPutSession, "", "gmail.com", OutcomeGranted, base.Add(2*time.Hour)),
		testEntry(OpGetSession, "agent-1", "linkedin.com", OutcomeDeniedNoSession, base.Add(3*time.Hour)),
	}
	for _, entry := range appends {
		if _, err := log.Append(ctx, entry); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	all, err := log.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("Query(all) returned %d entries, want 4", len(all))
	}
	for i, entry := range all {
		if entry.Seq != int64(i+1) {
			t.Errorf("entry %d has Seq %d, want %d", i, entry.Seq, i+1)
		}
	}

	byIdentity, err := log.Query(ctx, Filter{IdentityID: "agent-1"})
	if err != nil {
		t.Fatalf("Query(identity) error: %v", err)
	}
	if len(byIdentity) != 2 {
		t.Errorf("Query(identity) returned %d entries, want 2", len(byIdentity))
	}

	byDomain, err := log.Query(ctx, Filter{Domain: "gmail.com"})
	if err != nil {
		t.Fatalf("Query(domain) error: %v", err)
	}
	if len(byDomain) != 2 {
		t.Errorf("Query(domain) returned %d entries, want 2", len(byDomain))
	}

	byTime, err := log.Query(ctx, Filter{Since: base.Add(time.Hour), Until: base.Add(3 * time.Hour)})
	if err != nil {
		t.Fatalf("Query(time range) error: %v", err)
	}
	if len(byTime) != 2 {
		t.Errorf("Query(time range) returned %d entries, want 2", len(byTime))
	}
	if len(byTime) == 2 && byTime[0].Outcome != OutcomeDeniedScope {
		t.Errorf("time range returned wrong entries: %+v", byTime)
	}
}

func TestLog_VerifyChain(t *testing.T) {
	log, _ := newTestLog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := log.VerifyChain(ctx); err != nil {
		t.Fatalf("VerifyChain() on empty log error: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := log.Append(ctx, testEntry(OpGetSession, "agent-1", "gmail.com", OutcomeGranted, now)); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	if err := log.VerifyChain(ctx); err != nil {
		t.Fatalf("VerifyChain() error: %v", err)
	}
}

func TestLog_ChainSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.db")
	ctx := context.Background()
	now := time.Now().UTC()

	key := bytes.Repeat([]byte{0x5a}, 32)

	open := func() (*Log, *cipherstore.Store) {
		store, err := cipherstore.Open(cipherstore.Config{Path: path})
		if err != nil {
			t.Fatalf("cipherstore.Open() error: %v", err)
		}
		masterKey, err := secret.FromBytes(bytes.Clone(key))
		if err != nil {
			t.Fatalf("secret.FromBytes() error: %v", err)
		}
		defer masterKey.Close()
		if err := store.Unlock(masterKey); err != nil {
			t.Fatalf("Unlock() error: %v", err)
		}
		return NewLog(store), store
	}

	log, store := open()
	if _, err := log.Append(ctx, testEntry(OpInit, "", "", OutcomeGranted, now)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if _, err := log.Append(ctx, testEntry(OpGetSession, "agent-1", "gmail.com", OutcomeGranted, now)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	store.Close()

	// A fresh Log must pick up the chain tail from storage.
	log, store = open()
	defer store.Close()
	if _, err := log.Append(ctx, testEntry(OpGetSession, "agent-1", "gmail.com", OutcomeGranted, now)); err != nil {
		t.Fatalf("Append() after reopen error: %v", err)
	}
	if err := log.VerifyChain(ctx); err != nil {
		t.Fatalf("VerifyChain() across reopen error: %v", err)
	}
}

func TestLog_ChainSurvivesInterleavedHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")
	ctx := context.Background()
	now := time.Now().UTC()
	key := bytes.Repeat([]byte{0x5a}, 32)

	open := func() (*Log, *cipherstore.Store) {
		store, err := cipherstore.Open(cipherstore.Config{Path: path})
		if err != nil {
			t.Fatalf("cipherstore.Open() error: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		masterKey, err := secret.FromBytes(bytes.Clone(key))
		if err != nil {
			t.Fatalf("secret.FromBytes() error: %v", err)
		}
		defer masterKey.Close()
		if err := store.Unlock(masterKey); err != nil {
			t.Fatalf("Unlock() error: %v", err)
		}
		return NewLog(store), store
	}

	// Two live handles on the same vault file, as when an operator
	// command and an agent process run side by side. Appends
	// alternate between them; the chain must stay intact because each
	// append reads its predecessor inside the commit transaction
	// instead of trusting handle-local state.
	first, _ := open()
	second, _ := open()

	logs := []*Log{first, second, first, second, first}
	for i, log := range logs {
		if _, err := log.Append(ctx, testEntry(OpGetSession, "agent-1", "gmail.com", OutcomeGranted, now)); err != nil {
			t.Fatalf("Append() via handle %d error: %v", i%2, err)
		}
	}

	if err := first.VerifyChain(ctx); err != nil {
		t.Fatalf("VerifyChain() after interleaved appends error: %v", err)
	}
	length, err := second.Length(ctx)
	if err != nil {
		t.Fatalf("Length() error: %v", err)
	}
	if length != int64(len(logs)) {
		t.Errorf("Length() = %d, want %d", length, len(logs))
	}
}

func TestLog_TamperDetected(t *testing.T) {
	log, store := newTestLog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if _, err := log.Append(ctx, testEntry(OpGetSession, "agent-1", "gmail.com", OutcomeGranted, now)); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	if err := store.TamperAudit(ctx, 2); err != nil {
		t.Fatalf("TamperAudit() error: %v", err)
	}

	// Ciphertext tampering surfaces as a decryption failure during
	// the scan, before chain hashes are even compared.
	err := log.VerifyChain(ctx)
	if err == nil {
		t.Fatal("VerifyChain() passed on a tampered log")
	}
	if !errors.Is(err, cipherstore.ErrDecryptionFailed) {
		t.Fatalf("VerifyChain() error = %v, want ErrDecryptionFailed", err)
	}
}
