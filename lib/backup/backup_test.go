// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentvault/agentvault/lib/masterkey"
	"github.com/agentvault/agentvault/lib/secret"
	"github.com/agentvault/agentvault/lib/vault"
)

func newTestVault(t *testing.T) *vault.Service {
	t.Helper()
	service, err := vault.Open(vault.Config{
		Path:      filepath.Join(t.TempDir(), "vault.db"),
		KDFParams: masterkey.Params{Time: 1, MemoryKiB: 8 * 1024, Threads: 1},
	})
	if err != nil {
		t.Fatalf("vault.Open() error: %v", err)
	}
	t.Cleanup(func() { service.Close() })

	passphrase, err := secret.FromBytes([]byte("correct horse battery"))
	if err != nil {
		t.Fatalf("secret.FromBytes() error: %v", err)
	}
	defer passphrase.Close()
	if err := service.Init(context.Background(), passphrase); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	return service
}

func TestExportAndRead(t *testing.T) {
	service := newTestVault(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, _, err := service.CreateIdentity(ctx, "sales-bot", []string{"linkedin.com"}); err != nil {
		t.Fatalf("CreateIdentity() error: %v", err)
	}
	if err := service.PutSession(ctx, "linkedin.com", map[string]string{"li_at": "AQEDAxxx"}, now, time.Time{}); err != nil {
		t.Fatalf("PutSession() error: %v", err)
	}

	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	if !strings.HasPrefix(keypair.PublicKey, "age1") {
		t.Errorf("public key %q is not an age recipient", keypair.PublicKey)
	}

	var archive bytes.Buffer
	if err := ExportAt(ctx, &archive, []string{keypair.PublicKey}, service, now); err != nil {
		t.Fatalf("ExportAt() error: %v", err)
	}
	if bytes.Contains(archive.Bytes(), []byte("AQEDAxxx")) {
		t.Fatal("archive contains a plaintext cookie value")
	}

	snapshot, err := Read(bytes.NewReader(archive.Bytes()), keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if !snapshot.ExportedAt.Equal(now) {
		t.Errorf("ExportedAt = %v, want %v", snapshot.ExportedAt, now)
	}
	if len(snapshot.Identities) != 1 || snapshot.Identities[0].Name != "sales-bot" {
		t.Errorf("snapshot identities = %+v", snapshot.Identities)
	}
	if len(snapshot.Sessions) != 1 || snapshot.Sessions[0].Cookies["li_at"] != "AQEDAxxx" {
		t.Errorf("snapshot sessions = %+v", snapshot.Sessions)
	}
	// init, create-identity, put-session.
	if len(snapshot.Audit) != 3 {
		t.Errorf("snapshot audit has %d entries, want 3", len(snapshot.Audit))
	}
}

func TestExport_MultipleRecipients(t *testing.T) {
	service := newTestVault(t)
	ctx := context.Background()

	operator, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer operator.Close()
	escrow, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer escrow.Close()

	var archive bytes.Buffer
	if err := Export(ctx, &archive, []string{operator.PublicKey, escrow.PublicKey}, service); err != nil {
		t.Fatalf("Export() error: %v", err)
	}

	for _, keypair := range []*Keypair{operator, escrow} {
		if _, err := Read(bytes.NewReader(archive.Bytes()), keypair.PrivateKey); err != nil {
			t.Errorf("Read() with recipient %s error: %v", keypair.PublicKey, err)
		}
	}
}

func TestRead_WrongKey(t *testing.T) {
	service := newTestVault(t)
	ctx := context.Background()

	recipient, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer recipient.Close()
	stranger, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer stranger.Close()

	var archive bytes.Buffer
	if err := Export(ctx, &archive, []string{recipient.PublicKey}, service); err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if _, err := Read(bytes.NewReader(archive.Bytes()), stranger.PrivateKey); err == nil {
		t.Fatal("Read() succeeded with a non-recipient key")
	}
}

func TestExport_RequiresRecipient(t *testing.T) {
	service := newTestVault(t)

	var archive bytes.Buffer
	if err := Export(context.Background(), &archive, nil, service); err == nil {
		t.Fatal("Export() succeeded without recipients")
	}
}

func TestValidateRecipient(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	if err := ValidateRecipient(keypair.PublicKey); err != nil {
		t.Errorf("ValidateRecipient(valid) error: %v", err)
	}
	if err := ValidateRecipient("not-a-key"); err == nil {
		t.Error("ValidateRecipient(junk) passed")
	}
}
