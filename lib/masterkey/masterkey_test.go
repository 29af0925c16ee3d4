// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package masterkey

import (
	"errors"
	"testing"

	"github.com/agentvault/agentvault/lib/secret"
)

// testParams keeps Argon2id cheap in tests while staying above the
// Validate floor.
func testParams() Params {
	return Params{Time: 1, MemoryKiB: 8 * 1024, Threads: 1}
}

func newPassphrase(t *testing.T, text string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.FromBytes([]byte(text))
	if err != nil {
		t.Fatalf("secret.FromBytes() error: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func TestDerive_Deterministic(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() error: %v", err)
	}

	first, err := Derive(newPassphrase(t, "correct horse battery"), salt, testParams())
	if err != nil {
		t.Fatalf("Derive() error: %v", err)
	}
	defer first.Close()

	second, err := Derive(newPassphrase(t, "correct horse battery"), salt, testParams())
	if err != nil {
		t.Fatalf("Derive() error: %v", err)
	}
	defer second.Close()

	if !first.Equal(second.Bytes()) {
		t.Error("same passphrase and salt derived different keys")
	}
	if first.Len() != KeySize {
		t.Errorf("derived key is %d bytes, want %d", first.Len(), KeySize)
	}
}

func TestDerive_SaltSeparates(t *testing.T) {
	saltA, _ := GenerateSalt()
	saltB, _ := GenerateSalt()

	keyA, err := Derive(newPassphrase(t, "same passphrase"), saltA, testParams())
	if err != nil {
		t.Fatalf("Derive() error: %v", err)
	}
	defer keyA.Close()

	keyB, err := Derive(newPassphrase(t, "same passphrase"), saltB, testParams())
	if err != nil {
		t.Fatalf("Derive() error: %v", err)
	}
	defer keyB.Close()

	if keyA.Equal(keyB.Bytes()) {
		t.Error("different salts derived the same key")
	}
}

func TestDerive_RejectsBadSalt(t *testing.T) {
	if _, err := Derive(newPassphrase(t, "pass"), []byte("short"), testParams()); err == nil {
		t.Error("Derive() accepted a short salt")
	}
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{name: "defaults", params: DefaultParams()},
		{name: "test floor", params: testParams()},
		{name: "zero time", params: Params{Time: 0, MemoryKiB: 64 * 1024, Threads: 4}, wantErr: true},
		{name: "weak memory", params: Params{Time: 3, MemoryKiB: 64, Threads: 4}, wantErr: true},
		{name: "zero threads", params: Params{Time: 3, MemoryKiB: 64 * 1024, Threads: 0}, wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.params.Validate()
			if test.wantErr && err == nil {
				t.Error("Validate() = nil, want error")
			}
			if !test.wantErr && err != nil {
				t.Errorf("Validate() error: %v", err)
			}
		})
	}
}

func TestVerifier_RoundTrip(t *testing.T) {
	salt, _ := GenerateSalt()
	key, err := Derive(newPassphrase(t, "the right passphrase"), salt, testParams())
	if err != nil {
		t.Fatalf("Derive() error: %v", err)
	}
	defer key.Close()

	verifier, err := MakeVerifier(key)
	if err != nil {
		t.Fatalf("MakeVerifier() error: %v", err)
	}

	if err := CheckVerifier(key, verifier); err != nil {
		t.Errorf("CheckVerifier() with correct key: %v", err)
	}
}

func TestVerifier_WrongPassphrase(t *testing.T) {
	salt, _ := GenerateSalt()

	rightKey, err := Derive(newPassphrase(t, "the right passphrase"), salt, testParams())
	if err != nil {
		t.Fatalf("Derive() error: %v", err)
	}
	defer rightKey.Close()

	verifier, err := MakeVerifier(rightKey)
	if err != nil {
		t.Fatalf("MakeVerifier() error: %v", err)
	}

	wrongKey, err := Derive(newPassphrase(t, "a wrong passphrase"), salt, testParams())
	if err != nil {
		t.Fatalf("Derive() error: %v", err)
	}
	defer wrongKey.Close()

	if err := CheckVerifier(wrongKey, verifier); !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("CheckVerifier() with wrong key = %v, want ErrInvalidPassphrase", err)
	}
}

func TestVerifier_Tampered(t *testing.T) {
	salt, _ := GenerateSalt()
	key, err := Derive(newPassphrase(t, "passphrase"), salt, testParams())
	if err != nil {
		t.Fatalf("Derive() error: %v", err)
	}
	defer key.Close()

	verifier, err := MakeVerifier(key)
	if err != nil {
		t.Fatalf("MakeVerifier() error: %v", err)
	}

	verifier[len(verifier)-1] ^= 0x01
	if err := CheckVerifier(key, verifier); !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("CheckVerifier() with tampered blob = %v, want ErrInvalidPassphrase", err)
	}
}
