// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package masterkey derives the vault master key from an operator
// passphrase using Argon2id, a deliberately memory-hard function so
// that brute-forcing the passphrase from a stolen vault file is
// expensive.
//
// Derivation is pure: the same (passphrase, salt, parameters) always
// yields the same key, and Derive itself never judges whether the
// passphrase is right. Correctness is established by the verifier — a
// known-plaintext marker sealed under the derived key at vault
// initialization. A key that fails to open the verifier means a wrong
// passphrase, reported as [ErrInvalidPassphrase].
//
// The salt and parameters are stored in the vault file's cleartext
// header. They are not secret; they only make the derivation unique
// per vault and tunable over time.
package masterkey

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/agentvault/agentvault/lib/secret"
)

// ErrInvalidPassphrase is returned by CheckVerifier when the derived
// key fails to open the vault's key-check marker.
var ErrInvalidPassphrase = errors.New("invalid passphrase")

// KeySize is the size of the derived master key in bytes.
const KeySize = 32

// SaltSize is the size of the per-vault derivation salt in bytes.
const SaltSize = 16

// verifierMarker is the known plaintext sealed under the master key at
// vault initialization. Opening it proves the derived key is the one
// the vault was initialized with.
var verifierMarker = []byte("agentvault.keycheck.v1")

// Params are the Argon2id cost parameters. They are recorded in the
// vault header at initialization so the same derivation can be
// reproduced on every unlock, even after defaults change.
type Params struct {
	// Time is the number of passes over memory.
	Time uint32 `cbor:"1,keyasint" yaml:"time"`

	// MemoryKiB is the memory cost in KiB.
	MemoryKiB uint32 `cbor:"2,keyasint" yaml:"memory_kib"`

	// Threads is the parallelism degree.
	Threads uint8 `cbor:"3,keyasint" yaml:"threads"`
}

// DefaultParams returns the RFC 9106 second recommended parameter set:
// 3 passes over 64 MiB with 4 lanes. Roughly 100ms on current
// hardware — slow enough to matter against offline attack, fast
// enough to run once per unlock.
func DefaultParams() Params {
	return Params{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}
}

// Validate rejects parameter sets that would weaken derivation to
// uselessness (a tampered header must not be able to turn Argon2id
// into a fast hash).
func (p Params) Validate() error {
	if p.Time == 0 {
		return fmt.Errorf("masterkey: time parameter must be at least 1")
	}
	if p.MemoryKiB < 8*1024 {
		return fmt.Errorf("masterkey: memory parameter must be at least 8 MiB, got %d KiB", p.MemoryKiB)
	}
	if p.Threads == 0 {
		return fmt.Errorf("masterkey: threads parameter must be at least 1")
	}
	return nil
}

// GenerateSalt produces a fresh random derivation salt. Called once,
// at vault initialization.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("masterkey: generating salt: %w", err)
	}
	return salt, nil
}

// Derive computes the master key from a passphrase and salt. The
// passphrase buffer is borrowed and NOT closed. The returned key lives
// in locked memory and must be closed by the caller (normally by the
// vault's Lock operation).
//
// Derive only computes. It cannot tell a wrong passphrase from a right
// one — use CheckVerifier for that.
func Derive(passphrase *secret.Buffer, salt []byte, params Params) (*secret.Buffer, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("masterkey: salt is %d bytes, want %d", len(salt), SaltSize)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	keyBytes := argon2.IDKey(passphrase.Bytes(), salt, params.Time, params.MemoryKiB, params.Threads, KeySize)
	key, err := secret.FromBytes(keyBytes)
	if err != nil {
		secret.Zero(keyBytes)
		return nil, fmt.Errorf("masterkey: protecting derived key: %w", err)
	}
	return key, nil
}

// MakeVerifier seals the key-check marker under the master key and
// returns the verifier blob (nonce ‖ ciphertext ‖ tag) for the vault
// header. The key is borrowed and NOT closed.
func MakeVerifier(key *secret.Buffer) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("masterkey: creating verifier cipher: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("masterkey: generating verifier nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, verifierMarker, nil), nil
}

// CheckVerifier opens the verifier blob with the derived key. A key
// that fails authentication means the passphrase was wrong:
// [ErrInvalidPassphrase]. The key is borrowed and NOT closed.
func CheckVerifier(key *secret.Buffer, verifier []byte) error {
	if len(verifier) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return fmt.Errorf("masterkey: verifier blob is %d bytes, too short", len(verifier))
	}

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return fmt.Errorf("masterkey: creating verifier cipher: %w", err)
	}

	nonce := verifier[:chacha20poly1305.NonceSizeX]
	ciphertext := verifier[chacha20poly1305.NonceSizeX:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return ErrInvalidPassphrase
	}
	if string(plaintext) != string(verifierMarker) {
		return ErrInvalidPassphrase
	}
	return nil
}
