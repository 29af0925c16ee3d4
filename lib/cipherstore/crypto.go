// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package cipherstore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/agentvault/agentvault/lib/secret"
)

// blobVersion is the format version byte prepended to every encrypted
// record. It is part of the AAD, so tampering with it fails
// authentication rather than selecting a bogus parser.
const blobVersion byte = 0x01

// blobOverhead is the fixed per-record overhead:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const blobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// subkeySize is the size of every namespace subkey.
const subkeySize = chacha20poly1305.KeySize

// hkdfInfoPrefix is the domain-separation prefix for namespace subkey
// derivation. Changing it invalidates every vault file in existence.
const hkdfInfoPrefix = "agentvault.namespace."

// deriveSubkey derives the 32-byte encryption subkey for one namespace
// from the vault master key via HKDF-SHA256. Separate subkeys mean a
// record can never authenticate under the wrong namespace, and nonce
// uniqueness only has to hold within a namespace.
//
// The masterKey is borrowed and NOT closed. The returned key must be
// closed by the caller.
func deriveSubkey(masterKey *secret.Buffer, namespace Namespace) (*secret.Buffer, error) {
	info := []byte(hkdfInfoPrefix + string(namespace) + ".v1")
	reader := hkdf.New(sha256.New, masterKey.Bytes(), nil, info)

	keyBytes := make([]byte, subkeySize)
	if _, err := io.ReadFull(reader, keyBytes); err != nil {
		return nil, fmt.Errorf("cipherstore: deriving %s subkey: %w", namespace, err)
	}

	key, err := secret.FromBytes(keyBytes)
	if err != nil {
		secret.Zero(keyBytes)
		return nil, fmt.Errorf("cipherstore: protecting %s subkey: %w", namespace, err)
	}
	return key, nil
}

// buildAAD constructs the additional authenticated data binding a
// ciphertext to its namespace and record identifier. A blob copied to
// a different namespace or identifier fails authentication on read.
func buildAAD(namespace Namespace, recordID string) []byte {
	aad := make([]byte, 0, 1+len(namespace)+1+len(recordID))
	aad = append(aad, blobVersion)
	aad = append(aad, namespace...)
	aad = append(aad, 0x00)
	aad = append(aad, recordID...)
	return aad
}

// sequenceAAD is buildAAD for audit entries, whose identifier is the
// append sequence number rather than a string key.
func sequenceAAD(sequence int64) []byte {
	var encoded [8]byte
	binary.BigEndian.PutUint64(encoded[:], uint64(sequence))
	return buildAAD(namespaceAudit, string(encoded[:]))
}

// seal encrypts plaintext under the namespace subkey with a fresh
// random 24-byte nonce. Output layout:
//
//	[version: 1 byte] [nonce: 24 bytes] [ciphertext+tag: N+16 bytes]
//
// The key is borrowed and NOT closed.
func seal(key *secret.Buffer, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("cipherstore: creating cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("cipherstore: generating nonce: %w", err)
	}

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, blobOverhead+len(plaintext))
	output[0] = blobVersion
	copy(output[1:], nonce[:])

	return aead.Seal(output, nonce[:], plaintext, aad), nil
}

// open decrypts a blob produced by seal, authenticating it against the
// AAD. Any failure — wrong key, flipped byte, swapped record — returns
// ErrDecryptionFailed. Partial plaintext is never returned.
func open(key *secret.Buffer, aad, blob []byte) ([]byte, error) {
	if len(blob) < blobOverhead {
		return nil, fmt.Errorf("%w: blob is %d bytes, minimum is %d", ErrDecryptionFailed, len(blob), blobOverhead)
	}
	if blob[0] != blobVersion {
		return nil, fmt.Errorf("%w: unsupported blob version %d", ErrDecryptionFailed, blob[0])
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("cipherstore: creating cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication tag mismatch", ErrDecryptionFailed)
	}
	return plaintext, nil
}
