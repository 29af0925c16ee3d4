// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package proof implements the signed access request an agent presents
// when retrieving a session. The wire format is a CBOR-encoded Request
// payload followed by a 64-byte Ed25519 signature over that payload.
//
// A proof binds the requesting identity, the target domain, and the
// issue time. Verification checks the signature against the public key
// registered for the identity and rejects proofs whose issue time
// falls outside a fixed skew window around the verifier's clock. The
// vault keeps no nonce ledger — the window bound plus the fact that a
// replayed proof grants nothing new (the same identity reading the
// same domain) keeps verification stateless.
package proof

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/agentvault/agentvault/lib/codec"
)

// signatureSize is the fixed size of an Ed25519 signature.
const signatureSize = ed25519.SignatureSize // 64 bytes

// MaxClockSkew bounds how far a proof's issue time may deviate from
// the verifier's clock, in either direction.
const MaxClockSkew = 2 * time.Minute

// nonceSize is the random per-proof nonce length.
const nonceSize = 16

// Request is the CBOR-encoded payload of an access proof.
type Request struct {
	// IdentityID is the registry ID of the requesting agent.
	IdentityID string `cbor:"1,keyasint"`

	// Domain is the normalized domain whose session is requested.
	Domain string `cbor:"2,keyasint"`

	// IssuedAt is a Unix timestamp (seconds) of when the agent
	// signed this request.
	IssuedAt int64 `cbor:"3,keyasint"`

	// Nonce is random per-request material. It makes every proof's
	// bytes distinct so a captured proof can be recognized as a
	// specific request rather than a template.
	Nonce []byte `cbor:"4,keyasint"`
}

// Errors returned by Verify.
var (
	ErrProofTooShort    = errors.New("proof: too short for signature")
	ErrInvalidSignature = errors.New("proof: invalid Ed25519 signature")
	ErrStaleProof       = errors.New("proof: issue time outside clock skew window")
)

// Sign builds and signs a proof for the given identity and domain,
// stamped with the current time.
func Sign(privateKey ed25519.PrivateKey, identityID, domain string) ([]byte, error) {
	return SignAt(privateKey, identityID, domain, time.Now())
}

// SignAt is Sign with an explicit issue time for deterministic tests.
func SignAt(privateKey ed25519.PrivateKey, identityID, domain string, issuedAt time.Time) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("proof: generating nonce: %w", err)
	}

	request := &Request{
		IdentityID: identityID,
		Domain:     domain,
		IssuedAt:   issuedAt.Unix(),
		Nonce:      nonce,
	}
	payload, err := codec.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("proof: encoding request payload: %w", err)
	}

	signature := ed25519.Sign(privateKey, payload)

	result := make([]byte, len(payload)+signatureSize)
	copy(result, payload)
	copy(result[len(payload):], signature)

	return result, nil
}

// Verify splits the raw proof bytes, verifies the Ed25519 signature,
// CBOR-decodes the payload, and checks the issue time against the skew
// window. Returns the decoded Request on success.
//
// The caller is responsible for looking up the public key from the
// identity the proof claims, and for the scope check on the decoded
// domain.
func Verify(publicKey ed25519.PublicKey, proofBytes []byte) (*Request, error) {
	return VerifyAt(publicKey, proofBytes, time.Now())
}

// VerifyAt is like Verify but accepts an explicit time for the skew
// check. This supports deterministic testing.
func VerifyAt(publicKey ed25519.PublicKey, proofBytes []byte, now time.Time) (*Request, error) {
	if len(proofBytes) <= signatureSize {
		return nil, ErrProofTooShort
	}

	splitPoint := len(proofBytes) - signatureSize
	payload := proofBytes[:splitPoint]
	signature := proofBytes[splitPoint:]

	if !ed25519.Verify(publicKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var request Request
	if err := codec.Unmarshal(payload, &request); err != nil {
		return nil, fmt.Errorf("proof: decoding request payload: %w", err)
	}

	issued := time.Unix(request.IssuedAt, 0)
	skew := now.Sub(issued)
	if skew < -MaxClockSkew || skew > MaxClockSkew {
		return nil, fmt.Errorf("%w: issued %s, verified %s",
			ErrStaleProof, issued.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}

	return &request, nil
}

// Peek decodes the payload of a proof WITHOUT verifying its signature.
// The verifier needs the claimed identity ID before it can look up the
// public key to verify with; nothing from Peek may be trusted until
// Verify succeeds with that key.
func Peek(proofBytes []byte) (*Request, error) {
	if len(proofBytes) <= signatureSize {
		return nil, ErrProofTooShort
	}
	var request Request
	if err := codec.Unmarshal(proofBytes[:len(proofBytes)-signatureSize], &request); err != nil {
		return nil, fmt.Errorf("proof: decoding request payload: %w", err)
	}
	return &request, nil
}
