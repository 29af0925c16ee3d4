// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package authorize evaluates signed access proofs against the
// identity registry. It never touches session data: the decision is
// purely about who is asking and whether their scope covers the
// domain, so a scope denial looks identical whether or not a session
// for that domain exists.
//
// The check runs in a fixed order and stops at the first failure:
//
//  1. the claimed identity must exist in the registry,
//  2. the proof's signature must verify against that identity's
//     public key and its issue time must be within the skew window,
//  3. the requested domain must match one of the identity's scopes.
//
// Running identity lookup first means a deleted identity is denied as
// unknown even if its old keyfile still signs valid-looking proofs.
package authorize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentvault/agentvault/lib/identity"
	"github.com/agentvault/agentvault/lib/proof"
	"github.com/agentvault/agentvault/lib/scope"
)

// Outcome is the result of evaluating an access proof. The set is
// closed: every path through Evaluate returns exactly one of these.
type Outcome int

const (
	// Granted means the proof passed every check.
	Granted Outcome = iota

	// DeniedUnknownIdentity means the proof names an identity the
	// registry does not have (never created, or since deleted).
	DeniedUnknownIdentity

	// DeniedSignature means the proof was malformed, its signature
	// did not verify against the identity's registered key, or its
	// issue time fell outside the clock skew window.
	DeniedSignature

	// DeniedScope means the identity is real and the proof genuine,
	// but the requested domain is not covered by any of the
	// identity's scopes.
	DeniedScope
)

// String returns the stable lowercase name used in audit records.
func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case DeniedUnknownIdentity:
		return "denied-unknown-identity"
	case DeniedSignature:
		return "denied-signature"
	case DeniedScope:
		return "denied-scope"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Decision is the full result of evaluating a proof.
type Decision struct {
	// Outcome is the verdict.
	Outcome Outcome

	// IdentityID is the identity the proof claimed. Populated even
	// on denial whenever the proof decoded, so denials are
	// attributable in the audit log.
	IdentityID string

	// Domain is the domain the proof requested, when it decoded.
	Domain string

	// Identity is the resolved registry record. Nil unless the
	// identity lookup succeeded.
	Identity *identity.Identity

	// Reason is a short human-readable explanation for denials.
	// Empty when granted.
	Reason string
}

// Controller evaluates proofs against a registry.
type Controller struct {
	registry *identity.Registry
}

// NewController returns a controller backed by the given registry.
func NewController(registry *identity.Registry) *Controller {
	return &Controller{registry: registry}
}

// Evaluate runs the staged check on raw proof bytes.
func (c *Controller) Evaluate(ctx context.Context, proofBytes []byte) (*Decision, error) {
	return c.EvaluateAt(ctx, proofBytes, time.Now())
}

// EvaluateAt is Evaluate with an explicit verification time for
// deterministic tests.
//
// The error return is for infrastructure failures only (store I/O,
// decryption). Every authorization verdict, including denials, comes
// back as a Decision with a nil error.
func (c *Controller) EvaluateAt(ctx context.Context, proofBytes []byte, now time.Time) (*Decision, error) {
	// The claimed identity ID is needed to find the verification
	// key. Nothing from this decode is trusted until the signature
	// check passes.
	claimed, err := proof.Peek(proofBytes)
	if err != nil {
		return &Decision{
			Outcome: DeniedSignature,
			Reason:  "malformed proof",
		}, nil
	}

	decision := &Decision{
		IdentityID: claimed.IdentityID,
		Domain:     claimed.Domain,
	}

	resolved, err := c.registry.GetByID(ctx, claimed.IdentityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			decision.Outcome = DeniedUnknownIdentity
			decision.Reason = "identity not in registry"
			return decision, nil
		}
		return nil, fmt.Errorf("authorize: resolving identity: %w", err)
	}
	decision.Identity = resolved

	verifier, err := resolved.Verifier()
	if err != nil {
		// A registered key of the wrong size is a corrupted registry
		// record, not a bad request. Surface it as an infrastructure
		// failure instead of folding it into a routine denial.
		return nil, fmt.Errorf("authorize: %w", err)
	}

	request, err := proof.VerifyAt(verifier, proofBytes, now)
	if err != nil {
		decision.Outcome = DeniedSignature
		if errors.Is(err, proof.ErrStaleProof) {
			decision.Reason = "proof outside clock skew window"
		} else {
			decision.Reason = "signature verification failed"
		}
		return decision, nil
	}
	// Trust the verified payload from here on, not the peeked one.
	decision.IdentityID = request.IdentityID
	decision.Domain = scope.Normalize(request.Domain)

	if !scope.MatchesAny(resolved.Scopes, decision.Domain) {
		decision.Outcome = DeniedScope
		decision.Reason = fmt.Sprintf("domain %s not in scope", decision.Domain)
		return decision, nil
	}

	decision.Outcome = Granted
	return decision, nil
}
