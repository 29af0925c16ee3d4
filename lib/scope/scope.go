// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package scope implements domain validation and the scope-matching
// rule that binds an agent identity to the set of domains it may
// retrieve sessions for.
//
// The matching rule is suffix-based with a label boundary, the same
// domain-match relation cookies use (RFC 6265 §5.1.3): a requested
// domain D matches a scope S when D equals S, or when D ends with
// "." + S. So scope "github.com" authorizes "github.com" and
// "api.github.com" but never "notgithub.com". Matching is
// case-insensitive; both sides are canonicalized before comparison.
package scope

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDomain is returned for syntactically malformed domain
// names: empty strings, embedded schemes or paths, bad labels.
var ErrInvalidDomain = errors.New("invalid domain")

// maxDomainLength is the DNS limit on a full domain name.
const maxDomainLength = 253

// maxLabelLength is the DNS limit on a single label.
const maxLabelLength = 63

// Normalize canonicalizes a domain for storage and comparison:
// lowercase, no trailing dot, no leading "." (cookie-export domains
// often carry one).
func Normalize(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimPrefix(domain, ".")
	domain = strings.TrimSuffix(domain, ".")
	return domain
}

// Validate checks that domain is a well-formed DNS name: at least two
// labels, each 1-63 characters of letters, digits, and hyphens, with
// no leading or trailing hyphen, total length at most 253. A scheme,
// port, path, or wildcard makes the domain invalid — callers must pass
// bare host names.
func Validate(domain string) error {
	normalized := Normalize(domain)

	if normalized == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDomain)
	}
	if len(normalized) > maxDomainLength {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidDomain, normalized, maxDomainLength)
	}
	if strings.ContainsAny(normalized, "/:?#@ ") {
		return fmt.Errorf("%w: %q must be a bare host name", ErrInvalidDomain, normalized)
	}

	labels := strings.Split(normalized, ".")
	if len(labels) < 2 {
		return fmt.Errorf("%w: %q needs at least two labels", ErrInvalidDomain, normalized)
	}
	for _, label := range labels {
		if err := validateLabel(label); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidDomain, normalized, err)
		}
	}
	return nil
}

func validateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("empty label")
	}
	if len(label) > maxLabelLength {
		return fmt.Errorf("label %q exceeds %d characters", label, maxLabelLength)
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return fmt.Errorf("label %q has a leading or trailing hyphen", label)
	}
	for _, character := range label {
		switch {
		case character >= 'a' && character <= 'z':
		case character >= '0' && character <= '9':
		case character == '-':
		default:
			return fmt.Errorf("label %q contains %q", label, character)
		}
	}
	return nil
}

// Matches reports whether the requested domain is covered by a single
// scope entry. Both sides are normalized first. The relation is:
//
//	Matches("github.com", "github.com")      == true   (exact)
//	Matches("github.com", "api.github.com")  == true   (sub-domain)
//	Matches("github.com", "notgithub.com")   == false  (label boundary)
//	Matches("api.github.com", "github.com")  == false  (scope is narrower)
func Matches(scopeEntry, domain string) bool {
	scopeEntry = Normalize(scopeEntry)
	domain = Normalize(domain)
	if scopeEntry == "" || domain == "" {
		return false
	}
	if domain == scopeEntry {
		return true
	}
	return strings.HasSuffix(domain, "."+scopeEntry)
}

// MatchesAny reports whether the requested domain is covered by any
// entry in the scope list. Returns false for an empty list — an
// identity with no scopes can retrieve nothing.
func MatchesAny(scopes []string, domain string) bool {
	for _, entry := range scopes {
		if Matches(entry, domain) {
			return true
		}
	}
	return false
}

// ValidateAll validates every entry of a scope list and returns the
// normalized entries. Duplicates are collapsed, order preserved.
func ValidateAll(scopes []string) ([]string, error) {
	seen := make(map[string]struct{}, len(scopes))
	normalized := make([]string, 0, len(scopes))
	for _, entry := range scopes {
		if err := Validate(entry); err != nil {
			return nil, err
		}
		canonical := Normalize(entry)
		if _, duplicate := seen[canonical]; duplicate {
			continue
		}
		seen[canonical] = struct{}{}
		normalized = append(normalized, canonical)
	}
	return normalized, nil
}
