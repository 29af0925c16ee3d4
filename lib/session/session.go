// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package session stores captured browser sessions: one record per
// domain, holding the cookie name→value mapping and capture/expiry
// timestamps. All persistence goes through the cipher store — this
// package holds no cryptography, only the domain-keyed mapping logic
// and expiry flagging at read time.
//
// Import semantics are whole-record replacement: a new import for a
// domain fully replaces the prior record, never merges with it. An
// expired record is still retrievable — the caller sees the Expired
// flag and decides what to do; the vault does not silently drop data.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentvault/agentvault/lib/cipherstore"
	"github.com/agentvault/agentvault/lib/codec"
	"github.com/agentvault/agentvault/lib/scope"
)

var (
	// ErrEmptyCookieSet is returned by Put for a cookie mapping with
	// zero entries.
	ErrEmptyCookieSet = errors.New("session: empty cookie set")

	// ErrNotFound is returned by Get when no record exists for the
	// domain.
	ErrNotFound = errors.New("session: not found")
)

// Record is one captured session.
type Record struct {
	// Domain is the normalized domain the session belongs to.
	Domain string `cbor:"1,keyasint" json:"domain"`

	// Cookies maps cookie name to value. Names are unique by
	// construction of the map type.
	Cookies map[string]string `cbor:"2,keyasint" json:"cookies"`

	// CapturedAt is when the exporter captured the session.
	CapturedAt time.Time `cbor:"3,keyasint" json:"captured_at"`

	// ExpiresAt is the optional expiry. Zero means no known expiry.
	ExpiresAt time.Time `cbor:"4,keyasint,omitempty" json:"expires_at,omitempty"`
}

// Expired reports whether the record's expiry has passed at the given
// instant. A record without an expiry never expires.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(now)
}

// View is a retrieval result: the record plus its expiry flag frozen
// at read time.
type View struct {
	Record  *Record
	Expired bool
}

// Store is the domain-keyed session store.
type Store struct {
	store *cipherstore.Store
}

// NewStore returns a session store backed by the given cipher store.
func NewStore(store *cipherstore.Store) *Store {
	return &Store{store: store}
}

// Put validates and stores a session record for a domain, replacing
// any existing record. The domain is untrusted exporter input and is
// re-validated here regardless of what the caller already checked.
func (s *Store) Put(ctx context.Context, domain string, cookies map[string]string, capturedAt, expiresAt time.Time) error {
	if err := scope.Validate(domain); err != nil {
		return err
	}
	if len(cookies) == 0 {
		return fmt.Errorf("%w: domain %s", ErrEmptyCookieSet, scope.Normalize(domain))
	}

	record := &Record{
		Domain:     scope.Normalize(domain),
		Cookies:    cookies,
		CapturedAt: capturedAt.UTC(),
	}
	if !expiresAt.IsZero() {
		record.ExpiresAt = expiresAt.UTC()
	}

	plaintext, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("session: encoding record for %s: %w", record.Domain, err)
	}
	return s.store.Put(ctx, cipherstore.NamespaceSessions, record.Domain, plaintext)
}

// Get loads the session record for a domain and flags expiry against
// the current time.
func (s *Store) Get(ctx context.Context, domain string) (*View, error) {
	return s.GetAt(ctx, domain, time.Now())
}

// GetAt is Get with an explicit time for deterministic tests.
func (s *Store) GetAt(ctx context.Context, domain string, now time.Time) (*View, error) {
	normalized := scope.Normalize(domain)

	plaintext, err := s.store.Get(ctx, cipherstore.NamespaceSessions, normalized)
	if err != nil {
		if errors.Is(err, cipherstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, normalized)
		}
		return nil, err
	}

	var record Record
	if err := codec.Unmarshal(plaintext, &record); err != nil {
		return nil, fmt.Errorf("session: decoding record for %s: %w", normalized, err)
	}

	return &View{
		Record:  &record,
		Expired: record.Expired(now),
	}, nil
}

// ListDomains returns every domain with a stored session, sorted.
func (s *Store) ListDomains(ctx context.Context) ([]string, error) {
	return s.store.List(ctx, cipherstore.NamespaceSessions)
}

// Delete removes the session record for a domain.
func (s *Store) Delete(ctx context.Context, domain string) error {
	normalized := scope.Normalize(domain)
	err := s.store.Delete(ctx, cipherstore.NamespaceSessions, normalized)
	if errors.Is(err, cipherstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, normalized)
	}
	return err
}
