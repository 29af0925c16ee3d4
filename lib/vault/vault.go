// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault wires the stores, the identity registry, the access
// controller, and the audit log into the single service the CLI and
// library callers talk to. Every operation that grants, denies, or
// changes anything is audited; for retrievals the audit entry is
// committed before the session leaves this package, so a grant the
// log does not show never happened.
package vault

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentvault/agentvault/lib/auditlog"
	"github.com/agentvault/agentvault/lib/authorize"
	"github.com/agentvault/agentvault/lib/cipherstore"
	"github.com/agentvault/agentvault/lib/codec"
	"github.com/agentvault/agentvault/lib/identity"
	"github.com/agentvault/agentvault/lib/masterkey"
	"github.com/agentvault/agentvault/lib/secret"
	"github.com/agentvault/agentvault/lib/session"
)

// formatVersion is the on-disk vault format.
const formatVersion = 1

// minPassphraseLength is the floor enforced at initialization.
const minPassphraseLength = 8

var (
	// ErrNotInitialized is returned when the vault file has no
	// header yet.
	ErrNotInitialized = errors.New("vault: not initialized")

	// ErrAlreadyInitialized is returned by Init on a vault that
	// already has a header.
	ErrAlreadyInitialized = errors.New("vault: already initialized")

	// ErrWeakPassphrase is returned by Init for a passphrase shorter
	// than eight characters.
	ErrWeakPassphrase = errors.New("vault: passphrase must be at least 8 characters")
)

// DeniedError is the typed denial returned to library callers from
// GetSession. The Outcome is always one of the denial outcomes, never
// Granted.
type DeniedError struct {
	Outcome authorize.Outcome
	Reason  string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("vault: access denied (%s): %s", e.Outcome, e.Reason)
}

// Config configures a Service.
type Config struct {
	// Path is the vault database file.
	Path string

	// KDFParams override the Argon2id defaults. Zero value means
	// DefaultParams. Only consulted by Init; unlocking always reads
	// the parameters stored in the vault header.
	KDFParams masterkey.Params

	// PoolSize is passed through to the connection pool.
	PoolSize int

	// Logger receives operational messages. Nil means discard.
	// Secrets never appear in log output at any level.
	Logger *slog.Logger
}

// Service is the vault.
type Service struct {
	store      *cipherstore.Store
	sessions   *session.Store
	registry   *identity.Registry
	controller *authorize.Controller
	audit      *auditlog.Log
	logger     *slog.Logger
	kdfParams  masterkey.Params
}

// Open opens (creating if necessary) the vault file and builds the
// service. The vault starts locked; call Init on a fresh file or
// Unlock on an existing one.
func Open(cfg Config) (*Service, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	params := cfg.KDFParams
	if params == (masterkey.Params{}) {
		params = masterkey.DefaultParams()
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	store, err := cipherstore.Open(cipherstore.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	registry := identity.NewRegistry(store)
	return &Service{
		store:      store,
		sessions:   session.NewStore(store),
		registry:   registry,
		controller: authorize.NewController(registry),
		audit:      auditlog.NewLog(store),
		logger:     logger,
		kdfParams:  params,
	}, nil
}

// Close locks the vault and releases the database.
func (s *Service) Close() error {
	return s.store.Close()
}

// Lock discards the in-memory key material. The vault must be
// unlocked again before further use.
func (s *Service) Lock() {
	s.store.Lock()
	s.logger.Info("vault locked")
}

// Initialized reports whether the vault file has a header.
func (s *Service) Initialized(ctx context.Context) (bool, error) {
	_, found, err := s.store.ReadHeader(ctx)
	return found, err
}

// Init derives the master key from a fresh passphrase, writes the
// vault header, and unlocks. The passphrase buffer is only read, not
// consumed; the caller still owns it.
func (s *Service) Init(ctx context.Context, passphrase *secret.Buffer) error {
	_, found, err := s.store.ReadHeader(ctx)
	if err != nil {
		return err
	}
	if found {
		return ErrAlreadyInitialized
	}
	if passphrase.Len() < minPassphraseLength {
		return ErrWeakPassphrase
	}

	salt, err := masterkey.GenerateSalt()
	if err != nil {
		return err
	}
	masterKey, err := masterkey.Derive(passphrase, salt, s.kdfParams)
	if err != nil {
		return err
	}
	defer masterKey.Close()

	verifier, err := masterkey.MakeVerifier(masterKey)
	if err != nil {
		return err
	}
	paramsBlob, err := codec.Marshal(s.kdfParams)
	if err != nil {
		return fmt.Errorf("vault: encoding KDF parameters: %w", err)
	}

	if err := s.store.WriteHeader(ctx, cipherstore.Header{
		FormatVersion: formatVersion,
		Salt:          salt,
		KDFParams:     paramsBlob,
		Verifier:      verifier,
	}); err != nil {
		return err
	}
	if err := s.store.Unlock(masterKey); err != nil {
		return err
	}

	if _, err := s.audit.Append(ctx, &auditlog.Entry{
		Time:      time.Now().UTC(),
		Operation: auditlog.OpInit,
		Outcome:   auditlog.OutcomeGranted,
	}); err != nil {
		return err
	}
	s.logger.Info("vault initialized", "format_version", formatVersion)
	return nil
}

// Unlock derives the master key from the passphrase using the stored
// salt and parameters and checks it against the header verifier.
func (s *Service) Unlock(ctx context.Context, passphrase *secret.Buffer) error {
	header, found, err := s.store.ReadHeader(ctx)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotInitialized
	}
	if header.FormatVersion != formatVersion {
		return fmt.Errorf("vault: unsupported format version %d", header.FormatVersion)
	}

	var params masterkey.Params
	if err := codec.Unmarshal(header.KDFParams, &params); err != nil {
		return fmt.Errorf("vault: decoding KDF parameters: %w", err)
	}
	masterKey, err := masterkey.Derive(passphrase, header.Salt, params)
	if err != nil {
		return err
	}
	defer masterKey.Close()

	if err := masterkey.CheckVerifier(masterKey, header.Verifier); err != nil {
		return err
	}
	if err := s.store.Unlock(masterKey); err != nil {
		return err
	}
	s.logger.Info("vault unlocked")
	return nil
}

// GetSession runs the full retrieval pipeline on a signed access
// proof: authorize, audit, then read. The audit entry for the attempt
// is appended before any session data is returned; if the append
// fails, the grant fails.
func (s *Service) GetSession(ctx context.Context, proofBytes []byte) (*session.View, error) {
	return s.GetSessionAt(ctx, proofBytes, time.Now())
}

// GetSessionAt is GetSession with an explicit time for deterministic
// tests. The time governs both proof freshness and expiry flagging.
func (s *Service) GetSessionAt(ctx context.Context, proofBytes []byte, now time.Time) (*session.View, error) {
	decision, err := s.controller.EvaluateAt(ctx, proofBytes, now)
	if err != nil {
		return nil, err
	}

	entry := &auditlog.Entry{
		Time:       now.UTC(),
		Operation:  auditlog.OpGetSession,
		IdentityID: decision.IdentityID,
		Domain:     decision.Domain,
		Outcome:    decision.Outcome.String(),
		Detail:     decision.Reason,
	}
	if decision.Identity != nil {
		entry.IdentityName = decision.Identity.Name
	}

	if decision.Outcome != authorize.Granted {
		if _, err := s.audit.Append(ctx, entry); err != nil {
			return nil, err
		}
		s.logger.Warn("access denied",
			"identity", decision.IdentityID,
			"domain", decision.Domain,
			"outcome", decision.Outcome.String())
		return nil, &DeniedError{Outcome: decision.Outcome, Reason: decision.Reason}
	}

	view, err := s.sessions.GetAt(ctx, decision.Domain, now)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			entry.Outcome = auditlog.OutcomeDeniedNoSession
			entry.Detail = "no session stored for domain"
			if _, appendErr := s.audit.Append(ctx, entry); appendErr != nil {
				return nil, appendErr
			}
			return nil, err
		}
		// The read failed after authorization; the attempt still gets
		// its audit entry before the error propagates.
		entry.Outcome = auditlog.OutcomeError
		entry.Detail = "session read failed"
		if _, appendErr := s.audit.Append(ctx, entry); appendErr != nil {
			return nil, errors.Join(err, appendErr)
		}
		s.logger.Error("session read failed",
			"identity", decision.IdentityID,
			"domain", decision.Domain,
			"error", err)
		return nil, err
	}

	// The grant is only real once its audit entry is durable.
	if _, err := s.audit.Append(ctx, entry); err != nil {
		return nil, err
	}
	s.logger.Info("session granted",
		"identity", entry.IdentityName,
		"domain", decision.Domain,
		"cookies", len(view.Record.Cookies),
		"expired", view.Expired)
	return view, nil
}

// PutSession stores a captured session for a domain, replacing any
// existing record, and audits the import. Operator-initiated: no
// identity is attached to the audit entry.
func (s *Service) PutSession(ctx context.Context, domain string, cookies map[string]string, capturedAt, expiresAt time.Time) error {
	if err := s.sessions.Put(ctx, domain, cookies, capturedAt, expiresAt); err != nil {
		return err
	}
	_, err := s.audit.Append(ctx, &auditlog.Entry{
		Time:      time.Now().UTC(),
		Operation: auditlog.OpPutSession,
		Domain:    domain,
		Outcome:   auditlog.OutcomeGranted,
		Detail:    fmt.Sprintf("%d cookies", len(cookies)),
	})
	return err
}

// DeleteSession removes a stored session and audits the removal.
func (s *Service) DeleteSession(ctx context.Context, domain string) error {
	if err := s.sessions.Delete(ctx, domain); err != nil {
		return err
	}
	_, err := s.audit.Append(ctx, &auditlog.Entry{
		Time:      time.Now().UTC(),
		Operation: auditlog.OpDeleteSession,
		Domain:    domain,
		Outcome:   auditlog.OutcomeGranted,
	})
	return err
}

// ListSessions returns a view of every stored session, flagged
// against the current time, sorted by domain.
func (s *Service) ListSessions(ctx context.Context) ([]*session.View, error) {
	return s.ListSessionsAt(ctx, time.Now())
}

// ListSessionsAt is ListSessions with an explicit time.
func (s *Service) ListSessionsAt(ctx context.Context, now time.Time) ([]*session.View, error) {
	domains, err := s.sessions.ListDomains(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]*session.View, 0, len(domains))
	for _, domain := range domains {
		view, err := s.sessions.GetAt(ctx, domain, now)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// CreateIdentity registers a new agent identity and returns it along
// with the private key. The key is returned exactly once and is never
// stored in the vault; the caller is responsible for its custody.
func (s *Service) CreateIdentity(ctx context.Context, name string, scopes []string) (*identity.Identity, ed25519.PrivateKey, error) {
	created, privateKey, err := s.registry.Create(ctx, name, scopes)
	if err != nil {
		return nil, nil, err
	}
	_, err = s.audit.Append(ctx, &auditlog.Entry{
		Time:         time.Now().UTC(),
		Operation:    auditlog.OpCreateIdentity,
		IdentityID:   created.ID,
		IdentityName: created.Name,
		Outcome:      auditlog.OutcomeGranted,
		Detail:       fmt.Sprintf("scopes: %v", created.Scopes),
	})
	if err != nil {
		return nil, nil, err
	}
	return created, privateKey, nil
}

// GetIdentity loads an identity by name.
func (s *Service) GetIdentity(ctx context.Context, name string) (*identity.Identity, error) {
	return s.registry.GetByName(ctx, name)
}

// ListIdentities returns all identities sorted by name.
func (s *Service) ListIdentities(ctx context.Context) ([]*identity.Identity, error) {
	return s.registry.List(ctx)
}

// UpdateScopes replaces an identity's scope set and audits the
// privilege change with the before and after sets.
func (s *Service) UpdateScopes(ctx context.Context, name string, scopes []string) (*identity.Identity, error) {
	before, err := s.registry.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	updated, err := s.registry.UpdateScopes(ctx, name, scopes)
	if err != nil {
		return nil, err
	}
	_, err = s.audit.Append(ctx, &auditlog.Entry{
		Time:         time.Now().UTC(),
		Operation:    auditlog.OpUpdateScopes,
		IdentityID:   updated.ID,
		IdentityName: updated.Name,
		Outcome:      auditlog.OutcomeGranted,
		Detail:       fmt.Sprintf("scopes: %v -> %v", before.Scopes, updated.Scopes),
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteIdentity revokes an identity. Proofs signed with its key are
// denied as unknown-identity from this point on.
func (s *Service) DeleteIdentity(ctx context.Context, name string) error {
	deleted, err := s.registry.Delete(ctx, name)
	if err != nil {
		return err
	}
	_, err = s.audit.Append(ctx, &auditlog.Entry{
		Time:         time.Now().UTC(),
		Operation:    auditlog.OpDeleteIdentity,
		IdentityID:   deleted.ID,
		IdentityName: deleted.Name,
		Outcome:      auditlog.OutcomeGranted,
	})
	return err
}

// Audit returns audit entries matching the filter, in sequence order.
func (s *Service) Audit(ctx context.Context, filter auditlog.Filter) ([]*auditlog.Entry, error) {
	return s.audit.Query(ctx, filter)
}

// VerifyAuditChain checks the audit log's hash chain end to end.
func (s *Service) VerifyAuditChain(ctx context.Context) error {
	return s.audit.VerifyChain(ctx)
}

// AuditLength returns the number of audit entries.
func (s *Service) AuditLength(ctx context.Context) (int64, error) {
	return s.audit.Length(ctx)
}

// RecordBackup audits a completed backup export.
func (s *Service) RecordBackup(ctx context.Context, detail string) error {
	_, err := s.audit.Append(ctx, &auditlog.Entry{
		Time:      time.Now().UTC(),
		Operation: auditlog.OpBackupExport,
		Outcome:   auditlog.OutcomeGranted,
		Detail:    detail,
	})
	return err
}

// Store exposes the underlying cipher store for the backup exporter.
func (s *Service) Store() *cipherstore.Store {
	return s.store
}
