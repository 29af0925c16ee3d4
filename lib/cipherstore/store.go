// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package cipherstore persists the vault's encrypted records in a
// single SQLite file. Every record is sealed with XChaCha20-Poly1305
// under a namespace subkey derived from the master key, with a fresh
// random nonce per write and AAD binding the ciphertext to its
// namespace and identifier. The file's only cleartext is the header:
// format version, key-derivation salt and parameters, and the
// key-check verifier.
//
// Two record shapes exist. Keyed records (identities, sessions) are
// overwrite-by-identifier. Audit records are append-only with a
// monotonic sequence assigned inside the committing transaction —
// nothing in normal operation updates or deletes them.
//
// The store opens in a locked state: header access works, record
// access fails with ErrLocked until Unlock provides the master key.
package cipherstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/agentvault/agentvault/lib/secret"
	"github.com/agentvault/agentvault/lib/sqlitepool"
)

// Namespace identifies one of the vault's encrypted record tables.
type Namespace string

const (
	// NamespaceIdentities holds agent identity records (public keys
	// and scopes — never private keys).
	NamespaceIdentities Namespace = "identities"

	// NamespaceSessions holds per-domain session records.
	NamespaceSessions Namespace = "sessions"

	// namespaceAudit holds the append-only audit sequence. Not
	// exported: audit access goes through Append/ScanAudit, never
	// the keyed-record API.
	namespaceAudit Namespace = "audit"
)

var (
	// ErrNotFound is returned by Get when no record exists for the
	// identifier.
	ErrNotFound = errors.New("cipherstore: record not found")

	// ErrDecryptionFailed is returned when a record fails AEAD
	// authentication: wrong key, corrupted or tampered data. Fatal to
	// the operation; retrying with the same key cannot succeed.
	ErrDecryptionFailed = errors.New("cipherstore: decryption failed")

	// ErrStoreUnwritable is returned when a write cannot be durably
	// committed. The enclosing operation must fail — in particular, a
	// grant whose audit entry hits this error is never returned.
	ErrStoreUnwritable = errors.New("cipherstore: store unwritable")

	// ErrLocked is returned for record operations before Unlock.
	ErrLocked = errors.New("cipherstore: store is locked")
)

// Header is the cleartext portion of the vault file: everything needed
// to re-derive the master key, and nothing protected by it.
type Header struct {
	// FormatVersion is the vault file format version.
	FormatVersion int

	// Salt is the Argon2id derivation salt.
	Salt []byte

	// KDFParams is the CBOR-encoded Argon2id parameter block.
	KDFParams []byte

	// Verifier is the sealed key-check marker.
	Verifier []byte
}

// Store is the encrypted record store. Safe for concurrent use; SQLite
// serializes writers and the WAL gives readers a consistent snapshot,
// so a reader sees the fully-old or fully-new record, never a torn one.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger

	mu      sync.RWMutex
	subkeys map[Namespace]*secret.Buffer // nil until Unlock
}

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the vault database file.
	Path string

	// PoolSize is passed through to the connection pool.
	PoolSize int

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger
}

// Open opens (creating if necessary) the vault file and its schema.
// The store starts locked. The caller must Close it when done.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cipherstore: %w", err)
	}

	return &Store{
		pool:   pool,
		logger: logger,
	}, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS vault_meta (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS records (
		namespace  TEXT NOT NULL,
		id         TEXT NOT NULL,
		blob       BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (namespace, id)
	);
	CREATE TABLE IF NOT EXISTS audit_records (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		blob       BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);
`

// Unlock derives the namespace subkeys from the master key and enables
// record operations. The masterKey is borrowed and NOT closed — the
// vault layer owns its lifetime. Unlock does not validate the key;
// callers check the header verifier first.
func (s *Store) Unlock(masterKey *secret.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subkeys != nil {
		return fmt.Errorf("cipherstore: already unlocked")
	}

	subkeys := make(map[Namespace]*secret.Buffer, 3)
	for _, namespace := range []Namespace{NamespaceIdentities, NamespaceSessions, namespaceAudit} {
		subkey, err := deriveSubkey(masterKey, namespace)
		if err != nil {
			for _, opened := range subkeys {
				opened.Close()
			}
			return err
		}
		subkeys[namespace] = subkey
	}

	s.subkeys = subkeys
	return nil
}

// Lock destroys the namespace subkeys. Record operations fail with
// ErrLocked afterwards. Idempotent.
func (s *Store) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, subkey := range s.subkeys {
		subkey.Close()
	}
	s.subkeys = nil
}

// Close locks the store and closes the connection pool.
func (s *Store) Close() error {
	s.Lock()
	return s.pool.Close()
}

// subkey returns the namespace subkey, or ErrLocked.
func (s *Store) subkey(namespace Namespace) (*secret.Buffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.subkeys == nil {
		return nil, ErrLocked
	}
	subkey, ok := s.subkeys[namespace]
	if !ok {
		return nil, fmt.Errorf("cipherstore: unknown namespace %q", namespace)
	}
	return subkey, nil
}

// ReadHeader loads the cleartext header. Returns false when the vault
// has never been initialized (no header rows).
func (s *Store) ReadHeader(ctx context.Context) (Header, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Header{}, false, err
	}
	defer s.pool.Put(conn)

	values := make(map[string][]byte)
	err = sqlitex.Execute(conn, "SELECT key, value FROM vault_meta", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value := make([]byte, stmt.ColumnLen(1))
			stmt.ColumnBytes(1, value)
			values[stmt.ColumnText(0)] = value
			return nil
		},
	})
	if err != nil {
		return Header{}, false, fmt.Errorf("cipherstore: reading header: %w", err)
	}
	if len(values) == 0 {
		return Header{}, false, nil
	}

	header := Header{
		Salt:      values["kdf_salt"],
		KDFParams: values["kdf_params"],
		Verifier:  values["key_verifier"],
	}
	if version := values["format_version"]; len(version) == 1 {
		header.FormatVersion = int(version[0])
	}
	if header.FormatVersion == 0 || header.Salt == nil || header.KDFParams == nil || header.Verifier == nil {
		return Header{}, false, fmt.Errorf("cipherstore: header is incomplete")
	}
	return header, true, nil
}

// WriteHeader stores the cleartext header. Called once, at vault
// initialization; rewriting an existing header is refused.
func (s *Store) WriteHeader(ctx context.Context, header Header) (err error) {
	conn, takeErr := s.pool.Take(ctx)
	if takeErr != nil {
		return takeErr
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("%w: beginning header transaction: %v", ErrStoreUnwritable, err)
	}
	defer endTransaction(&err)

	var existing int64
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM vault_meta", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			existing = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		err = fmt.Errorf("cipherstore: checking header: %w", err)
		return err
	}
	if existing > 0 {
		err = fmt.Errorf("cipherstore: header already written")
		return err
	}

	rows := map[string][]byte{
		"format_version": {byte(header.FormatVersion)},
		"kdf_salt":       header.Salt,
		"kdf_params":     header.KDFParams,
		"key_verifier":   header.Verifier,
	}
	for key, value := range rows {
		err = sqlitex.Execute(conn, "INSERT INTO vault_meta (key, value) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{key, value},
		})
		if err != nil {
			err = fmt.Errorf("%w: writing header row %s: %v", ErrStoreUnwritable, key, err)
			return err
		}
	}
	return nil
}

// Put seals plaintext and stores it under (namespace, id), replacing
// any existing record. The plaintext is not retained.
func (s *Store) Put(ctx context.Context, namespace Namespace, id string, plaintext []byte) error {
	subkey, err := s.subkey(namespace)
	if err != nil {
		return err
	}

	blob, err := seal(subkey, buildAAD(namespace, id), plaintext)
	if err != nil {
		return err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT OR REPLACE INTO records (namespace, id, blob, updated_at) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{string(namespace), id, blob, time.Now().UnixNano()},
		})
	if err != nil {
		return fmt.Errorf("%w: put %s/%s: %v", ErrStoreUnwritable, namespace, id, err)
	}

	s.logger.Debug("record written", "namespace", string(namespace), "id", id, "bytes", len(blob))
	return nil
}

// Get loads and opens the record at (namespace, id). Returns
// ErrNotFound if absent, ErrDecryptionFailed if authentication fails.
func (s *Store) Get(ctx context.Context, namespace Namespace, id string) ([]byte, error) {
	subkey, err := s.subkey(namespace)
	if err != nil {
		return nil, err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var blob []byte
	err = sqlitex.Execute(conn,
		"SELECT blob FROM records WHERE namespace = ? AND id = ?",
		&sqlitex.ExecOptions{
			Args: []any{string(namespace), id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				blob = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, blob)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("cipherstore: get %s/%s: %w", namespace, id, err)
	}
	if blob == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, id)
	}

	return open(subkey, buildAAD(namespace, id), blob)
}

// List returns the identifiers in a namespace, ordered
// lexicographically. Identifiers are stored in cleartext deliberately:
// domain names and identity ids are the lookup keys, and hiding them
// would force a full-table decrypt on every read. Cookie values and
// key material are what the encryption protects.
func (s *Store) List(ctx context.Context, namespace Namespace) ([]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var ids []string
	err = sqlitex.Execute(conn,
		"SELECT id FROM records WHERE namespace = ? ORDER BY id",
		&sqlitex.ExecOptions{
			Args: []any{string(namespace)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ids = append(ids, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("cipherstore: list %s: %w", namespace, err)
	}
	return ids, nil
}

// Delete removes the record at (namespace, id). Returns ErrNotFound if
// no record existed.
func (s *Store) Delete(ctx context.Context, namespace Namespace, id string) error {
	if _, err := s.subkey(namespace); err != nil {
		return err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM records WHERE namespace = ? AND id = ?",
		&sqlitex.ExecOptions{
			Args: []any{string(namespace), id},
		})
	if err != nil {
		return fmt.Errorf("%w: delete %s/%s: %v", ErrStoreUnwritable, namespace, id, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, id)
	}
	return nil
}

// Append seals an audit entry and commits it at the next sequence
// number. The build callback receives the decrypted predecessor entry
// (nil when the log is empty) and returns the plaintext to seal; it
// runs inside the same IMMEDIATE transaction that assigns the
// sequence and inserts the row, so concurrent appenders — including
// other processes holding their own handle on the vault file —
// serialize, the sequence has no gaps, and chained entries always see
// the true predecessor. The commit is synchronous=FULL — when Append
// returns nil, the entry is on stable storage.
func (s *Store) Append(ctx context.Context, build func(prevPlaintext []byte) ([]byte, error)) (sequence int64, err error) {
	subkey, err := s.subkey(namespaceAudit)
	if err != nil {
		return 0, err
	}

	conn, takeErr := s.pool.Take(ctx)
	if takeErr != nil {
		return 0, takeErr
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("%w: beginning audit transaction: %v", ErrStoreUnwritable, err)
	}
	defer endTransaction(&err)

	sequence = 1
	err = sqlitex.Execute(conn, "SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_records", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			sequence = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		err = fmt.Errorf("%w: reading audit sequence: %v", ErrStoreUnwritable, err)
		return 0, err
	}

	var prevPlaintext []byte
	if sequence > 1 {
		var prevBlob []byte
		err = sqlitex.Execute(conn, "SELECT blob FROM audit_records WHERE seq = ?", &sqlitex.ExecOptions{
			Args: []any{sequence - 1},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				prevBlob = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, prevBlob)
				return nil
			},
		})
		if err != nil {
			err = fmt.Errorf("%w: reading audit tail: %v", ErrStoreUnwritable, err)
			return 0, err
		}
		prevPlaintext, err = open(subkey, sequenceAAD(sequence-1), prevBlob)
		if err != nil {
			err = fmt.Errorf("audit entry %d: %w", sequence-1, err)
			return 0, err
		}
	}

	plaintext, buildErr := build(prevPlaintext)
	if buildErr != nil {
		err = buildErr
		return 0, err
	}

	blob, sealErr := seal(subkey, sequenceAAD(sequence), plaintext)
	if sealErr != nil {
		err = sealErr
		return 0, err
	}

	err = sqlitex.Execute(conn,
		"INSERT INTO audit_records (seq, blob, created_at) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{sequence, blob, time.Now().UnixNano()},
		})
	if err != nil {
		err = fmt.Errorf("%w: appending audit entry: %v", ErrStoreUnwritable, err)
		return 0, err
	}

	return sequence, nil
}

// ScanAudit streams decrypted audit entries in ascending sequence
// order, invoking fn for each. fn returning an error stops the scan
// and propagates the error. Re-scanning yields the same entries until
// new ones are appended.
func (s *Store) ScanAudit(ctx context.Context, fn func(sequence int64, plaintext []byte) error) error {
	subkey, err := s.subkey(namespaceAudit)
	if err != nil {
		return err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn,
		"SELECT seq, blob FROM audit_records ORDER BY seq ASC",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sequence := stmt.ColumnInt64(0)
				blob := make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, blob)

				plaintext, err := open(subkey, sequenceAAD(sequence), blob)
				if err != nil {
					return fmt.Errorf("audit entry %d: %w", sequence, err)
				}
				return fn(sequence, plaintext)
			},
		})
}

// AuditLength returns the number of audit entries.
func (s *Store) AuditLength(ctx context.Context) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var count int64
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM audit_records", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("cipherstore: audit length: %w", err)
	}
	return count, nil
}

// TamperAudit flips one byte of a stored audit blob. Test hook for
// verifying that corruption surfaces as ErrDecryptionFailed;
// compiled into the package because the SQLite handle is private.
func (s *Store) TamperAudit(ctx context.Context, sequence int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	var blob []byte
	err = sqlitex.Execute(conn, "SELECT blob FROM audit_records WHERE seq = ?", &sqlitex.ExecOptions{
		Args: []any{sequence},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			blob = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, blob)
			return nil
		},
	})
	if err != nil {
		return err
	}
	if blob == nil {
		return fmt.Errorf("%w: audit/%d", ErrNotFound, sequence)
	}

	blob[len(blob)-1] ^= 0x01
	return sqlitex.Execute(conn, "UPDATE audit_records SET blob = ? WHERE seq = ?", &sqlitex.ExecOptions{
		Args: []any{blob, sequence},
	})
}

// TamperRecord flips one byte of a stored keyed record. Test hook, as
// with TamperAudit.
func (s *Store) TamperRecord(ctx context.Context, namespace Namespace, id string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	var blob []byte
	err = sqlitex.Execute(conn, "SELECT blob FROM records WHERE namespace = ? AND id = ?", &sqlitex.ExecOptions{
		Args: []any{string(namespace), id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			blob = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, blob)
			return nil
		},
	})
	if err != nil {
		return err
	}
	if blob == nil {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, id)
	}

	blob[len(blob)-1] ^= 0x01
	return sqlitex.Execute(conn, "UPDATE records SET blob = ? WHERE namespace = ? AND id = ?", &sqlitex.ExecOptions{
		Args: []any{blob, string(namespace), id},
	})
}
