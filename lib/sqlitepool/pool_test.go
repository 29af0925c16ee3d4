// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("Open() with empty path succeeded")
	}
}

func TestPool_TakePut(t *testing.T) {
	pool, err := Open(Config{
		Path: filepath.Join(t.TempDir(), "vault.db"),
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteTransient(conn, "CREATE TABLE IF NOT EXISTS t (v INTEGER)", nil)
		},
	})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	conn, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take() error: %v", err)
	}

	if err := sqlitex.ExecuteTransient(conn, "INSERT INTO t (v) VALUES (42)", nil); err != nil {
		t.Fatalf("insert error: %v", err)
	}
	pool.Put(conn)

	conn, err = pool.Take(ctx)
	if err != nil {
		t.Fatalf("second Take() error: %v", err)
	}
	defer pool.Put(conn)

	var got int64
	err = sqlitex.ExecuteTransient(conn, "SELECT v FROM t", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			got = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("select error: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestPool_OnConnectError(t *testing.T) {
	pool, err := Open(Config{
		Path: filepath.Join(t.TempDir(), "vault.db"),
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteTransient(conn, "THIS IS NOT SQL", nil)
		},
	})
	if err != nil {
		// Pool construction may surface the error immediately.
		return
	}
	defer pool.Close()

	if _, err := pool.Take(context.Background()); err == nil {
		t.Fatal("Take() succeeded despite failing OnConnect")
	}
}
