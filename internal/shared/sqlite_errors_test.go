package shared

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func TestSQLiteErrorMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		busy     bool
		locked   bool
		conflict bool
	}{
		{err: nil},
		{err: errors.New("no such table: wallets")},
		{err: errors.New("database is locked (5) (SQLITE_BUSY)"), busy: true, locked: true, conflict: true},
		{err: fmt.Errorf("commit: %w", errors.New("SQLITE_LOCKED")), locked: true, conflict: true},
	}
	for _, tt := range tests {
		if got := IsSQLiteBusyError(tt.err); got != tt.busy {
			t.Errorf("IsSQLiteBusyError(%v) = %v, want %v", tt.err, got, tt.busy)
		}
		if got := IsSQLiteLockedError(tt.err); got != tt.locked {
			t.Errorf("IsSQLiteLockedError(%v) = %v, want %v", tt.err, got, tt.locked)
		}
		if got := IsSQLiteConflictError(tt.err); got != tt.conflict {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tt.err, got, tt.conflict)
		}
	}
}

func TestSQLiteDriverBusyError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "busy.db")
	dsn := path + "?_pragma=busy_timeout(0)&_pragma=journal_mode(WAL)"
	holder, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer holder.Close()
	other, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer other.Close()

	ctx := context.Background()
	if _, err := holder.ExecContext(ctx, `CREATE TABLE t (v INTEGER)`); err != nil {
		t.Fatalf("create: %v", err)
	}

	conn, err := holder.Conn(ctx)
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _, _ = conn.ExecContext(ctx, `ROLLBACK`) }()

	_, err = other.ExecContext(ctx, `INSERT INTO t (v) VALUES (1)`)
	if err == nil {
		t.Fatal("expected write to fail while another connection holds the lock")
	}
	if !IsSQLiteConflictError(err) {
		t.Fatalf("expected conflict classification, got %v", err)
	}
}
