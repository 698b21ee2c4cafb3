package directory

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"classhub/internal/config"
	"classhub/internal/db"
)

func newSQLiteProvisioner(t *testing.T, cols Columns) (*SQLProvisioner, *sql.DB) {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "directory.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })
	if _, err := sqdb.Exec(`CREATE TABLE accounts (username TEXT PRIMARY KEY, password_hash TEXT NOT NULL, active INTEGER NOT NULL DEFAULT 1)`); err != nil {
		t.Fatalf("create accounts: %v", err)
	}
	p, err := NewSQLProvisioner(sqdb, false, cols)
	if err != nil {
		t.Fatalf("new provisioner: %v", err)
	}
	return p, sqdb
}

func account(t *testing.T, sqdb *sql.DB, username string) (string, int, bool) {
	t.Helper()
	var hash string
	var active int
	err := sqdb.QueryRow(`SELECT password_hash, active FROM accounts WHERE username=?`, username).Scan(&hash, &active)
	if err == sql.ErrNoRows {
		return "", 0, false
	}
	if err != nil {
		t.Fatalf("read account: %v", err)
	}
	return hash, active, true
}

func TestSQLProvisionerLifecycle(t *testing.T) {
	p, sqdb := newSQLiteProvisioner(t, Columns{Table: "accounts", Username: "username", Password: "password_hash", Active: "active"})
	ctx := context.Background()

	if err := p.Upsert(ctx, "alice", "h1", true); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := p.Upsert(ctx, "alice", "h2", true); err != nil {
		t.Fatalf("update: %v", err)
	}
	if hash, active, ok := account(t, sqdb, "alice"); !ok || hash != "h2" || active != 1 {
		t.Fatalf("unexpected account: %q %d %v", hash, active, ok)
	}

	if err := p.SetActive(ctx, "alice", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, active, _ := account(t, sqdb, "alice"); active != 0 {
		t.Fatalf("expected inactive account")
	}

	if err := p.Remove(ctx, "alice"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, _, ok := account(t, sqdb, "alice"); ok {
		t.Fatalf("expected account to be removed")
	}
}

func TestSQLProvisionerWithoutActiveColumn(t *testing.T) {
	p, sqdb := newSQLiteProvisioner(t, Columns{Table: "accounts", Username: "username", Password: "password_hash"})
	ctx := context.Background()
	if err := p.Upsert(ctx, "bob", "h", false); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := p.SetActive(ctx, "bob", false); err != nil {
		t.Fatalf("set active should be a no-op: %v", err)
	}
	if _, active, ok := account(t, sqdb, "bob"); !ok || active != 1 {
		t.Fatalf("expected column default to stay, got active=%d ok=%v", active, ok)
	}
}

func TestColumnsRejectInjection(t *testing.T) {
	_, err := NewSQLProvisioner(nil, false, Columns{Table: "accounts; DROP TABLE x", Username: "u", Password: "p"})
	if err == nil {
		t.Fatalf("expected invalid identifier error")
	}
}

func TestPlaceholders(t *testing.T) {
	pg := &SQLProvisioner{dollarPH: true}
	my := &SQLProvisioner{}
	if pg.ph(2) != "$2" || my.ph(2) != "?" {
		t.Fatalf("unexpected placeholders %q %q", pg.ph(2), my.ph(2))
	}
}

func TestNewWithoutDSNIsNoop(t *testing.T) {
	p, err := New(config.Config{DirectoryDBDriver: "mysql"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := p.(NoopProvisioner); !ok {
		t.Fatalf("expected NoopProvisioner without DSN, got %T", p)
	}
}
