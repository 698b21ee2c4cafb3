package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"classhub/internal/models"
	"classhub/internal/store"
)

func TestApplyMigrationFileAddsCompatibilityColumnsForLegacySchema(t *testing.T) {
	sqdb, err := OpenSQLite(filepath.Join(t.TempDir(), "legacy.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })

	legacySchema := `
CREATE TABLE users (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  username TEXT UNIQUE,
  display_name TEXT,
  password TEXT,
  level INTEGER DEFAULT 1,
  bio TEXT,
  email TEXT,
  registration_date TEXT
);
CREATE TABLE registration_requests (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  username TEXT UNIQUE,
  display_name TEXT,
  password TEXT,
  phone TEXT,
  email TEXT,
  created_at TEXT,
  status TEXT DEFAULT 'pending',
  reviewed_by TEXT,
  reviewed_at TEXT
);
CREATE TABLE system_settings (
  setting_name TEXT UNIQUE,
  setting_value TEXT
);
CREATE TABLE articles (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  title TEXT,
  content TEXT,
  author_id TEXT,
  author_name TEXT,
  created_at TEXT,
  updated_at TEXT,
  status TEXT DEFAULT 'draft'
);
`
	if _, err := sqdb.Exec(legacySchema); err != nil {
		t.Fatalf("create legacy schema: %v", err)
	}
	if _, err := sqdb.Exec(`INSERT INTO users(username,display_name,password,level) VALUES('admin',NULL,'admin123',6)`); err != nil {
		t.Fatalf("insert legacy user: %v", err)
	}

	if err := ApplyMigrationFile(sqdb, filepath.Join("..", "..", "migrations", InitMigration)); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	// A second run must be a no-op.
	if err := ApplyMigrationFile(sqdb, filepath.Join("..", "..", "migrations", InitMigration)); err != nil {
		t.Fatalf("re-apply migration: %v", err)
	}

	for _, col := range []string{"password_hash", "phone", "is_banned", "last_login", "created_at", "is_online"} {
		if !hasColumn(t, sqdb, "users", col) {
			t.Fatalf("expected users.%s to exist after migration", col)
		}
	}
	for _, col := range []string{"html_path", "md_path"} {
		if !hasColumn(t, sqdb, "articles", col) {
			t.Fatalf("expected articles.%s to exist after migration", col)
		}
	}
	if !hasColumn(t, sqdb, "access_logs", "location") {
		t.Fatalf("expected access_logs table to be created")
	}

	st := store.New(sqdb)
	u, err := st.GetUserByUsername(context.Background(), "admin")
	if err != nil {
		t.Fatalf("GetUserByUsername should work after compatibility migration, got: %v", err)
	}
	if u.ID != "1" || u.Level != 6 || u.DisplayName != "" || u.IsBanned {
		t.Fatalf("unexpected legacy user: %+v", u)
	}
	if v, ok, err := st.GetSetting(context.Background(), store.SettingRegistrationStatus); err != nil || !ok || v != "open" {
		t.Fatalf("expected seeded registration_status, got %q ok=%v err=%v", v, ok, err)
	}
}

func hasColumn(t *testing.T, sqdb *sql.DB, tableName, colName string) bool {
	t.Helper()
	rows, err := sqdb.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		t.Fatalf("table_info %s: %v", tableName, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			t.Fatalf("scan table_info %s: %v", tableName, err)
		}
		if name == colName {
			return true
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate table_info %s: %v", tableName, err)
	}
	return false
}

func TestUpgradeLegacyPasswordsHashesPlaintext(t *testing.T) {
	sqdb, err := OpenSQLite(filepath.Join(t.TempDir(), "legacy.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })
	if _, err := sqdb.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, username TEXT UNIQUE, password TEXT, level INTEGER DEFAULT 1)`); err != nil {
		t.Fatalf("create legacy users: %v", err)
	}
	if _, err := sqdb.Exec(`INSERT INTO users(username,password,level) VALUES('admin','admin123',6)`); err != nil {
		t.Fatalf("insert legacy user: %v", err)
	}
	if err := ApplyMigrationFile(sqdb, filepath.Join("..", "..", "migrations", InitMigration)); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	st := store.New(sqdb)
	n, err := st.UpgradeLegacyPasswords(context.Background(), func(pw string) (string, error) { return "hashed:" + pw, nil })
	if err != nil || n != 1 {
		t.Fatalf("expected 1 upgraded row, got %d err=%v", n, err)
	}
	var hash string
	var plain sql.NullString
	if err := sqdb.QueryRow(`SELECT password_hash,password FROM users WHERE username='admin'`).Scan(&hash, &plain); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if hash != "hashed:admin123" || plain.Valid {
		t.Fatalf("expected hashed password and cleared plaintext, got %q %+v", hash, plain)
	}
	if n, err := st.UpgradeLegacyPasswords(context.Background(), func(pw string) (string, error) { return pw, nil }); err != nil || n != 0 {
		t.Fatalf("second upgrade should be a no-op, got %d err=%v", n, err)
	}
}

func TestApplyMigrationFileRebuildsTextIDUsers(t *testing.T) {
	sqdb, err := OpenSQLite(filepath.Join(t.TempDir(), "legacy.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })

	if _, err := sqdb.Exec(`
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT UNIQUE,
    display_name TEXT,
    password TEXT,
    level INTEGER,
    phone TEXT,
    email TEXT,
    is_banned INTEGER DEFAULT 0,
    last_login TEXT,
    created_at TEXT,
    is_online INTEGER DEFAULT 0
)`); err != nil {
		t.Fatalf("create legacy users: %v", err)
	}
	for _, stmt := range []string{
		`INSERT INTO users(id,username,display_name,password,level,created_at) VALUES('1','admin','Admin','admin123',6,'2024-01-01 08:00:00')`,
		`INSERT INTO users(id,username,display_name,password,level,created_at) VALUES('3','bob',NULL,'pw',2,'2024-01-02 08:00:00')`,
		`INSERT INTO users(id,username,password,level) VALUES('guest-x','carol','pw',NULL)`,
	} {
		if _, err := sqdb.Exec(stmt); err != nil {
			t.Fatalf("insert legacy user: %v", err)
		}
	}

	path := filepath.Join("..", "..", "migrations", InitMigration)
	if err := ApplyMigrationFile(sqdb, path); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if err := ApplyMigrationFile(sqdb, path); err != nil {
		t.Fatalf("re-apply migration: %v", err)
	}

	var idType string
	if err := sqdb.QueryRow(`SELECT UPPER(type) FROM pragma_table_info('users') WHERE name='id'`).Scan(&idType); err != nil || idType != "INTEGER" {
		t.Fatalf("expected INTEGER id after rebuild, got %q err=%v", idType, err)
	}
	if !hasColumn(t, sqdb, "users", "password") {
		t.Fatalf("expected plaintext column to survive for the password upgrade")
	}

	ctx := context.Background()
	st := store.New(sqdb)
	if n, err := st.UpgradeLegacyPasswords(ctx, func(pw string) (string, error) { return "hashed:" + pw, nil }); err != nil || n != 3 {
		t.Fatalf("expected 3 upgraded rows, got %d err=%v", n, err)
	}

	created, err := st.CreateUser(ctx, models.NewUser{Username: "dave", DisplayName: "Dave", PasswordHash: "h", Level: 1})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.ID != "5" {
		t.Fatalf("expected id 5 after legacy ids 1, 3 and reassigned 4, got %q", created.ID)
	}

	page, err := st.ListUsers(ctx, models.UserQuery{})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	got := map[string]string{}
	for _, u := range page.Users {
		got[u.Username] = u.ID
	}
	want := map[string]string{"admin": "1", "bob": "3", "carol": "4", "dave": "5"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for name, id := range want {
		if got[name] != id {
			t.Fatalf("expected %s to have id %s, got %v", name, id, got)
		}
	}

	admin, err := st.GetUserByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("login lookup: %v", err)
	}
	if admin.Level != 6 || admin.PasswordHash != "hashed:admin123" || admin.CreatedAt.Year() != 2024 {
		t.Fatalf("unexpected rebuilt admin: %+v", admin)
	}
	carol, err := st.GetUserByUsername(ctx, "carol")
	if err != nil || carol.Level != 1 {
		t.Fatalf("expected carol at level 1, got %+v err=%v", carol, err)
	}
}
