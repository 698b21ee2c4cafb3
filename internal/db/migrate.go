package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const InitMigration = "001_init.sql"

// legacyUserColumns maps users columns an older database may carry to the
// expression that copies them into the rebuilt table.
var legacyUserColumns = []struct {
	name string
	expr string
}{
	{"username", "username"},
	{"display_name", "COALESCE(display_name,'')"},
	{"password_hash", "COALESCE(password_hash,'')"},
	{"password", "password"},
	{"level", "CASE WHEN level BETWEEN 1 AND 6 THEN level ELSE 1 END"},
	{"phone", "COALESCE(phone,'')"},
	{"email", "COALESCE(email,'')"},
	{"is_banned", "COALESCE(is_banned,0)"},
	{"last_login", "last_login"},
	{"created_at", "COALESCE(created_at,'1970-01-01 00:00:00+00:00')"},
	{"is_online", "COALESCE(is_online,0)"},
}

func ApplyMigrationFile(db *sql.DB, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	legacy, err := legacyUsersTable(db)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if legacy != nil {
		if _, err := tx.Exec(`ALTER TABLE users RENAME TO users_legacy`); err != nil {
			return fmt.Errorf("rename legacy users: %w", err)
		}
	}
	if _, err := tx.Exec(string(b)); err != nil && !isDuplicateColumnErr(err) {
		return fmt.Errorf("apply migration: %w", err)
	}

	// Databases created by the older schema revision lack these columns.
	for _, stmt := range []string{
		`ALTER TABLE users ADD COLUMN password_hash TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE users ADD COLUMN phone TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE users ADD COLUMN is_banned INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE users ADD COLUMN last_login DATETIME`,
		`ALTER TABLE users ADD COLUMN created_at DATETIME NOT NULL DEFAULT '1970-01-01 00:00:00+00:00'`,
		`ALTER TABLE users ADD COLUMN is_online INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE articles ADD COLUMN html_path TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE articles ADD COLUMN md_path TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE registration_requests ADD COLUMN password_hash TEXT NOT NULL DEFAULT ''`,
	} {
		if _, err := tx.Exec(stmt); err != nil && !isDuplicateColumnErr(err) {
			return fmt.Errorf("apply compatibility migration %q: %w", stmt, err)
		}
	}

	if legacy != nil {
		if err := copyLegacyUsers(tx, legacy); err != nil {
			return err
		}
	}

	// Indexes go last: they reference columns added above.
	for _, stmt := range []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_registration_requests_pending_username ON registration_requests(username) WHERE status='pending'`,
		`CREATE INDEX IF NOT EXISTS idx_users_level ON users(level)`,
		`CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_users_last_login ON users(last_login)`,
		`CREATE INDEX IF NOT EXISTS idx_access_logs_access_time ON access_logs(access_time)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_created_at ON articles(created_at)`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply index %q: %w", stmt, err)
		}
	}
	return tx.Commit()
}

// legacyUsersTable returns the column set of a users table whose id is not an
// INTEGER primary key, or nil when no rebuild is needed.
func legacyUsersTable(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query(`SELECT name, UPPER(type), pk FROM pragma_table_info('users')`)
	if err != nil {
		return nil, fmt.Errorf("inspect users: %w", err)
	}
	defer rows.Close()

	cols := map[string]bool{}
	rebuild := false
	for rows.Next() {
		var name, typ string
		var pk int
		if err := rows.Scan(&name, &typ, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
		if name == "id" && (pk != 1 || typ != "INTEGER") {
			rebuild = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !rebuild {
		return nil, nil
	}
	return cols, nil
}

// copyLegacyUsers moves rows from users_legacy into the new users table.
// Canonical numeric ids are kept; other ids are reassigned after them.
// Rows without a username cannot sign in and are dropped.
func copyLegacyUsers(tx *sql.Tx, legacy map[string]bool) error {
	if legacy["password"] {
		if _, err := tx.Exec(`ALTER TABLE users ADD COLUMN password TEXT`); err != nil && !isDuplicateColumnErr(err) {
			return fmt.Errorf("add legacy password column: %w", err)
		}
	}
	var names, exprs []string
	for _, c := range legacyUserColumns {
		if legacy[c.name] {
			names = append(names, c.name)
			exprs = append(exprs, c.expr)
		}
	}
	cols, sel := strings.Join(names, ","), strings.Join(exprs, ",")
	const numeric = `(id IS NOT NULL AND CAST(CAST(id AS INTEGER) AS TEXT) = CAST(id AS TEXT) AND CAST(id AS INTEGER) > 0)`
	for _, stmt := range []string{
		`INSERT INTO users(id,` + cols + `) SELECT CAST(id AS INTEGER),` + sel + ` FROM users_legacy WHERE username IS NOT NULL AND ` + numeric + ` ORDER BY CAST(id AS INTEGER)`,
		`INSERT INTO users(` + cols + `) SELECT ` + sel + ` FROM users_legacy WHERE username IS NOT NULL AND NOT ` + numeric + ` ORDER BY rowid`,
		`DROP TABLE users_legacy`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("rebuild legacy users: %w", err)
		}
	}
	return nil
}

// ApplyMigrations applies the init migration found in dir.
func ApplyMigrations(db *sql.DB, dir string) error {
	return ApplyMigrationFile(db, filepath.Join(dir, InitMigration))
}

func isDuplicateColumnErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}
