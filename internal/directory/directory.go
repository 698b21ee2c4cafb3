// Package directory mirrors member accounts into an external SQL auth table
// consumed by other services (mail, wiki, VPN) that share the class login.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"classhub/internal/config"
)

type Provisioner interface {
	Upsert(ctx context.Context, username, passwordHash string, active bool) error
	SetActive(ctx context.Context, username string, active bool) error
	Remove(ctx context.Context, username string) error
}

type NoopProvisioner struct{}

func (NoopProvisioner) Upsert(context.Context, string, string, bool) error { return nil }
func (NoopProvisioner) SetActive(context.Context, string, bool) error     { return nil }
func (NoopProvisioner) Remove(context.Context, string) error              { return nil }

var identRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Columns struct {
	Table    string
	Username string
	Password string
	// Active may be empty when the table has no enabled flag.
	Active string
}

type SQLProvisioner struct {
	db       *sql.DB
	dollarPH bool
	cols     Columns
}

// New returns a NoopProvisioner unless a directory database is configured.
func New(cfg config.Config) (Provisioner, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.DirectoryDBDriver))
	if driver == "" || strings.TrimSpace(cfg.DirectoryDBDSN) == "" {
		return NoopProvisioner{}, nil
	}
	if driver == "postgres" {
		driver = "pgx"
	}
	cols := Columns{
		Table:    cfg.DirectoryTable,
		Username: cfg.DirectoryUsernameCol,
		Password: cfg.DirectoryPassCol,
		Active:   cfg.DirectoryActiveCol,
	}
	if err := cols.validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, cfg.DirectoryDBDSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping directory db: %w", err)
	}
	return NewSQLProvisioner(db, driver == "pgx", cols)
}

// NewSQLProvisioner wraps an open database. dollarPlaceholders selects $N
// bind parameters instead of ?.
func NewSQLProvisioner(db *sql.DB, dollarPlaceholders bool, cols Columns) (*SQLProvisioner, error) {
	if err := cols.validate(); err != nil {
		return nil, err
	}
	return &SQLProvisioner{db: db, dollarPH: dollarPlaceholders, cols: cols}, nil
}

func (c Columns) validate() error {
	for _, ident := range []string{c.Table, c.Username, c.Password} {
		if !identRx.MatchString(ident) {
			return fmt.Errorf("invalid SQL identifier %q", ident)
		}
	}
	if c.Active != "" && !identRx.MatchString(c.Active) {
		return fmt.Errorf("invalid SQL identifier %q", c.Active)
	}
	return nil
}

func (p *SQLProvisioner) Upsert(ctx context.Context, username, passwordHash string, active bool) error {
	setCols := []string{fmt.Sprintf("%s=%s", p.cols.Password, p.ph(1))}
	args := []any{passwordHash}
	idx := 2
	if p.cols.Active != "" {
		setCols = append(setCols, fmt.Sprintf("%s=%s", p.cols.Active, p.ph(idx)))
		args = append(args, boolToInt(active))
		idx++
	}
	args = append(args, username)
	updateQ := fmt.Sprintf("UPDATE %s SET %s WHERE %s=%s", p.cols.Table, strings.Join(setCols, ","), p.cols.Username, p.ph(idx))
	res, err := p.db.ExecContext(ctx, updateQ, args...)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	cols := []string{p.cols.Username, p.cols.Password}
	vals := []any{username, passwordHash}
	if p.cols.Active != "" {
		cols = append(cols, p.cols.Active)
		vals = append(vals, boolToInt(active))
	}
	phs := make([]string, len(vals))
	for i := range vals {
		phs[i] = p.ph(i + 1)
	}
	insertQ := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", p.cols.Table, strings.Join(cols, ","), strings.Join(phs, ","))
	if _, err := p.db.ExecContext(ctx, insertQ, vals...); err != nil {
		// Lost a race with a concurrent insert of the same account.
		if msg := strings.ToLower(err.Error()); strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique") {
			_, err = p.db.ExecContext(ctx, updateQ, args...)
		}
		return err
	}
	return nil
}

func (p *SQLProvisioner) SetActive(ctx context.Context, username string, active bool) error {
	if p.cols.Active == "" {
		return nil
	}
	q := fmt.Sprintf("UPDATE %s SET %s=%s WHERE %s=%s", p.cols.Table, p.cols.Active, p.ph(1), p.cols.Username, p.ph(2))
	_, err := p.db.ExecContext(ctx, q, boolToInt(active), username)
	return err
}

func (p *SQLProvisioner) Remove(ctx context.Context, username string) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s=%s", p.cols.Table, p.cols.Username, p.ph(1))
	_, err := p.db.ExecContext(ctx, q, username)
	return err
}

func (p *SQLProvisioner) Close() error { return p.db.Close() }

func (p *SQLProvisioner) ph(i int) string {
	if p.dollarPH {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
