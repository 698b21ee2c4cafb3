package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"classhub/internal/models"
)

const (
	DefaultMemberPageSize = 30
	MaxMemberPageSize     = 100
)

const userColumns = `id,username,COALESCE(display_name,''),COALESCE(password_hash,''),COALESCE(level,1),COALESCE(phone,''),COALESCE(email,''),COALESCE(is_banned,0),last_login,created_at,COALESCE(is_online,0)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (models.User, error) {
	var u models.User
	var id int64
	var banned, online int
	var lastLogin, createdAt nullTime
	if err := r.Scan(&id, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Level, &u.Phone, &u.Email, &banned, &lastLogin, &createdAt, &online); err != nil {
		return models.User{}, err
	}
	u.ID = strconv.FormatInt(id, 10)
	u.IsBanned = banned == 1
	u.IsOnline = online == 1
	u.LastLogin = lastLogin.ptr()
	u.CreatedAt = createdAt.Time
	return u, nil
}

// ParseUserID converts a path or login id into the numeric row id.
func ParseUserID(id string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func getUser(ctx context.Context, q queryer, where string, arg any) (models.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	return u, err
}

func (s *Store) GetUserByID(ctx context.Context, id string) (models.User, error) {
	n, ok := ParseUserID(id)
	if !ok {
		return models.User{}, ErrNotFound
	}
	return getUser(ctx, s.db, `id=?`, n)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return getUser(ctx, s.db, `username=?`, username)
}

// UsernameTaken reports whether username belongs to a user or a pending registration request.
func (s *Store) UsernameTaken(ctx context.Context, username string) (bool, error) {
	return usernameTaken(ctx, s.db, username)
}

func usernameTaken(ctx context.Context, q queryer, username string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(1) FROM users WHERE username=?) + (SELECT COUNT(1) FROM registration_requests WHERE username=? AND status='pending')`,
		username, username,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) CreateUser(ctx context.Context, nu models.NewUser) (models.User, error) {
	return insertUser(ctx, s.db, nu)
}

func insertUser(ctx context.Context, q queryer, nu models.NewUser) (models.User, error) {
	if nu.CreatedAt.IsZero() {
		nu.CreatedAt = time.Now().UTC()
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO users(username,display_name,password_hash,level,phone,email,is_banned,created_at,is_online) VALUES(?,?,?,?,?,?,?,?,0)`,
		nu.Username, nu.DisplayName, nu.PasswordHash, int(nu.Level), nu.Phone, nu.Email, boolToInt(nu.IsBanned), nu.CreatedAt.UTC(),
	)
	if isDuplicateUsername(err) {
		return models.User{}, ErrDuplicateUsername
	}
	if err != nil {
		return models.User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.User{}, err
	}
	return models.User{
		ID:           strconv.FormatInt(id, 10),
		Username:     nu.Username,
		DisplayName:  nu.DisplayName,
		PasswordHash: nu.PasswordHash,
		Level:        nu.Level,
		Phone:        nu.Phone,
		Email:        nu.Email,
		IsBanned:     nu.IsBanned,
		CreatedAt:    nu.CreatedAt.UTC(),
	}, nil
}

// EnsureAdmin creates or refreshes the bootstrap account at the top level.
func (s *Store) EnsureAdmin(ctx context.Context, username, passwordHash string) error {
	username = strings.TrimSpace(username)
	if username == "" || passwordHash == "" {
		return nil
	}
	return s.Tx(ctx, func(tx *sql.Tx) error {
		u, err := getUser(ctx, tx, `username=?`, username)
		if errors.Is(err, ErrNotFound) {
			_, err = insertUser(ctx, tx, models.NewUser{
				Username:     username,
				DisplayName:  username,
				PasswordHash: passwordHash,
				Level:        models.MaxLevel,
			})
			return err
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET level=?, is_banned=0, password_hash=? WHERE id=?`,
			int(models.MaxLevel), passwordHash, u.ID,
		)
		return err
	})
}

func buildUserFilter(q models.UserQuery) (string, []any) {
	var conds []string
	var args []any
	if q.Level != nil {
		conds = append(conds, `level=?`)
		args = append(args, int(*q.Level))
	}
	switch q.Status {
	case models.StatusOnline:
		conds = append(conds, `is_online=1`)
	case models.StatusOffline:
		conds = append(conds, `COALESCE(is_online,0)=0`)
	case models.StatusBanned:
		conds = append(conds, `is_banned=1`)
	case models.StatusUnbanned:
		conds = append(conds, `COALESCE(is_banned,0)=0`)
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		p := likePattern(search)
		conds = append(conds, `(CAST(id AS TEXT) LIKE ? ESCAPE '\' OR username LIKE ? ESCAPE '\' OR display_name LIKE ? ESCAPE '\')`)
		args = append(args, p, p, p)
	}
	conds, args = appendDateRange(conds, args, "last_login", q.LastLoginStart, q.LastLoginEnd)
	conds, args = appendDateRange(conds, args, "created_at", q.CreatedStart, q.CreatedEnd)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// appendDateRange compares the stored text form against day boundaries:
// start is inclusive, end covers the whole named day.
func appendDateRange(conds []string, args []any, col string, start, end *time.Time) ([]string, []any) {
	if start != nil {
		conds = append(conds, col+` >= ?`)
		args = append(args, start.Format("2006-01-02"))
	}
	if end != nil {
		conds = append(conds, col+` < ?`)
		args = append(args, end.AddDate(0, 0, 1).Format("2006-01-02"))
	}
	return conds, args
}

func sortColumn(f models.SortField) string {
	switch f {
	case models.SortByUsername:
		return "username"
	case models.SortByDisplayName:
		return "display_name"
	case models.SortByLevel:
		return "level"
	case models.SortByLastLogin:
		return "last_login"
	case models.SortByCreatedAt:
		return "created_at"
	}
	return "id"
}

func (s *Store) ListUsers(ctx context.Context, q models.UserQuery) (models.UserPage, error) {
	page, size := pageBounds(q.Page, q.PageSize, DefaultMemberPageSize, MaxMemberPageSize)
	where, args := buildUserFilter(q)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users`+where, args...).Scan(&total); err != nil {
		return models.UserPage{}, err
	}

	dir := "ASC"
	if q.Order == models.Descending {
		dir = "DESC"
	}
	order := " ORDER BY " + sortColumn(q.Sort) + " " + dir
	if q.Sort != models.SortByID {
		order += ", id ASC"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users`+where+order+` LIMIT ? OFFSET ?`,
		append(args, size, (page-1)*size)...,
	)
	if err != nil {
		return models.UserPage{}, err
	}
	defer rows.Close()

	out := models.UserPage{Users: []models.User{}, Total: total, Page: page, PageSize: size}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return models.UserPage{}, err
		}
		out.Users = append(out.Users, u)
	}
	return out, rows.Err()
}

// UserGuard inspects the current row inside the mutating transaction and may veto the change.
type UserGuard func(current models.User) error

func (s *Store) mutateUser(ctx context.Context, id string, guard UserGuard, fn func(tx *sql.Tx, u *models.User) error) (models.User, error) {
	n, ok := ParseUserID(id)
	if !ok {
		return models.User{}, ErrNotFound
	}
	var out models.User
	err := s.Tx(ctx, func(tx *sql.Tx) error {
		u, err := getUser(ctx, tx, `id=?`, n)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(u); err != nil {
				return err
			}
		}
		if err := fn(tx, &u); err != nil {
			return err
		}
		out = u
		return nil
	})
	return out, err
}

// ToggleBan flips is_banned and returns the updated user.
func (s *Store) ToggleBan(ctx context.Context, id string, guard UserGuard) (models.User, error) {
	return s.mutateUser(ctx, id, guard, func(tx *sql.Tx, u *models.User) error {
		u.IsBanned = !u.IsBanned
		_, err := tx.ExecContext(ctx, `UPDATE users SET is_banned=? WHERE id=?`, boolToInt(u.IsBanned), u.ID)
		return err
	})
}

func (s *Store) UpdateUser(ctx context.Context, id string, ch models.UserChanges, guard UserGuard) (models.User, error) {
	return s.mutateUser(ctx, id, guard, func(tx *sql.Tx, u *models.User) error {
		if ch.Username != nil && *ch.Username != u.Username {
			// A pending request holds its name until reviewed.
			taken, err := usernameTaken(ctx, tx, *ch.Username)
			if err != nil {
				return err
			}
			if taken {
				return ErrDuplicateUsername
			}
			u.Username = *ch.Username
		}
		if ch.DisplayName != nil {
			u.DisplayName = *ch.DisplayName
		}
		if ch.Phone != nil {
			u.Phone = *ch.Phone
		}
		if ch.Email != nil {
			u.Email = *ch.Email
		}
		if ch.Level != nil {
			u.Level = *ch.Level
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE users SET username=?, display_name=?, phone=?, email=?, level=? WHERE id=?`,
			u.Username, u.DisplayName, u.Phone, u.Email, int(u.Level), u.ID,
		)
		if isDuplicateUsername(err) {
			return ErrDuplicateUsername
		}
		return err
	})
}

// DeleteUser removes the row and returns what was deleted. The user's
// articles keep their author name but lose the author id, since a later
// account may be assigned the same id.
func (s *Store) DeleteUser(ctx context.Context, id string, guard UserGuard) (models.User, error) {
	return s.mutateUser(ctx, id, guard, func(tx *sql.Tx, u *models.User) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=?`, u.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE articles SET author_id='' WHERE author_id=?`, u.ID)
		return err
	})
}

func (s *Store) MarkLogin(ctx context.Context, id string, at time.Time) error {
	n, ok := ParseUserID(id)
	if !ok {
		return ErrNotFound
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login=?, is_online=1 WHERE id=?`, at.UTC(), n)
	return err
}

func (s *Store) SetOnline(ctx context.Context, id string, online bool) error {
	n, ok := ParseUserID(id)
	if !ok {
		return ErrNotFound
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET is_online=? WHERE id=?`, boolToInt(online), n)
	return err
}

// ReplaceUsers swaps the entire users table for the given set in one transaction.
// Ids are preserved when numeric and assigned otherwise.
func (s *Store) ReplaceUsers(ctx context.Context, users []models.User) error {
	return s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM users`); err != nil {
			return err
		}
		for _, u := range users {
			var id any
			if n, ok := ParseUserID(u.ID); ok {
				id = n
			}
			created := u.CreatedAt
			if created.IsZero() {
				created = time.Now().UTC()
			}
			var lastLogin any
			if u.LastLogin != nil {
				lastLogin = u.LastLogin.UTC()
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO users(id,username,display_name,password_hash,level,phone,email,is_banned,last_login,created_at,is_online) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
				id, u.Username, u.DisplayName, u.PasswordHash, int(u.Level), u.Phone, u.Email,
				boolToInt(u.IsBanned), lastLogin, created.UTC(), boolToInt(u.IsOnline),
			)
			if isDuplicateUsername(err) {
				return ErrDuplicateUsername
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users`).Scan(&n)
	return n, err
}

func (s *Store) CountOnlineUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE is_online=1`).Scan(&n)
	return n, err
}

// UpgradeLegacyPasswords hashes the plaintext "password" column that older
// databases carry into password_hash and blanks the plaintext. Tables without
// that column are skipped.
func (s *Store) UpgradeLegacyPasswords(ctx context.Context, hash func(string) (string, error)) (int, error) {
	upgraded := 0
	for _, table := range []string{"users", "registration_requests"} {
		has, err := s.hasColumn(ctx, table, "password")
		if err != nil {
			return upgraded, err
		}
		if !has {
			continue
		}
		n, err := s.upgradeTablePasswords(ctx, table, hash)
		upgraded += n
		if err != nil {
			return upgraded, err
		}
	}
	return upgraded, nil
}

func (s *Store) upgradeTablePasswords(ctx context.Context, table string, hash func(string) (string, error)) (int, error) {
	type pending struct {
		id int64
		pw string
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,password FROM `+table+` WHERE COALESCE(password_hash,'')='' AND COALESCE(password,'')<>''`,
	)
	if err != nil {
		return 0, err
	}
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.pw); err != nil {
			rows.Close()
			return 0, err
		}
		todo = append(todo, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	done := 0
	for _, p := range todo {
		h, err := hash(p.pw)
		if err != nil {
			return done, err
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE `+table+` SET password_hash=?, password=NULL WHERE id=?`, h, p.id); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

func (s *Store) hasColumn(ctx context.Context, table, col string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM pragma_table_info(?) WHERE name=?`, table, col).Scan(&n)
	return n > 0, err
}
