package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"classhub/internal/models"
)

const registrationColumns = `id,username,COALESCE(display_name,''),COALESCE(password_hash,''),COALESCE(phone,''),COALESCE(email,''),created_at,status,reviewed_by,reviewed_at`

func scanRegistration(r rowScanner) (models.RegistrationRequest, error) {
	var req models.RegistrationRequest
	var createdAt, reviewedAt nullTime
	var reviewedBy sql.NullString
	if err := r.Scan(&req.ID, &req.Username, &req.DisplayName, &req.PasswordHash, &req.Phone, &req.Email, &createdAt, &req.Status, &reviewedBy, &reviewedAt); err != nil {
		return models.RegistrationRequest{}, err
	}
	req.CreatedAt = createdAt.Time
	req.ReviewedAt = reviewedAt.ptr()
	if reviewedBy.Valid {
		v := reviewedBy.String
		req.ReviewedBy = &v
	}
	return req, nil
}

// CreateRegistration queues a pending request. A pending request or user with
// the same username makes it fail with ErrDuplicateUsername.
func (s *Store) CreateRegistration(ctx context.Context, req models.RegistrationRequest) (models.RegistrationRequest, error) {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.Status = models.RegistrationPending
	err := s.Tx(ctx, func(tx *sql.Tx) error {
		taken, err := usernameTaken(ctx, tx, req.Username)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicateUsername
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO registration_requests(username,display_name,password_hash,phone,email,created_at,status) VALUES(?,?,?,?,?,?,?)`,
			req.Username, req.DisplayName, req.PasswordHash, req.Phone, req.Email, req.CreatedAt.UTC(), req.Status,
		)
		if isDuplicateUsername(err) {
			return ErrDuplicateUsername
		}
		if err != nil {
			return err
		}
		req.ID, err = res.LastInsertId()
		return err
	})
	return req, err
}

// CreateUserUnique inserts a user after checking both users and pending requests.
func (s *Store) CreateUserUnique(ctx context.Context, nu models.NewUser) (models.User, error) {
	var out models.User
	err := s.Tx(ctx, func(tx *sql.Tx) error {
		taken, err := usernameTaken(ctx, tx, nu.Username)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicateUsername
		}
		out, err = insertUser(ctx, tx, nu)
		return err
	})
	return out, err
}

func (s *Store) GetRegistrationByID(ctx context.Context, id int64) (models.RegistrationRequest, error) {
	return getRegistration(ctx, s.db, id)
}

func getRegistration(ctx context.Context, q queryer, id int64) (models.RegistrationRequest, error) {
	req, err := scanRegistration(q.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM registration_requests WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.RegistrationRequest{}, ErrNotFound
	}
	return req, err
}

// ListRegistrations returns requests newest first. An empty status lists all of them.
func (s *Store) ListRegistrations(ctx context.Context, status models.RegistrationStatus) ([]models.RegistrationRequest, error) {
	query := `SELECT ` + registrationColumns + ` FROM registration_requests`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.RegistrationRequest{}
	for rows.Next() {
		req, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ApproveRegistration marks a pending request approved and creates its user in
// the same transaction. A request that is no longer pending yields ErrConflict.
func (s *Store) ApproveRegistration(ctx context.Context, id int64, reviewer string, level models.Level) (models.RegistrationRequest, models.User, error) {
	var req models.RegistrationRequest
	var user models.User
	now := time.Now().UTC()
	err := s.Tx(ctx, func(tx *sql.Tx) error {
		var err error
		req, err = getRegistration(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := decide(ctx, tx, id, models.RegistrationApproved, reviewer, now); err != nil {
			return err
		}
		user, err = insertUser(ctx, tx, models.NewUser{
			Username:     req.Username,
			DisplayName:  req.DisplayName,
			PasswordHash: req.PasswordHash,
			Level:        level,
			Phone:        req.Phone,
			Email:        req.Email,
			CreatedAt:    now,
		})
		return err
	})
	if err != nil {
		return models.RegistrationRequest{}, models.User{}, err
	}
	req.Status = models.RegistrationApproved
	req.ReviewedBy = &reviewer
	req.ReviewedAt = &now
	return req, user, nil
}

func (s *Store) RejectRegistration(ctx context.Context, id int64, reviewer string) (models.RegistrationRequest, error) {
	var req models.RegistrationRequest
	now := time.Now().UTC()
	err := s.Tx(ctx, func(tx *sql.Tx) error {
		var err error
		req, err = getRegistration(ctx, tx, id)
		if err != nil {
			return err
		}
		return decide(ctx, tx, id, models.RegistrationRejected, reviewer, now)
	})
	if err != nil {
		return models.RegistrationRequest{}, err
	}
	req.Status = models.RegistrationRejected
	req.ReviewedBy = &reviewer
	req.ReviewedAt = &now
	return req, nil
}

func decide(ctx context.Context, tx *sql.Tx, id int64, status models.RegistrationStatus, reviewer string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE registration_requests SET status=?, reviewed_by=?, reviewed_at=? WHERE id=? AND status='pending'`,
		status, reviewer, at, id,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrConflict
	}
	return nil
}

// CountRegistrations counts requests in the given status, or all of them when status is empty.
func (s *Store) CountRegistrations(ctx context.Context, status models.RegistrationStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM registration_requests WHERE ?='' OR status=?`,
		string(status), string(status),
	).Scan(&n)
	return n, err
}
