package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"classhub/internal/auth"
	"classhub/internal/models"
)

// MemberRecord is one entry of a members export. Password may be plaintext
// or an existing hash; plaintext is hashed before it is stored.
type MemberRecord struct {
	ID          string       `json:"id"`
	Username    string       `json:"username"`
	DisplayName string       `json:"display_name"`
	Password    string       `json:"password"`
	Level       models.Level `json:"level"`
	Phone       string       `json:"phone"`
	Email       string       `json:"email"`
	IsBanned    bool         `json:"is_banned"`
	LastLogin   *time.Time   `json:"last_login"`
	CreatedAt   time.Time    `json:"created_at"`
	IsOnline    bool         `json:"is_online"`
}

// ImportMembers replaces every member with the JSON array read from r.
func (s *Service) ImportMembers(ctx context.Context, r io.Reader) (int, error) {
	var records []MemberRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return 0, fmt.Errorf("decode members: %w", err)
	}
	users := make([]models.User, 0, len(records))
	seen := make(map[string]bool, len(records))
	for i, rec := range records {
		rec.Username = strings.TrimSpace(rec.Username)
		if rec.Username == "" {
			return 0, invalid("record %d: username is required", i)
		}
		if seen[rec.Username] {
			return 0, invalid("record %d: duplicate username %q", i, rec.Username)
		}
		seen[rec.Username] = true
		if rec.Level == 0 {
			rec.Level = models.MinLevel
		}
		if !rec.Level.Valid() {
			return 0, invalid("record %d: level must be within 1..6", i)
		}
		hash := rec.Password
		if auth.IsHashed(hash) && !auth.ValidHash(hash) {
			return 0, invalid("record %d: password hash is malformed", i)
		}
		if !auth.IsHashed(hash) {
			var err error
			if hash, err = auth.HashPassword(rec.Password); err != nil {
				return 0, err
			}
		}
		users = append(users, models.User{
			ID:           rec.ID,
			Username:     rec.Username,
			DisplayName:  rec.DisplayName,
			PasswordHash: hash,
			Level:        rec.Level,
			Phone:        rec.Phone,
			Email:        rec.Email,
			IsBanned:     rec.IsBanned,
			LastLogin:    rec.LastLogin,
			CreatedAt:    rec.CreatedAt,
			IsOnline:     rec.IsOnline,
		})
	}
	if err := s.st.ReplaceUsers(ctx, users); err != nil {
		return 0, err
	}
	return len(users), nil
}
