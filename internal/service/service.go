package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"classhub/internal/activity"
	"classhub/internal/article"
	"classhub/internal/auth"
	"classhub/internal/config"
	"classhub/internal/directory"
	"classhub/internal/models"
	"classhub/internal/notify"
	"classhub/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountBanned      = fmt.Errorf("%w: account is banned", ErrInvalidCredentials)
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrBanned             = errors.New("account is banned")
	ErrRegistrationClosed = errors.New("registration is closed")
	ErrAlreadyReviewed    = errors.New("registration request already reviewed")
)

// ValidationError carries a message that is safe to show to the caller.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Deps are the collaborators a Service is built from. Nil optional fields fall
// back to no-op implementations.
type Deps struct {
	Tokens    *auth.TokenService
	Recorder  *activity.Recorder
	Articles  *article.Manager
	Directory directory.Provisioner
	Sender    notify.Sender
	Log       *zap.Logger
}

type Service struct {
	cfg      config.Config
	st       *store.Store
	tokens   *auth.TokenService
	rec      *activity.Recorder
	articles *article.Manager
	dir      directory.Provisioner
	sender   notify.Sender
	validate *validator.Validate
	log      *zap.Logger
	now      func() time.Time
}

func New(cfg config.Config, st *store.Store, d Deps) *Service {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Directory == nil {
		d.Directory = directory.NoopProvisioner{}
	}
	if d.Sender == nil {
		d.Sender = notify.LogSender{Log: d.Log}
	}
	return &Service{
		cfg:      cfg,
		st:       st,
		tokens:   d.Tokens,
		rec:      d.Recorder,
		articles: d.Articles,
		dir:      d.Directory,
		sender:   d.Sender,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      d.Log,
		now:      time.Now,
	}
}

// Ready reports whether the database answers.
func (s *Service) Ready(ctx context.Context) error { return s.st.Ping(ctx) }

func (s *Service) ValidatePassword(pw string) error {
	n := utf8.RuneCountInString(pw)
	if n < s.cfg.PasswordMinLength {
		return invalid("password must be at least %d characters", s.cfg.PasswordMinLength)
	}
	if s.cfg.PasswordMaxLength > 0 && n > s.cfg.PasswordMaxLength {
		return invalid("password must be at most %d characters", s.cfg.PasswordMaxLength)
	}
	return nil
}

// check runs struct validation and turns the first failure into a ValidationError.
func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return invalid("invalid request")
	}
	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return invalid("%s is required", field)
	case "min":
		return invalid("%s must be at least %s", field, fe.Param())
	case "max":
		return invalid("%s must be at most %s", field, fe.Param())
	case "email":
		return invalid("%s must be a valid email address", field)
	}
	return invalid("%s is invalid", field)
}

func (s *Service) isAdmin(u models.User) bool {
	return int(u.Level) >= s.cfg.AdminMinLevel
}

func (s *Service) record(ctx context.Context, action string, target, operator *activity.Identity, origin activity.Origin) {
	s.rec.Record(ctx, activity.Event{Action: action, Target: target, Operator: operator, Origin: origin})
}

// LoginResult is what a successful login hands back to the client.
type LoginResult struct {
	Token       string       `json:"token"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Level       models.Level `json:"level"`
	DisplayName string       `json:"display_name"`
	LastLogin   *time.Time   `json:"last_login"`
	IsOnline    bool         `json:"is_online"`
}

// Login accepts a username or a numeric user id as loginID.
func (s *Service) Login(ctx context.Context, loginID, password string, origin activity.Origin) (LoginResult, error) {
	loginID = strings.TrimSpace(loginID)
	if loginID == "" || password == "" {
		return LoginResult{}, invalid("login_id and password are required")
	}
	u, err := s.lookupLogin(ctx, loginID)
	if errors.Is(err, store.ErrNotFound) {
		s.record(ctx, activity.ActionLoginFailed, &activity.Identity{ID: activity.Guest.ID, Name: loginID}, nil, origin)
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	if !auth.VerifyPassword(u.PasswordHash, password) {
		s.record(ctx, activity.ActionLoginFailed, activity.IdentityOf(u), nil, origin)
		return LoginResult{}, ErrInvalidCredentials
	}
	if u.IsBanned {
		s.record(ctx, activity.ActionLoginFailed, activity.IdentityOf(u), nil, origin)
		return LoginResult{}, ErrAccountBanned
	}

	now := s.now().UTC()
	if err := s.st.MarkLogin(ctx, u.ID, now); err != nil {
		return LoginResult{}, err
	}
	token, exp, err := s.tokens.Issue(u)
	if err != nil {
		return LoginResult{}, err
	}
	s.record(ctx, activity.ActionLogin, activity.IdentityOf(u), activity.IdentityOf(u), origin)
	return LoginResult{
		Token:       token,
		ExpiresAt:   exp,
		Level:       u.Level,
		DisplayName: u.DisplayName,
		LastLogin:   &now,
		IsOnline:    true,
	}, nil
}

func (s *Service) lookupLogin(ctx context.Context, loginID string) (models.User, error) {
	u, err := s.st.GetUserByUsername(ctx, loginID)
	if errors.Is(err, store.ErrNotFound) {
		return s.st.GetUserByID(ctx, loginID)
	}
	return u, err
}

func (s *Service) Logout(ctx context.Context, u models.User, origin activity.Origin) error {
	if err := s.st.SetOnline(ctx, u.ID, false); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	s.record(ctx, activity.ActionLogout, activity.IdentityOf(u), activity.IdentityOf(u), origin)
	return nil
}

// Authenticate verifies a bearer token and reloads its user, so deletions,
// bans and level changes take effect before the token expires.
func (s *Service) Authenticate(ctx context.Context, token string) (models.User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return models.User{}, ErrUnauthorized
	}
	u, err := s.st.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return models.User{}, ErrUnauthorized
	}
	if err != nil {
		return models.User{}, err
	}
	if u.IsBanned {
		return models.User{}, ErrBanned
	}
	return u, nil
}

// BootstrapAdmin creates or refreshes a top-level account from configuration.
func (s *Service) BootstrapAdmin(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.st.EnsureAdmin(ctx, username, hash); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if err := s.dir.Upsert(ctx, username, hash, true); err != nil {
		s.log.Warn("directory sync failed", zap.String("username", username), zap.Error(err))
	}
	s.log.Info("bootstrap admin ensured", zap.String("username", username))
	return nil
}
