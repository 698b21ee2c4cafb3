package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"classhub/internal/activity"
	"classhub/internal/auth"
	"classhub/internal/models"
	"classhub/internal/notify"
	"classhub/internal/store"
)

type RegisterInput struct {
	Username     string `json:"username" validate:"required,min=3,max=32"`
	Password     string `json:"password" validate:"required"`
	DisplayName  string `json:"display_name" validate:"max=64"`
	Phone        string `json:"phone" validate:"max=32"`
	Email        string `json:"email" validate:"omitempty,email"`
	CaptchaToken string `json:"captcha_token"`
}

// RegisterResult reports which path a registration took. User is set in open
// mode, Request in verify mode.
type RegisterResult struct {
	Mode    models.RegistrationMode
	User    *models.User
	Request *models.RegistrationRequest
}

// RegistrationMode reads the registration_status setting. Missing or unknown
// values count as closed.
func (s *Service) RegistrationMode(ctx context.Context) (models.RegistrationMode, error) {
	v, ok, err := s.st.GetSetting(ctx, store.SettingRegistrationStatus)
	if err != nil {
		return "", err
	}
	if !ok {
		return models.RegistrationClosed, nil
	}
	mode, ok := models.ParseRegistrationMode(strings.TrimSpace(v))
	if !ok {
		return models.RegistrationClosed, nil
	}
	return mode, nil
}

func (s *Service) SetRegistrationMode(ctx context.Context, actor models.User, value string, origin activity.Origin) (models.RegistrationMode, error) {
	if !s.isAdmin(actor) {
		return "", ErrForbidden
	}
	mode, ok := models.ParseRegistrationMode(strings.TrimSpace(value))
	if !ok {
		return "", invalid("registration_status must be one of: open, verify, closed")
	}
	if err := s.st.UpsertSetting(ctx, store.SettingRegistrationStatus, string(mode)); err != nil {
		return "", err
	}
	s.record(ctx, activity.ActionUpdateSettings, activity.IdentityOf(actor), activity.IdentityOf(actor), origin)
	return mode, nil
}

func (s *Service) Register(ctx context.Context, in RegisterInput, origin activity.Origin) (RegisterResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.TrimSpace(in.Email)
	if err := s.check(in); err != nil {
		return RegisterResult{}, err
	}
	if err := s.ValidatePassword(in.Password); err != nil {
		return RegisterResult{}, err
	}
	taken, err := s.st.UsernameTaken(ctx, in.Username)
	if err != nil {
		return RegisterResult{}, err
	}
	if taken {
		return RegisterResult{}, store.ErrDuplicateUsername
	}

	mode, err := s.RegistrationMode(ctx)
	if err != nil {
		return RegisterResult{}, err
	}
	if mode == models.RegistrationClosed {
		return RegisterResult{Mode: mode}, ErrRegistrationClosed
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return RegisterResult{}, err
	}
	if in.DisplayName == "" {
		in.DisplayName = in.Username
	}

	now := s.now().UTC()
	if mode == models.RegistrationOpen {
		u, err := s.st.CreateUserUnique(ctx, models.NewUser{
			Username:     in.Username,
			DisplayName:  in.DisplayName,
			PasswordHash: hash,
			Level:        models.MinLevel,
			Phone:        in.Phone,
			Email:        in.Email,
			CreatedAt:    now,
		})
		if err != nil {
			return RegisterResult{}, err
		}
		s.mirror(ctx, u)
		s.record(ctx, activity.ActionRegister, activity.IdentityOf(u), nil, origin)
		return RegisterResult{Mode: mode, User: &u}, nil
	}

	req, err := s.st.CreateRegistration(ctx, models.RegistrationRequest{
		Username:     in.Username,
		DisplayName:  in.DisplayName,
		PasswordHash: hash,
		Phone:        in.Phone,
		Email:        in.Email,
		CreatedAt:    now,
	})
	if err != nil {
		return RegisterResult{}, err
	}
	s.record(ctx, activity.ActionRegistrationRequest, &activity.Identity{ID: activity.Guest.ID, Name: req.Username}, nil, origin)
	return RegisterResult{Mode: mode, Request: &req}, nil
}

// ListRegistrations accepts "", "all" or one of the request statuses.
func (s *Service) ListRegistrations(ctx context.Context, actor models.User, status string) ([]models.RegistrationRequest, error) {
	if !s.isAdmin(actor) {
		return nil, ErrForbidden
	}
	st := models.RegistrationStatus(strings.TrimSpace(status))
	switch st {
	case "", "all":
		st = ""
	case models.RegistrationPending, models.RegistrationApproved, models.RegistrationRejected:
	default:
		return nil, invalid("status must be one of: pending, approved, rejected, all")
	}
	return s.st.ListRegistrations(ctx, st)
}

func (s *Service) GetRegistration(ctx context.Context, actor models.User, id int64) (models.RegistrationRequest, error) {
	if !s.isAdmin(actor) {
		return models.RegistrationRequest{}, ErrForbidden
	}
	return s.st.GetRegistrationByID(ctx, id)
}

// ReviewRegistration approves or rejects a pending request. Each request can
// be decided once; later attempts get ErrAlreadyReviewed.
func (s *Service) ReviewRegistration(ctx context.Context, actor models.User, id int64, action string, origin activity.Origin) (models.RegistrationRequest, error) {
	if !s.isAdmin(actor) {
		return models.RegistrationRequest{}, ErrForbidden
	}
	var (
		req models.RegistrationRequest
		err error
	)
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "approve":
		var u models.User
		req, u, err = s.st.ApproveRegistration(ctx, id, actor.Username, models.MinLevel)
		if err != nil {
			return models.RegistrationRequest{}, reviewError(err)
		}
		s.mirror(ctx, u)
		s.record(ctx, activity.ActionApproveRegistration, activity.IdentityOf(u), activity.IdentityOf(actor), origin)
	case "reject":
		req, err = s.st.RejectRegistration(ctx, id, actor.Username)
		if err != nil {
			return models.RegistrationRequest{}, reviewError(err)
		}
		s.record(ctx, activity.ActionRejectRegistration, &activity.Identity{ID: activity.Guest.ID, Name: req.Username}, activity.IdentityOf(actor), origin)
	default:
		return models.RegistrationRequest{}, invalid("action must be approve or reject")
	}
	s.notifyDecision(ctx, req)
	return req, nil
}

func reviewError(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return ErrAlreadyReviewed
	}
	return err
}

func (s *Service) notifyDecision(ctx context.Context, req models.RegistrationRequest) {
	if strings.TrimSpace(req.Email) == "" {
		return
	}
	err := s.sender.SendRegistrationDecision(ctx, notify.Decision{
		Email:       req.Email,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Approved:    req.Status == models.RegistrationApproved,
	})
	if err != nil {
		s.log.Warn("registration decision notification failed", zap.Int64("request_id", req.ID), zap.Error(err))
	}
}
