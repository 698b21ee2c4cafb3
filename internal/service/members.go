package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"classhub/internal/activity"
	"classhub/internal/auth"
	"classhub/internal/authz"
	"classhub/internal/models"
	"classhub/internal/store"
)

type CreateMemberInput struct {
	Username    string       `json:"username" validate:"required,min=3,max=32"`
	Password    string       `json:"password" validate:"required"`
	DisplayName string       `json:"display_name" validate:"max=64"`
	Level       models.Level `json:"level" validate:"omitempty,min=1,max=6"`
	Phone       string       `json:"phone" validate:"max=32"`
	Email       string       `json:"email" validate:"omitempty,email"`
}

// EditMemberInput holds optional changes; absent fields are left alone.
type EditMemberInput struct {
	Username    *string       `json:"username" validate:"omitempty,min=3,max=32"`
	DisplayName *string       `json:"display_name" validate:"omitempty,max=64"`
	Phone       *string       `json:"phone" validate:"omitempty,max=32"`
	Email       *string       `json:"email" validate:"omitempty,email"`
	Level       *models.Level `json:"level" validate:"omitempty,min=1,max=6"`
}

func (s *Service) ListMembers(ctx context.Context, q models.UserQuery) (models.UserPage, error) {
	return s.st.ListUsers(ctx, q)
}

func (s *Service) GetMember(ctx context.Context, id string) (models.User, error) {
	return s.st.GetUserByID(ctx, id)
}

// canModify is the store guard for acting on another member.
func canModify(actor models.User) store.UserGuard {
	return func(target models.User) error {
		if !authz.CanModify(actor.Level, target.Level) {
			return ErrForbidden
		}
		return nil
	}
}

// CreateMember adds an account on behalf of actor, who may only create
// members strictly below their own level.
func (s *Service) CreateMember(ctx context.Context, actor models.User, in CreateMemberInput, origin activity.Origin) (models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := s.check(in); err != nil {
		return models.User{}, err
	}
	if err := s.ValidatePassword(in.Password); err != nil {
		return models.User{}, err
	}
	if in.Level == 0 {
		in.Level = models.MinLevel
	}
	if !authz.CanModify(actor.Level, in.Level) {
		return models.User{}, ErrForbidden
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return models.User{}, err
	}
	u, err := s.st.CreateUserUnique(ctx, models.NewUser{
		Username:     in.Username,
		DisplayName:  in.DisplayName,
		PasswordHash: hash,
		Level:        in.Level,
		Phone:        strings.TrimSpace(in.Phone),
		Email:        strings.TrimSpace(in.Email),
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return models.User{}, err
	}
	s.mirror(ctx, u)
	s.record(ctx, activity.ActionAddMember, activity.IdentityOf(u), activity.IdentityOf(actor), origin)
	return u, nil
}

func (s *Service) EditMember(ctx context.Context, actor models.User, id string, in EditMemberInput, origin activity.Origin) (models.User, error) {
	if in.Username != nil {
		v := strings.TrimSpace(*in.Username)
		in.Username = &v
	}
	if err := s.check(in); err != nil {
		return models.User{}, err
	}
	if in.Username != nil && *in.Username == "" {
		return models.User{}, invalid("username cannot be empty")
	}
	var previous string
	guard := func(target models.User) error {
		if err := canModify(actor)(target); err != nil {
			return err
		}
		if in.Level != nil && !authz.CanModify(actor.Level, *in.Level) {
			return ErrForbidden
		}
		previous = target.Username
		return nil
	}
	u, err := s.st.UpdateUser(ctx, id, models.UserChanges{
		Username:    in.Username,
		DisplayName: in.DisplayName,
		Phone:       in.Phone,
		Email:       in.Email,
		Level:       in.Level,
	}, guard)
	if err != nil {
		return models.User{}, err
	}
	if previous != "" && previous != u.Username {
		if err := s.dir.Remove(ctx, previous); err != nil {
			s.log.Warn("directory remove failed", zap.String("username", previous), zap.Error(err))
		}
		s.mirror(ctx, u)
	}
	s.record(ctx, activity.ActionEditMember, activity.IdentityOf(u), activity.IdentityOf(actor), origin)
	return u, nil
}

// ToggleBan flips the ban flag and records "Ban member" or "Unban member"
// according to the resulting state.
func (s *Service) ToggleBan(ctx context.Context, actor models.User, id string, origin activity.Origin) (models.User, error) {
	u, err := s.st.ToggleBan(ctx, id, canModify(actor))
	if err != nil {
		return models.User{}, err
	}
	if err := s.dir.SetActive(ctx, u.Username, !u.IsBanned); err != nil {
		s.log.Warn("directory update failed", zap.String("username", u.Username), zap.Error(err))
	}
	action := activity.ActionUnbanMember
	if u.IsBanned {
		action = activity.ActionBanMember
	}
	s.record(ctx, action, activity.IdentityOf(u), activity.IdentityOf(actor), origin)
	return u, nil
}

func (s *Service) DeleteMember(ctx context.Context, actor models.User, id string, origin activity.Origin) (models.User, error) {
	u, err := s.st.DeleteUser(ctx, id, canModify(actor))
	if err != nil {
		return models.User{}, err
	}
	if err := s.dir.Remove(ctx, u.Username); err != nil {
		s.log.Warn("directory remove failed", zap.String("username", u.Username), zap.Error(err))
	}
	s.record(ctx, activity.ActionDeleteMember, activity.IdentityOf(u), activity.IdentityOf(actor), origin)
	return u, nil
}

// Profile re-reads the caller's row so the result reflects stored state.
func (s *Service) Profile(ctx context.Context, u models.User) (models.Profile, error) {
	cur, err := s.st.GetUserByID(ctx, u.ID)
	if err != nil {
		return models.Profile{}, err
	}
	return models.Profile{
		ID:          cur.ID,
		Username:    cur.Username,
		DisplayName: cur.DisplayName,
		Level:       cur.Level,
		LevelColor:  cur.Level.Color(),
		LevelColors: models.LevelColors(),
		Phone:       cur.Phone,
		Email:       cur.Email,
		LastLogin:   cur.LastLogin,
		CreatedAt:   cur.CreatedAt,
		IsOnline:    cur.IsOnline,
	}, nil
}

// mirror pushes an account into the external directory. Failures are logged.
func (s *Service) mirror(ctx context.Context, u models.User) {
	if err := s.dir.Upsert(ctx, u.Username, u.PasswordHash, !u.IsBanned); err != nil {
		s.log.Warn("directory sync failed", zap.String("username", u.Username), zap.Error(err))
	}
}
