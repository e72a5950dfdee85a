package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/users"
)

var (
	ErrNotForPasswordUpdates = common.Validation("This route is not for password updates. Please use /updatePassword")
	ErrUserNotFound          = common.NotFound("No user found with that ID")
	ErrInvalidRole           = common.Validation("Role is either: user, guide, lead-guide, admin")
)

// UpdateMeInput carries the profile fields an identity may change itself.
// Password fields are only decoded to reject them.
type UpdateMeInput struct {
	Name            *string `json:"name"`
	Email           *string `json:"email"`
	Password        *string `json:"password"`
	PasswordConfirm *string `json:"passwordConfirm"`
}

type SetRoleInput struct {
	Role string `json:"role" validate:"required"`
}

// UserService covers self-service profile operations and role management.
type UserService struct {
	repomanager repomanager.RepositoryManager
}

func NewUserService(m repomanager.RepositoryManager) *UserService {
	return &UserService{repomanager: m}
}

func (s *UserService) Me(ctx context.Context, userID string) (*models.User, error) {
	return s.find(ctx, userID)
}

// UpdateMe changes name and email. Any other field is ignored.
func (s *UserService) UpdateMe(ctx context.Context, userID string, in UpdateMeInput) (*models.User, error) {
	if in.Password != nil || in.PasswordConfirm != nil {
		return nil, ErrNotForPasswordUpdates
	}

	u, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		u.Name = *in.Name
	}
	if in.Email != nil {
		u.Email = *in.Email
	}

	if err := s.repomanager.Users().Save(ctx, u, users.SaveOptions{Fields: users.FieldProfile}); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, duplicateEmail(u.Email)
		}
		return nil, storeError(err)
	}
	return u, nil
}

// Deactivate soft-deletes the identity. It disappears from every lookup,
// so its tokens stop working as well.
func (s *UserService) Deactivate(ctx context.Context, userID string) error {
	u, err := s.find(ctx, userID)
	if err != nil {
		return err
	}
	u.Active = false
	if err := s.repomanager.Users().Save(ctx, u, users.SaveOptions{Fields: users.FieldActive, SkipValidation: true}); err != nil {
		return storeError(err)
	}
	return nil
}

func (s *UserService) List(ctx context.Context) ([]*models.User, error) {
	list, err := s.repomanager.Users().List(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	if list == nil {
		list = []*models.User{}
	}
	return list, nil
}

func (s *UserService) SetRole(ctx context.Context, userID string, in SetRoleInput) (*models.User, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	role := models.Role(in.Role)
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	u, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.Role = role
	if err := s.repomanager.Users().Save(ctx, u, users.SaveOptions{Fields: users.FieldRole}); err != nil {
		return nil, storeError(err)
	}
	return u, nil
}

func (s *UserService) find(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.repomanager.Users().FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, storeError(err)
	}
	return u, nil
}
