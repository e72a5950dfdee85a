// Package services contains server-side business logic: the authentication
// pipeline (signup, login, password reset and change) and self-service
// account operations. Every password mutation hashes the new password and
// moves PasswordChangedAt forward as explicit steps of the operation.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/mail"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/users"
)

// ResetPasswordPath is the route prefix reset links point to.
const ResetPasswordPath = "/api/v1/users/resetPassword/"

const msgStoreFailure = "Something went wrong"

var (
	ErrInvalidCredentials   = common.Authentication("Incorrect email or password")
	ErrMissingCredentials   = common.Validation("Please provide email and password")
	ErrWrongCurrentPassword = common.Authentication("Your current password is wrong")
	ErrResetTokenInvalid    = common.Validation("Token is invalid or has expired")
	ErrNoUserWithEmail      = common.NotFound("There is no user with that email address")
	ErrMailDispatch         = common.Dependency("There was an error sending the email. Try again later!", nil)
)

type SignupInput struct {
	Name            string `json:"name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordInput struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordInput struct {
	Token           string `json:"-"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

type UpdatePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

// AuthResult is a successful authentication: the identity and a freshly
// issued token for it.
type AuthResult struct {
	User      *models.User
	Token     string
	ExpiresAt time.Time
}

type AuthDeps struct {
	Repos             repomanager.RepositoryManager
	Hasher            auth.PasswordHasher
	Tokens            *auth.TokenIssuer
	Resets            *auth.ResetTokenGenerator
	Mailer            mail.Sender
	Logger            logging.Logger
	MinPasswordLength int
	Now               func() time.Time
}

type AuthService struct {
	repomanager       repomanager.RepositoryManager
	hasher            auth.PasswordHasher
	tokens            *auth.TokenIssuer
	resets            *auth.ResetTokenGenerator
	mailer            mail.Sender
	logger            logging.Logger
	minPasswordLength int
	now               func() time.Time

	dummyOnce sync.Once
	dummy     string
}

func NewAuthService(d AuthDeps) *AuthService {
	s := &AuthService{
		repomanager:       d.Repos,
		hasher:            d.Hasher,
		tokens:            d.Tokens,
		resets:            d.Resets,
		mailer:            d.Mailer,
		logger:            d.Logger,
		minPasswordLength: d.MinPasswordLength,
		now:               d.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	if s.minPasswordLength < 1 {
		s.minPasswordLength = 8
	}
	return s
}

// Signup creates an identity with the lowest-privilege role and logs it in.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := s.checkPasswordPolicy(in.Password); err != nil {
		return nil, err
	}

	u := &models.User{Name: in.Name, Email: in.Email, Role: models.RoleUser}
	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = hash

	created, err := s.repomanager.Users().Create(ctx, u)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, duplicateEmail(u.Email)
		}
		return nil, storeError(err)
	}

	return s.issue(created)
}

// Login checks email and password. An unknown email and a wrong password
// fail the same way and take about the same time.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return nil, ErrMissingCredentials
	}

	u, err := s.repomanager.Users().FindByEmail(ctx, in.Email, users.WithPasswordHash())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.hasher.Verify(in.Password, s.dummyHash())
			return nil, ErrInvalidCredentials
		}
		return nil, storeError(err)
	}

	if !s.hasher.Verify(in.Password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.issue(u)
}

// ForgotPassword stores a reset token for the identity and mails the raw
// token as a link under baseURL. If the mail cannot be sent the stored
// token is cleared again before the error is returned.
func (s *AuthService) ForgotPassword(ctx context.Context, in ForgotPasswordInput, baseURL string) error {
	if err := validateInput(in); err != nil {
		return err
	}

	repo := s.repomanager.Users()
	u, err := repo.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return ErrNoUserWithEmail
		}
		return storeError(err)
	}

	tok, err := s.resets.Generate()
	if err != nil {
		return common.Dependency(msgStoreFailure, err)
	}

	u.SetPasswordReset(tok.Hash, tok.ExpiresAt)
	if err := repo.Save(ctx, u, users.SaveOptions{Fields: users.FieldPasswordReset, SkipValidation: true}); err != nil {
		return storeError(err)
	}

	link := strings.TrimRight(baseURL, "/") + ResetPasswordPath + tok.Raw
	msg := mail.Message{
		To:      u.Email,
		Subject: fmt.Sprintf("Your password reset token (valid for %d min)", int(tok.ExpiresAt.Sub(s.now()).Round(time.Minute).Minutes())),
		Body: fmt.Sprintf("Forgot your password? Submit a PATCH request with your new password and passwordConfirm to: %s.\n"+
			"If you didn't forget your password, please ignore this email!", link),
	}

	if sendErr := s.mailer.Send(ctx, msg); sendErr != nil {
		u.ClearPasswordReset()
		// the request may already be canceled; the cleanup must still land
		if err := repo.Save(context.WithoutCancel(ctx), u, users.SaveOptions{Fields: users.FieldPasswordReset, SkipValidation: true}); err != nil {
			s.logger.Error(ctx, "failed to clear reset token after mail failure", "user_id", u.ID, "error", err)
		}
		s.logger.Warn(ctx, "reset mail not sent", "user_id", u.ID, "error", sendErr)
		return &common.Error{Kind: ErrMailDispatch.Kind, Message: ErrMailDispatch.Message, Err: sendErr}
	}

	return nil
}

// ResetPassword replaces the password of the identity holding a valid
// reset token and consumes the token. The token is checked before the new
// password, so a bad token never reaches the policy check or the hasher.
func (s *AuthService) ResetPassword(ctx context.Context, in ResetPasswordInput) (*AuthResult, error) {
	if in.Token == "" {
		return nil, ErrResetTokenInvalid
	}

	var user *models.User
	err := s.repomanager.InTx(ctx, func(ctx context.Context, repo users.Repository) error {
		u, err := repo.FindByResetTokenHash(ctx, auth.HashResetToken(in.Token), s.now())
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return ErrResetTokenInvalid
			}
			return err
		}
		if !u.HasPendingReset() || !s.resets.Verify(in.Token, *u.PasswordResetTokenHash, *u.PasswordResetExpiresAt) {
			return ErrResetTokenInvalid
		}

		if err := validateInput(in); err != nil {
			return err
		}
		if err := s.checkPasswordPolicy(in.Password); err != nil {
			return err
		}
		hash, err := s.hashPassword(in.Password)
		if err != nil {
			return err
		}

		u.PasswordHash = hash
		s.touchPasswordChanged(u)
		u.ClearPasswordReset()

		if err := repo.Save(ctx, u, users.SaveOptions{Fields: users.FieldPassword | users.FieldPasswordReset}); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}

	return s.issue(user)
}

// UpdatePassword changes the password of a logged-in identity after
// checking its current password.
func (s *AuthService) UpdatePassword(ctx context.Context, userID string, in UpdatePasswordInput) (*AuthResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	repo := s.repomanager.Users()
	u, err := repo.FindByID(ctx, userID, users.WithPasswordHash())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.hasher.Verify(in.CurrentPassword, s.dummyHash())
			return nil, ErrWrongCurrentPassword
		}
		return nil, storeError(err)
	}
	if !s.hasher.Verify(in.CurrentPassword, u.PasswordHash) {
		return nil, ErrWrongCurrentPassword
	}

	if err := s.checkPasswordPolicy(in.Password); err != nil {
		return nil, err
	}
	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = hash
	s.touchPasswordChanged(u)

	if err := repo.Save(ctx, u, users.SaveOptions{Fields: users.FieldPassword}); err != nil {
		return nil, storeError(err)
	}

	return s.issue(u)
}

// IssueFor signs a token for an existing identity.
func (s *AuthService) IssueFor(ctx context.Context, userID string) (*AuthResult, error) {
	u, err := s.repomanager.Users().FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, storeError(err)
	}
	return s.issue(u)
}

func (s *AuthService) issue(u *models.User) (*AuthResult, error) {
	token, exp, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	u.PasswordHash = ""
	return &AuthResult{User: u, Token: token, ExpiresAt: exp}, nil
}

func (s *AuthService) checkPasswordPolicy(password string) error {
	if utf8.RuneCountInString(password) < s.minPasswordLength {
		return common.Validation(fmt.Sprintf("Password must contain at least %d characters", s.minPasswordLength))
	}
	return nil
}

func (s *AuthService) hashPassword(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return "", common.Validation("Password is too long")
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// touchPasswordChanged sets PasswordChangedAt to one second before now so
// that a token issued right after the change is not considered stale. The
// value never moves backwards.
func (s *AuthService) touchPasswordChanged(u *models.User) {
	changed := s.now().Add(-time.Second)
	if u.PasswordChangedAt != nil && !changed.After(*u.PasswordChangedAt) {
		return
	}
	u.PasswordChangedAt = &changed
}

// dummyHash is verified against when no identity matched, so the response
// time does not reveal whether the email exists.
func (s *AuthService) dummyHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(string(common.GenerateRandByteArray(16)))
		if err == nil {
			s.dummy = h
		}
	})
	return s.dummy
}

func duplicateEmail(email string) error {
	return common.Validation(fmt.Sprintf("Duplicate field value %q, please use another value", email))
}

// storeError passes classified errors through and hides everything else
// behind a generic dependency failure.
func storeError(err error) error {
	var ce *common.Error
	if errors.As(err, &ce) {
		return err
	}
	return common.Dependency(msgStoreFailure, err)
}
