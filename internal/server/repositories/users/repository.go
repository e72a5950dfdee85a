// Package users is the credential store adapter: lookups and writes of
// identity records. Inactive identities are invisible to every lookup.
package users

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

type Repository interface {
	FindByEmail(ctx context.Context, email string, opts ...ReadOption) (*models.User, error)
	FindByID(ctx context.Context, id string, opts ...ReadOption) (*models.User, error)
	// FindByResetTokenHash only matches reset tokens still valid at now.
	FindByResetTokenHash(ctx context.Context, hash string, now time.Time) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	Save(ctx context.Context, user *models.User, opts SaveOptions) error
	List(ctx context.Context) ([]*models.User, error)
}

// Field selects a group of columns written by Save.
type Field uint8

const (
	// FieldProfile covers name, email and photo.
	FieldProfile Field = 1 << iota
	FieldRole
	// FieldPassword covers the password hash and PasswordChangedAt.
	FieldPassword
	// FieldPasswordReset covers the reset token hash and its expiry.
	FieldPasswordReset
	FieldActive

	FieldAll = FieldProfile | FieldRole | FieldPassword | FieldPasswordReset | FieldActive
)

// Has reports whether every field of g is selected.
func (f Field) Has(g Field) bool {
	return f&g == g
}

// SaveOptions tunes Save. Fields limits the write to the selected column
// groups; the zero value writes all of them. SkipValidation writes the
// record as is, which the forgot-password rollback relies on.
type SaveOptions struct {
	Fields         Field
	SkipValidation bool
}

func (o SaveOptions) fields() Field {
	if o.Fields == 0 {
		return FieldAll
	}
	return o.Fields
}

type readOptions struct {
	withPasswordHash bool
}

// ReadOption tunes a lookup.
type ReadOption func(*readOptions)

// WithPasswordHash includes the password hash in the returned record.
// Without it PasswordHash is left empty.
func WithPasswordHash() ReadOption {
	return func(o *readOptions) { o.withPasswordHash = true }
}

func collectReadOptions(opts []ReadOption) readOptions {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var validate = validator.New()

// prepareNew fills defaults on a record about to be created.
func prepareNew(u *models.User) {
	u.Email = NormalizeEmail(u.Email)
	u.Name = strings.TrimSpace(u.Name)
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.Photo == "" {
		u.Photo = models.DefaultPhoto
	}
	u.Active = true
}

// Validate checks the write-time constraints of an identity record.
func Validate(u *models.User) error {
	if strings.TrimSpace(u.Name) == "" {
		return common.Validation("Please tell us your name!")
	}
	if u.Email == "" {
		return common.Validation("Please provide your email")
	}
	if err := validate.Var(u.Email, "email"); err != nil {
		return common.Validation("Please provide a valid email")
	}
	if !u.Role.Valid() {
		return common.Validation("Role is either: user, guide, lead-guide, admin")
	}
	if u.PasswordHash == "" && u.ID == "" {
		return common.Validation("Please provide a password")
	}
	if (u.PasswordResetTokenHash == nil) != (u.PasswordResetExpiresAt == nil) {
		return common.Validation("reset token hash and expiry must be set together")
	}
	return nil
}
