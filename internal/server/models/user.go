// Package models defines server-side data models persisted in the database.
package models

import (
	"slices"
	"time"
)

// Role is the access level of an identity.
type Role string

const (
	RoleUser      Role = "user"
	RoleGuide     Role = "guide"
	RoleLeadGuide Role = "lead-guide"
	RoleAdmin     Role = "admin"
)

// Roles lists every known role, lowest privilege first.
var Roles = []Role{RoleUser, RoleGuide, RoleLeadGuide, RoleAdmin}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return slices.Contains(Roles, r)
}

// DefaultPhoto is assigned to identities created without a photo.
const DefaultPhoto = "default.jpg"

// User is the identity record. Fields tagged json:"-" never leave the server.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Photo     string    `json:"photo"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`

	// PasswordHash is only populated when explicitly requested from the store.
	PasswordHash string `json:"-"`

	PasswordChangedAt *time.Time `json:"-"`

	// Reset token hash and its expiry are set and cleared together.
	PasswordResetTokenHash *string    `json:"-"`
	PasswordResetExpiresAt *time.Time `json:"-"`

	Active bool `json:"-"`
}

// SetPasswordReset records a pending reset.
func (u *User) SetPasswordReset(hash string, expiresAt time.Time) {
	u.PasswordResetTokenHash = &hash
	u.PasswordResetExpiresAt = &expiresAt
}

// ClearPasswordReset drops any pending reset.
func (u *User) ClearPasswordReset() {
	u.PasswordResetTokenHash = nil
	u.PasswordResetExpiresAt = nil
}

// HasPendingReset reports whether a reset token is stored.
func (u *User) HasPendingReset() bool {
	return u.PasswordResetTokenHash != nil && u.PasswordResetExpiresAt != nil
}

// ChangedPasswordAfter reports whether the password was changed after a
// token issued at iat. Comparison is in whole seconds, the resolution of
// token timestamps.
func (u *User) ChangedPasswordAfter(iat time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return iat.Unix() < u.PasswordChangedAt.Unix()
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.PasswordChangedAt != nil {
		t := *u.PasswordChangedAt
		c.PasswordChangedAt = &t
	}
	if u.PasswordResetTokenHash != nil {
		h := *u.PasswordResetTokenHash
		c.PasswordResetTokenHash = &h
	}
	if u.PasswordResetExpiresAt != nil {
		t := *u.PasswordResetExpiresAt
		c.PasswordResetExpiresAt = &t
	}
	return &c
}
