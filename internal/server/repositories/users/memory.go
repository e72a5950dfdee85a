package users

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

// MemoryRepository keeps identities in process memory. Records are copied
// on the way in and out so callers never share state with the store.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]*models.User
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]*models.User), now: time.Now}
}

func (r *MemoryRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	prepareNew(user)
	if err := Validate(user); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.emailTakenLocked(user.Email, "") {
		return nil, common.ErrorAlreadyExists
	}

	user.ID = uuid.NewString()
	user.CreatedAt = r.now().UTC()
	r.users[user.ID] = user.Clone()

	return user, nil
}

func (r *MemoryRepository) FindByEmail(ctx context.Context, email string, opts ...ReadOption) (*models.User, error) {
	email = NormalizeEmail(email)
	o := collectReadOptions(opts)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Active && u.Email == email {
			return project(u, o), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *MemoryRepository) FindByID(ctx context.Context, id string, opts ...ReadOption) (*models.User, error) {
	o := collectReadOptions(opts)

	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok || !u.Active {
		return nil, common.ErrorNotFound
	}
	return project(u, o), nil
}

func (r *MemoryRepository) FindByResetTokenHash(ctx context.Context, hash string, now time.Time) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if !u.Active || !u.HasPendingReset() {
			continue
		}
		if *u.PasswordResetTokenHash == hash && u.PasswordResetExpiresAt.After(now) {
			return project(u, readOptions{}), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *MemoryRepository) Save(ctx context.Context, user *models.User, opts SaveOptions) error {
	user.Email = NormalizeEmail(user.Email)
	if !opts.SkipValidation {
		if err := Validate(user); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.users[user.ID]
	if !ok {
		return common.ErrorNotFound
	}

	fields := opts.fields()
	next := stored.Clone()
	src := user.Clone()

	if fields.Has(FieldProfile) {
		if r.emailTakenLocked(src.Email, src.ID) {
			return common.ErrorAlreadyExists
		}
		next.Name, next.Email, next.Photo = src.Name, src.Email, src.Photo
	}
	if fields.Has(FieldRole) {
		next.Role = src.Role
	}
	if fields.Has(FieldPassword) {
		if src.PasswordHash != "" {
			next.PasswordHash = src.PasswordHash
		}
		if src.PasswordChangedAt != nil &&
			(next.PasswordChangedAt == nil || src.PasswordChangedAt.After(*next.PasswordChangedAt)) {
			next.PasswordChangedAt = src.PasswordChangedAt
		}
	}
	if fields.Has(FieldPasswordReset) {
		next.PasswordResetTokenHash = src.PasswordResetTokenHash
		next.PasswordResetExpiresAt = src.PasswordResetExpiresAt
	}
	if fields.Has(FieldActive) {
		next.Active = src.Active
	}
	r.users[user.ID] = next

	return nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.User, 0, len(r.users))
	for _, u := range r.users {
		if u.Active {
			result = append(result, project(u, readOptions{}))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MemoryRepository) emailTakenLocked(email, exceptID string) bool {
	for id, u := range r.users {
		if id != exceptID && u.Email == email {
			return true
		}
	}
	return false
}

func project(u *models.User, o readOptions) *models.User {
	c := u.Clone()
	if !o.withPasswordHash {
		c.PasswordHash = ""
	}
	return c
}
