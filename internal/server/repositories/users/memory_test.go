package users

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

func createUser(t *testing.T, r *MemoryRepository, email string) *models.User {
	t.Helper()
	u, err := r.Create(context.Background(), &models.User{Name: "Test", Email: email, PasswordHash: "hash"})
	require.NoError(t, err)
	return u
}

func TestMemory_CreateDefaultsAndUniqueness(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	u := createUser(t, r, " Mixed@Case.com ")
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "mixed@case.com", u.Email)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.Equal(t, models.DefaultPhoto, u.Photo)
	assert.True(t, u.Active)
	assert.Nil(t, u.PasswordChangedAt)

	_, err := r.Create(ctx, &models.User{Name: "Other", Email: "MIXED@case.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)

	_, err = r.Create(ctx, &models.User{Name: "Other", Email: "nope", PasswordHash: "h"})
	assert.Equal(t, common.KindValidation, common.KindOf(err))
}

func TestMemory_PasswordHashOnlyOnRequest(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	u := createUser(t, r, "a@x.com")

	got, err := r.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PasswordHash)

	got, err = r.FindByEmail(ctx, "A@X.com", WithPasswordHash())
	require.NoError(t, err)
	assert.Equal(t, "hash", got.PasswordHash)
}

func TestMemory_ReturnedRecordsAreCopies(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	u := createUser(t, r, "a@x.com")

	u.Name = "Changed"
	got, err := r.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Test", got.Name)
}

func TestMemory_InactiveInvisible(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	u := createUser(t, r, "a@x.com")

	u.Active = false
	require.NoError(t, r.Save(ctx, u, SaveOptions{}))

	_, err := r.FindByID(ctx, u.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = r.FindByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	// the address stays reserved
	_, err = r.Create(ctx, &models.User{Name: "B", Email: "a@x.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
}

func TestMemory_ResetTokenLookup(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	u := createUser(t, r, "a@x.com")

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	u.SetPasswordReset("abc", now.Add(10*time.Minute))
	require.NoError(t, r.Save(ctx, u, SaveOptions{}))

	got, err := r.FindByResetTokenHash(ctx, "abc", now)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = r.FindByResetTokenHash(ctx, "abc", now.Add(10*time.Minute))
	assert.ErrorIs(t, err, common.ErrorNotFound, "expired at the boundary")

	_, err = r.FindByResetTokenHash(ctx, "other", now)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMemory_SaveKeepsHashAndMonotonicChangedAt(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	u := createUser(t, r, "a@x.com")

	later := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	u.PasswordChangedAt = &later
	require.NoError(t, r.Save(ctx, u, SaveOptions{}))

	loaded, err := r.FindByID(ctx, u.ID)
	require.NoError(t, err)
	earlier := later.Add(-time.Hour)
	loaded.PasswordChangedAt = &earlier
	loaded.Name = "Renamed"
	require.NoError(t, r.Save(ctx, loaded, SaveOptions{}))

	got, err := r.FindByID(ctx, u.ID, WithPasswordHash())
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.True(t, got.PasswordChangedAt.Equal(later))
}

func TestMemory_SaveSelectedFieldsKeepsConcurrentReset(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	u := createUser(t, r, "a@x.com")

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	u.SetPasswordReset("abc", now.Add(10*time.Minute))
	require.NoError(t, r.Save(ctx, u, SaveOptions{Fields: FieldPasswordReset}))

	stale, err := r.FindByID(ctx, u.ID)
	require.NoError(t, err)

	// the reset completes between the read and the profile write
	consumed, err := r.FindByResetTokenHash(ctx, "abc", now)
	require.NoError(t, err)
	consumed.PasswordHash = "new-hash"
	consumed.PasswordChangedAt = &now
	consumed.ClearPasswordReset()
	require.NoError(t, r.Save(ctx, consumed, SaveOptions{Fields: FieldPassword | FieldPasswordReset}))

	stale.Name = "Renamed"
	stale.Role = models.RoleAdmin
	require.NoError(t, r.Save(ctx, stale, SaveOptions{Fields: FieldProfile}))

	_, err = r.FindByResetTokenHash(ctx, "abc", now)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	got, err := r.FindByID(ctx, u.ID, WithPasswordHash())
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, models.RoleUser, got.Role)
	assert.Equal(t, "new-hash", got.PasswordHash)
	assert.False(t, got.HasPendingReset())
}

func TestMemory_SaveProfileChecksEmailOnlyWhenSelected(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	a := createUser(t, r, "a@x.com")
	createUser(t, r, "b@x.com")

	a.Email = "b@x.com"
	a.Role = models.RoleGuide
	require.NoError(t, r.Save(ctx, a, SaveOptions{Fields: FieldRole}))

	got, err := r.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", got.Email)
	assert.Equal(t, models.RoleGuide, got.Role)
}

func TestMemory_SaveSkipValidation(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	u := createUser(t, r, "a@x.com")

	u.Name = ""
	assert.Equal(t, common.KindValidation, common.KindOf(r.Save(ctx, u, SaveOptions{})))
	assert.NoError(t, r.Save(ctx, u, SaveOptions{SkipValidation: true}))
}

func TestMemory_SaveErrors(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	a := createUser(t, r, "a@x.com")
	createUser(t, r, "b@x.com")

	a.Email = "b@x.com"
	assert.ErrorIs(t, r.Save(ctx, a, SaveOptions{}), common.ErrorAlreadyExists)

	ghost := &models.User{ID: "missing", Name: "G", Email: "g@x.com", Role: models.RoleUser}
	assert.ErrorIs(t, r.Save(ctx, ghost, SaveOptions{}), common.ErrorNotFound)
}

func TestMemory_ConcurrentCreates(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create(ctx, &models.User{Name: "Same", Email: "same@x.com", PasswordHash: "h"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, common.ErrorAlreadyExists)
		}
	}
	assert.Equal(t, 1, ok)
}
