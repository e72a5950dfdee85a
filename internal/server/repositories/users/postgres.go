package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

const pgUniqueViolation = "23505"

const (
	selectColumns = `id, name, email, photo, role, password_changed_at,
		password_reset_token_hash, password_reset_expires_at, active, created_at`
	selectColumnsWithHash = selectColumns + `, password_hash`
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	prepareNew(user)
	if err := Validate(user); err != nil {
		return nil, err
	}
	user.ID = uuid.NewString()

	query :=
		`INSERT INTO users (id, name, email, photo, role, password_hash, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		user.ID, user.Name, user.Email, user.Photo, string(user.Role), user.PasswordHash, user.Active,
	).Scan(&user.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}

	return user, nil
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string, opts ...ReadOption) (*models.User, error) {
	o := collectReadOptions(opts)
	query := `SELECT ` + columns(o) + ` FROM users
		 WHERE email = $1 AND active`

	return r.queryOne(ctx, o, query, NormalizeEmail(email))
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string, opts ...ReadOption) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrorNotFound
	}
	o := collectReadOptions(opts)
	query := `SELECT ` + columns(o) + ` FROM users
		 WHERE id = $1 AND active`

	return r.queryOne(ctx, o, query, id)
}

// FindByResetTokenHash locks the row when called inside a transaction so
// that concurrent resets with the same token serialize.
func (r *PostgresRepository) FindByResetTokenHash(ctx context.Context, hash string, now time.Time) (*models.User, error) {
	o := readOptions{}
	query := `SELECT ` + columns(o) + ` FROM users
		 WHERE password_reset_token_hash = $1 AND password_reset_expires_at > $2 AND active
		 FOR UPDATE`

	return r.queryOne(ctx, o, query, hash, now)
}

// Save writes the column groups selected by opts. An empty PasswordHash
// keeps the stored hash, and password_changed_at never moves backwards.
func (r *PostgresRepository) Save(ctx context.Context, user *models.User, opts SaveOptions) error {
	user.Email = NormalizeEmail(user.Email)
	if !opts.SkipValidation {
		if err := Validate(user); err != nil {
			return err
		}
	}

	args := []any{user.ID}
	var sets []string
	set := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	fields := opts.fields()
	if fields.Has(FieldProfile) {
		set("name = $%d", user.Name)
		set("email = $%d", user.Email)
		set("photo = $%d", user.Photo)
	}
	if fields.Has(FieldRole) {
		set("role = $%d", string(user.Role))
	}
	if fields.Has(FieldPassword) {
		set("password_hash = COALESCE(NULLIF($%d, ''), password_hash)", user.PasswordHash)
		set("password_changed_at = GREATEST(password_changed_at, $%d)", nullTime(user.PasswordChangedAt))
	}
	if fields.Has(FieldPasswordReset) {
		set("password_reset_token_hash = $%d", nullString(user.PasswordResetTokenHash))
		set("password_reset_expires_at = $%d", nullTime(user.PasswordResetExpiresAt))
	}
	if fields.Has(FieldActive) {
		set("active = $%d", user.Active)
	}

	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapWriteError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.User, error) {
	o := readOptions{}
	query := `SELECT ` + columns(o) + ` FROM users
		 WHERE active
		 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.User
	for rows.Next() {
		u, err := scanUser(rows, o)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) queryOne(ctx context.Context, o readOptions, query string, args ...any) (*models.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, args...), o)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner, o readOptions) (*models.User, error) {
	var (
		u            models.User
		role         string
		changedAt    sql.NullTime
		resetHash    sql.NullString
		resetExpires sql.NullTime
	)

	dest := []any{&u.ID, &u.Name, &u.Email, &u.Photo, &role, &changedAt,
		&resetHash, &resetExpires, &u.Active, &u.CreatedAt}
	if o.withPasswordHash {
		dest = append(dest, &u.PasswordHash)
	}
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	u.Role = models.Role(role)
	if changedAt.Valid {
		u.PasswordChangedAt = &changedAt.Time
	}
	if resetHash.Valid && resetExpires.Valid {
		u.SetPasswordReset(resetHash.String, resetExpires.Time)
	}
	return &u, nil
}

func columns(o readOptions) string {
	if o.withPasswordHash {
		return selectColumnsWithHash
	}
	return selectColumns
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return common.ErrorAlreadyExists
	}
	return fmt.Errorf("db error: %w", err)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
