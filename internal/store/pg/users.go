package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"motolog.org/internal/auth"
)

const userColumns = `id, email, password_hash, display_name, created_at, updated_at`

func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email) = lower($1)`, strings.TrimSpace(email))
	return scanUser(row)
}

func (s *Store) FindByID(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	u, err := scanUser(row)
	if isBadID(err) {
		return nil, auth.ErrNotFound
	}
	return u, err
}

func (s *Store) Insert(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, email, password_hash, display_name, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Email, u.PasswordHash, nullString(u.DisplayName), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash = $2, updated_at = now() where id = $1`, userID, passwordHash)
	if err != nil {
		if isBadID(err) {
			return auth.ErrNotFound
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, userID string, displayName *string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		update users set display_name = $2, updated_at = now()
		where id = $1
		returning `+userColumns, userID, nullString(displayName))
	u, err := scanUser(row)
	if isBadID(err) {
		return nil, auth.ErrNotFound
	}
	return u, err
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var (
		u    auth.User
		name sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &name, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	u.DisplayName = stringPtr(name)
	return &u, nil
}
