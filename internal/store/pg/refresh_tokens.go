package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"motolog.org/internal/auth"
)

func (s *Store) Create(ctx context.Context, tok *auth.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, expires_at, created_at)
		values ($1, $2, $3, $4)
	`, tok.ID, tok.UserID, tok.ExpiresAt, tok.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) Find(ctx context.Context, id string) (*auth.RefreshToken, error) {
	var tok auth.RefreshToken
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, expires_at, created_at, revoked_at is not null
		from refresh_tokens where id = $1
	`, id).Scan(&tok.ID, &tok.UserID, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *Store) MarkRevoked(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at = now() where id = $1 and revoked_at is null`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 1 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from refresh_tokens where id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return auth.ErrAlreadyRevoked
	}
	return auth.ErrNotFound
}

func (s *Store) MarkRevokedByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at = now() where user_id = $1 and revoked_at is null`, userID)
	return err
}

// PurgeExpiredRefreshTokens deletes tokens that expired before the cutoff.
func (s *Store) PurgeExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
