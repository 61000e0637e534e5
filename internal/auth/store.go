package auth

import "context"

// UserStore persists users. Implementations return ErrNotFound for missing
// rows and ErrDuplicateEmail when the unique email constraint fires; any other
// error is treated as the store being unavailable.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	Insert(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateProfile(ctx context.Context, userID string, displayName *string) (*User, error)
}

// RefreshTokenStore manages refresh token lifecycle. MarkRevoked succeeds
// for exactly one caller per token: later calls get ErrAlreadyRevoked and
// unknown ids ErrNotFound.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	MarkRevoked(ctx context.Context, id string) error
	MarkRevokedByUser(ctx context.Context, userID string) error
}
