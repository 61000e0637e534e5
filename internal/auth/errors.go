package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrDuplicateEmail     = errors.New("auth: email already registered")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrSubjectNotFound    = errors.New("auth: user no longer exists")
	ErrStoreUnavailable   = errors.New("auth: store unavailable")
	ErrAlreadyRevoked     = errors.New("auth: refresh token already revoked")
)

// Token errors. Callers map all of them to an authentication failure but may
// word ErrTokenExpired differently so clients know to refresh.
var (
	ErrMissingToken      = errors.New("auth: missing bearer token")
	ErrTokenMalformed    = errors.New("auth: malformed token")
	ErrTokenBadSignature = errors.New("auth: token signature mismatch")
	ErrTokenExpired      = errors.New("auth: token expired")
	ErrTokenWrongKind    = errors.New("auth: wrong token type")
	ErrTokenRevoked      = errors.New("auth: token revoked")
	ErrWeakSecret        = errors.New("auth: signing secret must be at least 32 bytes")
)

// IsTokenError reports whether err is one of the token validation failures.
func IsTokenError(err error) bool {
	switch {
	case errors.Is(err, ErrMissingToken),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTokenBadSignature),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenWrongKind),
		errors.Is(err, ErrTokenRevoked):
		return true
	}
	return false
}
