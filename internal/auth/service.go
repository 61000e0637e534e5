package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"motolog.org/internal/ids"
	"motolog.org/internal/obs"
)

const (
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14

	minPasswordLength  = 8
	maxDisplayNameLen  = 120
	maxEmailLength     = 255
	authHeaderScheme   = "bearer "
	dummyPasswordInput = "motolog-timing-equalizer"
)

// Service registers users, exchanges credentials for tokens and validates
// bearer tokens on protected requests.
type Service struct {
	users   UserStore
	refresh RefreshTokenStore
	codec   *TokenCodec
	hasher  PasswordHasher
	now     func() time.Time

	accessTTL  time.Duration
	refreshTTL time.Duration

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithRefreshStore makes refresh tokens stateful: every issued refresh token
// is recorded, rotated on use and revocable. Without it refresh tokens are
// self-expiring and cannot be revoked before their expiry.
func WithRefreshStore(store RefreshTokenStore) ServiceOption {
	return func(s *Service) error {
		s.refresh = store
		return nil
	}
}

// WithHasher replaces the password hasher.
func WithHasher(h PasswordHasher) ServiceOption {
	return func(s *Service) error {
		if h == nil {
			return errors.New("auth: hasher is nil")
		}
		s.hasher = h
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(users UserStore, codec *TokenCodec, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	if codec == nil {
		return nil, errors.New("auth: token codec is required")
	}
	svc := &Service{
		users:      users,
		codec:      codec,
		hasher:     DefaultHasher(),
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// Register creates an account. The password is hashed before it reaches the store.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return User{}, err
	}
	if err := validatePassword(password); err != nil {
		return User{}, err
	}
	name, err := normalizeDisplayName(&displayName)
	if err != nil {
		return User{}, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	u := &User{
		ID:           ids.NewUserID(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Insert(ctx, u); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateEmail):
			obs.RecordAuthEvent("register", "duplicate")
			return User{}, ErrDuplicateEmail
		case errors.Is(err, ErrInvalidInput):
			return User{}, err
		default:
			return User{}, storeUnavailable(err)
		}
	}
	obs.RecordAuthEvent("register", "success")
	return u.PublicView(), nil
}

// Login exchanges credentials for a token pair. An unknown email and a wrong
// password both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, error) {
	email, err := normalizeEmail(email)
	if err != nil || password == "" {
		obs.RecordAuthEvent("login", "failure")
		return TokenPair{}, ErrInvalidCredentials
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Spend the same hashing effort as for a real account.
			s.hasher.Verify(s.dummy(), password)
			obs.RecordAuthEvent("login", "failure")
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, storeUnavailable(err)
	}
	if !s.hasher.Verify(user.PasswordHash, password) {
		obs.RecordAuthEvent("login", "failure")
		return TokenPair{}, ErrInvalidCredentials
	}
	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.upgradeHash(ctx, user.ID, password)
	}

	pair, err := s.mintTokens(ctx, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	obs.RecordAuthEvent("login", "success")
	return pair, nil
}

// Refresh redeems a refresh token for a new access token. With a refresh
// store the presented token is revoked and a new one is returned; without
// one the presented token is handed back unchanged.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.codec.ParseKind(refreshToken, KindRefresh)
	if err != nil {
		obs.RecordAuthEvent("refresh", "rejected")
		return TokenPair{}, err
	}

	if s.refresh != nil {
		rec, err := s.refresh.Find(ctx, claims.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				obs.RecordAuthEvent("refresh", "rejected")
				return TokenPair{}, ErrTokenRevoked
			}
			return TokenPair{}, storeUnavailable(err)
		}
		if rec.UserID != claims.Subject {
			return TokenPair{}, ErrTokenRevoked
		}
		if rec.Revoked {
			return TokenPair{}, s.refreshReused(ctx, rec.UserID)
		}
	}

	if _, err := s.users.FindByID(ctx, claims.Subject); err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.RecordAuthEvent("refresh", "user_gone")
			return TokenPair{}, ErrSubjectNotFound
		}
		return TokenPair{}, storeUnavailable(err)
	}

	if s.refresh == nil {
		access, accessClaims, err := s.codec.Issue(claims.Subject, KindAccess, s.accessTTL)
		if err != nil {
			return TokenPair{}, err
		}
		obs.RecordAuthEvent("refresh", "success")
		return TokenPair{
			AccessToken:      access,
			RefreshToken:     strings.TrimSpace(refreshToken),
			AccessExpiresAt:  accessClaims.ExpiresAt,
			RefreshExpiresAt: claims.ExpiresAt,
		}, nil
	}

	// Find above is only a fast path: the revoke is the single-use check.
	if err := s.refresh.MarkRevoked(ctx, claims.ID); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyRevoked):
			return TokenPair{}, s.refreshReused(ctx, claims.Subject)
		case errors.Is(err, ErrNotFound):
			obs.RecordAuthEvent("refresh", "rejected")
			return TokenPair{}, ErrTokenRevoked
		}
		return TokenPair{}, storeUnavailable(err)
	}
	pair, err := s.mintTokens(ctx, claims.Subject)
	if err != nil {
		return TokenPair{}, err
	}
	obs.RecordAuthEvent("refresh", "success")
	return pair, nil
}

// refreshReused handles a rotated token coming back: the whole family is
// treated as leaked.
func (s *Service) refreshReused(ctx context.Context, userID string) error {
	if err := s.refresh.MarkRevokedByUser(ctx, userID); err != nil {
		obs.Log("warn", "revoke refresh tokens after reuse failed", map[string]any{
			"user_id": userID,
			"error":   err,
		})
	}
	obs.RecordAuthEvent("refresh", "reused")
	return ErrTokenRevoked
}

// Logout revokes a refresh token. Expired tokens are already unusable, so
// they are accepted silently.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.codec.ParseKind(refreshToken, KindRefresh)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil
		}
		return err
	}
	if s.refresh == nil {
		return nil
	}
	if err := s.refresh.MarkRevoked(ctx, claims.ID); err != nil &&
		!errors.Is(err, ErrNotFound) && !errors.Is(err, ErrAlreadyRevoked) {
		return storeUnavailable(err)
	}
	obs.RecordAuthEvent("logout", "success")
	return nil
}

// AuthenticateRequest validates an Authorization header value and returns
// the user id it asserts. Only access tokens are accepted.
func (s *Service) AuthenticateRequest(ctx context.Context, header string) (string, error) {
	token, err := ExtractBearerToken(header)
	if err != nil {
		return "", err
	}
	claims, err := s.codec.ParseKind(token, KindAccess)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Profile returns the public view of the user.
func (s *Service) Profile(ctx context.Context, userID string) (User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrSubjectNotFound
		}
		return User{}, storeUnavailable(err)
	}
	return u.PublicView(), nil
}

// UpdateProfile sets or clears the display name.
func (s *Service) UpdateProfile(ctx context.Context, userID string, displayName *string) (User, error) {
	name, err := normalizeDisplayName(displayName)
	if err != nil {
		return User{}, err
	}
	u, err := s.users.UpdateProfile(ctx, userID, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrSubjectNotFound
		}
		return User{}, storeUnavailable(err)
	}
	return u.PublicView(), nil
}

// ChangePassword replaces the credential after checking the current one and
// revokes every refresh token of the user.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrSubjectNotFound
		}
		return storeUnavailable(err)
	}
	if !s.hasher.Verify(u.PasswordHash, current) {
		obs.RecordAuthEvent("password_change", "failure")
		return ErrInvalidCredentials
	}
	if err := validatePassword(next); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash); err != nil {
		return storeUnavailable(err)
	}
	if s.refresh != nil {
		if err := s.refresh.MarkRevokedByUser(ctx, u.ID); err != nil {
			return storeUnavailable(err)
		}
	}
	obs.RecordAuthEvent("password_change", "success")
	return nil
}

func (s *Service) mintTokens(ctx context.Context, userID string) (TokenPair, error) {
	access, accessClaims, err := s.codec.Issue(userID, KindAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshClaims, err := s.codec.Issue(userID, KindRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	if s.refresh != nil {
		rec := &RefreshToken{
			ID:        refreshClaims.ID,
			UserID:    userID,
			ExpiresAt: refreshClaims.ExpiresAt,
			CreatedAt: refreshClaims.IssuedAt,
		}
		if err := s.refresh.Create(ctx, rec); err != nil {
			return TokenPair{}, storeUnavailable(err)
		}
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt,
		RefreshExpiresAt: refreshClaims.ExpiresAt,
	}, nil
}

func (s *Service) upgradeHash(ctx context.Context, userID, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePassword(ctx, userID, hash)
	}
	if err != nil {
		obs.Log("warn", "password rehash failed", map[string]any{"user_id": userID, "error": err})
	}
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash(dummyPasswordInput)
	})
	return s.dummyHash
}

// ExtractBearerToken returns the token from an "Authorization: Bearer" value.
func ExtractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if len(header) < len(authHeaderScheme) || !strings.EqualFold(header[:len(authHeaderScheme)], authHeaderScheme) {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(header[len(authHeaderScheme):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > maxEmailLength {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	return email, nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	return nil
}

func normalizeDisplayName(name *string) (*string, error) {
	if name == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*name)
	if trimmed == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(trimmed) > maxDisplayNameLen {
		return nil, fmt.Errorf("%w: display_name must be at most %d characters", ErrInvalidInput, maxDisplayNameLen)
	}
	return &trimmed, nil
}

func storeUnavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
