package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"motolog.org/internal/ids"
)

// TokenKind separates access tokens from refresh tokens so neither can be
// replayed in place of the other.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

const (
	defaultIssuer  = "motolog"
	minSecretBytes = 32
)

// Claims is the verified content of a token.
type Claims struct {
	Subject   string
	Kind      TokenKind
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type jwtClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 tokens with a secret fixed at
// construction. Rotating the secret means building a new codec, which
// invalidates every outstanding token.
type TokenCodec struct {
	secret []byte
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

// CodecOption configures TokenCodec.
type CodecOption func(*TokenCodec)

// WithIssuer overrides the iss claim written and required by the codec.
func WithIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithCodecClock overrides the time source (tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewTokenCodec copies secret; later changes to the caller's slice have no effect.
func NewTokenCodec(secret []byte, opts ...CodecOption) (*TokenCodec, error) {
	if len(secret) < minSecretBytes {
		return nil, ErrWeakSecret
	}
	c := &TokenCodec{
		secret: append([]byte(nil), secret...),
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	// Expiry is checked by Parse itself so that "expired" can be told apart
	// from every other failure without depending on library leeway rules.
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	return c, nil
}

// Issue signs a token for subject and returns it with the claims it carries.
// A ttl of zero produces a token that is already expired.
func (c *TokenCodec) Issue(subject string, kind TokenKind, ttl time.Duration) (string, Claims, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", Claims{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if kind != KindAccess && kind != KindRefresh {
		return "", Claims{}, fmt.Errorf("%w: unknown token kind %q", ErrInvalidInput, kind)
	}
	if ttl < 0 {
		return "", Claims{}, fmt.Errorf("%w: ttl must not be negative", ErrInvalidInput)
	}

	now := c.now().UTC()
	exp := now.Add(ttl)
	claims := jwtClaims{
		TokenType: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ids.New(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, Claims{
		Subject:   subject,
		Kind:      kind,
		ID:        claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Parse verifies the signature, structure and expiry of token.
func (c *TokenCodec) Parse(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrTokenMalformed
	}

	var raw jwtClaims
	_, err := c.parser.ParseWithClaims(token, &raw, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return Claims{}, ErrTokenBadSignature
		}
		return Claims{}, ErrTokenMalformed
	}

	if raw.Issuer != c.issuer || strings.TrimSpace(raw.Subject) == "" || raw.ExpiresAt == nil {
		return Claims{}, ErrTokenMalformed
	}
	kind := TokenKind(raw.TokenType)
	if kind != KindAccess && kind != KindRefresh {
		return Claims{}, ErrTokenMalformed
	}

	claims := Claims{
		Subject:   raw.Subject,
		Kind:      kind,
		ID:        raw.ID,
		ExpiresAt: raw.ExpiresAt.Time,
	}
	if raw.IssuedAt != nil {
		claims.IssuedAt = raw.IssuedAt.Time
	}
	if !c.now().Before(claims.ExpiresAt) {
		return claims, ErrTokenExpired
	}
	return claims, nil
}

// ParseKind is Parse plus a check that the token is of the wanted kind.
func (c *TokenCodec) ParseKind(token string, want TokenKind) (Claims, error) {
	claims, err := c.Parse(token)
	if err != nil {
		return Claims{}, err
	}
	if claims.Kind != want {
		return Claims{}, ErrTokenWrongKind
	}
	return claims, nil
}
