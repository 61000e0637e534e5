package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// PasswordHasher hashes and verifies user passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
	NeedsRehash(hash string) bool
}

// Argon2Hasher produces argon2id PHC strings. Verify additionally accepts
// bcrypt hashes and passlib pbkdf2-sha256 hashes written by older releases so
// those accounts can still log in and get upgraded.
type Argon2Hasher struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
	SaltLength  uint32
}

// DefaultHasher returns the production argon2id parameters.
func DefaultHasher() Argon2Hasher {
	return Argon2Hasher{
		Memory:      64 * 1024,
		Iterations:  2,
		Parallelism: 1,
		KeyLength:   32,
		SaltLength:  16,
	}
}

// Upper bounds for parameters read from stored hashes.
const (
	maxPBKDF2Rounds     = 5_000_000
	maxArgon2Memory     = 1 << 20 // KiB
	maxArgon2Iterations = 64
	maxArgon2Threads    = 64
	maxArgon2KeyLength  = 512
)

// HashPassword hashes plaintext password using the default argon2id parameters.
func HashPassword(password string) (string, error) {
	return DefaultHasher().Hash(password)
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) bool {
	return DefaultHasher().Verify(hash, password)
}

func (h Argon2Hasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	salt := make([]byte, h.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.Iterations, h.Memory, h.Parallelism, h.KeyLength)
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.Memory,
		h.Iterations,
		h.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify never returns an error: a hash it cannot parse simply does not match.
func (h Argon2Hasher) Verify(hash, password string) bool {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return verifyArgon2(hash, password)
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	case strings.HasPrefix(hash, "$pbkdf2-sha256$"):
		return verifyPassLibPBKDF2(hash, password)
	default:
		return false
	}
}

// NeedsRehash reports whether hash was produced by another algorithm or with
// weaker argon2 parameters than h.
func (h Argon2Hasher) NeedsRehash(hash string) bool {
	params, _, _, err := parseArgon2(hash)
	if err != nil {
		return true
	}
	return params.memory < h.Memory || params.iterations < h.Iterations || params.keyLength < h.KeyLength
}

type argon2Params struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	keyLength   uint32
}

func parseArgon2(hash string) (argon2Params, []byte, []byte, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return argon2Params{}, nil, nil, errors.New("invalid argon2id hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return argon2Params{}, nil, nil, errors.New("unsupported argon2 version")
	}
	var p argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.iterations, &p.parallelism); err != nil {
		return argon2Params{}, nil, nil, fmt.Errorf("argon2 params: %w", err)
	}
	if p.memory == 0 || p.iterations == 0 || p.parallelism == 0 ||
		p.memory > maxArgon2Memory || p.iterations > maxArgon2Iterations || p.parallelism > maxArgon2Threads {
		return argon2Params{}, nil, nil, errors.New("argon2 params out of range")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return argon2Params{}, nil, nil, fmt.Errorf("argon2 salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 || len(key) > maxArgon2KeyLength {
		return argon2Params{}, nil, nil, errors.New("argon2 key")
	}
	p.keyLength = uint32(len(key))
	return p, salt, key, nil
}

func verifyArgon2(hash, password string) bool {
	p, salt, key, err := parseArgon2(hash)
	if err != nil {
		return false
	}
	candidate := argon2.IDKey([]byte(password), salt, p.iterations, p.memory, p.parallelism, p.keyLength)
	return subtle.ConstantTimeCompare(candidate, key) == 1
}

// passlib writes "$pbkdf2-sha256$<rounds>$<salt>$<checksum>" using its "ab64"
// alphabet: standard base64 with '.' instead of '+' and no padding.
func verifyPassLibPBKDF2(hash, password string) bool {
	parts := strings.Split(hash, "$")
	if len(parts) != 5 {
		return false
	}
	rounds, err := strconv.Atoi(parts[2])
	if err != nil || rounds <= 0 || rounds > maxPBKDF2Rounds {
		return false
	}
	salt, err := decodeAB64(parts[3])
	if err != nil {
		return false
	}
	checksum, err := decodeAB64(parts[4])
	if err != nil || len(checksum) == 0 {
		return false
	}
	candidate := pbkdf2.Key([]byte(password), salt, rounds, len(checksum), sha256.New)
	return subtle.ConstantTimeCompare(candidate, checksum) == 1
}

func decodeAB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.ReplaceAll(s, ".", "+"))
}
