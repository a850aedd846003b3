// Package auth implements credential generation and verification for worker
// API keys and admin session tokens. Plaintext credentials are shown once at
// issuance; only hashes are stored, and verification failures are reported
// with a single generic error so callers cannot leak which check failed.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/vlogmedia/vlog/internal/models"
	"golang.org/x/crypto/argon2"
)

// ErrInvalidCredentials is the only verification error surfaced to callers.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Key and token entropy sizes, in raw bytes before base64url encoding.
const (
	apiKeyBytes       = 32
	sessionTokenBytes = 48
)

// Argon2id parameters for new API key hashes.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// GenerateAPIKey returns a new plaintext API key and its lookup prefix.
// The plaintext must be delivered to the worker and then discarded.
func GenerateAPIKey() (plaintext, prefix string, err error) {
	raw := make([]byte, apiKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generating API key: %w", err)
	}
	plaintext = base64.RawURLEncoding.EncodeToString(raw)
	return plaintext, plaintext[:models.KeyPrefixLen], nil
}

// HashAPIKey hashes a plaintext key with argon2id, returning the standard
// encoded form ($argon2id$v=19$m=...,t=...,p=...$salt$hash).
func HashAPIKey(plaintext string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	hash := argon2.IDKey([]byte(plaintext), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyAPIKey checks plaintext against a stored hash. Legacy SHA-256 rows
// stay verifiable until rotated; new hashes are always argon2id.
func VerifyAPIKey(plaintext, stored string, version models.HashVersion) error {
	switch version {
	case models.HashVersionArgon2id:
		return verifyArgon2id(plaintext, stored)
	case models.HashVersionSHA256:
		sum := sha256.Sum256([]byte(plaintext))
		if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(stored)) != 1 {
			return ErrInvalidCredentials
		}
		return nil
	default:
		return ErrInvalidCredentials
	}
}

// verifyArgon2id parses the encoded hash and recomputes with its parameters.
func verifyArgon2id(plaintext, stored string) error {
	parts := strings.Split(stored, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return ErrInvalidCredentials
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return ErrInvalidCredentials
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return ErrInvalidCredentials
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrInvalidCredentials
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return ErrInvalidCredentials
	}

	got := argon2.IDKey([]byte(plaintext), salt, iterations, memory, threads, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// GenerateSessionToken returns a new opaque admin session token and the
// SHA-256 hex digest stored in the catalog.
func GenerateSessionToken() (token, tokenHash string, err error) {
	raw := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generating session token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(raw)
	return token, HashSessionToken(token), nil
}

// HashSessionToken returns the SHA-256 hex digest of a session token.
func HashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEquals compares two strings without leaking the match position.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
