package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vlogmedia/vlog/internal/models"
)

func TestGenerateAPIKey(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		key, prefix, err := GenerateAPIKey()
		require.NoError(t, err)
		require.Len(t, prefix, models.KeyPrefixLen)
		require.Equal(t, key[:models.KeyPrefixLen], prefix)
		require.GreaterOrEqual(t, len(key), 40)
		require.False(t, seen[key], "keys must be unique")
		seen[key] = true
	}
}

func TestVerifyAPIKey_Argon2id(t *testing.T) {
	key, _, err := GenerateAPIKey()
	require.NoError(t, err)

	hash, err := HashAPIKey(key)
	require.NoError(t, err)
	require.Contains(t, hash, "$argon2id$")

	require.NoError(t, VerifyAPIKey(key, hash, models.HashVersionArgon2id))
	require.ErrorIs(t, VerifyAPIKey("wrong-key", hash, models.HashVersionArgon2id), ErrInvalidCredentials)
	require.ErrorIs(t, VerifyAPIKey(key, "garbage", models.HashVersionArgon2id), ErrInvalidCredentials)
}

func TestVerifyAPIKey_LegacySHA256(t *testing.T) {
	const key = "legacy-plaintext-key"
	sum := sha256.Sum256([]byte(key))
	stored := hex.EncodeToString(sum[:])

	require.NoError(t, VerifyAPIKey(key, stored, models.HashVersionSHA256))
	require.ErrorIs(t, VerifyAPIKey("wrong", stored, models.HashVersionSHA256), ErrInvalidCredentials)
}

func TestVerifyAPIKey_UnknownVersion(t *testing.T) {
	require.ErrorIs(t, VerifyAPIKey("key", "hash", models.HashVersion(99)), ErrInvalidCredentials)
}

func TestSessionTokens(t *testing.T) {
	token, hash, err := GenerateSessionToken()
	require.NoError(t, err)
	// 48 bytes of entropy is 64 base64url characters.
	require.Len(t, token, 64)
	require.Equal(t, HashSessionToken(token), hash)
	require.Len(t, hash, 64)

	other, _, err := GenerateSessionToken()
	require.NoError(t, err)
	require.NotEqual(t, token, other)
}
