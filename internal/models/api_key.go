package models

import "time"

// HashVersion names the algorithm an APIKey row was hashed with.
type HashVersion int

const (
	// HashVersionSHA256 is the legacy unsalted SHA-256 scheme. Rows remain
	// valid until rotated but new keys are never written with it.
	HashVersionSHA256 HashVersion = 1
	// HashVersionArgon2id is the current scheme.
	HashVersionArgon2id HashVersion = 2
)

// KeyPrefixLen is how many plaintext characters are stored for indexed
// lookup. The prefix narrows the candidate set but never authenticates.
const KeyPrefixLen = 8

// APIKey is the credential for one worker. The plaintext is shown exactly
// once at issuance; only the hash is stored.
type APIKey struct {
	BaseModel

	WorkerID string  `gorm:"not null;size:36;index" json:"worker_id"`
	Worker   *Worker `gorm:"foreignKey:WorkerID" json:"-"`

	KeyHash     string      `gorm:"not null;size:512" json:"-"`
	KeyPrefix   string      `gorm:"not null;size:8;index" json:"key_prefix"`
	HashVersion HashVersion `gorm:"not null;default:2" json:"hash_version"`

	ExpiresAt  *Time `json:"expires_at,omitempty"`
	RevokedAt  *Time `json:"revoked_at,omitempty"`
	LastUsedAt *Time `json:"last_used_at,omitempty"`
}

// TableName returns the table name for APIKey.
func (APIKey) TableName() string {
	return "api_keys"
}

// Usable reports whether the key may authenticate at now: not revoked and
// not expired.
func (k *APIKey) Usable(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && !AsUTC(*k.ExpiresAt).After(now) {
		return false
	}
	return true
}
