package models

import "time"

// AdminSession is a server-side session for the operator UI. The opaque
// token is delivered only via an HTTP-only cookie; the store keeps a hash.
type AdminSession struct {
	BaseModel

	// TokenHash is the SHA-256 of the opaque session token. The token
	// itself carries at least 48 bytes of entropy, base64url-encoded.
	TokenHash string `gorm:"uniqueIndex;not null;size:64" json:"-"`

	ExpiresAt  Time  `gorm:"not null;index" json:"expires_at"`
	LastUsedAt *Time `json:"last_used_at,omitempty"`

	IPAddress string `gorm:"size:45" json:"ip_address,omitempty"`
	UserAgent string `gorm:"size:255" json:"user_agent,omitempty"`
}

// TableName returns the table name for AdminSession.
func (AdminSession) TableName() string {
	return "admin_sessions"
}

// Expired reports whether the session is past its expiry at now.
func (s *AdminSession) Expired(now time.Time) bool {
	return !AsUTC(s.ExpiresAt).After(now)
}
