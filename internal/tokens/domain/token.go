package domain

import "time"

// TokenPair represents what the token endpoint returns the short-lived access
// token (JWT) and the opaque refresh token.
type TokenPair struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type,omitempty"` // typically "Bearer"
	ExpiresIn    time.Duration `json:"expires_in"`           // seconds until expiry
}

// RefreshToken models the stored refresh token record in the DB. The opaque
// secret handed to the client is never stored, only its fingerprint.
type RefreshToken struct {
	ID         string
	UserID     string
	SessionID  string // Session ID (SID) that persists across token refreshes
	TokenHash  string // deterministic fingerprint (base64url SHA-256)
	AuthMethod string // how the session was established ("oauth", "webauthn")
	ExpiresAt  time.Time
	RevokedAt  *time.Time // nil while the token is still spendable
	ReplacedBy *string    // successor token ID set on rotation, nil otherwise
	CreatedAt  time.Time
}

// IsExpired returns true once the token has passed its expiry.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsRotated reports whether this token was consumed by a rotation. A token
// that is revoked without a successor was revoked administratively.
func (t *RefreshToken) IsRotated() bool {
	return t.RevokedAt != nil && t.ReplacedBy != nil
}

// IsRevoked reports whether this token has been revoked for any reason.
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}
