package domain

import "time"

// Session is the authentication session a refresh token chain belongs to.
// The session ID rides along in the access token SID claim and survives
// rotation; revoking the session kills every token minted under it.
type Session struct {
	ID           string
	UserID       string
	AuthMethod   string // "oauth", "webauthn"
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

// IsExpired returns true once the session has passed its expiry.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
