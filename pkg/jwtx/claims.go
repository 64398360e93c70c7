package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token TTL constants for the token lifecycle.
const (
	// DefaultAccessTokenTTL is the default lifetime for access tokens.
	// Expiry is the sole revocation mechanism for access tokens, so this
	// stays short.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the default lifetime for refresh tokens.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// maxClaimFieldLen caps the identity fields we embed in claims. Upstream is
// expected to enforce its own bounds, but a signed token must never balloon
// past header-size limits because a profile field did.
const maxClaimFieldLen = 512

// Claims are the access-token claims. Keep changes additive to preserve
// compatibility with downstream verifying middleware.
type Claims struct {
	jwt.RegisteredClaims

	// Session ID the token is bound to. Downstream session-validating
	// middleware treats the token as suspect once this session is gone.
	SID string `json:"sid,omitempty"`

	// Email of the authenticated user.
	Email string `json:"email,omitempty"`

	// Username is the provider username of the authenticated user.
	Username string `json:"username,omitempty"`

	// AuthMethod records how the session was established
	// (e.g. "oauth", "webauthn").
	AuthMethod string `json:"auth_method,omitempty"`
}

// NewAccessClaims builds minimally-correct claims.
func NewAccessClaims(
	subject, sid string,
	email, username, authMethod string,
	ttl time.Duration,
	issuer string,
	audience []string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   clampField(subject),
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		SID:        sid,
		Email:      clampField(email),
		Username:   clampField(username),
		AuthMethod: authMethod,
	}
}

func clampField(s string) string {
	if len(s) > maxClaimFieldLen {
		return s[:maxClaimFieldLen]
	}
	return s
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't used
// before it is valid (nbf).
func (c *Claims) ValidateExpiry() error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}
	return nil
}
