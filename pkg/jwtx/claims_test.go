package jwtx

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewAccessClaimsPopulatesRegisteredClaims(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	c := NewAccessClaims(
		"user-1", "sid-1", "a@b.c", "alice", "oauth",
		15*time.Minute, "contribux", []string{"contribux-api"}, now,
	)

	require.Equal(t, "contribux", c.Issuer)
	require.Equal(t, "user-1", c.Subject)
	require.Equal(t, now, c.IssuedAt.Time)
	require.Equal(t, now.Add(15*time.Minute), c.ExpiresAt.Time)
	require.NotEmpty(t, c.ID)
}

func TestNewAccessClaimsBoundsIdentityFields(t *testing.T) {
	huge := strings.Repeat("x", 10_000)
	c := NewAccessClaims(
		huge, "sid-1", huge, huge, "oauth",
		time.Minute, "contribux", nil, time.Now(),
	)

	require.Len(t, c.Subject, maxClaimFieldLen)
	require.Len(t, c.Email, maxClaimFieldLen)
	require.Len(t, c.Username, maxClaimFieldLen)
}

func TestValidateExpiry(t *testing.T) {
	past := NewAccessClaims("u", "s", "", "", "", time.Minute, "iss", nil,
		time.Now().Add(-time.Hour))
	require.ErrorIs(t, past.ValidateExpiry(), ErrExpired)

	future := NewAccessClaims("u", "s", "", "", "", time.Minute, "iss", nil,
		time.Now().Add(time.Hour))
	require.ErrorIs(t, future.ValidateExpiry(), ErrNotYetValid)

	current := NewAccessClaims("u", "s", "", "", "", time.Minute, "iss", nil,
		time.Now())
	require.NoError(t, current.ValidateExpiry())
}

func TestValidateAudience(t *testing.T) {
	c := NewAccessClaims("u", "s", "", "", "", time.Minute, "iss",
		[]string{"contribux-api"}, time.Now())

	require.NoError(t, c.ValidateAudience(nil))
	require.NoError(t, c.ValidateAudience([]string{"contribux-api", "other"}))
	require.ErrorIs(t, c.ValidateAudience([]string{"other"}), ErrAudience)
}

func TestNewJTIIsUnique(t *testing.T) {
	require.NotEqual(t, NewJTI(), NewJTI())
}
