package service

import "errors"

var (
	// ErrInvalidRefresh is returned when the presented refresh token does not
	// match any record, or when the surrounding user/session state makes it
	// unsafe to honour. Callers must not expose anything more specific.
	ErrInvalidRefresh = errors.New("invalid_refresh_token")

	// ErrRefreshExpired is returned when the token exists but has passed its
	// expiry. Expiry is checked before any revocation classification.
	ErrRefreshExpired = errors.New("refresh_token_expired")

	// ErrRefreshRevoked is returned when the token was revoked without a
	// successor (logout, admin action).
	ErrRefreshRevoked = errors.New("refresh_token_revoked")

	// ErrTokenReuse is returned when a rotated token is presented again.
	// By the time the caller sees this, every token the user holds has
	// already been revoked.
	ErrTokenReuse = errors.New("token_reuse_detected")

	// ErrInvalidGrant covers malformed requests (empty token, bad input).
	ErrInvalidGrant = errors.New("invalid_grant")
)
