package store

import (
	"context"
	"errors"
	"time"

	"github.com/contribux/tokend/internal/tokens/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable. We can change having the sub-repos as methods later but we do it
// now so we can have more control and actively stop people from accidently
// doing transactions within transactions.
type Store interface {
	Users() Users
	Sessions() Sessions
	RefreshTokens() RefreshTokens
	SigningKeys() SigningKeys

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// Use it for multi-step operations that must be atomic (e.g., refresh rotation).
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	// This is the recommended way to handle transactions as it automatically
	// handles commit/rollback logic.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources (optional for sqlite).
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	// LockUser sets locked_at and bumps updated_at. Locked users cannot
	// rotate refresh tokens.
	LockUser(ctx context.Context, userID string) error

	// UnlockUser clears locked_at and bumps updated_at.
	UnlockUser(ctx context.Context, userID string) error

	// DeleteUser cascades to sessions and refresh_tokens (per schema).
	DeleteUser(ctx context.Context, userID string) error
}

type Sessions interface {
	// GetSessionByID returns a session by id.
	GetSessionByID(ctx context.Context, id string) (domain.Session, error)

	// CreateSession inserts a new session (id is ULID).
	CreateSession(ctx context.Context, s domain.Session) error

	// TouchSession bumps last_active_at on successful rotation.
	TouchSession(ctx context.Context, id string, at time.Time) error

	// DeleteSession removes a single session.
	DeleteSession(ctx context.Context, id string) error

	// DeleteAllUserSessions removes every session a user owns. Used when a
	// bulk revocation also terminates sessions.
	DeleteAllUserSessions(ctx context.Context, userID string) error

	// DeleteExpiredSessions removes sessions past expires_at (housekeeping).
	// Returns the number of rows removed.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type RefreshTokens interface {
	// CreateRefreshToken stores a new refresh token record.
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByID returns the token record regardless of state.
	GetRefreshTokenByID(ctx context.Context, id string) (domain.RefreshToken, error)

	// GetActiveRefreshTokenByHash returns the token by its fingerprint only
	// when it is unrevoked and unexpired as of now.
	GetActiveRefreshTokenByHash(ctx context.Context, hash string, now time.Time) (domain.RefreshToken, error)

	// GetAnyRefreshTokenByHash returns the token by its fingerprint in any
	// state. Used to classify why a presented token is not active.
	GetAnyRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// MarkRefreshTokenRotated atomically consumes a token during rotation:
	// it sets revoked_at=now and replaced_by=successorID, but only if the
	// token is still unrevoked. Returns true if this caller won the update,
	// false if a concurrent rotation got there first.
	MarkRefreshTokenRotated(ctx context.Context, id, successorID string, now time.Time) (bool, error)

	// RevokeRefreshToken sets revoked_at without a successor. Idempotent:
	// revoking an already revoked token is not an error.
	RevokeRefreshToken(ctx context.Context, id string, now time.Time) error

	// RevokeAllUserRefreshTokens bulk-revokes every active token a user owns
	// (reuse containment, password reset, account compromise). Returns the
	// number of tokens newly revoked.
	RevokeAllUserRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error)

	// DeleteExpiredRefreshTokens removes rows past expires_at, regardless of
	// revocation state. Unexpired revoked rows are kept for reuse detection.
	// Returns the number of rows removed.
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

type SigningKeys interface {
	// CreateSigningKey stores a new signing key with encrypted private key material.
	CreateSigningKey(ctx context.Context, key domain.SigningKey) error

	// GetSigningKeyByKid fetches a signing key by its key identifier.
	GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error)

	// ListActiveSigningKeys returns all non-retired, non-expired signing keys
	// ordered by creation date (newest first).
	ListActiveSigningKeys(ctx context.Context) ([]domain.SigningKey, error)

	// ListAllSigningKeys returns all signing keys (including retired and expired)
	// ordered by creation date (newest first). Used for verification during grace period.
	ListAllSigningKeys(ctx context.Context) ([]domain.SigningKey, error)

	// RetireSigningKey marks a key as retired (sets retired_at timestamp).
	// Retired keys can still be used for verification but not for signing.
	RetireSigningKey(ctx context.Context, kid string) error

	// DeleteExpiredSigningKeys removes all keys that have passed their expires_at timestamp.
	// This is housekeeping to prevent unbounded growth of the signing_keys table.
	DeleteExpiredSigningKeys(ctx context.Context) error
}
