package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/contribux/tokend/internal/tokens/domain"
	"github.com/contribux/tokend/internal/tokens/store"
	"github.com/contribux/tokend/internal/tokens/store/drivers/sqlite"
	"github.com/contribux/tokend/pkg/cryptox"
	"github.com/contribux/tokend/pkg/idx"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a file-backed database so concurrent connections all see
// the same data (":memory:" gives each pooled connection its own database).
func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "tokend.db")
	s, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func seedUserAndSession(t *testing.T, s *sqlite.Store) (userID, sessionID string) {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC()

	userID = idx.New().String()
	require.NoError(t, s.Users().CreateUser(ctx, domain.User{
		ID:        userID,
		Email:     userID + "@example.com",
		Username:  "user-" + userID,
		Provider:  "github",
		CreatedAt: now,
		UpdatedAt: now,
	}))

	sessionID = idx.New().String()
	require.NoError(t, s.Sessions().CreateSession(ctx, domain.Session{
		ID:           sessionID,
		UserID:       userID,
		AuthMethod:   "oauth",
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(24 * time.Hour),
	}))
	return userID, sessionID
}

func newToken(userID, sessionID string, expiresAt time.Time) domain.RefreshToken {
	return domain.RefreshToken{
		ID:         idx.New().String(),
		UserID:     userID,
		SessionID:  sessionID,
		TokenHash:  cryptox.FingerprintToken(cryptox.MustGenerateToken(cryptox.TokenSize256)),
		AuthMethod: "oauth",
		ExpiresAt:  expiresAt,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestRefreshTokenLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID, sessionID := seedUserAndSession(t, s)
	now := time.Now().UTC()

	tok := newToken(userID, sessionID, now.Add(time.Hour))
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, tok))

	t.Run("active lookup finds unrevoked unexpired token", func(t *testing.T) {
		got, err := s.RefreshTokens().GetActiveRefreshTokenByHash(ctx, tok.TokenHash, now)
		require.NoError(t, err)
		require.Equal(t, tok.ID, got.ID)
		require.Nil(t, got.RevokedAt)
		require.Nil(t, got.ReplacedBy)
	})

	t.Run("active lookup misses unknown hash", func(t *testing.T) {
		_, err := s.RefreshTokens().GetActiveRefreshTokenByHash(ctx, "no-such-hash", now)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("rotation consumes the token exactly once", func(t *testing.T) {
		successor := newToken(userID, sessionID, now.Add(time.Hour))
		require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, successor))

		won, err := s.RefreshTokens().MarkRefreshTokenRotated(ctx, tok.ID, successor.ID, now)
		require.NoError(t, err)
		require.True(t, won)

		// Second attempt loses: the row is already revoked.
		won, err = s.RefreshTokens().MarkRefreshTokenRotated(ctx, tok.ID, successor.ID, now)
		require.NoError(t, err)
		require.False(t, won)

		// No longer visible as active, but still fetchable for classification.
		_, err = s.RefreshTokens().GetActiveRefreshTokenByHash(ctx, tok.TokenHash, now)
		require.ErrorIs(t, err, store.ErrNotFound)

		got, err := s.RefreshTokens().GetAnyRefreshTokenByHash(ctx, tok.TokenHash)
		require.NoError(t, err)
		require.NotNil(t, got.RevokedAt)
		require.NotNil(t, got.ReplacedBy)
		require.Equal(t, successor.ID, *got.ReplacedBy)
		require.True(t, got.IsRotated())
	})
}

func TestActiveLookupExcludesExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID, sessionID := seedUserAndSession(t, s)
	now := time.Now().UTC()

	expired := newToken(userID, sessionID, now.Add(-time.Minute))
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, expired))

	_, err := s.RefreshTokens().GetActiveRefreshTokenByHash(ctx, expired.TokenHash, now)
	require.ErrorIs(t, err, store.ErrNotFound)

	// The row itself still exists.
	got, err := s.RefreshTokens().GetAnyRefreshTokenByHash(ctx, expired.TokenHash)
	require.NoError(t, err)
	require.True(t, got.IsExpired(now))
}

func TestRevokeRefreshTokenIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID, sessionID := seedUserAndSession(t, s)
	now := time.Now().UTC()

	tok := newToken(userID, sessionID, now.Add(time.Hour))
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, tok))

	require.NoError(t, s.RefreshTokens().RevokeRefreshToken(ctx, tok.ID, now))
	first, err := s.RefreshTokens().GetRefreshTokenByID(ctx, tok.ID)
	require.NoError(t, err)
	require.NotNil(t, first.RevokedAt)
	require.Nil(t, first.ReplacedBy, "administrative revocation has no successor")

	// Revoking again neither errors nor moves the revocation timestamp.
	require.NoError(t, s.RefreshTokens().RevokeRefreshToken(ctx, tok.ID, now.Add(time.Minute)))
	second, err := s.RefreshTokens().GetRefreshTokenByID(ctx, tok.ID)
	require.NoError(t, err)
	require.Equal(t, first.RevokedAt.Unix(), second.RevokedAt.Unix())
}

func TestRevokeAllUserRefreshTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID, sessionID := seedUserAndSession(t, s)
	otherUser, otherSession := seedUserAndSession(t, s)
	now := time.Now().UTC()

	for range 3 {
		require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx,
			newToken(userID, sessionID, now.Add(time.Hour))))
	}
	otherTok := newToken(otherUser, otherSession, now.Add(time.Hour))
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, otherTok))

	n, err := s.RefreshTokens().RevokeAllUserRefreshTokens(ctx, userID, now)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	// Re-running revokes nothing further.
	n, err = s.RefreshTokens().RevokeAllUserRefreshTokens(ctx, userID, now)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	// The other user's token is untouched.
	got, err := s.RefreshTokens().GetActiveRefreshTokenByHash(ctx, otherTok.TokenHash, now)
	require.NoError(t, err)
	require.Nil(t, got.RevokedAt)
}

func TestDeleteExpiredRefreshTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID, sessionID := seedUserAndSession(t, s)
	now := time.Now().UTC()

	expired := newToken(userID, sessionID, now.Add(-time.Hour))
	expiredRevoked := newToken(userID, sessionID, now.Add(-time.Minute))
	liveRevoked := newToken(userID, sessionID, now.Add(time.Hour))
	live := newToken(userID, sessionID, now.Add(time.Hour))

	for _, tok := range []domain.RefreshToken{expired, expiredRevoked, liveRevoked, live} {
		require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, tok))
	}
	require.NoError(t, s.RefreshTokens().RevokeRefreshToken(ctx, expiredRevoked.ID, now))
	require.NoError(t, s.RefreshTokens().RevokeRefreshToken(ctx, liveRevoked.ID, now))

	n, err := s.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 2, n, "only expired rows are removed")

	// Unexpired rows survive, revoked or not. Revoked rows are needed for
	// reuse detection until they expire.
	_, err = s.RefreshTokens().GetAnyRefreshTokenByHash(ctx, liveRevoked.TokenHash)
	require.NoError(t, err)
	_, err = s.RefreshTokens().GetAnyRefreshTokenByHash(ctx, live.TokenHash)
	require.NoError(t, err)
	_, err = s.RefreshTokens().GetAnyRefreshTokenByHash(ctx, expired.TokenHash)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID, sessionID := seedUserAndSession(t, s)
	now := time.Now().UTC()

	tok := newToken(userID, sessionID, now.Add(time.Hour))

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().CreateRefreshToken(ctx, tok); err != nil {
			return err
		}
		return context.Canceled
	})
	require.Error(t, err)

	_, err = s.RefreshTokens().GetAnyRefreshTokenByHash(ctx, tok.TokenHash)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionsRepo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID, sessionID := seedUserAndSession(t, s)
	now := time.Now().UTC()

	t.Run("touch bumps last_active_at", func(t *testing.T) {
		at := now.Add(time.Minute)
		require.NoError(t, s.Sessions().TouchSession(ctx, sessionID, at))

		got, err := s.Sessions().GetSessionByID(ctx, sessionID)
		require.NoError(t, err)
		require.Equal(t, at.Unix(), got.LastActiveAt.Unix())
	})

	t.Run("delete all user sessions", func(t *testing.T) {
		require.NoError(t, s.Sessions().DeleteAllUserSessions(ctx, userID))
		_, err := s.Sessions().GetSessionByID(ctx, sessionID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("delete expired sessions returns count", func(t *testing.T) {
		stale := domain.Session{
			ID:           idx.New().String(),
			UserID:       userID,
			AuthMethod:   "oauth",
			CreatedAt:    now.Add(-48 * time.Hour),
			LastActiveAt: now.Add(-25 * time.Hour),
			ExpiresAt:    now.Add(-time.Hour),
		}
		require.NoError(t, s.Sessions().CreateSession(ctx, stale))

		n, err := s.Sessions().DeleteExpiredSessions(ctx, now)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
	})
}

func TestUsersRepoLocking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID, _ := seedUserAndSession(t, s)

	require.NoError(t, s.Users().LockUser(ctx, userID))
	u, err := s.Users().GetUserByID(ctx, userID)
	require.NoError(t, err)
	require.True(t, u.IsLocked())

	require.NoError(t, s.Users().UnlockUser(ctx, userID))
	u, err = s.Users().GetUserByID(ctx, userID)
	require.NoError(t, err)
	require.False(t, u.IsLocked())
}

func TestSigningKeysRepo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	active := domain.SigningKey{
		ID:                  idx.New().String(),
		Kid:                 "tokend-active",
		Algorithm:           "EdDSA",
		PrivateKeyEncrypted: []byte("encrypted-pem"),
		CreatedAt:           now,
		ExpiresAt:           now.Add(90 * 24 * time.Hour),
	}
	require.NoError(t, s.SigningKeys().CreateSigningKey(ctx, active))

	keys, err := s.SigningKeys().ListActiveSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.True(t, keys[0].IsActive(now))

	require.NoError(t, s.SigningKeys().RetireSigningKey(ctx, active.Kid))

	keys, err = s.SigningKeys().ListActiveSigningKeys(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)

	// Retired keys remain listed for verification grace.
	all, err := s.SigningKeys().ListAllSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].RetiredAt)
}
