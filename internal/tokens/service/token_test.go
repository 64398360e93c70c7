package service_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/contribux/tokend/internal/tokens/domain"
	"github.com/contribux/tokend/internal/tokens/service"
	"github.com/contribux/tokend/internal/tokens/store/drivers/sqlite"
	"github.com/contribux/tokend/pkg/cryptox"
	"github.com/contribux/tokend/pkg/idx"
	"github.com/contribux/tokend/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer = "contribux"
)

var testAudience = []string{"contribux-api"}

// captureSink records audit events synchronously for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []service.AuditEvent
}

func (c *captureSink) Emit(_ context.Context, e service.AuditEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureSink) byType(eventType string) []service.AuditEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []service.AuditEvent
	for _, e := range c.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store  *sqlite.Store
	tokens *service.TokenService
	revoke *service.RevocationService
	audit  *captureSink
}

// newFixture wires a file-backed store (":memory:" would give each pooled
// connection its own database) with an ephemeral EdDSA key manager.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "tokend.db")
	s, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
		Issuer:    testIssuer,
		Audience:  testAudience,
		NumKeys:   2,
	})
	require.NoError(t, err)

	sink := &captureSink{}
	return &fixture{
		store: s,
		tokens: &service.TokenService{
			KeyManager: km,
			Store:      s,
			Audit:      sink,
			Issuer:     testIssuer,
			Audience:   testAudience,
			AccessTTL:  jwtx.DefaultAccessTokenTTL,
			RefreshTTL: jwtx.DefaultRefreshTokenTTL,
		},
		revoke: &service.RevocationService{Store: s, Audit: sink},
		audit:  sink,
	}
}

func (f *fixture) seedUserAndSession(t *testing.T) (userID, sessionID string) {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC()

	userID = idx.New().String()
	require.NoError(t, f.store.Users().CreateUser(ctx, domain.User{
		ID:        userID,
		Email:     userID + "@example.com",
		Username:  "user-" + userID,
		Provider:  "github",
		CreatedAt: now,
		UpdatedAt: now,
	}))

	sessionID = idx.New().String()
	require.NoError(t, f.store.Sessions().CreateSession(ctx, domain.Session{
		ID:           sessionID,
		UserID:       userID,
		AuthMethod:   "oauth",
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(30 * 24 * time.Hour),
	}))
	return userID, sessionID
}

func TestIssueInitialPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID, sessionID := f.seedUserAndSession(t)

	pair, err := f.tokens.IssueInitialPair(ctx, userID, sessionID)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, "Bearer", pair.TokenType)
	require.Equal(t, jwtx.DefaultAccessTokenTTL, pair.ExpiresIn)

	t.Run("access token carries identity claims", func(t *testing.T) {
		claims, err := f.tokens.Verify(pair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, userID, claims.Subject)
		require.Equal(t, sessionID, claims.SID)
		require.Equal(t, testIssuer, claims.Issuer)
		require.Contains(t, claims.Audience, "contribux-api")
		require.Equal(t, "oauth", claims.AuthMethod)
		require.NotEmpty(t, claims.ID)
		require.WithinDuration(t,
			claims.IssuedAt.Time.Add(jwtx.DefaultAccessTokenTTL),
			claims.ExpiresAt.Time, time.Second)
	})

	t.Run("stores only the fingerprint", func(t *testing.T) {
		fp := cryptox.FingerprintToken(pair.RefreshToken)
		rt, err := f.store.RefreshTokens().GetAnyRefreshTokenByHash(context.Background(), fp)
		require.NoError(t, err)
		require.NotEqual(t, pair.RefreshToken, rt.TokenHash)
		require.WithinDuration(t,
			rt.CreatedAt.Add(jwtx.DefaultRefreshTokenTTL), rt.ExpiresAt, time.Second)
	})

	t.Run("refuses unknown user or session", func(t *testing.T) {
		_, err := f.tokens.IssueInitialPair(ctx, idx.New().String(), sessionID)
		require.ErrorIs(t, err, service.ErrInvalidGrant)

		_, err = f.tokens.IssueInitialPair(ctx, userID, idx.New().String())
		require.ErrorIs(t, err, service.ErrInvalidGrant)
	})

	t.Run("refuses locked user", func(t *testing.T) {
		require.NoError(t, f.store.Users().LockUser(ctx, userID))
		_, err := f.tokens.IssueInitialPair(ctx, userID, sessionID)
		require.ErrorIs(t, err, service.ErrInvalidGrant)
		require.NoError(t, f.store.Users().UnlockUser(ctx, userID))
	})
}

func TestRotateHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID, sessionID := f.seedUserAndSession(t)

	first, err := f.tokens.IssueInitialPair(ctx, userID, sessionID)
	require.NoError(t, err)

	second, err := f.tokens.Rotate(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// Session ID survives rotation.
	claims, err := f.tokens.Verify(second.AccessToken)
	require.NoError(t, err)
	require.Equal(t, sessionID, claims.SID)

	// The consumed token points at its successor.
	fp := cryptox.FingerprintToken(first.RefreshToken)
	old, err := f.store.RefreshTokens().GetAnyRefreshTokenByHash(ctx, fp)
	require.NoError(t, err)
	require.True(t, old.IsRotated())

	newFP := cryptox.FingerprintToken(second.RefreshToken)
	successor, err := f.store.RefreshTokens().GetAnyRefreshTokenByHash(ctx, newFP)
	require.NoError(t, err)
	require.Equal(t, successor.ID, *old.ReplacedBy)

	// The new token rotates fine in turn.
	third, err := f.tokens.Rotate(ctx, second.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, third.AccessToken)
}

func TestRotateReuseTriggersContainment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID, sessionID := f.seedUserAndSession(t)

	first, err := f.tokens.IssueInitialPair(ctx, userID, sessionID)
	require.NoError(t, err)

	second, err := f.tokens.Rotate(ctx, first.RefreshToken)
	require.NoError(t, err)

	// Replaying the consumed token is reuse.
	_, err = f.tokens.Rotate(ctx, first.RefreshToken)
	require.ErrorIs(t, err, service.ErrTokenReuse)

	// Containment killed the legitimate successor too.
	_, err = f.tokens.Rotate(ctx, second.RefreshToken)
	require.ErrorIs(t, err, service.ErrRefreshRevoked)

	events := f.audit.byType(service.AuditTokenReuse)
	require.Len(t, events, 1)
	require.Equal(t, userID, events[0].UserID)
}

func TestRotateFailureClassification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID, sessionID := f.seedUserAndSession(t)
	now := time.Now().UTC()

	t.Run("unknown token", func(t *testing.T) {
		_, err := f.tokens.Rotate(ctx, cryptox.MustGenerateToken(cryptox.TokenSize256))
		require.ErrorIs(t, err, service.ErrInvalidRefresh)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := f.tokens.Rotate(ctx, "")
		require.ErrorIs(t, err, service.ErrInvalidGrant)
	})

	t.Run("expired token", func(t *testing.T) {
		opaque := cryptox.MustGenerateToken(cryptox.TokenSize256)
		require.NoError(t, f.store.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
			ID:         idx.New().String(),
			UserID:     userID,
			SessionID:  sessionID,
			TokenHash:  cryptox.FingerprintToken(opaque),
			AuthMethod: "oauth",
			ExpiresAt:  now.Add(-time.Minute),
			CreatedAt:  now.Add(-time.Hour),
		}))

		_, err := f.tokens.Rotate(ctx, opaque)
		require.ErrorIs(t, err, service.ErrRefreshExpired)
	})

	t.Run("expired beats reused", func(t *testing.T) {
		// A token that was rotated and has since expired classifies as
		// expired, and must not trip containment.
		opaque := cryptox.MustGenerateToken(cryptox.TokenSize256)
		id := idx.New().String()
		require.NoError(t, f.store.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
			ID:         id,
			UserID:     userID,
			SessionID:  sessionID,
			TokenHash:  cryptox.FingerprintToken(opaque),
			AuthMethod: "oauth",
			ExpiresAt:  now.Add(-time.Minute),
			CreatedAt:  now.Add(-time.Hour),
		}))
		successor := idx.New().String()
		require.NoError(t, f.store.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
			ID:         successor,
			UserID:     userID,
			SessionID:  sessionID,
			TokenHash:  cryptox.FingerprintToken(cryptox.MustGenerateToken(cryptox.TokenSize256)),
			AuthMethod: "oauth",
			ExpiresAt:  now.Add(time.Hour),
			CreatedAt:  now,
		}))
		won, err := f.store.RefreshTokens().MarkRefreshTokenRotated(ctx, id, successor, now.Add(-30*time.Minute))
		require.NoError(t, err)
		require.True(t, won)

		_, err = f.tokens.Rotate(ctx, opaque)
		require.ErrorIs(t, err, service.ErrRefreshExpired)
		require.Empty(t, f.audit.byType(service.AuditTokenReuse))
	})

	t.Run("administratively revoked token", func(t *testing.T) {
		pair, err := f.tokens.IssueInitialPair(ctx, userID, sessionID)
		require.NoError(t, err)
		require.NoError(t, f.revoke.Revoke(ctx, pair.RefreshToken))

		_, err = f.tokens.Rotate(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, service.ErrRefreshRevoked)
	})

	t.Run("locked user fails closed", func(t *testing.T) {
		pair, err := f.tokens.IssueInitialPair(ctx, userID, sessionID)
		require.NoError(t, err)

		require.NoError(t, f.store.Users().LockUser(ctx, userID))
		defer func() { require.NoError(t, f.store.Users().UnlockUser(ctx, userID)) }()

		_, err = f.tokens.Rotate(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, service.ErrInvalidRefresh)
	})

	t.Run("expired session fails closed", func(t *testing.T) {
		staleSession := idx.New().String()
		require.NoError(t, f.store.Sessions().CreateSession(ctx, domain.Session{
			ID:           staleSession,
			UserID:       userID,
			AuthMethod:   "oauth",
			CreatedAt:    now.Add(-48 * time.Hour),
			LastActiveAt: now.Add(-25 * time.Hour),
			ExpiresAt:    now.Add(time.Minute),
		}))
		pair, err := f.tokens.IssueInitialPair(ctx, userID, staleSession)
		require.NoError(t, err)

		// Expire the session underneath the token.
		_, err = f.store.Sessions().DeleteExpiredSessions(ctx, now.Add(time.Hour))
		require.NoError(t, err)

		_, err = f.tokens.Rotate(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, service.ErrInvalidRefresh)
	})
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID, sessionID := f.seedUserAndSession(t)

	pair, err := f.tokens.IssueInitialPair(ctx, userID, sessionID)
	require.NoError(t, err)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.tokens.Rotate(ctx, pair.RefreshToken); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, winners, "exactly one rotation may succeed")
}

func TestRevokeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID, sessionID := f.seedUserAndSession(t)

	pair, err := f.tokens.IssueInitialPair(ctx, userID, sessionID)
	require.NoError(t, err)

	require.NoError(t, f.revoke.Revoke(ctx, pair.RefreshToken))
	require.NoError(t, f.revoke.Revoke(ctx, pair.RefreshToken), "second revoke is a no-op")
	require.NoError(t, f.revoke.Revoke(ctx, cryptox.MustGenerateToken(cryptox.TokenSize256)),
		"unknown token is not an error")
	require.NoError(t, f.revoke.Revoke(ctx, ""))
}

func TestRevokeAllForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID, sessionID := f.seedUserAndSession(t)
	otherUser, otherSession := f.seedUserAndSession(t)

	for range 3 {
		_, err := f.tokens.IssueInitialPair(ctx, userID, sessionID)
		require.NoError(t, err)
	}
	otherPair, err := f.tokens.IssueInitialPair(ctx, otherUser, otherSession)
	require.NoError(t, err)

	n, err := f.revoke.RevokeAllForUser(ctx, userID, true)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	// Sessions terminated: issuing against the old session now fails.
	_, err = f.tokens.IssueInitialPair(ctx, userID, sessionID)
	require.ErrorIs(t, err, service.ErrInvalidGrant)

	// The other user is untouched.
	_, err = f.tokens.Rotate(ctx, otherPair.RefreshToken)
	require.NoError(t, err)
}

func TestHousekeepingCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID, sessionID := f.seedUserAndSession(t)
	now := time.Now().UTC()

	// One expired, one live-but-revoked, one live token.
	require.NoError(t, f.store.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
		ID:         idx.New().String(),
		UserID:     userID,
		SessionID:  sessionID,
		TokenHash:  cryptox.FingerprintToken(cryptox.MustGenerateToken(cryptox.TokenSize256)),
		AuthMethod: "oauth",
		ExpiresAt:  now.Add(-time.Hour),
		CreatedAt:  now.Add(-8 * 24 * time.Hour),
	}))
	revoked, err := f.tokens.IssueInitialPair(ctx, userID, sessionID)
	require.NoError(t, err)
	require.NoError(t, f.revoke.Revoke(ctx, revoked.RefreshToken))
	live, err := f.tokens.IssueInitialPair(ctx, userID, sessionID)
	require.NoError(t, err)

	hk := service.NewHousekeepingService(f.store, discardLogger(), time.Hour)
	res, err := hk.Cleanup(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RefreshTokens, "only the expired row is deleted")

	// Revoked-but-unexpired rows survive so replaying them still classifies
	// as revoked rather than unknown.
	_, err = f.tokens.Rotate(ctx, revoked.RefreshToken)
	require.ErrorIs(t, err, service.ErrRefreshRevoked)

	_, err = f.tokens.Rotate(ctx, live.RefreshToken)
	require.NoError(t, err)
}

func TestAuditDispatcherDropsOnOverflow(t *testing.T) {
	block := make(chan struct{})
	slow := &blockingSink{release: block}

	d := service.NewAuditDispatcher(slow, 1)
	defer d.Close()

	// First event occupies the worker, second fills the buffer, the rest drop.
	for range 10 {
		d.Emit(context.Background(), service.AuditEvent{EventType: service.AuditTokenIssued})
	}
	close(block)

	require.Positive(t, d.Dropped())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type blockingSink struct {
	release <-chan struct{}
}

func (b *blockingSink) Emit(_ context.Context, _ service.AuditEvent) {
	<-b.release
}
