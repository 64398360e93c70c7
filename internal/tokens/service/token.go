package service

import (
	"context"
	"errors"
	"time"

	"github.com/contribux/tokend/internal/tokens/domain"
	"github.com/contribux/tokend/internal/tokens/store"
	"github.com/contribux/tokend/pkg/cryptox"
	"github.com/contribux/tokend/pkg/idx"
	"github.com/contribux/tokend/pkg/jwtx"
	"github.com/contribux/tokend/pkg/slogx"
)

// errRotationLost signals inside a rotation transaction that a concurrent
// caller consumed the token first. Never escapes Rotate.
var errRotationLost = errors.New("rotation lost race")

type TokenService struct {
	KeyManager *jwtx.KeyManager
	Store      store.Store
	Audit      AuditSink
	Issuer     string
	Audience   []string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (s *TokenService) audit(ctx context.Context, e AuditEvent) {
	if s.Audit == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.Audit.Emit(ctx, e)
}

// IssueInitialPair mints the first access/refresh pair for an authenticated
// session. The caller (the auth layer) has already established who the user
// is; this only checks that the user and session are in a state where tokens
// may be handed out.
func (s *TokenService) IssueInitialPair(
	ctx context.Context,
	userID, sessionID string,
) (*domain.TokenPair, error) {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)

	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	if u.IsLocked() {
		l.Info("token issue refused for locked user", "user_id", userID)
		return nil, ErrInvalidGrant
	}

	sess, err := s.Store.Sessions().GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	if sess.UserID != u.ID || sess.IsExpired(now) {
		return nil, ErrInvalidGrant
	}

	pair, record, err := s.mintPair(u, sess, now)
	if err != nil {
		return nil, err
	}

	if err := s.Store.RefreshTokens().CreateRefreshToken(ctx, record); err != nil {
		return nil, err
	}

	s.audit(ctx, AuditEvent{
		EventType: AuditTokenIssued,
		UserID:    u.ID,
		SessionID: sess.ID,
		TokenID:   record.ID,
		Success:   true,
	})

	return pair, nil
}

// Rotate exchanges a refresh token for a fresh pair. The presented token is
// single use: it is consumed atomically, and presenting it again triggers
// reuse containment (every token the user holds is revoked).
//
// The caller maps every error here to the same generic response. Which of
// the failure modes occurred is recorded in the audit trail only.
func (s *TokenService) Rotate(
	ctx context.Context,
	refreshOpaque string,
) (*domain.TokenPair, error) {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)

	if refreshOpaque == "" {
		return nil, ErrInvalidGrant
	}
	fp := cryptox.FingerprintToken(refreshOpaque)

	rt, err := s.Store.RefreshTokens().GetActiveRefreshTokenByHash(ctx, fp, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.classifyInactive(ctx, fp, now)
		}
		return nil, err
	}

	// The row is live; now make sure the surrounding state still permits
	// rotation. Any doubt fails closed as a generic invalid token.
	u, err := s.Store.Users().GetUserByID(ctx, rt.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}
	if u.IsLocked() {
		s.audit(ctx, AuditEvent{
			EventType: AuditRotateRefused,
			UserID:    rt.UserID,
			SessionID: rt.SessionID,
			TokenID:   rt.ID,
			Error:     "user locked",
		})
		return nil, ErrInvalidRefresh
	}

	sess, err := s.Store.Sessions().GetSessionByID(ctx, rt.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}
	if sess.IsExpired(now) {
		s.audit(ctx, AuditEvent{
			EventType: AuditRotateRefused,
			UserID:    rt.UserID,
			SessionID: rt.SessionID,
			TokenID:   rt.ID,
			Error:     "session expired",
		})
		return nil, ErrInvalidRefresh
	}

	pair, successor, err := s.mintPair(u, sess, now)
	if err != nil {
		return nil, err
	}

	// Atomically: insert the successor and consume the old token. The
	// conditional update is the single-use guard; if another rotation beat
	// us to it the whole transaction rolls back, successor included.
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().CreateRefreshToken(ctx, successor); err != nil {
			return err
		}
		won, err := tx.RefreshTokens().MarkRefreshTokenRotated(ctx, rt.ID, successor.ID, now)
		if err != nil {
			return err
		}
		if !won {
			return errRotationLost
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errRotationLost) {
			// Losing the race means the token was spent between our read
			// and our update. Someone is replaying it: contain.
			l.Warn("refresh token consumed concurrently, treating as reuse",
				"user_id", rt.UserID, "token_id", rt.ID)
			return nil, s.containReuse(ctx, rt, now, "concurrent rotation")
		}
		return nil, err
	}

	if err := s.Store.Sessions().TouchSession(ctx, sess.ID, now); err != nil {
		l.Warn("failed to touch session after rotation", "err", err, "session_id", sess.ID)
	}

	s.audit(ctx, AuditEvent{
		EventType: AuditTokenRotated,
		UserID:    u.ID,
		SessionID: sess.ID,
		TokenID:   successor.ID,
		Success:   true,
		Metadata:  map[string]string{"predecessor": rt.ID},
	})

	return pair, nil
}

// Verify checks an access token signature and claims and returns the claims.
func (s *TokenService) Verify(token string) (jwtx.Claims, error) {
	return s.KeyManager.Verifier.Verify(token)
}

// classifyInactive explains why a fingerprint did not match an active row.
// Checks run in a fixed order: unknown, expired, reused, revoked.
func (s *TokenService) classifyInactive(ctx context.Context, fp string, now time.Time) error {
	rt, err := s.Store.RefreshTokens().GetAnyRefreshTokenByHash(ctx, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidRefresh
		}
		return err
	}

	if rt.IsExpired(now) {
		return ErrRefreshExpired
	}
	if rt.IsRotated() {
		return s.containReuse(ctx, rt, now, "rotated token presented again")
	}
	if rt.IsRevoked() {
		return ErrRefreshRevoked
	}

	// Unreachable if the active lookup and this one agree, but fail closed.
	return ErrInvalidRefresh
}

// containReuse is the response to a replayed refresh token: revoke every
// token the user holds so the attacker's stolen chain dies with ours.
func (s *TokenService) containReuse(
	ctx context.Context,
	rt domain.RefreshToken,
	now time.Time,
	reason string,
) error {
	l := slogx.FromContext(ctx)

	n, err := s.Store.RefreshTokens().RevokeAllUserRefreshTokens(ctx, rt.UserID, now)
	if err != nil {
		l.Error("reuse containment failed", "err", err, "user_id", rt.UserID)
		// The reuse still happened; report it even if containment broke.
	}

	l.Warn("refresh token reuse detected",
		"user_id", rt.UserID,
		"session_id", rt.SessionID,
		"token_id", rt.ID,
		"revoked", n,
	)
	s.audit(ctx, AuditEvent{
		EventType: AuditTokenReuse,
		UserID:    rt.UserID,
		SessionID: rt.SessionID,
		TokenID:   rt.ID,
		Error:     reason,
	})

	return ErrTokenReuse
}

// mintPair builds the access token and the successor refresh token record.
// Nothing is persisted here.
func (s *TokenService) mintPair(
	u domain.User,
	sess domain.Session,
	now time.Time,
) (*domain.TokenPair, domain.RefreshToken, error) {
	claims := jwtx.NewAccessClaims(
		u.ID, sess.ID, u.Email, u.Username, sess.AuthMethod,
		s.AccessTTL, s.Issuer, s.Audience, now,
	)
	accessToken, err := s.KeyManager.GetSigner().Sign(claims)
	if err != nil {
		return nil, domain.RefreshToken{}, err
	}

	refreshOpaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, domain.RefreshToken{}, err
	}

	record := domain.RefreshToken{
		ID:         idx.New().String(),
		UserID:     u.ID,
		SessionID:  sess.ID,
		TokenHash:  cryptox.FingerprintToken(refreshOpaque),
		AuthMethod: sess.AuthMethod,
		ExpiresAt:  now.Add(s.RefreshTTL),
		CreatedAt:  now,
	}

	pair := &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshOpaque,
		TokenType:    "Bearer",
		ExpiresIn:    s.AccessTTL,
	}
	return pair, record, nil
}
